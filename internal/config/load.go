package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, so server.port is
// read from DIGEST_SERVER_PORT.
const EnvPrefix = "DIGEST"

// defaults lists every key with its default. Viper only binds environment
// variables for keys it knows about, so every key must appear here.
var defaults = map[string]any{
	"server.port":      8080,
	"server.log_level": "info",

	"database.driver":         "postgres",
	"database.url":            "",
	"database.max_open_conns": 25,

	"auth.unsubscribe_secret":    "",
	"auth.unsubscribe_token_ttl": "8760h",
	"auth.operator_token_hash":   "",

	"llm.provider":             "gemini",
	"llm.gemini_api_key":       "",
	"llm.model_name":           "gemini-2.0-flash-lite",
	"llm.embedding_model":      "text-embedding-004",
	"llm.embedding_dimensions": 768,
	"llm.max_synopsis_words":   60,
	"llm.timeout":              "30s",
	"llm.prompt_template_path": "",
	"llm.max_retries":          2,
	"llm.base_delay":           "1s",

	"arxiv.api_url":         "https://export.arxiv.org/api/query",
	"arxiv.user_agent":      "research-digest/1.0 (mailto:digest@example.com)",
	"arxiv.categories":      []string{"cs.CL", "cs.AI", "cs.LG"},
	"arxiv.page_size":       100,
	"arxiv.max_pages":       1,
	"arxiv.min_interval":    "3s",
	"arxiv.max_retries":     3,
	"arxiv.backoff_base":    "5s",
	"arxiv.request_timeout": "60s",
	"arxiv.concurrency":     3,

	"mail.transport":    "smtp",
	"mail.smtp_host":    "",
	"mail.smtp_port":    587,
	"mail.username":     "",
	"mail.password":     "",
	"mail.from_address": "digest@example.com",
	"mail.from_name":    "Research Digest",
	"mail.base_url":     "http://localhost:8080",
	"mail.send_timeout": "30s",

	"digest.poll_interval":      "15m",
	"digest.claim_batch_size":   500,
	"digest.items_per_digest":   5,
	"digest.worker_count":       4,
	"digest.queue_size":         1000,
	"digest.max_attempts":       3,
	"digest.retry_base_delay":   "30s",
	"digest.stale_delivery_age": "30m",
	"digest.recovery_interval":  "5m",

	"schedule.fetch_cron":           "0 */3 * * *",
	"schedule.backfill_cron":        "30 * * * *",
	"schedule.backfill_batch_size":  10,
	"schedule.backfill_max_tries":   5,
	"schedule.backfill_concurrency": 2,
}

// Load configuration from environment variables and optionally a config file.
// Environment variables take precedence over values from the config file.
// The file is config.yaml in the working directory, or the path named by
// DIGEST_CONFIG_FILE.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	return LoadFile(os.Getenv(EnvPrefix + "_CONFIG_FILE"))
}

// LoadFile is Load with an explicit config file path. An empty path falls
// back to config.yaml in the working directory, which may be absent.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks cfg against its struct tags and the rules spanning groups.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	// Recovery must not requeue a delivery that is still being sent or is
	// waiting for its next retry.
	stale := cfg.Digest.StaleDeliveryAge
	if retry := MaxRetryDelay(cfg.Digest); stale <= retry {
		return fmt.Errorf("config validation failed: digest.stale_delivery_age (%s) must exceed the largest retry delay (%s)",
			stale, retry)
	}
	if stale <= cfg.Mail.SendTimeout {
		return fmt.Errorf("config validation failed: digest.stale_delivery_age (%s) must exceed mail.send_timeout (%s)",
			stale, cfg.Mail.SendTimeout)
	}
	return nil
}

// MaxRetryDelay bounds the wait between two delivery attempts:
// RetryBaseDelay doubled MaxAttempts-1 times. The result saturates instead of
// overflowing.
func MaxRetryDelay(d DigestConfig) time.Duration {
	delay := d.RetryBaseDelay
	for i := 1; i < d.MaxAttempts; i++ {
		if delay > math.MaxInt64/2 {
			return time.Duration(math.MaxInt64)
		}
		delay *= 2
	}
	return delay
}
