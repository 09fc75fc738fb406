package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Auth     AuthConfig     `mapstructure:"auth" validate:"required"`
	LLM      LLMConfig      `mapstructure:"llm" validate:"required"`
	Arxiv    ArxivConfig    `mapstructure:"arxiv" validate:"required"`
	Mail     MailConfig     `mapstructure:"mail" validate:"required"`
	Digest   DigestConfig   `mapstructure:"digest" validate:"required"`
	Schedule ScheduleConfig `mapstructure:"schedule" validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig selects the relational backend and its connection.
type DatabaseConfig struct {
	// Driver is "postgres" for deployments or "sqlite" for a single-node setup.
	Driver       string `mapstructure:"driver" validate:"required,oneof=postgres sqlite"`
	URL          string `mapstructure:"url" validate:"required"`
	MaxOpenConns int    `mapstructure:"max_open_conns" validate:"gte=1"`
}

// AuthConfig holds secrets for unsubscribe links and the operator surface.
type AuthConfig struct {
	UnsubscribeSecret   string        `mapstructure:"unsubscribe_secret" validate:"required,min=32"`
	UnsubscribeTokenTTL time.Duration `mapstructure:"unsubscribe_token_ttl" validate:"required,gt=0"`
	// OperatorTokenHash is the bcrypt hash of the operator bearer token.
	// Leaving it empty disables the admin routes.
	OperatorTokenHash string `mapstructure:"operator_token_hash"`
}

// LLMConfig selects and configures the summarizer.
type LLMConfig struct {
	Provider            string        `mapstructure:"provider" validate:"required,oneof=gemini extractive"`
	GeminiAPIKey        string        `mapstructure:"gemini_api_key" validate:"required_if=Provider gemini"`
	ModelName           string        `mapstructure:"model_name" validate:"required"`
	EmbeddingModel      string        `mapstructure:"embedding_model" validate:"required"`
	EmbeddingDimensions int           `mapstructure:"embedding_dimensions" validate:"gt=0"`
	MaxSynopsisWords    int           `mapstructure:"max_synopsis_words" validate:"gt=0"`
	Timeout             time.Duration `mapstructure:"timeout" validate:"gt=0"`
	PromptTemplatePath  string        `mapstructure:"prompt_template_path"`
	MaxRetries          int           `mapstructure:"max_retries" validate:"gte=0,lte=10"`
	BaseDelay           time.Duration `mapstructure:"base_delay" validate:"gte=0"`
}

// ArxivConfig configures the upstream feed client and fetch pacing.
type ArxivConfig struct {
	APIURL         string        `mapstructure:"api_url" validate:"required,url"`
	UserAgent      string        `mapstructure:"user_agent" validate:"required"`
	Categories     []string      `mapstructure:"categories" validate:"required,min=1,dive,required"`
	PageSize       int           `mapstructure:"page_size" validate:"gt=0,lte=2000"`
	MaxPages       int           `mapstructure:"max_pages" validate:"gt=0"`
	MinInterval    time.Duration `mapstructure:"min_interval" validate:"gte=0"`
	MaxRetries     int           `mapstructure:"max_retries" validate:"gt=0,lte=10"`
	BackoffBase    time.Duration `mapstructure:"backoff_base" validate:"gte=0"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
	Concurrency    int           `mapstructure:"concurrency" validate:"gt=0"`
}

// MailConfig configures digest rendering and transport.
type MailConfig struct {
	Transport   string        `mapstructure:"transport" validate:"required,oneof=smtp log"`
	SMTPHost    string        `mapstructure:"smtp_host" validate:"required_if=Transport smtp"`
	SMTPPort    int           `mapstructure:"smtp_port" validate:"gt=0,lt=65536"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	FromAddress string        `mapstructure:"from_address" validate:"required,email"`
	FromName    string        `mapstructure:"from_name"`
	BaseURL     string        `mapstructure:"base_url" validate:"required,url"`
	SendTimeout time.Duration `mapstructure:"send_timeout" validate:"gt=0"`
}

// DigestConfig tunes the dispatcher and its delivery workers.
type DigestConfig struct {
	PollInterval     time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	ClaimBatchSize   int           `mapstructure:"claim_batch_size" validate:"gt=0"`
	ItemsPerDigest   int           `mapstructure:"items_per_digest" validate:"gt=0,lte=50"`
	WorkerCount      int           `mapstructure:"worker_count" validate:"gt=0"`
	QueueSize        int           `mapstructure:"queue_size" validate:"gt=0"`
	MaxAttempts      int           `mapstructure:"max_attempts" validate:"gt=0"`
	RetryBaseDelay   time.Duration `mapstructure:"retry_base_delay" validate:"gte=0"`
	StaleDeliveryAge time.Duration `mapstructure:"stale_delivery_age" validate:"gt=0"`
	RecoveryInterval time.Duration `mapstructure:"recovery_interval" validate:"gt=0"`
}

// ScheduleConfig holds cron expressions for the periodic background passes.
type ScheduleConfig struct {
	FetchCron         string `mapstructure:"fetch_cron" validate:"required"`
	BackfillCron      string `mapstructure:"backfill_cron" validate:"required"`
	BackfillBatchSize int    `mapstructure:"backfill_batch_size" validate:"gt=0"`
	BackfillMaxTries  int    `mapstructure:"backfill_max_tries" validate:"gt=0"`
	// BackfillConcurrency bounds parallel summarizer calls within one pass.
	BackfillConcurrency int `mapstructure:"backfill_concurrency" validate:"gt=0"`
}
