// Package config handles configuration loading, parsing, and validation
// from a config file and DIGEST_-prefixed environment variables. It provides
// type-safe access to the settings needed by the fetcher, summarizer,
// dispatcher and HTTP surface while keeping configuration details separate
// from business logic.
package config
