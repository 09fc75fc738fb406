// Package gemini implements summarize.Summarizer on Google's Gemini API.
//
// A synopsis is generated from a prompt template and clamped to the
// configured word budget, then embedded with the configured embedding model.
// Transient API failures (rate limits, 5xx, timeouts) are retried with
// jittered exponential backoff; blocked content, bad credentials and
// malformed responses are not.
package gemini
