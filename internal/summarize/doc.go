// Package summarize defines the Summarizer capability and the backfill pass
// that fills in missing synopses and embeddings for stored content.
//
// The concrete Summarizer is chosen once at process start (see
// internal/platform/gemini for the hosted model); Extractive is an offline
// implementation used for local runs and tests.
package summarize
