// Package task runs background work on a bounded in-memory queue.
//
// Digest deliveries, content fetches, summary backfills and dispatcher polls
// all run as tasks on one shared TaskRunner. Tasks that fail with a
// retryable error are attempted again after an exponential delay; tasks that
// implement FailureHandler are told when the runner gives up on them.
// Durability is not the runner's concern: callers that need at-least-once
// semantics persist their own state and resubmit after a restart.
package task
