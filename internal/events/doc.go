// Package events decouples the things that request background work (the
// operator API, the cron scheduler, the CLI) from the task runner that
// performs it.
//
// A TaskRequestEvent names a job type and carries a JSON payload. Emitters
// publish events to every registered EventHandler; the task package provides
// the handler that turns events into queued tasks.
package events
