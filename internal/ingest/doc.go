// Package ingest pulls research papers from the upstream feed into the
// content store.
//
// A Fetcher owns the retry state machine for one category: every upstream
// call first waits on a shared rate limiter, failed calls back off
// exponentially, and an exhausted category yields an empty result instead of
// an error. A Service fans a fetch pass out over categories and stores each
// category's batch independently, so one failing category never aborts the
// others.
package ingest
