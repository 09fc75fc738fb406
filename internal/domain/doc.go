// Package domain contains the core entities of the digest service: recipients
// and their cadence preferences, content records fetched from upstream feeds,
// and the delivery log written by the dispatcher. It is independent of any
// storage or transport mechanism.
package domain
