// Package mail delivers rendered digests. SMTPMailer talks to a relay and
// classifies failures into transient ones, which the delivery task retries,
// and permanent ones such as rejected credentials or addresses, which it
// does not. LogMailer only logs and is meant for local development.
package mail
