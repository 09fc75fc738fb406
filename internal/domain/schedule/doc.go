// Package schedule computes when a recipient's next digest becomes due.
//
// All arithmetic happens in UTC. The time of day of the result is taken from
// the reference instant, so a recipient's delivery time follows whenever the
// schedule was last computed (registration, cadence change, or the poll that
// claimed the previous digest). There is no stored per-recipient preferred
// time; the drift is intentional and kept.
package schedule
