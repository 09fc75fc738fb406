// Package digest is the scheduling and dispatch engine.
//
// A Dispatcher poll claims every due recipient, advances its
// next_delivery_at and records a pending delivery in a single transaction,
// then submits one DeliveryTask per delivery to the shared task runner. A
// DeliveryTask selects the newest content for the recipient's categories,
// renders it with the Renderer and hands it to the mailer. Deliveries are
// at least once: crashes and lost tasks are recovered from the delivery log
// by Dispatcher.Recover, and duplicate sends are possible but rare.
package digest
