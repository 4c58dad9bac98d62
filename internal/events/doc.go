// Package events carries structured domain events (level, source, event,
// details) from the ground and satellite tiers to the monitoring tier.
//
// Publishing is fire-and-forget: a Forwarder enqueues into a bounded
// drop-oldest queue and a single worker delivers in FIFO order, retrying
// failed deliveries a bounded number of times with exponential backoff.
//
// Tests in this package use testify; the rest of the module's tests use the
// standard testing package only.
package events
