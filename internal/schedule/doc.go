// Package schedule owns the schedule lifecycle and the delay-propagation
// engine: one shift cascades atomically to every sub-window and pending
// order deadline, with an append-only audit trail.
package schedule
