// Package reminder evaluates open order windows on each trigger tick and
// dispatches deduplicated, quota-bounded reminders to roster participants
// who have not yet placed a qualifying order.
package reminder
