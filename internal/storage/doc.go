// Package storage persists recipients, subjects, templates, schedules and
// the delivery log.
//
// The delivery log is the only table mutated by inbound replies. Those
// mutations go through TransitionOutstanding, a single conditional update
// that only touches rows still in the outstanding state.
package storage
