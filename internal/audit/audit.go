// Package audit defines the commit-reveal hook called around alert
// dispatch. Implementations may anchor alert hashes externally; failures
// are logged by callers and never gate alerting.
package audit

import "context"

// Trail records a commit-reveal pair for one alert: Commit publishes the
// payload hash before dispatch, Reveal publishes the payload after.
type Trail interface {
	// Commit records the hash of an alert payload before dispatch.
	Commit(ctx context.Context, hash []byte) error

	// Reveal records the full payload after dispatch.
	Reveal(ctx context.Context, payload []byte) error
}

// NopTrail discards all records.
type NopTrail struct{}

var _ Trail = NopTrail{}

func (NopTrail) Commit(context.Context, []byte) error { return nil }
func (NopTrail) Reveal(context.Context, []byte) error { return nil }
