// Package ratelimit throttles outbound calls to the trainer backend.
// A token bucket paces requests proactively; 429 responses with a
// Retry-After header block further requests until the backend's window
// has passed.
package ratelimit

import (
	"time"
)

// State is the reactive part of the limiter, derived from responses.
type State struct {
	// BlockedUntil is when requests may resume after a 429.
	BlockedUntil time.Time

	// LastStatus and LastUpdate describe the most recent response. Wait
	// reports them while a block is active.
	LastStatus int
	LastUpdate time.Time
}

// IsBlocked returns true if requests must wait for the backend window.
func (s State) IsBlocked() bool {
	return time.Now().Before(s.BlockedUntil)
}

// TimeUntilUnblocked returns the remaining wait, or 0 when not blocked.
func (s State) TimeUntilUnblocked() time.Duration {
	d := time.Until(s.BlockedUntil)
	if d < 0 {
		return 0
	}
	return d
}
