package transport

import "time"

// ReconnectPolicy decides whether a dropped realtime connection gets
// another attempt and how long to wait first. It is pure state: no
// timers, no network, so the transition rules are testable on their
// own.
//
// Delays grow linearly (base * attempt number). A clean close never
// reconnects; after MaxAttempts unclean closes the channel stays down
// and the fallback poller carries the poll alone.
type ReconnectPolicy struct {
	BaseDelay   time.Duration
	MaxAttempts int

	attempts int
}

func NewReconnectPolicy(base time.Duration, maxAttempts int) *ReconnectPolicy {
	return &ReconnectPolicy{BaseDelay: base, MaxAttempts: maxAttempts}
}

// Next is consulted after a close. It returns the delay before the
// next attempt and whether one is allowed at all.
func (p *ReconnectPolicy) Next(wasClean bool) (time.Duration, bool) {
	if wasClean {
		return 0, false
	}
	if p.attempts >= p.MaxAttempts {
		return 0, false
	}
	p.attempts++
	return p.BaseDelay * time.Duration(p.attempts), true
}

// Reset clears the attempt counter. Called on every successful open.
func (p *ReconnectPolicy) Reset() {
	p.attempts = 0
}

func (p *ReconnectPolicy) Attempts() int {
	return p.attempts
}

// Exhausted reports that the bound was hit and the channel has given
// up reconnecting.
func (p *ReconnectPolicy) Exhausted() bool {
	return p.attempts >= p.MaxAttempts
}
