// Package clock is the time source for everything that checks expiry.
// Production code uses Real; tests use a Fake and advance it by hand.
package clock

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Clock is the part of clockwork.Clock the expiry checks need.
type Clock interface {
	Now() time.Time
}

// Real reads the system clock.
var Real Clock = clockwork.NewRealClock()

// Fake is a manually driven clock. It only moves when Advance is called.
type Fake = clockwork.FakeClock

// NewFake returns a Fake stopped at t.
func NewFake(t time.Time) *Fake {
	return clockwork.NewFakeClockAt(t)
}

// OrReal returns c, or Real when c is nil.
func OrReal(c Clock) Clock {
	if c == nil {
		return Real
	}
	return c
}
