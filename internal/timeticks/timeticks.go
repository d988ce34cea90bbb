// Package timeticks converts monotonic timestamps between processes.
//
// Each process measures time on its own monotonic clock. Ticks values are
// microseconds on such a clock; the zero value means "not set" and is never
// converted. A Converter maps remote ticks into the local domain using two
// pairs of reference points that are known to bracket the same interval on
// both sides (for a load: request start and response start).
package timeticks

import (
	"time"
)

// Ticks is a monotonic timestamp in microseconds. Zero means unset.
type Ticks int64

// IsNull reports whether t is unset.
func (t Ticks) IsNull() bool {
	return t == 0
}

// Sub returns t-u as a duration.
func (t Ticks) Sub(u Ticks) time.Duration {
	return time.Duration(t-u) * time.Microsecond
}

// Add returns t+d.
func (t Ticks) Add(d time.Duration) Ticks {
	return t + Ticks(d/time.Microsecond)
}

// Clock is a source of local ticks.
type Clock interface {
	Now() Ticks
}

// monotonic measures ticks from a process-local origin. The origin is
// offset by one tick so that Now never returns the null value.
type monotonic struct {
	origin time.Time
}

// NewClock returns a Clock backed by the runtime's monotonic clock.
func NewClock() Clock {
	return monotonic{origin: time.Now()}
}

func (m monotonic) Now() Ticks {
	return Ticks(time.Since(m.origin)/time.Microsecond) + 1
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() Ticks

// Now implements Clock.
func (f ClockFunc) Now() Ticks {
	return f()
}

// Converter maps remote ticks into the local domain.
//
// If the remote interval fits inside the local one it is centred in it
// without scaling. Otherwise it is compressed so that the remote bounds
// land exactly on the local bounds.
type Converter struct {
	localBase   Ticks
	remoteLower Ticks
	numerator   int64
	denominator int64
	offset      Ticks
}

// NewConverter builds a converter from local and remote bounds. Bounds are
// expected to be ordered (lower <= upper); inverted ranges are treated as
// empty.
func NewConverter(localLower, localUpper, remoteLower, remoteUpper Ticks) Converter {
	target := int64(localUpper - localLower)
	source := int64(remoteUpper - remoteLower)
	if target < 0 {
		target = 0
	}
	if source < 0 {
		source = 0
	}

	c := Converter{remoteLower: remoteLower}
	if source <= target {
		c.numerator, c.denominator = 1, 1
		c.localBase = localLower + Ticks((target-source)/2)
	} else {
		c.numerator, c.denominator = target, source
		c.localBase = localLower
	}
	c.offset = c.localBase - remoteLower
	return c
}

// ToLocal converts a remote timestamp. Null stays null. Times before the
// remote lower bound are shifted by the base offset only, so values far in
// the past are not distorted by scaling.
func (c Converter) ToLocal(remote Ticks) Ticks {
	if remote.IsNull() {
		return 0
	}
	delta := int64(remote - c.remoteLower)
	if delta <= 0 {
		return remote + c.offset
	}
	return c.localBase + Ticks(c.scale(delta))
}

// IsSkewAdditive reports whether conversion only shifts values.
func (c Converter) IsSkewAdditive() bool {
	return c.numerator == c.denominator
}

func (c Converter) scale(v int64) int64 {
	if c.denominator == 0 {
		return 0
	}
	return v * c.numerator / c.denominator
}
