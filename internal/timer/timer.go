// Package timer calibrates a microsecond clock, standing in for the
// original ACPI PM-timer + invariant-TSC pipeline (spec.md 4.10). In a
// hosted Go process there is no PM timer to read, so the reference clock is
// a monotonic syscall read (golang.org/x/sys/unix.ClockGettime, the
// domain dependency SPEC_FULL.md 1.2 names for this purpose) falling back to
// time.Now()'s monotonic reading where the syscall is unavailable.
package timer

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// source abstracts the reference clock so tests can substitute a fake one
// and so the unix.ClockGettime call has exactly one call site.
type source interface {
	nowNanos() (int64, error)
}

type monotonicSource struct{}

func (monotonicSource) nowNanos() (int64, error) {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC_RAW, &ts); err != nil {
		return 0, err
	}
	return ts.Nano(), nil
}

type fallbackSource struct{ start time.Time }

func (f fallbackSource) nowNanos() (int64, error) {
	return time.Since(f.start).Nanoseconds(), nil
}

// Clock is the calibrated microsecond clock. The zero value is not usable;
// construct with Init.
type Clock struct {
	src      source
	fallback bool
}

// Init locates a usable monotonic clock, mirroring init_delay's FADT lookup
// and init_timer's invariant-TSC precondition: if no monotonic source is
// available at all (which cannot happen on any real host Go runs on, but is
// modeled faithfully as a hardware-absence error per section 7), Init
// returns an error instead of panicking, leaving the fatal decision to the
// caller exactly as bootinfo.Load does.
func Init() (*Clock, error) {
	c := &Clock{src: monotonicSource{}}
	if _, err := c.src.nowNanos(); err != nil {
		c.src = fallbackSource{start: time.Now()}
		c.fallback = true
		if _, err := c.src.nowNanos(); err != nil {
			return nil, fmt.Errorf("timer: no monotonic clock source available: %w", err)
		}
	}
	return c, nil
}

// UsingFallback reports whether Init had to fall back to time.Now() because
// CLOCK_MONOTONIC_RAW was unavailable (e.g. non-Linux).
func (c *Clock) UsingFallback() bool { return c.fallback }

// MicroTime returns microseconds since the clock was calibrated, the
// Go analogue of microtime() = rdtsc() / tsc_micro_freq.
func (c *Clock) MicroTime() uint64 {
	ns, err := c.src.nowNanos()
	if err != nil {
		// the source was proven usable in Init; a failure here is the
		// hardware vanishing mid-run, which the spec treats the same
		// way double-free/corruption is treated elsewhere: abort.
		panic(fmt.Sprintf("timer: clock source failed: %v", err))
	}
	return uint64(ns) / 1000
}

// MicroDelay busy-waits for approximately d microseconds, the Go analogue
// of microdelay(us): convert to ticks, wait through full wraps plus the
// residual. There is no PM-timer overflow to wrap through on a monotonic
// clock, so this is a plain spin against MicroTime.
func (c *Clock) MicroDelay(d uint64) {
	deadline := c.MicroTime() + d
	for c.MicroTime() < deadline {
		// busy-wait, mirroring the "pausing between reads" of the
		// original PM-timer poll loop.
	}
}
