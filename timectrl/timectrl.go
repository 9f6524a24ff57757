// Package timectrl drives the control loop tick and supplies the clock the
// ARP cache and ping bookkeeping read from.
package timectrl

import (
	"context"
	"sync"
	"time"
)

// SimClock is the time source consumed by the network controller. Tests and
// the simulator use a TimeController; a deployed loop may use SystemClock.
type SimClock interface {
	// Now returns the current time as seen by the control loop.
	Now() time.Time
}

// SystemClock reads wall-clock time.
type SystemClock struct{}

// Now implements SimClock.
func (SystemClock) Now() time.Time { return time.Now() }

// Mode describes how the TimeController advances time.
type Mode int

const (
	// RealTime steps once per Tick of wall-clock time.
	RealTime Mode = iota
	// Accelerated steps as quickly as the listeners return, still by Tick.
	Accelerated
)

func (m Mode) String() string {
	switch m {
	case RealTime:
		return "realtime"
	case Accelerated:
		return "accelerated"
	default:
		return "unknown"
	}
}

// TimeController owns loop time and notifies registered listeners once per
// tick. It implements SimClock.
type TimeController struct {
	mu        sync.RWMutex
	StartTime time.Time
	Tick      time.Duration
	Mode      Mode

	currentTime time.Time
	ticks       uint64

	listeners []func(time.Time)
}

// NewTimeController constructs a controller positioned at start.
func NewTimeController(start time.Time, tick time.Duration, mode Mode) *TimeController {
	return &TimeController{
		StartTime:   start,
		Tick:        tick,
		Mode:        mode,
		currentTime: start,
	}
}

// Now returns the current loop time. Implements SimClock.
func (tc *TimeController) Now() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// SetTime moves the clock to t without notifying listeners.
func (tc *TimeController) SetTime(t time.Time) {
	tc.mu.Lock()
	tc.currentTime = t
	tc.mu.Unlock()
}

// Advance moves the clock forward by d without notifying listeners.
func (tc *TimeController) Advance(d time.Duration) {
	tc.mu.Lock()
	tc.currentTime = tc.currentTime.Add(d)
	tc.mu.Unlock()
}

// Ticks returns how many ticks have been delivered.
func (tc *TimeController) Ticks() uint64 {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.ticks
}

// AddListener registers a callback invoked on every tick. Listeners run on
// the goroutine that steps the controller, in registration order.
func (tc *TimeController) AddListener(fn func(time.Time)) {
	tc.mu.Lock()
	tc.listeners = append(tc.listeners, fn)
	tc.mu.Unlock()
}

// Step advances the clock by one Tick and runs every listener.
func (tc *TimeController) Step() time.Time {
	tc.mu.Lock()
	tc.currentTime = tc.currentTime.Add(tc.Tick)
	tc.ticks++
	now := tc.currentTime
	listeners := tc.listeners
	tc.mu.Unlock()

	for _, fn := range listeners {
		fn(now)
	}
	return now
}

// Start steps the controller in a separate goroutine until duration of loop
// time has elapsed (zero means no limit) or ctx is cancelled. The returned
// channel is closed when the loop exits.
func (tc *TimeController) Start(ctx context.Context, duration time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		tc.mu.Lock()
		tc.currentTime = tc.StartTime
		tc.mu.Unlock()

		var elapsed time.Duration
		var tickC <-chan time.Time
		if tc.Mode == RealTime {
			ticker := time.NewTicker(tc.Tick)
			defer ticker.Stop()
			tickC = ticker.C
		}

		for {
			if duration > 0 && elapsed >= duration {
				return
			}
			if tickC != nil {
				select {
				case <-ctx.Done():
					return
				case <-tickC:
				}
			} else if ctx.Err() != nil {
				return
			}

			tc.Step()
			elapsed += tc.Tick
		}
	}()
	return done
}
