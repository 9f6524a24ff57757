// Package runtime drives a core.Network from a timectrl.TimeController and
// serializes out-of-band commands against the control loop.
package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/netctrl/core"
	"github.com/signalsfoundry/netctrl/internal/logging"
	"github.com/signalsfoundry/netctrl/internal/observability"
	"github.com/signalsfoundry/netctrl/timectrl"
)

// TickObserver receives the wall-clock duration of every tick.
// observability.NetCollector implements it.
type TickObserver interface {
	ObserveTick(d time.Duration)
}

// Option customises a Runner.
type Option func(*Runner)

// WithLogger sets the runner logger.
func WithLogger(l logging.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.log = l
		}
	}
}

// WithTickObserver records tick durations.
func WithTickObserver(o TickObserver) Option {
	return func(r *Runner) { r.observer = o }
}

// WithBeforeTick runs fn under the runner lock before each MainProcess, e.g.
// to let a simulated peer on the far side of the wire answer.
func WithBeforeTick(fn func()) Option {
	return func(r *Runner) { r.before = fn }
}

// Runner owns the control loop. Every tick and every Do callback holds the
// same mutex, so controllers only ever see one goroutine at a time.
type Runner struct {
	// Network is the set of controllers being ticked.
	Network *core.Network
	// Clock supplies tick times and drives Start.
	Clock *timectrl.TimeController

	mu       sync.Mutex
	log      logging.Logger
	observer TickObserver
	before   func()
	tracer   trace.Tracer
	ticks    uint64
	lastTick time.Time
}

// NewRunner binds network to clock.
func NewRunner(network *core.Network, clock *timectrl.TimeController, opts ...Option) (*Runner, error) {
	if network == nil {
		return nil, fmt.Errorf("network is nil")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is nil")
	}
	r := &Runner{
		Network: network,
		Clock:   clock,
		log:     logging.Noop(),
		tracer:  observability.Tracer("runtime"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Tick runs one MainProcess pass over every controller at loop time now.
func (r *Runner) Tick(ctx context.Context, now time.Time) {
	ctx, span := r.tracer.Start(ctx, "netctrl.tick", trace.WithAttributes(
		attribute.String("loop.time", now.UTC().Format(time.RFC3339Nano)),
	))
	defer span.End()

	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	if r.before != nil {
		r.before()
	}
	r.Network.MainProcess()
	elapsed := time.Since(start)

	r.ticks++
	r.lastTick = now
	span.SetAttributes(attribute.Int64("tick", int64(r.ticks)))
	if r.observer != nil {
		r.observer.ObserveTick(elapsed)
	}
	if r.ticks%1000 == 0 {
		r.log.Debug(ctx, "control loop running",
			logging.Int("ticks", int(r.ticks)),
			logging.Duration("last_tick", elapsed),
		)
	}
}

// Start registers the runner on the clock and steps it until ctx is done or
// duration of loop time has elapsed (zero for no limit). The returned channel
// closes when the loop exits.
func (r *Runner) Start(ctx context.Context, duration time.Duration) <-chan struct{} {
	r.Clock.AddListener(func(now time.Time) { r.Tick(ctx, now) })
	r.log.Info(ctx, "control loop started",
		logging.Duration("tick", r.Clock.Tick),
		logging.String("mode", r.Clock.Mode.String()),
		logging.Int("controllers", len(r.Network.Controllers())),
	)
	return r.Clock.Start(ctx, duration)
}

// Do runs fn between ticks. It fails fast when ctx is already done.
func (r *Runner) Do(ctx context.Context, fn func(*core.Network) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(r.Network)
}

// Ticks returns the number of ticks executed.
func (r *Runner) Ticks() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ticks
}

// LastTick returns the loop time of the most recent tick.
func (r *Runner) LastTick() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastTick
}
