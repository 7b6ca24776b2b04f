// Package runtime ties the event-sourced core together: it owns the
// materialized state, serializes every handler-then-apply sequence, hands
// effects to the executor off-lock, and feeds effect outcomes back into
// the log. Triggers (applied events and timer firings) may be in flight
// concurrently; only the state-mutation step is serialized.
package runtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/basket/orchard/internal/bus"
	"github.com/basket/orchard/internal/defs"
	"github.com/basket/orchard/internal/effect"
	"github.com/basket/orchard/internal/event"
	"github.com/basket/orchard/internal/executor"
	"github.com/basket/orchard/internal/handler"
	"github.com/basket/orchard/internal/notify"
	"github.com/basket/orchard/internal/otel"
	"github.com/basket/orchard/internal/proc"
	"github.com/basket/orchard/internal/shared"
	"github.com/basket/orchard/internal/state"
	"github.com/basket/orchard/internal/timer"
)

// Log is the durable event log boundary. Total ordering and durability
// are the log's problem; the runtime only appends and replays.
type Log interface {
	Append(ctx context.Context, ev event.Event) error
	Replay(ctx context.Context, fn func(event.Event) error) error
}

// Config holds the runtime's collaborators.
type Config struct {
	Log      Log
	Defs     *defs.Registry
	Procs    proc.Controller
	Notifier notify.Notifier
	// Sources maps state.QueueKey(ns, queue) to external queue listers.
	Sources map[string]proc.Source
	Bus     *bus.Bus
	Logger  *slog.Logger
	Metrics *otel.Metrics
	// Now and NewID default to the real clock and random UUIDs.
	Now   func() time.Time
	NewID func() string
}

// Runtime is the orchestration core.
type Runtime struct {
	mu sync.Mutex
	st *state.State

	log     Log
	defs    *defs.Registry
	exec    *executor.Executor
	timers  *timer.Service
	bus     *bus.Bus
	logger  *slog.Logger
	metrics *otel.Metrics
	now     func() time.Time
	newID   func() string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// stopMu makes the closed check and the WaitGroup Add one atomic
	// step, so a trigger firing during Stop cannot Add after Wait.
	stopMu sync.Mutex
	closed bool
}

// New wires a runtime. The timer service and executor are constructed
// here so firings loop straight back into the trigger path.
func New(cfg Config) *Runtime {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	r := &Runtime{
		st:      state.New(),
		log:     cfg.Log,
		defs:    cfg.Defs,
		bus:     cfg.Bus,
		logger:  logger,
		metrics: cfg.Metrics,
		now:     now,
		newID:   cfg.NewID,
	}
	r.timers = timer.New(r.onTimerFired, logger)
	r.exec = executor.New(executor.Config{
		Procs:    cfg.Procs,
		Notifier: cfg.Notifier,
		Timers:   r.timers,
		Sources:  cfg.Sources,
		Logger:   logger,
		Metrics:  cfg.Metrics,
		Now:      now,
	})
	// Inert until Start; Restore and tests can run without a Start.
	r.ctx, r.cancel = context.WithCancel(context.Background())
	return r
}

// Start binds the runtime's background work to ctx.
func (r *Runtime) Start(ctx context.Context) {
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.logger.Info("runtime started")
}

// Stop cancels in-flight work, silences timers, and waits for all trigger
// goroutines to drain.
func (r *Runtime) Stop() {
	r.stopMu.Lock()
	r.closed = true
	r.stopMu.Unlock()
	r.timers.Stop()
	r.cancel()
	r.wg.Wait()
	r.logger.Info("runtime stopped")
}

// Restore rebuilds materialized state by replaying the log, then re-arms
// every live timer recorded in state. Replay applies events only: no
// handlers run and no effects execute, so restoring is free of side
// effects and deterministic.
func (r *Runtime) Restore(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	err := r.log.Replay(ctx, func(ev event.Event) error {
		r.st.Apply(ev)
		count++
		return nil
	})
	if err != nil {
		return err
	}

	for key, t := range r.st.Timers {
		d := t.FireAt.Sub(r.now())
		if d < 0 {
			d = 0
		}
		r.timers.Set(key, d)
	}
	r.logger.Info("state restored", "events", count, "timers", len(r.st.Timers))
	return nil
}

// Inspect runs fn with the state under the runtime lock. fn must not
// retain the state past its return.
func (r *Runtime) Inspect(fn func(st *state.State)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.st)
}

func (r *Runtime) deps() handler.Deps {
	return handler.Deps{Defs: r.defs, Now: r.now, NewID: r.newID}
}

// onTimerFired is the timer service's delivery callback. The firing is
// queued like any other trigger and processed on its own goroutine.
func (r *Runtime) onTimerFired(key string) {
	if r.metrics != nil {
		r.metrics.TimerFirings.Add(r.ctx, 1)
	}
	r.spawn(trigger{key: key})
}

// trigger is one unit of work for the handler layer: either an applied
// event or a timer firing.
type trigger struct {
	ev  *event.Event
	key string
}

func (r *Runtime) spawn(t trigger) {
	if !r.enqueue() {
		return
	}
	go r.process(t)
}

// enqueue registers one unit of background work unless the runtime is
// stopping. Callers must pair a true return with a wg.Done.
func (r *Runtime) enqueue() bool {
	r.stopMu.Lock()
	defer r.stopMu.Unlock()
	if r.closed {
		return false
	}
	r.wg.Add(1)
	return true
}

// process runs one trigger: decide under the lock, append and apply the
// decision's events, then execute effects with the lock released.
func (r *Runtime) process(t trigger) {
	defer r.wg.Done()
	ctx := shared.WithTraceID(r.ctx, shared.NewTraceID())
	if r.metrics != nil {
		r.metrics.TriggersProcessed.Add(ctx, 1)
	}

	var d handler.Decision
	var routed []event.Event

	r.mu.Lock()
	if t.key != "" {
		routed = append(routed, r.commitLocked(ctx, []event.Event{event.TimerFired(t.key)})...)
		d = r.routeTimer(ctx, t.key)
	} else {
		d = r.decide(*t.ev)
	}
	routed = append(routed, r.commitLocked(ctx, d.Events)...)
	r.mu.Unlock()

	r.runEffects(ctx, d.Effects)
	r.fanout(routed)
}

// commitLocked appends each event to the durable log, folds it into
// state, and publishes it on the bus. It returns the subset of events
// that warrant a follow-up decision. Callers hold the state lock.
func (r *Runtime) commitLocked(ctx context.Context, evs []event.Event) []event.Event {
	var routed []event.Event
	for _, ev := range evs {
		if err := r.log.Append(ctx, ev); err != nil {
			// Keep the runtime live; the projection stays ahead of the
			// log until the next restart.
			r.logger.Error("event append failed", "kind", ev.Kind, "error", err)
		}
		r.st.Apply(ev)
		r.countEvent(ctx, ev)
		if r.bus != nil {
			r.bus.Publish(string(ev.Kind), ev)
		}
		if needsDecision(ev.Kind) {
			routed = append(routed, ev)
		}
	}
	return routed
}

func (r *Runtime) countEvent(ctx context.Context, ev event.Event) {
	if r.metrics == nil {
		return
	}
	switch ev.Kind {
	case event.KindItemDispatched:
		r.metrics.ItemsDispatched.Add(ctx, 1)
	case event.KindItemDead:
		r.metrics.ItemsDeadLettered.Add(ctx, 1)
	case event.KindTimerSet:
		r.metrics.LiveTimers.Add(ctx, 1)
	case event.KindTimerCanceled, event.KindTimerFired:
		r.metrics.LiveTimers.Add(ctx, -1)
	}
}

// runEffects executes effects in order and feeds resulting events back
// into the log. The state lock is never held while an effect is running.
func (r *Runtime) runEffects(ctx context.Context, effs []effect.Effect) {
	for _, eff := range effs {
		evs := r.exec.Execute(ctx, eff)
		if len(evs) == 0 {
			continue
		}
		r.mu.Lock()
		routed := r.commitLocked(ctx, evs)
		r.mu.Unlock()
		r.fanout(routed)
	}
}

// goRunEffects runs effects on their own goroutine so operator-facing
// submissions return without waiting on adapter latency.
func (r *Runtime) goRunEffects(effs []effect.Effect) {
	if len(effs) == 0 || !r.enqueue() {
		return
	}
	go func() {
		defer r.wg.Done()
		r.runEffects(shared.WithTraceID(r.ctx, shared.NewTraceID()), effs)
	}()
}

// fanout re-enters applied events that warrant follow-up decisions as
// fresh triggers.
func (r *Runtime) fanout(evs []event.Event) {
	for i := range evs {
		ev := evs[i]
		r.spawn(trigger{ev: &ev})
	}
}
