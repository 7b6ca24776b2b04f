// Package executor is the boundary between the pure decision layer and
// the outside world. It runs effects against the capability adapters and
// returns the events the outcomes produce; the caller appends those to
// the log before continuing.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/basket/orchard/internal/effect"
	"github.com/basket/orchard/internal/event"
	"github.com/basket/orchard/internal/notify"
	"github.com/basket/orchard/internal/otel"
	"github.com/basket/orchard/internal/proc"
	"github.com/basket/orchard/internal/state"
	"github.com/basket/orchard/internal/timer"
)

// Config holds the executor's collaborators. Procs and Notifier are
// capability interfaces; tests inject fakes.
type Config struct {
	Procs    proc.Controller
	Notifier notify.Notifier
	Timers   *timer.Service
	// Sources maps QueueKey(ns, queue) to the list capability of an
	// external queue.
	Sources map[string]proc.Source
	Logger  *slog.Logger
	Metrics *otel.Metrics
	Now     func() time.Time
}

// Executor executes effects one at a time. It never retries real-world
// side effects on its own: retry is a handler-layer decision.
type Executor struct {
	procs    proc.Controller
	notifier notify.Notifier
	timers   *timer.Service
	sources  map[string]proc.Source
	logger   *slog.Logger
	metrics  *otel.Metrics
	now      func() time.Time
}

func New(cfg Config) *Executor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Executor{
		procs:    cfg.Procs,
		notifier: notifier,
		timers:   cfg.Timers,
		sources:  cfg.Sources,
		logger:   logger,
		metrics:  cfg.Metrics,
		now:      now,
	}
}

// Execute runs one effect and returns the resulting events. Recoverable
// adapter errors never escape: spawn and command failures come back as
// failure events, notification and listing failures are logged and
// swallowed.
func (e *Executor) Execute(ctx context.Context, eff effect.Effect) []event.Event {
	if e.metrics != nil {
		e.metrics.EffectsExecuted.Add(ctx, 1)
	}
	switch eff.Kind {
	case effect.KindSpawnAgent:
		return e.spawnAgent(ctx, eff)
	case effect.KindRunCommand:
		return e.runCommand(ctx, eff)
	case effect.KindSetTimer:
		e.timers.Set(eff.Key, eff.Duration)
		return []event.Event{event.TimerSet(eff.Key, e.now().Add(eff.Duration))}
	case effect.KindCancelTimer:
		if e.timers.Cancel(eff.Key) {
			return []event.Event{event.TimerCanceled(eff.Key)}
		}
		return nil
	case effect.KindNotify:
		e.notify(ctx, eff.Title, eff.Message)
		return nil
	case effect.KindListQueue:
		return e.listQueue(ctx, eff.Namespace, eff.Queue)
	case effect.KindEmit:
		if eff.Event == nil {
			return nil
		}
		return []event.Event{*eff.Event}
	default:
		e.logger.Warn("unknown effect kind", "kind", eff.Kind)
		return nil
	}
}

func (e *Executor) spawnAgent(ctx context.Context, eff effect.Effect) []event.Event {
	session := proc.SessionName(eff.Pipeline, eff.Agent)
	if err := e.procs.SpawnSession(ctx, session, eff.Command); err != nil {
		e.logger.Error("agent spawn failed",
			"pipeline", eff.Pipeline,
			"agent", eff.Agent,
			"error", err,
		)
		return []event.Event{event.AgentFailed(eff.Pipeline, eff.Agent, fmt.Sprintf("spawn failed: %v", err))}
	}
	e.logger.Info("agent spawned", "pipeline", eff.Pipeline, "agent", eff.Agent, "session", session)
	return []event.Event{event.AgentStarted(eff.Pipeline, eff.Agent)}
}

func (e *Executor) runCommand(ctx context.Context, eff effect.Effect) []event.Event {
	if err := e.procs.Run(ctx, eff.Command); err != nil {
		return []event.Event{event.StepFailed(eff.Pipeline, eff.Step, err.Error())}
	}
	return []event.Event{event.StepCompleted(eff.Pipeline, eff.Step)}
}

// notify is fire-and-forget: a failed delivery must never fail the
// transition that requested it.
func (e *Executor) notify(ctx context.Context, title, message string) {
	if err := e.notifier.Send(ctx, title, message); err != nil {
		if e.metrics != nil {
			e.metrics.NotifyFailures.Add(ctx, 1)
		}
		e.logger.Warn("notification delivery failed",
			"notifier", e.notifier.Name(),
			"title", title,
			"error", err,
		)
	}
}

func (e *Executor) listQueue(ctx context.Context, ns, queue string) []event.Event {
	src, ok := e.sources[state.QueueKey(ns, queue)]
	if !ok {
		e.logger.Warn("no source for external queue", "namespace", ns, "queue", queue)
		return nil
	}
	items, err := src.List(ctx)
	if err != nil {
		e.logger.Warn("external queue listing failed", "namespace", ns, "queue", queue, "error", err)
		return nil
	}
	evs := make([]event.Event, 0, len(items))
	for _, it := range items {
		// Known items are deduplicated by apply.
		evs = append(evs, event.ItemPushed(ns, queue, it.ID, it.Payload))
	}
	return evs
}
