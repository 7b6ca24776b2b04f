package runtime

import (
	"context"

	"github.com/basket/orchard/internal/event"
	"github.com/basket/orchard/internal/handler"
	"github.com/basket/orchard/internal/shared"
	"github.com/basket/orchard/internal/timer"
)

// needsDecision reports whether an applied event re-enters the handler
// layer as a trigger. Everything else is pure bookkeeping.
func needsDecision(kind event.Kind) bool {
	switch kind {
	case event.KindPipelineCreated,
		event.KindStepCompleted, event.KindStepFailed,
		event.KindAgentStarted, event.KindAgentDone, event.KindAgentFailed,
		event.KindAgentIdle, event.KindAgentEscalated,
		event.KindWorkerStarted,
		event.KindItemPushed, event.KindItemRetried, event.KindItemResurrected,
		event.KindItemCompleted, event.KindItemFailed, event.KindItemDead:
		return true
	}
	return false
}

// decide maps an applied event to its handler family. Callers hold the
// state lock.
func (r *Runtime) decide(ev event.Event) handler.Decision {
	deps := r.deps()
	switch ev.Kind {
	case event.KindPipelineCreated:
		p, ok := r.st.Pipelines[ev.Pipeline]
		if !ok || p.Completed || p.Failed() {
			return handler.Decision{}
		}
		return handler.PipelineCreated(r.st, deps, p)

	case event.KindStepCompleted, event.KindStepFailed:
		return handler.StepOutcome(r.st, deps, ev)

	case event.KindAgentStarted, event.KindAgentDone, event.KindAgentFailed,
		event.KindAgentIdle, event.KindAgentEscalated:
		return handler.AgentTransition(r.st, deps, ev)

	case event.KindWorkerStarted:
		return handler.PollWorker(r.st, deps, ev.Namespace, ev.Worker)

	case event.KindItemPushed, event.KindItemRetried, event.KindItemResurrected,
		event.KindItemCompleted, event.KindItemFailed, event.KindItemDead:
		// Failure and dead-letter free a worker slot, so they wake the
		// queue's workers just like completion does.
		return handler.WakeQueueWorkers(r.st, deps, ev.Namespace, ev.Queue)
	}
	return handler.Decision{}
}

// routeTimer maps a timer firing to its handler family purely by the
// key's namespace prefix. Unroutable keys are logged and dropped.
// Callers hold the state lock.
func (r *Runtime) routeTimer(ctx context.Context, key string) handler.Decision {
	deps := r.deps()
	prefix, fields := timer.Split(key)
	switch prefix {
	case timer.PrefixPoll:
		if len(fields) == 2 {
			return handler.PollWorker(r.st, deps, fields[0], fields[1])
		}
	case timer.PrefixRetry:
		if len(fields) == 3 {
			return handler.RetryFired(r.st, deps, fields[0], fields[1], fields[2])
		}
	case timer.PrefixCron:
		if len(fields) == 2 {
			return handler.CronFired(r.st, deps, fields[0], fields[1])
		}
	}
	r.logger.Warn("unroutable timer key", "key", key, "trace_id", shared.TraceID(ctx))
	return handler.Decision{}
}
