package state

import (
	"maps"

	"github.com/basket/orchard/internal/event"
)

// Apply folds one event into the state. It is total: unknown or currently
// irrelevant event kinds are accepted as no-ops, and events referencing
// absent entities do nothing. Apply performs no I/O and emits nothing;
// replaying the same event sequence from an empty state always reproduces
// identical state.
func (s *State) Apply(ev event.Event) {
	switch ev.Kind {
	case event.KindPipelineCreated:
		s.Pipelines[ev.Pipeline] = &Pipeline{
			ID:        ev.Pipeline,
			Name:      ev.Name,
			Namespace: ev.Namespace,
			Vars:      maps.Clone(ev.Vars),
			Queue:     ev.Queue,
			Item:      ev.Item,
			Worker:    ev.Worker,
		}

	case event.KindPipelineAdvanced:
		if p, ok := s.Pipelines[ev.Pipeline]; ok {
			p.Step = ev.Step
		}

	case event.KindPipelineFailed:
		if p, ok := s.Pipelines[ev.Pipeline]; ok {
			p.Error = ev.Error
		}

	case event.KindPipelineCompleted:
		if p, ok := s.Pipelines[ev.Pipeline]; ok {
			p.Completed = true
		}

	case event.KindPipelineDeleted:
		delete(s.Pipelines, ev.Pipeline)
		delete(s.Agents, ev.Pipeline)

	case event.KindAgentSpawning:
		s.Agents[ev.Pipeline] = &Agent{Pipeline: ev.Pipeline, Name: ev.Agent, Status: AgentSpawning}

	case event.KindAgentStarted:
		s.setAgentStatus(ev.Pipeline, AgentRunning)

	case event.KindAgentIdle:
		s.setAgentStatus(ev.Pipeline, AgentIdle)

	case event.KindAgentEscalated:
		s.setAgentStatus(ev.Pipeline, AgentEscalated)

	case event.KindAgentDone:
		s.setAgentStatus(ev.Pipeline, AgentDone)

	case event.KindAgentFailed:
		s.setAgentStatus(ev.Pipeline, AgentFailed)

	case event.KindWorkerStarted:
		key := WorkerKey(ev.Namespace, ev.Worker)
		s.Workers[key] = &Worker{
			Name:      ev.Worker,
			Namespace: ev.Namespace,
			Queue:     ev.Queue,
			Limit:     ev.Limit,
			Active:    make(map[string]struct{}),
		}

	case event.KindWorkerStopped:
		delete(s.Workers, WorkerKey(ev.Namespace, ev.Worker))

	case event.KindItemPushed:
		key := ItemKey(ev.Namespace, ev.Queue, ev.Item)
		// Re-pushing a known item is a no-op, which also makes external
		// queue listings idempotent.
		if _, ok := s.Items[key]; ok {
			return
		}
		s.Items[key] = &Item{
			ID:        ev.Item,
			Queue:     ev.Queue,
			Namespace: ev.Namespace,
			Payload:   ev.Payload,
			Status:    ItemPending,
		}

	case event.KindItemDispatched:
		if it, ok := s.Items[ItemKey(ev.Namespace, ev.Queue, ev.Item)]; ok {
			it.Status = ItemActive
			it.Worker = ev.Worker
			it.Pipeline = ev.Pipeline
			if w, ok := s.Workers[WorkerKey(ev.Namespace, ev.Worker)]; ok {
				w.Active[ev.Item] = struct{}{}
			}
		}

	case event.KindItemCompleted:
		if it, ok := s.Items[ItemKey(ev.Namespace, ev.Queue, ev.Item)]; ok {
			it.Status = ItemCompleted
			s.releaseItem(it)
		}

	case event.KindItemFailed:
		if it, ok := s.Items[ItemKey(ev.Namespace, ev.Queue, ev.Item)]; ok {
			it.Status = ItemFailed
			it.FailureCount++
			if w, ok := s.Workers[WorkerKey(it.Namespace, it.Worker)]; ok {
				delete(w.Active, it.ID)
			}
		}

	case event.KindItemDead:
		if it, ok := s.Items[ItemKey(ev.Namespace, ev.Queue, ev.Item)]; ok {
			it.Status = ItemDead
		}

	case event.KindItemRetried:
		// Back to pending for another attempt. The failure count carries
		// over so the attempts budget exhausts across retries.
		if it, ok := s.Items[ItemKey(ev.Namespace, ev.Queue, ev.Item)]; ok {
			it.Status = ItemPending
			s.releaseItem(it)
		}

	case event.KindItemResurrected:
		if it, ok := s.Items[ItemKey(ev.Namespace, ev.Queue, ev.Item)]; ok {
			it.Status = ItemPending
			it.FailureCount = 0
			s.releaseItem(it)
		}

	case event.KindCronStarted:
		key := CronKey(ev.Namespace, ev.Name)
		s.Crons[key] = &Cron{Name: ev.Name, Namespace: ev.Namespace}

	case event.KindCronStopped:
		delete(s.Crons, CronKey(ev.Namespace, ev.Name))

	case event.KindTimerSet:
		s.Timers[ev.TimerKey] = Timer{Key: ev.TimerKey, FireAt: ev.FireAt}

	case event.KindTimerCanceled, event.KindTimerFired:
		delete(s.Timers, ev.TimerKey)

	default:
		// Unknown kinds (including step.* outcomes, which carry no state)
		// are accepted silently for forward compatibility.
	}
}

func (s *State) setAgentStatus(pipeline string, status AgentStatus) {
	if a, ok := s.Agents[pipeline]; ok {
		a.Status = status
	}
}

// releaseItem clears an item's dispatch binding and removes it from its
// worker's active set.
func (s *State) releaseItem(it *Item) {
	if w, ok := s.Workers[WorkerKey(it.Namespace, it.Worker)]; ok {
		delete(w.Active, it.ID)
	}
	it.Worker = ""
	it.Pipeline = ""
}
