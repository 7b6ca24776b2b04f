package handler

import (
	"fmt"
	"sort"

	"github.com/basket/orchard/internal/defs"
	"github.com/basket/orchard/internal/effect"
	"github.com/basket/orchard/internal/event"
	"github.com/basket/orchard/internal/state"
	"github.com/basket/orchard/internal/timer"
)

// StartWorker brings a defined worker online. The first poll and the poll
// timer are produced when the worker.started event re-enters as a trigger.
func StartWorker(st *state.State, deps Deps, ns, name string) (Decision, error) {
	def, ok := deps.Defs.Worker(ns, name)
	if !ok {
		return Decision{}, fmt.Errorf("%w: worker %s/%s", ErrUnknownDefinition, ns, name)
	}
	if _, ok := st.Workers[state.WorkerKey(ns, name)]; ok {
		return Decision{}, fmt.Errorf("%w: worker %s/%s", ErrAlreadyRunning, ns, name)
	}
	limit := def.Limit
	if limit <= 0 {
		limit = 1
	}
	var d Decision
	d.event(event.WorkerStarted(ns, name, def.Queue, limit))
	return d, nil
}

// StopWorker takes a worker offline. The poll timer is cancelled
// unconditionally; cancelling an absent timer is safe.
func StopWorker(st *state.State, deps Deps, ns, name string) (Decision, error) {
	if _, ok := st.Workers[state.WorkerKey(ns, name)]; !ok {
		return Decision{}, fmt.Errorf("%w: worker %s/%s", ErrNotRunning, ns, name)
	}
	var d Decision
	d.event(event.WorkerStopped(ns, name))
	d.effect(effect.CancelTimer(timer.PollKey(ns, name)))
	return d, nil
}

// PollWorker runs one poll cycle for a running worker: list external
// queues, dispatch pending items up to the concurrency limit, and re-arm
// the poll timer when the definition configures an interval. The interval
// is read fresh on every cycle, so a changed definition takes effect at
// the next re-arm, never by interrupting a live timer.
func PollWorker(st *state.State, deps Deps, ns, name string) Decision {
	w, ok := st.Workers[state.WorkerKey(ns, name)]
	if !ok {
		return Decision{}
	}
	var d Decision
	if q, ok := deps.Defs.Queue(ns, w.Queue); ok && q.Type == defs.QueueExternal {
		d.effect(effect.ListQueue(ns, w.Queue))
	}
	d.merge(dispatch(st, deps, w, nil))
	if def, ok := deps.Defs.Worker(ns, name); ok && def.PollInterval.Std() > 0 {
		d.effect(effect.SetTimer(timer.PollKey(ns, name), def.PollInterval.Std()))
	}
	return d
}

// WakeQueueWorkers dispatches pending work of the queue to every running
// worker attached to it. Used when items become pending (push, retry,
// resurrection) and when a completion frees capacity.
func WakeQueueWorkers(st *state.State, deps Deps, ns, queue string) Decision {
	var keys []string
	for key, w := range st.Workers {
		if w.Namespace == ns && w.Queue == queue {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	var d Decision
	claimed := make(map[string]struct{})
	for _, key := range keys {
		d.merge(dispatch(st, deps, st.Workers[key], claimed))
	}
	return d
}

// dispatch matches the worker's free capacity against the queue's pending
// items. Only pending items are considered; selection order is the item
// id order, so replay and tests are deterministic. Items already claimed
// by an earlier dispatch in the same decision are skipped.
func dispatch(st *state.State, deps Deps, w *state.Worker, claimed map[string]struct{}) Decision {
	var d Decision
	free := w.Limit - len(w.Active)
	if free <= 0 {
		return d
	}
	def, ok := deps.Defs.Worker(w.Namespace, w.Name)
	if !ok {
		return d
	}

	var pending []*state.Item
	for _, it := range st.Items {
		if it.Namespace != w.Namespace || it.Queue != w.Queue || it.Status != state.ItemPending {
			continue
		}
		if claimed != nil {
			if _, taken := claimed[state.ItemKey(it.Namespace, it.Queue, it.ID)]; taken {
				continue
			}
		}
		pending = append(pending, it)
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].ID < pending[j].ID })

	for _, it := range pending {
		if free <= 0 {
			break
		}
		free--
		if claimed != nil {
			claimed[state.ItemKey(it.Namespace, it.Queue, it.ID)] = struct{}{}
		}
		pipelineID := deps.newID()
		vars := map[string]string{
			"item":    it.ID,
			"payload": it.Payload,
			"queue":   it.Queue,
		}
		d.event(event.ItemDispatched(w.Namespace, w.Queue, it.ID, w.Name, pipelineID))
		d.event(event.PipelineCreatedForItem(pipelineID, def.Pipeline, w.Namespace, vars, w.Queue, it.ID, w.Name))
	}
	return d
}
