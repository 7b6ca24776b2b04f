package handler

import (
	"fmt"

	"github.com/basket/orchard/internal/effect"
	"github.com/basket/orchard/internal/event"
	"github.com/basket/orchard/internal/state"
	"github.com/basket/orchard/internal/timer"
)

// PushItem adds an item to a queue. Attached workers are woken when the
// pushed event re-enters as a trigger.
func PushItem(st *state.State, deps Deps, ns, queue, id, payload string) (Decision, error) {
	if _, ok := deps.Defs.Queue(ns, queue); !ok {
		return Decision{}, fmt.Errorf("%w: queue %s/%s", ErrUnknownDefinition, ns, queue)
	}
	var d Decision
	d.event(event.ItemPushed(ns, queue, id, payload))
	return d, nil
}

// failItem is the retry-or-dead decision for a dispatched item whose
// pipeline failed. The decision reads the failure count the item will
// have after the failure event applies; reading the pre-failure count
// would make the attempts budget off by one.
func failItem(st *state.State, deps Deps, p *state.Pipeline, errMsg string) Decision {
	var d Decision
	it, ok := st.Items[state.ItemKey(p.Namespace, p.Queue, p.Item)]
	if !ok {
		return d
	}
	d.event(event.ItemFailed(it.Namespace, it.Queue, it.ID, errMsg))

	attempts := 0
	q, _ := deps.Defs.Queue(it.Namespace, it.Queue)
	if q != nil && q.Retry != nil {
		attempts = q.Retry.Attempts
	}
	count := it.FailureCount + 1
	if attempts > 0 && count < attempts {
		d.effect(effect.SetTimer(timer.RetryKey(it.Namespace, it.Queue, it.ID), q.Retry.Cooldown.Std()))
		return d
	}
	d.event(event.ItemDead(it.Namespace, it.Queue, it.ID))
	d.effect(effect.Notify(it.Queue, fmt.Sprintf("item %s dead-lettered after %d failure(s): %s", it.ID, count, errMsg)))
	return d
}

// RetryFired handles a retry-cooldown timer firing: the item returns to
// pending with its worker binding cleared. The failure count is kept, so
// the next failure reads the full retry history; only a manual
// resurrection resets it. Attached workers are woken by the retried event
// re-entering as a trigger.
func RetryFired(st *state.State, deps Deps, ns, queue, item string) Decision {
	var d Decision
	it, ok := st.Items[state.ItemKey(ns, queue, item)]
	if !ok || it.Status != state.ItemFailed {
		// The item moved on (resurrected manually, or dead via a changed
		// policy) while the timer was in flight.
		return d
	}
	d.event(event.ItemRetried(ns, queue, item))
	return d
}

// ResurrectItem is the operator action that returns a dead or failed item
// to pending. Pending, active, and completed items are rejected, leaving
// state unchanged.
func ResurrectItem(st *state.State, deps Deps, ns, queue, item string) (Decision, error) {
	it, ok := st.Items[state.ItemKey(ns, queue, item)]
	if !ok {
		return Decision{}, fmt.Errorf("%w: %s/%s/%s", ErrUnknownItem, ns, queue, item)
	}
	if it.Status != state.ItemDead && it.Status != state.ItemFailed {
		return Decision{}, fmt.Errorf("%w: %s/%s/%s is %s", ErrNotResurrectable, ns, queue, item, it.Status)
	}
	var d Decision
	d.event(event.ItemResurrected(ns, queue, item))
	d.effect(effect.CancelTimer(timer.RetryKey(ns, queue, item)))
	return d, nil
}
