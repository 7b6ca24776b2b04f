// Package handler contains the pure decision layer: one family of
// functions per entity kind (pipeline, agent, worker, queue, cron). Each
// function reads a state snapshot plus a trigger and returns the events to
// append and the effects to run. Handlers never mutate state and never
// touch the outside world; that separation is what keeps every lifecycle
// decision testable without an environment.
package handler

import (
	"time"

	"github.com/basket/orchard/internal/defs"
	"github.com/basket/orchard/internal/effect"
	"github.com/basket/orchard/internal/event"
	"github.com/google/uuid"
)

// Deps supplies the read-only collaborators a decision may consult.
// Now and NewID default to the real clock and random UUIDs; tests inject
// deterministic versions.
type Deps struct {
	Defs  *defs.Registry
	Now   func() time.Time
	NewID func() string
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d Deps) newID() string {
	if d.NewID != nil {
		return d.NewID()
	}
	return uuid.NewString()
}

// Decision is a handler's output: events to append to the log, in order,
// and effects for the executor. Events are applied before any effect runs.
type Decision struct {
	Events  []event.Event
	Effects []effect.Effect
}

func (d *Decision) event(evs ...event.Event) {
	d.Events = append(d.Events, evs...)
}

func (d *Decision) effect(effs ...effect.Effect) {
	d.Effects = append(d.Effects, effs...)
}

func (d *Decision) merge(other Decision) {
	d.Events = append(d.Events, other.Events...)
	d.Effects = append(d.Effects, other.Effects...)
}

// Empty reports whether the decision carries neither events nor effects.
func (d Decision) Empty() bool {
	return len(d.Events) == 0 && len(d.Effects) == 0
}
