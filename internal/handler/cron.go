package handler

import (
	"fmt"

	"github.com/basket/orchard/internal/defs"
	"github.com/basket/orchard/internal/effect"
	"github.com/basket/orchard/internal/event"
	"github.com/basket/orchard/internal/state"
	"github.com/basket/orchard/internal/timer"
)

// StartCron brings a defined cron online and arms its first firing.
func StartCron(st *state.State, deps Deps, ns, name string) (Decision, error) {
	def, ok := deps.Defs.Cron(ns, name)
	if !ok {
		return Decision{}, fmt.Errorf("%w: cron %s/%s", ErrUnknownDefinition, ns, name)
	}
	if _, ok := st.Crons[state.CronKey(ns, name)]; ok {
		return Decision{}, fmt.Errorf("%w: cron %s/%s", ErrAlreadyRunning, ns, name)
	}
	var d Decision
	d.event(event.CronStarted(ns, name))
	d.merge(armCron(deps, ns, name, def))
	return d, nil
}

// StopCron takes a cron offline and cancels its pending firing.
func StopCron(st *state.State, deps Deps, ns, name string) (Decision, error) {
	if _, ok := st.Crons[state.CronKey(ns, name)]; !ok {
		return Decision{}, fmt.Errorf("%w: cron %s/%s", ErrNotRunning, ns, name)
	}
	var d Decision
	d.event(event.CronStopped(ns, name))
	d.effect(effect.CancelTimer(timer.CronKey(ns, name)))
	return d, nil
}

// CronFired dispatches the cron's bound pipeline and self-reschedules the
// next firing relative to the cron's schedule.
func CronFired(st *state.State, deps Deps, ns, name string) Decision {
	if _, ok := st.Crons[state.CronKey(ns, name)]; !ok {
		// Fired concurrently with a stop; the stop wins.
		return Decision{}
	}
	def, ok := deps.Defs.Cron(ns, name)
	if !ok {
		return Decision{}
	}
	var d Decision
	d.event(event.CronFired(ns, name))
	d.event(event.PipelineCreated(deps.newID(), def.Pipeline, ns, nil))
	d.merge(armCron(deps, ns, name, def))
	return d
}

// armCron computes the next firing from the schedule and arms the cron's
// timer for it. Schedules were validated at definition load, so a parse
// error here means the definition changed underneath us; the cron simply
// stops firing until restarted.
func armCron(deps Deps, ns, name string, def *defs.Cron) Decision {
	var d Decision
	now := deps.now()
	next, err := defs.NextRun(def.Schedule, now)
	if err != nil {
		return d
	}
	d.effect(effect.SetTimer(timer.CronKey(ns, name), next.Sub(now)))
	return d
}
