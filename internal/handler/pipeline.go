package handler

import (
	"fmt"

	"github.com/basket/orchard/internal/defs"
	"github.com/basket/orchard/internal/effect"
	"github.com/basket/orchard/internal/event"
	"github.com/basket/orchard/internal/state"
)

// StartPipeline begins a run of the named pipeline definition.
func StartPipeline(st *state.State, deps Deps, ns, name string, vars map[string]string) (Decision, error) {
	if _, ok := deps.Defs.Pipeline(ns, name); !ok {
		return Decision{}, fmt.Errorf("%w: pipeline %s/%s", ErrUnknownDefinition, ns, name)
	}
	var d Decision
	d.event(event.PipelineCreated(deps.newID(), name, ns, vars))
	return d, nil
}

// PipelineCreated produces the effects that start the pipeline's current
// step. It runs when a pipeline.created event is applied, whether the
// pipeline came from an operator, a worker dispatch, or a cron firing.
func PipelineCreated(st *state.State, deps Deps, p *state.Pipeline) Decision {
	def, ok := deps.Defs.Pipeline(p.Namespace, p.Name)
	if !ok {
		// Definition disappeared between creation and start.
		return failPipeline(st, deps, p, fmt.Sprintf("pipeline definition %s/%s not found", p.Namespace, p.Name))
	}
	return stepDecision(deps, p, def, p.Step)
}

// stepDecision starts step index i of the pipeline: spawn the agent for
// agent-backed steps, run the command for command-backed ones.
func stepDecision(deps Deps, p *state.Pipeline, def *defs.Pipeline, i int) Decision {
	var d Decision
	if i < 0 || i >= len(def.Steps) {
		return d
	}
	step := def.Steps[i]
	if step.Agent != "" {
		agentDef, ok := deps.Defs.Agent(p.Namespace, step.Agent)
		if !ok {
			return Decision{Events: []event.Event{event.StepFailed(p.ID, i, fmt.Sprintf("unknown agent %q", step.Agent))}}
		}
		d.event(event.AgentSpawning(p.ID, step.Agent))
		d.effect(effect.SpawnAgent(p.ID, step.Agent, i, agentDef.Command))
		return d
	}
	d.effect(effect.RunCommand(p.ID, i, step.Command))
	return d
}

// StepOutcome handles the executor's report for a command-backed step.
func StepOutcome(st *state.State, deps Deps, ev event.Event) Decision {
	p, ok := st.Pipelines[ev.Pipeline]
	if !ok || p.Completed || p.Failed() {
		return Decision{}
	}
	if ev.Step != p.Step {
		// Stale outcome from a superseded step.
		return Decision{}
	}
	switch ev.Kind {
	case event.KindStepCompleted:
		return advancePipeline(st, deps, p)
	case event.KindStepFailed:
		return failPipeline(st, deps, p, ev.Error)
	}
	return Decision{}
}

// advancePipeline moves the cursor to the next step, or completes the
// pipeline when no steps remain. Completion of an item-bound pipeline also
// completes the queue item; the freed worker capacity is refilled when the
// completion event re-enters as a trigger.
func advancePipeline(st *state.State, deps Deps, p *state.Pipeline) Decision {
	var d Decision
	def, ok := deps.Defs.Pipeline(p.Namespace, p.Name)
	if !ok {
		return failPipeline(st, deps, p, fmt.Sprintf("pipeline definition %s/%s not found", p.Namespace, p.Name))
	}
	next := p.Step + 1
	if next >= len(def.Steps) {
		d.event(event.PipelineCompleted(p.ID))
		if p.Item != "" {
			d.event(event.ItemCompleted(p.Namespace, p.Queue, p.Item))
		}
		return d
	}
	d.event(event.PipelineAdvanced(p.ID, next))
	d.merge(stepDecision(deps, p, def, next))
	return d
}

// failPipeline records the pipeline failure and, for item-bound pipelines,
// runs the queue retry-or-dead decision.
func failPipeline(st *state.State, deps Deps, p *state.Pipeline, errMsg string) Decision {
	var d Decision
	d.event(event.PipelineFailed(p.ID, errMsg))
	if p.Item != "" {
		d.merge(failItem(st, deps, p, errMsg))
	}
	return d
}

// DeletePipeline removes a finished pipeline from state. Pipelines are
// never removed implicitly.
func DeletePipeline(st *state.State, deps Deps, id string) (Decision, error) {
	if _, ok := st.Pipelines[id]; !ok {
		return Decision{}, fmt.Errorf("%w: %s", ErrUnknownPipeline, id)
	}
	var d Decision
	d.event(event.PipelineDeleted(id))
	return d, nil
}
