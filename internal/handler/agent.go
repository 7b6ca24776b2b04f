package handler

import (
	"fmt"

	"github.com/basket/orchard/internal/defs"
	"github.com/basket/orchard/internal/effect"
	"github.com/basket/orchard/internal/event"
	"github.com/basket/orchard/internal/state"
)

// Signal is an external report about a supervised agent session.
type Signal string

const (
	SignalStart    Signal = "start"
	SignalComplete Signal = "complete"
	SignalIdle     Signal = "idle"
	SignalEscalate Signal = "escalate"
	SignalFail     Signal = "fail"
)

// SignalAgent validates an agent signal against the pipeline and maps it
// to its lifecycle event. All consequences (notification, advance, fail)
// are decided when that event re-enters as a trigger, so signalled and
// executor-observed transitions take the same path.
func SignalAgent(st *state.State, deps Deps, pipeline string, sig Signal, errMsg string) (Decision, error) {
	p, ok := st.Pipelines[pipeline]
	if !ok {
		return Decision{}, fmt.Errorf("%w: %s", ErrUnknownPipeline, pipeline)
	}
	if p.Completed || p.Failed() {
		return Decision{}, fmt.Errorf("%w: %s", ErrPipelineFinished, pipeline)
	}
	a, ok := st.Agents[pipeline]
	if !ok {
		return Decision{}, fmt.Errorf("pipeline %s has no agent: %w", pipeline, ErrUnknownDefinition)
	}

	var d Decision
	switch sig {
	case SignalStart:
		d.event(event.AgentStarted(pipeline, a.Name))
	case SignalComplete:
		d.event(event.AgentDone(pipeline, a.Name))
	case SignalIdle:
		d.event(event.AgentIdle(pipeline, a.Name))
	case SignalEscalate:
		d.event(event.AgentEscalated(pipeline, a.Name))
	case SignalFail:
		d.event(event.AgentFailed(pipeline, a.Name, errMsg))
	default:
		return Decision{}, fmt.Errorf("unknown agent signal %q", sig)
	}
	return d, nil
}

// AgentTransition decides the consequences of an applied agent lifecycle
// event: exactly one notification hook, and zero or one pipeline
// advance/fail. The notify effect always precedes the advance/fail
// effects.
func AgentTransition(st *state.State, deps Deps, ev event.Event) Decision {
	p, ok := st.Pipelines[ev.Pipeline]
	if !ok {
		return Decision{}
	}
	agentDef, stepName := agentForPipeline(st, deps, p)

	var d Decision
	switch ev.Kind {
	case event.KindAgentStarted:
		d.merge(notifyDecision(p, agentDef, stepName, pick(agentDef).OnStart, ""))
	case event.KindAgentDone:
		d.merge(notifyDecision(p, agentDef, stepName, pick(agentDef).OnDone, ""))
		d.merge(advancePipeline(st, deps, p))
	case event.KindAgentFailed:
		d.merge(notifyDecision(p, agentDef, stepName, pick(agentDef).OnFail, ev.Error))
		d.merge(failPipeline(st, deps, p, ev.Error))
	case event.KindAgentIdle:
		d.merge(notifyDecision(p, agentDef, stepName, pick(agentDef).OnIdle, ""))
	case event.KindAgentEscalated:
		d.merge(notifyDecision(p, agentDef, stepName, pick(agentDef).OnEscalate, ""))
	}
	return d
}

// agentForPipeline resolves the agent definition backing the pipeline's
// active step. Either return may be empty when definitions changed
// underneath a running pipeline; callers treat that as "no templates".
func agentForPipeline(st *state.State, deps Deps, p *state.Pipeline) (*defs.Agent, string) {
	def, ok := deps.Defs.Pipeline(p.Namespace, p.Name)
	if !ok || p.Step >= len(def.Steps) {
		return nil, ""
	}
	step := def.Steps[p.Step]
	if step.Agent == "" {
		return nil, step.Name
	}
	agentDef, _ := deps.Defs.Agent(p.Namespace, step.Agent)
	return agentDef, step.Name
}

func pick(a *defs.Agent) defs.Notifications {
	if a == nil {
		return defs.Notifications{}
	}
	return a.Notify
}

// notifyDecision renders the template, if declared, into a notify effect.
// No template means no effect; rendering itself can never fail.
func notifyDecision(p *state.Pipeline, agentDef *defs.Agent, stepName, tmpl, errMsg string) Decision {
	var d Decision
	if tmpl == "" {
		return d
	}
	agentName := ""
	if agentDef != nil {
		agentName = agentDef.Name
	}
	msg := RenderTemplate(tmpl, templateVars(p, agentName, stepName, errMsg))
	d.effect(effect.Notify(agentName, msg))
	return d
}
