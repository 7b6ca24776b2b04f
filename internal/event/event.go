// Package event defines the closed set of log events that drive all state
// in the orchard runtime. Events are immutable, append-only records; the
// materialized state is rebuilt by replaying them in log order.
package event

import "time"

// Kind tags an event variant. Kinds unknown to a given build are applied
// as no-ops so that historical logs written by newer builds stay replayable.
type Kind string

// Pipeline lifecycle.
const (
	KindPipelineCreated   Kind = "pipeline.created"
	KindPipelineAdvanced  Kind = "pipeline.advanced"
	KindPipelineFailed    Kind = "pipeline.failed"
	KindPipelineCompleted Kind = "pipeline.completed"
	KindPipelineDeleted   Kind = "pipeline.deleted"
)

// Step outcomes reported by the executor for command-backed steps.
const (
	KindStepCompleted Kind = "step.completed"
	KindStepFailed    Kind = "step.failed"
)

// Agent lifecycle. The agent identity doubles as the session name and the
// notification title.
const (
	KindAgentSpawning  Kind = "agent.spawning"
	KindAgentStarted   Kind = "agent.started"
	KindAgentIdle      Kind = "agent.idle"
	KindAgentEscalated Kind = "agent.escalated"
	KindAgentDone      Kind = "agent.done"
	KindAgentFailed    Kind = "agent.failed"
)

// Worker lifecycle.
const (
	KindWorkerStarted Kind = "worker.started"
	KindWorkerStopped Kind = "worker.stopped"
)

// Queue item lifecycle.
const (
	KindItemPushed      Kind = "queue.item_pushed"
	KindItemDispatched  Kind = "queue.item_dispatched"
	KindItemCompleted   Kind = "queue.item_completed"
	KindItemFailed      Kind = "queue.item_failed"
	KindItemDead        Kind = "queue.item_dead"
	KindItemRetried     Kind = "queue.item_retried"
	KindItemResurrected Kind = "queue.item_resurrected"
)

// Cron lifecycle.
const (
	KindCronStarted Kind = "cron.started"
	KindCronStopped Kind = "cron.stopped"
	KindCronFired   Kind = "cron.fired"
)

// Timer bookkeeping. Set/canceled/fired events keep the live timer set in
// materialized state so timers can be re-armed after a replay.
const (
	KindTimerSet      Kind = "timer.set"
	KindTimerCanceled Kind = "timer.canceled"
	KindTimerFired    Kind = "timer.fired"
)

// Event is a single tagged log record. The struct is flat: each kind reads
// the fields it needs and ignores the rest, which keeps the JSON encoding
// stable as new kinds are added (unknown fields default on decode).
type Event struct {
	Kind      Kind   `json:"kind"`
	Namespace string `json:"namespace,omitempty"`

	// Pipeline identity and step cursor.
	Pipeline string            `json:"pipeline,omitempty"`
	Name     string            `json:"name,omitempty"`
	Step     int               `json:"step,omitempty"`
	Vars     map[string]string `json:"vars,omitempty"`
	Error    string            `json:"error,omitempty"`

	// Agent, worker, queue identities.
	Agent   string `json:"agent,omitempty"`
	Worker  string `json:"worker,omitempty"`
	Queue   string `json:"queue,omitempty"`
	Item    string `json:"item,omitempty"`
	Payload string `json:"payload,omitempty"`

	// Worker configuration captured at start time.
	Limit int `json:"limit,omitempty"`

	// Timer bookkeeping.
	TimerKey string    `json:"timer_key,omitempty"`
	FireAt   time.Time `json:"fire_at,omitzero"`
}

func PipelineCreated(id, name, ns string, vars map[string]string) Event {
	return Event{Kind: KindPipelineCreated, Pipeline: id, Name: name, Namespace: ns, Vars: vars}
}

// PipelineCreatedForItem binds the new pipeline to the queue item whose
// dispatch created it.
func PipelineCreatedForItem(id, name, ns string, vars map[string]string, queue, item, worker string) Event {
	return Event{
		Kind: KindPipelineCreated, Pipeline: id, Name: name, Namespace: ns,
		Vars: vars, Queue: queue, Item: item, Worker: worker,
	}
}

func PipelineAdvanced(id string, step int) Event {
	return Event{Kind: KindPipelineAdvanced, Pipeline: id, Step: step}
}

func PipelineFailed(id, errMsg string) Event {
	return Event{Kind: KindPipelineFailed, Pipeline: id, Error: errMsg}
}

func PipelineCompleted(id string) Event {
	return Event{Kind: KindPipelineCompleted, Pipeline: id}
}

func PipelineDeleted(id string) Event {
	return Event{Kind: KindPipelineDeleted, Pipeline: id}
}

func StepCompleted(pipeline string, step int) Event {
	return Event{Kind: KindStepCompleted, Pipeline: pipeline, Step: step}
}

func StepFailed(pipeline string, step int, errMsg string) Event {
	return Event{Kind: KindStepFailed, Pipeline: pipeline, Step: step, Error: errMsg}
}

func AgentSpawning(pipeline, agent string) Event {
	return Event{Kind: KindAgentSpawning, Pipeline: pipeline, Agent: agent}
}

func AgentStarted(pipeline, agent string) Event {
	return Event{Kind: KindAgentStarted, Pipeline: pipeline, Agent: agent}
}

func AgentIdle(pipeline, agent string) Event {
	return Event{Kind: KindAgentIdle, Pipeline: pipeline, Agent: agent}
}

func AgentEscalated(pipeline, agent string) Event {
	return Event{Kind: KindAgentEscalated, Pipeline: pipeline, Agent: agent}
}

func AgentDone(pipeline, agent string) Event {
	return Event{Kind: KindAgentDone, Pipeline: pipeline, Agent: agent}
}

func AgentFailed(pipeline, agent, errMsg string) Event {
	return Event{Kind: KindAgentFailed, Pipeline: pipeline, Agent: agent, Error: errMsg}
}

func WorkerStarted(ns, name, queue string, limit int) Event {
	return Event{Kind: KindWorkerStarted, Namespace: ns, Worker: name, Queue: queue, Limit: limit}
}

func WorkerStopped(ns, name string) Event {
	return Event{Kind: KindWorkerStopped, Namespace: ns, Worker: name}
}

func ItemPushed(ns, queue, item, payload string) Event {
	return Event{Kind: KindItemPushed, Namespace: ns, Queue: queue, Item: item, Payload: payload}
}

func ItemDispatched(ns, queue, item, worker, pipeline string) Event {
	return Event{Kind: KindItemDispatched, Namespace: ns, Queue: queue, Item: item, Worker: worker, Pipeline: pipeline}
}

func ItemCompleted(ns, queue, item string) Event {
	return Event{Kind: KindItemCompleted, Namespace: ns, Queue: queue, Item: item}
}

func ItemFailed(ns, queue, item, errMsg string) Event {
	return Event{Kind: KindItemFailed, Namespace: ns, Queue: queue, Item: item, Error: errMsg}
}

func ItemDead(ns, queue, item string) Event {
	return Event{Kind: KindItemDead, Namespace: ns, Queue: queue, Item: item}
}

// ItemRetried returns an item to pending after a retry cooldown. Unlike a
// resurrection it keeps the accumulated failure count, so the attempts
// budget spans the whole retry cycle.
func ItemRetried(ns, queue, item string) Event {
	return Event{Kind: KindItemRetried, Namespace: ns, Queue: queue, Item: item}
}

func ItemResurrected(ns, queue, item string) Event {
	return Event{Kind: KindItemResurrected, Namespace: ns, Queue: queue, Item: item}
}

func CronStarted(ns, name string) Event {
	return Event{Kind: KindCronStarted, Namespace: ns, Name: name}
}

func CronStopped(ns, name string) Event {
	return Event{Kind: KindCronStopped, Namespace: ns, Name: name}
}

func CronFired(ns, name string) Event {
	return Event{Kind: KindCronFired, Namespace: ns, Name: name}
}

func TimerSet(key string, fireAt time.Time) Event {
	return Event{Kind: KindTimerSet, TimerKey: key, FireAt: fireAt}
}

func TimerCanceled(key string) Event {
	return Event{Kind: KindTimerCanceled, TimerKey: key}
}

func TimerFired(key string) Event {
	return Event{Kind: KindTimerFired, TimerKey: key}
}
