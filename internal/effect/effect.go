// Package effect defines the side actions handlers may request. Handlers
// only describe effects; the executor is the sole component that runs them.
package effect

import (
	"time"

	"github.com/basket/orchard/internal/event"
)

// Kind tags an effect variant.
type Kind string

const (
	// KindSpawnAgent starts a supervised interactive session for an
	// agent-backed pipeline step.
	KindSpawnAgent Kind = "spawn_agent"

	// KindRunCommand runs a one-shot command for a command-backed step.
	KindRunCommand Kind = "run_command"

	// KindSetTimer arms (or replaces) the timer under Key.
	KindSetTimer Kind = "set_timer"

	// KindCancelTimer cancels the timer under Key; absent keys are a no-op.
	KindCancelTimer Kind = "cancel_timer"

	// KindNotify delivers a best-effort notification.
	KindNotify Kind = "notify"

	// KindListQueue fetches the current items of an external queue.
	KindListQueue Kind = "list_queue"

	// KindEmit appends a follow-up event without touching the outside world.
	KindEmit Kind = "emit"
)

// Effect carries everything the executor needs to act without consulting
// state again.
type Effect struct {
	Kind Kind

	// Spawn/run targets.
	Pipeline string
	Agent    string
	Step     int
	Command  []string

	// Timer parameters.
	Key      string
	Duration time.Duration

	// Notification payload.
	Title   string
	Message string

	// External queue identity.
	Namespace string
	Queue     string

	// Follow-up event for KindEmit.
	Event *event.Event
}

func SpawnAgent(pipeline, agent string, step int, command []string) Effect {
	return Effect{Kind: KindSpawnAgent, Pipeline: pipeline, Agent: agent, Step: step, Command: command}
}

func RunCommand(pipeline string, step int, command []string) Effect {
	return Effect{Kind: KindRunCommand, Pipeline: pipeline, Step: step, Command: command}
}

func SetTimer(key string, d time.Duration) Effect {
	return Effect{Kind: KindSetTimer, Key: key, Duration: d}
}

func CancelTimer(key string) Effect {
	return Effect{Kind: KindCancelTimer, Key: key}
}

func Notify(title, message string) Effect {
	return Effect{Kind: KindNotify, Title: title, Message: message}
}

func ListQueue(ns, queue string) Effect {
	return Effect{Kind: KindListQueue, Namespace: ns, Queue: queue}
}

func Emit(ev event.Event) Effect {
	return Effect{Kind: KindEmit, Event: &ev}
}
