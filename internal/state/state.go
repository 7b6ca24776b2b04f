// Package state holds the materialized in-memory projection of every
// entity the runtime tracks. The projection is built exclusively by
// folding log events through Apply; nothing else mutates it.
package state

import "time"

// Pipeline is a running (or finished) linear step sequence.
type Pipeline struct {
	ID        string
	Name      string
	Namespace string
	// Step is the index of the active step.
	Step      int
	Vars      map[string]string
	Error     string
	Completed bool

	// Queue binding, set when the pipeline was created by a worker
	// dispatching a queue item.
	Queue  string
	Item   string
	Worker string
}

// Failed reports whether the pipeline has failed.
func (p *Pipeline) Failed() bool { return p.Error != "" }

// AgentStatus is the lifecycle state of a supervised agent session.
type AgentStatus string

const (
	AgentSpawning  AgentStatus = "spawning"
	AgentRunning   AgentStatus = "running"
	AgentIdle      AgentStatus = "idle"
	AgentEscalated AgentStatus = "escalated"
	AgentDone      AgentStatus = "done"
	AgentFailed    AgentStatus = "failed"
)

// Agent is a supervised interactive process bound to a pipeline step.
// Agents are keyed by pipeline id: a pipeline runs at most one agent at a
// time.
type Agent struct {
	Pipeline string
	Name     string
	Status   AgentStatus
}

// Worker consumes one queue. Workers are keyed by namespace + name and
// exist only while running.
type Worker struct {
	Name      string
	Namespace string
	Queue     string
	Limit     int
	// Active holds the item ids currently dispatched by this worker.
	Active map[string]struct{}
}

// ItemStatus is a queue item's dispatch status.
type ItemStatus string

const (
	ItemPending   ItemStatus = "pending"
	ItemActive    ItemStatus = "active"
	ItemCompleted ItemStatus = "completed"
	ItemFailed    ItemStatus = "failed"
	ItemDead      ItemStatus = "dead"
)

// Item is one unit of queued work.
type Item struct {
	ID        string
	Queue     string
	Namespace string
	Payload   string
	Status    ItemStatus
	// FailureCount increases on each failure and resets to zero only on
	// retry or resurrection.
	FailureCount int
	// Worker and Pipeline record the dispatch binding while the item is
	// in flight.
	Worker   string
	Pipeline string
}

// Cron is a recurring trigger. Crons are keyed by namespace + name and
// exist only while running.
type Cron struct {
	Name      string
	Namespace string
}

// Timer records a live timer so firings survive replay: after rebuilding
// state, the daemon re-arms every recorded timer.
type Timer struct {
	Key    string
	FireAt time.Time
}

// State is the complete materialized projection.
type State struct {
	Pipelines map[string]*Pipeline
	Agents    map[string]*Agent
	Workers   map[string]*Worker
	Items     map[string]*Item
	Crons     map[string]*Cron
	Timers    map[string]Timer
}

// New returns an empty state.
func New() *State {
	return &State{
		Pipelines: make(map[string]*Pipeline),
		Agents:    make(map[string]*Agent),
		Workers:   make(map[string]*Worker),
		Items:     make(map[string]*Item),
		Crons:     make(map[string]*Cron),
		Timers:    make(map[string]Timer),
	}
}

// WorkerKey is the ownership key for a worker.
func WorkerKey(ns, name string) string { return ns + "/" + name }

// CronKey is the ownership key for a cron.
func CronKey(ns, name string) string { return ns + "/" + name }

// QueueKey scopes a queue within its namespace.
func QueueKey(ns, queue string) string { return ns + "/" + queue }

// ItemKey identifies an item within its queue.
func ItemKey(ns, queue, item string) string { return ns + "/" + queue + "/" + item }
