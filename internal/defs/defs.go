// Package defs holds the typed definitions the runtime consumes: agents,
// pipelines, queues, workers, and crons. Definitions are loaded from YAML
// runbook files and fully validated at load time; the runtime core never
// sees raw configuration text.
package defs

import (
	"fmt"
	"time"

	cronlib "github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// scheduleParser accepts standard 5-field cron expressions plus descriptors
// such as "@hourly" and "@every 30s".
var scheduleParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// Duration is a time.Duration that unmarshals from YAML duration strings
// ("30s", "5m").
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Notifications maps agent lifecycle points to message templates. An empty
// template means no notification for that point. Templates use ${...}
// placeholders; see handler.RenderTemplate for the variable set.
type Notifications struct {
	OnStart    string `yaml:"on_start"`
	OnDone     string `yaml:"on_done"`
	OnFail     string `yaml:"on_fail"`
	OnIdle     string `yaml:"on_idle"`
	OnEscalate string `yaml:"on_escalate"`
}

// Agent defines a supervised interactive process.
type Agent struct {
	Name    string        `yaml:"name"`
	Command []string      `yaml:"command"`
	Notify  Notifications `yaml:"notify"`
}

// Step is one entry of a pipeline's linear step sequence. Exactly one of
// Agent or Command is set.
type Step struct {
	Name    string   `yaml:"name"`
	Agent   string   `yaml:"agent"`
	Command []string `yaml:"command"`
}

// Pipeline defines a linear sequence of steps.
type Pipeline struct {
	Name  string `yaml:"name"`
	Steps []Step `yaml:"steps"`
}

// Retry is a queue's retry policy. A nil policy behaves as Attempts = 0:
// the first failure dead-letters the item.
type Retry struct {
	Attempts int      `yaml:"attempts"`
	Cooldown Duration `yaml:"cooldown"`
}

// QueueType distinguishes queues whose items live in materialized state
// from queues whose items are fetched from an external source each poll.
type QueueType string

const (
	QueuePersisted QueueType = "persisted"
	QueueExternal  QueueType = "external"
)

// Queue defines a work queue.
type Queue struct {
	Name string    `yaml:"name"`
	Type QueueType `yaml:"type"`
	// Retry applies to dispatched items whose pipeline fails.
	Retry *Retry `yaml:"retry"`
	// ListCommand fetches items for external queues: one item per output
	// line, "<id>\t<payload>".
	ListCommand []string `yaml:"list_command"`
}

// Worker defines a named consumer of one queue.
type Worker struct {
	Name     string `yaml:"name"`
	Queue    string `yaml:"queue"`
	Pipeline string `yaml:"pipeline"`
	// Limit caps concurrently active items; 0 means 1.
	Limit int `yaml:"limit"`
	// PollInterval re-polls the queue periodically; 0 means event-driven
	// only (wake on push, completion, or start).
	PollInterval Duration `yaml:"poll_interval"`
	AutoStart    bool     `yaml:"autostart"`
}

// Cron defines a recurring trigger for a pipeline.
type Cron struct {
	Name      string `yaml:"name"`
	Schedule  string `yaml:"schedule"`
	Pipeline  string `yaml:"pipeline"`
	AutoStart bool   `yaml:"autostart"`
}

// File is one parsed runbook file. All entities in a file share its
// namespace.
type File struct {
	Namespace string     `yaml:"namespace"`
	Agents    []Agent    `yaml:"agents"`
	Pipelines []Pipeline `yaml:"pipelines"`
	Queues    []Queue    `yaml:"queues"`
	Workers   []Worker   `yaml:"workers"`
	Crons     []Cron     `yaml:"crons"`
}

// NextRun parses the cron schedule and returns the first firing after the
// given time.
func NextRun(schedule string, after time.Time) (time.Time, error) {
	sched, err := scheduleParser.Parse(schedule)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}
