package handler

import (
	"fmt"
	"testing"
	"time"

	"github.com/basket/orchard/internal/defs"
	"github.com/basket/orchard/internal/effect"
	"github.com/basket/orchard/internal/event"
	"github.com/basket/orchard/internal/state"
)

// testDefs is the shared runbook fixture: one agent-backed pipeline, one
// command-backed pipeline, a persisted queue with retries, a worker, and a
// cron.
func testDefs() *defs.Registry {
	return defs.NewRegistry([]defs.File{{
		Namespace: "default",
		Agents: []defs.Agent{{
			Name:    "coder",
			Command: []string{"claude", "--task"},
			Notify: defs.Notifications{
				OnStart: "Deploying ${var.env}",
				OnDone:  "Agent ${agent} finished ${name}",
				OnFail:  "Agent ${agent} failed: ${error}",
			},
		}},
		Pipelines: []defs.Pipeline{
			{
				Name: "deploy",
				Steps: []defs.Step{
					{Name: "build", Command: []string{"make", "build"}},
					{Name: "review", Agent: "coder"},
				},
			},
			{
				Name:  "build",
				Steps: []defs.Step{{Name: "run", Command: []string{"make"}}},
			},
		},
		Queues: []defs.Queue{
			{
				Name:  "builds",
				Type:  defs.QueuePersisted,
				Retry: &defs.Retry{Attempts: 3, Cooldown: defs.Duration(5 * time.Minute)},
			},
			{Name: "oneshots", Type: defs.QueuePersisted},
		},
		Workers: []defs.Worker{
			{Name: "w1", Queue: "builds", Pipeline: "build", Limit: 2, PollInterval: defs.Duration(30 * time.Second)},
			{Name: "oneshot", Queue: "oneshots", Pipeline: "build", Limit: 1},
		},
		Crons: []defs.Cron{
			{Name: "nightly", Schedule: "@every 1h", Pipeline: "build"},
		},
	}})
}

// testDefsTwoWorkers adds a second worker on the builds queue, for
// dispatch fan-out cases.
func testDefsTwoWorkers() *defs.Registry {
	return defs.NewRegistry([]defs.File{{
		Namespace: "default",
		Pipelines: []defs.Pipeline{
			{Name: "build", Steps: []defs.Step{{Name: "run", Command: []string{"make"}}}},
		},
		Queues: []defs.Queue{{Name: "builds", Type: defs.QueuePersisted}},
		Workers: []defs.Worker{
			{Name: "wa", Queue: "builds", Pipeline: "build", Limit: 1},
			{Name: "wb", Queue: "builds", Pipeline: "build", Limit: 1},
		},
	}})
}

// testDeps returns deterministic handler dependencies: a fixed clock and
// sequential pipeline ids.
func testDeps() Deps {
	n := 0
	return Deps{
		Defs: testDefs(),
		Now:  func() time.Time { return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC) },
		NewID: func() string {
			n++
			return fmt.Sprintf("id-%d", n)
		},
	}
}

// apply folds a decision's events into state, the way the runtime does
// before effects run.
func apply(st *state.State, d Decision) {
	for _, ev := range d.Events {
		st.Apply(ev)
	}
}

func kinds(evs []event.Event) []event.Kind {
	out := make([]event.Kind, len(evs))
	for i, ev := range evs {
		out[i] = ev.Kind
	}
	return out
}

func effectKinds(effs []effect.Effect) []effect.Kind {
	out := make([]effect.Kind, len(effs))
	for i, eff := range effs {
		out[i] = eff.Kind
	}
	return out
}

func wantKinds(t *testing.T, evs []event.Event, want ...event.Kind) {
	t.Helper()
	got := kinds(evs)
	if len(got) != len(want) {
		t.Fatalf("event kinds = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event kinds = %v, want %v", got, want)
		}
	}
}
