package state

import (
	"reflect"
	"testing"
	"time"

	"github.com/basket/orchard/internal/event"
)

func TestApply_PipelineLifecycle(t *testing.T) {
	st := New()
	st.Apply(event.PipelineCreated("p1", "deploy", "default", map[string]string{"env": "prod"}))

	p, ok := st.Pipelines["p1"]
	if !ok {
		t.Fatal("pipeline p1 not created")
	}
	if p.Name != "deploy" || p.Namespace != "default" || p.Step != 0 {
		t.Fatalf("pipeline = %+v", p)
	}
	if p.Vars["env"] != "prod" {
		t.Fatalf("vars = %v", p.Vars)
	}

	st.Apply(event.PipelineAdvanced("p1", 1))
	if p.Step != 1 {
		t.Fatalf("step = %d, want 1", p.Step)
	}

	st.Apply(event.PipelineCompleted("p1"))
	if !p.Completed {
		t.Fatal("pipeline not completed")
	}

	st.Apply(event.PipelineDeleted("p1"))
	if _, ok := st.Pipelines["p1"]; ok {
		t.Fatal("pipeline survived delete")
	}
}

func TestApply_PipelineFailedSetsError(t *testing.T) {
	st := New()
	st.Apply(event.PipelineCreated("p1", "deploy", "default", nil))
	st.Apply(event.PipelineFailed("p1", "boom"))

	p := st.Pipelines["p1"]
	if !p.Failed() || p.Error != "boom" {
		t.Fatalf("pipeline = %+v, want failed with error boom", p)
	}
}

func TestApply_AgentStatusTracksLifecycle(t *testing.T) {
	st := New()
	st.Apply(event.PipelineCreated("p1", "deploy", "default", nil))
	st.Apply(event.AgentSpawning("p1", "coder"))

	a, ok := st.Agents["p1"]
	if !ok || a.Status != AgentSpawning {
		t.Fatalf("agent = %+v, want spawning", a)
	}

	st.Apply(event.AgentStarted("p1", "coder"))
	if a.Status != AgentRunning {
		t.Fatalf("status = %s, want running", a.Status)
	}
	st.Apply(event.AgentIdle("p1", "coder"))
	if a.Status != AgentIdle {
		t.Fatalf("status = %s, want idle", a.Status)
	}
	st.Apply(event.AgentDone("p1", "coder"))
	if a.Status != AgentDone {
		t.Fatalf("status = %s, want done", a.Status)
	}

	st.Apply(event.PipelineDeleted("p1"))
	if _, ok := st.Agents["p1"]; ok {
		t.Fatal("agent survived pipeline delete")
	}
}

func TestApply_ItemRetryCycle(t *testing.T) {
	st := New()
	st.Apply(event.WorkerStarted("default", "w1", "builds", 2))
	st.Apply(event.ItemPushed("default", "builds", "item-1", "payload"))

	it := st.Items[ItemKey("default", "builds", "item-1")]
	if it == nil || it.Status != ItemPending {
		t.Fatalf("item = %+v, want pending", it)
	}

	st.Apply(event.ItemDispatched("default", "builds", "item-1", "w1", "p1"))
	if it.Status != ItemActive || it.Worker != "w1" || it.Pipeline != "p1" {
		t.Fatalf("item = %+v, want active bound to w1/p1", it)
	}
	w := st.Workers[WorkerKey("default", "w1")]
	if _, ok := w.Active["item-1"]; !ok {
		t.Fatal("worker active set missing item-1")
	}

	st.Apply(event.ItemFailed("default", "builds", "item-1", "boom"))
	if it.Status != ItemFailed || it.FailureCount != 1 {
		t.Fatalf("item = %+v, want failed count 1", it)
	}
	if _, ok := w.Active["item-1"]; ok {
		t.Fatal("failed item still in worker active set")
	}

	// A retry keeps the failure count so the attempts budget can exhaust.
	st.Apply(event.ItemRetried("default", "builds", "item-1"))
	if it.Status != ItemPending || it.FailureCount != 1 || it.Worker != "" || it.Pipeline != "" {
		t.Fatalf("item = %+v, want pending keeping count 1", it)
	}

	st.Apply(event.ItemDispatched("default", "builds", "item-1", "w1", "p2"))
	st.Apply(event.ItemFailed("default", "builds", "item-1", "boom"))
	if it.FailureCount != 2 {
		t.Fatalf("count = %d, want 2 after second failure", it.FailureCount)
	}

	// Only a manual resurrection wipes the history.
	st.Apply(event.ItemResurrected("default", "builds", "item-1"))
	if it.Status != ItemPending || it.FailureCount != 0 || it.Worker != "" || it.Pipeline != "" {
		t.Fatalf("item = %+v, want clean pending", it)
	}
}

func TestApply_ItemDeadStaysDead(t *testing.T) {
	st := New()
	st.Apply(event.ItemPushed("default", "builds", "item-1", ""))
	st.Apply(event.ItemFailed("default", "builds", "item-1", "boom"))
	st.Apply(event.ItemDead("default", "builds", "item-1"))

	it := st.Items[ItemKey("default", "builds", "item-1")]
	if it.Status != ItemDead || it.FailureCount != 1 {
		t.Fatalf("item = %+v, want dead count 1", it)
	}
}

func TestApply_RepushKnownItemIsNoop(t *testing.T) {
	st := New()
	st.Apply(event.ItemPushed("default", "builds", "item-1", "first"))
	st.Apply(event.ItemDispatched("default", "builds", "item-1", "w1", "p1"))
	st.Apply(event.ItemPushed("default", "builds", "item-1", "second"))

	it := st.Items[ItemKey("default", "builds", "item-1")]
	if it.Status != ItemActive || it.Payload != "first" {
		t.Fatalf("item = %+v, repush must not reset", it)
	}
}

func TestApply_UnknownKindIsNoop(t *testing.T) {
	st := New()
	st.Apply(event.PipelineCreated("p1", "deploy", "default", nil))
	before := len(st.Pipelines)

	st.Apply(event.Event{Kind: "future.shiny_thing", Pipeline: "p1"})

	if len(st.Pipelines) != before || st.Pipelines["p1"].Step != 0 {
		t.Fatal("unknown kind mutated state")
	}
}

func TestApply_EventsOnAbsentEntitiesAreNoops(t *testing.T) {
	st := New()
	st.Apply(event.PipelineAdvanced("ghost", 3))
	st.Apply(event.ItemFailed("default", "builds", "ghost", "x"))
	st.Apply(event.AgentDone("ghost", "coder"))
	st.Apply(event.WorkerStopped("default", "ghost"))

	if len(st.Pipelines)+len(st.Items)+len(st.Agents)+len(st.Workers) != 0 {
		t.Fatal("absent-entity events mutated state")
	}
}

func TestApply_ReplayIsDeterministic(t *testing.T) {
	log := []event.Event{
		event.WorkerStarted("default", "w1", "builds", 1),
		event.ItemPushed("default", "builds", "item-1", "a"),
		event.ItemDispatched("default", "builds", "item-1", "w1", "p1"),
		event.PipelineCreatedForItem("p1", "build", "default", map[string]string{"item": "item-1"}, "builds", "item-1", "w1"),
		event.ItemFailed("default", "builds", "item-1", "boom"),
		event.PipelineFailed("p1", "boom"),
		event.ItemResurrected("default", "builds", "item-1"),
		event.TimerSet("poll/default/w1", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)),
		event.TimerFired("poll/default/w1"),
		event.CronStarted("default", "nightly"),
	}

	replay := func() *State {
		st := New()
		for _, ev := range log {
			st.Apply(ev)
		}
		return st
	}

	a, b := replay(), replay()
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("replays diverged:\n%+v\n%+v", a, b)
	}
	if a.Items[ItemKey("default", "builds", "item-1")].Status != ItemPending {
		t.Fatal("replayed item not pending")
	}
	if len(a.Timers) != 0 {
		t.Fatalf("timers = %v, want none after fired", a.Timers)
	}
}
