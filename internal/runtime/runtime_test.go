package runtime

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/basket/orchard/internal/defs"
	"github.com/basket/orchard/internal/event"
	"github.com/basket/orchard/internal/eventlog"
	"github.com/basket/orchard/internal/handler"
	"github.com/basket/orchard/internal/proc"
	"github.com/basket/orchard/internal/state"
)

// fakeProcs is an in-memory process controller. Run outcomes are keyed by
// the command's first argument after the binary.
type fakeProcs struct {
	mu       sync.Mutex
	sessions []string
	runs     [][]string
	failRuns bool
}

func (f *fakeProcs) SpawnSession(_ context.Context, name string, _ []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, name)
	return nil
}

func (f *fakeProcs) KillSession(context.Context, string) error { return nil }

func (f *fakeProcs) Run(_ context.Context, command []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, command)
	if f.failRuns {
		return fmt.Errorf("exit status 2")
	}
	return nil
}

func (f *fakeProcs) sessionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

// fakeNotifier records delivered notifications.
type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (f *fakeNotifier) Name() string { return "fake" }

func (f *fakeNotifier) Send(_ context.Context, title, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, title+": "+message)
	return nil
}

func (f *fakeNotifier) all() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.messages))
	copy(out, f.messages)
	return out
}

// fakeSource serves a fixed external queue listing.
type fakeSource struct {
	items []proc.SourceItem
}

func (f fakeSource) List(context.Context) ([]proc.SourceItem, error) {
	return f.items, nil
}

func testFiles() []defs.File {
	return []defs.File{{
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
			{Name: "build", Steps: []defs.Step{{Name: "run", Command: []string{"make"}}}},
			{Name: "deploy", Steps: []defs.Step{
				{Name: "build", Command: []string{"make", "build"}},
				{Name: "review", Agent: "coder"},
			}},
		},
		Queues: []defs.Queue{
			{Name: "builds", Type: defs.QueuePersisted, Retry: &defs.Retry{Attempts: 2, Cooldown: defs.Duration(20 * time.Millisecond)}},
			{Name: "oneshots", Type: defs.QueuePersisted},
			{Name: "inbox", Type: defs.QueueExternal, ListCommand: []string{"true"}},
		},
		Workers: []defs.Worker{
			{Name: "w1", Queue: "builds", Pipeline: "build", Limit: 1},
			{Name: "solo", Queue: "oneshots", Pipeline: "build", Limit: 1},
			{Name: "reader", Queue: "inbox", Pipeline: "build", Limit: 2, PollInterval: defs.Duration(25 * time.Millisecond)},
		},
		Crons: []defs.Cron{{Name: "nightly", Schedule: "@every 1h", Pipeline: "build"}},
	}}
}

type fixture struct {
	rt     *Runtime
	log    *eventlog.Memory
	procs  *fakeProcs
	notify *fakeNotifier
}

func newFixture(t *testing.T, procs *fakeProcs) *fixture {
	t.Helper()
	log := eventlog.NewMemory()
	notifier := &fakeNotifier{}
	n := 0
	var mu sync.Mutex
	rt := New(Config{
		Log:      log,
		Defs:     defs.NewRegistry(testFiles()),
		Procs:    procs,
		Notifier: notifier,
		Sources: map[string]proc.Source{
			state.QueueKey("default", "inbox"): fakeSource{items: []proc.SourceItem{
				{ID: "mail-1", Payload: "a"},
				{ID: "mail-2", Payload: "b"},
			}},
		},
		NewID: func() string {
			mu.Lock()
			defer mu.Unlock()
			n++
			return fmt.Sprintf("id-%d", n)
		},
	})
	rt.Start(context.Background())
	t.Cleanup(rt.Stop)
	return &fixture{rt: rt, log: log, procs: procs, notify: notifier}
}

// waitFor polls the runtime state until cond holds.
func waitFor(t *testing.T, rt *Runtime, what string, cond func(st *state.State) bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		var ok bool
		rt.Inspect(func(st *state.State) { ok = cond(st) })
		if ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func TestRuntime_CommandPipelineCompletes(t *testing.T) {
	f := newFixture(t, &fakeProcs{})
	ctx := context.Background()

	id, err := f.rt.RunPipeline(ctx, "default", "build", nil)
	if err != nil {
		t.Fatalf("RunPipeline: %v", err)
	}

	waitFor(t, f.rt, "pipeline completion", func(st *state.State) bool {
		p, ok := st.Pipelines[id]
		return ok && p.Completed
	})
}

func TestRuntime_AgentPipelineLifecycle(t *testing.T) {
	f := newFixture(t, &fakeProcs{})
	ctx := context.Background()

	id, err := f.rt.RunPipeline(ctx, "default", "deploy", map[string]string{"env": "prod"})
	if err != nil {
		t.Fatalf("RunPipeline: %v", err)
	}

	// The command step completes, then the agent step spawns a session and
	// the executor reports the agent started.
	waitFor(t, f.rt, "agent running", func(st *state.State) bool {
		a, ok := st.Agents[id]
		return ok && a.Status == state.AgentRunning
	})
	if f.procs.sessionCount() != 1 {
		t.Fatalf("sessions = %d, want 1", f.procs.sessionCount())
	}

	if err := f.rt.SignalAgent(ctx, id, handler.SignalComplete, ""); err != nil {
		t.Fatalf("SignalAgent: %v", err)
	}
	waitFor(t, f.rt, "pipeline completion", func(st *state.State) bool {
		return st.Pipelines[id].Completed
	})

	msgs := strings.Join(f.notify.all(), "\n")
	if !strings.Contains(msgs, "coder: Deploying prod") {
		t.Fatalf("notifications = %q, missing start message", msgs)
	}
	if !strings.Contains(msgs, "coder: Agent coder finished deploy") {
		t.Fatalf("notifications = %q, missing done message", msgs)
	}
}

func TestRuntime_AgentFailureNotifiesWithError(t *testing.T) {
	f := newFixture(t, &fakeProcs{})
	ctx := context.Background()

	id, err := f.rt.RunPipeline(ctx, "default", "deploy", nil)
	if err != nil {
		t.Fatalf("RunPipeline: %v", err)
	}
	waitFor(t, f.rt, "agent running", func(st *state.State) bool {
		a, ok := st.Agents[id]
		return ok && a.Status == state.AgentRunning
	})

	if err := f.rt.SignalAgent(ctx, id, handler.SignalFail, "task failed"); err != nil {
		t.Fatalf("SignalAgent: %v", err)
	}
	waitFor(t, f.rt, "pipeline failure", func(st *state.State) bool {
		return st.Pipelines[id].Failed()
	})

	msgs := strings.Join(f.notify.all(), "\n")
	if !strings.Contains(msgs, "coder: Agent coder failed: task failed") {
		t.Fatalf("notifications = %q, missing failure message", msgs)
	}
}

func TestRuntime_WorkerDrainsQueueSequentially(t *testing.T) {
	f := newFixture(t, &fakeProcs{})
	ctx := context.Background()

	if err := f.rt.StartWorker(ctx, "default", "w1"); err != nil {
		t.Fatalf("StartWorker: %v", err)
	}
	if err := f.rt.PushItem(ctx, "default", "builds", "item-1", "a"); err != nil {
		t.Fatalf("PushItem: %v", err)
	}
	if err := f.rt.PushItem(ctx, "default", "builds", "item-2", "b"); err != nil {
		t.Fatalf("PushItem: %v", err)
	}

	waitFor(t, f.rt, "both items completed", func(st *state.State) bool {
		a := st.Items[state.ItemKey("default", "builds", "item-1")]
		b := st.Items[state.ItemKey("default", "builds", "item-2")]
		return a != nil && b != nil && a.Status == state.ItemCompleted && b.Status == state.ItemCompleted
	})

	// Limit 1: the second dispatch must come after the first completion.
	var firstDone, secondDispatch = -1, -1
	for i, ev := range f.log.Events() {
		if ev.Kind == event.KindItemCompleted && ev.Item == "item-1" && firstDone == -1 {
			firstDone = i
		}
		if ev.Kind == event.KindItemDispatched && ev.Item == "item-2" {
			secondDispatch = i
		}
	}
	if firstDone == -1 || secondDispatch == -1 || secondDispatch < firstDone {
		t.Fatalf("dispatch order violated ceiling: first done at %d, second dispatch at %d", firstDone, secondDispatch)
	}
}

func TestRuntime_RetryBudgetThenDeadLetter(t *testing.T) {
	f := newFixture(t, &fakeProcs{failRuns: true})
	ctx := context.Background()

	if err := f.rt.StartWorker(ctx, "default", "w1"); err != nil {
		t.Fatalf("StartWorker: %v", err)
	}
	if err := f.rt.PushItem(ctx, "default", "builds", "item-1", "a"); err != nil {
		t.Fatalf("PushItem: %v", err)
	}

	// attempts=2: one retry after the cooldown, then dead on the second
	// failure.
	waitFor(t, f.rt, "dead letter", func(st *state.State) bool {
		it := st.Items[state.ItemKey("default", "builds", "item-1")]
		return it != nil && it.Status == state.ItemDead
	})

	var failures int
	for _, ev := range f.log.Events() {
		if ev.Kind == event.KindItemFailed && ev.Item == "item-1" {
			failures++
		}
	}
	if failures != 2 {
		t.Fatalf("failures = %d, want 2", failures)
	}

	msgs := strings.Join(f.notify.all(), "\n")
	if !strings.Contains(msgs, "dead-lettered after 2 failure(s)") {
		t.Fatalf("notifications = %q, missing dead-letter message", msgs)
	}
}

func TestRuntime_DeadLetterFreesSlotForNextItem(t *testing.T) {
	f := newFixture(t, &fakeProcs{failRuns: true})
	ctx := context.Background()

	// Two items queued before the limit-1 worker starts: only item-1 is
	// dispatched at first. Its dead-letter must hand the slot to item-2
	// even though nothing else touches the queue afterwards.
	if err := f.rt.PushItem(ctx, "default", "oneshots", "item-1", "a"); err != nil {
		t.Fatalf("PushItem: %v", err)
	}
	if err := f.rt.PushItem(ctx, "default", "oneshots", "item-2", "b"); err != nil {
		t.Fatalf("PushItem: %v", err)
	}
	if err := f.rt.StartWorker(ctx, "default", "solo"); err != nil {
		t.Fatalf("StartWorker: %v", err)
	}

	waitFor(t, f.rt, "both items dead", func(st *state.State) bool {
		a := st.Items[state.ItemKey("default", "oneshots", "item-1")]
		b := st.Items[state.ItemKey("default", "oneshots", "item-2")]
		return a != nil && b != nil && a.Status == state.ItemDead && b.Status == state.ItemDead
	})

	f.rt.Inspect(func(st *state.State) {
		w := st.Workers[state.WorkerKey("default", "solo")]
		if w == nil || len(w.Active) != 0 {
			t.Errorf("worker = %+v, want empty active set", w)
		}
	})
}

func TestRuntime_ResurrectDeadItemRedispatches(t *testing.T) {
	f := newFixture(t, &fakeProcs{failRuns: true})
	ctx := context.Background()

	if err := f.rt.StartWorker(ctx, "default", "w1"); err != nil {
		t.Fatalf("StartWorker: %v", err)
	}
	if err := f.rt.PushItem(ctx, "default", "builds", "item-1", "a"); err != nil {
		t.Fatalf("PushItem: %v", err)
	}
	waitFor(t, f.rt, "dead letter", func(st *state.State) bool {
		it := st.Items[state.ItemKey("default", "builds", "item-1")]
		return it != nil && it.Status == state.ItemDead
	})

	f.procs.mu.Lock()
	f.procs.failRuns = false
	f.procs.mu.Unlock()

	if err := f.rt.ResurrectItem(ctx, "default", "builds", "item-1"); err != nil {
		t.Fatalf("ResurrectItem: %v", err)
	}
	waitFor(t, f.rt, "completion after resurrection", func(st *state.State) bool {
		return st.Items[state.ItemKey("default", "builds", "item-1")].Status == state.ItemCompleted
	})
}

func TestRuntime_ExternalQueuePollListsAndDispatches(t *testing.T) {
	f := newFixture(t, &fakeProcs{})
	ctx := context.Background()

	if err := f.rt.StartWorker(ctx, "default", "reader"); err != nil {
		t.Fatalf("StartWorker: %v", err)
	}

	waitFor(t, f.rt, "listed items completed", func(st *state.State) bool {
		a := st.Items[state.ItemKey("default", "inbox", "mail-1")]
		b := st.Items[state.ItemKey("default", "inbox", "mail-2")]
		return a != nil && b != nil && a.Status == state.ItemCompleted && b.Status == state.ItemCompleted
	})

	// Let at least one more poll relist the same items: dedup must hold.
	time.Sleep(60 * time.Millisecond)
	f.rt.Inspect(func(st *state.State) {
		if n := len(st.Items); n != 2 {
			t.Errorf("items = %d, want 2 after relisting", n)
		}
	})
}

func TestRuntime_CronStartArmsTimerStopClearsIt(t *testing.T) {
	f := newFixture(t, &fakeProcs{})
	ctx := context.Background()

	if err := f.rt.StartCron(ctx, "default", "nightly"); err != nil {
		t.Fatalf("StartCron: %v", err)
	}
	waitFor(t, f.rt, "cron timer armed", func(st *state.State) bool {
		_, ok := st.Timers["cron/default/nightly"]
		return ok
	})

	if err := f.rt.StopCron(ctx, "default", "nightly"); err != nil {
		t.Fatalf("StopCron: %v", err)
	}
	waitFor(t, f.rt, "cron timer cleared", func(st *state.State) bool {
		_, ok := st.Timers["cron/default/nightly"]
		return !ok && st.Crons[state.CronKey("default", "nightly")] == nil
	})
}

func TestRuntime_StopRacesTriggerEnqueue(t *testing.T) {
	f := newFixture(t, &fakeProcs{})

	// Hammer the trigger path while Stop drains: enqueue and shutdown
	// must not interleave into a WaitGroup misuse panic.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			f.rt.spawn(trigger{key: "poll/default/w1"})
		}
	}()
	f.rt.Stop()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("spawner did not finish")
	}
}

func TestRuntime_RestoreReproducesState(t *testing.T) {
	f := newFixture(t, &fakeProcs{})
	ctx := context.Background()

	if err := f.rt.StartWorker(ctx, "default", "w1"); err != nil {
		t.Fatalf("StartWorker: %v", err)
	}
	if err := f.rt.PushItem(ctx, "default", "builds", "item-1", "a"); err != nil {
		t.Fatalf("PushItem: %v", err)
	}
	waitFor(t, f.rt, "item completed", func(st *state.State) bool {
		it := st.Items[state.ItemKey("default", "builds", "item-1")]
		return it != nil && it.Status == state.ItemCompleted
	})
	f.rt.Stop()

	var live *state.State
	f.rt.Inspect(func(st *state.State) { live = st })

	restored := New(Config{
		Log:   f.log,
		Defs:  defs.NewRegistry(testFiles()),
		Procs: &fakeProcs{},
	})
	if err := restored.Restore(ctx); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	defer restored.Stop()

	restored.Inspect(func(st *state.State) {
		if !reflect.DeepEqual(st, live) {
			t.Fatalf("restored state diverged:\nlive:     %+v\nrestored: %+v", live, st)
		}
	})
}
