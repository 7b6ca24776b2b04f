package defs

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const goodRunbook = `
namespace: ci
agents:
  - name: coder
    command: ["claude", "--task"]
    notify:
      on_done: "Agent ${agent} finished"
pipelines:
  - name: deploy
    steps:
      - name: build
        command: ["make", "build"]
      - name: review
        agent: coder
queues:
  - name: builds
    retry:
      attempts: 3
      cooldown: 5m
workers:
  - name: w1
    queue: builds
    pipeline: deploy
    limit: 2
    poll_interval: 30s
    autostart: true
crons:
  - name: nightly
    schedule: "@every 1h"
    pipeline: deploy
`

func writeRunbook(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	writeRunbook(t, dir, "ci.yaml", goodRunbook)

	f, err := LoadFile(filepath.Join(dir, "ci.yaml"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if f.Namespace != "ci" {
		t.Fatalf("namespace = %q, want ci", f.Namespace)
	}
	if len(f.Pipelines) != 1 || len(f.Pipelines[0].Steps) != 2 {
		t.Fatalf("pipelines = %+v", f.Pipelines)
	}
	if f.Queues[0].Type != QueuePersisted {
		t.Fatalf("queue type = %q, want persisted default", f.Queues[0].Type)
	}
	if got := f.Queues[0].Retry.Cooldown.Std(); got != 5*time.Minute {
		t.Fatalf("cooldown = %v, want 5m", got)
	}
	if got := f.Workers[0].PollInterval.Std(); got != 30*time.Second {
		t.Fatalf("poll_interval = %v, want 30s", got)
	}
	if !f.Workers[0].AutoStart {
		t.Fatal("autostart not parsed")
	}
}

func TestLoadFile_DefaultNamespace(t *testing.T) {
	dir := t.TempDir()
	writeRunbook(t, dir, "x.yaml", "queues:\n  - name: q\n")

	f, err := LoadFile(filepath.Join(dir, "x.yaml"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if f.Namespace != "default" {
		t.Fatalf("namespace = %q, want default", f.Namespace)
	}
}

func TestLoadDir_SkipsNonYAML(t *testing.T) {
	dir := t.TempDir()
	writeRunbook(t, dir, "a.yaml", goodRunbook)
	writeRunbook(t, dir, "notes.txt", "not a runbook")

	files, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("files = %d, want 1", len(files))
	}
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "slash in name",
			body: "queues:\n  - name: a/b\n",
			want: "must not contain",
		},
		{
			name: "agent without command",
			body: "agents:\n  - name: coder\n",
			want: "command is required",
		},
		{
			name: "step with both agent and command",
			body: `
agents:
  - name: coder
    command: ["x"]
pipelines:
  - name: p
    steps:
      - name: s
        agent: coder
        command: ["x"]
`,
			want: "exactly one of agent or command",
		},
		{
			name: "step with neither",
			body: "pipelines:\n  - name: p\n    steps:\n      - name: s\n",
			want: "exactly one of agent or command",
		},
		{
			name: "unknown agent reference",
			body: "pipelines:\n  - name: p\n    steps:\n      - name: s\n        agent: ghost\n",
			want: "unknown agent",
		},
		{
			name: "worker with unknown queue",
			body: `
pipelines:
  - name: p
    steps:
      - name: s
        command: ["x"]
workers:
  - name: w
    queue: ghost
    pipeline: p
`,
			want: "unknown queue",
		},
		{
			name: "external queue without list command",
			body: "queues:\n  - name: q\n    type: external\n",
			want: "require list_command",
		},
		{
			name: "retry without cooldown",
			body: "queues:\n  - name: q\n    retry:\n      attempts: 2\n",
			want: "cooldown must be positive",
		},
		{
			name: "bad cron schedule",
			body: `
pipelines:
  - name: p
    steps:
      - name: s
        command: ["x"]
crons:
  - name: c
    schedule: "not a schedule"
    pipeline: p
`,
			want: "invalid schedule",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeRunbook(t, dir, "bad.yaml", tt.body)
			_, err := LoadFile(filepath.Join(dir, "bad.yaml"))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestRegistry_ReloadSwapsSet(t *testing.T) {
	r := NewRegistry([]File{{Namespace: "a", Queues: []Queue{{Name: "q1", Type: QueuePersisted}}}})
	if _, ok := r.Queue("a", "q1"); !ok {
		t.Fatal("q1 not found before reload")
	}

	r.Reload([]File{{Namespace: "a", Queues: []Queue{{Name: "q2", Type: QueuePersisted}}}})
	if _, ok := r.Queue("a", "q1"); ok {
		t.Fatal("q1 survived reload")
	}
	if _, ok := r.Queue("a", "q2"); !ok {
		t.Fatal("q2 not found after reload")
	}
}

func TestNextRun(t *testing.T) {
	after := time.Date(2026, 8, 1, 12, 30, 0, 0, time.UTC)
	next, err := NextRun("0 3 * * *", after)
	if err != nil {
		t.Fatalf("NextRun: %v", err)
	}
	want := time.Date(2026, 8, 2, 3, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}

	if _, err := NextRun("garbage", after); err == nil {
		t.Fatal("garbage schedule accepted")
	}
}
