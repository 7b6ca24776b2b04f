// Package audit writes an operator-inspectable JSONL trail of every
// event the runtime applies. The trail is derivative: the sqlite event
// log stays authoritative, this file is for grepping.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/basket/orchard/internal/bus"
	"github.com/basket/orchard/internal/event"
)

type entry struct {
	Timestamp string `json:"timestamp"`
	Kind      string `json:"kind"`
	Namespace string `json:"namespace,omitempty"`
	Pipeline  string `json:"pipeline,omitempty"`
	Worker    string `json:"worker,omitempty"`
	Queue     string `json:"queue,omitempty"`
	Item      string `json:"item,omitempty"`
	TimerKey  string `json:"timer_key,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Trail appends applied events to logs/audit.jsonl in the orchard home
// directory.
type Trail struct {
	mu     sync.Mutex
	file   *os.File
	logger *slog.Logger
}

// Open creates the trail file.
func Open(homeDir string, logger *slog.Logger) (*Trail, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logDir := filepath.Join(homeDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(logDir, "audit.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &Trail{file: f, logger: logger}, nil
}

// Watch consumes the subscription until ctx is done, recording every
// published runtime event. Run it on its own goroutine.
func (t *Trail) Watch(ctx context.Context, sub *bus.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Ch():
			if !ok {
				return
			}
			ev, ok := msg.Payload.(event.Event)
			if !ok {
				continue
			}
			t.Record(ev)
		}
	}
}

// Record appends one event to the trail. Failures are logged, never
// propagated.
func (t *Trail) Record(ev event.Event) {
	e := entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Kind:      string(ev.Kind),
		Namespace: ev.Namespace,
		Pipeline:  ev.Pipeline,
		Worker:    ev.Worker,
		Queue:     ev.Queue,
		Item:      ev.Item,
		TimerKey:  ev.TimerKey,
		Error:     ev.Error,
	}
	line, err := json.Marshal(e)
	if err != nil {
		return
	}
	line = append(line, '\n')

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file == nil {
		return
	}
	if _, err := t.file.Write(line); err != nil {
		t.logger.Warn("audit write failed", "error", err)
	}
}

// Close closes the trail file.
func (t *Trail) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file == nil {
		return nil
	}
	err := t.file.Close()
	t.file = nil
	return err
}
