package proc

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// SourceItem is one listed item of an external queue.
type SourceItem struct {
	ID      string
	Payload string
}

// Source lists the current items of an external queue. Each poll fetches
// the full listing; already-known items are deduplicated downstream.
type Source interface {
	List(ctx context.Context) ([]SourceItem, error)
}

// CommandSource lists items by running a command that prints one item per
// line: the id, optionally followed by a tab and the payload.
type CommandSource struct {
	Command []string
}

func (s CommandSource) List(ctx context.Context) ([]SourceItem, error) {
	if len(s.Command) == 0 {
		return nil, fmt.Errorf("empty list command")
	}
	cmd := exec.CommandContext(ctx, s.Command[0], s.Command[1:]...)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.Command[0], err)
	}

	var items []SourceItem
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		id, payload, _ := strings.Cut(line, "\t")
		items = append(items, SourceItem{ID: id, Payload: payload})
	}
	return items, nil
}
