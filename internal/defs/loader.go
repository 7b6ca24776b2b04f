package defs

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadDir reads and validates every *.yaml/*.yml runbook in dir. Invalid
// definitions are rejected here, with the offending file and field named,
// so the runtime core never sees a bad definition.
func LoadDir(dir string) ([]File, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext == ".yaml" || ext == ".yml" {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)

	var files []File
	for _, path := range paths {
		f, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}

// LoadFile reads and validates a single runbook file.
func LoadFile(path string) (File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return File{}, err
	}
	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return File{}, fmt.Errorf("%s: %w", path, err)
	}
	if f.Namespace == "" {
		f.Namespace = "default"
	}
	if err := Validate(&f); err != nil {
		return File{}, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Validate checks one file's definitions for internal consistency:
// names present and slash-free, cross-references resolvable, schedules
// parseable, steps well-formed.
func Validate(f *File) error {
	if strings.Contains(f.Namespace, "/") {
		return fmt.Errorf("namespace %q must not contain '/'", f.Namespace)
	}

	agents := make(map[string]bool)
	for i := range f.Agents {
		a := &f.Agents[i]
		if err := checkName("agent", a.Name); err != nil {
			return err
		}
		if len(a.Command) == 0 {
			return fmt.Errorf("agent %q: command is required", a.Name)
		}
		agents[a.Name] = true
	}

	pipelines := make(map[string]bool)
	for i := range f.Pipelines {
		p := &f.Pipelines[i]
		if err := checkName("pipeline", p.Name); err != nil {
			return err
		}
		if len(p.Steps) == 0 {
			return fmt.Errorf("pipeline %q: at least one step is required", p.Name)
		}
		for j := range p.Steps {
			s := &p.Steps[j]
			if s.Name == "" {
				return fmt.Errorf("pipeline %q: step %d: name is required", p.Name, j)
			}
			hasAgent := s.Agent != ""
			hasCmd := len(s.Command) > 0
			if hasAgent == hasCmd {
				return fmt.Errorf("pipeline %q: step %q: exactly one of agent or command is required", p.Name, s.Name)
			}
			if hasAgent && !agents[s.Agent] {
				return fmt.Errorf("pipeline %q: step %q: unknown agent %q", p.Name, s.Name, s.Agent)
			}
		}
		pipelines[p.Name] = true
	}

	queues := make(map[string]bool)
	for i := range f.Queues {
		q := &f.Queues[i]
		if err := checkName("queue", q.Name); err != nil {
			return err
		}
		switch q.Type {
		case "", QueuePersisted:
			q.Type = QueuePersisted
		case QueueExternal:
			if len(q.ListCommand) == 0 {
				return fmt.Errorf("queue %q: external queues require list_command", q.Name)
			}
		default:
			return fmt.Errorf("queue %q: unknown type %q", q.Name, q.Type)
		}
		if q.Retry != nil {
			if q.Retry.Attempts < 0 {
				return fmt.Errorf("queue %q: retry.attempts must be >= 0", q.Name)
			}
			if q.Retry.Attempts > 0 && q.Retry.Cooldown.Std() <= 0 {
				return fmt.Errorf("queue %q: retry.cooldown must be positive when attempts > 0", q.Name)
			}
		}
		queues[q.Name] = true
	}

	for i := range f.Workers {
		w := &f.Workers[i]
		if err := checkName("worker", w.Name); err != nil {
			return err
		}
		if !queues[w.Queue] {
			return fmt.Errorf("worker %q: unknown queue %q", w.Name, w.Queue)
		}
		if !pipelines[w.Pipeline] {
			return fmt.Errorf("worker %q: unknown pipeline %q", w.Name, w.Pipeline)
		}
		if w.Limit < 0 {
			return fmt.Errorf("worker %q: limit must be >= 0", w.Name)
		}
	}

	for i := range f.Crons {
		c := &f.Crons[i]
		if err := checkName("cron", c.Name); err != nil {
			return err
		}
		if !pipelines[c.Pipeline] {
			return fmt.Errorf("cron %q: unknown pipeline %q", c.Name, c.Pipeline)
		}
		if _, err := NextRun(c.Schedule, time.Now()); err != nil {
			return fmt.Errorf("cron %q: invalid schedule %q: %w", c.Name, c.Schedule, err)
		}
	}

	return nil
}

func checkName(kind, name string) error {
	if name == "" {
		return fmt.Errorf("%s: name is required", kind)
	}
	if strings.Contains(name, "/") {
		return fmt.Errorf("%s %q: name must not contain '/'", kind, name)
	}
	return nil
}
