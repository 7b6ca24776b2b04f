// Package proc provides the process and session control capability the
// executor spawns agents and runs step commands through. Production uses
// the tmux-backed controller; tests inject fakes satisfying the same
// interface.
package proc

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
)

// Controller abstracts process and session control.
type Controller interface {
	// SpawnSession starts a detached interactive session running command.
	SpawnSession(ctx context.Context, name string, command []string) error
	// KillSession tears the named session down. Killing an absent session
	// is not an error.
	KillSession(ctx context.Context, name string) error
	// Run executes a one-shot command to completion.
	Run(ctx context.Context, command []string) error
}

// unsafeSessionChars matches characters tmux treats specially in session
// names (`:` and `.` resolve targets).
var unsafeSessionChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// SessionName builds the tmux session name for a pipeline's agent. The
// name doubles as the agent's identity for operators attaching manually.
func SessionName(pipeline, agent string) string {
	short := pipeline
	if len(short) > 8 {
		short = short[:8]
	}
	return unsafeSessionChars.ReplaceAllString("orchard-"+short+"-"+agent, "_")
}

// Tmux is the production Controller, shelling out to tmux for sessions
// and plain exec for one-shot commands.
type Tmux struct{}

func (Tmux) SpawnSession(ctx context.Context, name string, command []string) error {
	args := append([]string{"new-session", "-d", "-s", name, "--"}, command...)
	return tmux(ctx, args...)
}

func (Tmux) KillSession(ctx context.Context, name string) error {
	err := tmux(ctx, "kill-session", "-t", name)
	if err != nil && strings.Contains(err.Error(), "can't find session") {
		return nil
	}
	return err
}

func (Tmux) Run(ctx context.Context, command []string) error {
	if len(command) == 0 {
		return fmt.Errorf("empty command")
	}
	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", command[0], err, firstLine(out))
	}
	return nil
}

func tmux(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, "tmux", args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("tmux %s: %w: %s", args[0], err, firstLine(out))
	}
	return nil
}

func firstLine(out []byte) string {
	s := strings.TrimSpace(string(out))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}
