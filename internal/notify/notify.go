// Package notify provides the notification delivery capability. Delivery
// is best effort: the executor logs failures and moves on, so a broken
// notifier can never fail a lifecycle transition.
package notify

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// Notifier delivers one notification.
type Notifier interface {
	Name() string
	Send(ctx context.Context, title, message string) error
}

// Nop discards notifications.
type Nop struct{}

func (Nop) Name() string                               { return "nop" }
func (Nop) Send(context.Context, string, string) error { return nil }

// Desktop delivers desktop notifications: osascript on macOS,
// notify-send elsewhere.
type Desktop struct{}

func (Desktop) Name() string { return "desktop" }

func (Desktop) Send(ctx context.Context, title, message string) error {
	if runtime.GOOS == "darwin" {
		script := fmt.Sprintf(`display notification %q with title %q`, escapeAppleScript(message), escapeAppleScript(title))
		return runCmd(ctx, "osascript", "-e", script)
	}
	return runCmd(ctx, "notify-send", title, message)
}

func runCmd(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func escapeAppleScript(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}

// Multi fans a notification out to several notifiers, returning the first
// error after trying all of them.
type Multi []Notifier

func (Multi) Name() string { return "multi" }

func (m Multi) Send(ctx context.Context, title, message string) error {
	var firstErr error
	for _, n := range m {
		if err := n.Send(ctx, title, message); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%s: %w", n.Name(), err)
		}
	}
	return firstErr
}
