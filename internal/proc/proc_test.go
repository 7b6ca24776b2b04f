package proc

import (
	"context"
	"strings"
	"testing"
)

func TestSessionName(t *testing.T) {
	got := SessionName("0d9c1d2e-aaaa-bbbb-cccc-ddddeeee0000", "coder")
	if got != "orchard-0d9c1d2e-coder" {
		t.Fatalf("SessionName = %q", got)
	}

	// Short pipeline ids are used as-is.
	if got := SessionName("p1", "coder"); got != "orchard-p1-coder" {
		t.Fatalf("SessionName = %q", got)
	}

	// Characters tmux treats specially are stripped.
	got = SessionName("p1", "my.agent:v2")
	if strings.ContainsAny(got, ".:") {
		t.Fatalf("SessionName = %q, contains unsafe characters", got)
	}
}

func TestCommandSource_ParsesListing(t *testing.T) {
	src := CommandSource{Command: []string{"printf", "mail-1\tpayload a\nmail-2\n\n"}}
	items, err := src.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %+v, want 2", items)
	}
	if items[0].ID != "mail-1" || items[0].Payload != "payload a" {
		t.Fatalf("items[0] = %+v", items[0])
	}
	if items[1].ID != "mail-2" || items[1].Payload != "" {
		t.Fatalf("items[1] = %+v", items[1])
	}
}

func TestCommandSource_EmptyCommand(t *testing.T) {
	if _, err := (CommandSource{}).List(context.Background()); err == nil {
		t.Fatal("empty command accepted")
	}
}

func TestFirstLine(t *testing.T) {
	if got := firstLine([]byte("error line\nmore\n")); got != "error line" {
		t.Fatalf("firstLine = %q", got)
	}
	if got := firstLine([]byte("  padded  ")); got != "padded" {
		t.Fatalf("firstLine = %q", got)
	}
	if got := firstLine(nil); got != "" {
		t.Fatalf("firstLine(nil) = %q", got)
	}
}
