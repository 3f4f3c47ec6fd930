package backend

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hiveworks/swarmd/internal/logging"
)

func TestShellBackendExecute(t *testing.T) {
	b := NewShellBackend(t.TempDir(), logging.Nop())

	res, err := b.Execute(context.Background(), Request{
		ItemID: "wi-1",
		Title:  "greet",
		Payload: map[string]any{
			"command": "echo hello $SWARMD_ITEM_ID",
		},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got := strings.TrimSpace(res.Output); got != "hello wi-1" {
		t.Errorf("output = %q", got)
	}
}

func TestShellBackendMissingCommand(t *testing.T) {
	b := NewShellBackend("", logging.Nop())
	if _, err := b.Execute(context.Background(), Request{Payload: map[string]any{}}); err == nil {
		t.Fatal("expected error for empty payload")
	}
}

func TestShellBackendFailureIncludesStderr(t *testing.T) {
	b := NewShellBackend("", logging.Nop())
	_, err := b.Execute(context.Background(), Request{
		Payload: map[string]any{"command": "echo boom >&2; exit 3"},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("error should carry stderr, got %v", err)
	}
}

func TestShellBackendTimeout(t *testing.T) {
	b := NewShellBackend("", logging.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := b.Execute(ctx, Request{
		Payload: map[string]any{"command": "sleep 10"},
	})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline error, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("timeout did not cancel the subprocess promptly")
	}
}

func TestRegistry(t *testing.T) {
	shell := NewShellBackend("", logging.Nop())
	r := NewRegistry(shell)

	got, err := r.Get("shell")
	if err != nil || got != Backend(shell) {
		t.Errorf("Get(shell) = %v, %v", got, err)
	}
	if _, err := r.Get("nonexistent"); !errors.Is(err, ErrUnknownBackend) {
		t.Errorf("expected ErrUnknownBackend, got %v", err)
	}
}
