package vaultsync

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestTemplateWatcherReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "template.md")
	if err := os.WriteFile(path, []byte("v1 {title}"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	watcher, err := NewTemplateWatcher(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("new template watcher failed: %v", err)
	}
	if got, _ := watcher.Template(); got != "v1 {title}" {
		t.Fatalf("unexpected initial template %q", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = watcher.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for {
		// Rewrite until observed; the watch may not be registered yet.
		if err := os.WriteFile(path, []byte("v2 {title}"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		if got, _ := watcher.Template(); got == "v2 {title}" {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("template was not reloaded")
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestTemplateWatcherMissingFile(t *testing.T) {
	if _, err := NewTemplateWatcher(filepath.Join(t.TempDir(), "missing.md"), zerolog.Nop()); err == nil {
		t.Fatalf("expected error for missing template")
	}
}
