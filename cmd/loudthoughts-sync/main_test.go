package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/loudthoughts/loudthoughts/internal/provider"
	"github.com/loudthoughts/loudthoughts/internal/vaultsync"
)

type fakeBufferAPI struct {
	mu       sync.Mutex
	entries  []vaultsync.RemoteEntry
	consumed []string
}

func (f *fakeBufferAPI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/buffer", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(vaultsync.BufferResponse{Entries: f.entries})
	})
	mux.HandleFunc("/v1/buffer/consume", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ID string `json:"id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode consume body: %v", err)
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		f.consumed = append(f.consumed, body.ID)
		kept := f.entries[:0]
		for _, entry := range f.entries {
			if entry.Data.ID != body.ID {
				kept = append(kept, entry)
			}
		}
		f.entries = kept
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func writeSettings(t *testing.T, vaultDir string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "loudthoughts.yaml")
	content := "vaultDir: " + vaultDir + "\nfolderPath: Inbox\nupdateMode: overwrite\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write settings: %v", err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestEnvOrDefault(t *testing.T) {
	t.Setenv("LOUDTHOUGHTS_TEST_VALUE", "  set  ")
	if got := envOrDefault("LOUDTHOUGHTS_TEST_VALUE", "fallback"); got != "set" {
		t.Fatalf("expected trimmed env value, got %q", got)
	}
	t.Setenv("LOUDTHOUGHTS_TEST_VALUE", " ")
	if got := envOrDefault("LOUDTHOUGHTS_TEST_VALUE", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
}

func TestRootCommandWiresSubcommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"run", "resync", "clear"} {
		found, _, err := root.Find([]string{name})
		if err != nil || found.Name() != name {
			t.Fatalf("expected subcommand %q, got %v (err %v)", name, found, err)
		}
	}
	if root.PersistentFlags().Lookup("base-url") == nil || root.PersistentFlags().Lookup("token") == nil {
		t.Fatalf("expected base-url and token persistent flags")
	}
}

func TestResyncWritesNotesIntoVault(t *testing.T) {
	api := &fakeBufferAPI{entries: []vaultsync.RemoteEntry{{
		Key:       "k1",
		ID:        "e1",
		ExpiresAt: time.Now().Add(time.Hour).UTC(),
		Data: provider.Note{
			Platform:    provider.PlatformAudioPen,
			ID:          "n1",
			Title:       "Morning walk",
			Content:     "notes from the park",
			Tags:        []string{"ideas"},
			DateCreated: "01/02/2024",
		},
	}}}
	server := httptest.NewServer(api.handler(t))
	defer server.Close()

	vaultDir := t.TempDir()
	settingsPath := writeSettings(t, vaultDir)
	out, err := execute(t, "resync", "--base-url", server.URL, "--token", "test-token", "--settings", settingsPath)
	if err != nil {
		t.Fatalf("resync failed: %v (output %q)", err, out)
	}
	if !strings.Contains(out, "applied 1, failed 0") {
		t.Fatalf("unexpected output %q", out)
	}
	data, err := os.ReadFile(filepath.Join(vaultDir, "Inbox", "Morning walk.md"))
	if err != nil {
		t.Fatalf("expected note file: %v", err)
	}
	if !strings.Contains(string(data), "notes from the park") {
		t.Fatalf("note content missing from file: %q", string(data))
	}
	if len(api.consumed) != 1 || api.consumed[0] != "n1" {
		t.Fatalf("expected n1 consumed, got %v", api.consumed)
	}
}

func TestClearConsumesWithoutWriting(t *testing.T) {
	api := &fakeBufferAPI{}
	server := httptest.NewServer(api.handler(t))
	defer server.Close()

	out, err := execute(t, "clear", "n7", "n8", "--base-url", server.URL, "--token", "test-token")
	if err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if !strings.Contains(out, "cleared n7") || !strings.Contains(out, "cleared n8") {
		t.Fatalf("unexpected output %q", out)
	}
	if len(api.consumed) != 2 {
		t.Fatalf("expected two consume calls, got %v", api.consumed)
	}
}

func TestCommandsRequireToken(t *testing.T) {
	t.Setenv("LOUDTHOUGHTS_TOKEN", "")
	if _, err := execute(t, "clear", "n1", "--base-url", "http://127.0.0.1:1"); err == nil {
		t.Fatalf("expected missing token error")
	}
}
