package vaultsync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/loudthoughts/loudthoughts/internal/provider"
)

type fakeClient struct {
	mu         sync.Mutex
	entries    []RemoteEntry
	consumed   []string
	consumeErr map[string]error
	fetchErr   error
	feed       chan FeedEvent
}

func (f *fakeClient) FetchBuffer(_ context.Context) ([]RemoteEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	out := make([]RemoteEntry, len(f.entries))
	copy(out, f.entries)
	return out, nil
}

func (f *fakeClient) Consume(_ context.Context, noteID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.consumeErr[noteID]; err != nil {
		return err
	}
	f.consumed = append(f.consumed, noteID)
	kept := f.entries[:0]
	for _, entry := range f.entries {
		if entry.Data.ID != noteID {
			kept = append(kept, entry)
		}
	}
	f.entries = kept
	return nil
}

func (f *fakeClient) Subscribe(ctx context.Context) <-chan FeedEvent {
	return f.feed
}

func (f *fakeClient) consumedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.consumed...)
}

type fakeSink struct {
	mu      sync.Mutex
	applied []provider.Note
	fail    map[string]error
}

func (f *fakeSink) Apply(_ context.Context, note provider.Note) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[note.ID]; err != nil {
		return &SinkApplyError{NoteID: note.ID, Err: err}
	}
	f.applied = append(f.applied, note)
	return nil
}

func (f *fakeSink) appliedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.applied))
	for _, note := range f.applied {
		ids = append(ids, note.ID)
	}
	return ids
}

func remoteEntry(key, id, title string) RemoteEntry {
	return RemoteEntry{
		Key: key,
		ID:  id,
		Data: provider.Note{
			Platform:    provider.PlatformAudioPen,
			ID:          id,
			Title:       title,
			Content:     "content " + title,
			Tags:        []string{},
			DateCreated: "01/02/2024",
		},
	}
}

func newTestSyncer(t *testing.T, client *fakeClient, sink *fakeSink) *Syncer {
	t.Helper()
	syncer, err := NewSyncer(client, sink, SyncerOptions{})
	if err != nil {
		t.Fatalf("new syncer failed: %v", err)
	}
	return syncer
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSyncerAppliesReconciledNotesInOrder(t *testing.T) {
	client := &fakeClient{}
	sink := &fakeSink{}
	syncer := newTestSyncer(t, client, sink)

	entries := []RemoteEntry{
		remoteEntry("k1", "a", "first"),
		remoteEntry("k2", "b", "second"),
		remoteEntry("k3", "a", "first again"),
	}
	client.entries = entries
	result := syncer.ProcessSnapshot(context.Background(), entries)

	if !equalIDs(sink.appliedIDs(), []string{"b", "a"}) {
		t.Fatalf("expected last occurrence ordering [b a], got %v", sink.appliedIDs())
	}
	if sink.applied[1].Title != "first again" {
		t.Fatalf("expected latest version of a, got %q", sink.applied[1].Title)
	}
	if !equalIDs(client.consumedIDs(), []string{"b", "a"}) {
		t.Fatalf("expected consume order [b a], got %v", client.consumedIDs())
	}
	if !equalIDs(result.Applied, []string{"b", "a"}) || len(result.Failed) != 0 {
		t.Fatalf("unexpected batch result: %+v", result)
	}
	if syncer.Status() != StatusOK {
		t.Fatalf("expected status ok, got %s", syncer.Status())
	}
	if states := syncer.NoteStates(); states["a"] != NoteConsumed || states["b"] != NoteConsumed {
		t.Fatalf("unexpected note states: %v", states)
	}
}

func TestSyncerIsolatesFailingNote(t *testing.T) {
	client := &fakeClient{}
	sink := &fakeSink{fail: map[string]error{"b": errors.New("disk full")}}
	syncer := newTestSyncer(t, client, sink)

	entries := []RemoteEntry{
		remoteEntry("k1", "a", "one"),
		remoteEntry("k2", "b", "two"),
		remoteEntry("k3", "c", "three"),
	}
	client.entries = entries
	result := syncer.ProcessSnapshot(context.Background(), entries)

	if !equalIDs(sink.appliedIDs(), []string{"a", "c"}) {
		t.Fatalf("expected a and c applied, got %v", sink.appliedIDs())
	}
	if !equalIDs(client.consumedIDs(), []string{"a", "c"}) {
		t.Fatalf("failed note must not be consumed, got %v", client.consumedIDs())
	}
	if !errors.Is(result.Failed["b"], ErrSinkApply) {
		t.Fatalf("expected sink apply error for b, got %v", result.Failed["b"])
	}
	if syncer.Status() != StatusError {
		t.Fatalf("expected status error, got %s", syncer.Status())
	}
	if syncer.NoteStates()["b"] != NoteFailed {
		t.Fatalf("expected b failed, got %s", syncer.NoteStates()["b"])
	}

	remaining, _ := client.FetchBuffer(context.Background())
	if len(remaining) != 1 || remaining[0].ID != "b" {
		t.Fatalf("expected b to stay in the buffer, got %+v", remaining)
	}

	sink.fail = nil
	result = syncer.ProcessSnapshot(context.Background(), remaining)
	if !equalIDs(result.Applied, []string{"b"}) || syncer.Status() != StatusOK {
		t.Fatalf("expected retry to apply b, got %+v status %s", result, syncer.Status())
	}
}

func TestSyncerKeepsNotePendingWhenConsumeFails(t *testing.T) {
	client := &fakeClient{consumeErr: map[string]error{"a": errors.New("server down")}}
	sink := &fakeSink{}
	syncer := newTestSyncer(t, client, sink)

	entries := []RemoteEntry{remoteEntry("k1", "a", "one")}
	client.entries = entries
	result := syncer.ProcessSnapshot(context.Background(), entries)

	if !equalIDs(sink.appliedIDs(), []string{"a"}) {
		t.Fatalf("expected a applied once, got %v", sink.appliedIDs())
	}
	if result.Failed["a"] == nil || errors.Is(result.Failed["a"], ErrSinkApply) {
		t.Fatalf("expected consume failure for a, got %v", result.Failed["a"])
	}
	if len(client.entries) != 1 {
		t.Fatalf("expected a to remain buffered")
	}
}

func TestSyncerEmptySnapshotReportsOK(t *testing.T) {
	syncer := newTestSyncer(t, &fakeClient{}, &fakeSink{})
	if syncer.Status() != StatusOffline {
		t.Fatalf("expected initial status offline, got %s", syncer.Status())
	}
	result := syncer.ProcessSnapshot(context.Background(), nil)
	if len(result.Applied) != 0 || len(result.Failed) != 0 {
		t.Fatalf("expected empty result, got %+v", result)
	}
	if syncer.Status() != StatusOK {
		t.Fatalf("expected status ok, got %s", syncer.Status())
	}
}

func TestSyncerCancelledContextLeavesNotesPending(t *testing.T) {
	client := &fakeClient{}
	sink := &fakeSink{}
	syncer := newTestSyncer(t, client, sink)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	entries := []RemoteEntry{remoteEntry("k1", "a", "one"), remoteEntry("k2", "b", "two")}
	result := syncer.ProcessSnapshot(ctx, entries)

	if len(sink.appliedIDs()) != 0 || len(client.consumedIDs()) != 0 {
		t.Fatalf("expected nothing applied after cancellation")
	}
	if len(result.Failed) != 2 {
		t.Fatalf("expected both notes failed, got %+v", result)
	}
	if syncer.NoteStates()["a"] != NotePending {
		t.Fatalf("expected a pending, got %s", syncer.NoteStates()["a"])
	}
}

func TestSyncerResyncFetchesBuffer(t *testing.T) {
	client := &fakeClient{entries: []RemoteEntry{remoteEntry("k1", "a", "one")}}
	sink := &fakeSink{}
	syncer := newTestSyncer(t, client, sink)

	result, err := syncer.Resync(context.Background())
	if err != nil {
		t.Fatalf("resync failed: %v", err)
	}
	if !equalIDs(result.Applied, []string{"a"}) {
		t.Fatalf("expected a applied, got %+v", result)
	}

	client.fetchErr = errors.New("unreachable")
	if _, err := syncer.Resync(context.Background()); err == nil {
		t.Fatalf("expected fetch error")
	}
	if syncer.Status() != StatusError {
		t.Fatalf("expected status error, got %s", syncer.Status())
	}
}

func TestSyncerClearConsumesWithoutApplying(t *testing.T) {
	client := &fakeClient{entries: []RemoteEntry{remoteEntry("k1", "a", "one")}}
	sink := &fakeSink{}
	syncer := newTestSyncer(t, client, sink)

	if err := syncer.Clear(context.Background(), "a"); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if len(sink.appliedIDs()) != 0 {
		t.Fatalf("clear must not apply the note")
	}
	if len(client.entries) != 0 {
		t.Fatalf("expected buffer empty after clear")
	}
	if syncer.NoteStates()["a"] != NoteCleared {
		t.Fatalf("expected a cleared, got %s", syncer.NoteStates()["a"])
	}
}

func TestSyncerRunFollowsFeed(t *testing.T) {
	client := &fakeClient{feed: make(chan FeedEvent, 1)}
	sink := &fakeSink{}
	syncer := newTestSyncer(t, client, sink)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- syncer.Run(ctx) }()

	client.feed <- FeedEvent{Err: errors.New("dial failed")}
	client.feed <- FeedEvent{Entries: []RemoteEntry{remoteEntry("k1", "a", "one")}}

	deadline := time.Now().Add(5 * time.Second)
	for len(client.consumedIDs()) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for feed snapshot to be applied")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	if syncer.Status() != StatusOK {
		t.Fatalf("expected status ok, got %s", syncer.Status())
	}
}

func TestNewSyncerRequiresClientAndSink(t *testing.T) {
	if _, err := NewSyncer(nil, &fakeSink{}, SyncerOptions{}); err == nil {
		t.Fatalf("expected error for nil client")
	}
	if _, err := NewSyncer(&fakeClient{}, nil, SyncerOptions{}); err == nil {
		t.Fatalf("expected error for nil sink")
	}
}
