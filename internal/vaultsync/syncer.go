// Package vaultsync drains a user's remote buffer into a markdown vault.
package vaultsync

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/loudthoughts/loudthoughts/internal/buffer"
)

type Status string

const (
	StatusOffline Status = "offline"
	StatusOK      Status = "ok"
	StatusSync    Status = "sync"
	StatusError   Status = "error"
)

// NoteState is where a note is in the consumer lifecycle.
type NoteState string

const (
	NotePending  NoteState = "pending"
	NoteApplying NoteState = "applying"
	NoteConsumed NoteState = "consumed"
	NoteFailed   NoteState = "failed"
	NoteCleared  NoteState = "cleared"
)

type BatchResult struct {
	Applied []string
	Failed  map[string]error
}

type SyncerOptions struct {
	Logger zerolog.Logger
}

// Syncer applies reconciled buffer snapshots to a Sink. Batches never
// overlap: a snapshot arriving mid-batch waits, and only the newest waiting
// snapshot is processed. Within a batch notes are applied strictly in
// order, and one note failing does not stop the rest.
type Syncer struct {
	client RemoteClient
	sink   Sink
	logger zerolog.Logger

	batchMu sync.Mutex

	stateMu sync.RWMutex
	status  Status
	notes   map[string]NoteState
}

func NewSyncer(client RemoteClient, sink Sink, opts SyncerOptions) (*Syncer, error) {
	if client == nil {
		return nil, fmt.Errorf("client is required")
	}
	if sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	return &Syncer{
		client: client,
		sink:   sink,
		logger: opts.Logger,
		status: StatusOffline,
		notes:  map[string]NoteState{},
	}, nil
}

// Run follows the buffer feed until ctx is done.
func (s *Syncer) Run(ctx context.Context) error {
	events := s.client.Subscribe(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Err != nil {
				s.setStatus(StatusOffline)
				s.logger.Warn().Err(ev.Err).Msg("buffer feed disconnected")
				continue
			}
			s.ProcessSnapshot(ctx, ev.Entries)
		}
	}
}

// Resync fetches the buffer directly and processes it as one batch.
func (s *Syncer) Resync(ctx context.Context) (BatchResult, error) {
	entries, err := s.client.FetchBuffer(ctx)
	if err != nil {
		s.setStatus(StatusError)
		return BatchResult{}, fmt.Errorf("fetch buffer: %w", err)
	}
	return s.ProcessSnapshot(ctx, entries), nil
}

// Clear removes a note from the buffer without applying it.
func (s *Syncer) Clear(ctx context.Context, noteID string) error {
	if err := s.client.Consume(ctx, noteID); err != nil {
		return fmt.Errorf("clear note %s: %w", noteID, err)
	}
	s.setNoteState(noteID, NoteCleared)
	notesProcessed.WithLabelValues(string(NoteCleared)).Inc()
	s.logger.Info().Str("note_id", noteID).Msg("note cleared manually")
	return nil
}

func (s *Syncer) ProcessSnapshot(ctx context.Context, entries []RemoteEntry) BatchResult {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()

	result := BatchResult{Failed: map[string]error{}}
	notes := buffer.Reconcile(toBufferEntries(entries))
	if len(notes) == 0 {
		s.setStatus(StatusOK)
		return result
	}
	batchesProcessed.Inc()
	s.setStatus(StatusSync)
	for _, note := range notes {
		s.setNoteState(note.ID, NotePending)
	}

	for _, note := range notes {
		if err := ctx.Err(); err != nil {
			result.Failed[note.ID] = err
			continue
		}
		s.setNoteState(note.ID, NoteApplying)
		err := s.sink.Apply(ctx, note)
		if err == nil {
			if consumeErr := s.client.Consume(ctx, note.ID); consumeErr != nil {
				err = fmt.Errorf("consume: %w", consumeErr)
			}
		}
		if err != nil {
			result.Failed[note.ID] = err
			s.setNoteState(note.ID, NoteFailed)
			notesProcessed.WithLabelValues(string(NoteFailed)).Inc()
			stage := "consume"
			if errors.Is(err, ErrSinkApply) {
				stage = "sink"
			}
			s.logger.Error().Err(err).Str("note_id", note.ID).Str("platform", note.Platform).Str("stage", stage).Msg("note left pending")
			continue
		}
		result.Applied = append(result.Applied, note.ID)
		s.setNoteState(note.ID, NoteConsumed)
		notesProcessed.WithLabelValues(string(NoteConsumed)).Inc()
		s.logger.Info().Str("note_id", note.ID).Str("platform", note.Platform).Str("title", note.Title).Msg("note applied")
	}

	if len(result.Failed) > 0 {
		s.setStatus(StatusError)
	} else {
		s.setStatus(StatusOK)
	}
	return result
}

func (s *Syncer) Status() Status {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.status
}

// NoteStates reports the last known state of every note seen so far.
func (s *Syncer) NoteStates() map[string]NoteState {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	out := make(map[string]NoteState, len(s.notes))
	for id, state := range s.notes {
		out[id] = state
	}
	return out
}

func (s *Syncer) setStatus(status Status) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.status = status
}

func (s *Syncer) setNoteState(noteID string, state NoteState) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.notes[noteID] = state
}

func toBufferEntries(entries []RemoteEntry) []buffer.Entry {
	out := make([]buffer.Entry, 0, len(entries))
	for _, entry := range entries {
		out = append(out, buffer.Entry{
			Key:       entry.Key,
			ID:        entry.ID,
			ExpiresAt: entry.ExpiresAt,
			Data:      entry.Data,
		})
	}
	return out
}
