package buffer

import (
	"context"
	"strings"
	"time"

	"github.com/loudthoughts/loudthoughts/internal/provider"
)

const DefaultExpiryDays = 7

type Options struct {
	// Now defaults to time.Now.
	Now func() time.Time
	// ExpiryDays is the calendar-day lifetime of a written entry.
	ExpiryDays int
}

// Buffer implements the server and consumer operations on top of a Backend.
type Buffer struct {
	backend    Backend
	now        func() time.Time
	expiryDays int
}

func New(backend Backend, opts Options) *Buffer {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ExpiryDays <= 0 {
		opts.ExpiryDays = DefaultExpiryDays
	}
	return &Buffer{backend: backend, now: opts.Now, expiryDays: opts.ExpiryDays}
}

func (b *Buffer) Backend() Backend {
	return b.backend
}

type UpsertResult struct {
	Key      string
	Replaced bool
}

// Upsert writes note into the user's buffer, replacing the whole entry in
// the slot already holding this note id, else pushing a new slot.
//
// The lookup and the write are separate backend calls. Two concurrent
// upserts of a new note id can both miss and push, leaving duplicates;
// ConsumeOne removes every duplicate, and Reconcile collapses them.
func (b *Buffer) Upsert(ctx context.Context, user string, note provider.Note) (UpsertResult, error) {
	if strings.TrimSpace(user) == "" || strings.TrimSpace(note.ID) == "" {
		return UpsertResult{}, ErrInvalidInput
	}
	if note.Tags == nil {
		note.Tags = []string{}
	}
	entry := Entry{
		ID:        note.ID,
		ExpiresAt: b.now().AddDate(0, 0, b.expiryDays),
		Data:      note,
	}
	keys, err := b.backend.FindByNoteID(ctx, user, note.ID)
	if err != nil {
		return UpsertResult{}, err
	}
	if len(keys) > 0 {
		if err := b.backend.SetEntry(ctx, user, keys[0], entry); err != nil {
			return UpsertResult{}, err
		}
		return UpsertResult{Key: keys[0], Replaced: true}, nil
	}
	key, err := b.backend.PushEntry(ctx, user, entry)
	if err != nil {
		return UpsertResult{}, err
	}
	return UpsertResult{Key: key}, nil
}

func (b *Buffer) Entries(ctx context.Context, user string) ([]Entry, error) {
	return b.backend.Entries(ctx, user)
}

func (b *Buffer) Subscribe(ctx context.Context, user string) (<-chan Snapshot, error) {
	return b.backend.Subscribe(ctx, user)
}
