package buffer

import (
	"context"

	"github.com/google/uuid"
)

// Backend is the per-user key-value tree holding buffers and the webhook
// key directory. Every mutation must reach the user's change feed.
type Backend interface {
	// Entries returns the user's entries in slot key order.
	Entries(ctx context.Context, user string) ([]Entry, error)
	// FindByNoteID returns the slot keys whose entry has data.id == noteID.
	FindByNoteID(ctx context.Context, user, noteID string) ([]string, error)
	// SetEntry replaces the whole entry stored at key.
	SetEntry(ctx context.Context, user, key string, entry Entry) error
	// PushEntry stores entry under a new, ordered slot key.
	PushEntry(ctx context.Context, user string, entry Entry) (string, error)
	// Transact applies fn atomically to the user's raw buffer node.
	Transact(ctx context.Context, user string, fn TransactFunc) error
	// Subscribe delivers the full buffer now and after every mutation until
	// ctx is done.
	Subscribe(ctx context.Context, user string) (<-chan Snapshot, error)

	// ResolveKey maps a webhook key to its user or returns ErrKeyNotFound.
	ResolveKey(ctx context.Context, key string) (string, error)
	// IssueKey creates a fresh webhook key for user, revoking the old one.
	IssueKey(ctx context.Context, user string) (string, error)
	// UserKey returns the user's current webhook key or ErrKeyNotFound.
	UserKey(ctx context.Context, user string) (string, error)

	Close() error
}

// newSlotKey returns a time-ordered key so lexical order follows arrival.
func newSlotKey() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func newWebhookKey() string {
	return uuid.NewString()
}
