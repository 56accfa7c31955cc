package buffer

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/loudthoughts/loudthoughts/internal/provider"
)

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrKeyNotFound    = errors.New("webhook key not found")
	ErrNotImplemented = errors.New("not implemented")
	ErrDataShape      = errors.New("buffer data shape")
)

// Entry is one stored slot of a user's buffer. Key is the storage slot and
// is never serialized; ID mirrors Data.ID.
type Entry struct {
	Key       string        `json:"-"`
	ID        string        `json:"id"`
	ExpiresAt time.Time     `json:"exp"`
	Data      provider.Note `json:"data"`
}

// DataShapeError reports a buffer node that is present but is not a keyed
// mapping of entries. It is never coerced.
type DataShapeError struct {
	User   string
	Reason string
}

func (e *DataShapeError) Error() string {
	return fmt.Sprintf("buffer for %s not as expected: %s", e.User, e.Reason)
}

func (e *DataShapeError) Is(target error) bool {
	return target == ErrDataShape
}

// Snapshot is one delivery of a change feed: the full buffer after a
// mutation, or the error hit while reading it.
type Snapshot struct {
	Entries []Entry
	Err     error
}

func encodeEntry(entry Entry) (json.RawMessage, error) {
	entry.ID = entry.Data.ID
	return json.Marshal(entry)
}

func decodeEntry(key string, raw json.RawMessage) (Entry, error) {
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return Entry{}, err
	}
	entry.Key = key
	if entry.ID == "" {
		entry.ID = entry.Data.ID
	}
	return entry, nil
}
