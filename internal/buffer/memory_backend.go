package buffer

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// MemoryBackend keeps every buffer node in process. With a path it also
// persists the whole tree as one JSON file after each mutation.
type MemoryBackend struct {
	mu      sync.Mutex
	path    string
	buffers map[string]json.RawMessage
	keys    map[string]string
	users   map[string]string
	hub     *changeHub
}

type memoryBackendState struct {
	Buffers map[string]json.RawMessage `json:"buffers"`
	Keys    map[string]string          `json:"keys"`
	Users   map[string]string          `json:"users"`
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		buffers: map[string]json.RawMessage{},
		keys:    map[string]string{},
		users:   map[string]string{},
		hub:     newChangeHub(),
	}
}

func NewFileBackend(path string) (*MemoryBackend, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	b := NewMemoryBackend()
	b.path = path
	if err := b.load(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *MemoryBackend) Entries(ctx context.Context, user string) ([]Entry, error) {
	b.mu.Lock()
	raw := b.buffers[user]
	b.mu.Unlock()
	slots, err := decodeNode(user, raw)
	if err != nil {
		return nil, err
	}
	return entriesFromSlots(user, slots)
}

func (b *MemoryBackend) FindByNoteID(ctx context.Context, user, noteID string) ([]string, error) {
	b.mu.Lock()
	raw := b.buffers[user]
	b.mu.Unlock()
	slots, err := decodeNode(user, raw)
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, key := range sortedKeys(slots) {
		if id, _ := slotColumns(slots[key]); id == noteID {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (b *MemoryBackend) SetEntry(ctx context.Context, user, key string, entry Entry) error {
	if strings.TrimSpace(user) == "" || strings.TrimSpace(key) == "" {
		return ErrInvalidInput
	}
	raw, err := encodeEntry(entry)
	if err != nil {
		return err
	}
	return b.mutate(user, func(slots map[string]json.RawMessage) {
		slots[key] = raw
	})
}

func (b *MemoryBackend) PushEntry(ctx context.Context, user string, entry Entry) (string, error) {
	if strings.TrimSpace(user) == "" {
		return "", ErrInvalidInput
	}
	key, err := newSlotKey()
	if err != nil {
		return "", err
	}
	raw, err := encodeEntry(entry)
	if err != nil {
		return "", err
	}
	if err := b.mutate(user, func(slots map[string]json.RawMessage) {
		slots[key] = raw
	}); err != nil {
		return "", err
	}
	return key, nil
}

func (b *MemoryBackend) mutate(user string, fn func(slots map[string]json.RawMessage)) error {
	b.mu.Lock()
	slots, err := decodeNode(user, b.buffers[user])
	if err != nil {
		b.mu.Unlock()
		return err
	}
	fn(slots)
	node, err := encodeNode(slots)
	if err != nil {
		b.mu.Unlock()
		return err
	}
	err = b.storeLocked(user, node)
	b.mu.Unlock()
	if err != nil {
		return err
	}
	b.hub.notify(user)
	return nil
}

// Transact holds the backend lock for the whole read-modify-write, so no
// retry is ever needed.
func (b *MemoryBackend) Transact(ctx context.Context, user string, fn TransactFunc) error {
	if fn == nil || strings.TrimSpace(user) == "" {
		return ErrInvalidInput
	}
	b.mu.Lock()
	current := b.buffers[user]
	if current == nil {
		current = nullNode
	}
	next, err := fn(append(json.RawMessage(nil), current...))
	if err != nil {
		b.mu.Unlock()
		return err
	}
	if string(next) == string(current) {
		b.mu.Unlock()
		return nil
	}
	if !isNullNode(next) && !json.Valid(next) {
		b.mu.Unlock()
		return ErrInvalidInput
	}
	err = b.storeLocked(user, next)
	b.mu.Unlock()
	if err != nil {
		return err
	}
	b.hub.notify(user)
	return nil
}

// SetRaw replaces a user's node verbatim, bypassing entry encoding. It
// exists for importing data and for reproducing damaged nodes.
func (b *MemoryBackend) SetRaw(user string, raw json.RawMessage) error {
	b.mu.Lock()
	err := b.storeLocked(user, raw)
	b.mu.Unlock()
	if err != nil {
		return err
	}
	b.hub.notify(user)
	return nil
}

func (b *MemoryBackend) Subscribe(ctx context.Context, user string) (<-chan Snapshot, error) {
	if strings.TrimSpace(user) == "" {
		return nil, ErrInvalidInput
	}
	signals, stop := b.hub.listen(user)
	return watch(ctx, signals, stop, func(ctx context.Context) ([]Entry, error) {
		return b.Entries(ctx, user)
	}), nil
}

func (b *MemoryBackend) ResolveKey(ctx context.Context, key string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	user, ok := b.keys[strings.TrimSpace(key)]
	if !ok {
		return "", ErrKeyNotFound
	}
	return user, nil
}

func (b *MemoryBackend) IssueKey(ctx context.Context, user string) (string, error) {
	if strings.TrimSpace(user) == "" {
		return "", ErrInvalidInput
	}
	key := newWebhookKey()
	b.mu.Lock()
	defer b.mu.Unlock()
	if previous, ok := b.users[user]; ok {
		delete(b.keys, previous)
	}
	b.keys[key] = user
	b.users[user] = key
	if err := b.saveLocked(); err != nil {
		return "", err
	}
	return key, nil
}

func (b *MemoryBackend) UserKey(ctx context.Context, user string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key, ok := b.users[user]
	if !ok {
		return "", ErrKeyNotFound
	}
	return key, nil
}

func (b *MemoryBackend) Close() error {
	return nil
}

func (b *MemoryBackend) storeLocked(user string, node json.RawMessage) error {
	if isNullNode(node) {
		delete(b.buffers, user)
	} else {
		b.buffers[user] = append(json.RawMessage(nil), node...)
	}
	return b.saveLocked()
}

func (b *MemoryBackend) load() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, err := os.ReadFile(b.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	var state memoryBackendState
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}
	for user, node := range state.Buffers {
		b.buffers[user] = node
	}
	for key, user := range state.Keys {
		b.keys[key] = user
	}
	for user, key := range state.Users {
		b.users[user] = key
	}
	return nil
}

func (b *MemoryBackend) saveLocked() error {
	if b.path == "" {
		return nil
	}
	data, err := json.Marshal(memoryBackendState{
		Buffers: b.buffers,
		Keys:    b.keys,
		Users:   b.users,
	})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return err
	}
	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, b.path)
}
