package buffer

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteBackend is the single-node SQL store. The pool is capped at one
// connection, which serializes every transaction.
type SQLiteBackend struct {
	core *sqlCore
	hub  *changeHub
}

func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	core, err := newSQLCore(dsn, sqlDialect{
		driver:        "sqlite",
		timestampType: "TEXT",
		placeholder:   func(int) string { return "?" },
		quote:         quoteIdentifier,
		configure: func(db *sql.DB) {
			db.SetMaxOpenConns(1)
		},
	})
	if err != nil {
		return nil, err
	}
	b := &SQLiteBackend{core: core, hub: newChangeHub()}
	core.afterCommit = b.hub.notify
	return b, nil
}

func (b *SQLiteBackend) Entries(ctx context.Context, user string) ([]Entry, error) {
	return b.core.entries(ctx, user)
}

func (b *SQLiteBackend) FindByNoteID(ctx context.Context, user, noteID string) ([]string, error) {
	return b.core.findByNoteID(ctx, user, noteID)
}

func (b *SQLiteBackend) SetEntry(ctx context.Context, user, key string, entry Entry) error {
	return b.core.setEntry(ctx, user, key, entry)
}

func (b *SQLiteBackend) PushEntry(ctx context.Context, user string, entry Entry) (string, error) {
	return b.core.pushEntry(ctx, user, entry)
}

func (b *SQLiteBackend) Transact(ctx context.Context, user string, fn TransactFunc) error {
	return b.core.transact(ctx, user, fn)
}

func (b *SQLiteBackend) Subscribe(ctx context.Context, user string) (<-chan Snapshot, error) {
	if strings.TrimSpace(user) == "" {
		return nil, ErrInvalidInput
	}
	if err := b.core.ensureReady(); err != nil {
		return nil, err
	}
	signals, stop := b.hub.listen(user)
	return watch(ctx, signals, stop, func(ctx context.Context) ([]Entry, error) {
		return b.core.entries(ctx, user)
	}), nil
}

func (b *SQLiteBackend) ResolveKey(ctx context.Context, key string) (string, error) {
	return b.core.resolveKey(ctx, key)
}

func (b *SQLiteBackend) IssueKey(ctx context.Context, user string) (string, error) {
	return b.core.issueKey(ctx, user)
}

func (b *SQLiteBackend) UserKey(ctx context.Context, user string) (string, error) {
	return b.core.userKey(ctx, user)
}

func (b *SQLiteBackend) Close() error {
	return b.core.close()
}
