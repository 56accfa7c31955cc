package buffer

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
)

const (
	postgresNotifyChannel       = "loudthoughts_buffer"
	postgresMinReconnectBackoff = 100 * time.Millisecond
	postgresMaxReconnectBackoff = 10 * time.Second
)

// PostgresBackend keeps one row per slot. Buffer transactions hold a
// transaction-scoped advisory lock per user, and changes are broadcast
// through LISTEN/NOTIFY so every server instance can feed its subscribers.
type PostgresBackend struct {
	core *sqlCore
	hub  *changeHub

	listenOnce  sync.Once
	listenErr   error
	listener    *pq.Listener
	newListener func(dsn string) *pq.Listener
	stop        chan struct{}
}

func NewPostgresBackend(dsn string) (*PostgresBackend, error) {
	core, err := newSQLCore(dsn, sqlDialect{
		driver:        "postgres",
		timestampType: "TIMESTAMPTZ",
		placeholder:   func(n int) string { return fmt.Sprintf("$%d", n) },
		quote:         quoteIdentifier,
		lockUser: func(ctx context.Context, tx *sql.Tx, user string) error {
			_, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", postgresUserLockKey(user))
			return err
		},
		notifyTx: func(ctx context.Context, tx *sql.Tx, user string) error {
			_, err := tx.ExecContext(ctx, "SELECT pg_notify($1, $2)", postgresNotifyChannel, user)
			return err
		},
	})
	if err != nil {
		return nil, err
	}
	return &PostgresBackend{
		core: core,
		hub:  newChangeHub(),
		newListener: func(dsn string) *pq.Listener {
			return pq.NewListener(dsn, postgresMinReconnectBackoff, postgresMaxReconnectBackoff, nil)
		},
		stop: make(chan struct{}),
	}, nil
}

func (b *PostgresBackend) Entries(ctx context.Context, user string) ([]Entry, error) {
	return b.core.entries(ctx, user)
}

func (b *PostgresBackend) FindByNoteID(ctx context.Context, user, noteID string) ([]string, error) {
	return b.core.findByNoteID(ctx, user, noteID)
}

func (b *PostgresBackend) SetEntry(ctx context.Context, user, key string, entry Entry) error {
	return b.core.setEntry(ctx, user, key, entry)
}

func (b *PostgresBackend) PushEntry(ctx context.Context, user string, entry Entry) (string, error) {
	return b.core.pushEntry(ctx, user, entry)
}

func (b *PostgresBackend) Transact(ctx context.Context, user string, fn TransactFunc) error {
	return b.core.transact(ctx, user, fn)
}

func (b *PostgresBackend) Subscribe(ctx context.Context, user string) (<-chan Snapshot, error) {
	if strings.TrimSpace(user) == "" {
		return nil, ErrInvalidInput
	}
	if err := b.core.ensureReady(); err != nil {
		return nil, err
	}
	if err := b.startListener(); err != nil {
		return nil, err
	}
	signals, stop := b.hub.listen(user)
	return watch(ctx, signals, stop, func(ctx context.Context) ([]Entry, error) {
		return b.core.entries(ctx, user)
	}), nil
}

// startListener opens the shared LISTEN connection on first subscribe.
func (b *PostgresBackend) startListener() error {
	b.listenOnce.Do(func() {
		listener := b.newListener(b.core.dsn)
		if err := listener.Listen(postgresNotifyChannel); err != nil {
			_ = listener.Close()
			b.listenErr = err
			return
		}
		b.listener = listener
		go b.dispatch(listener)
	})
	return b.listenErr
}

func (b *PostgresBackend) dispatch(listener *pq.Listener) {
	for {
		select {
		case <-b.stop:
			return
		case n, ok := <-listener.Notify:
			if !ok {
				return
			}
			// A nil notification follows a reconnect; anything may have
			// changed while disconnected.
			if n == nil {
				b.hub.notifyAll()
				continue
			}
			b.hub.notify(n.Extra)
		}
	}
}

func (b *PostgresBackend) ResolveKey(ctx context.Context, key string) (string, error) {
	return b.core.resolveKey(ctx, key)
}

func (b *PostgresBackend) IssueKey(ctx context.Context, user string) (string, error) {
	return b.core.issueKey(ctx, user)
}

func (b *PostgresBackend) UserKey(ctx context.Context, user string) (string, error) {
	return b.core.userKey(ctx, user)
}

func (b *PostgresBackend) Close() error {
	if b == nil {
		return nil
	}
	select {
	case <-b.stop:
	default:
		close(b.stop)
	}
	if b.listener != nil {
		_ = b.listener.Close()
	}
	return b.core.close()
}

func postgresUserLockKey(user string) int64 {
	hasher := fnv.New64a()
	_, _ = hasher.Write([]byte(sqlBufferTableName))
	_, _ = hasher.Write([]byte{0})
	_, _ = hasher.Write([]byte(strings.TrimSpace(user)))
	return int64(hasher.Sum64())
}
