package buffer

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	sqlBufferTableName  = "loudthoughts_buffer"
	sqlKeysTableName    = "loudthoughts_keys"
	sqlOperationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// sqlDialect captures what differs between the SQL engines.
type sqlDialect struct {
	driver        string
	timestampType string
	placeholder   func(n int) string
	quote         func(identifier string) string
	// lockUser serializes transactions on one user's buffer.
	lockUser func(ctx context.Context, tx *sql.Tx, user string) error
	// notifyTx publishes a change inside the transaction. Nil means the
	// backend signals after commit instead.
	notifyTx func(ctx context.Context, tx *sql.Tx, user string) error
	// configure runs once on the freshly opened pool.
	configure func(db *sql.DB)
}

// sqlCore stores one row per buffer slot with data.id in its own indexed
// column, plus a table of webhook keys.
type sqlCore struct {
	dsn         string
	dialect     sqlDialect
	bufferTable string
	keysTable   string
	openDB      sqlOpenFunc
	afterCommit func(user string)

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func newSQLCore(dsn string, dialect sqlDialect) (*sqlCore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &sqlCore{
		dsn:         dsn,
		dialect:     dialect,
		bufferTable: sqlBufferTableName,
		keysTable:   sqlKeysTableName,
		openDB:      sql.Open,
	}, nil
}

func (c *sqlCore) ensureReady() error {
	if c == nil {
		return ErrInvalidInput
	}
	c.initOnce.Do(func() {
		db, err := c.openDB(c.dialect.driver, c.dsn)
		if err != nil {
			c.initErr = err
			return
		}
		if c.dialect.configure != nil {
			c.dialect.configure(db)
		}
		ctx, cancel := context.WithTimeout(context.Background(), sqlOperationTimeout)
		defer cancel()

		statements := []string{
			fmt.Sprintf(`
				CREATE TABLE IF NOT EXISTS %s (
					user_id TEXT NOT NULL,
					entry_key TEXT NOT NULL,
					note_id TEXT NOT NULL,
					payload TEXT NOT NULL,
					expires_at %s,
					PRIMARY KEY (user_id, entry_key)
				)`, c.quote(c.bufferTable), c.dialect.timestampType),
			fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (user_id, note_id)",
				c.quote(c.bufferTable+"_note_idx"), c.quote(c.bufferTable)),
			fmt.Sprintf(`
				CREATE TABLE IF NOT EXISTS %s (
					webhook_key TEXT PRIMARY KEY,
					user_id TEXT NOT NULL UNIQUE
				)`, c.quote(c.keysTable)),
		}
		for _, statement := range statements {
			if _, err := db.ExecContext(ctx, statement); err != nil {
				_ = db.Close()
				c.initErr = err
				return
			}
		}
		c.db = db
	})
	return c.initErr
}

func (c *sqlCore) quote(identifier string) string {
	return c.dialect.quote(identifier)
}

func (c *sqlCore) p(n int) string {
	return c.dialect.placeholder(n)
}

func (c *sqlCore) entries(ctx context.Context, user string) ([]Entry, error) {
	if err := c.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()
	query := fmt.Sprintf("SELECT entry_key, payload FROM %s WHERE user_id = %s ORDER BY entry_key ASC",
		c.quote(c.bufferTable), c.p(1))
	slots, err := c.loadSlots(ctx, c.db, query, user)
	if err != nil {
		return nil, err
	}
	return entriesFromSlots(user, slots)
}

type sqlQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (c *sqlCore) loadSlots(ctx context.Context, q sqlQuerier, query string, args ...any) (map[string]json.RawMessage, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	slots := map[string]json.RawMessage{}
	for rows.Next() {
		var key, payload string
		if err := rows.Scan(&key, &payload); err != nil {
			return nil, err
		}
		slots[key] = json.RawMessage(payload)
	}
	return slots, rows.Err()
}

func (c *sqlCore) findByNoteID(ctx context.Context, user, noteID string) ([]string, error) {
	if err := c.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()
	query := fmt.Sprintf("SELECT entry_key FROM %s WHERE user_id = %s AND note_id = %s ORDER BY entry_key ASC",
		c.quote(c.bufferTable), c.p(1), c.p(2))
	rows, err := c.db.QueryContext(ctx, query, user, noteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (c *sqlCore) setEntry(ctx context.Context, user, key string, entry Entry) error {
	if strings.TrimSpace(user) == "" || strings.TrimSpace(key) == "" {
		return ErrInvalidInput
	}
	raw, err := encodeEntry(entry)
	if err != nil {
		return err
	}
	return c.inTx(ctx, user, false, func(ctx context.Context, tx *sql.Tx) (bool, error) {
		return true, c.writeSlot(ctx, tx, user, key, raw)
	})
}

func (c *sqlCore) pushEntry(ctx context.Context, user string, entry Entry) (string, error) {
	key, err := newSlotKey()
	if err != nil {
		return "", err
	}
	if err := c.setEntry(ctx, user, key, entry); err != nil {
		return "", err
	}
	return key, nil
}

// transact loads the user's rows as a node under the user lock, applies fn
// and writes back only the slots that changed.
func (c *sqlCore) transact(ctx context.Context, user string, fn TransactFunc) error {
	if fn == nil || strings.TrimSpace(user) == "" {
		return ErrInvalidInput
	}
	return c.inTx(ctx, user, true, func(ctx context.Context, tx *sql.Tx) (bool, error) {
		query := fmt.Sprintf("SELECT entry_key, payload FROM %s WHERE user_id = %s",
			c.quote(c.bufferTable), c.p(1))
		before, err := c.loadSlots(ctx, tx, query, user)
		if err != nil {
			return false, err
		}
		current, err := encodeNode(before)
		if err != nil {
			var shapeErr *DataShapeError
			if errors.As(err, &shapeErr) {
				shapeErr.User = user
			}
			return false, err
		}
		next, err := fn(current)
		if err != nil {
			return false, err
		}
		after, err := decodeNode(user, next)
		if err != nil {
			return false, fmt.Errorf("%w: transaction result: %v", ErrInvalidInput, err)
		}
		diff := diffSlots(before, after)
		if diff.empty() {
			return false, nil
		}
		for _, key := range diff.removed {
			deleteQuery := fmt.Sprintf("DELETE FROM %s WHERE user_id = %s AND entry_key = %s",
				c.quote(c.bufferTable), c.p(1), c.p(2))
			if _, err := tx.ExecContext(ctx, deleteQuery, user, key); err != nil {
				return false, err
			}
		}
		for key, raw := range diff.written {
			if err := c.writeSlot(ctx, tx, user, key, raw); err != nil {
				return false, err
			}
		}
		return true, nil
	})
}

func (c *sqlCore) writeSlot(ctx context.Context, tx *sql.Tx, user, key string, raw json.RawMessage) error {
	noteID, expiresAt := slotColumns(raw)
	var expires any
	if !expiresAt.IsZero() {
		expires = expiresAt.UTC()
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (user_id, entry_key, note_id, payload, expires_at)
		VALUES (%s, %s, %s, %s, %s)
		ON CONFLICT (user_id, entry_key)
		DO UPDATE SET note_id = excluded.note_id, payload = excluded.payload, expires_at = excluded.expires_at`,
		c.quote(c.bufferTable), c.p(1), c.p(2), c.p(3), c.p(4), c.p(5))
	_, err := tx.ExecContext(ctx, query, user, key, noteID, string(raw), expires)
	return err
}

// inTx runs fn in a transaction. fn reports whether it changed anything so
// subscribers are only signalled for real mutations.
func (c *sqlCore) inTx(ctx context.Context, user string, lock bool, fn func(ctx context.Context, tx *sql.Tx) (bool, error)) error {
	if err := c.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if lock && c.dialect.lockUser != nil {
		if err := c.dialect.lockUser(ctx, tx, user); err != nil {
			return err
		}
	}
	changed, err := fn(ctx, tx)
	if err != nil {
		return err
	}
	if changed && c.dialect.notifyTx != nil {
		if err := c.dialect.notifyTx(ctx, tx, user); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	if changed && c.afterCommit != nil {
		c.afterCommit(user)
	}
	return nil
}

func (c *sqlCore) resolveKey(ctx context.Context, key string) (string, error) {
	if err := c.ensureReady(); err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()
	query := fmt.Sprintf("SELECT user_id FROM %s WHERE webhook_key = %s", c.quote(c.keysTable), c.p(1))
	var user string
	err := c.db.QueryRowContext(ctx, query, strings.TrimSpace(key)).Scan(&user)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrKeyNotFound
	}
	return user, err
}

func (c *sqlCore) userKey(ctx context.Context, user string) (string, error) {
	if err := c.ensureReady(); err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()
	query := fmt.Sprintf("SELECT webhook_key FROM %s WHERE user_id = %s", c.quote(c.keysTable), c.p(1))
	var key string
	err := c.db.QueryRowContext(ctx, query, user).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrKeyNotFound
	}
	return key, err
}

func (c *sqlCore) issueKey(ctx context.Context, user string) (string, error) {
	if strings.TrimSpace(user) == "" {
		return "", ErrInvalidInput
	}
	key := newWebhookKey()
	err := c.inTx(ctx, user, true, func(ctx context.Context, tx *sql.Tx) (bool, error) {
		deleteQuery := fmt.Sprintf("DELETE FROM %s WHERE user_id = %s", c.quote(c.keysTable), c.p(1))
		if _, err := tx.ExecContext(ctx, deleteQuery, user); err != nil {
			return false, err
		}
		insertQuery := fmt.Sprintf("INSERT INTO %s (webhook_key, user_id) VALUES (%s, %s)",
			c.quote(c.keysTable), c.p(1), c.p(2))
		_, err := tx.ExecContext(ctx, insertQuery, key, user)
		return false, err
	})
	if err != nil {
		return "", err
	}
	return key, nil
}

func (c *sqlCore) close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

func quoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "\"\""
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
