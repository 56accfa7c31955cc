package buffer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix       = "loudthoughts"
	redisMaxTxAttempts   = 16
	redisEventChannelFmt = "%s:buffer-events:%s"
)

// RedisBackend stores each user's buffer as a hash of slot key to entry.
// Transactions use WATCH with optimistic retry and every mutation is
// published on a per-user channel.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

func NewRedisBackend(dsn string) (*RedisBackend, error) {
	opts, err := redis.ParseURL(strings.TrimSpace(dsn))
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisBackendFromClient(redis.NewClient(opts), redisKeyPrefix), nil
}

func NewRedisBackendFromClient(client *redis.Client, prefix string) *RedisBackend {
	if strings.TrimSpace(prefix) == "" {
		prefix = redisKeyPrefix
	}
	return &RedisBackend{client: client, prefix: prefix}
}

func (b *RedisBackend) bufferKey(user string) string {
	return fmt.Sprintf("%s:buffer:%s", b.prefix, user)
}

func (b *RedisBackend) eventChannel(user string) string {
	return fmt.Sprintf(redisEventChannelFmt, b.prefix, user)
}

func (b *RedisBackend) keysKey() string {
	return b.prefix + ":keys"
}

func (b *RedisBackend) usersKey() string {
	return b.prefix + ":users"
}

type redisHashReader interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

func (b *RedisBackend) slots(ctx context.Context, cmd redisHashReader, user string) (map[string]json.RawMessage, error) {
	values, err := cmd.HGetAll(ctx, b.bufferKey(user)).Result()
	if err != nil {
		return nil, err
	}
	slots := make(map[string]json.RawMessage, len(values))
	for key, value := range values {
		slots[key] = json.RawMessage(value)
	}
	return slots, nil
}

func (b *RedisBackend) Entries(ctx context.Context, user string) ([]Entry, error) {
	slots, err := b.slots(ctx, b.client, user)
	if err != nil {
		return nil, err
	}
	return entriesFromSlots(user, slots)
}

// FindByNoteID scans the hash; buffers stay small because the consumer
// drains them.
func (b *RedisBackend) FindByNoteID(ctx context.Context, user, noteID string) ([]string, error) {
	slots, err := b.slots(ctx, b.client, user)
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

func (b *RedisBackend) SetEntry(ctx context.Context, user, key string, entry Entry) error {
	if strings.TrimSpace(user) == "" || strings.TrimSpace(key) == "" {
		return ErrInvalidInput
	}
	raw, err := encodeEntry(entry)
	if err != nil {
		return err
	}
	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, b.bufferKey(user), key, string(raw))
		pipe.Publish(ctx, b.eventChannel(user), key)
		return nil
	})
	return err
}

func (b *RedisBackend) PushEntry(ctx context.Context, user string, entry Entry) (string, error) {
	key, err := newSlotKey()
	if err != nil {
		return "", err
	}
	if err := b.SetEntry(ctx, user, key, entry); err != nil {
		return "", err
	}
	return key, nil
}

func (b *RedisBackend) Transact(ctx context.Context, user string, fn TransactFunc) error {
	if fn == nil || strings.TrimSpace(user) == "" {
		return ErrInvalidInput
	}
	bufferKey := b.bufferKey(user)
	txf := func(tx *redis.Tx) error {
		before, err := b.slots(ctx, tx, user)
		if err != nil {
			return err
		}
		current, err := encodeNode(before)
		if err != nil {
			var shapeErr *DataShapeError
			if errors.As(err, &shapeErr) {
				shapeErr.User = user
			}
			return err
		}
		next, err := fn(current)
		if err != nil {
			return err
		}
		after, err := decodeNode(user, next)
		if err != nil {
			return fmt.Errorf("%w: transaction result: %v", ErrInvalidInput, err)
		}
		diff := diffSlots(before, after)
		if diff.empty() {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if len(diff.removed) > 0 {
				pipe.HDel(ctx, bufferKey, diff.removed...)
			}
			for key, raw := range diff.written {
				pipe.HSet(ctx, bufferKey, key, string(raw))
			}
			pipe.Publish(ctx, b.eventChannel(user), "")
			return nil
		})
		return err
	}
	for attempt := 0; attempt < redisMaxTxAttempts; attempt++ {
		err := b.client.Watch(ctx, txf, bufferKey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("buffer transaction for %s: %w", user, redis.TxFailedErr)
}

func (b *RedisBackend) Subscribe(ctx context.Context, user string) (<-chan Snapshot, error) {
	if strings.TrimSpace(user) == "" {
		return nil, ErrInvalidInput
	}
	pubsub := b.client.Subscribe(ctx, b.eventChannel(user))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}
	signals := make(chan struct{}, 1)
	messages := pubsub.Channel()
	go func() {
		defer close(signals)
		for range messages {
			signal(signals)
		}
	}()
	stop := func() {
		_ = pubsub.Close()
	}
	return watch(ctx, signals, stop, func(ctx context.Context) ([]Entry, error) {
		return b.Entries(ctx, user)
	}), nil
}

func (b *RedisBackend) ResolveKey(ctx context.Context, key string) (string, error) {
	user, err := b.client.HGet(ctx, b.keysKey(), strings.TrimSpace(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrKeyNotFound
	}
	return user, err
}

func (b *RedisBackend) IssueKey(ctx context.Context, user string) (string, error) {
	if strings.TrimSpace(user) == "" {
		return "", ErrInvalidInput
	}
	key := newWebhookKey()
	previous, err := b.client.HGet(ctx, b.usersKey(), user).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", err
	}
	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if previous != "" {
			pipe.HDel(ctx, b.keysKey(), previous)
		}
		pipe.HSet(ctx, b.keysKey(), key, user)
		pipe.HSet(ctx, b.usersKey(), user, key)
		return nil
	})
	if err != nil {
		return "", err
	}
	return key, nil
}

func (b *RedisBackend) UserKey(ctx context.Context, user string) (string, error) {
	key, err := b.client.HGet(ctx, b.usersKey(), user).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrKeyNotFound
	}
	return key, err
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}
