// Package drafts keeps the generation form of a session in Redis until
// a guide version exists for it.
package drafts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/redis/go-redis/v9"

	"guias/api/internal/guide"
)

const DefaultTTL = 7 * 24 * time.Hour

var ErrNotFound = errors.New("draft not found")

// Snapshot is the form state left behind before generating.
type Snapshot struct {
	SessionID string        `cbor:"1,keyasint" json:"sessionId"`
	Form      guide.Request `cbor:"2,keyasint" json:"form"`
	SavedAt   time.Time     `cbor:"3,keyasint" json:"savedAt"`
}

type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisStoreWithClient(client, ttl), nil
}

func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, prefix: "draft:", ttl: ttl, now: time.Now}
}

func (s *RedisStore) key(sessionID string) string {
	return s.prefix + sessionID
}

// Save replaces the snapshot of sessionID and restarts its TTL.
func (s *RedisStore) Save(ctx context.Context, sessionID string, form guide.Request) (Snapshot, error) {
	snap := Snapshot{SessionID: sessionID, Form: form, SavedAt: s.now().UTC()}
	payload, err := cbor.Marshal(snap)
	if err != nil {
		return Snapshot{}, fmt.Errorf("encode draft: %w", err)
	}
	if err := s.client.Set(ctx, s.key(sessionID), payload, s.ttl).Err(); err != nil {
		return Snapshot{}, fmt.Errorf("save draft: %w", err)
	}
	return snap, nil
}

func (s *RedisStore) Get(ctx context.Context, sessionID string) (Snapshot, error) {
	payload, err := s.client.Get(ctx, s.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("read draft: %w", err)
	}
	var snap Snapshot
	if err := cbor.Unmarshal(payload, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode draft: %w", err)
	}
	return snap, nil
}

// Delete removes the snapshot. Deleting a missing snapshot is not an
// error.
func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("delete draft: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
