package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is a best-effort duplicate detector for inbound events. It is a fast
// path only: the authoritative idempotency guarantees live in the database
// (monotonic status ordinal, webhook log). A Redis flush simply means a few
// redeliveries take the slow path.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

// Key derives a dedup key from an ingress source and its payload fields.
func (s *Store) Key(source string, parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("idem:%s:%s", source, hex.EncodeToString(h.Sum(nil)))
}

func (s *Store) Seen(ctx context.Context, key string) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, key, "1", s.ttl).Result()
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// Forget releases a key claimed by Seen. Callers use it when processing
// failed after the claim, so the sender's redelivery is not misread as a
// duplicate.
func (s *Store) Forget(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}
