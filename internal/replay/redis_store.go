package replay

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is the distributed Anti-Replay Set backend spec §4.2 allows
// for multi-instance deployments: the contract is identical to InMemory,
// only the storage is shared. Grounded on growth-server's
// services/gateway/.../auth/domain/cache token-set pattern (SETEX-backed
// per-key TTL rather than a shared set, since each jti already carries its
// own expiry).
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisStore wraps an existing *redis.Client. keyPrefix namespaces keys
// (e.g. "trustcore:replay:") to share a Redis instance with other services.
func NewRedisStore(client *redis.Client, keyPrefix string) *RedisStore {
	return &RedisStore{client: client, keyPrefix: keyPrefix}
}

func (s *RedisStore) key(jti string) string {
	return s.keyPrefix + jti
}

const (
	stateRegistered = "registered"
	stateConsumed   = "consumed"
)

func (s *RedisStore) Register(ctx context.Context, jti string, expiresAtUnixMs int64) (bool, error) {
	ttl := time.Until(time.UnixMilli(expiresAtUnixMs))
	if ttl <= 0 {
		ttl = time.Second
	}

	// SetNX gives us the same "already present and unexpired -> false"
	// semantics atomically; Redis expires the key itself at ttl.
	ok, err := s.client.SetNX(ctx, s.key(jti), stateRegistered, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("replay: redis register: %w", err)
	}
	return ok, nil
}

// isConsumedScript atomically transitions a registered-but-unconsumed key to
// consumed and reports false (first use); every other observed state
// (missing, expired, already consumed) reports true. KEEPTTL preserves the
// key's remaining expiry instead of resetting it on the consuming write.
var isConsumedScript = redis.NewScript(`
local v = redis.call("GET", KEYS[1])
if v == false or v == ARGV[1] then
	return 1
end
redis.call("SET", KEYS[1], ARGV[1], "KEEPTTL")
return 0
`)

func (s *RedisStore) IsConsumed(ctx context.Context, jti string) (bool, error) {
	res, err := isConsumedScript.Run(ctx, s.client, []string{s.key(jti)}, stateConsumed).Int()
	if err != nil {
		return false, fmt.Errorf("replay: redis isConsumed: %w", err)
	}
	return res == 1, nil
}

// CleanupExpired is a no-op for Redis: keys are evicted natively by TTL.
// The method exists only to satisfy Store so callers can treat every
// backend uniformly.
func (s *RedisStore) CleanupExpired(_ context.Context) (int, error) {
	return 0, nil
}
