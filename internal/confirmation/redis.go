package confirmation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "warden:confirm:"

// RedisStore keeps tokens in Redis with native key expiry.
// GETDEL gives the atomic check-then-delete; the embedded ExpiresAt is still
// checked so a token is never honored past expiry under clock skew.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// RedisOptions configures NewRedisStore.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisStore connects a new client and wraps it as a token store.
func NewRedisStore(opts RedisOptions, ttl time.Duration, logger *slog.Logger) *RedisStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return NewRedisStoreWithClient(rdb, ttl, logger)
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{
		client: client,
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
}

func (s *RedisStore) Issue(ctx context.Context, action string, params map[string]any) (*Token, error) {
	tok, err := newToken(action, params, s.now(), s.ttl)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(tok)
	if err != nil {
		return nil, fmt.Errorf("encoding token: %w", err)
	}
	ok, err := s.client.SetNX(ctx, redisKeyPrefix+tok.Value, data, s.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("storing confirmation token: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("storing confirmation token: value collision")
	}
	s.logger.InfoContext(ctx, "confirmation token issued (redis)",
		slog.String("action", action),
		slog.Time("expires_at", tok.ExpiresAt),
	)
	return tok, nil
}

func (s *RedisStore) VerifyAndConsume(ctx context.Context, value string) (*Token, error) {
	data, err := s.client.GetDel(ctx, redisKeyPrefix+normalizeValue(value)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("consuming confirmation token: %w", err)
	}

	var tok Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("decoding confirmation token: %w", err)
	}
	if tok.Expired(s.now()) {
		return nil, ErrExpired
	}
	return &tok, nil
}

// Ping checks the Redis connection for readiness probes.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
