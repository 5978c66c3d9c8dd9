package ratelimit

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/redis/go-redis/v9"

	"github.com/goliatone/go-identity"
)

const defaultKeyPrefix = "identity:ratelimit:"

// hit increments the counter and starts the window on the first attempt.
var hit = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// Redis counts attempts in fixed windows shared across processes.
type Redis struct {
	client   redis.UniversalClient
	attempts int64
	window   time.Duration
	prefix   string
}

var _ identity.RateLimiter = (*Redis)(nil)

type RedisOption func(*Redis)

// WithKeyPrefix namespaces the counters.
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

func NewRedis(client redis.UniversalClient, attempts int, window time.Duration, opts ...RedisOption) (*Redis, error) {
	if client == nil {
		return nil, goerrors.New("redis client is required", goerrors.CategoryBadInput)
	}
	if attempts <= 0 || window <= 0 {
		return nil, goerrors.New("rate limit attempts and window must be positive", goerrors.CategoryBadInput)
	}
	r := &Redis{
		client:   client,
		attempts: int64(attempts),
		window:   window,
		prefix:   defaultKeyPrefix,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// NewRedisFromURL parses url and checks the server is reachable.
func NewRedisFromURL(ctx context.Context, url string, attempts int, window time.Duration, opts ...RedisOption) (*Redis, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid redis url")
	}

	client := redis.NewClient(options)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "failed to connect to redis")
	}
	return NewRedis(client, attempts, window, opts...)
}

// Allow counts the attempt against the current window.
func (r *Redis) Allow(ctx context.Context, action, key string) (bool, error) {
	counter := r.prefix + action + ":" + key

	n, err := hit.Run(ctx, r.client, []string{counter}, r.window.Milliseconds()).Int64()
	if err != nil {
		return false, goerrors.Wrap(err, goerrors.CategoryOperation, "rate limit counter failed")
	}
	return n <= r.attempts, nil
}

// Reset clears the counter, e.g. after a successful login.
func (r *Redis) Reset(ctx context.Context, action, key string) error {
	return r.client.Del(ctx, r.prefix+action+":"+key).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
