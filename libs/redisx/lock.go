package redisx

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lock is a best-effort distributed lease. The lease expires on its own after
// TTL, so a crashed holder can never block other instances forever; Release
// only deletes the key while this instance still owns it.
type Lock struct {
	rdb *redis.Client
	key string
	ttl time.Duration
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

func NewLock(rdb *redis.Client, key string, ttl time.Duration) *Lock {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Lock{rdb: rdb, key: key, ttl: ttl}
}

// TryAcquire attempts a single non-blocking acquisition. When it succeeds the
// caller must invoke the returned release func on every exit path.
func (l *Lock) TryAcquire(ctx context.Context) (release func(), acquired bool, err error) {
	if l.rdb == nil {
		return nil, false, errors.New("redis not configured")
	}
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	release = func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = releaseScript.Run(releaseCtx, l.rdb, []string{l.key}, token).Result()
	}
	return release, true, nil
}

func ReadyCheck(rdb *redis.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		if rdb == nil {
			return errors.New("redis not configured")
		}
		return rdb.Ping(ctx).Err()
	}
}
