package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/Ankitmohanty2/Kagaz/internal/logger"
	"github.com/Ankitmohanty2/Kagaz/internal/pkg/httpx"
)

var releaseScript = goredis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

var refreshScript = goredis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker is a lease lock shared by every replica pointing at the same
// Redis. The lease is refreshed while held so long indexing runs keep it.
type RedisLocker struct {
	rdb       *goredis.Client
	log       *logger.Logger
	ttl       time.Duration
	pollEvery time.Duration
	prefix    string
}

func NewRedisLocker(log *logger.Logger, addr string, ttl time.Duration) (*RedisLocker, error) {
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisLocker{
		rdb:       rdb,
		log:       log.With("component", "RedisLocker"),
		ttl:       ttl,
		pollEvery: 100 * time.Millisecond,
		prefix:    "kagaz:lock:",
	}, nil
}

func (r *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := r.prefix + key
	token := uuid.NewString()

	for {
		ok, err := r.rdb.SetNX(ctx, redisKey, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}
		if ok {
			break
		}
		if err := httpx.Sleep(ctx, httpx.JitterSleep(r.pollEvery)); err != nil {
			return nil, err
		}
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.refresh(redisKey, token, stop)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			wg.Wait()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, r.rdb, []string{redisKey}, token).Err(); err != nil {
				r.log.Warn("lock release failed", "key", key, "error", err)
			}
		})
	}, nil
}

func (r *RedisLocker) refresh(redisKey, token string, stop <-chan struct{}) {
	t := time.NewTicker(r.ttl / 3)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := refreshScript.Run(ctx, r.rdb, []string{redisKey}, token, r.ttl.Milliseconds()).Err()
			cancel()
			if err != nil {
				r.log.Warn("lock refresh failed", "key", redisKey, "error", err)
			}
		}
	}
}

func (r *RedisLocker) Close() error {
	return r.rdb.Close()
}
