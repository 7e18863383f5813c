package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript deletes the lock only if this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the lock only if this holder still owns it.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisRunLock serializes runs across processes (SETNX with TTL). A held lock
// is renewed in the background, so a run may outlast the TTL.
type RedisRunLock struct {
	rc     *redis.Client
	key    string
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisRunLock(rc *redis.Client, prefix string, ttl time.Duration, logger *zap.Logger) *RedisRunLock {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisRunLock{rc: rc, key: prefix + "price-run:lock", ttl: ttl, logger: logger}
}

func (l *RedisRunLock) Acquire(ctx context.Context) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := l.rc.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
		})
		if err := releaseScript.Run(context.Background(), l.rc, []string{l.key}, token).Err(); err != nil {
			l.logger.Warn("failed to release run lock", zap.String("key", l.key), zap.Error(err))
		}
	}, true, nil
}

// keepAlive extends the lock every third of its TTL until stop is closed.
func (l *RedisRunLock) keepAlive(token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	every := l.ttl / 3
	if every <= 0 {
		every = time.Millisecond
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), every)
			n, err := renewScript.Run(ctx, l.rc, []string{l.key}, token, l.ttl.Milliseconds()).Int()
			cancel()
			switch {
			case err != nil:
				l.logger.Warn("failed to renew run lock", zap.String("key", l.key), zap.Error(err))
			case n == 0:
				l.logger.Error("run lock lost while the run was in progress", zap.String("key", l.key))
				return
			}
		}
	}
}

// LocalRunLock serializes runs inside one process when redis is not configured.
type LocalRunLock struct {
	mu sync.Mutex
}

func NewLocalRunLock() *LocalRunLock {
	return &LocalRunLock{}
}

func (l *LocalRunLock) Acquire(ctx context.Context) (func(), bool, error) {
	if !l.mu.TryLock() {
		return nil, false, nil
	}
	return l.mu.Unlock, true, nil
}
