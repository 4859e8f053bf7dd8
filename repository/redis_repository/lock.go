package redis_repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// SweepLock keeps two processes sharing one Redis from sweeping at the same
// time.
type SweepLock struct {
	client *redis.Client
	key    string
}

func NewSweepLock(client *redis.Client, prefix string) *SweepLock {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &SweepLock{client: client, key: prefix + ":sweep:lock"}
}

// Acquire takes the lock for ttl. ok is false when another holder has it.
func (l *SweepLock) Acquire(ctx context.Context, ttl time.Duration) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, ttl).Result()
	if err != nil || !ok {
		return nil, false, err
	}
	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.client, []string{l.key}, token).Err()
	}
	return release, true, nil
}
