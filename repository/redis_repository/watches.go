package redis_repository

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"time"

	"github.com/mohammad-safakhou/poodle/internal/registry"
	"github.com/mohammad-safakhou/poodle/models"
	"github.com/redis/go-redis/v9"
)

const (
	defaultKeyPrefix = "poodle"
	updateRetries    = 5
)

// redisWatchRepository implements registry.Registry on Redis. Per channel it
// keeps a hash of resource id -> JSON resource and a list holding the watch
// order; a set tracks channels with watches.
type redisWatchRepository struct {
	client *redis.Client
	prefix string
}

func NewRedisWatchRepository(client *redis.Client, prefix string) *redisWatchRepository {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &redisWatchRepository{client: client, prefix: prefix}
}

func (r *redisWatchRepository) watchKey(channelID string) string {
	return r.prefix + ":watch:" + channelID
}

func (r *redisWatchRepository) orderKey(channelID string) string {
	return r.prefix + ":order:" + channelID
}

func (r *redisWatchRepository) channelsKey() string {
	return r.prefix + ":channels"
}

// addScript stores the resource, appends it to the watch order and records
// the channel in one step. It returns 0 when the resource is already watched.
var addScript = redis.NewScript(`
if redis.call("HSETNX", KEYS[1], ARGV[1], ARGV[2]) == 0 then
	return 0
end
redis.call("RPUSH", KEYS[2], ARGV[1])
redis.call("SADD", KEYS[3], ARGV[3])
return 1
`)

// removeScript drops the resource and, with its last watch, the channel.
// It returns 0 when the resource was not watched.
var removeScript = redis.NewScript(`
if redis.call("HDEL", KEYS[1], ARGV[1]) == 0 then
	return 0
end
redis.call("LREM", KEYS[2], 0, ARGV[1])
if redis.call("HLEN", KEYS[1]) == 0 then
	redis.call("SREM", KEYS[3], ARGV[2])
end
return 1
`)

func (r *redisWatchRepository) keys(channelID string) []string {
	return []string{r.watchKey(channelID), r.orderKey(channelID), r.channelsKey()}
}

func (r *redisWatchRepository) Add(ctx context.Context, res models.WatchedResource) error {
	if res.WatchedAt.IsZero() {
		res.WatchedAt = time.Now().UTC()
	}
	data, err := json.Marshal(res)
	if err != nil {
		return err
	}
	added, err := addScript.Run(ctx, r.client, r.keys(res.ChannelID), res.Key(), data, res.ChannelID).Int()
	if err != nil {
		return err
	}
	if added == 0 {
		return models.ErrAlreadyWatching
	}
	return nil
}

func (r *redisWatchRepository) Remove(ctx context.Context, channelID string, resourceID int64) error {
	field := strconv.FormatInt(resourceID, 10)
	removed, err := removeScript.Run(ctx, r.client, r.keys(channelID), field, channelID).Int()
	if err != nil {
		return err
	}
	if removed == 0 {
		return models.ErrNotWatching
	}
	return nil
}

func (r *redisWatchRepository) List(ctx context.Context, channelID string) ([]models.WatchedResource, error) {
	fields, err := r.client.LRange(ctx, r.orderKey(channelID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}
	values, err := r.client.HMGet(ctx, r.watchKey(channelID), fields...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]models.WatchedResource, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			// Order entry without a hash field: removed concurrently.
			continue
		}
		var res models.WatchedResource
		if err := json.Unmarshal([]byte(s), &res); err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

func (r *redisWatchRepository) Channels(ctx context.Context) ([]string, error) {
	channels, err := r.client.SMembers(ctx, r.channelsKey()).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(channels)
	return channels, nil
}

func (r *redisWatchRepository) UpdateContent(ctx context.Context, channelID string, resourceID int64, u registry.ContentUpdate) error {
	key := r.watchKey(channelID)
	field := strconv.FormatInt(resourceID, 10)

	update := func(tx *redis.Tx) error {
		val, err := tx.HGet(ctx, key, field).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return models.ErrNotWatching
			}
			return err
		}
		var res models.WatchedResource
		if err := json.Unmarshal([]byte(val), &res); err != nil {
			return err
		}
		res.CheckedAt = u.CheckedAt
		if u.Changed {
			res.Content = u.Content
			res.ContentHash = u.ContentHash
			res.UpdatedAt = u.CheckedAt
		}
		data, err := json.Marshal(res)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, field, data)
			return nil
		})
		return err
	}

	for i := 0; i < updateRetries; i++ {
		err := r.client.Watch(ctx, update, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return redis.TxFailedErr
}

var _ registry.Registry = (*redisWatchRepository)(nil)
