package redis_repository

import (
	"context"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
)

// ConnOptions addresses the Redis instance that backs the registry, the
// sweep lock and the notification stream.
type ConnOptions struct {
	Host     string
	Port     string
	Password string
	DB       int
	Timeout  time.Duration
}

// Conn opens a client and checks it answers PING before anything is stored
// through it.
func Conn(ctx context.Context, opts ConnOptions) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        net.JoinHostPort(opts.Host, opts.Port),
		DialTimeout: opts.Timeout,
		Password:    opts.Password,
		DB:          opts.DB,
	})
	log.Println("redis registry -> " + client.Options().Addr)
	return verify(ctx, client)
}

// verify closes client when it does not answer.
func verify(ctx context.Context, client *redis.Client) (*redis.Client, error) {
	if err := ping(ctx, client); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis %s: %w", client.Options().Addr, err)
	}
	return client, nil
}

func ping(ctx context.Context, client *redis.Client) error {
	pong, err := client.Ping(ctx).Result()
	if err != nil {
		return err
	}
	if pong != "PONG" {
		return fmt.Errorf("expected PONG, got %s", pong)
	}
	return nil
}
