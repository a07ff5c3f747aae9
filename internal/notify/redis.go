package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"invoicer/internal/logger"
)

// Redis publishes revalidated paths on a pub/sub channel.
type Redis struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string
}

type redisMessage struct {
	Path string `json:"path"`
}

// NewRedis connects and pings the server before returning.
func NewRedis(ctx context.Context, addr, channel string, log *logger.Logger) (*Redis, error) {
	if addr == "" {
		return nil, fmt.Errorf("missing redis address")
	}
	if channel == "" {
		channel = "invoicer.revalidate"
	}
	if log == nil {
		log = logger.Nop()
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Redis{
		log:     log.With("service", "RedisRevalidator"),
		rdb:     rdb,
		channel: channel,
	}, nil
}

func (r *Redis) Revalidate(ctx context.Context, path string) {
	raw, err := json.Marshal(redisMessage{Path: path})
	if err != nil {
		r.log.Error("encode revalidate message", "error", err)
		return
	}
	if err := r.rdb.Publish(ctx, r.channel, raw).Err(); err != nil {
		r.log.Warn("redis revalidate publish failed", "path", path, "error", err)
	}
}

// Subscribe forwards revalidated paths published by any instance to onPath
// until ctx is done.
func (r *Redis) Subscribe(ctx context.Context, onPath func(string)) error {
	sub := r.rdb.Subscribe(ctx, r.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}
	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				var msg redisMessage
				if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
					r.log.Warn("bad redis revalidate payload", "error", err)
					continue
				}
				onPath(msg.Path)
			}
		}
	}()
	return nil
}

func (r *Redis) Close() error {
	if r == nil || r.rdb == nil {
		return nil
	}
	return r.rdb.Close()
}
