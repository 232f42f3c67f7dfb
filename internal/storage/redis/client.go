package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	msgCountPrefix = "chat_rate:"
	roomSetPrefix  = "room_conn:"
)

type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

// IncrMessageCount bumps chat_rate:{user}. INCR + EXPIRE-on-first keeps the
// count correct when several gateway processes race on the same user.
func (c *Client) IncrMessageCount(ctx context.Context, userID string, window time.Duration) (int64, time.Duration, error) {
	key := msgCountPrefix + userID
	n, err := c.cli.Incr(ctx, key).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("redis incr %s: %w", key, err)
	}
	if n == 1 {
		if err := c.cli.Expire(ctx, key, window).Err(); err != nil {
			return n, window, fmt.Errorf("redis expire %s: %w", key, err)
		}
		return n, window, nil
	}
	ttl, err := c.cli.TTL(ctx, key).Result()
	if err != nil || ttl < 0 {
		return n, window, nil
	}
	return n, ttl, nil
}

// AddRoom adds the room to room_conn:{user}. Set semantics make reconnects
// to an already-counted room free.
func (c *Client) AddRoom(ctx context.Context, userID, roomID string, window time.Duration) (bool, int64, time.Duration, error) {
	key := roomSetPrefix + userID
	added, err := c.cli.SAdd(ctx, key, roomID).Result()
	if err != nil {
		return false, 0, 0, fmt.Errorf("redis sadd %s: %w", key, err)
	}
	// Start the window with the first member. NX keeps a racing second
	// process from resetting an in-flight window.
	if err := c.cli.ExpireNX(ctx, key, window).Err(); err != nil {
		return added == 1, 0, 0, fmt.Errorf("redis expirenx %s: %w", key, err)
	}
	size, err := c.cli.SCard(ctx, key).Result()
	if err != nil {
		return added == 1, 0, 0, fmt.Errorf("redis scard %s: %w", key, err)
	}
	ttl, err := c.cli.TTL(ctx, key).Result()
	if err != nil || ttl < 0 {
		ttl = window
	}
	return added == 1, size, ttl, nil
}

func (c *Client) RemoveRoom(ctx context.Context, userID, roomID string) error {
	key := roomSetPrefix + userID
	if err := c.cli.SRem(ctx, key, roomID).Err(); err != nil {
		return fmt.Errorf("redis srem %s: %w", key, err)
	}
	return nil
}
