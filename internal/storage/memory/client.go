// Package memory is the in-process AdmissionStore used by -dev mode and
// tests. Windows are tracked per key with an absolute expiry; counters from
// an expired window are discarded lazily on the next touch.
package memory

import (
	"context"
	"sync"
	"time"
)

type counter struct {
	n   int64
	exp time.Time
}

type roomSet struct {
	rooms map[string]struct{}
	exp   time.Time
}

type Client struct {
	mu     sync.Mutex
	counts map[string]counter
	rooms  map[string]roomSet

	// now is swappable in tests.
	now func() time.Time
}

func New() *Client {
	return &Client{
		counts: make(map[string]counter),
		rooms:  make(map[string]roomSet),
		now:    time.Now,
	}
}

// SetClock replaces the time source. Test hook.
func (c *Client) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func (c *Client) Close() error { return nil }

func (c *Client) IncrMessageCount(ctx context.Context, userID string, window time.Duration) (int64, time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	cur, ok := c.counts[userID]
	if !ok || now.After(cur.exp) {
		cur = counter{n: 0, exp: now.Add(window)}
	}
	cur.n++
	c.counts[userID] = cur
	ttl := cur.exp.Sub(now)
	if ttl < 0 {
		ttl = 0
	}
	return cur.n, ttl, nil
}

func (c *Client) AddRoom(ctx context.Context, userID, roomID string, window time.Duration) (bool, int64, time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	set, ok := c.rooms[userID]
	if !ok || now.After(set.exp) {
		set = roomSet{rooms: make(map[string]struct{}), exp: now.Add(window)}
	}
	_, existed := set.rooms[roomID]
	set.rooms[roomID] = struct{}{}
	c.rooms[userID] = set
	ttl := set.exp.Sub(now)
	if ttl < 0 {
		ttl = 0
	}
	return !existed, int64(len(set.rooms)), ttl, nil
}

func (c *Client) RemoveRoom(ctx context.Context, userID, roomID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if set, ok := c.rooms[userID]; ok {
		delete(set.rooms, roomID)
	}
	return nil
}
