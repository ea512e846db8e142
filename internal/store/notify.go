package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Notifier signals that a user's conversation changed. The DynamoDB chat
// store publishes after every write and re-reads on every signal; the
// signal itself carries no data.
type Notifier interface {
	Notify(ctx context.Context, userID string) error

	// Listen calls fn for every signal on userID until stop is called.
	Listen(ctx context.Context, userID string, fn func()) (stop func(), err error)
}

// LocalNotifier delivers signals within one process.
type LocalNotifier struct {
	mu        sync.Mutex
	listeners map[string]map[uint64]func()
	nextID    uint64
}

// Compile-time interface check.
var _ Notifier = (*LocalNotifier)(nil)

// NewLocalNotifier returns a notifier without listeners.
func NewLocalNotifier() *LocalNotifier {
	return &LocalNotifier{listeners: make(map[string]map[uint64]func())}
}

func (n *LocalNotifier) Notify(_ context.Context, userID string) error {
	n.mu.Lock()
	fns := make([]func(), 0, len(n.listeners[userID]))
	for _, fn := range n.listeners[userID] {
		fns = append(fns, fn)
	}
	n.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	return nil
}

func (n *LocalNotifier) Listen(_ context.Context, userID string, fn func()) (func(), error) {
	n.mu.Lock()
	n.nextID++
	id := n.nextID
	if n.listeners[userID] == nil {
		n.listeners[userID] = make(map[uint64]func())
	}
	n.listeners[userID][id] = fn
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			delete(n.listeners[userID], id)
			if len(n.listeners[userID]) == 0 {
				delete(n.listeners, userID)
			}
		})
	}, nil
}

// RedisNotifier fans signals out over Redis pub/sub so that every API
// instance holding an SSE connection for the user re-reads the history.
// One channel per user: {prefix}{userId}.
type RedisNotifier struct {
	rdb    *goredis.Client
	prefix string
}

// Compile-time interface check.
var _ Notifier = (*RedisNotifier)(nil)

// NewRedisNotifier connects to addr and verifies the connection.
func NewRedisNotifier(ctx context.Context, addr, prefix string) (*RedisNotifier, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("missing redis address")
	}
	if prefix == "" {
		prefix = "insight:chat:"
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

	log.Info().Str("addr", addr).Str("prefix", prefix).Msg("Redis chat notifier connected")
	return &RedisNotifier{rdb: rdb, prefix: prefix}, nil
}

// Channel returns the pub/sub channel of userID.
func (n *RedisNotifier) Channel(userID string) string {
	return n.prefix + userID
}

func (n *RedisNotifier) Notify(ctx context.Context, userID string) error {
	if err := n.rdb.Publish(ctx, n.Channel(userID), "changed").Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", n.Channel(userID), err)
	}
	return nil
}

func (n *RedisNotifier) Listen(ctx context.Context, userID string, fn func()) (func(), error) {
	channel := n.Channel(userID)
	sub := n.rdb.Subscribe(ctx, channel)

	// Receive blocks until the subscription is confirmed.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", channel, err)
	}

	done := make(chan struct{})
	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-done:
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				fn()
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			if err := sub.Close(); err != nil {
				log.Warn().Err(err).Str("channel", channel).Msg("Failed to close redis subscription")
			}
		})
	}, nil
}

// Close releases the Redis connection pool.
func (n *RedisNotifier) Close() error {
	return n.rdb.Close()
}
