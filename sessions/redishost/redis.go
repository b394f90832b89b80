// Package redishost provides a Redis Streams-backed
// sessions.MessageHost so multiple server instances can serve the same
// session population.
package redishost

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"

	"github.com/itsuki-dev/mcp-sessions-go/sessions"
)

// Config for the Redis-backed host. Defaults can be loaded via envdecode.
type Config struct {
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all keys. ENV: SESSIONS_KEY_PREFIX
	KeyPrefix string `env:"SESSIONS_KEY_PREFIX,default=mcp:sessions:"`
}

// Host implements sessions.MessageHost on Redis Streams (XADD/XREAD).
type Host struct {
	client    *redis.Client
	keyPrefix string
}

// New connects to Redis and verifies the connection with a ping.
func New(cfg Config) (*Host, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	cl := redis.NewClient(&redis.Options{Addr: addr})
	if err := cl.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "mcp:sessions:"
	}
	return &Host{client: cl, keyPrefix: prefix}, nil
}

// NewFromEnv builds a Host using envdecode to populate Config.
func NewFromEnv() (*Host, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config from env: %w", err)
	}
	return New(cfg)
}

// Close closes the Redis client.
func (h *Host) Close() error { return h.client.Close() }

func (h *Host) streamKey(sessionID string) string { return h.keyPrefix + "stream:" + sessionID }
func (h *Host) goneKey(sessionID string) string   { return h.keyPrefix + "gone:" + sessionID }

// Publish implements sessions.MessageHost. A cleaned-up session is
// marked with a tombstone key so late publishes fail detectably.
func (h *Host) Publish(ctx context.Context, sessionID string, data []byte) (string, error) {
	n, err := h.client.Exists(ctx, h.goneKey(sessionID)).Result()
	if err != nil {
		return "", err
	}
	if n == 1 {
		return "", fmt.Errorf("session %q has been cleaned up", sessionID)
	}
	id, err := h.client.XAdd(ctx, &redis.XAddArgs{
		Stream: h.streamKey(sessionID),
		Values: map[string]interface{}{"d": data},
	}).Result()
	if err != nil {
		return "", err
	}
	return id, nil
}

// Subscribe implements sessions.MessageHost using blocking XREAD with a
// short poll interval so context cancellation is honored promptly.
func (h *Host) Subscribe(ctx context.Context, sessionID string, lastEventID string, handler sessions.MessageHandlerFunc) error {
	key := h.streamKey(sessionID)
	start := lastEventID
	if start == "" {
		// Pin the cursor to the stream's current tip once, then poll
		// from concrete ids. Re-reading from "$" on every XRead timeout
		// would skip anything added between two reads.
		last, err := h.client.XRevRangeN(ctx, key, "+", "-", 1).Result()
		if err != nil {
			return err
		}
		if len(last) > 0 {
			start = last[0].ID
		} else {
			start = "0-0"
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		res, err := h.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{key, start},
			Count:   16,
			Block:   500 * time.Millisecond,
		}).Result()
		if err != nil {
			if err == redis.Nil {
				// Timed out with no messages; check for cleanup and retry.
				if gone, gerr := h.client.Exists(ctx, h.goneKey(sessionID)).Result(); gerr == nil && gone == 1 {
					return nil
				}
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if len(res) == 0 {
			continue
		}
		for _, m := range res[0].Messages {
			start = m.ID
			var payload []byte
			switch v := m.Values["d"].(type) {
			case string:
				payload = []byte(v)
			case []byte:
				payload = v
			default:
				payload = []byte(fmt.Sprintf("%v", v))
			}
			if err := handler(ctx, m.ID, payload); err != nil {
				return err
			}
		}
	}
}

// ValidateCursor implements sessions.CursorValidator. Redis stream ids
// have the form "<ms>-<seq>"; anything else cannot have come from this
// host and would poison a later XRead.
func (h *Host) ValidateCursor(ctx context.Context, sessionID string, lastEventID string) error {
	ms, seq, ok := strings.Cut(lastEventID, "-")
	if !ok {
		return fmt.Errorf("malformed event id %q", lastEventID)
	}
	if _, err := strconv.ParseUint(ms, 10, 64); err != nil {
		return fmt.Errorf("malformed event id %q", lastEventID)
	}
	if _, err := strconv.ParseUint(seq, 10, 64); err != nil {
		return fmt.Errorf("malformed event id %q", lastEventID)
	}
	return nil
}

// Cleanup implements sessions.MessageHost. Best-effort: the stream is
// deleted and a short-lived tombstone rejects stragglers.
func (h *Host) Cleanup(ctx context.Context, sessionID string) error {
	c := context.WithoutCancel(ctx)
	if err := h.client.Set(c, h.goneKey(sessionID), "1", time.Hour).Err(); err != nil {
		return err
	}
	_, _ = h.client.Del(c, h.streamKey(sessionID)).Result()
	return nil
}

var (
	_ sessions.MessageHost     = (*Host)(nil)
	_ sessions.CursorValidator = (*Host)(nil)
)
