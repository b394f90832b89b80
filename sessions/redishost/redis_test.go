package redishost

import (
	"context"
	"testing"

	"github.com/itsuki-dev/mcp-sessions-go/sessions"
	"github.com/itsuki-dev/mcp-sessions-go/sessions/hosttest"
)

func TestRedisMessageHost(t *testing.T) {
	// Quick availability check so environments without Redis skip
	// gracefully instead of failing.
	h, err := NewFromEnv()
	if err != nil {
		t.Skipf("skipping redis host tests: %v", err)
		return
	}
	_ = h.Close()

	hosttest.RunMessageHostTests(t, func(t *testing.T) sessions.MessageHost {
		hh, err := NewFromEnv()
		if err != nil {
			t.Fatalf("NewFromEnv: %v", err)
		}
		t.Cleanup(func() { _ = hh.Close() })
		return hh
	})
}

func TestValidateCursorFormat(t *testing.T) {
	h := &Host{}
	if err := h.ValidateCursor(context.Background(), "s", "1692800000000-0"); err != nil {
		t.Fatalf("valid id rejected: %v", err)
	}
	for _, id := range []string{"nope", "12ab-0", "5-", "-7"} {
		if err := h.ValidateCursor(context.Background(), "s", id); err == nil {
			t.Fatalf("malformed id %q accepted", id)
		}
	}
}
