// Package hosttest is a conformance suite for sessions.MessageHost
// implementations. Every backend runs the same suite so ordering,
// resume, and cleanup semantics stay aligned across hosts.
package hosttest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/itsuki-dev/mcp-sessions-go/sessions"
)

// HostFactory builds a fresh MessageHost for one subtest.
type HostFactory func(t *testing.T) sessions.MessageHost

// RunMessageHostTests runs the full suite against hosts built by factory.
func RunMessageHostTests(t *testing.T, factory HostFactory) {
	t.Run("PublishDeliversToActiveSubscriber", func(t *testing.T) { testPublishDelivers(t, factory) })
	t.Run("OrderedResumeFromLastEventID", func(t *testing.T) { testOrderedResume(t, factory) })
	t.Run("IsolationBetweenSessions", func(t *testing.T) { testIsolation(t, factory) })
	t.Run("SubscribeHonorsContextCancellation", func(t *testing.T) { testCancellation(t, factory) })
	t.Run("HandlerErrorStopsSubscription", func(t *testing.T) { testHandlerError(t, factory) })
	t.Run("PublishAfterCleanupFails", func(t *testing.T) { testPublishAfterCleanup(t, factory) })
	t.Run("CleanupEndsActiveSubscription", func(t *testing.T) { testCleanupEndsSubscription(t, factory) })
}

func testPublishDelivers(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sessionID := uuid.NewString()

	type received struct {
		id   string
		data []byte
	}
	var mu sync.Mutex
	var got []received

	done := make(chan error, 1)
	go func() {
		done <- h.Subscribe(ctx, sessionID, "", func(ctx context.Context, msgID string, msg []byte) error {
			mu.Lock()
			got = append(got, received{msgID, append([]byte(nil), msg...)})
			mu.Unlock()
			cancel()
			return nil
		})
	}()
	time.Sleep(100 * time.Millisecond)

	evID, err := h.Publish(ctx, sessionID, []byte(`{"m":"one"}`))
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if evID == "" {
		t.Fatal("expected a non-empty event id")
	}

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Fatalf("subscribe returned: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscribe never returned")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("expected 1 message, got %d", len(got))
	}
	if got[0].id != evID {
		t.Fatalf("event id: want %s got %s", evID, got[0].id)
	}
	if string(got[0].data) != `{"m":"one"}` {
		t.Fatalf("payload: %s", got[0].data)
	}
}

func testOrderedResume(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sessionID := uuid.NewString()

	ev1, err := h.Publish(ctx, sessionID, []byte("m1"))
	if err != nil {
		t.Fatalf("publish 1: %v", err)
	}
	ev2, err := h.Publish(ctx, sessionID, []byte("m2"))
	if err != nil {
		t.Fatalf("publish 2: %v", err)
	}
	ev3, err := h.Publish(ctx, sessionID, []byte("m3"))
	if err != nil {
		t.Fatalf("publish 3: %v", err)
	}

	var mu sync.Mutex
	var ids []string
	done := make(chan error, 1)
	go func() {
		done <- h.Subscribe(ctx, sessionID, ev1, func(ctx context.Context, msgID string, msg []byte) error {
			mu.Lock()
			ids = append(ids, msgID)
			n := len(ids)
			mu.Unlock()
			if n == 2 {
				cancel()
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Fatalf("subscribe returned: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscribe never returned")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(ids) != 2 || ids[0] != ev2 || ids[1] != ev3 {
		t.Fatalf("resume ids: want [%s %s] got %v", ev2, ev3, ids)
	}
}

func testIsolation(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s1, s2 := uuid.NewString(), uuid.NewString()

	var mu sync.Mutex
	counts := map[string]int{}
	subscribe := func(id string, done chan<- error) {
		done <- h.Subscribe(ctx, id, "", func(ctx context.Context, msgID string, msg []byte) error {
			mu.Lock()
			counts[id]++
			mu.Unlock()
			return nil
		})
	}
	d1 := make(chan error, 1)
	d2 := make(chan error, 1)
	go subscribe(s1, d1)
	go subscribe(s2, d2)
	time.Sleep(100 * time.Millisecond)

	if _, err := h.Publish(ctx, s1, []byte("for-s1")); err != nil {
		t.Fatalf("publish s1: %v", err)
	}
	if _, err := h.Publish(ctx, s2, []byte("for-s2")); err != nil {
		t.Fatalf("publish s2: %v", err)
	}

	time.Sleep(200 * time.Millisecond)
	cancel()
	<-d1
	<-d2

	mu.Lock()
	defer mu.Unlock()
	if counts[s1] != 1 || counts[s2] != 1 {
		t.Fatalf("delivery counts: s1=%d s2=%d", counts[s1], counts[s2])
	}
}

func testCancellation(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- h.Subscribe(ctx, uuid.NewString(), "", func(ctx context.Context, msgID string, msg []byte) error {
			return nil
		})
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("want deadline exceeded, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscribe ignored cancellation")
	}
}

func testHandlerError(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sessionID := uuid.NewString()
	boom := errors.New("handler failed")

	done := make(chan error, 1)
	go func() {
		done <- h.Subscribe(ctx, sessionID, "", func(ctx context.Context, msgID string, msg []byte) error {
			return boom
		})
	}()
	time.Sleep(100 * time.Millisecond)
	if _, err := h.Publish(ctx, sessionID, []byte("m")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case err := <-done:
		if !errors.Is(err, boom) {
			t.Fatalf("want handler error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler error did not stop the subscription")
	}
}

func testPublishAfterCleanup(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sessionID := uuid.NewString()

	if _, err := h.Publish(ctx, sessionID, []byte("m")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := h.Cleanup(ctx, sessionID); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if _, err := h.Publish(ctx, sessionID, []byte("late")); err == nil {
		t.Fatal("publish after cleanup must fail")
	}
}

func testCleanupEndsSubscription(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sessionID := uuid.NewString()

	done := make(chan error, 1)
	go func() {
		done <- h.Subscribe(ctx, sessionID, "", func(ctx context.Context, msgID string, msg []byte) error {
			return nil
		})
	}()
	time.Sleep(100 * time.Millisecond)

	if err := h.Cleanup(ctx, sessionID); err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("want clean termination after cleanup, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("cleanup did not end the subscription")
	}
}
