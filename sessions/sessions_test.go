package sessions_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/itsuki-dev/mcp-sessions-go/sessions"
	"github.com/itsuki-dev/mcp-sessions-go/sessions/memoryhost"
)

func TestTableCreateAndLookup(t *testing.T) {
	tbl := sessions.NewTable()
	host := memoryhost.New()

	sess, err := tbl.Create(host)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if sess.ID() == "" {
		t.Fatal("empty session id")
	}
	if got := sess.State(); got != sessions.StateInitializing {
		t.Fatalf("new session state: %v", got)
	}

	// Registration is synchronous with id assignment.
	got, err := tbl.Lookup(sess.ID())
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got != sess {
		t.Fatal("lookup returned a different session")
	}
}

func TestTableLookupUnknown(t *testing.T) {
	tbl := sessions.NewTable()
	if _, err := tbl.Lookup("missing"); !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("want ErrSessionNotFound, got %v", err)
	}
}

func TestTableRemoveIsIdempotent(t *testing.T) {
	tbl := sessions.NewTable()
	sess, err := tbl.Create(memoryhost.New())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	tbl.Remove(sess.ID())
	tbl.Remove(sess.ID()) // second remove is a no-op

	if _, err := tbl.Lookup(sess.ID()); !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("want ErrSessionNotFound after remove, got %v", err)
	}
	if tbl.Len() != 0 {
		t.Fatalf("table not empty: %d", tbl.Len())
	}
}

func TestTableForEachSnapshot(t *testing.T) {
	tbl := sessions.NewTable()
	host := memoryhost.New()
	for i := 0; i < 5; i++ {
		if _, err := tbl.Create(host); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	seen := map[string]int{}
	tbl.ForEach(func(s *sessions.Session) {
		seen[s.ID()]++
	})
	if len(seen) != 5 {
		t.Fatalf("visited %d sessions, want 5", len(seen))
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("session %s visited %d times", id, n)
		}
	}
}

func TestConcurrentCreatesYieldDistinctIDs(t *testing.T) {
	tbl := sessions.NewTable()
	host := memoryhost.New()

	const n = 50
	var wg sync.WaitGroup
	ids := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess, err := tbl.Create(host)
			if err != nil {
				t.Errorf("create: %v", err)
				return
			}
			ids <- sess.ID()
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate session id %s", id)
		}
		seen[id] = true
	}
	if tbl.Len() != n {
		t.Fatalf("table length: want %d got %d", n, tbl.Len())
	}
}

func TestSessionActivate(t *testing.T) {
	tbl := sessions.NewTable()
	sess, _ := tbl.Create(memoryhost.New())

	sess.Activate()
	if got := sess.State(); got != sessions.StateActive {
		t.Fatalf("state after activate: %v", got)
	}

	// Activating a closed session must not resurrect it.
	sess.Close()
	sess.Activate()
	if got := sess.State(); got != sessions.StateClosed {
		t.Fatalf("state after close+activate: %v", got)
	}
}

func TestSessionCloseRunsHooksOnce(t *testing.T) {
	tbl := sessions.NewTable()
	sess, _ := tbl.Create(memoryhost.New())

	var calls int
	sess.OnClose(func() { calls++ })

	sess.Close()
	sess.Close() // duplicate close signal

	if calls != 1 {
		t.Fatalf("close hook ran %d times, want 1", calls)
	}

	// Hooks registered after close run immediately.
	var late int
	sess.OnClose(func() { late++ })
	if late != 1 {
		t.Fatalf("late hook ran %d times, want 1", late)
	}
}

func TestWriteAfterCloseFails(t *testing.T) {
	tbl := sessions.NewTable()
	sess, _ := tbl.Create(memoryhost.New())
	sess.Close()

	err := sess.Write(context.Background(), []byte(`{}`))
	if !errors.Is(err, sessions.ErrDeliveryFailed) {
		t.Fatalf("want ErrDeliveryFailed, got %v", err)
	}
}

func TestWriteAndConsumeOrdered(t *testing.T) {
	tbl := sessions.NewTable()
	sess, _ := tbl.Create(memoryhost.New())
	sess.Activate()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan string, 3)
	go func() {
		_ = sess.Consume(ctx, "", func(ctx context.Context, msgID string, msg []byte) error {
			got <- string(msg)
			return nil
		})
	}()
	// Give the consumer time to establish its cursor; an empty
	// lastEventID means "next message onward".
	time.Sleep(50 * time.Millisecond)

	for _, m := range []string{"one", "two", "three"} {
		if err := sess.Write(ctx, []byte(m)); err != nil {
			t.Fatalf("write %q: %v", m, err)
		}
	}

	for _, want := range []string{"one", "two", "three"} {
		if msg := <-got; msg != want {
			t.Fatalf("out of order: want %q got %q", want, msg)
		}
	}
}
