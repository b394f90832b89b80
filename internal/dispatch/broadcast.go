package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/itsuki-dev/mcp-sessions-go/internal/jsonrpc"
	"github.com/itsuki-dev/mcp-sessions-go/mcp"
	"github.com/itsuki-dev/mcp-sessions-go/registry"
	"github.com/itsuki-dev/mcp-sessions-go/sessions"
)

// broadcastWriteTimeout bounds one session's delivery so a stalled
// transport cannot wedge the fan-out.
const broadcastWriteTimeout = 10 * time.Second

// Broadcaster pushes tools/list_changed notifications to every live
// session whenever the registry changes. One failed delivery never
// blocks the rest of the fan-out.
type Broadcaster struct {
	table *sessions.Table
	reg   *registry.Registry
	log   *slog.Logger
}

// NewBroadcaster builds a Broadcaster over the given table and registry.
func NewBroadcaster(table *sessions.Table, reg *registry.Registry, log *slog.Logger) *Broadcaster {
	if log == nil {
		log = slog.Default()
	}
	return &Broadcaster{table: table, reg: reg, log: log}
}

// Run subscribes to registry changes and broadcasts on each signal
// until ctx is canceled or the registry closes. It blocks; run it in
// its own goroutine.
func (b *Broadcaster) Run(ctx context.Context) {
	sub := b.reg.Subscriber()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-sub:
			if !ok {
				return
			}
			b.BroadcastToolsChanged(ctx)
		}
	}
}

// BroadcastToolsChanged delivers a tools/list_changed notification to a
// point-in-time snapshot of the session table. Closed sessions are
// skipped; other delivery failures are logged and the fan-out continues.
// Deliveries run concurrently with a per-session deadline, so one slow
// transport delays neither the other sessions nor the broadcast loop
// beyond that deadline.
func (b *Broadcaster) BroadcastToolsChanged(ctx context.Context) {
	note, err := jsonrpc.NewRequest(nil, string(mcp.ToolsListChangedNotificationMethod), nil)
	if err != nil {
		b.log.ErrorContext(ctx, "build list_changed notification", slog.String("err", err.Error()))
		return
	}
	msg, err := json.Marshal(note)
	if err != nil {
		b.log.ErrorContext(ctx, "marshal list_changed notification", slog.String("err", err.Error()))
		return
	}

	var wg sync.WaitGroup
	b.table.ForEach(func(s *sessions.Session) {
		if s.State() == sessions.StateClosed {
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			wctx, cancel := context.WithTimeout(ctx, broadcastWriteTimeout)
			defer cancel()
			if err := s.Write(wctx, msg); err != nil {
				b.log.WarnContext(wctx, "list_changed delivery failed",
					slog.String("session_id", s.ID()),
					slog.String("err", err.Error()))
			}
		}()
	})
	wg.Wait()
}
