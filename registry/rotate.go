package registry

import (
	"context"
	"log/slog"
	"time"
)

// Rotator periodically replaces the registry's tool set with the output
// of a generator function. Each swap bumps the registry version, which
// in turn signals change subscribers.
type Rotator struct {
	reg      *Registry
	interval time.Duration
	next     func() []Definition
	log      *slog.Logger
}

// NewRotator builds a Rotator. next is called once per tick to produce
// the replacement tool set.
func NewRotator(reg *Registry, interval time.Duration, next func() []Definition, log *slog.Logger) *Rotator {
	if log == nil {
		log = slog.Default()
	}
	return &Rotator{reg: reg, interval: interval, next: next, log: log}
}

// Run rotates the tool set on every tick until ctx is canceled. It
// blocks; run it in its own goroutine.
func (r *Rotator) Run(ctx context.Context) {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.reg.Replace(r.next()...)
			r.log.DebugContext(ctx, "tool set rotated", slog.Uint64("version", r.reg.Version()))
		}
	}
}
