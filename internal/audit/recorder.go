// Package audit writes account events to the audit log off the command path.
package audit

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/cryptowallet/internal/domain"
)

// DefaultBuffer is the number of events a Recorder queues before dropping.
const DefaultBuffer = 256

type entry struct {
	event  string
	detail map[string]any
}

// Recorder queues events and writes them to a domain.AuditStore from its own
// goroutine. Record never blocks: when the queue is full the event is
// dropped and counted.
type Recorder struct {
	store        domain.AuditStore
	queue        chan entry
	writeTimeout time.Duration
	dropped      atomic.Int64
	logger       *slog.Logger
}

// NewRecorder creates a Recorder. buffer <= 0 selects DefaultBuffer.
func NewRecorder(store domain.AuditStore, buffer int, logger *slog.Logger) *Recorder {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Recorder{
		store:        store,
		queue:        make(chan entry, buffer),
		writeTimeout: 5 * time.Second,
		logger:       logger.With(slog.String("component", "audit")),
	}
}

// Record enqueues an event.
func (r *Recorder) Record(_ context.Context, event string, detail map[string]any) {
	select {
	case r.queue <- entry{event: event, detail: detail}:
	default:
		n := r.dropped.Add(1)
		r.logger.Warn("audit queue full, event dropped",
			slog.String("event", event),
			slog.Int64("dropped_total", n),
		)
	}
}

// Dropped returns how many events were discarded.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// Run writes queued events until ctx is cancelled, then flushes what is
// already queued.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case e := <-r.queue:
			r.write(ctx, e)
		case <-ctx.Done():
			r.drain()
			return nil
		}
	}
}

func (r *Recorder) drain() {
	for {
		select {
		case e := <-r.queue:
			r.write(context.Background(), e)
		default:
			return
		}
	}
}

func (r *Recorder) write(ctx context.Context, e entry) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.writeTimeout)
	defer cancel()
	if err := r.store.Log(ctx, e.event, e.detail); err != nil {
		r.logger.Error("audit write failed",
			slog.String("event", e.event),
			slog.String("error", err.Error()),
		)
	}
}

// Discard drops every event. It stands in when no audit store is configured.
type Discard struct{}

// Record does nothing.
func (Discard) Record(context.Context, string, map[string]any) {}
