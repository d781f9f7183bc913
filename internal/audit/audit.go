// Package audit decouples audit-event producers (ProviderClient, Watchdog)
// from the orchestrator's audit-log HTTP call. Adapted from the teacher's
// buffered-channel/ticker background writer: instead of batching Postgres
// inserts it batches POST {API_GATEWAY_URL}/audit/internal/log calls
// (spec.md §6), preserving the "never block the caller, drop under
// backpressure with a warning" behavior.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/InferiaAI/depin-sidecar/pkg/nosana/orchestrator"
)

const (
	bufferSize    = 256
	flushInterval = 2 * time.Second
	flushBatch    = 32
)

// Writer is an async, buffered audit-event writer.
type Writer struct {
	client *orchestrator.Client
	logger *slog.Logger
	events chan orchestrator.AuditEvent
	wg     sync.WaitGroup
}

// NewWriter builds an audit Writer over client. Call Start to begin
// processing events.
func NewWriter(client *orchestrator.Client, logger *slog.Logger) *Writer {
	return &Writer{
		client: client,
		logger: logger,
		events: make(chan orchestrator.AuditEvent, bufferSize),
	}
}

// Start begins the background goroutine that flushes audit events to the
// orchestrator and returns immediately. The goroutine exits when ctx is
// cancelled (after flushing the events already buffered) or on Close.
func (w *Writer) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
}

// Close waits for all pending events to be flushed.
func (w *Writer) Close() {
	close(w.events)
	w.wg.Wait()
}

// Log enqueues an audit event for async writing. It never blocks the
// caller; if the buffer is full the event is dropped and a warning is
// logged, consistent with the audit-log outage tolerance already documented
// on orchestrator.Client.WriteAudit.
func (w *Writer) Log(ev orchestrator.AuditEvent) {
	select {
	case w.events <- ev:
	default:
		w.logger.Warn("audit: buffer full, dropping event", "action", ev.Action, "resource_id", ev.ResourceID)
	}
}

// run is the background loop that drains the events channel.
func (w *Writer) run(ctx context.Context) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]orchestrator.AuditEvent, 0, flushBatch)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		w.flush(batch)
		batch = batch[:0]
	}

	for {
		select {
		case ev, ok := <-w.events:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ev)
			if len(batch) >= flushBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			for {
				select {
				case ev, ok := <-w.events:
					if !ok {
						flush()
						return
					}
					batch = append(batch, ev)
				default:
					flush()
					return
				}
			}
		}
	}
}

// flush posts each queued event to the orchestrator in turn; the endpoint
// has no bulk form, so a batch is a sequence of individual POSTs drained
// together rather than one combined request.
func (w *Writer) flush(events []orchestrator.AuditEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, ev := range events {
		w.client.WriteAudit(ctx, ev)
	}
}
