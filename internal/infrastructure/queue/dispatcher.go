package queue

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/healthbridge/portal-session/internal/api/metrics"
	"github.com/healthbridge/portal-session/internal/core/ports"
)

const defaultBuffer = 64

// Dispatcher feeds inbound events to a single worker so session operations
// triggered by pushes and lifecycle hooks are applied in arrival order.
type Dispatcher struct {
	events  chan ports.InboundEvent
	service ports.EventService
	log     zerolog.Logger

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewDispatcher creates a Dispatcher with a buffer of the given size.
// If buffer <= 0, defaultBuffer is used.
func NewDispatcher(buffer int, service ports.EventService, log zerolog.Logger) *Dispatcher {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Dispatcher{
		events:  make(chan ports.InboundEvent, buffer),
		service: service,
		log:     log,
	}
}

// Start launches the worker. It stops when ctx is cancelled or after Close
// once the buffer is drained.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go d.run(ctx)
}

// Enqueue hands an event to the worker, blocking while the buffer is full
// until ctx is done.
func (d *Dispatcher) Enqueue(ctx context.Context, event ports.InboundEvent) error {
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now().UTC()
	}
	select {
	case d.events <- event:
		metrics.EventsQueueDepth.Set(float64(len(d.events)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EnqueueBatch enqueues multiple events preserving their order.
func (d *Dispatcher) EnqueueBatch(ctx context.Context, events []ports.InboundEvent) error {
	for _, e := range events {
		if err := d.Enqueue(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// Close stops accepting events and waits for the worker to drain the
// buffer. Enqueue must not be called after Close.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() { close(d.events) })
	d.wg.Wait()
}

func (d *Dispatcher) run(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-d.events:
			if !ok {
				return
			}
			metrics.EventsQueueDepth.Set(float64(len(d.events)))
			if err := d.service.Process(ctx, event); err != nil {
				d.log.Error().Err(err).
					Str("message_id", event.MessageID).
					Str("kind", string(event.Kind)).
					Dur("queued_for", time.Since(event.ReceivedAt)).
					Msg("event processing failed")
			}
		}
	}
}
