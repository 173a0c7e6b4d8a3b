package events

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/kirinyoku/tix-gate/internal/domain"
	"github.com/kirinyoku/tix-gate/internal/metrics"
)

// Bus hands events to a Fanout on its own goroutine so a slow sink never
// holds up the caller. The queue is bounded; when it is full the event is
// dropped and counted.
type Bus struct {
	next    *Fanout
	log     *slog.Logger
	queue   chan domain.TicketEvent
	dropped atomic.Uint64
}

func NewBus(next *Fanout, size int, log *slog.Logger) *Bus {
	if size <= 0 {
		size = 256
	}

	return &Bus{
		next:  next,
		log:   log.With("component", "events"),
		queue: make(chan domain.TicketEvent, size),
	}
}

// Publish never blocks.
func (b *Bus) Publish(ctx context.Context, ev domain.TicketEvent) {
	select {
	case b.queue <- ev:
	default:
		b.dropped.Add(1)
		metrics.EventDropped(ev.Type)
		b.log.WarnContext(ctx, "event queue full, dropping ticket event",
			"type", ev.Type,
			"ticket_id", ev.TicketID,
		)
	}
}

func (b *Bus) PublishAll(ctx context.Context, evs []domain.TicketEvent) {
	for _, ev := range evs {
		b.Publish(ctx, ev)
	}
}

// Dropped reports how many events were discarded on a full queue.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Run delivers queued events in order until ctx is done, then drains what
// is left.
func (b *Bus) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			drain := context.WithoutCancel(ctx)
			for {
				select {
				case ev := <-b.queue:
					b.next.Publish(drain, ev)
				default:
					return nil
				}
			}
		case ev := <-b.queue:
			b.next.Publish(ctx, ev)
		}
	}
}
