// Package events publishes ticket lifecycle events to downstream consumers.
package events

import (
	"context"
	"log/slog"

	"github.com/kirinyoku/tix-gate/internal/domain"
)

type Publisher interface {
	Name() string
	Publish(ctx context.Context, ev domain.TicketEvent) error
}

// Fanout delivers every event to all sinks. A failing sink is logged and
// never fails the caller.
type Fanout struct {
	log   *slog.Logger
	sinks []Publisher
}

func NewFanout(log *slog.Logger, sinks ...Publisher) *Fanout {
	return &Fanout{log: log, sinks: sinks}
}

func (f *Fanout) Publish(ctx context.Context, ev domain.TicketEvent) {
	for _, s := range f.sinks {
		if err := s.Publish(ctx, ev); err != nil {
			f.log.WarnContext(ctx, "publish ticket event",
				"sink", s.Name(),
				"type", ev.Type,
				"ticket_id", ev.TicketID,
				"err", err,
			)
		}
	}
}

func (f *Fanout) PublishAll(ctx context.Context, evs []domain.TicketEvent) {
	for _, ev := range evs {
		f.Publish(ctx, ev)
	}
}
