package redisrepo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kirinyoku/tix-gate/internal/domain"
	redisx "github.com/kirinyoku/tix-gate/internal/redis"
	"github.com/redis/go-redis/v9"
)

// TicketEventsPubSub fans ticket lifecycle events out to every instance so
// each one can feed its connected scan monitors.
type TicketEventsPubSub struct {
	rdb     *redis.Client
	channel string
}

func NewTicketEventsPubSub(rdb *redis.Client) *TicketEventsPubSub {
	return &TicketEventsPubSub{
		rdb:     rdb,
		channel: redisx.ChannelTicketEvents(),
	}
}

func (p *TicketEventsPubSub) Name() string { return "redis" }

func (p *TicketEventsPubSub) Publish(ctx context.Context, ev domain.TicketEvent) error {
	const op = "redisrepo.TicketEventsPubSub.Publish"

	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := p.rdb.Publish(ctx, p.channel, b).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// Subscribe blocks until ctx is done, calling handler for every well-formed
// event. Malformed payloads are dropped.
func (p *TicketEventsPubSub) Subscribe(ctx context.Context, handler func(ctx context.Context, ev domain.TicketEvent)) error {
	sub := p.rdb.Subscribe(ctx, p.channel)
	defer sub.Close()

	ch := sub.Channel(redis.WithChannelSize(256))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var ev domain.TicketEvent
			if err := json.Unmarshal([]byte(m.Payload), &ev); err == nil && ev.Type != "" {
				handler(ctx, ev)
			}
		}
	}
}
