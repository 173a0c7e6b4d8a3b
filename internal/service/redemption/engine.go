package redemption

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirinyoku/tix-gate/internal/domain"
	"github.com/kirinyoku/tix-gate/internal/metrics"
	"github.com/kirinyoku/tix-gate/internal/repository"
	"github.com/kirinyoku/tix-gate/internal/service/audit"
)

// TicketStore is the storage surface the engine needs. Status changes go
// only through CompareAndSetStatus.
type TicketStore interface {
	FindByToken(ctx context.Context, token string) (*domain.Ticket, error)
	FindByTokenPrefix(ctx context.Context, prefix string, limit int) ([]domain.Ticket, error)
	CompareAndSetStatus(
		ctx context.Context,
		token string,
		expected domain.TicketStatus,
		change domain.StatusChange,
	) (*domain.Ticket, error)
}

type Auditor interface {
	Record(ctx context.Context, r audit.Record)
}

type EventPublisher interface {
	Publish(ctx context.Context, ev domain.TicketEvent)
}

type StatsInvalidator interface {
	InvalidateStats(ctx context.Context) error
}

type Engine struct {
	tickets TicketStore
	audit   Auditor
	events  EventPublisher
	stats   StatsInvalidator
	log     *slog.Logger
	now     func() time.Time
}

func New(
	tickets TicketStore,
	auditor Auditor,
	events EventPublisher,
	stats StatsInvalidator,
	log *slog.Logger,
) *Engine {
	return &Engine{
		tickets: tickets,
		audit:   auditor,
		events:  events,
		stats:   stats,
		log:     log.With("component", "redemption"),
		now:     time.Now,
	}
}

type auditPayload struct {
	Token   string `json:"token"`
	Reason  Reason `json:"reason"`
	Scanner string `json:"scanner,omitempty"`
}

// Redeem admits the ticket addressed by presented at most once.
//
// Parameters:
//   - presented: a full token, or a short code of up to domain.ShortCodeLen
//     characters matched as a case-insensitive prefix.
//   - scanner: identity recorded as redeemed_by.
//
// Returns:
//   - Result: the verdict; every business denial is a Result.
//   - error: only on storage failures, in which case no state change may be
//     assumed.
//
// Exactly one audit record is written per call.
func (e *Engine) Redeem(ctx context.Context, presented, scanner string) (Result, error) {
	const op = "service.redemption.Redeem"

	start := time.Now()
	presented = strings.TrimSpace(presented)

	res, ticket, err := e.redeem(ctx, presented, scanner)
	if err != nil {
		e.record(ctx, presented, scanner, ReasonError, nil)
		metrics.ObserveRedemption(string(ReasonError), time.Since(start))
		return Result{}, fmt.Errorf("%s: %w", op, err)
	}

	e.record(ctx, presented, scanner, res.Reason, ticket)
	metrics.ObserveRedemption(string(res.Reason), time.Since(start))

	if res.Success {
		e.afterAdmit(ctx, ticket)
	}

	return res, nil
}

func (e *Engine) redeem(ctx context.Context, presented, scanner string) (Result, *domain.Ticket, error) {
	if presented == "" {
		return denied(ReasonInvalidCode, "Invalid ticket code"), nil, nil
	}

	token := presented
	if len(presented) <= domain.ShortCodeLen {
		matches, err := e.tickets.FindByTokenPrefix(ctx, presented, 2)
		if err != nil {
			return Result{}, nil, err
		}
		switch len(matches) {
		case 0:
			return denied(ReasonInvalidCode, "Invalid ticket code"), nil, nil
		case 1:
			token = matches[0].Token
		default:
			return denied(ReasonAmbiguousCode, "Ticket code is ambiguous, please scan QR code"), nil, nil
		}
	}

	now := e.now().UTC()
	t, err := e.tickets.CompareAndSetStatus(ctx, token, domain.TicketValid, domain.StatusChange{
		Status:     domain.TicketRedeemed,
		RedeemedAt: &now,
		RedeemedBy: &scanner,
	})
	if err != nil {
		return Result{}, nil, err
	}
	if t != nil {
		return admitted(t), t, nil
	}

	current, err := e.tickets.FindByToken(ctx, token)
	if errors.Is(err, repository.ErrNotFound) {
		return denied(ReasonInvalidCode, "Invalid ticket"), nil, nil
	}
	if err != nil {
		return Result{}, nil, err
	}

	return deniedFor(current), current, nil
}

func (e *Engine) record(ctx context.Context, presented, scanner string, reason Reason, t *domain.Ticket) {
	action := audit.ActionRedeemFailed
	if reason == ReasonAdmitted {
		action = audit.ActionRedeemSuccess
	}

	var entityID string
	if t != nil {
		entityID = t.ID.String()
	}

	// the audit row must land even if the scanner hung up
	e.audit.Record(context.WithoutCancel(ctx), audit.Record{
		Action:   action,
		Entity:   audit.EntityTickets,
		EntityID: entityID,
		Payload:  auditPayload{Token: presented, Reason: reason, Scanner: scanner},
	})
}

func (e *Engine) afterAdmit(ctx context.Context, t *domain.Ticket) {
	ctx = context.WithoutCancel(ctx)

	e.events.Publish(ctx, domain.NewTicketEvent(domain.EventTicketRedeemed, *t, *t.RedeemedAt))

	if err := e.stats.InvalidateStats(ctx); err != nil {
		e.log.WarnContext(ctx, "invalidate stats", "err", err)
	}
}
