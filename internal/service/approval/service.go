package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/tix-gate/internal/delivery"
	"github.com/kirinyoku/tix-gate/internal/domain"
	"github.com/kirinyoku/tix-gate/internal/repository"
	"github.com/kirinyoku/tix-gate/internal/service/audit"
	"github.com/kirinyoku/tix-gate/internal/uow"
)

// Tx is the set of writes an approval performs atomically.
type Tx interface {
	TransitionRequest(
		ctx context.Context,
		id uuid.UUID,
		from, to domain.RequestStatus,
		reviewerID string,
		notes *string,
	) (*domain.PurchaseRequest, error)
	InsertTickets(ctx context.Context, tickets []domain.Ticket) error
}

type RequestReader interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.PurchaseRequest, error)
}

type Auditor interface {
	Record(ctx context.Context, r audit.Record)
}

type EventPublisher interface {
	PublishAll(ctx context.Context, evs []domain.TicketEvent)
}

type StatsInvalidator interface {
	InvalidateStats(ctx context.Context) error
}

type Enqueuer interface {
	Enqueue(job delivery.Job) error
}

type Service struct {
	uow      *uow.UoW[Tx]
	requests RequestReader
	audit    Auditor
	events   EventPublisher
	stats    StatsInvalidator
	delivery Enqueuer
	log      *slog.Logger
	now      func() time.Time
}

func New(
	u *uow.UoW[Tx],
	requests RequestReader,
	auditor Auditor,
	events EventPublisher,
	stats StatsInvalidator,
	deliveries Enqueuer,
	log *slog.Logger,
) *Service {
	return &Service{
		uow:      u,
		requests: requests,
		audit:    auditor,
		events:   events,
		stats:    stats,
		delivery: deliveries,
		log:      log.With("component", "approval"),
		now:      time.Now,
	}
}

// NewIssued mints qty fresh tickets for req. Each token is drawn
// independently from crypto/rand.
func NewIssued(req *domain.PurchaseRequest, now time.Time) ([]domain.Ticket, error) {
	qty := max(req.Qty, 1)

	reqID := req.ID
	out := make([]domain.Ticket, 0, qty)
	for range qty {
		token, err := domain.NewToken()
		if err != nil {
			return nil, err
		}
		out = append(out, domain.Ticket{
			ID:                uuid.New(),
			Token:             token,
			Status:            domain.TicketValid,
			EventName:         req.EventName,
			PurchaserName:     req.Name,
			PurchaserEmail:    req.Email,
			SeatTier:          req.SeatTier,
			PurchaseRequestID: &reqID,
			IssuedAt:          now,
		})
	}

	return out, nil
}

// Approve marks a pending request approved and issues its tickets in one
// transaction. Delivery, events and audit run only after commit.
//
// Returns:
//   - *domain.PurchaseRequest: the approved request.
//   - []domain.Ticket: the issued tickets.
//   - error: ErrRequestNotFound, ErrRequestAlreadyProcessed or
//     ErrTokenCollision.
func (s *Service) Approve(
	ctx context.Context,
	id uuid.UUID,
	reviewerID string,
) (*domain.PurchaseRequest, []domain.Ticket, error) {
	const op = "service.approval.Approve"

	var (
		req     *domain.PurchaseRequest
		tickets []domain.Ticket
	)
	err := s.uow.Do(ctx, func(ctx context.Context, tx Tx, after func(uow.AfterCommit)) error {
		var err error
		req, err = tx.TransitionRequest(ctx, id, domain.RequestPendingReview, domain.RequestApproved, reviewerID, nil)
		if err != nil {
			return err
		}
		if req == nil {
			return s.notPending(ctx, id)
		}

		tickets, err = NewIssued(req, s.now().UTC())
		if err != nil {
			return err
		}
		if err := tx.InsertTickets(ctx, tickets); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return ErrTokenCollision
			}
			return err
		}

		after(func(ctx context.Context) {
			s.afterApprove(ctx, req, tickets, reviewerID)
		})
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	return req, tickets, nil
}

func (s *Service) afterApprove(ctx context.Context, req *domain.PurchaseRequest, tickets []domain.Ticket, reviewerID string) {
	ctx = context.WithoutCancel(ctx)

	s.audit.Record(ctx, audit.Record{
		Action:   audit.ActionApprove,
		Entity:   audit.EntityRequests,
		EntityID: req.ID.String(),
		ActorID:  reviewerID,
		Payload:  map[string]int{"ticket_count": len(tickets)},
	})

	err := s.delivery.Enqueue(delivery.Job{
		Kind:      delivery.KindTickets,
		RequestID: req.ID,
		To:        req.Email,
		Name:      req.Name,
		Phone:     req.Phone,
		Tickets:   tickets,
	})
	if err != nil {
		s.log.ErrorContext(ctx, "enqueue ticket delivery", "request_id", req.ID, "err", err)
	}

	evs := make([]domain.TicketEvent, 0, len(tickets))
	for _, t := range tickets {
		evs = append(evs, domain.NewTicketEvent(domain.EventTicketIssued, t, t.IssuedAt))
	}
	s.events.PublishAll(ctx, evs)

	if err := s.stats.InvalidateStats(ctx); err != nil {
		s.log.WarnContext(ctx, "invalidate stats", "err", err)
	}
}

// Reject marks a pending request rejected. A non-empty reason replaces the
// request notes and is included in the email to the purchaser.
//
// Returns:
//   - error: ErrRequestNotFound or ErrRequestAlreadyProcessed.
func (s *Service) Reject(
	ctx context.Context,
	id uuid.UUID,
	reviewerID string,
	reason string,
) (*domain.PurchaseRequest, error) {
	const op = "service.approval.Reject"

	var notes *string
	if reason != "" {
		notes = &reason
	}

	var req *domain.PurchaseRequest
	err := s.uow.Do(ctx, func(ctx context.Context, tx Tx, after func(uow.AfterCommit)) error {
		var err error
		req, err = tx.TransitionRequest(ctx, id, domain.RequestPendingReview, domain.RequestRejected, reviewerID, notes)
		if err != nil {
			return err
		}
		if req == nil {
			return s.notPending(ctx, id)
		}

		after(func(ctx context.Context) {
			s.afterReject(ctx, req, reviewerID, reason)
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return req, nil
}

func (s *Service) afterReject(ctx context.Context, req *domain.PurchaseRequest, reviewerID, reason string) {
	ctx = context.WithoutCancel(ctx)

	s.audit.Record(ctx, audit.Record{
		Action:   audit.ActionReject,
		Entity:   audit.EntityRequests,
		EntityID: req.ID.String(),
		ActorID:  reviewerID,
		Payload:  map[string]string{"reason": reason},
	})

	err := s.delivery.Enqueue(delivery.Job{
		Kind:      delivery.KindRejection,
		RequestID: req.ID,
		To:        req.Email,
		Name:      req.Name,
		Reason:    reason,
	})
	if err != nil {
		s.log.ErrorContext(ctx, "enqueue rejection email", "request_id", req.ID, "err", err)
	}

	if err := s.stats.InvalidateStats(ctx); err != nil {
		s.log.WarnContext(ctx, "invalidate stats", "err", err)
	}
}

// notPending explains why a conditional transition matched nothing.
func (s *Service) notPending(ctx context.Context, id uuid.UUID) error {
	_, err := s.requests.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrRequestNotFound
	}
	if err != nil {
		return err
	}
	return ErrRequestAlreadyProcessed
}
