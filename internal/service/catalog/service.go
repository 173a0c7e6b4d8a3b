package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/tix-gate/internal/delivery"
	"github.com/kirinyoku/tix-gate/internal/domain"
	"github.com/kirinyoku/tix-gate/internal/repository"
	"github.com/kirinyoku/tix-gate/internal/service/audit"
)

const (
	defaultRecent = 50
	maxRecent     = 200
	defaultPage   = 50
	maxPage       = 200
)

type TicketStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Ticket, error)
	List(ctx context.Context, f domain.TicketFilter) (domain.Page[domain.Ticket], error)
	ListRedeemed(ctx context.Context, limit int) ([]domain.Redemption, error)
	CompareAndSetStatus(
		ctx context.Context,
		token string,
		expected domain.TicketStatus,
		change domain.StatusChange,
	) (*domain.Ticket, error)
	ExpireValid(ctx context.Context, eventName string) ([]domain.Ticket, error)
	CountsByStatus(ctx context.Context, s *domain.Stats) error
}

type RequestStore interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.PurchaseRequest, error)
	CountsByStatus(ctx context.Context, s *domain.Stats) error
}

type StatsCache interface {
	Stats(ctx context.Context, ttl time.Duration, load func(ctx context.Context) (domain.Stats, error)) (domain.Stats, error)
	InvalidateStats(ctx context.Context) error
}

type Renderer interface {
	TicketPDF(t domain.Ticket, phone string) ([]byte, error)
	FileName(t domain.Ticket) string
}

type Deliverer interface {
	Deliver(ctx context.Context, job delivery.Job) error
}

type Auditor interface {
	Record(ctx context.Context, r audit.Record)
}

type EventPublisher interface {
	Publish(ctx context.Context, ev domain.TicketEvent)
	PublishAll(ctx context.Context, evs []domain.TicketEvent)
}

type Config struct {
	StatsTTL time.Duration
}

type Service struct {
	tickets  TicketStore
	requests RequestStore
	cache    StatsCache
	renderer Renderer
	delivery Deliverer
	audit    Auditor
	events   EventPublisher
	log      *slog.Logger
	cfg      Config
	now      func() time.Time
}

func New(
	tickets TicketStore,
	requests RequestStore,
	cache StatsCache,
	renderer Renderer,
	deliveries Deliverer,
	auditor Auditor,
	events EventPublisher,
	log *slog.Logger,
	cfg Config,
) *Service {
	if cfg.StatsTTL <= 0 {
		cfg.StatsTTL = 15 * time.Second
	}

	return &Service{
		tickets:  tickets,
		requests: requests,
		cache:    cache,
		renderer: renderer,
		delivery: deliveries,
		audit:    auditor,
		events:   events,
		log:      log.With("component", "catalog"),
		cfg:      cfg,
		now:      time.Now,
	}
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPage
	}
	return min(limit, maxPage), max(offset, 0)
}

// Search lists tickets newest first.
func (s *Service) Search(ctx context.Context, f domain.TicketFilter) (domain.Page[domain.Ticket], error) {
	const op = "service.catalog.Search"

	f.Limit, f.Offset = clampPage(f.Limit, f.Offset)

	page, err := s.tickets.List(ctx, f)
	if err != nil {
		return domain.Page[domain.Ticket]{}, fmt.Errorf("%s: %w", op, err)
	}

	return page, nil
}

// Get retrieves a ticket by id.
//
// Returns:
//   - error: ErrTicketNotFound if the ticket does not exist.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.Ticket, error) {
	const op = "service.catalog.Get"

	t, err := s.tickets.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrTicketNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return t, nil
}

// PDF renders the ticket on demand.
//
// Returns:
//   - []byte: the PDF document.
//   - string: a download file name.
func (s *Service) PDF(ctx context.Context, id uuid.UUID) ([]byte, string, error) {
	const op = "service.catalog.PDF"

	t, err := s.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}

	b, err := s.renderer.TicketPDF(*t, s.phoneFor(ctx, t))
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", op, err)
	}

	return b, s.renderer.FileName(*t), nil
}

// phoneFor looks up the purchaser phone from the originating request. It
// is decoration only, so lookup errors are ignored.
func (s *Service) phoneFor(ctx context.Context, t *domain.Ticket) string {
	if t.PurchaseRequestID == nil {
		return ""
	}
	req, err := s.requests.Get(ctx, *t.PurchaseRequestID)
	if err != nil {
		return ""
	}
	return req.Phone
}

// Cancel voids a valid ticket through the same conditional write used for
// redemption, so it can never race a scan into a double state.
//
// Returns:
//   - error: ErrTicketNotFound, or ErrTicketNotCancellable if the ticket is
//     no longer valid.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, actorID string) (*domain.Ticket, error) {
	const op = "service.catalog.Cancel"

	t, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status != domain.TicketValid {
		return nil, fmt.Errorf("%s: %w", op, ErrTicketNotCancellable)
	}

	updated, err := s.tickets.CompareAndSetStatus(ctx, t.Token, domain.TicketValid, domain.StatusChange{
		Status: domain.TicketCancelled,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if updated == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrTicketNotCancellable)
	}

	ctx = context.WithoutCancel(ctx)
	s.audit.Record(ctx, audit.Record{
		Action:   audit.ActionCancel,
		Entity:   audit.EntityTickets,
		EntityID: updated.ID.String(),
		ActorID:  actorID,
	})
	s.events.Publish(ctx, domain.NewTicketEvent(domain.EventTicketCancelled, *updated, s.now().UTC()))
	s.invalidate(ctx)

	return updated, nil
}

// ExpireEvent expires every still-valid ticket of an event.
//
// Returns:
//   - int: number of tickets expired.
func (s *Service) ExpireEvent(ctx context.Context, eventName, actorID string) (int, error) {
	const op = "service.catalog.ExpireEvent"

	eventName = strings.TrimSpace(eventName)
	if eventName == "" {
		return 0, fmt.Errorf("%s: %w", op, ErrEventNameRequired)
	}

	expired, err := s.tickets.ExpireValid(ctx, eventName)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	ctx = context.WithoutCancel(ctx)
	s.audit.Record(ctx, audit.Record{
		Action:  audit.ActionExpire,
		Entity:  audit.EntityTickets,
		ActorID: actorID,
		Payload: map[string]any{"event_name": eventName, "count": len(expired)},
	})

	if len(expired) > 0 {
		at := s.now().UTC()
		evs := make([]domain.TicketEvent, 0, len(expired))
		for _, t := range expired {
			evs = append(evs, domain.NewTicketEvent(domain.EventTicketExpired, t, at))
		}
		s.events.PublishAll(ctx, evs)
		s.invalidate(ctx)
	}

	return len(expired), nil
}

// Resend renders and emails a ticket synchronously.
//
// Returns:
//   - error: ErrTicketNotFound or ErrDeliveryFailed.
func (s *Service) Resend(ctx context.Context, id uuid.UUID, actorID string) error {
	const op = "service.catalog.Resend"

	t, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	var reqID uuid.UUID
	if t.PurchaseRequestID != nil {
		reqID = *t.PurchaseRequestID
	}

	err = s.delivery.Deliver(ctx, delivery.Job{
		Kind:      delivery.KindTickets,
		RequestID: reqID,
		To:        t.PurchaserEmail,
		Name:      t.PurchaserName,
		Phone:     s.phoneFor(ctx, t),
		Tickets:   []domain.Ticket{*t},
	})
	if err != nil {
		s.log.ErrorContext(ctx, "resend ticket", "ticket_id", t.ID, "err", err)
		return fmt.Errorf("%s: %w: %v", op, ErrDeliveryFailed, err)
	}

	s.audit.Record(context.WithoutCancel(ctx), audit.Record{
		Action:   audit.ActionResend,
		Entity:   audit.EntityTickets,
		EntityID: t.ID.String(),
		ActorID:  actorID,
	})

	return nil
}

// Stats returns request and ticket counts, served from cache when fresh.
func (s *Service) Stats(ctx context.Context) (domain.Stats, error) {
	const op = "service.catalog.Stats"

	st, err := s.cache.Stats(ctx, s.cfg.StatsTTL, s.loadStats)
	if err != nil {
		return domain.Stats{}, fmt.Errorf("%s: %w", op, err)
	}

	return st, nil
}

func (s *Service) loadStats(ctx context.Context) (domain.Stats, error) {
	var st domain.Stats
	if err := s.requests.CountsByStatus(ctx, &st); err != nil {
		return domain.Stats{}, err
	}
	if err := s.tickets.CountsByStatus(ctx, &st); err != nil {
		return domain.Stats{}, err
	}
	return st, nil
}

// RecentRedemptions feeds the scan monitor. Tokens are masked.
func (s *Service) RecentRedemptions(ctx context.Context, limit int) ([]domain.Redemption, error) {
	const op = "service.catalog.RecentRedemptions"

	if limit <= 0 {
		limit = defaultRecent
	}
	limit = min(limit, maxRecent)

	out, err := s.tickets.ListRedeemed(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return out, nil
}

func (s *Service) invalidate(ctx context.Context) {
	if err := s.cache.InvalidateStats(ctx); err != nil {
		s.log.WarnContext(ctx, "invalidate stats", "err", err)
	}
}
