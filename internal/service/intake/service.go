package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/tix-gate/internal/domain"
	"github.com/kirinyoku/tix-gate/internal/metrics"
	"github.com/kirinyoku/tix-gate/internal/repository"
	"github.com/kirinyoku/tix-gate/internal/service/audit"
)

type Source interface {
	NewRows(ctx context.Context, lastRow int) ([]domain.SheetRow, error)
}

type RequestStore interface {
	InsertFromSheet(ctx context.Context, rows []domain.SheetRow) (int64, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.PurchaseRequest, error)
	List(ctx context.Context, f domain.RequestFilter) (domain.Page[domain.PurchaseRequest], error)
}

type StateStore interface {
	LastSyncedRow(ctx context.Context) (int, error)
	SetLastSyncedRow(ctx context.Context, row int) error
}

type Auditor interface {
	Record(ctx context.Context, r audit.Record)
}

type StatsInvalidator interface {
	InvalidateStats(ctx context.Context) error
}

type SyncResult struct {
	Fetched  int   `json:"count"`
	Inserted int64 `json:"inserted"`
	LastRow  int   `json:"last_row"`
}

type Service struct {
	source   Source
	requests RequestStore
	state    StateStore
	audit    Auditor
	stats    StatsInvalidator
	log      *slog.Logger

	// serialises syncs within this process; the insert itself is safe to
	// repeat across processes
	mu sync.Mutex
}

// New builds the intake service. source may be nil when no spreadsheet is
// configured; Sync then fails with ErrSourceNotConfigured.
func New(
	source Source,
	requests RequestStore,
	state StateStore,
	auditor Auditor,
	stats StatsInvalidator,
	log *slog.Logger,
) *Service {
	return &Service{
		source:   source,
		requests: requests,
		state:    state,
		audit:    auditor,
		stats:    stats,
		log:      log.With("component", "intake"),
	}
}

// Sync imports spreadsheet rows added since the last sync as pending
// requests. Rows already imported are left untouched.
func (s *Service) Sync(ctx context.Context, actorID string) (SyncResult, error) {
	const op = "service.intake.Sync"

	if s.source == nil {
		return SyncResult{}, fmt.Errorf("%s: %w", op, ErrSourceNotConfigured)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	last, err := s.state.LastSyncedRow(ctx)
	if err != nil {
		return SyncResult{}, fmt.Errorf("%s: %w", op, err)
	}

	rows, err := s.source.NewRows(ctx, last)
	if err != nil {
		return SyncResult{}, fmt.Errorf("%s: %w", op, err)
	}
	if len(rows) == 0 {
		return SyncResult{LastRow: last}, nil
	}

	inserted, err := s.requests.InsertFromSheet(ctx, rows)
	if err != nil {
		return SyncResult{}, fmt.Errorf("%s: %w", op, err)
	}

	maxRow := last
	for _, r := range rows {
		maxRow = max(maxRow, r.RowIndex)
	}
	if err := s.state.SetLastSyncedRow(ctx, maxRow); err != nil {
		return SyncResult{}, fmt.Errorf("%s: %w", op, err)
	}

	metrics.RowsImported(inserted)

	ctx = context.WithoutCancel(ctx)
	s.audit.Record(ctx, audit.Record{
		Action:  audit.ActionSync,
		Entity:  audit.EntityRequests,
		ActorID: actorID,
		Payload: map[string]int{"count": len(rows)},
	})
	if inserted > 0 {
		if err := s.stats.InvalidateStats(ctx); err != nil {
			s.log.WarnContext(ctx, "invalidate stats", "err", err)
		}
	}

	return SyncResult{Fetched: len(rows), Inserted: inserted, LastRow: maxRow}, nil
}

// Poll runs Sync every interval until ctx is done. A failed sync is logged
// and retried on the next tick.
func (s *Service) Poll(ctx context.Context, interval time.Duration) error {
	if interval <= 0 || s.source == nil {
		return nil
	}

	s.log.InfoContext(ctx, "intake poller started", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			res, err := s.Sync(ctx, "system:poller")
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.log.ErrorContext(ctx, "scheduled sync failed", "err", err)
				continue
			}
			if res.Fetched > 0 {
				s.log.InfoContext(ctx, "scheduled sync", "fetched", res.Fetched, "inserted", res.Inserted)
			}
		}
	}
}

func (s *Service) ListRequests(ctx context.Context, f domain.RequestFilter) (domain.Page[domain.PurchaseRequest], error) {
	const op = "service.intake.ListRequests"

	if f.Limit <= 0 {
		f.Limit = 50
	}
	f.Limit = min(f.Limit, 200)
	f.Offset = max(f.Offset, 0)

	page, err := s.requests.List(ctx, f)
	if err != nil {
		return domain.Page[domain.PurchaseRequest]{}, fmt.Errorf("%s: %w", op, err)
	}

	return page, nil
}

// GetRequest retrieves a purchase request by id.
//
// Returns:
//   - error: ErrRequestNotFound if the request does not exist.
func (s *Service) GetRequest(ctx context.Context, id uuid.UUID) (*domain.PurchaseRequest, error) {
	const op = "service.intake.GetRequest"

	p, err := s.requests.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrRequestNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return p, nil
}
