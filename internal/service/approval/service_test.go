package approval

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/kirinyoku/tix-gate/internal/delivery"
	"github.com/kirinyoku/tix-gate/internal/domain"
	"github.com/kirinyoku/tix-gate/internal/repository"
	"github.com/kirinyoku/tix-gate/internal/service/audit"
	"github.com/kirinyoku/tix-gate/internal/uow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memDB is an in-memory database whose transactions copy state on begin
// and swap it in on commit. One transaction runs at a time.
type memDB struct {
	mu        sync.Mutex
	requests  map[uuid.UUID]domain.PurchaseRequest
	tickets   []domain.Ticket
	insertErr error
}

type memTx struct {
	db       *memDB
	requests map[uuid.UUID]domain.PurchaseRequest
	tickets  []domain.Ticket
}

func (tx *memTx) TransitionRequest(
	_ context.Context,
	id uuid.UUID,
	from, to domain.RequestStatus,
	reviewerID string,
	notes *string,
) (*domain.PurchaseRequest, error) {
	r, ok := tx.requests[id]
	if !ok || r.Status != from {
		return nil, nil
	}
	r.Status = to
	r.ReviewerID = reviewerID
	if notes != nil {
		r.Notes = *notes
	}
	tx.requests[id] = r
	return &r, nil
}

func (tx *memTx) InsertTickets(_ context.Context, tickets []domain.Ticket) error {
	if tx.db.insertErr != nil {
		return tx.db.insertErr
	}
	tx.tickets = append(tx.tickets, tickets...)
	return nil
}

func (db *memDB) begin(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx := &memTx{db: db, requests: map[uuid.UUID]domain.PurchaseRequest{}, tickets: append([]domain.Ticket(nil), db.tickets...)}
	for k, v := range db.requests {
		tx.requests[k] = v
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	db.requests = tx.requests
	db.tickets = tx.tickets
	return nil
}

func (db *memDB) Get(_ context.Context, id uuid.UUID) (*domain.PurchaseRequest, error) {
	// called inside begin, which already holds mu
	r, ok := db.requests[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &r, nil
}

type recorder struct {
	mu      sync.Mutex
	records []audit.Record
	jobs    []delivery.Job
	events  []domain.TicketEvent
	stats   int
	full    bool
}

func (r *recorder) Record(_ context.Context, rec audit.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

func (r *recorder) Enqueue(job delivery.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return delivery.ErrQueueFull
	}
	r.jobs = append(r.jobs, job)
	return nil
}

func (r *recorder) PublishAll(_ context.Context, evs []domain.TicketEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evs...)
}

func (r *recorder) InvalidateStats(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats++
	return nil
}

func pending(qty int) domain.PurchaseRequest {
	return domain.PurchaseRequest{
		ID:        uuid.New(),
		Name:      "Ana Lima",
		Email:     "ana@example.org",
		Phone:     "555-0100",
		EventName: "Spring Gala",
		Qty:       qty,
		SeatTier:  "VIP",
		Status:    domain.RequestPendingReview,
	}
}

func newService(reqs ...domain.PurchaseRequest) (*Service, *memDB, *recorder) {
	db := &memDB{requests: map[uuid.UUID]domain.PurchaseRequest{}}
	for _, r := range reqs {
		db.requests[r.ID] = r
	}
	rec := &recorder{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(uow.New[Tx](db.begin), db, rec, rec, rec, rec, log), db, rec
}

func TestApprove_IssuesTickets(t *testing.T) {
	req := pending(3)
	s, db, rec := newService(req)

	got, tickets, err := s.Approve(context.Background(), req.ID, "staff-1")
	require.NoError(t, err)

	assert.Equal(t, domain.RequestApproved, got.Status)
	assert.Equal(t, "staff-1", got.ReviewerID)
	require.Len(t, tickets, 3)

	seen := map[string]bool{}
	for _, tk := range tickets {
		assert.Equal(t, domain.TicketValid, tk.Status)
		assert.Equal(t, "Spring Gala", tk.EventName)
		assert.Equal(t, req.ID, *tk.PurchaseRequestID)
		assert.False(t, seen[tk.Token], "tokens must be unique")
		seen[tk.Token] = true
	}

	assert.Len(t, db.tickets, 3)
	assert.Equal(t, domain.RequestApproved, db.requests[req.ID].Status)

	require.Len(t, rec.records, 1)
	assert.Equal(t, audit.ActionApprove, rec.records[0].Action)
	require.Len(t, rec.jobs, 1)
	assert.Equal(t, delivery.KindTickets, rec.jobs[0].Kind)
	assert.Equal(t, "555-0100", rec.jobs[0].Phone)
	assert.Len(t, rec.jobs[0].Tickets, 3)
	assert.Len(t, rec.events, 3)
	assert.Equal(t, 1, rec.stats)
}

func TestApprove_NotPending(t *testing.T) {
	done := pending(1)
	done.Status = domain.RequestRejected
	s, db, rec := newService(done)

	_, _, err := s.Approve(context.Background(), done.ID, "staff-1")
	assert.ErrorIs(t, err, ErrRequestAlreadyProcessed)

	_, _, err = s.Approve(context.Background(), uuid.New(), "staff-1")
	assert.ErrorIs(t, err, ErrRequestNotFound)

	assert.Empty(t, db.tickets)
	assert.Empty(t, rec.records)
	assert.Empty(t, rec.jobs)
}

func TestApprove_CollisionRollsBack(t *testing.T) {
	req := pending(2)
	s, db, rec := newService(req)
	db.insertErr = fmt.Errorf("insert: %w", repository.ErrConflict)

	_, _, err := s.Approve(context.Background(), req.ID, "staff-1")
	assert.ErrorIs(t, err, ErrTokenCollision)

	assert.Equal(t, domain.RequestPendingReview, db.requests[req.ID].Status)
	assert.Empty(t, rec.jobs)
	assert.Empty(t, rec.events)
}

func TestApprove_ConcurrentReviewersApproveOnce(t *testing.T) {
	req := pending(1)
	s, db, _ := newService(req)

	const n = 8
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, errs[i] = s.Approve(context.Background(), req.ID, fmt.Sprintf("staff-%d", i))
		}()
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, ErrRequestAlreadyProcessed)
	}
	assert.Equal(t, 1, ok)
	assert.Len(t, db.tickets, 1)
}

func TestApprove_QueueFullStillApproves(t *testing.T) {
	req := pending(1)
	s, db, rec := newService(req)
	rec.full = true

	_, tickets, err := s.Approve(context.Background(), req.ID, "staff-1")
	require.NoError(t, err)
	assert.Len(t, tickets, 1)
	assert.Len(t, db.tickets, 1)
}

func TestReject(t *testing.T) {
	req := pending(1)
	req.Notes = "paid cash"
	s, db, rec := newService(req)

	got, err := s.Reject(context.Background(), req.ID, "staff-2", "payment proof unreadable")
	require.NoError(t, err)

	assert.Equal(t, domain.RequestRejected, got.Status)
	assert.Equal(t, "payment proof unreadable", db.requests[req.ID].Notes)
	require.Len(t, rec.jobs, 1)
	assert.Equal(t, delivery.KindRejection, rec.jobs[0].Kind)
	assert.Equal(t, "payment proof unreadable", rec.jobs[0].Reason)
	require.Len(t, rec.records, 1)
	assert.Equal(t, audit.ActionReject, rec.records[0].Action)

	_, err = s.Reject(context.Background(), req.ID, "staff-2", "")
	assert.ErrorIs(t, err, ErrRequestAlreadyProcessed)
}

func TestReject_EmptyReasonKeepsNotes(t *testing.T) {
	req := pending(1)
	req.Notes = "paid cash"
	s, db, _ := newService(req)

	_, err := s.Reject(context.Background(), req.ID, "staff-2", "")
	require.NoError(t, err)
	assert.Equal(t, "paid cash", db.requests[req.ID].Notes)
}

func TestNewIssued_DefaultsToOneTicket(t *testing.T) {
	req := pending(0)
	tickets, err := NewIssued(&req, req.CreatedAt)
	require.NoError(t, err)
	assert.Len(t, tickets, 1)
}
