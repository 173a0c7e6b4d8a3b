package catalog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/tix-gate/internal/delivery"
	"github.com/kirinyoku/tix-gate/internal/domain"
	"github.com/kirinyoku/tix-gate/internal/repository"
	"github.com/kirinyoku/tix-gate/internal/service/audit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memTickets struct {
	mu      sync.Mutex
	byID    map[uuid.UUID]*domain.Ticket
	limit   int
	filter  domain.TicketFilter
	counted int
}

func newMemTickets(ts ...domain.Ticket) *memTickets {
	m := &memTickets{byID: map[uuid.UUID]*domain.Ticket{}}
	for i := range ts {
		t := ts[i]
		m.byID[t.ID] = &t
	}
	return m
}

func (m *memTickets) GetByID(_ context.Context, id uuid.UUID) (*domain.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memTickets) List(_ context.Context, f domain.TicketFilter) (domain.Page[domain.Ticket], error) {
	m.filter = f
	return domain.Page[domain.Ticket]{Data: []domain.Ticket{}}, nil
}

func (m *memTickets) ListRedeemed(_ context.Context, limit int) ([]domain.Redemption, error) {
	m.limit = limit
	return []domain.Redemption{}, nil
}

func (m *memTickets) CompareAndSetStatus(
	_ context.Context,
	token string,
	expected domain.TicketStatus,
	change domain.StatusChange,
) (*domain.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.byID {
		if t.Token == token && t.Status == expected {
			t.Status = change.Status
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memTickets) ExpireValid(_ context.Context, eventName string) ([]domain.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Ticket
	for _, t := range m.byID {
		if t.EventName == eventName && t.Status == domain.TicketValid {
			t.Status = domain.TicketExpired
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *memTickets) CountsByStatus(_ context.Context, s *domain.Stats) error {
	m.counted++
	s.TotalTickets = int64(len(m.byID))
	return nil
}

type memRequests struct{ phone string }

func (r memRequests) Get(_ context.Context, id uuid.UUID) (*domain.PurchaseRequest, error) {
	return &domain.PurchaseRequest{ID: id, Phone: r.phone}, nil
}

func (r memRequests) CountsByStatus(_ context.Context, s *domain.Stats) error {
	s.TotalRequests = 7
	return nil
}

// passCache always misses.
type passCache struct{ invalidated int }

func (c *passCache) Stats(ctx context.Context, _ time.Duration, load func(context.Context) (domain.Stats, error)) (domain.Stats, error) {
	return load(ctx)
}

func (c *passCache) InvalidateStats(context.Context) error {
	c.invalidated++
	return nil
}

type stubRenderer struct{ phone string }

func (r *stubRenderer) TicketPDF(_ domain.Ticket, phone string) ([]byte, error) {
	r.phone = phone
	return []byte("%PDF-1.3"), nil
}

func (r *stubRenderer) FileName(domain.Ticket) string { return "ticket.pdf" }

type stubDeliverer struct {
	err  error
	jobs []delivery.Job
}

func (d *stubDeliverer) Deliver(_ context.Context, job delivery.Job) error {
	d.jobs = append(d.jobs, job)
	return d.err
}

type sink struct {
	records []audit.Record
	events  []domain.TicketEvent
}

func (s *sink) Record(_ context.Context, r audit.Record) { s.records = append(s.records, r) }

func (s *sink) Publish(_ context.Context, ev domain.TicketEvent) { s.events = append(s.events, ev) }

func (s *sink) PublishAll(_ context.Context, evs []domain.TicketEvent) {
	s.events = append(s.events, evs...)
}

type fixture struct {
	svc      *Service
	tickets  *memTickets
	cache    *passCache
	renderer *stubRenderer
	deliver  *stubDeliverer
	sink     *sink
}

func newFixture(ts ...domain.Ticket) *fixture {
	f := &fixture{
		tickets:  newMemTickets(ts...),
		cache:    &passCache{},
		renderer: &stubRenderer{},
		deliver:  &stubDeliverer{},
		sink:     &sink{},
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.svc = New(f.tickets, memRequests{phone: "555-0100"}, f.cache, f.renderer, f.deliver, f.sink, f.sink, log, Config{})
	return f
}

func ticket(status domain.TicketStatus, event string) domain.Ticket {
	reqID := uuid.New()
	return domain.Ticket{
		ID:                uuid.New(),
		Token:             uuid.NewString(),
		Status:            status,
		EventName:         event,
		PurchaserName:     "Ana Lima",
		PurchaserEmail:    "ana@example.org",
		PurchaseRequestID: &reqID,
	}
}

func TestCancel(t *testing.T) {
	valid := ticket(domain.TicketValid, "Spring Gala")
	redeemed := ticket(domain.TicketRedeemed, "Spring Gala")
	f := newFixture(valid, redeemed)

	got, err := f.svc.Cancel(context.Background(), valid.ID, "staff-1")
	require.NoError(t, err)
	assert.Equal(t, domain.TicketCancelled, got.Status)
	require.Len(t, f.sink.records, 1)
	assert.Equal(t, audit.ActionCancel, f.sink.records[0].Action)
	require.Len(t, f.sink.events, 1)
	assert.Equal(t, domain.EventTicketCancelled, f.sink.events[0].Type)
	assert.Equal(t, 1, f.cache.invalidated)

	_, err = f.svc.Cancel(context.Background(), valid.ID, "staff-1")
	assert.ErrorIs(t, err, ErrTicketNotCancellable)

	_, err = f.svc.Cancel(context.Background(), redeemed.ID, "staff-1")
	assert.ErrorIs(t, err, ErrTicketNotCancellable)

	_, err = f.svc.Cancel(context.Background(), uuid.New(), "staff-1")
	assert.ErrorIs(t, err, ErrTicketNotFound)
}

func TestExpireEvent(t *testing.T) {
	f := newFixture(
		ticket(domain.TicketValid, "Spring Gala"),
		ticket(domain.TicketValid, "Spring Gala"),
		ticket(domain.TicketRedeemed, "Spring Gala"),
		ticket(domain.TicketValid, "Autumn Talks"),
	)

	n, err := f.svc.ExpireEvent(context.Background(), "Spring Gala", "staff-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, f.sink.events, 2)
	require.Len(t, f.sink.records, 1)
	assert.Equal(t, audit.ActionExpire, f.sink.records[0].Action)

	_, err = f.svc.ExpireEvent(context.Background(), "", "staff-1")
	assert.ErrorIs(t, err, ErrEventNameRequired)
}

func TestResend(t *testing.T) {
	tk := ticket(domain.TicketValid, "Spring Gala")
	f := newFixture(tk)

	require.NoError(t, f.svc.Resend(context.Background(), tk.ID, "staff-1"))
	require.Len(t, f.deliver.jobs, 1)
	assert.Equal(t, "ana@example.org", f.deliver.jobs[0].To)
	assert.Equal(t, "555-0100", f.deliver.jobs[0].Phone)
	require.Len(t, f.sink.records, 1)
	assert.Equal(t, audit.ActionResend, f.sink.records[0].Action)

	f.deliver.err = errors.New("relay refused")
	assert.ErrorIs(t, f.svc.Resend(context.Background(), tk.ID, "staff-1"), ErrDeliveryFailed)
	assert.Len(t, f.sink.records, 1, "failed resend is not audited as sent")
}

func TestPDF(t *testing.T) {
	tk := ticket(domain.TicketValid, "Spring Gala")
	f := newFixture(tk)

	b, name, err := f.svc.PDF(context.Background(), tk.ID)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.3", string(b))
	assert.Equal(t, "ticket.pdf", name)
	assert.Equal(t, "555-0100", f.renderer.phone)

	_, _, err = f.svc.PDF(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrTicketNotFound)
}

func TestRecentRedemptionsLimit(t *testing.T) {
	f := newFixture()

	for in, want := range map[int]int{0: 50, -3: 50, 20: 20, 1000: 200} {
		_, err := f.svc.RecentRedemptions(context.Background(), in)
		require.NoError(t, err)
		assert.Equal(t, want, f.tickets.limit)
	}
}

func TestSearchClampsPage(t *testing.T) {
	f := newFixture()

	_, err := f.svc.Search(context.Background(), domain.TicketFilter{Limit: 5000, Offset: -1, Search: "ana"})
	require.NoError(t, err)
	assert.Equal(t, 200, f.tickets.filter.Limit)
	assert.Equal(t, 0, f.tickets.filter.Offset)
	assert.Equal(t, "ana", f.tickets.filter.Search)
}

func TestStats(t *testing.T) {
	f := newFixture(ticket(domain.TicketValid, "Spring Gala"))

	st, err := f.svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), st.TotalRequests)
	assert.Equal(t, int64(1), st.TotalTickets)
}
