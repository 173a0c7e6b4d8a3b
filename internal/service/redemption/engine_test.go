package redemption

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/tix-gate/internal/domain"
	"github.com/kirinyoku/tix-gate/internal/events"
	"github.com/kirinyoku/tix-gate/internal/repository"
	"github.com/kirinyoku/tix-gate/internal/service/audit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memTickets models the database row lock with a mutex around the
// compare-and-set.
type memTickets struct {
	mu      sync.Mutex
	byToken map[string]*domain.Ticket
	err     error
}

func newMemTickets(tickets ...domain.Ticket) *memTickets {
	m := &memTickets{byToken: map[string]*domain.Ticket{}}
	for i := range tickets {
		t := tickets[i]
		m.byToken[t.Token] = &t
	}
	return m
}

func (m *memTickets) FindByToken(_ context.Context, token string) (*domain.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	t, ok := m.byToken[token]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memTickets) FindByTokenPrefix(_ context.Context, prefix string, limit int) ([]domain.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []domain.Ticket
	for tok, t := range m.byToken {
		if strings.HasPrefix(strings.ToLower(tok), strings.ToLower(prefix)) {
			out = append(out, *t)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *memTickets) CompareAndSetStatus(
	_ context.Context,
	token string,
	expected domain.TicketStatus,
	change domain.StatusChange,
) (*domain.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	t, ok := m.byToken[token]
	if !ok || t.Status != expected {
		return nil, nil
	}
	t.Status = change.Status
	if change.RedeemedAt != nil {
		at := *change.RedeemedAt
		t.RedeemedAt = &at
	}
	if change.RedeemedBy != nil {
		by := *change.RedeemedBy
		t.RedeemedBy = &by
	}
	cp := *t
	return &cp, nil
}

func (m *memTickets) remove(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byToken, token)
}

type memAudit struct {
	mu      sync.Mutex
	records []audit.Record
}

func (a *memAudit) Record(_ context.Context, r audit.Record) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, r)
}

func (a *memAudit) all() []audit.Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]audit.Record(nil), a.records...)
}

type memEvents struct {
	mu  sync.Mutex
	evs []domain.TicketEvent
}

func (p *memEvents) Publish(_ context.Context, ev domain.TicketEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evs = append(p.evs, ev)
}

type countingStats struct {
	mu sync.Mutex
	n  int
}

func (s *countingStats) InvalidateStats(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return errors.New("redis unavailable")
}

type fixture struct {
	engine  *Engine
	tickets *memTickets
	audit   *memAudit
	events  *memEvents
	stats   *countingStats
}

func newFixture(tickets ...domain.Ticket) *fixture {
	f := &fixture{
		tickets: newMemTickets(tickets...),
		audit:   &memAudit{},
		events:  &memEvents{},
		stats:   &countingStats{},
	}
	f.engine = New(f.tickets, f.audit, f.events, f.stats, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return f
}

func ticket(token string, status domain.TicketStatus) domain.Ticket {
	return domain.Ticket{
		ID:             uuid.New(),
		Token:          token,
		Status:         status,
		EventName:      "Spring Gala",
		PurchaserName:  "Ana Lima",
		PurchaserEmail: "ana@example.org",
		SeatTier:       "VIP",
		IssuedAt:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func payloadReason(t *testing.T, r audit.Record) Reason {
	t.Helper()
	p, ok := r.Payload.(auditPayload)
	require.True(t, ok)
	return p.Reason
}

func TestRedeem_Admit(t *testing.T) {
	tk := ticket(uuid.NewString(), domain.TicketValid)
	f := newFixture(tk)

	res, err := f.engine.Redeem(context.Background(), tk.Token, "10.0.0.7")
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, ReasonAdmitted, res.Reason)
	require.NotNil(t, res.Ticket)
	assert.Equal(t, tk.ID, res.Ticket.ID)
	assert.Equal(t, "VIP", res.Ticket.SeatTier)
	require.NotNil(t, res.RedeemedAt)

	stored, _ := f.tickets.FindByToken(context.Background(), tk.Token)
	assert.Equal(t, domain.TicketRedeemed, stored.Status)
	assert.Equal(t, "10.0.0.7", *stored.RedeemedBy)

	recs := f.audit.all()
	require.Len(t, recs, 1)
	assert.Equal(t, audit.ActionRedeemSuccess, recs[0].Action)
	assert.Equal(t, tk.ID.String(), recs[0].EntityID)

	require.Len(t, f.events.evs, 1)
	assert.Equal(t, domain.EventTicketRedeemed, f.events.evs[0].Type)
	assert.Equal(t, 1, f.stats.n, "stats invalidation failure must not change the verdict")
}

func TestRedeem_ConcurrentCallersAdmitOnce(t *testing.T) {
	tk := ticket(uuid.NewString(), domain.TicketValid)
	f := newFixture(tk)

	const n = 64
	results := make([]Result, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			results[i], errs[i] = f.engine.Redeem(context.Background(), tk.Token, "gate-a")
		}()
	}
	close(start)
	wg.Wait()

	var admits int
	var redeemedAt *time.Time
	for i := range n {
		require.NoError(t, errs[i])
		if results[i].Success {
			admits++
			redeemedAt = results[i].RedeemedAt
			continue
		}
		assert.Equal(t, ReasonAlreadyRedeemed, results[i].Reason)
	}

	require.Equal(t, 1, admits)
	for i := range n {
		if !results[i].Success {
			assert.Equal(t, *redeemedAt, *results[i].RedeemedAt)
		}
	}
	assert.Len(t, f.audit.all(), n)
}

func TestRedeem_DenialIsIdempotent(t *testing.T) {
	tk := ticket(uuid.NewString(), domain.TicketValid)
	f := newFixture(tk)

	first, err := f.engine.Redeem(context.Background(), tk.Token, "gate-a")
	require.NoError(t, err)
	require.True(t, first.Success)

	for range 5 {
		res, err := f.engine.Redeem(context.Background(), tk.Token, "gate-b")
		require.NoError(t, err)
		assert.Equal(t, ReasonAlreadyRedeemed, res.Reason)
		assert.Equal(t, *first.RedeemedAt, *res.RedeemedAt)
	}

	stored, _ := f.tickets.FindByToken(context.Background(), tk.Token)
	assert.Equal(t, "gate-a", *stored.RedeemedBy)
}

func TestRedeem_PrefixResolution(t *testing.T) {
	a := ticket("abc12345-1111-4111-8111-111111111111", domain.TicketValid)
	b := ticket("abc12399-2222-4222-8222-222222222222", domain.TicketValid)
	f := newFixture(a, b)

	res, err := f.engine.Redeem(context.Background(), "abc123", "gate-a")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, ReasonAmbiguousCode, res.Reason)

	res, err = f.engine.Redeem(context.Background(), b.Token, "gate-a")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, b.ID, res.Ticket.ID)

	stored, _ := f.tickets.FindByToken(context.Background(), a.Token)
	assert.Equal(t, domain.TicketValid, stored.Status)

	res, err = f.engine.Redeem(context.Background(), "ABC12345", "gate-a")
	require.NoError(t, err)
	assert.True(t, res.Success, "short codes match case-insensitively")
	assert.Equal(t, a.ID, res.Ticket.ID)
}

func TestRedeem_UnknownToken(t *testing.T) {
	f := newFixture(ticket(uuid.NewString(), domain.TicketValid))

	for _, presented := range []string{"zzzzzzzz", "zzzzzzzz-not-a-ticket", "   "} {
		f.audit = &memAudit{}
		f.engine.audit = f.audit

		res, err := f.engine.Redeem(context.Background(), presented, "gate-a")
		require.NoError(t, err)
		assert.Equal(t, ReasonInvalidCode, res.Reason)

		recs := f.audit.all()
		require.Len(t, recs, 1)
		assert.Equal(t, audit.ActionRedeemFailed, recs[0].Action)
		assert.Equal(t, ReasonInvalidCode, payloadReason(t, recs[0]))
		assert.Empty(t, recs[0].EntityID)
	}
}

func TestRedeem_TerminalStatuses(t *testing.T) {
	tests := []struct {
		status domain.TicketStatus
		want   Reason
	}{
		{domain.TicketCancelled, ReasonCancelled},
		{domain.TicketExpired, ReasonExpired},
		{domain.TicketStatus("void"), ReasonUnknown},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			tk := ticket(uuid.NewString(), tt.status)
			f := newFixture(tk)

			res, err := f.engine.Redeem(context.Background(), tk.Token, "gate-a")
			require.NoError(t, err)

			assert.False(t, res.Success)
			assert.Equal(t, tt.want, res.Reason)

			stored, _ := f.tickets.FindByToken(context.Background(), tk.Token)
			assert.Equal(t, tt.status, stored.Status)

			recs := f.audit.all()
			require.Len(t, recs, 1)
			assert.Equal(t, tk.ID.String(), recs[0].EntityID)
		})
	}
}

func TestRedeem_UnknownStatusMessage(t *testing.T) {
	tk := ticket(uuid.NewString(), domain.TicketStatus("void"))
	f := newFixture(tk)

	res, err := f.engine.Redeem(context.Background(), tk.Token, "gate-a")
	require.NoError(t, err)
	assert.Equal(t, "Ticket status: void", res.Message)
}

func TestRedeem_VanishedAfterResolution(t *testing.T) {
	tk := ticket("feedface-0000-4000-8000-000000000000", domain.TicketValid)
	f := newFixture(tk)

	// resolve succeeds, then the row disappears before the write
	f.engine.tickets = &vanishing{memTickets: f.tickets, token: tk.Token}

	res, err := f.engine.Redeem(context.Background(), "feedface", "gate-a")
	require.NoError(t, err)
	assert.Equal(t, ReasonInvalidCode, res.Reason)
}

type vanishing struct {
	*memTickets
	token string
}

func (v *vanishing) CompareAndSetStatus(
	ctx context.Context,
	token string,
	expected domain.TicketStatus,
	change domain.StatusChange,
) (*domain.Ticket, error) {
	v.remove(v.token)
	return v.memTickets.CompareAndSetStatus(ctx, token, expected, change)
}

func TestRedeem_StorageFailure(t *testing.T) {
	tk := ticket(uuid.NewString(), domain.TicketValid)
	f := newFixture(tk)
	f.tickets.err = errors.New("connection reset")

	_, err := f.engine.Redeem(context.Background(), tk.Token, "gate-a")
	require.Error(t, err)
	assert.ErrorContains(t, err, "connection reset")

	recs := f.audit.all()
	require.Len(t, recs, 1)
	assert.Equal(t, ReasonError, payloadReason(t, recs[0]))
	assert.Empty(t, f.events.evs)
}

func TestRedeem_ShortCodeThenFullToken(t *testing.T) {
	tk := ticket("deadbeef1234", domain.TicketValid)
	f := newFixture(tk, ticket(uuid.NewString(), domain.TicketValid))

	first, err := f.engine.Redeem(context.Background(), "deadbeef", "gate-a")
	require.NoError(t, err)
	require.True(t, first.Success)

	second, err := f.engine.Redeem(context.Background(), "deadbeef1234", "gate-b")
	require.NoError(t, err)
	assert.False(t, second.Success)
	assert.Equal(t, ReasonAlreadyRedeemed, second.Reason)
	assert.Equal(t, *first.RedeemedAt, *second.RedeemedAt)
}

// hungSink never returns until released, like a Kafka producer stuck on an
// unreachable broker.
type hungSink struct{ release chan struct{} }

func (hungSink) Name() string { return "hung" }

func (s hungSink) Publish(context.Context, domain.TicketEvent) error {
	<-s.release
	return nil
}

func TestRedeem_SlowEventSinkDoesNotDelayVerdict(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sink := hungSink{release: make(chan struct{})}
	defer close(sink.release)

	bus := events.NewBus(events.NewFanout(logger, sink), 4, logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = bus.Run(ctx) }()

	first, second := ticket(uuid.NewString(), domain.TicketValid), ticket(uuid.NewString(), domain.TicketValid)
	tickets := newMemTickets(first, second)
	engine := New(tickets, &memAudit{}, bus, &countingStats{}, logger)

	for _, tk := range []domain.Ticket{first, second} {
		done := make(chan Result, 1)
		go func() {
			res, err := engine.Redeem(context.Background(), tk.Token, "gate-a")
			assert.NoError(t, err)
			done <- res
		}()

		select {
		case res := <-done:
			assert.True(t, res.Success)
		case <-time.After(2 * time.Second):
			t.Fatal("redeem waited on the event sink")
		}
	}
}
