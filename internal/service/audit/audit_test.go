package audit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/kirinyoku/tix-gate/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	err     error
	entries []domain.AuditEntry
	limit   int
}

func (m *memStore) Append(_ context.Context, e domain.AuditEntry) error {
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *memStore) List(_ context.Context, _, _ string, limit int) ([]domain.AuditEntry, error) {
	m.limit = limit
	return m.entries, m.err
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestSink_Record(t *testing.T) {
	st := &memStore{}
	s := New(st, discard())

	s.Record(context.Background(), Record{
		Action:   ActionRedeemFailed,
		Entity:   EntityTickets,
		EntityID: "t1",
		Payload:  map[string]string{"token": "deadbeef", "reason": "invalid"},
	})

	require.Len(t, st.entries, 1)
	e := st.entries[0]
	assert.Equal(t, ActionRedeemFailed, e.Action)
	assert.JSONEq(t, `{"token":"deadbeef","reason":"invalid"}`, string(e.Payload))
	assert.False(t, e.CreatedAt.IsZero())
}

func TestSink_RecordSwallowsStoreErrors(t *testing.T) {
	s := New(&memStore{err: errors.New("db down")}, discard())

	assert.NotPanics(t, func() {
		s.Record(context.Background(), Record{Action: ActionApprove, Entity: EntityRequests})
	})
}

func TestSink_ListClampsLimit(t *testing.T) {
	st := &memStore{}
	s := New(st, discard())

	_, err := s.List(context.Background(), "", "", 0)
	require.NoError(t, err)
	assert.Equal(t, 100, st.limit)

	_, err = s.List(context.Background(), "", "", 20)
	require.NoError(t, err)
	assert.Equal(t, 20, st.limit)
}
