package postgresrepo

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirinyoku/tix-gate/internal/domain"
)

type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		pool: pool,
	}
}

func (s *Store) RunTx(
	ctx context.Context,
	opts *pgx.TxOptions,
	fn func(ctx context.Context, tx DB) error,
) error {
	txOpts := pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	}

	if opts != nil {
		txOpts.IsoLevel = opts.IsoLevel
		txOpts.AccessMode = opts.AccessMode
		txOpts.DeferrableMode = opts.DeferrableMode
	}

	tx, err := s.pool.BeginTx(ctx, txOpts)
	if err != nil {
		return err
	}

	defer tx.Rollback(ctx)

	if err := fn(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	return nil
}

// InTx runs fn with repositories bound to a single transaction.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error {
	return s.RunTx(ctx, nil, func(ctx context.Context, db DB) error {
		return fn(ctx, &Tx{store: s, db: db})
	})
}

func (s *Store) Tickets() *TicketRepo   { return &TicketRepo{pool: s.pool} }
func (s *Store) Requests() *RequestRepo { return &RequestRepo{pool: s.pool} }
func (s *Store) Audit() *AuditRepo      { return &AuditRepo{pool: s.pool} }
func (s *Store) State() *StateRepo      { return &StateRepo{pool: s.pool} }

// Tx exposes the writes the approval workflow performs atomically.
type Tx struct {
	store *Store
	db    DB
}

func (t *Tx) TransitionRequest(
	ctx context.Context,
	id uuid.UUID,
	from, to domain.RequestStatus,
	reviewerID string,
	notes *string,
) (*domain.PurchaseRequest, error) {
	return t.store.Requests().With(t.db).Transition(ctx, id, from, to, reviewerID, notes)
}

func (t *Tx) InsertTickets(ctx context.Context, tickets []domain.Ticket) error {
	return t.store.Tickets().With(t.db).Insert(ctx, tickets)
}
