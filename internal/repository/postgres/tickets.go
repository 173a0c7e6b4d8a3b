package postgresrepo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirinyoku/tix-gate/internal/domain"
)

const ticketColumns = `id, token, status, event_name, purchaser_name, purchaser_email,
	seat_tier, purchase_request_id, issued_at, redeemed_at, redeemed_by`

// casAttempts bounds retries of the conditional write on deadlock or
// serialization failures. A failed condition is never retried.
const casAttempts = 3

type TicketRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *TicketRepo) With(db DB) *TicketRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *TicketRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTicket(row rowScanner) (*domain.Ticket, error) {
	var t domain.Ticket
	var status string

	if err := row.Scan(
		&t.ID,
		&t.Token,
		&status,
		&t.EventName,
		&t.PurchaserName,
		&t.PurchaserEmail,
		&t.SeatTier,
		&t.PurchaseRequestID,
		&t.IssuedAt,
		&t.RedeemedAt,
		&t.RedeemedBy,
	); err != nil {
		return nil, err
	}

	t.Status = domain.TicketStatus(status)

	return &t, nil
}

// Insert stores freshly issued tickets in one batch.
//
// Returns:
//   - error: repository.ErrConflict if a token or id already exists.
func (r *TicketRepo) Insert(ctx context.Context, tickets []domain.Ticket) error {
	const op = "postgresrepo.TicketRepo.Insert"

	if len(tickets) == 0 {
		return nil
	}

	db := r.handle()

	batch := &pgx.Batch{}
	for _, t := range tickets {
		batch.Queue(
			`INSERT INTO tickets(id, token, status, event_name, purchaser_name,
				purchaser_email, seat_tier, purchase_request_id, issued_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			t.ID, t.Token, string(t.Status), t.EventName, t.PurchaserName,
			t.PurchaserEmail, t.SeatTier, t.PurchaseRequestID, t.IssuedAt,
		)
	}
	if err := db.SendBatch(ctx, batch).Close(); err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}

// GetByID retrieves a ticket by its ID.
//
// Returns:
//   - error: repository.ErrNotFound if the ticket does not exist.
func (r *TicketRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Ticket, error) {
	const op = "postgresrepo.TicketRepo.GetByID"

	t, err := scanTicket(r.handle().QueryRow(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE id = $1`,
		id,
	))
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return t, nil
}

// FindByToken retrieves the ticket whose token equals token exactly.
//
// Returns:
//   - error: repository.ErrNotFound if no ticket carries the token.
func (r *TicketRepo) FindByToken(ctx context.Context, token string) (*domain.Ticket, error) {
	const op = "postgresrepo.TicketRepo.FindByToken"

	t, err := scanTicket(r.handle().QueryRow(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE token = $1`,
		token,
	))
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return t, nil
}

// FindByTokenPrefix returns up to limit tickets whose token starts with
// prefix, compared case-insensitively.
func (r *TicketRepo) FindByTokenPrefix(ctx context.Context, prefix string, limit int) ([]domain.Ticket, error) {
	const op = "postgresrepo.TicketRepo.FindByTokenPrefix"

	rows, err := r.handle().Query(ctx,
		`SELECT `+ticketColumns+`
		 FROM tickets
		 WHERE lower(token) LIKE lower($1)
		 ORDER BY issued_at
		 LIMIT $2`,
		prefixPattern(prefix), limit,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	defer rows.Close()

	var out []domain.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, wrapDBErr(op, err)
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(op, err)
	}

	return out, nil
}

// CompareAndSetStatus applies change to the ticket addressed by token only if
// its current status equals expected. The check and the write are a single
// UPDATE statement, so concurrent callers are ordered by the row lock and
// exactly one of them can observe expected.
//
// Returns:
//   - *domain.Ticket: the updated ticket, or nil when the condition did not
//     hold (or the token does not exist).
//   - error: only on infrastructure failures.
func (r *TicketRepo) CompareAndSetStatus(
	ctx context.Context,
	token string,
	expected domain.TicketStatus,
	change domain.StatusChange,
) (*domain.Ticket, error) {
	const op = "postgresrepo.TicketRepo.CompareAndSetStatus"

	db := r.handle()

	var (
		t   *domain.Ticket
		err error
	)
	for attempt := 1; attempt <= casAttempts; attempt++ {
		t, err = scanTicket(db.QueryRow(ctx,
			`UPDATE tickets
			 SET status = $3,
			     redeemed_at = COALESCE($4, redeemed_at),
			     redeemed_by = COALESCE($5, redeemed_by)
			 WHERE token = $1 AND status = $2
			 RETURNING `+ticketColumns,
			token, string(expected), string(change.Status), change.RedeemedAt, change.RedeemedBy,
		))
		if err == nil || !IsRetryable(err) || r.db != nil {
			break
		}
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return t, nil
}

// ExpireValid moves every still-valid ticket of an event to expired in a
// single conditional UPDATE.
//
// Returns:
//   - []domain.Ticket: the tickets that were expired.
func (r *TicketRepo) ExpireValid(ctx context.Context, eventName string) ([]domain.Ticket, error) {
	const op = "postgresrepo.TicketRepo.ExpireValid"

	rows, err := r.handle().Query(ctx,
		`UPDATE tickets
		 SET status = 'expired'
		 WHERE event_name = $1 AND status = 'valid'
		 RETURNING `+ticketColumns,
		eventName,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	defer rows.Close()

	out := []domain.Ticket{}
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, wrapDBErr(op, err)
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(op, err)
	}

	return out, nil
}

// List searches tickets by purchaser name, email or id, newest first.
func (r *TicketRepo) List(ctx context.Context, f domain.TicketFilter) (domain.Page[domain.Ticket], error) {
	const op = "postgresrepo.TicketRepo.List"

	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.Search != "" {
		args = append(args, containsPattern(f.Search))
		n := len(args)
		where = append(where, fmt.Sprintf(
			"(purchaser_name ILIKE $%d OR purchaser_email ILIKE $%d OR id::text ILIKE $%d)", n, n, n,
		))
	}

	q := `SELECT ` + ticketColumns + `, COUNT(*) OVER() FROM tickets`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, f.Limit, f.Offset)
	q += fmt.Sprintf(" ORDER BY issued_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.handle().Query(ctx, q, args...)
	if err != nil {
		return domain.Page[domain.Ticket]{}, wrapDBErr(op, err)
	}

	defer rows.Close()

	page := domain.Page[domain.Ticket]{Data: []domain.Ticket{}}
	for rows.Next() {
		var t domain.Ticket
		var status string
		if err := rows.Scan(
			&t.ID, &t.Token, &status, &t.EventName, &t.PurchaserName, &t.PurchaserEmail,
			&t.SeatTier, &t.PurchaseRequestID, &t.IssuedAt, &t.RedeemedAt, &t.RedeemedBy,
			&page.Count,
		); err != nil {
			return domain.Page[domain.Ticket]{}, wrapDBErr(op, err)
		}
		t.Status = domain.TicketStatus(status)
		page.Data = append(page.Data, t)
	}
	if err := rows.Err(); err != nil {
		return domain.Page[domain.Ticket]{}, wrapDBErr(op, err)
	}

	return page, nil
}

// ListRedeemed returns the most recent redemptions. Tokens are masked
// before they leave the repository.
func (r *TicketRepo) ListRedeemed(ctx context.Context, limit int) ([]domain.Redemption, error) {
	const op = "postgresrepo.TicketRepo.ListRedeemed"

	rows, err := r.handle().Query(ctx,
		`SELECT id, event_name, purchaser_name, seat_tier, redeemed_at, status, token
		 FROM tickets
		 WHERE status = 'redeemed'
		 ORDER BY redeemed_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	defer rows.Close()

	out := []domain.Redemption{}
	for rows.Next() {
		var (
			rd     domain.Redemption
			status string
			token  string
		)
		if err := rows.Scan(
			&rd.ID, &rd.EventName, &rd.PurchaserName, &rd.SeatTier, &rd.RedeemedAt, &status, &token,
		); err != nil {
			return nil, wrapDBErr(op, err)
		}
		rd.Status = domain.TicketStatus(status)
		rd.Token = domain.MaskToken(token)
		out = append(out, rd)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(op, err)
	}

	return out, nil
}

// CountsByStatus fills the ticket half of stats.
func (r *TicketRepo) CountsByStatus(ctx context.Context, s *domain.Stats) error {
	const op = "postgresrepo.TicketRepo.CountsByStatus"

	err := r.handle().QueryRow(ctx,
		`SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'valid'),
			COUNT(*) FILTER (WHERE status = 'redeemed'),
			COUNT(*) FILTER (WHERE status = 'cancelled'),
			COUNT(*) FILTER (WHERE status = 'expired')
		 FROM tickets`,
	).Scan(&s.TotalTickets, &s.ValidTickets, &s.RedeemedTickets, &s.CancelledTickets, &s.ExpiredTickets)
	if err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}
