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

const requestColumns = `id, sheet_row_id, name, email, phone, event_name, qty, seat_tier,
	payment_type, proof_url, notes, status, reviewer_id, created_at, updated_at`

type RequestRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *RequestRepo) With(db DB) *RequestRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *RequestRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

func scanRequest(row rowScanner, extra ...any) (*domain.PurchaseRequest, error) {
	var p domain.PurchaseRequest
	var status string

	dest := []any{
		&p.ID, &p.SheetRowID, &p.Name, &p.Email, &p.Phone, &p.EventName, &p.Qty, &p.SeatTier,
		&p.PaymentType, &p.ProofURL, &p.Notes, &status, &p.ReviewerID, &p.CreatedAt, &p.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	p.Status = domain.RequestStatus(status)

	return &p, nil
}

// InsertFromSheet stores spreadsheet rows as pending requests. Rows that were
// already imported are left untouched so a re-sync never resets a reviewed
// request back to pending.
//
// Returns:
//   - int64: number of rows actually inserted.
func (r *RequestRepo) InsertFromSheet(ctx context.Context, rows []domain.SheetRow) (int64, error) {
	const op = "postgresrepo.RequestRepo.InsertFromSheet"

	if len(rows) == 0 {
		return 0, nil
	}

	db := r.handle()

	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(
			`INSERT INTO purchase_requests(id, sheet_row_id, name, email, phone, event_name,
				qty, seat_tier, payment_type, proof_url, notes, status)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 'pending_review')
			 ON CONFLICT (sheet_row_id) DO NOTHING`,
			uuid.New(), row.RowIndex, row.FullName, row.Email, row.Phone, row.EventName,
			row.Quantity, row.SeatTier, row.PaymentType, row.ProofURL, row.Notes,
		)
	}

	br := db.SendBatch(ctx, batch)
	defer br.Close()

	var inserted int64
	for range rows {
		tag, err := br.Exec()
		if err != nil {
			return inserted, wrapDBErr(op, err)
		}
		inserted += tag.RowsAffected()
	}

	if err := br.Close(); err != nil {
		return inserted, wrapDBErr(op, err)
	}

	return inserted, nil
}

// Get retrieves a purchase request by its ID.
//
// Returns:
//   - error: repository.ErrNotFound if the request does not exist.
func (r *RequestRepo) Get(ctx context.Context, id uuid.UUID) (*domain.PurchaseRequest, error) {
	const op = "postgresrepo.RequestRepo.Get"

	p, err := scanRequest(r.handle().QueryRow(ctx,
		`SELECT `+requestColumns+` FROM purchase_requests WHERE id = $1`,
		id,
	))
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return p, nil
}

// Transition moves a request from one status to another if, and only if, it is
// still in from. A nil notes keeps the stored notes.
//
// Returns:
//   - *domain.PurchaseRequest: the updated request, or nil when the request
//     is missing or no longer in from.
func (r *RequestRepo) Transition(
	ctx context.Context,
	id uuid.UUID,
	from, to domain.RequestStatus,
	reviewerID string,
	notes *string,
) (*domain.PurchaseRequest, error) {
	const op = "postgresrepo.RequestRepo.Transition"

	p, err := scanRequest(r.handle().QueryRow(ctx,
		`UPDATE purchase_requests
		 SET status = $3, reviewer_id = $4, notes = COALESCE($5, notes), updated_at = now()
		 WHERE id = $1 AND status = $2
		 RETURNING `+requestColumns,
		id, string(from), string(to), reviewerID, notes,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return p, nil
}

// List returns requests newest first, filtered by status and a name/email
// search.
func (r *RequestRepo) List(ctx context.Context, f domain.RequestFilter) (domain.Page[domain.PurchaseRequest], error) {
	const op = "postgresrepo.RequestRepo.List"

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
		where = append(where, fmt.Sprintf("(name ILIKE $%d OR email ILIKE $%d)", n, n))
	}

	q := `SELECT ` + requestColumns + `, COUNT(*) OVER() FROM purchase_requests`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, f.Limit, f.Offset)
	q += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.handle().Query(ctx, q, args...)
	if err != nil {
		return domain.Page[domain.PurchaseRequest]{}, wrapDBErr(op, err)
	}

	defer rows.Close()

	page := domain.Page[domain.PurchaseRequest]{Data: []domain.PurchaseRequest{}}
	for rows.Next() {
		p, err := scanRequest(rows, &page.Count)
		if err != nil {
			return domain.Page[domain.PurchaseRequest]{}, wrapDBErr(op, err)
		}
		page.Data = append(page.Data, *p)
	}
	if err := rows.Err(); err != nil {
		return domain.Page[domain.PurchaseRequest]{}, wrapDBErr(op, err)
	}

	return page, nil
}

// CountsByStatus fills the request half of stats.
func (r *RequestRepo) CountsByStatus(ctx context.Context, s *domain.Stats) error {
	const op = "postgresrepo.RequestRepo.CountsByStatus"

	err := r.handle().QueryRow(ctx,
		`SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'pending_review'),
			COUNT(*) FILTER (WHERE status = 'approved'),
			COUNT(*) FILTER (WHERE status = 'rejected')
		 FROM purchase_requests`,
	).Scan(&s.TotalRequests, &s.PendingRequests, &s.ApprovedRequests, &s.RejectedRequests)
	if err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}
