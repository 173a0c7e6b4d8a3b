package postgresrepo

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirinyoku/tix-gate/internal/domain"
)

// AuditRepo is append-only: there is no update or delete.
type AuditRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *AuditRepo) With(db DB) *AuditRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *AuditRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (r *AuditRepo) Append(ctx context.Context, e domain.AuditEntry) error {
	const op = "postgresrepo.AuditRepo.Append"

	var payload []byte
	if len(e.Payload) > 0 {
		payload = e.Payload
	}

	_, err := r.handle().Exec(ctx,
		`INSERT INTO audit_logs(action, entity, entity_id, payload, actor_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		e.Action, e.Entity, nullIfEmpty(e.EntityID), payload, nullIfEmpty(e.ActorID), e.CreatedAt,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}

// List returns audit entries newest first, optionally narrowed to one
// entity or one entity instance.
func (r *AuditRepo) List(ctx context.Context, entity, entityID string, limit int) ([]domain.AuditEntry, error) {
	const op = "postgresrepo.AuditRepo.List"

	var (
		where []string
		args  []any
	)
	if entity != "" {
		args = append(args, entity)
		where = append(where, fmt.Sprintf("entity = $%d", len(args)))
	}
	if entityID != "" {
		args = append(args, entityID)
		where = append(where, fmt.Sprintf("entity_id = $%d", len(args)))
	}

	q := `SELECT id, action, entity, COALESCE(entity_id, ''), payload, COALESCE(actor_id, ''), created_at
		  FROM audit_logs`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limit)
	q += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d", len(args))

	rows, err := r.handle().Query(ctx, q, args...)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	defer rows.Close()

	out := []domain.AuditEntry{}
	for rows.Next() {
		var e domain.AuditEntry
		var payload []byte
		if err := rows.Scan(&e.ID, &e.Action, &e.Entity, &e.EntityID, &payload, &e.ActorID, &e.CreatedAt); err != nil {
			return nil, wrapDBErr(op, err)
		}
		e.Payload = payload
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(op, err)
	}

	return out, nil
}
