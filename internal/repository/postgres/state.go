package postgresrepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirinyoku/tix-gate/internal/repository"
)

const keyLastSyncedRow = "last_synced_row"

type StateRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *StateRepo) With(db DB) *StateRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *StateRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

type syncedRow struct {
	RowIndex int `json:"row_index"`
}

// LastSyncedRow returns the highest spreadsheet row already imported, or 0.
func (r *StateRepo) LastSyncedRow(ctx context.Context) (int, error) {
	const op = "postgresrepo.StateRepo.LastSyncedRow"

	var raw []byte
	err := r.handle().QueryRow(ctx,
		`SELECT value FROM system_state WHERE key = $1`,
		keyLastSyncedRow,
	).Scan(&raw)
	if err != nil {
		err = wrapDBErr(op, err)
		if errors.Is(err, repository.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}

	var v syncedRow
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return v.RowIndex, nil
}

func (r *StateRepo) SetLastSyncedRow(ctx context.Context, row int) error {
	const op = "postgresrepo.StateRepo.SetLastSyncedRow"

	b, _ := json.Marshal(syncedRow{RowIndex: row})

	_, err := r.handle().Exec(ctx,
		`INSERT INTO system_state(key, value, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		keyLastSyncedRow, b,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}
