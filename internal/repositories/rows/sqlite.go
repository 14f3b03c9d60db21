package rows

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mkalinina/stashkeep/internal/dbx"
	"github.com/mkalinina/stashkeep/internal/models"
)

// ErrNotFound is returned by GetByID when the row does not exist.
var ErrNotFound = errors.New("row not found")

// SQLiteRepository implements Repository on a DBTX (either *sql.DB or
// *sql.Tx). The table is fixed at construction from the entity kind, so the
// identifier interpolation below only ever sees our own constants.
type SQLiteRepository struct {
	db    dbx.DBTX
	table string
}

// NewSQLiteRepository returns a repository bound to the table for kind.
func NewSQLiteRepository(db dbx.DBTX, kind models.Kind) *SQLiteRepository {
	return &SQLiteRepository{db: db, table: string(kind)}
}

func (r *SQLiteRepository) Upsert(ctx context.Context, row models.Row) error {
	query := fmt.Sprintf(`INSERT INTO %s (id, owner_id, updated_at, deleted_at, synced_at, payload)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET owner_id = excluded.owner_id,
				updated_at = excluded.updated_at,
				deleted_at = excluded.deleted_at,
				synced_at = excluded.synced_at,
				payload = excluded.payload
	`, r.table)
	_, err := r.db.ExecContext(ctx, query,
		row.ID, row.OwnerID, row.UpdatedAt.UnixMilli(), toMillis(row.DeletedAt), toMillis(row.SyncedAt), row.Payload)
	if err != nil {
		return fmt.Errorf("failed to upsert %s row: %w", r.table, err)
	}
	return nil
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (models.Row, error) {
	query := fmt.Sprintf(`SELECT id, owner_id, updated_at, deleted_at, synced_at, payload FROM %s WHERE id=?`, r.table)
	row, err := scanRow(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Row{}, ErrNotFound
	}
	if err != nil {
		return models.Row{}, fmt.Errorf("failed to select %s row: %w", r.table, err)
	}
	return row, nil
}

func (r *SQLiteRepository) ListByOwner(ctx context.Context, ownerID string) ([]models.Row, error) {
	query := fmt.Sprintf(`SELECT id, owner_id, updated_at, deleted_at, synced_at, payload FROM %s WHERE owner_id=?`, r.table)
	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to select %s rows: %w", r.table, err)
	}
	defer rows.Close()

	var result []models.Row
	for rows.Next() {
		item, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRow(s scanner) (models.Row, error) {
	var row models.Row
	var updated int64
	var deleted, synced sql.NullInt64
	if err := s.Scan(&row.ID, &row.OwnerID, &updated, &deleted, &synced, &row.Payload); err != nil {
		return models.Row{}, err
	}
	row.UpdatedAt = time.UnixMilli(updated).UTC()
	row.DeletedAt = fromMillis(deleted)
	row.SyncedAt = fromMillis(synced)
	return row, nil
}

func toMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func fromMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}
