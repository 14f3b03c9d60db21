package uploads

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mkalinina/stashkeep/internal/dbx"
	"github.com/mkalinina/stashkeep/internal/models"
)

// ErrNotFound is returned when no task matches the lookup.
var ErrNotFound = errors.New("upload task not found")

// SQLiteRepository implements Repository on a DBTX.
type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const taskColumns = `id, owner_id, local_ref, entity_kind, entity_id, bucket, state, retry_count, last_error, result_url, updated_at`

func (r *SQLiteRepository) Save(ctx context.Context, t *models.UploadTask) error {
	query := `INSERT INTO upload_tasks (` + taskColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET state = excluded.state,
				retry_count = excluded.retry_count,
				last_error = excluded.last_error,
				result_url = excluded.result_url,
				updated_at = excluded.updated_at
	`
	_, err := r.db.ExecContext(ctx, query,
		t.ID, t.OwnerID, t.LocalRef, string(t.EntityKind), t.EntityID, t.Bucket,
		string(t.State), t.RetryCount, t.LastError, t.ResultURL, t.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to upsert upload task: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*models.UploadTask, error) {
	query := `SELECT ` + taskColumns + ` FROM upload_tasks WHERE id=?`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *SQLiteRepository) GetByEntityRef(ctx context.Context, entityID, localRef string) (*models.UploadTask, error) {
	query := `SELECT ` + taskColumns + ` FROM upload_tasks WHERE entity_id=? AND local_ref=?`
	return r.scanOne(r.db.QueryRowContext(ctx, query, entityID, localRef))
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM upload_tasks WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete upload task: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ListByState(ctx context.Context, ownerID string, state models.TaskState) ([]*models.UploadTask, error) {
	query := `SELECT ` + taskColumns + ` FROM upload_tasks WHERE owner_id=? AND state=? ORDER BY updated_at`
	rows, err := r.db.QueryContext(ctx, query, ownerID, string(state))
	if err != nil {
		return nil, fmt.Errorf("failed to select upload tasks: %w", err)
	}
	defer rows.Close()

	var result []*models.UploadTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) CountsByState(ctx context.Context, ownerID string) (map[models.TaskState]int, error) {
	query := `SELECT state, COUNT(*) FROM upload_tasks WHERE owner_id=? GROUP BY state`
	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to count upload tasks: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.TaskState]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		counts[models.TaskState(state)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return counts, nil
}

func (r *SQLiteRepository) ResetUploading(ctx context.Context, ownerID string) (int, error) {
	query := `UPDATE upload_tasks SET state=?, updated_at=? WHERE owner_id=? AND state=?`
	res, err := r.db.ExecContext(ctx, query,
		string(models.TaskPending), time.Now().UnixMilli(), ownerID, string(models.TaskUploading))
	if err != nil {
		return 0, fmt.Errorf("failed to reset in-flight upload tasks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (r *SQLiteRepository) scanOne(row *sql.Row) (*models.UploadTask, error) {
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select upload task: %w", err)
	}
	return t, nil
}

func scanTask(s scanner) (*models.UploadTask, error) {
	t := &models.UploadTask{}
	var kind, state string
	var updated int64
	if err := s.Scan(&t.ID, &t.OwnerID, &t.LocalRef, &kind, &t.EntityID, &t.Bucket,
		&state, &t.RetryCount, &t.LastError, &t.ResultURL, &updated); err != nil {
		return nil, err
	}
	t.EntityKind = models.Kind(kind)
	t.State = models.TaskState(state)
	t.UpdatedAt = time.UnixMilli(updated).UTC()
	return t, nil
}
