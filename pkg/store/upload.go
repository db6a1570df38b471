package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

const (
	insertUploadSQL = `INSERT INTO upload (id, name, hash, size, row_count, created_at, used_at, content)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	selectUploadColumns = `id, name, hash, size, row_count, created_at, used_at`

	selectUploadByHashSQL = `SELECT ` + selectUploadColumns + ` FROM upload WHERE hash = ?`
	selectUploadByIDSQL   = `SELECT ` + selectUploadColumns + ` FROM upload WHERE id = ?`
	selectUploadsSQL      = `SELECT ` + selectUploadColumns + ` FROM upload ORDER BY used_at DESC, rowid DESC`
	selectContentSQL      = `SELECT content FROM upload WHERE id = ?`
	touchUploadSQL        = `UPDATE upload SET used_at = ? WHERE id = ?`
	deleteUploadSQL       = `DELETE FROM upload WHERE id = ?`
	deleteScoresSQL       = `DELETE FROM score WHERE upload_id = ?`

	selectStaleUploadsSQL = `SELECT id FROM upload ORDER BY used_at DESC, rowid DESC LIMIT -1 OFFSET ?`

	insertScoreSQL  = `INSERT INTO score (upload_id, row_idx, value) VALUES (?, ?, ?)`
	selectScoresSQL = `SELECT row_idx, value FROM score WHERE upload_id = ? ORDER BY row_idx`
)

type scanner interface {
	Scan(dest ...any) error
}

func scanUpload(row scanner) (*Upload, error) {
	var (
		u       Upload
		id      string
		created int64
		used    int64
	)
	if err := row.Scan(&id, &u.Name, &u.Hash, &u.Size, &u.Rows, &created, &used); err != nil {
		return nil, err
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid upload id %q: %w", id, err)
	}
	u.ID = parsed
	u.CreatedAt = time.UnixMilli(created).UTC()
	u.UsedAt = time.UnixMilli(used).UTC()
	return &u, nil
}

// SaveUpload stores u with its raw content and model scores in one
// transaction, assigning an ID when u has none. Either all of it is cached
// or nothing is.
func (s *Store) SaveUpload(ctx context.Context, u *Upload, content []byte, scores []float64) error {
	if err := s.check(); err != nil {
		return err
	}
	if u == nil {
		return errors.New("upload required")
	}
	if u.Hash == "" {
		return errors.New("upload hash required")
	}

	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	now := time.Now().UTC().Truncate(time.Millisecond)
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UsedAt = u.CreatedAt
	u.Size = int64(len(content))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, insertUploadSQL,
		u.ID.String(), u.Name, u.Hash, u.Size, u.Rows,
		u.CreatedAt.UnixMilli(), u.UsedAt.UnixMilli(), content); err != nil {
		return fmt.Errorf("failed to insert upload: %w", err)
	}
	if err := insertScores(ctx, tx, u.ID, scores); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetUploadByHash returns the upload with the given content hash.
func (s *Store) GetUploadByHash(ctx context.Context, hash string) (*Upload, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.getUpload(ctx, selectUploadByHashSQL, hash)
}

// GetUpload returns the upload with the given ID.
func (s *Store) GetUpload(ctx context.Context, id uuid.UUID) (*Upload, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.getUpload(ctx, selectUploadByIDSQL, id.String())
}

func (s *Store) getUpload(ctx context.Context, query, arg string) (*Upload, error) {
	u, err := scanUpload(s.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan upload: %w", err)
	}
	return u, nil
}

// GetContent returns the raw bytes of an upload.
func (s *Store) GetContent(ctx context.Context, id uuid.UUID) ([]byte, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	var b []byte
	if err := s.db.QueryRowContext(ctx, selectContentSQL, id.String()).Scan(&b); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan content: %w", err)
	}
	return b, nil
}

// ListUploads returns cached uploads, most recently used first.
func (s *Store) ListUploads(ctx context.Context) ([]*Upload, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, selectUploadsSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to query uploads: %w", err)
	}
	defer rows.Close()

	list := make([]*Upload, 0)
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan upload: %w", err)
		}
		list = append(list, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate uploads: %w", err)
	}
	return list, nil
}

// Touch marks an upload as used now.
func (s *Store) Touch(ctx context.Context, id uuid.UUID) error {
	if err := s.check(); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, touchUploadSQL, time.Now().UTC().UnixMilli(), id.String())
	if err != nil {
		return fmt.Errorf("failed to touch upload: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteUpload removes an upload and its scores.
func (s *Store) DeleteUpload(ctx context.Context, id uuid.UUID) error {
	if err := s.check(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, deleteScoresSQL, id.String()); err != nil {
		return fmt.Errorf("failed to delete scores: %w", err)
	}
	res, err := tx.ExecContext(ctx, deleteUploadSQL, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete upload: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Prune deletes all but the keep most recently used uploads and returns
// the IDs it removed.
func (s *Store) Prune(ctx context.Context, keep int) ([]uuid.UUID, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if keep < 1 {
		keep = 1
	}

	rows, err := s.db.QueryContext(ctx, selectStaleUploadsSQL, keep)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale uploads: %w", err)
	}
	var stale []uuid.UUID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan upload id: %w", err)
		}
		if parsed, err := uuid.Parse(id); err == nil {
			stale = append(stale, parsed)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate stale uploads: %w", err)
	}

	for _, id := range stale {
		if err := s.DeleteUpload(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return stale, nil
}

// SaveScores replaces the cached model scores of an upload.
func (s *Store) SaveScores(ctx context.Context, id uuid.UUID, scores []float64) error {
	if err := s.check(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, deleteScoresSQL, id.String()); err != nil {
		return fmt.Errorf("failed to clear scores: %w", err)
	}
	if err := insertScores(ctx, tx, id, scores); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func insertScores(ctx context.Context, tx *sql.Tx, id uuid.UUID, scores []float64) error {
	if len(scores) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, insertScoreSQL)
	if err != nil {
		return fmt.Errorf("failed to prepare score insert: %w", err)
	}
	defer stmt.Close()

	for i, v := range scores {
		val := sql.NullFloat64{Float64: v, Valid: !math.IsNaN(v)}
		if _, err := stmt.ExecContext(ctx, id.String(), i, val); err != nil {
			return fmt.Errorf("failed to insert score %d: %w", i, err)
		}
	}
	return nil
}

// GetScores returns the cached scores of an upload in row order.
// ErrNotFound means the upload was never scored.
func (s *Store) GetScores(ctx context.Context, id uuid.UUID) ([]float64, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, selectScoresSQL, id.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query scores: %w", err)
	}
	defer rows.Close()

	scores := make([]float64, 0)
	for rows.Next() {
		var (
			idx int
			val sql.NullFloat64
		)
		if err := rows.Scan(&idx, &val); err != nil {
			return nil, fmt.Errorf("failed to scan score: %w", err)
		}
		if idx != len(scores) {
			return nil, fmt.Errorf("score row %d out of sequence", idx)
		}
		if val.Valid {
			scores = append(scores, val.Float64)
		} else {
			scores = append(scores, math.NaN())
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate scores: %w", err)
	}

	if len(scores) == 0 {
		if _, err := s.GetUpload(ctx, id); err != nil {
			return nil, err
		}
	}
	return scores, nil
}
