package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/notely/internal/model"
)

// PostgresNoteRepo はPostgreSQLを使用したノートリポジトリ。
type PostgresNoteRepo struct {
	db      *sql.DB
	timeout time.Duration
}

// NewPostgresNoteRepo はPostgresNoteRepoを生成する。
func NewPostgresNoteRepo(db *sql.DB, queryTimeout time.Duration) *PostgresNoteRepo {
	return &PostgresNoteRepo{db: db, timeout: queryTimeout}
}

const noteColumns = `id, owner_id, title, body, created_at, updated_at`

// Create はノートを作成する。
func (r *PostgresNoteRepo) Create(ctx context.Context, note *model.Note) error {
	ctx, cancel := withQueryTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO notes (id, owner_id, title, body, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		note.ID, note.OwnerID, note.Title, note.Body, note.CreatedAt, note.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create note: %w", err)
	}
	return nil
}

// ListByOwner はownerのノートをcreated_at降順（同時刻はid降順）で最大limit件返す。
func (r *PostgresNoteRepo) ListByOwner(ctx context.Context, ownerID, query string, limit int) ([]*model.Note, error) {
	ctx, cancel := withQueryTimeout(ctx, r.timeout)
	defer cancel()

	var (
		rows *sql.Rows
		err  error
	)
	if query == "" {
		rows, err = r.db.QueryContext(ctx,
			`SELECT `+noteColumns+`
			 FROM notes
			 WHERE owner_id = $1
			 ORDER BY created_at DESC, id DESC
			 LIMIT $2`,
			ownerID, limit,
		)
	} else {
		rows, err = r.db.QueryContext(ctx,
			`SELECT `+noteColumns+`
			 FROM notes
			 WHERE owner_id = $1
			   AND (title ILIKE $2 ESCAPE '\' OR body ILIKE $2 ESCAPE '\')
			 ORDER BY created_at DESC, id DESC
			 LIMIT $3`,
			ownerID, likePattern(query), limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	defer rows.Close()

	notes := make([]*model.Note, 0)
	for rows.Next() {
		n := &model.Note{}
		if err := rows.Scan(&n.ID, &n.OwnerID, &n.Title, &n.Body, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate notes: %w", err)
	}

	return notes, nil
}

// Update は指定フィールドのみを更新する。ownerのノートが見つからない場合はnilを返す。
func (r *PostgresNoteRepo) Update(ctx context.Context, ownerID, id string, patch model.NotePatch, now time.Time) (*model.Note, error) {
	ctx, cancel := withQueryTimeout(ctx, r.timeout)
	defer cancel()

	n := &model.Note{}
	err := r.db.QueryRowContext(ctx,
		`UPDATE notes
		 SET title = COALESCE($3, title),
		     body = COALESCE($4, body),
		     updated_at = $5
		 WHERE id = $1 AND owner_id = $2
		 RETURNING `+noteColumns,
		id, ownerID, nullString(patch.Title), nullString(patch.Body), now,
	).Scan(&n.ID, &n.OwnerID, &n.Title, &n.Body, &n.CreatedAt, &n.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update note: %w", err)
	}
	return n, nil
}

// Delete はownerのノートを削除する。該当行がなくてもエラーにしない。
func (r *PostgresNoteRepo) Delete(ctx context.Context, ownerID, id string) error {
	ctx, cancel := withQueryTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx,
		`DELETE FROM notes WHERE id = $1 AND owner_id = $2`,
		id, ownerID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete note: %w", err)
	}
	return nil
}

// DeleteByOwner はownerの全ノートを削除する。
func (r *PostgresNoteRepo) DeleteByOwner(ctx context.Context, ownerID string) (int64, error) {
	ctx, cancel := withQueryTimeout(ctx, r.timeout)
	defer cancel()

	result, err := r.db.ExecContext(ctx,
		`DELETE FROM notes WHERE owner_id = $1`,
		ownerID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete owner notes: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// likePattern はILIKE用に%と_をエスケープした部分一致パターンを返す。
func likePattern(q string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(q) + "%"
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// compile-time interface check
var _ NoteRepository = (*PostgresNoteRepo)(nil)
