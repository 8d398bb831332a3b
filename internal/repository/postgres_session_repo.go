package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/notely/internal/model"
)

// PostgresSessionRepo はPostgreSQLを使用したセッションリポジトリ。
type PostgresSessionRepo struct {
	db      *sql.DB
	timeout time.Duration
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db *sql.DB, queryTimeout time.Duration) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db, timeout: queryTimeout}
}

// Create はセッションを作成する。
func (r *PostgresSessionRepo) Create(ctx context.Context, session *model.Session) error {
	ctx, cancel := withQueryTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, expires_at, created_at)
		 VALUES ($1, $2, $3, $4)`,
		session.ID, session.UserID, session.ExpiresAt, session.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// FindByID は指定IDのセッションを取得する。見つからない場合はnilを返す。
func (r *PostgresSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	ctx, cancel := withQueryTimeout(ctx, r.timeout)
	defer cancel()

	session := &model.Session{}
	var revokedAt sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, expires_at, revoked_at, created_at
		 FROM sessions
		 WHERE id = $1`,
		id,
	).Scan(&session.ID, &session.UserID, &session.ExpiresAt, &revokedAt, &session.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if revokedAt.Valid {
		session.RevokedAt = &revokedAt.Time
	}

	return session, nil
}

// Revoke は指定IDのセッションを失効させる。既に失効済みの場合は失効日時を変更しない。
func (r *PostgresSessionRepo) Revoke(ctx context.Context, id string, at time.Time) error {
	ctx, cancel := withQueryTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}

// DeleteByUserID は指定ユーザーの全セッションを削除する。
func (r *PostgresSessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	ctx, cancel := withQueryTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete user sessions: %w", err)
	}
	return nil
}

// compile-time interface check
var _ SessionRepository = (*PostgresSessionRepo)(nil)
