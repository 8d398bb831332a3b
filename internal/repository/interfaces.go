// Package repository はデータ永続化のインターフェースとPostgreSQL実装を提供する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/notely/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// CreateWithIdentity はユーザーとidentityを同一トランザクションで作成する。
	// identityが既に存在する場合はErrDuplicateを返し、ユーザーも作成しない。
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error

	// UpdateProfile はIdPから取得したプロフィール（email, name, picture, locale）を更新する。
	UpdateProfile(ctx context.Context, user *model.User) error

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するidentities、sessions、notesはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。見つからない場合はnilを返す。
	// 期限切れ・失効済みでも行が存在すれば返すため、有効性は呼び出し側で判定する。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// Revoke は指定IDのセッションを失効させる。存在しない場合も成功とする。
	Revoke(ctx context.Context, id string, at time.Time) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// NoteRepository はノートの永続化インターフェース。
// 全操作はowner_idで絞り込み、他ユーザーのノートには作用しない。
type NoteRepository interface {
	// Create はノートを作成する。
	Create(ctx context.Context, note *model.Note) error

	// ListByOwner はownerのノートを新しい順に最大limit件返す。
	// queryが空でない場合はタイトル・本文の大文字小文字を区別しない部分一致で絞り込む。
	ListByOwner(ctx context.Context, ownerID, query string, limit int) ([]*model.Note, error)

	// Update は指定されたフィールドのみを更新し、更新後のノートを返す。
	// ownerのノートが見つからない場合はnilを返す。
	Update(ctx context.Context, ownerID, id string, patch model.NotePatch, now time.Time) (*model.Note, error)

	// Delete はownerのノートを削除する。存在しない場合も成功とする。
	Delete(ctx context.Context, ownerID, id string) error

	// DeleteByOwner はownerの全ノートを削除し、削除件数を返す。
	DeleteByOwner(ctx context.Context, ownerID string) (int64, error)
}
