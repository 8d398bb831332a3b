// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/notely/internal/model"
	"github.com/hitoshi/notely/internal/repository"
)

// NoteDeleter はノートの一括削除インターフェース。
type NoteDeleter interface {
	DeleteByOwner(ctx context.Context, ownerID string) (int64, error)
}

// Service はユーザー管理のサービス層。
// 退会処理のビジネスロジックを提供する。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	noteDeleter NoteDeleter
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	noteDeleter NoteDeleter,
) *Service {
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		noteDeleter: noteDeleter,
	}
}

// Withdraw はユーザーの退会処理を実行する。
// 削除順序: notes → sessions → user（+ CASCADE: identities）
func (s *Service) Withdraw(ctx context.Context, userID string) error {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}

	slog.Info("退会処理を開始します", slog.String("user_id", userID))

	var deletedNotes int64
	if s.noteDeleter != nil {
		deletedNotes, err = s.noteDeleter.DeleteByOwner(ctx, userID)
		if err != nil {
			return fmt.Errorf("ノートの削除に失敗しました: %w", err)
		}
	}

	if s.sessionRepo != nil {
		if err := s.sessionRepo.DeleteByUserID(ctx, userID); err != nil {
			return fmt.Errorf("セッションの削除に失敗しました: %w", err)
		}
	}

	if err := s.userRepo.DeleteByID(ctx, userID); err != nil {
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}

	slog.Info("退会処理が完了しました",
		slog.String("user_id", userID),
		slog.Int64("deleted_notes", deletedNotes),
	)

	return nil
}
