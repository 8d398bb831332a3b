// Package note はノートの作成・一覧・更新・削除を提供する。
// 全操作は認証済みユーザー（owner）のノートに限定される。
package note

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/notely/internal/metrics"
	"github.com/hitoshi/notely/internal/model"
	"github.com/hitoshi/notely/internal/repository"
	"github.com/hitoshi/notely/internal/security"
)

const (
	// PageSize は一覧で返す最大件数。
	PageSize = 50
	// MaxTitleLength はタイトルの最大文字数。
	MaxTitleLength = 200
	// MaxBodyLength は本文の最大文字数。
	MaxBodyLength = 20000
	// MaxQueryLength は検索語の最大文字数。
	MaxQueryLength = 200
)

// CreateInput はノート作成の入力。
type CreateInput struct {
	Title string
	Body  string
}

// Service はノートのビジネスロジックを提供する。
type Service struct {
	repo      repository.NoteRepository
	sanitizer security.TextSanitizer
	metrics   metrics.MetricsCollector
	now       func() time.Time
}

// NewService はServiceを生成する。mcがnilの場合はメトリクスを記録しない。
func NewService(repo repository.NoteRepository, sanitizer security.TextSanitizer, mc metrics.MetricsCollector) *Service {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Service{
		repo:      repo,
		sanitizer: sanitizer,
		metrics:   mc,
		now:       time.Now,
	}
}

// ResolveOwner はリクエストで指定されたownerを検証し、操作対象のowner IDを返す。
// ownerは省略可能だが、指定された場合は認証済みユーザーと一致しなければならない。
func ResolveOwner(principalID, requested string) (string, error) {
	requested = strings.TrimSpace(requested)
	if requested != "" && requested != principalID {
		return "", model.NewOwnerMismatchError()
	}
	return principalID, nil
}

// Create はノートを作成する。
func (s *Service) Create(ctx context.Context, ownerID string, in CreateInput) (*model.Note, error) {
	title, err := s.cleanTitle(in.Title)
	if err != nil {
		return nil, err
	}
	body, err := s.cleanBody(in.Body)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	n := &model.Note{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Title:     title,
		Body:      body,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("failed to create note: %w", err)
	}

	s.metrics.RecordNoteOperation("create")
	return n, nil
}

// List はownerのノートを新しい順に最大PageSize件返す。
// queryが空でない場合はタイトル・本文の部分一致（大文字小文字を区別しない）で絞り込む。
func (s *Service) List(ctx context.Context, ownerID, query string) ([]*model.Note, error) {
	query = strings.TrimSpace(query)
	if utf8.RuneCountInString(query) > MaxQueryLength {
		return nil, model.NewInvalidRequestError(fmt.Sprintf("検索語が長すぎます（最大%d文字）。", MaxQueryLength))
	}

	notes, err := s.repo.ListByOwner(ctx, ownerID, query, PageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	if notes == nil {
		notes = []*model.Note{}
	}

	s.metrics.RecordNoteOperation("list")
	return notes, nil
}

// Recent はownerの最新のノートを最大limit件返す。
func (s *Service) Recent(ctx context.Context, ownerID string, limit int) ([]*model.Note, error) {
	if limit <= 0 {
		return []*model.Note{}, nil
	}
	notes, err := s.repo.ListByOwner(ctx, ownerID, "", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent notes: %w", err)
	}
	return notes, nil
}

// Update は指定されたフィールドのみを更新する。
// ownerのノートとして存在しない場合はNoteNotFoundエラーを返す。
func (s *Service) Update(ctx context.Context, ownerID, id string, patch model.NotePatch) (*model.Note, error) {
	if patch.IsEmpty() {
		return nil, model.NewInvalidRequestError("titleまたはbodyのいずれかを指定してください。")
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, model.NewNoteNotFoundError(id)
	}

	var clean model.NotePatch
	if patch.Title != nil {
		title, err := s.cleanTitle(*patch.Title)
		if err != nil {
			return nil, err
		}
		clean.Title = &title
	}
	if patch.Body != nil {
		body, err := s.cleanBody(*patch.Body)
		if err != nil {
			return nil, err
		}
		clean.Body = &body
	}

	n, err := s.repo.Update(ctx, ownerID, id, clean, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to update note: %w", err)
	}
	if n == nil {
		return nil, model.NewNoteNotFoundError(id)
	}

	s.metrics.RecordNoteOperation("update")
	return n, nil
}

// Delete はownerのノートを削除する。存在しないノートの削除も成功とする。
func (s *Service) Delete(ctx context.Context, ownerID, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return nil
	}
	if err := s.repo.Delete(ctx, ownerID, id); err != nil {
		return fmt.Errorf("failed to delete note: %w", err)
	}

	s.metrics.RecordNoteOperation("delete")
	return nil
}

func (s *Service) cleanTitle(raw string) (string, error) {
	if strings.ContainsRune(raw, 0) {
		return "", model.NewInvalidNoteError("タイトルにNUL文字が含まれています")
	}
	title := strings.TrimSpace(s.sanitize(raw))
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return "", model.NewInvalidNoteError(fmt.Sprintf("タイトルが%d文字を超えています", MaxTitleLength))
	}
	return title, nil
}

func (s *Service) cleanBody(raw string) (string, error) {
	if strings.ContainsRune(raw, 0) {
		return "", model.NewInvalidNoteError("本文にNUL文字が含まれています")
	}
	body := s.sanitize(raw)
	if utf8.RuneCountInString(body) > MaxBodyLength {
		return "", model.NewInvalidNoteError(fmt.Sprintf("本文が%d文字を超えています", MaxBodyLength))
	}
	return body, nil
}

func (s *Service) sanitize(raw string) string {
	if s.sanitizer == nil {
		return raw
	}
	return s.sanitizer.Sanitize(raw)
}
