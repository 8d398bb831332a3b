// Package auth はGoogleクレデンシャルの交換とセッションの発行・検証を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/notely/internal/metrics"
	"github.com/hitoshi/notely/internal/model"
	"github.com/hitoshi/notely/internal/repository"
)

// ExchangeResult は認可コード交換の結果。
// AccessTokenは呼び出し元に返さず、永続化もしない。
type ExchangeResult struct {
	Identity    *Identity
	AccessToken string
}

// CodeExchanger は認可コードを検証済みIdentityに交換する。
type CodeExchanger interface {
	// GetLoginURL はブラウザ向けの認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードを交換する。requestedRedirectはクライアントが指定したredirect_uri。
	ExchangeCode(ctx context.Context, code, requestedRedirect string) (*ExchangeResult, error)
}

// IDTokenVerifier はIDトークンを検証する。
type IDTokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (*Identity, error)
}

// ExchangeInput はクレデンシャル交換の入力。CodeとIDTokenのどちらか一方のみを指定する。
type ExchangeInput struct {
	Code        string
	IDToken     string
	RedirectURI string
}

// SessionResult は発行したセッションを表す。
type SessionResult struct {
	User      *model.User
	Token     string
	ExpiresAt time.Time
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	exchanger   CodeExchanger
	verifier    IDTokenVerifier
	userRepo    repository.UserRepository
	identRepo   repository.IdentityRepository
	sessionRepo repository.SessionRepository
	tokens      *SessionTokens
	metrics     metrics.MetricsCollector
	now         func() time.Time
}

// NewService はServiceを生成する。mcがnilの場合はメトリクスを記録しない。
func NewService(
	exchanger CodeExchanger,
	verifier IDTokenVerifier,
	userRepo repository.UserRepository,
	identRepo repository.IdentityRepository,
	sessionRepo repository.SessionRepository,
	tokens *SessionTokens,
	mc metrics.MetricsCollector,
) *Service {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Service{
		exchanger:   exchanger,
		verifier:    verifier,
		userRepo:    userRepo,
		identRepo:   identRepo,
		sessionRepo: sessionRepo,
		tokens:      tokens,
		metrics:     mc,
		now:         time.Now,
	}
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) string {
	return s.exchanger.GetLoginURL(state)
}

// Exchange は認可コードまたはIDトークンを検証し、セッションを発行する。
// 未登録のIdPアカウントの場合はusersとidentitiesを同時に作成する。
func (s *Service) Exchange(ctx context.Context, in ExchangeInput) (*SessionResult, error) {
	result, err := s.exchange(ctx, in)
	if err != nil {
		s.metrics.RecordExchange(exchangeOutcome(err))
		return nil, err
	}
	s.metrics.RecordExchange("success")
	return result, nil
}

func (s *Service) exchange(ctx context.Context, in ExchangeInput) (*SessionResult, error) {
	code := strings.TrimSpace(in.Code)
	rawIDToken := strings.TrimSpace(in.IDToken)

	var (
		identity *Identity
		err      error
	)
	switch {
	case code != "" && rawIDToken != "":
		return nil, newError(KindAmbiguousCredential, "exchange", nil)
	case code != "":
		var res *ExchangeResult
		res, err = s.exchanger.ExchangeCode(ctx, code, strings.TrimSpace(in.RedirectURI))
		if res != nil {
			identity = res.Identity
		}
	case rawIDToken != "":
		identity, err = s.verifier.Verify(ctx, rawIDToken)
	default:
		return nil, newError(KindMissingCredential, "exchange", nil)
	}
	if err != nil {
		return nil, err
	}

	user, err := s.resolveUser(ctx, identity)
	if err != nil {
		return nil, err
	}

	return s.issueSession(ctx, user)
}

// HandleCallback はwebRedirectフローのコールバックで受け取った認可コードを処理する。
func (s *Service) HandleCallback(ctx context.Context, code string) (*SessionResult, error) {
	return s.Exchange(ctx, ExchangeInput{Code: code})
}

// resolveUser はIdentityに対応するローカルユーザーを返す。
// 既存ユーザーの場合はプロフィールを最新化する。
func (s *Service) resolveUser(ctx context.Context, identity *Identity) (*model.User, error) {
	ident, err := s.identRepo.FindByProviderAndProviderUserID(ctx, identity.Provider, identity.Subject)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}

	now := s.now()

	if ident == nil {
		user := &model.User{
			ID:         uuid.NewString(),
			Email:      identity.Email,
			Name:       identity.Name,
			PictureURL: identity.Picture,
			Locale:     identity.Locale,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		newIdentity := &model.Identity{
			ID:             uuid.NewString(),
			UserID:         user.ID,
			Provider:       identity.Provider,
			ProviderUserID: identity.Subject,
			CreatedAt:      now,
		}
		err := s.userRepo.CreateWithIdentity(ctx, user, newIdentity)
		if err == nil {
			slog.Info("new user created",
				slog.String("user_id", user.ID),
				slog.String("provider", identity.Provider),
			)
			return user, nil
		}
		if !errors.Is(err, repository.ErrDuplicate) {
			return nil, fmt.Errorf("failed to create user and identity: %w", err)
		}

		// 同じアカウントの初回ログインが並行し、先に作成されたidentityを使う
		ident, err = s.identRepo.FindByProviderAndProviderUserID(ctx, identity.Provider, identity.Subject)
		if err != nil {
			return nil, fmt.Errorf("failed to find identity after duplicate: %w", err)
		}
		if ident == nil {
			return nil, fmt.Errorf("identity %s/%s reported duplicate but not found", identity.Provider, identity.Subject)
		}
	}

	user, err := s.userRepo.FindByID(ctx, ident.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("identity %s points to missing user %s", ident.ID, ident.UserID)
	}

	if profileChanged(user, identity) {
		user.Email = identity.Email
		user.Name = identity.Name
		user.PictureURL = identity.Picture
		user.Locale = identity.Locale
		user.UpdatedAt = now
		if err := s.userRepo.UpdateProfile(ctx, user); err != nil {
			return nil, fmt.Errorf("failed to update user profile: %w", err)
		}
	}

	slog.Info("existing user logged in",
		slog.String("user_id", user.ID),
		slog.String("provider", identity.Provider),
	)
	return user, nil
}

func profileChanged(u *model.User, id *Identity) bool {
	return u.Email != id.Email || u.Name != id.Name || u.PictureURL != id.Picture || u.Locale != id.Locale
}

// issueSession はsessions行を作成し、対応するトークンを発行する。
func (s *Service) issueSession(ctx context.Context, user *model.User) (*SessionResult, error) {
	now := s.now()
	session := &model.Session{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		ExpiresAt: now.Add(s.tokens.TTL()),
		CreatedAt: now,
	}

	token, err := s.tokens.Issue(user, session.ID, now, session.ExpiresAt)
	if err != nil {
		return nil, err
	}
	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return &SessionResult{User: user, Token: token, ExpiresAt: session.ExpiresAt}, nil
}

// Authenticate はセッショントークンを検証し、認証済みの主体を返す。
// トークンの署名・発行者・有効期限を確認した後、sessions行が存在し失効・期限切れでないことを確認する。
func (s *Service) Authenticate(ctx context.Context, rawToken string) (*model.Principal, error) {
	principal, err := s.authenticate(ctx, rawToken)
	if err != nil {
		if k := KindOf(err); k != KindUnknown {
			s.metrics.RecordSessionRejected(k.String())
		}
		return nil, err
	}
	return principal, nil
}

func (s *Service) authenticate(ctx context.Context, rawToken string) (*model.Principal, error) {
	if rawToken == "" {
		return nil, newError(KindNoSession, "authenticate", nil)
	}

	claims, err := s.tokens.Parse(rawToken)
	if err != nil {
		return nil, err
	}

	session, err := s.sessionRepo.FindByID(ctx, claims.Sid)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil || session.UserID != claims.Subject || session.RevokedAt != nil {
		return nil, newError(KindInvalidSession, "authenticate", errors.New("session not found or revoked"))
	}
	if !session.ExpiresAt.After(s.now()) {
		return nil, newError(KindSessionExpired, "authenticate", errors.New("session row expired"))
	}

	return &model.Principal{
		UserID:    claims.Subject,
		Email:     claims.Email,
		SessionID: claims.Sid,
	}, nil
}

// Logout はトークンが有効であればセッションを失効させる。
// 無効なトークンでもエラーにはしない。
func (s *Service) Logout(ctx context.Context, rawToken string) error {
	if rawToken == "" {
		return nil
	}
	claims, err := s.tokens.Parse(rawToken)
	if err != nil {
		return nil
	}
	if err := s.sessionRepo.Revoke(ctx, claims.Sid, s.now()); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}

	slog.Info("user logged out", slog.String("user_id", claims.Subject))
	return nil
}

// GetCurrentUser は認証済みユーザーの情報を取得する。
func (s *Service) GetCurrentUser(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

func exchangeOutcome(err error) string {
	if k := KindOf(err); k != KindUnknown {
		return k.String()
	}
	return "internal_error"
}
