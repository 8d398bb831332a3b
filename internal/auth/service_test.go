package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/notely/internal/model"
	"github.com/hitoshi/notely/internal/repository"
)

// --- モック定義 ---

type mockUserRepo struct {
	findByIDFn           func(ctx context.Context, id string) (*model.User, error)
	createWithIdentityFn func(ctx context.Context, user *model.User, identity *model.Identity) error
	updateProfileFn      func(ctx context.Context, user *model.User) error
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockUserRepo) CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error {
	if m.createWithIdentityFn != nil {
		return m.createWithIdentityFn(ctx, user, identity)
	}
	return nil
}

func (m *mockUserRepo) UpdateProfile(ctx context.Context, user *model.User) error {
	if m.updateProfileFn != nil {
		return m.updateProfileFn(ctx, user)
	}
	return nil
}

func (m *mockUserRepo) DeleteByID(_ context.Context, _ string) error {
	return nil
}

type mockIdentityRepo struct {
	findByProviderFn func(ctx context.Context, provider, providerUserID string) (*model.Identity, error)
}

func (m *mockIdentityRepo) FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error) {
	if m.findByProviderFn != nil {
		return m.findByProviderFn(ctx, provider, providerUserID)
	}
	return nil, nil
}

type mockSessionRepo struct {
	createFn         func(ctx context.Context, session *model.Session) error
	findByIDFn       func(ctx context.Context, id string) (*model.Session, error)
	revokeFn         func(ctx context.Context, id string, at time.Time) error
	deleteByUserIDFn func(ctx context.Context, userID string) error
}

func (m *mockSessionRepo) Create(ctx context.Context, session *model.Session) error {
	if m.createFn != nil {
		return m.createFn(ctx, session)
	}
	return nil
}

func (m *mockSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockSessionRepo) Revoke(ctx context.Context, id string, at time.Time) error {
	if m.revokeFn != nil {
		return m.revokeFn(ctx, id, at)
	}
	return nil
}

func (m *mockSessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	if m.deleteByUserIDFn != nil {
		return m.deleteByUserIDFn(ctx, userID)
	}
	return nil
}

type mockCodeExchanger struct {
	getLoginURLFn  func(state string) string
	exchangeCodeFn func(ctx context.Context, code, redirect string) (*ExchangeResult, error)
}

func (m *mockCodeExchanger) GetLoginURL(state string) string {
	if m.getLoginURLFn != nil {
		return m.getLoginURLFn(state)
	}
	return ""
}

func (m *mockCodeExchanger) ExchangeCode(ctx context.Context, code, redirect string) (*ExchangeResult, error) {
	if m.exchangeCodeFn != nil {
		return m.exchangeCodeFn(ctx, code, redirect)
	}
	return nil, nil
}

// --- compile-time interface checks ---
var _ repository.UserRepository = (*mockUserRepo)(nil)
var _ repository.IdentityRepository = (*mockIdentityRepo)(nil)
var _ repository.SessionRepository = (*mockSessionRepo)(nil)
var _ CodeExchanger = (*mockCodeExchanger)(nil)
var _ IDTokenVerifier = (*mockIDTokenVerifier)(nil)

// memStore はユーザー・identity・セッションをメモリ上に保持するテスト用ストア。
type memStore struct {
	mu         sync.Mutex
	users      map[string]*model.User
	identities map[string]*model.Identity // key: provider/sub
	sessions   map[string]*model.Session
}

func newMemStore() *memStore {
	return &memStore{
		users:      map[string]*model.User{},
		identities: map[string]*model.Identity{},
		sessions:   map[string]*model.Session{},
	}
}

func (s *memStore) userRepo() *mockUserRepo {
	return &mockUserRepo{
		findByIDFn: func(_ context.Context, id string) (*model.User, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			if u, ok := s.users[id]; ok {
				cp := *u
				return &cp, nil
			}
			return nil, nil
		},
		createWithIdentityFn: func(_ context.Context, u *model.User, ident *model.Identity) error {
			s.mu.Lock()
			defer s.mu.Unlock()
			cp := *u
			s.users[u.ID] = &cp
			s.identities[ident.Provider+"/"+ident.ProviderUserID] = ident
			return nil
		},
		updateProfileFn: func(_ context.Context, u *model.User) error {
			s.mu.Lock()
			defer s.mu.Unlock()
			cp := *u
			s.users[u.ID] = &cp
			return nil
		},
	}
}

func (s *memStore) identityRepo() *mockIdentityRepo {
	return &mockIdentityRepo{
		findByProviderFn: func(_ context.Context, provider, sub string) (*model.Identity, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			return s.identities[provider+"/"+sub], nil
		},
	}
}

func (s *memStore) sessionRepo() *mockSessionRepo {
	return &mockSessionRepo{
		createFn: func(_ context.Context, sess *model.Session) error {
			s.mu.Lock()
			defer s.mu.Unlock()
			cp := *sess
			s.sessions[sess.ID] = &cp
			return nil
		},
		findByIDFn: func(_ context.Context, id string) (*model.Session, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			if sess, ok := s.sessions[id]; ok {
				cp := *sess
				return &cp, nil
			}
			return nil, nil
		},
		revokeFn: func(_ context.Context, id string, at time.Time) error {
			s.mu.Lock()
			defer s.mu.Unlock()
			if sess, ok := s.sessions[id]; ok && sess.RevokedAt == nil {
				sess.RevokedAt = &at
			}
			return nil
		},
	}
}

func newTestService(store *memStore, exchanger CodeExchanger, verifier IDTokenVerifier) *Service {
	tokens := NewSessionTokens(SessionTokenConfig{Secret: "secret", Issuer: "notely", TTL: 30 * 24 * time.Hour})
	return NewService(exchanger, verifier, store.userRepo(), store.identityRepo(), store.sessionRepo(), tokens, nil)
}

func googleIdentity(sub, email string) *Identity {
	return &Identity{Provider: "google", Subject: sub, Email: email, Name: "Alice"}
}

// --- テスト ---

func TestExchange_RequiresExactlyOneCredential(t *testing.T) {
	svc := newTestService(newMemStore(), &mockCodeExchanger{}, &mockIDTokenVerifier{})

	_, err := svc.Exchange(context.Background(), ExchangeInput{})
	if KindOf(err) != KindMissingCredential {
		t.Errorf("empty input: err = %v, want %v", err, KindMissingCredential)
	}

	_, err = svc.Exchange(context.Background(), ExchangeInput{Code: "   "})
	if KindOf(err) != KindMissingCredential {
		t.Errorf("blank code: err = %v, want %v", err, KindMissingCredential)
	}

	_, err = svc.Exchange(context.Background(), ExchangeInput{Code: "c", IDToken: "t"})
	if KindOf(err) != KindAmbiguousCredential {
		t.Errorf("both: err = %v, want %v", err, KindAmbiguousCredential)
	}
}

func TestExchange_CodePath_CreatesUserAndSession(t *testing.T) {
	store := newMemStore()
	var gotRedirect string
	exchanger := &mockCodeExchanger{exchangeCodeFn: func(_ context.Context, code, redirect string) (*ExchangeResult, error) {
		gotRedirect = redirect
		return &ExchangeResult{Identity: googleIdentity("sub-1", "alice@example.com"), AccessToken: "at"}, nil
	}}
	svc := newTestService(store, exchanger, &mockIDTokenVerifier{})

	res, err := svc.Exchange(context.Background(), ExchangeInput{Code: "code", RedirectURI: "https://a.example.com/cb"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotRedirect != "https://a.example.com/cb" {
		t.Errorf("redirect = %q", gotRedirect)
	}
	if res.Token == "" || res.User == nil || res.User.Email != "alice@example.com" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(store.users) != 1 || len(store.sessions) != 1 {
		t.Errorf("users=%d sessions=%d, want 1 and 1", len(store.users), len(store.sessions))
	}
	if d := time.Until(res.ExpiresAt); d < 29*24*time.Hour || d > 31*24*time.Hour {
		t.Errorf("expiresAt is %v from now, want about 30 days", d)
	}
}

func TestExchange_StableSubjectAcrossLogins(t *testing.T) {
	store := newMemStore()
	verifier := &mockIDTokenVerifier{verifyFn: func(context.Context, string) (*Identity, error) {
		return googleIdentity("sub-1", "alice@example.com"), nil
	}}
	svc := newTestService(store, &mockCodeExchanger{}, verifier)

	first, err := svc.Exchange(context.Background(), ExchangeInput{IDToken: "t1"})
	if err != nil {
		t.Fatalf("first exchange: %v", err)
	}
	second, err := svc.Exchange(context.Background(), ExchangeInput{IDToken: "t2"})
	if err != nil {
		t.Fatalf("second exchange: %v", err)
	}

	if first.User.ID != second.User.ID {
		t.Errorf("subject changed across logins: %s != %s", first.User.ID, second.User.ID)
	}
	if len(store.users) != 1 {
		t.Errorf("users = %d, want 1", len(store.users))
	}

	p1, err := svc.Authenticate(context.Background(), first.Token)
	if err != nil {
		t.Fatalf("authenticate first: %v", err)
	}
	p2, err := svc.Authenticate(context.Background(), second.Token)
	if err != nil {
		t.Fatalf("authenticate second: %v", err)
	}
	if p1.UserID != p2.UserID || p1.SessionID == p2.SessionID {
		t.Errorf("principals = %+v / %+v", p1, p2)
	}
}

func TestExchange_RefreshesProfile(t *testing.T) {
	store := newMemStore()
	email := "old@example.com"
	verifier := &mockIDTokenVerifier{verifyFn: func(context.Context, string) (*Identity, error) {
		return googleIdentity("sub-1", email), nil
	}}
	svc := newTestService(store, &mockCodeExchanger{}, verifier)

	first, err := svc.Exchange(context.Background(), ExchangeInput{IDToken: "t"})
	if err != nil {
		t.Fatalf("first exchange: %v", err)
	}
	email = "new@example.com"
	if _, err := svc.Exchange(context.Background(), ExchangeInput{IDToken: "t"}); err != nil {
		t.Fatalf("second exchange: %v", err)
	}
	if got := store.users[first.User.ID].Email; got != "new@example.com" {
		t.Errorf("email = %q, want new@example.com", got)
	}
}

func TestExchange_ConcurrentFirstLoginUsesExistingIdentity(t *testing.T) {
	store := newMemStore()
	verifier := &mockIDTokenVerifier{verifyFn: func(context.Context, string) (*Identity, error) {
		return googleIdentity("sub-1", "alice@example.com"), nil
	}}
	svc := newTestService(store, &mockCodeExchanger{}, verifier)

	// 先行するログインがidentity検索の直後にユーザーを作成した状態を再現する
	users := store.userRepo()
	winner := &model.User{ID: "winner-user", Email: "alice@example.com", Name: "Alice"}
	var createCalls int
	users.createWithIdentityFn = func(_ context.Context, _ *model.User, ident *model.Identity) error {
		createCalls++
		store.mu.Lock()
		defer store.mu.Unlock()
		store.users[winner.ID] = winner
		store.identities[ident.Provider+"/"+ident.ProviderUserID] = &model.Identity{
			ID: "winner-identity", UserID: winner.ID, Provider: ident.Provider, ProviderUserID: ident.ProviderUserID,
		}
		return fmt.Errorf("identity already exists: %w", repository.ErrDuplicate)
	}
	svc.userRepo = users

	res, err := svc.Exchange(context.Background(), ExchangeInput{IDToken: "t"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if createCalls != 1 {
		t.Errorf("CreateWithIdentity calls = %d, want 1", createCalls)
	}
	if res.User.ID != winner.ID {
		t.Errorf("user = %s, want %s", res.User.ID, winner.ID)
	}
	if len(store.sessions) != 1 {
		t.Errorf("sessions = %d, want 1", len(store.sessions))
	}
}

func TestExchange_CreateUserFailure(t *testing.T) {
	store := newMemStore()
	verifier := &mockIDTokenVerifier{verifyFn: func(context.Context, string) (*Identity, error) {
		return googleIdentity("sub-1", "alice@example.com"), nil
	}}
	svc := newTestService(store, &mockCodeExchanger{}, verifier)
	users := store.userRepo()
	users.createWithIdentityFn = func(context.Context, *model.User, *model.Identity) error {
		return errors.New("connection reset")
	}
	svc.userRepo = users

	_, err := svc.Exchange(context.Background(), ExchangeInput{IDToken: "t"})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if KindOf(err) != KindUnknown {
		t.Errorf("kind = %v, want %v", KindOf(err), KindUnknown)
	}
}

func TestExchange_PropagatesExchangeErrors(t *testing.T) {
	exchanger := &mockCodeExchanger{exchangeCodeFn: func(context.Context, string, string) (*ExchangeResult, error) {
		return nil, newError(KindInvalidGrant, "exchange code", errors.New("400 invalid_grant"))
	}}
	store := newMemStore()
	svc := newTestService(store, exchanger, &mockIDTokenVerifier{})

	_, err := svc.Exchange(context.Background(), ExchangeInput{Code: "expired123"})
	if KindOf(err) != KindInvalidGrant {
		t.Errorf("err = %v, want %v", err, KindInvalidGrant)
	}
	if len(store.sessions) != 0 {
		t.Error("no session should be created on failure")
	}
}

func TestAuthenticate_Failures(t *testing.T) {
	store := newMemStore()
	verifier := &mockIDTokenVerifier{verifyFn: func(context.Context, string) (*Identity, error) {
		return googleIdentity("sub-1", "a@example.com"), nil
	}}
	svc := newTestService(store, &mockCodeExchanger{}, verifier)

	res, err := svc.Exchange(context.Background(), ExchangeInput{IDToken: "t"})
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}

	if _, err := svc.Authenticate(context.Background(), ""); KindOf(err) != KindNoSession {
		t.Errorf("empty token: err = %v, want %v", err, KindNoSession)
	}
	if _, err := svc.Authenticate(context.Background(), "garbage"); KindOf(err) != KindInvalidSession {
		t.Errorf("garbage token: err = %v, want %v", err, KindInvalidSession)
	}

	// 有効期限を過ぎた時刻で検証するとExpired
	svc.now = func() time.Time { return time.Now().Add(31 * 24 * time.Hour) }
	svc.tokens.now = svc.now
	if _, err := svc.Authenticate(context.Background(), res.Token); KindOf(err) != KindSessionExpired {
		t.Errorf("expired token: err = %v, want %v", err, KindSessionExpired)
	}
}

func TestAuthenticate_SessionRowExpiredBeforeToken(t *testing.T) {
	store := newMemStore()
	verifier := &mockIDTokenVerifier{verifyFn: func(context.Context, string) (*Identity, error) {
		return googleIdentity("sub-1", "a@example.com"), nil
	}}
	svc := newTestService(store, &mockCodeExchanger{}, verifier)

	res, err := svc.Exchange(context.Background(), ExchangeInput{IDToken: "t"})
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	for _, s := range store.sessions {
		s.ExpiresAt = time.Now().Add(-time.Minute)
	}

	if _, err := svc.Authenticate(context.Background(), res.Token); KindOf(err) != KindSessionExpired {
		t.Errorf("err = %v, want %v", err, KindSessionExpired)
	}
}

func TestAuthenticate_StoreFailureIsNotAuthError(t *testing.T) {
	store := newMemStore()
	verifier := &mockIDTokenVerifier{verifyFn: func(context.Context, string) (*Identity, error) {
		return googleIdentity("sub-1", "a@example.com"), nil
	}}
	svc := newTestService(store, &mockCodeExchanger{}, verifier)
	res, err := svc.Exchange(context.Background(), ExchangeInput{IDToken: "t"})
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}

	svc.sessionRepo = &mockSessionRepo{findByIDFn: func(context.Context, string) (*model.Session, error) {
		return nil, errors.New("connection reset")
	}}
	_, err = svc.Authenticate(context.Background(), res.Token)
	if err == nil {
		t.Fatal("expected error")
	}
	if KindOf(err) != KindUnknown {
		t.Errorf("store failure should not be classified as auth failure, got %v", KindOf(err))
	}
}

func TestLogout_RevokesSession(t *testing.T) {
	store := newMemStore()
	verifier := &mockIDTokenVerifier{verifyFn: func(context.Context, string) (*Identity, error) {
		return googleIdentity("sub-1", "a@example.com"), nil
	}}
	svc := newTestService(store, &mockCodeExchanger{}, verifier)

	res, err := svc.Exchange(context.Background(), ExchangeInput{IDToken: "t"})
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}

	if err := svc.Logout(context.Background(), res.Token); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := svc.Authenticate(context.Background(), res.Token); KindOf(err) != KindInvalidSession {
		t.Errorf("revoked token: err = %v, want %v", err, KindInvalidSession)
	}

	// 無効なトークンや空トークンでもエラーにしない
	if err := svc.Logout(context.Background(), "garbage"); err != nil {
		t.Errorf("logout with garbage token: %v", err)
	}
	if err := svc.Logout(context.Background(), ""); err != nil {
		t.Errorf("logout with empty token: %v", err)
	}
}

func TestGetCurrentUser(t *testing.T) {
	store := newMemStore()
	store.users["u-1"] = &model.User{ID: "u-1", Email: "a@example.com"}
	svc := newTestService(store, &mockCodeExchanger{}, &mockIDTokenVerifier{})

	user, err := svc.GetCurrentUser(context.Background(), "u-1")
	if err != nil || user.Email != "a@example.com" {
		t.Fatalf("GetCurrentUser = %+v, %v", user, err)
	}

	_, err = svc.GetCurrentUser(context.Background(), "missing")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeUserNotFound {
		t.Errorf("err = %v, want user_not_found", err)
	}
}

func TestGetLoginURL_DelegatesToExchanger(t *testing.T) {
	exchanger := &mockCodeExchanger{getLoginURLFn: func(state string) string {
		return "https://accounts.google.com/o/oauth2/auth?state=" + state
	}}
	svc := newTestService(newMemStore(), exchanger, nil)

	if got := svc.GetLoginURL("s1"); got != "https://accounts.google.com/o/oauth2/auth?state=s1" {
		t.Errorf("GetLoginURL = %q", got)
	}
}
