// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/notely/internal/auth"
	"github.com/hitoshi/notely/internal/middleware"
	"github.com/hitoshi/notely/internal/model"
)

const oauthStateCookie = "oauth_state"

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	GetLoginURL(state string) string
	Exchange(ctx context.Context, in auth.ExchangeInput) (*auth.SessionResult, error)
	HandleCallback(ctx context.Context, code string) (*auth.SessionResult, error)
	Logout(ctx context.Context, rawToken string) error
	GetCurrentUser(ctx context.Context, userID string) (*model.User, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieSecure bool
	// WebLoginEnabled はブラウザ向けの/auth/google/loginと/auth/google/callbackを公開するかどうか。
	WebLoginEnabled bool
}

// AuthHandler は認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		config:  config,
	}
}

type exchangeRequest struct {
	Code        string `json:"code"`
	IDToken     string `json:"idToken"`
	RedirectURI string `json:"redirectUri"`
}

type userResponse struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	PictureURL string `json:"pictureUrl,omitempty"`
	Locale     string `json:"locale,omitempty"`
}

type sessionResponse struct {
	User         userResponse `json:"user"`
	SessionToken string       `json:"sessionToken"`
	ExpiresAt    time.Time    `json:"expiresAt"`
}

type meResponse struct {
	User userResponse `json:"user"`
}

// Exchange は認可コードまたはIDトークンをセッショントークンに交換する。
// POST /auth/google/exchange
func (h *AuthHandler) Exchange(w http.ResponseWriter, r *http.Request) {
	var req exchangeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	result, err := h.service.Exchange(r.Context(), auth.ExchangeInput{
		Code:        req.Code,
		IDToken:     req.IDToken,
		RedirectURI: req.RedirectURI,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toSessionResponse(result))
}

// Login はブラウザ向けのGoogle OAuthフローを開始する。
// GET /auth/google/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	// stateをCookieに保存（CSRF対策）
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/auth/google",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.service.GetLoginURL(state), http.StatusTemporaryRedirect)
}

// Callback はOAuthコールバックを処理し、発行したセッションをJSONで返す。
// GET /auth/google/callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || stateCookie.Value != state {
		slog.Warn("oauth state mismatch", slog.String("query_state", state))
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("stateパラメータが一致しません。"))
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/auth/google",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	code := r.URL.Query().Get("code")
	if code == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewMissingCodeError())
		return
	}

	result, err := h.service.HandleCallback(r.Context(), code)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toSessionResponse(result))
}

// Logout は提示されたセッションを失効させる。
// トークンがない、または無効でも成功を返す。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Logout(r.Context(), middleware.BearerToken(r)); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

// Me は現在のログインユーザー情報を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	user, err := h.service.GetCurrentUser(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, meResponse{User: toUserResponse(user)})
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:         u.ID,
		Email:      u.Email,
		Name:       u.Name,
		PictureURL: u.PictureURL,
		Locale:     u.Locale,
	}
}

func toSessionResponse(res *auth.SessionResult) sessionResponse {
	return sessionResponse{
		User:         toUserResponse(res.User),
		SessionToken: res.Token,
		ExpiresAt:    res.ExpiresAt.UTC(),
	}
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
