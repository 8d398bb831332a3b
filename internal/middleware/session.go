// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/notely/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// principalContextKey はリクエストコンテキストに認証済み主体を格納するためのキー。
var principalContextKey = contextKey("principal")

// SessionAuthenticator はBearerトークンを検証して認証済み主体を返す。
type SessionAuthenticator interface {
	Authenticate(ctx context.Context, rawToken string) (*model.Principal, error)
}

// apiErrorer はクライアントに返せるエラーを持つ認証エラー。
type apiErrorer interface {
	APIError() *model.APIError
}

// BearerToken はAuthorizationヘッダーからBearerトークンを取り出す。
// ヘッダーがない、または形式が異なる場合は空文字列を返す。
func BearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// NewSessionMiddleware はAuthorization: Bearerのセッショントークンを検証するミドルウェアを返す。
// 認証済み主体をリクエストコンテキストに注入する。
// トークンがない場合は401 no_user、不正・失効・期限切れは401、ストア障害は500を返す。
func NewSessionMiddleware(authenticator SessionAuthenticator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewNoUserError())
				return
			}

			principal, err := authenticator.Authenticate(r.Context(), token)
			if err != nil {
				var ae apiErrorer
				if errors.As(err, &ae) {
					WriteErrorResponse(w, http.StatusUnauthorized, ae.APIError())
					return
				}
				slog.Error("failed to authenticate session",
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}

			setLogUserID(r.Context(), principal.UserID)
			ctx := ContextWithPrincipal(r.Context(), principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ContextWithPrincipal はコンテキストに認証済み主体を注入する。
func ContextWithPrincipal(ctx context.Context, p *model.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// PrincipalFromContext はリクエストコンテキストから認証済み主体を取得する。
func PrincipalFromContext(ctx context.Context) (*model.Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(*model.Principal)
	return p, ok && p != nil && p.UserID != ""
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return "", errors.New("user ID not found in context")
	}
	return p.UserID, nil
}

// ContextWithUserID はユーザーIDだけを持つ主体をコンテキストに注入する。
// テストで使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return ContextWithPrincipal(ctx, &model.Principal{UserID: userID})
}
