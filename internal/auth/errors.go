package auth

import (
	"errors"
	"fmt"

	"github.com/hitoshi/notely/internal/model"
)

// ErrorKind は認証失敗の種類を表す。
// OAuthライブラリのエラー形式に依存せず、HTTPステータスへの対応付けに使う。
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// クレデンシャル交換
	KindMissingCredential
	KindAmbiguousCredential
	KindInvalidGrant
	KindRedirectMismatch
	KindUnauthorizedClient
	KindInvalidToken
	KindUpstreamUnavailable
	KindTokenRequestRejected
	// セッション検証
	KindNoSession
	KindInvalidSession
	KindSessionExpired
)

var kindNames = map[ErrorKind]string{
	KindUnknown:              "unknown",
	KindMissingCredential:    "missing_credential",
	KindAmbiguousCredential:  "ambiguous_credential",
	KindInvalidGrant:         "invalid_grant",
	KindRedirectMismatch:     "redirect_mismatch",
	KindUnauthorizedClient:   "unauthorized_client",
	KindInvalidToken:         "invalid_token",
	KindUpstreamUnavailable:  "upstream_unavailable",
	KindTokenRequestRejected: "token_request_rejected",
	KindNoSession:            "no_session",
	KindInvalidSession:       "invalid_session",
	KindSessionExpired:       "session_expired",
}

func (k ErrorKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Error は認証処理のエラー。
// Opは失敗した処理名、Errは原因（ログ用）を保持する。
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("auth: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("auth: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable は同じ入力で再試行すれば成功しうるかを返す。
func (e *Error) Retryable() bool {
	return e.Kind == KindUpstreamUnavailable
}

// APIError はクライアントに返す統一エラーフォーマットに変換する。
func (e *Error) APIError() *model.APIError {
	switch e.Kind {
	case KindMissingCredential:
		return model.NewMissingCodeError()
	case KindAmbiguousCredential:
		return model.NewAmbiguousCredentialError()
	case KindInvalidGrant:
		return model.NewInvalidGrantError()
	case KindRedirectMismatch:
		return model.NewRedirectMismatchError()
	case KindUnauthorizedClient:
		return model.NewUnauthorizedClientError()
	case KindInvalidToken:
		return model.NewInvalidTokenError()
	case KindUpstreamUnavailable, KindTokenRequestRejected:
		return model.NewUpstreamError("Google")
	case KindNoSession:
		return model.NewNoUserError()
	case KindInvalidSession:
		return model.NewInvalidSessionError()
	case KindSessionExpired:
		return model.NewSessionExpiredError()
	default:
		return model.NewInternalError()
	}
}

// KindOf はエラーチェーン中の*ErrorのKindを返す。見つからない場合はKindUnknown。
func KindOf(err error) ErrorKind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindUnknown
}

func newError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}
