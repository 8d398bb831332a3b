// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, note, upstream, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	// 認証（クレデンシャル交換）
	ErrCodeMissingCode         = "missing_code"
	ErrCodeAmbiguousCredential = "ambiguous_credential"
	ErrCodeInvalidGrant        = "invalid_grant"
	ErrCodeRedirectMismatch    = "redirect_mismatch"
	ErrCodeUnauthorizedClient  = "unauthorized_client"
	ErrCodeInvalidToken        = "invalid_token"

	// 認証（セッション）
	ErrCodeNoUser         = "no_user"
	ErrCodeInvalidSession = "invalid_session"
	ErrCodeSessionExpired = "session_expired"

	// 上流サービス
	ErrCodeUpstream = "upstream"
	ErrCodeTimeout  = "timeout"

	// ノート・質問
	ErrCodeInvalidRequest    = "invalid_request"
	ErrCodeInvalidNote       = "invalid_note"
	ErrCodeNoteNotFound      = "note_not_found"
	ErrCodeOwnerMismatch     = "owner_mismatch"
	ErrCodeMissingQuestion   = "missing_question"
	ErrCodeQuestionTooLong   = "question_too_long"
	ErrCodeUserNotFound      = "user_not_found"
	ErrCodeInternal          = "internal_error"
	ErrCodeRateLimitExceeded = "rate_limit_exceeded"
)

// NewMissingCodeError は認可コードもIDトークンも指定されていない場合のエラーを生成する。
func NewMissingCodeError() *APIError {
	return &APIError{
		Code:     ErrCodeMissingCode,
		Message:  "認可コードまたはIDトークンが指定されていません。",
		Category: "validation",
		Action:   "codeまたはidTokenのいずれか1つを指定してください。",
	}
}

// NewAmbiguousCredentialError は認可コードとIDトークンが同時に指定された場合のエラーを生成する。
func NewAmbiguousCredentialError() *APIError {
	return &APIError{
		Code:     ErrCodeAmbiguousCredential,
		Message:  "認可コードとIDトークンが同時に指定されています。",
		Category: "validation",
		Action:   "codeまたはidTokenのいずれか1つだけを指定してください。",
	}
}

// NewInvalidGrantError は認可コードが使用済み・期限切れの場合のエラーを生成する。
func NewInvalidGrantError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidGrant,
		Message:  "認可コードが無効です（使用済みまたは期限切れ）。",
		Category: "auth",
		Action:   "もう一度Googleでサインインしてください。",
	}
}

// NewRedirectMismatchError はリダイレクトURIが登録内容と一致しない場合のエラーを生成する。
func NewRedirectMismatchError() *APIError {
	return &APIError{
		Code:     ErrCodeRedirectMismatch,
		Message:  "リダイレクトURIが登録されたものと一致しません。",
		Category: "auth",
		Action:   "クライアントのサインイン設定を確認してください。",
	}
}

// NewUnauthorizedClientError はOAuthクライアント認証に失敗した場合のエラーを生成する。
func NewUnauthorizedClientError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorizedClient,
		Message:  "OAuthクライアントの認証に失敗しました。",
		Category: "auth",
		Action:   "管理者に連絡してください。",
	}
}

// NewInvalidTokenError はIDトークンの検証に失敗した場合のエラーを生成する。
func NewInvalidTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidToken,
		Message:  "IDトークンの検証に失敗しました。",
		Category: "auth",
		Action:   "もう一度Googleでサインインしてください。",
	}
}

// NewNoUserError はセッショントークンが提示されていない場合のエラーを生成する。
func NewNoUserError() *APIError {
	return &APIError{
		Code:     ErrCodeNoUser,
		Message:  "no user",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewInvalidSessionError はセッショントークンが不正または失効済みの場合のエラーを生成する。
func NewInvalidSessionError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidSession,
		Message:  "セッションが無効です。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewSessionExpiredError はセッションの有効期限が切れている場合のエラーを生成する。
func NewSessionExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionExpired,
		Message:  "セッションの有効期限が切れています。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewUpstreamError は外部サービスの障害によるエラーを生成する。
// 上流のエラー詳細はログにのみ記録し、ここには含めない。
func NewUpstreamError(service string) *APIError {
	return &APIError{
		Code:     ErrCodeUpstream,
		Message:  fmt.Sprintf("外部サービス（%s）との通信に失敗しました。", service),
		Category: "upstream",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewTimeoutError は外部サービスの応答がタイムアウトした場合のエラーを生成する。
func NewTimeoutError(service string) *APIError {
	return &APIError{
		Code:     ErrCodeTimeout,
		Message:  fmt.Sprintf("外部サービス（%s）の応答がタイムアウトしました。", service),
		Category: "upstream",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInvalidRequestError はリクエストの形式が不正な場合のエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  reason,
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// NewInvalidNoteError はノートの内容が制約を満たさない場合のエラーを生成する。
func NewInvalidNoteError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidNote,
		Message:  fmt.Sprintf("ノートの内容が不正です: %s", reason),
		Category: "validation",
		Action:   "タイトルは200文字以内、本文は20000文字以内で入力してください。",
	}
}

// NewNoteNotFoundError はノートが見つからない場合のエラーを生成する。
func NewNoteNotFoundError(noteID string) *APIError {
	return &APIError{
		Code:     ErrCodeNoteNotFound,
		Message:  fmt.Sprintf("指定されたノートが見つかりません: %s", noteID),
		Category: "note",
		Action:   "ノートIDを確認してください。",
	}
}

// NewOwnerMismatchError はリクエストのownerが認証済みユーザーと一致しない場合のエラーを生成する。
func NewOwnerMismatchError() *APIError {
	return &APIError{
		Code:     ErrCodeOwnerMismatch,
		Message:  "他のユーザーのノートにはアクセスできません。",
		Category: "auth",
		Action:   "ownerを省略するか、ログイン中のユーザーIDを指定してください。",
	}
}

// NewMissingQuestionError は質問が空の場合のエラーを生成する。
func NewMissingQuestionError() *APIError {
	return &APIError{
		Code:     ErrCodeMissingQuestion,
		Message:  "質問が指定されていません。",
		Category: "validation",
		Action:   "questionに質問内容を入力してください。",
	}
}

// NewQuestionTooLongError は質問が長すぎる場合のエラーを生成する。
func NewQuestionTooLongError(max int) *APIError {
	return &APIError{
		Code:     ErrCodeQuestionTooLong,
		Message:  fmt.Sprintf("質問が長すぎます（最大%d文字）。", max),
		Category: "validation",
		Action:   "質問を短くしてください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewInternalError は内部エラーを生成する。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewRateLimitExceededError はレート制限を超過した場合のエラーを生成する。
func NewRateLimitExceededError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimitExceeded,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "Retry-Afterの秒数だけ待ってから再度お試しください。",
	}
}
