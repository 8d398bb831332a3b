package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/notely/internal/middleware"
	"github.com/hitoshi/notely/internal/model"
)

// maxRequestBodyBytes はJSONリクエストボディの上限。本文20000文字のノートを余裕を持って受け付ける。
const maxRequestBodyBytes = 1 << 20

// apiErrorer はクライアントに返せるエラーを持つドメインエラー（auth.Errorなど）。
type apiErrorer interface {
	APIError() *model.APIError
}

// okResponse は処理結果のみを返すレスポンス。
type okResponse struct {
	OK bool `json:"ok"`
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}

// decodeJSON はリクエストボディをvにデコードする。空のボディはゼロ値として扱う。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return model.NewInvalidRequestError(fmt.Sprintf("リクエストボディが大きすぎます（最大%dバイト）。", maxErr.Limit))
		}
		return model.NewInvalidRequestError("リクエストボディの解析に失敗しました。")
	}
	return nil
}

// requireUserID はセッションミドルウェアが注入したユーザーIDを返す。
// 取得できない場合は401を書き込みfalseを返す。
func requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewNoUserError())
		return "", false
	}
	return userID, true
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	var ae apiErrorer
	if errors.As(err, &ae) {
		apiErr := ae.APIError()
		status := mapAPIErrorToHTTPStatus(apiErr)
		if status >= http.StatusInternalServerError {
			slog.Error("upstream failure", slog.String("code", apiErr.Code), slog.String("error", err.Error()))
		} else {
			slog.Info("request rejected", slog.String("code", apiErr.Code), slog.String("error", err.Error()))
		}
		writeAPIErrorResponse(w, status, apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeMissingCode, model.ErrCodeAmbiguousCredential,
		model.ErrCodeInvalidGrant, model.ErrCodeRedirectMismatch:
		return http.StatusBadRequest
	case model.ErrCodeUnauthorizedClient, model.ErrCodeInvalidToken:
		return http.StatusUnauthorized
	case model.ErrCodeNoUser, model.ErrCodeInvalidSession, model.ErrCodeSessionExpired:
		return http.StatusUnauthorized
	case model.ErrCodeInvalidRequest, model.ErrCodeInvalidNote,
		model.ErrCodeMissingQuestion, model.ErrCodeQuestionTooLong:
		return http.StatusBadRequest
	case model.ErrCodeOwnerMismatch:
		return http.StatusForbidden
	case model.ErrCodeNoteNotFound, model.ErrCodeUserNotFound:
		return http.StatusNotFound
	case model.ErrCodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case model.ErrCodeUpstream:
		return http.StatusBadGateway
	case model.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
