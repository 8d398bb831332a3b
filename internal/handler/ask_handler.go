package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/notely/internal/ask"
)

// AskServiceInterface は質問応答ハンドラーが必要とするサービスインターフェース。
type AskServiceInterface interface {
	Ask(ctx context.Context, userID, question string) (*ask.Answer, error)
}

// AskHandler は質問応答のHTTPハンドラー。
type AskHandler struct {
	service AskServiceInterface
}

// NewAskHandler はAskHandlerを生成する。
func NewAskHandler(service AskServiceInterface) *AskHandler {
	return &AskHandler{service: service}
}

type askRequest struct {
	Question string `json:"question"`
}

type askResponse struct {
	Answer       string `json:"answer"`
	ContextNotes int    `json:"contextNotes"`
}

// Ask はユーザーのノートを文脈として質問に回答する。
// POST /api/ask
func (h *AskHandler) Ask(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req askRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	answer, err := h.service.Ask(r.Context(), userID, req.Question)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, askResponse{Answer: answer.Text, ContextNotes: answer.ContextNotes})
}
