package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/notely/internal/model"
	"github.com/hitoshi/notely/internal/note"
)

// NoteServiceInterface はノートハンドラーが必要とするサービスインターフェース。
type NoteServiceInterface interface {
	Create(ctx context.Context, ownerID string, in note.CreateInput) (*model.Note, error)
	List(ctx context.Context, ownerID, query string) ([]*model.Note, error)
	Update(ctx context.Context, ownerID, id string, patch model.NotePatch) (*model.Note, error)
	Delete(ctx context.Context, ownerID, id string) error
}

// NoteHandler はノートのHTTPハンドラー。
type NoteHandler struct {
	service NoteServiceInterface
}

// NewNoteHandler はNoteHandlerを生成する。
func NewNoteHandler(service NoteServiceInterface) *NoteHandler {
	return &NoteHandler{service: service}
}

// createNoteRequest はノート作成リクエストのボディ。ownerは省略可能。
type createNoteRequest struct {
	Owner string `json:"owner"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

// updateNoteRequest はノート更新リクエストのボディ。指定されたフィールドのみ更新する。
type updateNoteRequest struct {
	Owner string  `json:"owner"`
	Title *string `json:"title"`
	Body  *string `json:"body"`
}

type noteResponse struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// List はノート一覧を返す。
// GET /api/notes?q=&owner=
func (h *NoteHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	ownerID, err := note.ResolveOwner(userID, r.URL.Query().Get("owner"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	notes, err := h.service.List(r.Context(), ownerID, r.URL.Query().Get("q"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]noteResponse, len(notes))
	for i, n := range notes {
		resp[i] = toNoteResponse(n)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Create はノートを作成する。
// POST /api/notes
func (h *NoteHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req createNoteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}
	ownerID, err := note.ResolveOwner(userID, req.Owner)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	n, err := h.service.Create(r.Context(), ownerID, note.CreateInput{Title: req.Title, Body: req.Body})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toNoteResponse(n))
}

// Update はノートを部分更新する。
// PUT /api/notes/{id}
func (h *NoteHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req updateNoteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}
	ownerID, err := note.ResolveOwner(userID, req.Owner)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	n, err := h.service.Update(r.Context(), ownerID, chi.URLParam(r, "id"), model.NotePatch{
		Title: req.Title,
		Body:  req.Body,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toNoteResponse(n))
}

// Delete はノートを削除する。存在しないノートでも成功を返す。
// DELETE /api/notes/{id}
func (h *NoteHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func toNoteResponse(n *model.Note) noteResponse {
	return noteResponse{
		ID:        n.ID,
		Owner:     n.OwnerID,
		Title:     n.Title,
		Body:      n.Body,
		CreatedAt: n.CreatedAt.UTC(),
		UpdatedAt: n.UpdatedAt.UTC(),
	}
}
