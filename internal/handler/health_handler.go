package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

const healthCheckTimeout = 2 * time.Second

// HealthChecker はデータベースの疎通確認インターフェース。*sql.DBが満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// HealthHandler はヘルスチェックのHTTPハンドラー。
type HealthHandler struct {
	checker HealthChecker
}

// NewHealthHandler はHealthHandlerを生成する。checkerがnilの場合は常に正常を返す。
func NewHealthHandler(checker HealthChecker) *HealthHandler {
	return &HealthHandler{checker: checker}
}

// Health はデータベースに到達できれば200、できなければ503を返す。
// GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.checker != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		if err := h.checker.PingContext(ctx); err != nil {
			slog.Warn("health check failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusServiceUnavailable, okResponse{OK: false})
			return
		}
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}
