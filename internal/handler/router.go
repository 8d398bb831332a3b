package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/notely/internal/metrics"
	"github.com/hitoshi/notely/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Authenticator     middleware.SessionAuthenticator
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger
	Metrics           metrics.MetricsCollector
	MetricsHandler    http.Handler
	HealthChecker     HealthChecker

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// ノート・質問応答
	NoteService NoteServiceInterface
	AskService  AskServiceInterface

	// ユーザー
	UserService UserServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Logging → Metrics → Recovery → SecurityHeaders → CORS → Session → RateLimit(General) → RateLimit(Ask)
//
// 認証ルート（/auth/google/*）と/health、/metricsはセッション検証の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mc := deps.Metrics
	if mc == nil {
		mc = metrics.Nop{}
	}

	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewMetricsMiddleware(mc))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	noteHandler := NewNoteHandler(deps.NoteService)
	askHandler := NewAskHandler(deps.AskService)
	userHandler := NewUserHandler(deps.UserService)
	healthHandler := NewHealthHandler(deps.HealthChecker)

	// --- 認証不要のルート ---

	r.Get("/health", healthHandler.Health)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	requireSession := middleware.NewSessionMiddleware(deps.Authenticator)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/google/exchange", authHandler.Exchange)
		if deps.AuthConfig.WebLoginEnabled {
			r.Get("/google/login", authHandler.Login)
			r.Get("/google/callback", authHandler.Callback)
		}
		// トークンが無効でも成功を返すためセッションミドルウェアを通さない
		r.Post("/logout", authHandler.Logout)

		r.With(requireSession, deps.RateLimiter.GeneralMiddleware()).Get("/me", authHandler.Me)
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(requireSession)
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// ノート管理
		r.Route("/api/notes", func(r chi.Router) {
			r.Get("/", noteHandler.List)
			r.Post("/", noteHandler.Create)
			r.Put("/{id}", noteHandler.Update)
			r.Delete("/{id}", noteHandler.Delete)
		})

		// 質問応答（質問専用レート制限を追加）
		r.With(deps.RateLimiter.AskMiddleware()).Post("/api/ask", askHandler.Ask)

		// ユーザー管理
		r.Route("/api/users", func(r chi.Router) {
			r.Delete("/me", userHandler.Withdraw)
		})
	})

	return r
}
