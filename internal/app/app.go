package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/notely/internal/ask"
	"github.com/hitoshi/notely/internal/auth"
	"github.com/hitoshi/notely/internal/config"
	"github.com/hitoshi/notely/internal/database"
	"github.com/hitoshi/notely/internal/generation"
	"github.com/hitoshi/notely/internal/handler"
	"github.com/hitoshi/notely/internal/logger"
	"github.com/hitoshi/notely/internal/metrics"
	"github.com/hitoshi/notely/internal/middleware"
	"github.com/hitoshi/notely/internal/note"
	"github.com/hitoshi/notely/internal/repository"
	"github.com/hitoshi/notely/internal/security"
	"github.com/hitoshi/notely/internal/user"
	"github.com/hitoshi/notely/internal/worker/cleanup"
)

// cleanupInterval はワーカーモードでセッションクリーンアップを実行する間隔。
const cleanupInterval = 6 * time.Hour

// Init はアプリケーションの初期化を行う。
// .envファイルがあれば読み込み、JSON構造化ログをセットアップしてから環境変数のConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. .envの読み込み（存在しない場合は無視。既存の環境変数は上書きしない）
	envErr := godotenv.Load()

	// 2. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	if envErr != nil && !errors.Is(envErr, fs.ErrNotExist) {
		slog.Warn(".envファイルの読み込みに失敗しました", slog.String("error", envErr.Error()))
	}

	// 3. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.SessionSecretGenerated {
		slog.Warn("SESSION_SECRETが未設定のためランダムな署名鍵を生成しました。再起動すると既存のセッションは無効になります")
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg, ParseMigrateDirection(args))
	default:
		return runServe(cfg)
	}
}

// openDatabase はDB接続を開き、到達できることを確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := database.Ping(context.Background(), db, cfg.DBQueryTimeout); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// server はserveモードで構築したHTTPハンドラーと後始末処理をまとめたもの。
type server struct {
	handler     http.Handler
	rateLimiter *middleware.RateLimiter
}

// Close はバックグラウンド処理を停止する。
func (s *server) Close() {
	s.rateLimiter.Stop()
}

// newServer は全依存関係をワイヤリングしたHTTPハンドラーを構築する。
// dbへの接続は行わない。
func newServer(ctx context.Context, cfg *config.Config, db *sql.DB) (*server, error) {
	// 1. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db, cfg.DBQueryTimeout)
	identRepo := repository.NewPostgresIdentityRepo(db, cfg.DBQueryTimeout)
	sessionRepo := repository.NewPostgresSessionRepo(db, cfg.DBQueryTimeout)
	noteRepo := repository.NewPostgresNoteRepo(db, cfg.DBQueryTimeout)

	// 2. メトリクスの初期化
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mc := metrics.NewCollector(reg)

	// 3. 認証サービスの初期化
	verifier, err := auth.NewGoogleIDTokenVerifier(ctx, cfg.GoogleClientID, nil)
	if err != nil {
		return nil, err
	}
	oauthProvider := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		Redirect: auth.RedirectPolicy{
			Mode:        cfg.GoogleRedirectMode,
			RedirectURL: cfg.GoogleRedirectURL,
			Allowed:     cfg.GoogleAllowedRedirectURLs,
		},
	}, verifier)
	tokens := auth.NewSessionTokens(auth.SessionTokenConfig{
		Secret: cfg.SessionSecret,
		Issuer: cfg.SessionIssuer,
		TTL:    cfg.SessionTTL,
	})
	authService := auth.NewService(oauthProvider, verifier, userRepo, identRepo, sessionRepo, tokens, mc)

	// 4. ドメインサービスの初期化
	noteService := note.NewService(noteRepo, security.NewTextSanitizer(), mc)

	generator := generation.NewClient(generation.Config{
		APIKey:      cfg.GenerationAPIKey,
		BaseURL:     cfg.GenerationBaseURL,
		Model:       cfg.GenerationModel,
		Temperature: cfg.GenerationTemperature,
		MaxTokens:   cfg.GenerationMaxTokens,
	})
	askService := ask.NewService(noteService, generator, ask.Config{
		ContextNotes: cfg.AskContextNotes,
		ContextChars: cfg.AskContextChars,
		Timeout:      cfg.GenerationTimeout,
	}, mc)

	userService := user.NewService(userRepo, sessionRepo, noteRepo)

	// 5. ルーターの構築（RATE_LIMIT_*はreq/min単位）
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitAsk),
	)

	router := handler.NewRouter(&handler.RouterDeps{
		Authenticator:     authService,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            slog.Default(),
		Metrics:           mc,
		MetricsHandler:    metrics.Handler(reg),
		HealthChecker:     db,

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			CookieSecure:    cfg.CookieSecure,
			WebLoginEnabled: cfg.GoogleRedirectMode == config.RedirectModeWebRedirect,
		},

		NoteService: noteService,
		AskService:  askService,
		UserService: userService,
	})

	return &server{handler: router, rateLimiter: rateLimiter}, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	srv, err := newServer(context.Background(), cfg, db)
	if err != nil {
		return fmt.Errorf("failed to build server: %w", err)
	}
	defer srv.Close()

	// 生成APIの待ち時間より短く切らないようにWriteTimeoutを延ばす
	httpServer := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      srv.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.GenerationTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", httpServer.Addr),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-stop:
	case err := <-errCh:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、期限切れセッションのクリーンアップを定期実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	cleanupJob := cleanup.NewCleanupJob(db, slog.Default())
	cleanupJob.RetentionDays = cfg.SessionRetentionDays

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cleanupInterval),
		slog.Int("session_retention_days", cfg.SessionRetentionDays),
	)

	// ctxがキャンセルされるまでブロックする
	cleanupJob.Start(ctx, cleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// upは未適用のマイグレーションをすべて適用し、downは1つ戻し、versionは現在のバージョンを表示する。
func runMigrate(cfg *config.Config, direction MigrateDirection) error {
	slog.Info("running database migrations",
		slog.String("direction", string(direction)),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	switch direction {
	case MigrateDown:
		if err := database.RollbackMigration(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration rollback failed: %w", err)
		}
	case MigrateVersion:
		v, dirty, err := database.SchemaVersion(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}
		slog.Info("current schema version", slog.Uint64("version", uint64(v)), slog.Bool("dirty", dirty))
		return nil
	default:
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
