package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Google OAuthのリダイレクト規約。
const (
	RedirectModeServerAuthCode = "serverAuthCode"
	RedirectModeInstalledApp   = "installedApp"
	RedirectModeWebRedirect    = "webRedirect"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL    string
	DBQueryTimeout time.Duration

	// OAuth
	GoogleClientID            string
	GoogleClientSecret        string
	GoogleRedirectMode        string
	GoogleRedirectURL         string
	GoogleAllowedRedirectURLs []string

	// Session
	SessionSecret          string
	SessionSecretGenerated bool
	SessionTTL             time.Duration
	SessionIssuer          string
	SessionRetentionDays   int

	// Generation
	GenerationAPIKey      string
	GenerationBaseURL     string
	GenerationModel       string
	GenerationTemperature float64
	GenerationMaxTokens   int
	GenerationTimeout     time.Duration

	// Ask
	AskContextNotes int
	AskContextChars int

	// Rate Limit
	RateLimitGeneral int
	RateLimitAsk     int

	// Logging
	LogLevel string

	// Server
	ServerPort string
	BaseURL    string

	// Cookie（webRedirectモードのstate用）
	CookieSecure bool

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
// SESSION_SECRETが未設定の場合はランダムな鍵を生成し、SessionSecretGeneratedをtrueにする。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.GoogleClientID = os.Getenv("GOOGLE_CLIENT_ID")
	if cfg.GoogleClientID == "" {
		missing = append(missing, "GOOGLE_CLIENT_ID")
	}

	cfg.GoogleClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	if cfg.GoogleClientSecret == "" {
		missing = append(missing, "GOOGLE_CLIENT_SECRET")
	}

	cfg.GenerationAPIKey = os.Getenv("GENERATION_API_KEY")
	if cfg.GenerationAPIKey == "" {
		missing = append(missing, "GENERATION_API_KEY")
	}

	cfg.GoogleRedirectMode = getEnvString("GOOGLE_REDIRECT_MODE", RedirectModeServerAuthCode)
	cfg.GoogleRedirectURL = os.Getenv("GOOGLE_REDIRECT_URL")
	if cfg.GoogleRedirectMode == RedirectModeWebRedirect && cfg.GoogleRedirectURL == "" {
		missing = append(missing, "GOOGLE_REDIRECT_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	switch cfg.GoogleRedirectMode {
	case RedirectModeServerAuthCode, RedirectModeInstalledApp, RedirectModeWebRedirect:
	default:
		return nil, fmt.Errorf("invalid GOOGLE_REDIRECT_MODE: %q", cfg.GoogleRedirectMode)
	}

	cfg.SessionSecret = os.Getenv("SESSION_SECRET")
	if cfg.SessionSecret == "" {
		secret, err := generateSecret()
		if err != nil {
			return nil, fmt.Errorf("generate session secret: %w", err)
		}
		cfg.SessionSecret = secret
		cfg.SessionSecretGenerated = true
	}

	// Optional fields with defaults
	cfg.GoogleAllowedRedirectURLs = getEnvList("GOOGLE_ALLOWED_REDIRECT_URLS")
	cfg.DBQueryTimeout = getEnvDuration("DB_QUERY_TIMEOUT", 5*time.Second)
	cfg.SessionTTL = getEnvDuration("SESSION_TTL", 30*24*time.Hour)
	cfg.SessionIssuer = getEnvString("SESSION_ISSUER", "notely")
	cfg.SessionRetentionDays = getEnvInt("SESSION_RETENTION_DAYS", 7)
	cfg.GenerationBaseURL = getEnvString("GENERATION_BASE_URL", "https://api.openai.com/v1/")
	cfg.GenerationModel = getEnvString("GENERATION_MODEL", "gpt-4o-mini")
	cfg.GenerationTemperature = getEnvFloat("GENERATION_TEMPERATURE", 0.2)
	cfg.GenerationMaxTokens = getEnvInt("GENERATION_MAX_TOKENS", 800)
	cfg.GenerationTimeout = getEnvDuration("GENERATION_TIMEOUT", 60*time.Second)
	cfg.AskContextNotes = getEnvInt("ASK_CONTEXT_NOTES", 50)
	cfg.AskContextChars = getEnvInt("ASK_CONTEXT_CHARS", 12000)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitAsk = getEnvInt("RATE_LIMIT_ASK", 10)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.BaseURL = getEnvString("BASE_URL", "http://localhost:"+cfg.ServerPort)
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "*")

	return cfg, nil
}

func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// getEnvList はカンマ区切りの環境変数を空要素を除いたスライスとして返す。
func getEnvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
