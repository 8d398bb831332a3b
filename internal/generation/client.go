// Package generation はOpenAI互換のチャット補完APIを使ったテキスト生成クライアントを提供する。
package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Request は生成リクエスト。
type Request struct {
	System string
	Prompt string
}

// Result は生成結果。
type Result struct {
	Text             string
	Model            string
	FinishReason     string
	PromptTokens     int64
	CompletionTokens int64
}

// Generator はテキスト生成のインターフェース。
type Generator interface {
	Generate(ctx context.Context, req Request) (*Result, error)
}

// Error は生成APIの失敗を表す。StatusCodeは応答を受け取れなかった場合0。
type Error struct {
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("generation: status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("generation: %v", e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Config は生成クライアントの設定。
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	HTTPClient  *http.Client
}

// Client はopenai-goによるGeneratorの実装。
// SDKのリトライは無効化し、失敗はそのまま呼び出し元に返す。
type Client struct {
	api         openai.Client
	model       string
	temperature float64
	maxTokens   int
}

// NewClient はClientを生成する。
func NewClient(cfg Config) *Client {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	opts = append(opts, option.WithHTTPClient(httpClient))

	return &Client{
		api:         openai.NewClient(opts...),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}
}

// Generate はプロンプトを送信し、最初の選択肢のテキストを返す。
func (c *Client) Generate(ctx context.Context, req Request) (*Result, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    messages,
		Temperature: openai.Float(c.temperature),
	}
	if c.maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(c.maxTokens))
	}

	start := time.Now()
	resp, err := c.api.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			slog.Warn("generation API returned an error",
				slog.Int("status", apiErr.StatusCode),
				slog.String("model", c.model),
				slog.String("error", err.Error()),
			)
			return nil, &Error{StatusCode: apiErr.StatusCode, Err: err}
		}
		return nil, &Error{Err: err}
	}

	if len(resp.Choices) == 0 {
		return nil, &Error{StatusCode: http.StatusOK, Err: errors.New("response has no choices")}
	}

	choice := resp.Choices[0]
	slog.Debug("generation completed",
		slog.String("model", resp.Model),
		slog.String("finish_reason", choice.FinishReason),
		slog.Int64("completion_tokens", resp.Usage.CompletionTokens),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)

	return &Result{
		Text:             strings.TrimSpace(choice.Message.Content),
		Model:            resp.Model,
		FinishReason:     choice.FinishReason,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

// compile-time interface check
var _ Generator = (*Client)(nil)
