// Package ask はユーザーのノートを文脈として質問に回答する機能を提供する。
package ask

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/notely/internal/generation"
	"github.com/hitoshi/notely/internal/metrics"
	"github.com/hitoshi/notely/internal/model"
)

// MaxQuestionLength は質問の最大文字数。
const MaxQuestionLength = 2000

const generationServiceName = "テキスト生成API"

const systemPrompt = `You are a helpful assistant answering questions about the user's personal notes.
Use only the notes provided as context. If the notes do not contain the answer, say so briefly.
Answer in the same language as the question. Do not list sources.`

// NoteSource は文脈に使うノートを取得する。
type NoteSource interface {
	// Recent はownerの最新のノートを新しい順に最大limit件返す。
	Recent(ctx context.Context, ownerID string, limit int) ([]*model.Note, error)
}

// Config は回答生成の設定。
type Config struct {
	ContextNotes int           // 文脈に使う最大ノート数
	ContextChars int           // 文脈の最大文字数
	Timeout      time.Duration // 生成APIの応答待ち上限
}

// Answer は質問への回答。
type Answer struct {
	Text         string
	ContextNotes int
}

// Service は質問応答のサービス。
type Service struct {
	notes     NoteSource
	generator generation.Generator
	cfg       Config
	metrics   metrics.MetricsCollector
}

// NewService はServiceを生成する。mcがnilの場合はメトリクスを記録しない。
func NewService(notes NoteSource, generator generation.Generator, cfg Config, mc metrics.MetricsCollector) *Service {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Service{notes: notes, generator: generator, cfg: cfg, metrics: mc}
}

// Ask はuserIDの最新ノートを文脈として質問に回答する。
// ノートが1件もない場合も空の文脈で回答を生成する。
func (s *Service) Ask(ctx context.Context, userID, question string) (*Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, model.NewMissingQuestionError()
	}
	if utf8.RuneCountInString(question) > MaxQuestionLength {
		return nil, model.NewQuestionTooLongError(MaxQuestionLength)
	}

	notes, err := s.notes.Recent(ctx, userID, s.cfg.ContextNotes)
	if err != nil {
		return nil, fmt.Errorf("failed to load context notes: %w", err)
	}
	noteContext, used := BuildContext(notes, s.cfg.ContextChars)

	genCtx := ctx
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := s.generator.Generate(genCtx, generation.Request{
		System: systemPrompt,
		Prompt: BuildPrompt(noteContext, question),
	})
	elapsed := time.Since(start)
	if err != nil {
		if isTimeout(genCtx, err) {
			s.metrics.RecordGeneration("timeout", elapsed)
			slog.Warn("generation timed out",
				slog.String("user_id", userID),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
			return nil, model.NewTimeoutError(generationServiceName)
		}
		s.metrics.RecordGeneration("upstream_error", elapsed)
		slog.Error("generation failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewUpstreamError(generationServiceName)
	}

	s.metrics.RecordGeneration("success", elapsed)
	slog.Info("question answered",
		slog.String("user_id", userID),
		slog.Int("context_notes", used),
		slog.Int("context_chars", utf8.RuneCountInString(noteContext)),
		slog.String("finish_reason", res.FinishReason),
	)

	return &Answer{Text: StripSources(res.Text), ContextNotes: used}, nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	return ctx.Err() != nil
}

// BuildContext はノートを新しい順に「タイトル\n本文」のブロックとして連結する。
// 合計がbudget文字に達した時点で切り詰め、文脈に含めたノート数を返す。
func BuildContext(notes []*model.Note, budget int) (string, int) {
	if budget <= 0 {
		return "", 0
	}

	var b strings.Builder
	remaining := budget
	used := 0
	for _, n := range notes {
		if remaining <= 0 {
			break
		}
		block := strings.TrimSpace(n.Title + "\n" + n.Body)
		if block == "" {
			continue
		}
		if used > 0 {
			block = "\n\n" + block
		}
		if utf8.RuneCountInString(block) > remaining {
			block = truncateRunes(block, remaining)
		}
		b.WriteString(block)
		remaining -= utf8.RuneCountInString(block)
		used++
	}
	return b.String(), used
}

func truncateRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// BuildPrompt は文脈と質問を1つのプロンプトにまとめる。
func BuildPrompt(noteContext, question string) string {
	if noteContext == "" {
		noteContext = "(no notes)"
	}
	return "Notes:\n" + noteContext + "\n\nQuestion:\n" + question
}

var sourcesLine = regexp.MustCompile(`(?i)^\s*[#>*_\s]*sources\s*[*_]*\s*:`)

// StripSources は「SOURCES:」で始まる引用行を回答から取り除く。
func StripSources(text string) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if sourcesLine.MatchString(line) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}
