// Package cleanup はセッションの自動削除ジョブを提供する。
// 期限切れまたは失効済みのまま保持期間（デフォルト7日）を過ぎたsessions行を
// 定期バッチで削除する。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// DefaultRetentionDays は期限切れ・失効済みセッションを残しておく日数の既定値。
const DefaultRetentionDays = 7

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// CleanupJob は保持期間を超過したセッションの自動削除ジョブ。
// 冪等な削除処理のため、何度実行しても結果は変わらない。
type CleanupJob struct {
	db            Executor
	logger        *slog.Logger
	RetentionDays int // 期限切れ・失効後の保持日数（デフォルト: 7）
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(db Executor, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		db:            db,
		logger:        logger,
		RetentionDays: DefaultRetentionDays,
	}
}

// Run はexpires_atまたはrevoked_atがRetentionDays日より前のセッションを削除する。
// 有効なセッションは対象にならない。削除対象がない場合もエラーにしない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	interval := fmt.Sprintf("%d days", j.RetentionDays)

	query := `DELETE FROM sessions
		WHERE expires_at < now() - $1::interval
		   OR (revoked_at IS NOT NULL AND revoked_at < now() - $1::interval)`
	result, err := j.db.ExecContext(ctx, query, interval)
	if err != nil {
		j.logger.Error("セッションクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("セッションクリーンアップの実行に失敗: %w", err)
	}

	deletedCount, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("削除件数の取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("削除件数の取得に失敗: %w", err)
	}

	duration := time.Since(start)
	j.logger.Info("セッションクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// Start は即座に1回実行した後、intervalごとにRunを繰り返す。
// ctxがキャンセルされるまでブロックする。個々の実行の失敗はログに残して継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	j.runOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("セッションクリーンアップジョブを停止しました")
			return
		case <-ticker.C:
			j.runOnce(ctx)
		}
	}
}

func (j *CleanupJob) runOnce(ctx context.Context) {
	// エラーはRun内でログ出力済み
	_ = j.Run(ctx)
}
