package repository

import (
	"context"
	"time"
)

// withQueryTimeout はクエリ単位のタイムアウトを設定したコンテキストを返す。
// timeoutが0以下の場合は親コンテキストをそのまま使う。
func withQueryTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}
