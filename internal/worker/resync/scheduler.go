// Package resync はディレクトリ同期の定期実行ジョブを提供する。
package resync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashr/homeops/internal/model"
)

// DefaultTimeout はtimeoutが0以下の場合に1回の同期へ与える時間。
const DefaultTimeout = 5 * time.Minute

// SyncRunner はディレクトリ同期を1回実行する。*reconcile.Engineが満たす。
type SyncRunner interface {
	RunSync(ctx context.Context) (model.RunStatistics, error)
}

// Scheduler は一定間隔でディレクトリ同期を実行する。
// 同期は前回の完了後に次のティックを待つため、同じスケジューラの実行が重なることはない。
type Scheduler struct {
	runner  SyncRunner
	logger  *slog.Logger
	timeout time.Duration
}

// NewScheduler はSchedulerを生成する。
func NewScheduler(runner SyncRunner, logger *slog.Logger, timeout time.Duration) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Scheduler{
		runner:  runner,
		logger:  logger,
		timeout: timeout,
	}
}

// Start はintervalごとに同期を実行する。起動直後に1回実行し、
// コンテキストがキャンセルされるまでブロックする。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("resync interval must be positive, got %s", interval)
	}

	s.logger.Info("resync scheduler started",
		slog.Duration("interval", interval),
		slog.Duration("timeout", s.timeout),
	)

	s.runAndLog(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("resync scheduler stopped")
			return nil
		case <-ticker.C:
			s.runAndLog(ctx)
		}
	}
}

// RunOnce はタイムアウト付きで同期を1回実行する。
func (s *Scheduler) RunOnce(ctx context.Context) (model.RunStatistics, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	return s.runner.RunSync(ctx)
}

func (s *Scheduler) runAndLog(ctx context.Context) {
	stats, err := s.RunOnce(ctx)
	switch {
	case err != nil && errors.Is(ctx.Err(), context.Canceled):
		s.logger.Info("scheduled resync aborted by shutdown", slog.String("error", err.Error()))
	case err != nil:
		// ディレクトリ障害は次のティックで再試行する
		s.logger.Error("scheduled resync failed", slog.String("error", err.Error()))
	case stats.Cancelled:
		s.logger.Warn("scheduled resync cut short",
			slog.String("run_id", stats.RunID),
			slog.Int("total_users", stats.TotalFetched),
		)
	}
}
