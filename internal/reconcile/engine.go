// Package reconcile はディレクトリのユーザーをローカルのusersテーブルへ同期する。
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashr/homeops/internal/auth"
	"github.com/ashr/homeops/internal/directory"
	"github.com/ashr/homeops/internal/metrics"
	"github.com/ashr/homeops/internal/model"
	"github.com/ashr/homeops/internal/repository"
	"github.com/google/uuid"
)

// Directory はディレクトリからユーザーエントリを取得する。*directory.Clientが満たす。
type Directory interface {
	FetchUsers(ctx context.Context) ([]directory.RawEntry, error)
}

// Normalizer はRawEntryを正規化する。*directory.Normalizerが満たす。
type Normalizer interface {
	Normalize(entry directory.RawEntry) (model.DirectoryRecord, bool)
}

// RoleChecker はユーザーの特権判定を行う。*directory.RoleResolverが満たす。
type RoleChecker interface {
	IsPrivileged(ctx context.Context, username, group string) bool
}

// Config は同期エンジンの設定。
type Config struct {
	// PrivilegedGroup はメンバーをスーパーユーザーとするグループ名。空の場合は"Admins"。
	PrivilegedGroup string
}

// Engine は1回の同期実行を制御する。
// 実行間で状態を持たないため、複数のRunSyncを同時に呼び出してよい。
type Engine struct {
	dir        Directory
	normalizer Normalizer
	roles      RoleChecker
	users      repository.UserRepository
	metrics    metrics.SyncRecorder
	logger     *slog.Logger
	group      string
	now        func() time.Time
}

// NewEngine はEngineを生成する。recorderとloggerはnilでもよい。
func NewEngine(
	dir Directory,
	normalizer Normalizer,
	roles RoleChecker,
	users repository.UserRepository,
	recorder metrics.SyncRecorder,
	logger *slog.Logger,
	cfg Config,
) *Engine {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	group := cfg.PrivilegedGroup
	if group == "" {
		group = directory.DefaultPrivilegedGroup
	}
	return &Engine{
		dir:        dir,
		normalizer: normalizer,
		roles:      roles,
		users:      users,
		metrics:    recorder,
		logger:     logger,
		group:      group,
		now:        time.Now,
	}
}

// RunSync はディレクトリからユーザーを取得し、ローカルストアと突き合わせる。
//
// 取得に失敗した場合はゼロの統計と*directory.UnavailableErrorを返す。
// レコード単位のエラーは統計に反映するだけで返さない。
// ctxがレコード処理中に終了した場合は、処理中のレコードを完了させてから打ち切り、
// Cancelled=trueの部分統計とnilエラーを返す。
func (e *Engine) RunSync(ctx context.Context) (model.RunStatistics, error) {
	stats := model.RunStatistics{
		RunID:     uuid.NewString(),
		StartedAt: e.now(),
	}
	logger := e.logger.With(slog.String("run_id", stats.RunID))
	logger.Info("directory sync started")

	entries, err := e.dir.FetchUsers(ctx)
	if err != nil {
		if !directory.IsUnavailable(err) {
			err = directory.NewUnavailableError("fetch", err)
		}
		stats.FinishedAt = e.now()
		e.metrics.RecordSyncRun(metrics.RunResultDirectoryUnavailable, stats.FinishedAt.Sub(stats.StartedAt))
		logger.Error("directory sync failed: directory unavailable", slog.String("error", err.Error()))
		return stats, fmt.Errorf("fetch directory users: %w", err)
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			stats.Cancelled = true
			break
		}

		rec, ok := e.normalizer.Normalize(entry)
		if !ok {
			continue
		}
		stats.TotalFetched++

		// 開始したレコードはctxが終了しても最後まで処理する
		outcome := e.processRecord(context.WithoutCancel(ctx), logger, rec)
		stats.Record(outcome)
		e.metrics.RecordSyncRecord(string(outcome))
	}

	stats.FinishedAt = e.now()
	duration := stats.FinishedAt.Sub(stats.StartedAt)

	result := metrics.RunResultSuccess
	if stats.Cancelled {
		result = metrics.RunResultCancelled
	}
	e.metrics.RecordSyncRun(result, duration)

	logger.Info("directory sync finished",
		slog.Int("total_users", stats.TotalFetched),
		slog.Int("new_users", stats.NewCount),
		slog.Int("modified_users", stats.ModifiedCount),
		slog.Int("skipped_users", stats.SkippedCount),
		slog.Int("failed_users", stats.FailedCount),
		slog.Bool("cancelled", stats.Cancelled),
		slog.Int64("duration_ms", duration.Milliseconds()),
	)

	return stats, nil
}

// processRecord は1レコードを処理し、その結果を返す。
// どのようなエラーやパニックも呼び出し元には伝播させない。
func (e *Engine) processRecord(ctx context.Context, logger *slog.Logger, rec model.DirectoryRecord) (outcome model.Outcome) {
	logger = logger.With(slog.String("username", rec.Username))

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic while reconciling user", slog.Any("panic", r))
			outcome = model.OutcomeFailed
		}
	}()

	if field := rec.OversizedField(); field != "" {
		logger.Warn("user exceeds local column length, skipping", slog.String("field", field))
		return model.OutcomeSkipped
	}

	// 正規化後の名前ではディレクトリ上のエントリに一致しないことがある
	accountName := rec.AccountName
	if accountName == "" {
		accountName = rec.Username
	}
	isSuperuser := e.roles.IsPrivileged(ctx, accountName, e.group)

	err := e.users.WithTx(ctx, func(store repository.UserStore) error {
		var err error
		outcome, err = reconcileRecord(ctx, store, rec, isSuperuser)
		return err
	})

	switch {
	case err == nil:
		logger.Debug("user reconciled", slog.String("outcome", string(outcome)))
		return outcome
	case errors.Is(err, model.ErrDuplicateUsername):
		logger.Warn("user inserted concurrently, skipping", slog.String("error", err.Error()))
		return model.OutcomeSkipped
	case errors.Is(err, model.ErrUserNotFound):
		logger.Warn("user vanished before update, skipping", slog.String("error", err.Error()))
		return model.OutcomeSkipped
	default:
		logger.Error("failed to reconcile user", slog.String("error", err.Error()))
		return model.OutcomeFailed
	}
}

// reconcileRecord はトランザクション内で読み取り・比較・書き込みを行う。
func reconcileRecord(ctx context.Context, store repository.UserStore, rec model.DirectoryRecord, isSuperuser bool) (model.Outcome, error) {
	existing, err := store.FindByUsername(ctx, rec.Username)
	if err != nil {
		return model.OutcomeFailed, err
	}

	if existing == nil {
		user := &model.User{
			Username:     rec.Username,
			FirstName:    rec.FirstName,
			LastName:     rec.LastName,
			Email:        rec.Email,
			PasswordHash: auth.PlaceholderHash(rec.Username),
			IsSuperuser:  isSuperuser,
			Enabled:      true,
		}
		if err := store.Insert(ctx, user); err != nil {
			return model.OutcomeFailed, err
		}
		return model.OutcomeInserted, nil
	}

	if !differs(existing, rec, isSuperuser) {
		return model.OutcomeUnchanged, nil
	}

	fields := model.UserFields{
		FirstName:    rec.FirstName,
		LastName:     rec.LastName,
		Email:        rec.Email,
		PasswordHash: auth.PlaceholderHash(rec.Username),
		IsSuperuser:  isSuperuser,
		Enabled:      true,
	}
	if err := store.UpdateFields(ctx, rec.Username, fields); err != nil {
		return model.OutcomeFailed, err
	}
	return model.OutcomeUpdated, nil
}

// differs は監視対象のフィールドのいずれかが異なるかどうかを返す。
func differs(u *model.User, rec model.DirectoryRecord, isSuperuser bool) bool {
	return u.FirstName != rec.FirstName ||
		u.LastName != rec.LastName ||
		u.Email != rec.Email ||
		u.IsSuperuser != isSuperuser
}
