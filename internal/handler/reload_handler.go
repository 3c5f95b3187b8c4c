package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashr/homeops/internal/middleware"
	"github.com/ashr/homeops/internal/model"
)

// 同期結果のstatus値
const (
	reloadStatusSuccess   = "Success"
	reloadStatusCancelled = "Cancelled"
)

// SyncRunner はディレクトリ同期を1回実行する。*reconcile.Engineが満たす。
type SyncRunner interface {
	RunSync(ctx context.Context) (model.RunStatistics, error)
}

type reloadDetails struct {
	Message       string `json:"message"`
	TotalUsers    int    `json:"total_users"`
	NewUsers      int    `json:"new_users"`
	ModifiedUsers int    `json:"modified_users"`
}

type reloadResponse struct {
	Status  string        `json:"status"`
	Details reloadDetails `json:"details"`
}

// ReloadHandler はディレクトリユーザーの再同期を受け付けるHTTPハンドラー。
type ReloadHandler struct {
	runner  SyncRunner
	timeout time.Duration
}

// NewReloadHandler はReloadHandlerを生成する。
// timeoutは1回の同期に与える上限で、0以下の場合はリクエストのコンテキストのみに従う。
func NewReloadHandler(runner SyncRunner, timeout time.Duration) *ReloadHandler {
	return &ReloadHandler{runner: runner, timeout: timeout}
}

// ReloadDirectoryUsers はディレクトリ同期を実行し、集計結果を返す。
// リクエストのコンテキストの終了またはタイムアウトで打ち切られた場合は
// Status=Cancelledで部分集計を返す。
// PUT /reload/ad-users
func (h *ReloadHandler) ReloadDirectoryUsers(w http.ResponseWriter, r *http.Request) {
	requestedBy := ""
	if u, err := middleware.UserFromContext(r.Context()); err == nil {
		requestedBy = u.Username
	}

	ctx := r.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	stats, err := h.runner.RunSync(ctx)
	if err != nil {
		slog.Error("directory reload failed",
			slog.String("requested_by", requestedBy),
			slog.String("error", err.Error()),
		)
		middleware.WriteError(w, err)
		return
	}

	status := reloadStatusSuccess
	if stats.Cancelled {
		status = reloadStatusCancelled
	}

	slog.Info("directory reload completed",
		slog.String("requested_by", requestedBy),
		slog.String("run_id", stats.RunID),
		slog.String("status", status),
	)

	middleware.WriteJSON(w, http.StatusOK, reloadResponse{
		Status: status,
		Details: reloadDetails{
			Message:       "Users Refreshed",
			TotalUsers:    stats.TotalFetched,
			NewUsers:      stats.NewCount,
			ModifiedUsers: stats.ModifiedCount,
		},
	})
}
