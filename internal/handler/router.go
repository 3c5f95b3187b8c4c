package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/ashr/homeops/internal/metrics"
	"github.com/ashr/homeops/internal/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger        *slog.Logger
	HTTPMetrics   metrics.HTTPRecorder
	Authenticator middleware.Authenticator
	RateLimiter   *middleware.RateLimiter

	// ヘルスチェック・メトリクス
	DB       Pinger
	Gatherer prometheus.Gatherer

	// サービス
	AuthService AuthServiceInterface
	UserService UserServiceInterface
	SyncRunner  SyncRunner

	// SyncTimeout はPUT /reload/ad-usersの同期1回に与える上限。0以下で無制限。
	SyncTimeout time.Duration
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Logging → Recovery → SecurityHeaders → [BearerAuth → RateLimit(General) → [RequireSuperuser]]
//
// /health、/metrics、/auth/tokenは認証不要。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewLoggingMiddleware(logger, deps.HTTPMetrics))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())

	authHandler := NewAuthHandler(deps.AuthService)
	userHandler := NewUserHandler(deps.UserService)
	reloadHandler := NewReloadHandler(deps.SyncRunner, deps.SyncTimeout)

	// --- 認証不要のルート ---
	r.Get("/health", Health(deps.DB))
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}
	r.With(deps.RateLimiter.LoginMiddleware()).Post("/auth/token", authHandler.Token)

	// --- 認証が必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewBearerAuthMiddleware(deps.Authenticator))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/users/me", userHandler.Me)
		r.Get("/users/stats", userHandler.Stats)

		// スーパーユーザーのみ
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewRequireSuperuser())

			r.Put("/reload/ad-users", reloadHandler.ReloadDirectoryUsers)
			r.Post("/users", userHandler.Create)
		})
	})

	return r
}
