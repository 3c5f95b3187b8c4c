package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashr/homeops/internal/auth"
	"github.com/ashr/homeops/internal/config"
	"github.com/ashr/homeops/internal/database"
	"github.com/ashr/homeops/internal/directory"
	"github.com/ashr/homeops/internal/handler"
	"github.com/ashr/homeops/internal/logger"
	"github.com/ashr/homeops/internal/metrics"
	"github.com/ashr/homeops/internal/middleware"
	"github.com/ashr/homeops/internal/model"
	"github.com/ashr/homeops/internal/reconcile"
	"github.com/ashr/homeops/internal/repository"
	"github.com/ashr/homeops/internal/user"
	"github.com/ashr/homeops/internal/worker/resync"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// dbConnectTimeout は起動時のDB疎通確認のタイムアウト。
const dbConnectTimeout = 10 * time.Second

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、環境変数からConfigを読み込んでログレベルを反映する。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 設定読み込み前にログを使えるようにする
	logger.SetupDefault(w)

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetLevel(cfg.LogLevel)
	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// argsにはos.Args[1:]を渡す。ログはwに、syncサブコマンドの統計はstdoutに出力する。
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
		slog.String("directory_server", cfg.Directory.Server),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandSync:
		return runSync(ctx, cfg, os.Stdout)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// components はserve/worker/syncで共有する依存関係。
type components struct {
	db        *sql.DB
	registry  *prometheus.Registry
	collector *metrics.Collector
	users     *repository.PostgresUserRepo
	directory *directory.Client
	engine    *reconcile.Engine
}

// wire はDB接続を開き、同期エンジンまでの依存関係を構築する。
func wire(ctx context.Context, cfg *config.Config) (*components, error) {
	db, err := database.Connect(ctx, cfg.DatabaseURL, dbConnectTimeout)
	if err != nil {
		return nil, err
	}
	slog.Info("database connection established")

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	users := repository.NewPostgresUserRepo(db)
	dirClient := directory.NewClient(directoryConfig(cfg.Directory), directory.WithLogger(slog.Default()))

	engine := reconcile.NewEngine(
		dirClient,
		directory.NewNormalizer(cfg.Directory.DomainSuffix, slog.Default()),
		directory.NewRoleResolver(dirClient, collector, slog.Default()),
		users,
		collector,
		slog.Default(),
		reconcile.Config{PrivilegedGroup: cfg.Directory.PrivilegedGroup},
	)

	return &components{
		db:        db,
		registry:  registry,
		collector: collector,
		users:     users,
		directory: dirClient,
		engine:    engine,
	}, nil
}

func directoryConfig(c config.DirectoryConfig) directory.Config {
	return directory.Config{
		Server:             c.Server,
		BindUsername:       c.BindUsername,
		BindPassword:       c.BindPassword,
		BaseDN:             c.BaseDN,
		Timeout:            c.Timeout,
		StartTLS:           c.StartTLS,
		InsecureSkipVerify: c.InsecureSkipVerify,
	}
}

// newRouter はserveモードのHTTPハンドラーを構築する。
func newRouter(cfg *config.Config, c *components, rl *middleware.RateLimiter) http.Handler {
	authService := auth.NewService(c.users, auth.NewTokenIssuer(cfg.TokenSecret, cfg.TokenTTL))

	return handler.NewRouter(&handler.RouterDeps{
		Logger:        slog.Default(),
		HTTPMetrics:   c.collector,
		Authenticator: authService,
		RateLimiter:   rl,
		DB:            c.db,
		Gatherer:      c.registry,
		AuthService:   authService,
		UserService:   user.NewService(c.users),
		SyncRunner:    c.engine,
		SyncTimeout:   cfg.SyncTimeout,
	})
}

// runServe はAPIサーバーモードで起動する。
// SIGINTまたはSIGTERMを受信するとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	c, err := wire(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.db.Close()

	// ディレクトリに繋がらなくても起動は続ける。同期時に502を返す
	pingCtx, cancel := context.WithTimeout(ctx, cfg.Directory.Timeout)
	if err := c.directory.Ping(pingCtx); err != nil {
		slog.Warn("directory server is not reachable", slog.String("error", err.Error()))
	}
	cancel()

	rl := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitLogin))
	defer rl.Stop()

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           newRouter(cfg, c, rl),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// 同期は数分かかることがあるためSYNC_TIMEOUTに余裕を持たせる
		WriteTimeout: cfg.SyncTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 起動直後とSYNC_INTERVALごとにディレクトリ同期を実行し、シグナル受信で停止する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	if cfg.SyncInterval <= 0 {
		return errors.New("SYNC_INTERVAL must be set to a positive duration in worker mode")
	}

	c, err := wire(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.db.Close()

	scheduler := resync.NewScheduler(c.engine, slog.Default(), cfg.SyncTimeout)
	if err := scheduler.Start(ctx, cfg.SyncInterval); err != nil {
		return err
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runSync はディレクトリ同期を1回実行し、統計をoutへJSONで書き出す。
func runSync(ctx context.Context, cfg *config.Config, out io.Writer) error {
	c, err := wire(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.db.Close()

	stats, err := resync.NewScheduler(c.engine, slog.Default(), cfg.SyncTimeout).RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("directory sync failed: %w", err)
	}

	return writeSyncResult(out, stats)
}

// syncResult はsyncサブコマンドの出力形式。
type syncResult struct {
	RunID         string    `json:"run_id"`
	TotalUsers    int       `json:"total_users"`
	NewUsers      int       `json:"new_users"`
	ModifiedUsers int       `json:"modified_users"`
	SkippedUsers  int       `json:"skipped_users"`
	FailedUsers   int       `json:"failed_users"`
	Cancelled     bool      `json:"cancelled"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
}

func writeSyncResult(out io.Writer, stats model.RunStatistics) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(syncResult{
		RunID:         stats.RunID,
		TotalUsers:    stats.TotalFetched,
		NewUsers:      stats.NewCount,
		ModifiedUsers: stats.ModifiedCount,
		SkippedUsers:  stats.SkippedCount,
		FailedUsers:   stats.FailedCount,
		Cancelled:     stats.Cancelled,
		StartedAt:     stats.StartedAt,
		FinishedAt:    stats.FinishedAt,
	})
}

// runMigrate はすべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runHealthcheck は/healthにHTTPリクエストを送り、結果を返す。
// distroless環境でのDockerヘルスチェック用サブコマンド。
func runHealthcheck(port string) error {
	endpoint := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(endpoint)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return "***"
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
