package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hitoshi/zyrae/internal/config"
	"github.com/hitoshi/zyrae/internal/database"
	"github.com/hitoshi/zyrae/internal/logger"
)

// Init はアプリケーションの初期化を行う。
// 環境変数（と任意の.envファイル）からConfigを読み込み、LOG_LEVELに従って
// JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, *slog.Logger, error) {
	// 1. 設定の読み込み（ログレベルが設定に含まれるため先に読む）
	cfg, err := config.Load()
	if err != nil {
		// 設定エラーもJSONで出力できるよう既定レベルでセットアップしておく
		logger.SetupDefault(w, slog.LevelInfo)
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 2. ログの初期化
	l := logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, l, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
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

	cfg, l, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	l.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("store_backend", cfg.StoreBackend),
		slog.String("data_api_url", cfg.DataAPIURL),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg, l)
	default:
		return runServe(cfg, l)
	}
}

// runServe はストアフロントゲートウェイを起動する。
// 全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config, l *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := Build(ctx, cfg, l, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			l.Error("failed to close application", slog.String("error", err.Error()))
		}
	}()

	l.Info("session initialized",
		slog.String("state", a.Session.State().String()),
	)

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      a.Handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		l.Info("gateway server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	l.Info("shutting down gateway server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	l.Info("gateway server stopped gracefully")
	return nil
}

// runMigrate はkv_storeのマイグレーションを実行する。
// PostgreSQLバックエンド以外ではマイグレーション対象がないため何もしない。
func runMigrate(cfg *config.Config, l *slog.Logger) error {
	if cfg.StoreBackend != config.StoreBackendPostgres {
		l.Info("no migrations for store backend, skipping",
			slog.String("store_backend", cfg.StoreBackend),
		)
		return nil
	}

	l.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	l.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	return checkHealth(fmt.Sprintf("http://localhost:%s/health", port))
}

func checkHealth(endpoint string) error {
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

// maskDatabaseURL はデータベースURLの認証情報とクエリを除去する。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	if u.User != nil {
		return u.Scheme + "://***@" + u.Host + u.Path
	}
	return u.Scheme + "://" + u.Host + u.Path
}
