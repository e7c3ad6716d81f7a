package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/imtompeel/swiftToHear-sub002/internal/config"
	"github.com/imtompeel/swiftToHear-sub002/internal/domain/session"
	"github.com/imtompeel/swiftToHear-sub002/internal/domain/signaling"
	"github.com/imtompeel/swiftToHear-sub002/internal/janitor"
	"github.com/imtompeel/swiftToHear-sub002/internal/mcp"
	"github.com/imtompeel/swiftToHear-sub002/internal/sqlite"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/samber/do/v2"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

const version = "0.1.0"

const shutdownTimeout = 5 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		issueLabel string
		stdio      bool
	)
	flagSet := pflag.NewFlagSet("swift-server", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", os.Getenv(config.EnvPrefix+"CONFIG_PATH"), "path to YAML config file")
	flagSet.StringVar(&issueLabel, "issue-api-key", "", "issue an admin API key under this label, print it and exit")
	flagSet.BoolVar(&stdio, "stdio", false, "serve MCP over stdin/stdout instead of HTTP")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	// Stdio mode keeps stdout clean for JSON-RPC.
	logWriter := io.Writer(os.Stdout)
	mode := mcp.ModeHTTP
	if stdio {
		logWriter = os.Stderr
		mode = mcp.ModeStdio
	}
	logger := newLogger(cfg.Log, logWriter)

	if err := ensureDBDir(cfg.DB.Path); err != nil {
		return fmt.Errorf("failed to prepare database path: %w", err)
	}

	injector := setupDI(&cfg, logger, mode)
	db, err := do.Invoke[*sqlite.DB](injector)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if issueLabel != "" {
		keys := do.MustInvoke[*sqlite.APIKeyRepository](injector)
		token, err := keys.Issue(ctx, issueLabel)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	}

	sessions := do.MustInvoke[*session.Service](injector)
	defer sessions.Close()
	relay := do.MustInvoke[*signaling.Relay](injector)
	defer relay.Close()

	if stdio {
		return runStdioMode(ctx, logger, do.MustInvoke[*sdkmcp.Server](injector))
	}
	return runHTTPMode(ctx, logger, injector, cfg.Server)
}

func runStdioMode(ctx context.Context, logger *slog.Logger, server *sdkmcp.Server) error {
	logger.Info("starting stdio transport", "auth", "disabled")
	// Run blocks until stdin closes or ctx is cancelled.
	if err := server.Run(ctx, &sdkmcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		return fmt.Errorf("stdio server: %w", err)
	}
	logger.Info("shutting down")
	return nil
}

func runHTTPMode(ctx context.Context, logger *slog.Logger, injector do.Injector, cfg config.ServerConfig) error {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           do.MustInvoke[http.Handler](injector),
		ReadHeaderTimeout: 10 * time.Second,
	}
	sweeper := do.MustInvoke[*janitor.Janitor](injector)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server listening", "addr", addr, "version", version)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return sweeper.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		return shutdown(logger, httpServer)
	})
	return g.Wait()
}

func shutdown(logger *slog.Logger, server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	logger.Info("shutting down")
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func ensureDBDir(path string) error {
	if path == ":memory:" || path == "" {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
