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
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/creatorpass/creatorpass/internal/apiclient"
	"github.com/creatorpass/creatorpass/internal/auth"
)

const usage = `usage: creatorpass <command> [arguments]

commands:
  play <media-id>          resolve and play one media item
  notifications [read id]  print the notification snapshot, or mark one read
  watch                    follow the notification stream
  devserver                run the local reference backend
  upload <dir> <prefix>    upload an HLS directory to the S3 bucket
`

var errUsage = errors.New("invalid arguments")

func main() {
	slog.SetDefault(newLogger(getEnv("LOG_LEVEL", "info"), logOutput()))

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := run(ctx, os.Args[1], os.Args[2:])
	switch {
	case err == nil, errors.Is(err, context.Canceled):
	case errors.Is(err, errUsage):
		fmt.Fprint(os.Stderr, usage)
		stop()
		os.Exit(2)
	default:
		slog.Error("creatorpass: "+os.Args[1]+" failed", "error", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, command string, args []string) error {
	switch command {
	case "play":
		return runPlay(ctx, args)
	case "notifications":
		return runNotifications(ctx, args)
	case "watch":
		return runWatch(ctx, args)
	case "devserver":
		return runDevServer(ctx, args)
	case "upload":
		return runUpload(ctx, args)
	case "help", "-h", "--help":
		fmt.Print(usage)
		return nil
	}
	return fmt.Errorf("unknown command %q: %w", command, errUsage)
}

func newLogger(level string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// logOutput is stderr, teed into a rotated LOG_FILE when one is set.
func logOutput() io.Writer {
	path := os.Getenv("LOG_FILE")
	if path == "" {
		return os.Stderr
	}
	return io.MultiWriter(os.Stderr, &lumberjack.Logger{
		Filename:   path,
		MaxSize:    int(getEnvInt64("LOG_MAX_SIZE_MB", 50)),
		MaxBackups: int(getEnvInt64("LOG_MAX_BACKUPS", 3)),
		MaxAge:     int(getEnvInt64("LOG_MAX_AGE_DAYS", 14)),
		Compress:   true,
	})
}

// newAPIClient builds the REST client from CREATORPASS_* settings.
func newAPIClient() *apiclient.Client {
	return apiclient.New(getEnv("CREATORPASS_API_URL", "http://127.0.0.1:8000/api/v1"), credentialFromEnv())
}

func credentialFromEnv() auth.CredentialProvider {
	if token := os.Getenv("CREATORPASS_TOKEN"); token != "" {
		return auth.NewStaticCredential(token)
	}
	if path := os.Getenv("CREATORPASS_TOKEN_FILE"); path != "" {
		return auth.NewFileCredential(path)
	}
	return auth.NewStaticCredential("")
}

// serveMetrics exposes /metrics on METRICS_ADDR until ctx is done. It
// returns nil immediately when no address is configured.
func serveMetrics(ctx context.Context) error {
	addr := os.Getenv("METRICS_ADDR")
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("creatorpass: metrics listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("metrics shutdown: %w", err)
	}
	return nil
}

// startMetrics runs serveMetrics in the background for commands that must
// keep going without it. A failure is logged; done closes once the server
// has stopped.
func startMetrics(ctx context.Context, logger *slog.Logger) (done <-chan struct{}) {
	ch := make(chan struct{})
	go func() {
		defer close(ch)
		if err := serveMetrics(ctx); err != nil {
			logger.Warn("creatorpass: metrics unavailable", "error", err)
		}
	}()
	return ch
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}
