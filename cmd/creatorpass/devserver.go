package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/creatorpass/creatorpass/internal/auth"
	"github.com/creatorpass/creatorpass/internal/database"
	"github.com/creatorpass/creatorpass/internal/server"
	"github.com/creatorpass/creatorpass/internal/storage"
)

const (
	devCreatorID    = "creator"
	devSubscriberID = "subscriber"
	devViewerID     = "viewer"
	devTokenTTL     = 24 * time.Hour
	manifestName    = "master.m3u8"
)

func runDevServer(ctx context.Context, args []string) error {
	if len(args) != 0 {
		return errUsage
	}
	port := getEnv("PORT", "8000")

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return errors.New("JWT_SECRET is required")
	}

	cfg := server.Config{
		JWTSecret:        jwtSecret,
		BaseURL:          getEnv("BASE_URL", "http://localhost:"+port),
		AllowedOrigin:    os.Getenv("ALLOWED_ORIGIN"),
		PlaybackTokenTTL: getEnvDuration("PLAYBACK_TOKEN_TTL", auth.PlaybackTokenDuration),
	}

	signingKey := os.Getenv("STORAGE_AUTH_SECRET")
	if signingKey == "" {
		derived, err := storage.DeriveSigningKey(jwtSecret)
		if err != nil {
			return err
		}
		signingKey = derived
	}
	cfg.Signer = storage.NewSigner(signingKey, getEnvDuration("SIGNED_URL_TTL", storage.DefaultSignedURLTTL))

	setupCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	mediaDir := os.Getenv("MEDIA_DIR")
	switch {
	case os.Getenv("S3_BUCKET") != "":
		store, err := newS3Store(setupCtx)
		if err != nil {
			return err
		}
		if err := store.EnsureBucket(setupCtx); err != nil {
			return fmt.Errorf("storage bucket check failed: %w", err)
		}
		slog.Info("devserver: storage bucket ready", "bucket", os.Getenv("S3_BUCKET"))
		cfg.Objects = store
	case mediaDir != "":
		cfg.Objects = storage.DirStore{Root: mediaDir}
		slog.Info("devserver: serving media directory", "dir", mediaDir)
	default:
		slog.Warn("devserver: no MEDIA_DIR or S3_BUCKET; file delivery disabled")
	}

	if databaseURL := os.Getenv("DATABASE_URL"); databaseURL != "" {
		db, err := database.Connect(setupCtx, databaseURL)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		defer db.Close()
		if err := db.Migrate(databaseURL); err != nil {
			return fmt.Errorf("database migration failed: %w", err)
		}
		slog.Info("devserver: database migrations applied")
		cfg.DB = db.Pool
		cfg.Pinger = db
	} else {
		memory := server.NewMemoryStore()
		if mediaDir != "" {
			n, err := seedCatalog(memory, mediaDir)
			if err != nil {
				return err
			}
			slog.Info("devserver: catalog seeded", "media", n)
		}
		memory.AddSubscription(devSubscriberID, devCreatorID)
		cfg.Memory = memory
	}

	if err := printDevTokens(jwtSecret); err != nil {
		return err
	}

	srv := server.New(cfg)
	defer srv.Close()

	// No WriteTimeout: notification streams stay open indefinitely.
	httpServer := &http.Server{
		Addr:              ":" + port,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("devserver: listening", "port", port)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("devserver: shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	slog.Info("devserver: shutdown complete")
	return nil
}

func newS3Store(ctx context.Context) (*storage.S3Store, error) {
	store, err := storage.New(ctx, storage.Config{
		Endpoint:  getEnv("S3_ENDPOINT", "http://localhost:3900"),
		Bucket:    getEnv("S3_BUCKET", "creatorpass"),
		AccessKey: os.Getenv("S3_ACCESS_KEY"),
		SecretKey: os.Getenv("S3_SECRET_KEY"),
		Region:    getEnv("S3_REGION", "eu-central-1"),
	})
	if err != nil {
		return nil, fmt.Errorf("storage initialization failed: %w", err)
	}
	return store, nil
}

// seedCatalog registers every <dir>/<id>/master.m3u8 as media owned by the
// dev creator. Directories prefixed "free-" are public; the rest require a
// subscription.
func seedCatalog(store *server.MemoryStore, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read media dir: %w", err)
	}
	n := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(dir, entry.Name(), manifestName)); err != nil {
			continue
		}
		id := entry.Name()
		store.AddMedia(server.Media{
			ID:                   id,
			Title:                id,
			CreatorID:            devCreatorID,
			ManifestKey:          path.Join(id, manifestName),
			RequiresSubscription: !strings.HasPrefix(id, "free-"),
		})
		n++
	}
	return n, nil
}

func printDevTokens(secret string) error {
	for _, userID := range []string{devCreatorID, devSubscriberID, devViewerID} {
		token, err := auth.GenerateAccessTokenTTL(secret, userID, devTokenTTL)
		if err != nil {
			return fmt.Errorf("issue dev token: %w", err)
		}
		fmt.Printf("CREATORPASS_TOKEN for %-10s %s\n", userID+":", token)
	}
	return nil
}
