package main

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"path/filepath"
	"strings"

	"github.com/creatorpass/creatorpass/internal/storage"
)

// runUpload copies a local HLS rendition directory into the bucket under
// prefix, keeping relative paths so variant playlists still resolve.
func runUpload(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	dir, prefix := args[0], strings.Trim(args[1], "/")
	if prefix == "" {
		return errUsage
	}

	files, err := collectUploads(dir, prefix)
	if err != nil {
		return err
	}

	store, err := newS3Store(ctx)
	if err != nil {
		return err
	}
	if err := store.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("storage bucket check failed: %w", err)
	}

	for _, f := range files {
		if err := store.UploadFile(ctx, f.key, f.path, storage.ContentType(f.key)); err != nil {
			return err
		}
		slog.Info("upload: stored object", "key", f.key)
	}
	fmt.Printf("uploaded %d objects under %s/\n", len(files), prefix)
	return nil
}

type upload struct {
	path string
	key  string
}

func collectUploads(dir, prefix string) ([]upload, error) {
	var files []upload
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		files = append(files, upload{path: p, key: path.Join(prefix, filepath.ToSlash(rel))})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no files in %s", dir)
	}
	return files, nil
}
