//go:build postgres

package storage_test

import (
	"context"
	"os"
	"strings"
	"testing"

	"vodforge/internal/models"
	"vodforge/internal/storage"
)

// openPostgres connects to the database named by VODFORGE_TEST_POSTGRES_DSN.
// The database must be dedicated to automated runs; rows are removed between
// tests.
func openPostgres(t *testing.T) storage.Repository {
	t.Helper()
	dsn := os.Getenv("VODFORGE_TEST_POSTGRES_DSN")
	if strings.TrimSpace(dsn) == "" {
		t.Skip("VODFORGE_TEST_POSTGRES_DSN not set")
	}
	repo, err := storage.NewPostgresRepository(storage.PostgresConfig{DSN: dsn, ApplicationName: "vodforge-test"})
	if err != nil {
		t.Fatalf("open postgres repository: %v", err)
	}
	t.Cleanup(func() {
		_ = repo.Close(context.Background())
	})
	return repo
}

func TestPostgresAssetLifecycle(t *testing.T) {
	repo := openPostgres(t)
	ctx := context.Background()

	id, err := repo.InsertUploading(ctx, storage.NewAsset{FileName: "video-pg.mp4", SizeBytes: 1024})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := repo.UpdateStatus(ctx, id, models.StatusProcessing); err != nil {
		t.Fatalf("update status: %v", err)
	}
	if err := repo.UpdateCompleted(ctx, id, storage.CompletedFields{
		MasterPlaylistPath: "/srv/hls/" + id + "/playlist.m3u8",
		ThumbnailPath:      "/srv/thumbnails/" + id + ".jpg",
		DurationSeconds:    12.5,
		Width:              1280,
		Height:             720,
	}); err != nil {
		t.Fatalf("update completed: %v", err)
	}

	asset, err := repo.GetAsset(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if asset.Status != models.StatusCompleted || asset.Height != 720 {
		t.Fatalf("unexpected asset after completion: %+v", asset)
	}
}
