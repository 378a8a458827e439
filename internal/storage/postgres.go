package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"vodforge/internal/models"
)

// PostgresConfig describes how the repository initialises its Postgres
// connection pool.
type PostgresConfig struct {
	DSN                 string
	MaxConnections      int32
	MinConnections      int32
	MaxConnLifetime     time.Duration
	MaxConnIdleTime     time.Duration
	HealthCheckInterval time.Duration
	ConnectTimeout      time.Duration
	ApplicationName     string
}

type postgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository opens a Postgres-backed repository and applies the
// schema migration before returning.
func NewPostgresRepository(cfg PostgresConfig) (Repository, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections > 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckInterval > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckInterval
	}
	if cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	ctx := context.Background()
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	repo := &postgresRepository{pool: pool}
	if err := repo.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return repo, nil
}

func (r *postgresRepository) migrate(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS media_assets (
    id                   TEXT PRIMARY KEY,
    title                TEXT NOT NULL DEFAULT '',
    description          TEXT NOT NULL DEFAULT '',
    file_name            TEXT NOT NULL,
    original_file_name   TEXT NOT NULL DEFAULT '',
    size_bytes           BIGINT NOT NULL DEFAULT 0,
    status               TEXT NOT NULL,
    duration_seconds     DOUBLE PRECISION NOT NULL DEFAULT 0,
    width                INTEGER NOT NULL DEFAULT 0,
    height               INTEGER NOT NULL DEFAULT 0,
    master_playlist_path TEXT NOT NULL DEFAULT '',
    thumbnail_path       TEXT NOT NULL DEFAULT '',
    last_error           TEXT NOT NULL DEFAULT '',
    views                BIGINT NOT NULL DEFAULT 0,
    created_at           TIMESTAMPTZ NOT NULL,
    updated_at           TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS media_assets_status_created_idx
    ON media_assets (status, created_at);
`)
	if err != nil {
		return fmt.Errorf("apply media_assets migration: %w", err)
	}
	return nil
}

func (r *postgresRepository) InsertUploading(ctx context.Context, asset NewAsset) (string, error) {
	id := uuid.NewString()
	now := nowUTC()
	_, err := r.pool.Exec(ctx, `
INSERT INTO media_assets (id, title, description, file_name, original_file_name, size_bytes, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
`, id, asset.Title, asset.Description, asset.FileName, asset.OriginalFileName, asset.SizeBytes, string(models.StatusUploading), now)
	if err != nil {
		return "", fmt.Errorf("insert asset: %w", err)
	}
	return id, nil
}

const assetColumns = `id, title, description, file_name, original_file_name, size_bytes, status,
duration_seconds, width, height, master_playlist_path, thumbnail_path, views, created_at, updated_at`

func scanAsset(row pgx.Row) (models.MediaAsset, error) {
	var asset models.MediaAsset
	var status string
	err := row.Scan(&asset.ID, &asset.Title, &asset.Description, &asset.FileName, &asset.OriginalFileName,
		&asset.SizeBytes, &status, &asset.DurationSeconds, &asset.Width, &asset.Height,
		&asset.MasterPlaylistPath, &asset.ThumbnailPath, &asset.Views, &asset.CreatedAt, &asset.UpdatedAt)
	if err != nil {
		return models.MediaAsset{}, err
	}
	asset.Status = models.AssetStatus(status)
	return asset, nil
}

func (r *postgresRepository) GetAsset(ctx context.Context, id string) (models.MediaAsset, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+assetColumns+` FROM media_assets WHERE id = $1`, id)
	asset, err := scanAsset(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.MediaAsset{}, ErrNotFound
		}
		return models.MediaAsset{}, fmt.Errorf("select asset: %w", err)
	}
	return asset, nil
}

func (r *postgresRepository) UpdateStatus(ctx context.Context, id string, status models.AssetStatus) error {
	if !status.Valid() {
		return ErrInvalidStatus
	}
	tag, err := r.pool.Exec(ctx, `
UPDATE media_assets SET status = $2, updated_at = $3 WHERE id = $1
`, id, string(status), nowUTC())
	if err != nil {
		return fmt.Errorf("update asset status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *postgresRepository) UpdateCompleted(ctx context.Context, id string, fields CompletedFields) error {
	tag, err := r.pool.Exec(ctx, `
UPDATE media_assets
SET status = $2,
    master_playlist_path = $3,
    thumbnail_path = $4,
    duration_seconds = $5,
    width = $6,
    height = $7,
    last_error = '',
    updated_at = $8
WHERE id = $1
`, id, string(models.StatusCompleted), fields.MasterPlaylistPath, fields.ThumbnailPath,
		fields.DurationSeconds, fields.Width, fields.Height, nowUTC())
	if err != nil {
		return fmt.Errorf("complete asset: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *postgresRepository) MarkError(ctx context.Context, id string, reason string) error {
	tag, err := r.pool.Exec(ctx, `
UPDATE media_assets SET status = $2, last_error = $3, updated_at = $4 WHERE id = $1
`, id, string(models.StatusError), reason, nowUTC())
	if err != nil {
		return fmt.Errorf("mark asset error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *postgresRepository) ListByStatus(ctx context.Context, status models.AssetStatus) ([]models.MediaAsset, error) {
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}
	rows, err := r.pool.Query(ctx, `
SELECT `+assetColumns+`
FROM media_assets
WHERE status = $1
ORDER BY created_at ASC, id ASC
`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	defer rows.Close()
	var assets []models.MediaAsset
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		assets = append(assets, asset)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	return assets, nil
}

func (r *postgresRepository) IncrementViews(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `
UPDATE media_assets SET views = views + 1 WHERE id = $1
`, id)
	if err != nil {
		return fmt.Errorf("increment views: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *postgresRepository) Ping(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return fmt.Errorf("postgres pool is not initialised")
	}
	return r.pool.Ping(ctx)
}

func (r *postgresRepository) Close(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		r.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
