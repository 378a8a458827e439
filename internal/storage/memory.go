package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"vodforge/internal/models"
)

// MemoryRepository keeps assets in process memory. It backs tests and
// single-node development; production deployments use Postgres.
type MemoryRepository struct {
	mu     sync.RWMutex
	assets map[string]models.MediaAsset
	errors map[string]string
}

// NewMemoryRepository initialises an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		assets: make(map[string]models.MediaAsset),
		errors: make(map[string]string),
	}
}

func (r *MemoryRepository) InsertUploading(ctx context.Context, asset NewAsset) (string, error) {
	now := nowUTC()
	record := models.MediaAsset{
		ID:               uuid.NewString(),
		Title:            asset.Title,
		Description:      asset.Description,
		FileName:         asset.FileName,
		OriginalFileName: asset.OriginalFileName,
		SizeBytes:        asset.SizeBytes,
		Status:           models.StatusUploading,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assets[record.ID] = record
	return record.ID, nil
}

func (r *MemoryRepository) GetAsset(ctx context.Context, id string) (models.MediaAsset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	asset, ok := r.assets[id]
	if !ok {
		return models.MediaAsset{}, ErrNotFound
	}
	return asset, nil
}

func (r *MemoryRepository) UpdateStatus(ctx context.Context, id string, status models.AssetStatus) error {
	if !status.Valid() {
		return ErrInvalidStatus
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	asset, ok := r.assets[id]
	if !ok {
		return ErrNotFound
	}
	asset.Status = status
	asset.UpdatedAt = nowUTC()
	r.assets[id] = asset
	return nil
}

func (r *MemoryRepository) UpdateCompleted(ctx context.Context, id string, fields CompletedFields) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	asset, ok := r.assets[id]
	if !ok {
		return ErrNotFound
	}
	asset.Status = models.StatusCompleted
	asset.MasterPlaylistPath = fields.MasterPlaylistPath
	asset.ThumbnailPath = fields.ThumbnailPath
	asset.DurationSeconds = fields.DurationSeconds
	asset.Width = fields.Width
	asset.Height = fields.Height
	asset.UpdatedAt = nowUTC()
	r.assets[id] = asset
	return nil
}

func (r *MemoryRepository) MarkError(ctx context.Context, id string, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	asset, ok := r.assets[id]
	if !ok {
		return ErrNotFound
	}
	asset.Status = models.StatusError
	asset.UpdatedAt = nowUTC()
	r.assets[id] = asset
	r.errors[id] = reason
	return nil
}

func (r *MemoryRepository) ListByStatus(ctx context.Context, status models.AssetStatus) ([]models.MediaAsset, error) {
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	matches := make([]models.MediaAsset, 0)
	for _, asset := range r.assets {
		if asset.Status == status {
			matches = append(matches, asset)
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].ID < matches[j].ID
		}
		return matches[i].CreatedAt.Before(matches[j].CreatedAt)
	})
	return matches, nil
}

func (r *MemoryRepository) IncrementViews(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	asset, ok := r.assets[id]
	if !ok {
		return ErrNotFound
	}
	asset.Views++
	r.assets[id] = asset
	return nil
}

func (r *MemoryRepository) Ping(ctx context.Context) error {
	return ctx.Err()
}

// ErrorReason reports the failure reason recorded by MarkError, for tests.
func (r *MemoryRepository) ErrorReason(id string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.errors[id]
}

func (r *MemoryRepository) Close(ctx context.Context) error {
	return nil
}
