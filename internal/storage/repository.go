// Package storage persists media asset records and their lifecycle state.
package storage

import (
	"context"
	"errors"
	"time"

	"vodforge/internal/models"
)

// ErrNotFound is returned when no asset exists for the requested ID.
var ErrNotFound = errors.New("asset not found")

// ErrInvalidStatus is returned when a caller supplies a status outside the
// uploading/processing/completed/error lifecycle.
var ErrInvalidStatus = errors.New("invalid asset status")

// NewAsset carries the caller-supplied fields for a fresh asset row. The
// repository assigns the ID and timestamps and sets status to uploading.
type NewAsset struct {
	Title            string
	Description      string
	FileName         string
	OriginalFileName string
	SizeBytes        int64
}

// CompletedFields holds everything a successful transcode derives from the
// source. UpdateCompleted writes them together with the completed status in a
// single atomic operation so readers never observe a half-finished asset.
type CompletedFields struct {
	MasterPlaylistPath string
	ThumbnailPath      string
	DurationSeconds    float64
	Width              int
	Height             int
}

// Repository is the persistence boundary for media assets. Status writes are
// atomic with their associated derived fields, and reads always reflect the
// latest committed write.
type Repository interface {
	// InsertUploading creates a new asset row in the uploading state and
	// returns the generated asset ID.
	InsertUploading(ctx context.Context, asset NewAsset) (string, error)
	// GetAsset fetches a single asset by ID.
	GetAsset(ctx context.Context, id string) (models.MediaAsset, error)
	// UpdateStatus moves the asset to the given lifecycle status.
	UpdateStatus(ctx context.Context, id string, status models.AssetStatus) error
	// UpdateCompleted atomically marks the asset completed and records the
	// playlist, thumbnail, duration, and resolution derived by the pipeline.
	UpdateCompleted(ctx context.Context, id string, fields CompletedFields) error
	// MarkError moves the asset to the error state, recording the failure
	// reason for operators.
	MarkError(ctx context.Context, id string, reason string) error
	// ListByStatus returns all assets in the given status ordered by
	// creation time, oldest first. Startup recovery relies on this order to
	// requeue interrupted work in its original sequence.
	ListByStatus(ctx context.Context, status models.AssetStatus) ([]models.MediaAsset, error)
	// IncrementViews bumps the playback counter for the asset.
	IncrementViews(ctx context.Context, id string) error
	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error
	// Close releases any backing resources, waiting up to the context
	// deadline for in-flight operations.
	Close(ctx context.Context) error
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
