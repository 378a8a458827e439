// Package api exposes the upload and asset HTTP surface.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"vodforge/internal/assembler"
	"vodforge/internal/models"
	"vodforge/internal/observability/metrics"
	"vodforge/internal/queue"
	"vodforge/internal/storage"
)

// Handler owns the HTTP endpoints. Route registration lives in the server
// package; every method here is a plain http.HandlerFunc.
type Handler struct {
	Store     storage.Repository
	Assembler *assembler.Assembler
	Queue     queue.Queue
	Logger    *slog.Logger
	Metrics   *metrics.Recorder
}

func NewHandler(store storage.Repository, asm *assembler.Assembler, q queue.Queue, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Store: store, Assembler: asm, Queue: q, Logger: logger}
}

func (h *Handler) recorder() *metrics.Recorder {
	if h.Metrics != nil {
		return h.Metrics
	}
	return metrics.Default()
}

type assetResponse struct {
	ID                 string  `json:"id"`
	Title              string  `json:"title"`
	Description        string  `json:"description,omitempty"`
	FileName           string  `json:"fileName"`
	OriginalFileName   string  `json:"originalFileName"`
	SizeBytes          int64   `json:"sizeBytes"`
	Status             string  `json:"status"`
	DurationSeconds    float64 `json:"durationSeconds,omitempty"`
	Resolution         string  `json:"resolution,omitempty"`
	MasterPlaylistPath string  `json:"masterPlaylistPath,omitempty"`
	ThumbnailPath      string  `json:"thumbnailPath,omitempty"`
	Views              int64   `json:"views"`
	CreatedAt          string  `json:"createdAt"`
	UpdatedAt          string  `json:"updatedAt"`
}

func toAssetResponse(asset models.MediaAsset) assetResponse {
	return assetResponse{
		ID:                 asset.ID,
		Title:              asset.Title,
		Description:        asset.Description,
		FileName:           asset.FileName,
		OriginalFileName:   asset.OriginalFileName,
		SizeBytes:          asset.SizeBytes,
		Status:             string(asset.Status),
		DurationSeconds:    asset.DurationSeconds,
		Resolution:         asset.Resolution(),
		MasterPlaylistPath: asset.MasterPlaylistPath,
		ThumbnailPath:      asset.ThumbnailPath,
		Views:              asset.Views,
		CreatedAt:          asset.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:          asset.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// statusForError maps domain errors onto HTTP status codes so handlers stay
// free of per-endpoint switch blocks.
func statusForError(err error) int {
	switch {
	case errors.Is(err, assembler.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, assembler.ErrUnknownSession), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, assembler.ErrSessionIncomplete), errors.Is(err, assembler.ErrMergeInProgress):
		return http.StatusConflict
	case errors.Is(err, queue.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
