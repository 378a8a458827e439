// Package pipeline hosts the transcode worker: a single sequential loop that
// consumes queued jobs and drives probe, plan, encode, and playlist synthesis.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"vodforge/internal/encoder"
	"vodforge/internal/ladder"
	"vodforge/internal/media"
	"vodforge/internal/models"
	"vodforge/internal/observability/metrics"
	"vodforge/internal/playlist"
	"vodforge/internal/queue"
	"vodforge/internal/storage"
)

// Prober inspects an assembled source file.
type Prober interface {
	Probe(ctx context.Context, path string) (media.SourceInfo, error)
}

// Encoder produces one quality rendition per call plus thumbnail captures.
type Encoder interface {
	EncodeVariant(ctx context.Context, sourcePath string, variant models.QualityVariant, durationSeconds float64) (string, error)
	Thumbnail(ctx context.Context, sourcePath, outputPath string, durationSeconds float64) error
}

const defaultPollInterval = time.Second

// Config wires the worker to its collaborators and output directories.
type Config struct {
	Repository storage.Repository
	Queue      queue.Queue
	Prober     Prober
	Encoder    Encoder
	// HLSDir is the public-servable root; each asset gets
	// <HLSDir>/<assetID>/playlist.m3u8 plus per-variant subdirectories.
	HLSDir string
	// ThumbnailDir receives <assetID>.jpg captures.
	ThumbnailDir string
	// UploadsDir is where assembled sources live; recovery rebuilds source
	// paths as <UploadsDir>/<storedFileName>.
	UploadsDir   string
	PollInterval time.Duration
	Logger       *slog.Logger
	Metrics      *metrics.Recorder
}

// Worker consumes transcode jobs strictly sequentially. At most one encode
// runs at a time by construction; there is exactly one consumer and it
// processes each popped job to completion before popping the next.
type Worker struct {
	repo      storage.Repository
	queue     queue.Queue
	prober    Prober
	enc       Encoder
	hlsDir    string
	thumbDir  string
	uploads   string
	poll      time.Duration
	logger    *slog.Logger
	recorder  *metrics.Recorder
	recovered bool
}

// NewWorker validates the configuration and builds a worker.
func NewWorker(cfg Config) (*Worker, error) {
	if cfg.Repository == nil || cfg.Queue == nil || cfg.Prober == nil || cfg.Encoder == nil {
		return nil, fmt.Errorf("pipeline worker requires repository, queue, prober, and encoder")
	}
	if cfg.HLSDir == "" || cfg.ThumbnailDir == "" || cfg.UploadsDir == "" {
		return nil, fmt.Errorf("pipeline worker requires hls, thumbnail, and uploads directories")
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	return &Worker{
		repo:     cfg.Repository,
		queue:    cfg.Queue,
		prober:   cfg.Prober,
		enc:      cfg.Encoder,
		hlsDir:   cfg.HLSDir,
		thumbDir: cfg.ThumbnailDir,
		uploads:  cfg.UploadsDir,
		poll:     poll,
		logger:   logger,
		recorder: recorder,
	}, nil
}

// Recover re-enqueues assets stuck in processing from a prior crash. Assets
// whose job already survived in the durable queue are left alone; the rest
// are pushed oldest first, ahead of any job submitted after startup.
func (w *Worker) Recover(ctx context.Context) error {
	stuck, err := w.repo.ListByStatus(ctx, models.StatusProcessing)
	if err != nil {
		return fmt.Errorf("recovery scan: %w", err)
	}
	if len(stuck) == 0 {
		return nil
	}
	pending, err := w.queue.Pending(ctx)
	if err != nil {
		return fmt.Errorf("recovery queue inspection: %w", err)
	}
	queued := make(map[string]struct{}, len(pending))
	for _, job := range pending {
		queued[job.AssetID] = struct{}{}
	}
	for _, asset := range stuck {
		if _, ok := queued[asset.ID]; ok {
			continue
		}
		job := models.TranscodeJob{
			AssetID:    asset.ID,
			FileName:   asset.FileName,
			SourcePath: filepath.Join(w.uploads, asset.FileName),
		}
		if err := w.queue.Push(ctx, job); err != nil {
			return fmt.Errorf("re-enqueue %s: %w", asset.ID, err)
		}
		w.logger.Info("recovered interrupted job", "asset_id", asset.ID, "source", job.SourcePath)
	}
	return nil
}

// Run consumes jobs until the context is cancelled. The recovery scan runs
// before the first pop; if the queue store is unreachable the scan fails
// closed and is retried on the next poll tick rather than crashing.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !w.recovered {
			if err := w.Recover(ctx); err != nil {
				w.logger.Error("recovery failed; retrying next tick", "error", err)
				if !w.sleep(ctx) {
					return ctx.Err()
				}
				continue
			}
			w.recovered = true
		}

		job, ok, err := w.queue.PopBlocking(ctx, w.poll)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			w.logger.Error("queue pop failed; retrying next tick", "error", err)
			if !w.sleep(ctx) {
				return ctx.Err()
			}
			continue
		}
		if depth, err := w.queue.Length(ctx); err == nil {
			w.recorder.SetQueueDepth(depth)
		}
		if !ok {
			continue
		}
		w.Process(ctx, job)
	}
}

func (w *Worker) sleep(ctx context.Context) bool {
	timer := time.NewTimer(w.poll)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Process runs one job to a terminal state. Every failure marks the asset
// error; nothing is retried automatically.
func (w *Worker) Process(ctx context.Context, job models.TranscodeJob) {
	logger := w.logger.With("asset_id", job.AssetID)
	logger.Info("transcode started", "source", job.SourcePath)
	w.recorder.JobStarted()

	if err := w.run(ctx, job); err != nil {
		reason := failureReason(err)
		logger.Error("transcode failed", "reason", reason, "error", err)
		w.recorder.JobFailed(reason)
		if markErr := w.repo.MarkError(ctx, job.AssetID, err.Error()); markErr != nil {
			logger.Error("recording job failure failed", "error", markErr)
		}
		return
	}
	w.recorder.JobCompleted()
	logger.Info("transcode completed")
}

func (w *Worker) run(ctx context.Context, job models.TranscodeJob) error {
	info, err := w.prober.Probe(ctx, job.SourcePath)
	if err != nil {
		return err
	}
	variants, err := ladder.Plan(info.Height)
	if err != nil {
		return err
	}

	outputRoot := filepath.Join(w.hlsDir, job.AssetID)
	for i := range variants {
		variants[i].OutputDir = filepath.Join(outputRoot, variants[i].Name)
		variants[i].PlaylistRelPath = variants[i].Name + "/playlist.m3u8"
	}

	for _, variant := range variants {
		if _, err := w.enc.EncodeVariant(ctx, job.SourcePath, variant, info.DurationSeconds); err != nil {
			return err
		}
	}

	thumbnailPath := filepath.Join(w.thumbDir, job.AssetID+".jpg")
	if err := w.enc.Thumbnail(ctx, job.SourcePath, thumbnailPath, info.DurationSeconds); err != nil {
		return err
	}

	masterPath := filepath.Join(outputRoot, "playlist.m3u8")
	if err := playlist.Write(masterPath, variants); err != nil {
		return err
	}

	return w.repo.UpdateCompleted(ctx, job.AssetID, storage.CompletedFields{
		MasterPlaylistPath: masterPath,
		ThumbnailPath:      thumbnailPath,
		DurationSeconds:    info.DurationSeconds,
		Width:              info.Width,
		Height:             info.Height,
	})
}

func failureReason(err error) string {
	var encodeErr *encoder.EncodeError
	switch {
	case errors.Is(err, media.ErrProbeFailed):
		return "probe_failed"
	case errors.Is(err, ladder.ErrSourceTooLowResolution):
		return "source_too_low_resolution"
	case errors.As(err, &encodeErr):
		return "encode_failed"
	case errors.Is(err, playlist.ErrWriteFailed):
		return "playlist_write_failed"
	default:
		return "internal"
	}
}
