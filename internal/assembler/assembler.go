// Package assembler reassembles chunked uploads into source files and hands
// completed sources to the transcode queue.
package assembler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"vodforge/internal/models"
	"vodforge/internal/queue"
	"vodforge/internal/storage"
)

// ErrInvalidInput rejects malformed session requests before any state is
// created.
var ErrInvalidInput = errors.New("invalid upload request")

// ErrUnknownSession is returned for chunk or merge calls against a session
// that was never initialised or has already been merged.
var ErrUnknownSession = errors.New("unknown upload session")

// ErrSessionIncomplete is returned when a merge is attempted before every
// chunk index has arrived.
var ErrSessionIncomplete = errors.New("upload session incomplete")

// ErrMergeInProgress guards against a second merge attempt racing the first
// for the same session.
var ErrMergeInProgress = errors.New("merge already in progress")

// Config wires the assembler to its directories and collaborators.
type Config struct {
	// TempDir holds in-flight chunks, one file per (session, index).
	TempDir string
	// UploadsDir receives assembled source files.
	UploadsDir string
	Repository storage.Repository
	Queue      queue.Queue
	Logger     *slog.Logger
}

// InitRequest describes a new chunked upload session.
type InitRequest struct {
	Title        string
	Description  string
	FileName     string
	DeclaredSize int64
	TotalChunks  int
}

// InitResult identifies the allocated session and its reserved asset row.
type InitResult struct {
	SessionID string
	AssetID   string
	// StoredFileName is the deterministic server-side name the assembled
	// source will be written under.
	StoredFileName string
}

// ChunkProgress reports how many distinct chunk indices have arrived.
type ChunkProgress struct {
	Received int
	Total    int
}

type session struct {
	id           string
	assetID      string
	storedName   string
	declaredSize int64
	totalChunks  int

	mu       sync.Mutex
	received map[int]struct{}
	merging  bool
}

// Assembler tracks active upload sessions. Sessions are independent; chunk
// writes for different sessions never contend.
type Assembler struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*session
}

// New initialises an assembler and ensures its working directories exist.
func New(cfg Config) (*Assembler, error) {
	if cfg.TempDir == "" || cfg.UploadsDir == "" {
		return nil, fmt.Errorf("assembler temp and uploads directories are required")
	}
	if cfg.Repository == nil || cfg.Queue == nil {
		return nil, fmt.Errorf("assembler repository and queue are required")
	}
	for _, dir := range []string{cfg.TempDir, cfg.UploadsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{cfg: cfg, logger: logger, sessions: make(map[string]*session)}, nil
}

// StoredFileName derives the server-side name for an uploaded file, keeping
// only the original extension. Recovery rebuilds source paths from this name
// alone, so it must stay deterministic given the stored record.
func StoredFileName(original string) string {
	return "video-" + uuid.NewString() + filepath.Ext(original)
}

// InitSession allocates an upload session and reserves the asset row in the
// uploading state.
func (a *Assembler) InitSession(ctx context.Context, req InitRequest) (InitResult, error) {
	if req.TotalChunks <= 0 {
		return InitResult{}, fmt.Errorf("%w: totalChunks must be positive", ErrInvalidInput)
	}
	if req.FileName == "" {
		return InitResult{}, fmt.Errorf("%w: fileName is required", ErrInvalidInput)
	}
	storedName := StoredFileName(req.FileName)
	assetID, err := a.cfg.Repository.InsertUploading(ctx, storage.NewAsset{
		Title:            req.Title,
		Description:      req.Description,
		FileName:         storedName,
		OriginalFileName: req.FileName,
		SizeBytes:        req.DeclaredSize,
	})
	if err != nil {
		return InitResult{}, fmt.Errorf("reserve asset: %w", err)
	}
	sess := &session{
		id:           uuid.NewString(),
		assetID:      assetID,
		storedName:   storedName,
		declaredSize: req.DeclaredSize,
		totalChunks:  req.TotalChunks,
		received:     make(map[int]struct{}, req.TotalChunks),
	}
	a.mu.Lock()
	a.sessions[sess.id] = sess
	a.mu.Unlock()
	a.logger.Info("upload session initialised",
		"session_id", sess.id,
		"asset_id", assetID,
		"total_chunks", req.TotalChunks)
	return InitResult{SessionID: sess.id, AssetID: assetID, StoredFileName: storedName}, nil
}

func (a *Assembler) lookup(sessionID string) (*session, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	sess, ok := a.sessions[sessionID]
	if !ok {
		return nil, ErrUnknownSession
	}
	return sess, nil
}

func (a *Assembler) chunkPath(sessionID string, index int) string {
	return filepath.Join(a.cfg.TempDir, sessionID+"-"+strconv.Itoa(index))
}

// ReceiveChunk stores one chunk, overwriting any prior bytes at the same
// index so client retries are idempotent.
func (a *Assembler) ReceiveChunk(ctx context.Context, sessionID string, index int, body io.Reader) (ChunkProgress, error) {
	sess, err := a.lookup(sessionID)
	if err != nil {
		return ChunkProgress{}, err
	}
	if index < 0 || index >= sess.totalChunks {
		return ChunkProgress{}, fmt.Errorf("%w: chunk index %d out of range [0,%d)", ErrInvalidInput, index, sess.totalChunks)
	}
	path := a.chunkPath(sessionID, index)
	file, err := os.Create(path)
	if err != nil {
		return ChunkProgress{}, fmt.Errorf("create chunk file: %w", err)
	}
	if _, err := io.Copy(file, body); err != nil {
		file.Close()
		os.Remove(path)
		return ChunkProgress{}, fmt.Errorf("write chunk %d: %w", index, err)
	}
	if err := file.Close(); err != nil {
		os.Remove(path)
		return ChunkProgress{}, fmt.Errorf("close chunk %d: %w", index, err)
	}

	sess.mu.Lock()
	sess.received[index] = struct{}{}
	count := len(sess.received)
	sess.mu.Unlock()
	return ChunkProgress{Received: count, Total: sess.totalChunks}, nil
}

// TryComplete reports whether every chunk index 0..totalChunks-1 has been
// received. It has no side effects and may be polled repeatedly.
func (a *Assembler) TryComplete(sessionID string) (bool, error) {
	sess, err := a.lookup(sessionID)
	if err != nil {
		return false, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return len(sess.received) == sess.totalChunks, nil
}

// Merge concatenates the session's chunks in index order into the uploads
// area, advances the asset to processing, and enqueues a transcode job. The
// destination only appears under its final name after every chunk has been
// written, so a partially merged file is never observable. Each chunk file
// is deleted as soon as its bytes are appended.
//
// If the queue is unreachable after the merge the asset stays in processing
// and the startup recovery scan re-enqueues it on the next restart.
func (a *Assembler) Merge(ctx context.Context, sessionID string) (models.TranscodeJob, error) {
	sess, err := a.lookup(sessionID)
	if err != nil {
		return models.TranscodeJob{}, err
	}

	sess.mu.Lock()
	if sess.merging {
		sess.mu.Unlock()
		return models.TranscodeJob{}, ErrMergeInProgress
	}
	if len(sess.received) != sess.totalChunks {
		sess.mu.Unlock()
		return models.TranscodeJob{}, fmt.Errorf("%w: %d of %d chunks received", ErrSessionIncomplete, len(sess.received), sess.totalChunks)
	}
	sess.merging = true
	sess.mu.Unlock()

	destination := filepath.Join(a.cfg.UploadsDir, sess.storedName)
	if err := a.concatenate(sess, destination); err != nil {
		sess.mu.Lock()
		sess.merging = false
		sess.mu.Unlock()
		return models.TranscodeJob{}, err
	}

	a.mu.Lock()
	delete(a.sessions, sess.id)
	a.mu.Unlock()

	if err := a.cfg.Repository.UpdateStatus(ctx, sess.assetID, models.StatusProcessing); err != nil {
		return models.TranscodeJob{}, fmt.Errorf("advance asset to processing: %w", err)
	}
	job := models.TranscodeJob{AssetID: sess.assetID, FileName: sess.storedName, SourcePath: destination}
	if err := a.cfg.Queue.Push(ctx, job); err != nil {
		a.logger.Error("enqueue after merge failed; asset left for startup recovery",
			"asset_id", sess.assetID, "error", err)
		return models.TranscodeJob{}, fmt.Errorf("enqueue transcode job: %w", err)
	}
	a.logger.Info("upload merged", "asset_id", sess.assetID, "source", destination)
	return job, nil
}

func (a *Assembler) concatenate(sess *session, destination string) (err error) {
	partial := destination + ".part"
	out, err := os.Create(partial)
	if err != nil {
		return fmt.Errorf("create merge destination: %w", err)
	}
	defer func() {
		if err != nil {
			out.Close()
			os.Remove(partial)
		}
	}()

	for index := 0; index < sess.totalChunks; index++ {
		path := a.chunkPath(sess.id, index)
		chunk, openErr := os.Open(path)
		if openErr != nil {
			return fmt.Errorf("open chunk %d: %w", index, openErr)
		}
		if _, copyErr := io.Copy(out, chunk); copyErr != nil {
			chunk.Close()
			return fmt.Errorf("append chunk %d: %w", index, copyErr)
		}
		chunk.Close()
		if removeErr := os.Remove(path); removeErr != nil {
			a.logger.Warn("leaving stale chunk file", "path", path, "error", removeErr)
		}
	}
	if closeErr := out.Close(); closeErr != nil {
		os.Remove(partial)
		return fmt.Errorf("flush merge destination: %w", closeErr)
	}
	if renameErr := os.Rename(partial, destination); renameErr != nil {
		os.Remove(partial)
		return fmt.Errorf("publish merged source: %w", renameErr)
	}
	return nil
}

// DirectUpload describes a single-request upload that bypasses chunking.
type DirectUpload struct {
	Title            string
	Description      string
	OriginalFileName string
	SizeBytes        int64
}

// StoreDirect writes a non-chunked upload straight into the uploads area,
// reserves its asset row, and enqueues the transcode job. Returns the new
// asset ID.
func (a *Assembler) StoreDirect(ctx context.Context, upload DirectUpload, body io.Reader) (string, error) {
	if upload.OriginalFileName == "" {
		return "", fmt.Errorf("%w: fileName is required", ErrInvalidInput)
	}
	storedName := StoredFileName(upload.OriginalFileName)
	assetID, err := a.cfg.Repository.InsertUploading(ctx, storage.NewAsset{
		Title:            upload.Title,
		Description:      upload.Description,
		FileName:         storedName,
		OriginalFileName: upload.OriginalFileName,
		SizeBytes:        upload.SizeBytes,
	})
	if err != nil {
		return "", fmt.Errorf("reserve asset: %w", err)
	}

	destination := filepath.Join(a.cfg.UploadsDir, storedName)
	partial := destination + ".part"
	out, err := os.Create(partial)
	if err != nil {
		return "", fmt.Errorf("create upload destination: %w", err)
	}
	if _, err := io.Copy(out, body); err != nil {
		out.Close()
		os.Remove(partial)
		return "", fmt.Errorf("store upload: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(partial)
		return "", fmt.Errorf("flush upload: %w", err)
	}
	if err := os.Rename(partial, destination); err != nil {
		os.Remove(partial)
		return "", fmt.Errorf("publish upload: %w", err)
	}

	if err := a.cfg.Repository.UpdateStatus(ctx, assetID, models.StatusProcessing); err != nil {
		return "", fmt.Errorf("advance asset to processing: %w", err)
	}
	job := models.TranscodeJob{AssetID: assetID, FileName: storedName, SourcePath: destination}
	if err := a.cfg.Queue.Push(ctx, job); err != nil {
		a.logger.Error("enqueue after direct upload failed; asset left for startup recovery",
			"asset_id", assetID, "error", err)
		return "", fmt.Errorf("enqueue transcode job: %w", err)
	}
	return assetID, nil
}
