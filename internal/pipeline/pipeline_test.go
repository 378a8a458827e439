package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"vodforge/internal/encoder"
	"vodforge/internal/media"
	"vodforge/internal/models"
	"vodforge/internal/observability/metrics"
	"vodforge/internal/queue"
	"vodforge/internal/storage"
)

type fakeProber struct {
	info media.SourceInfo
	err  error
}

func (f *fakeProber) Probe(ctx context.Context, path string) (media.SourceInfo, error) {
	if f.err != nil {
		return media.SourceInfo{}, f.err
	}
	return f.info, nil
}

type fakeEncoder struct {
	encoded    []string
	thumbnails []string
	failOn     string
}

func (f *fakeEncoder) EncodeVariant(ctx context.Context, sourcePath string, variant models.QualityVariant, durationSeconds float64) (string, error) {
	if variant.Name == f.failOn {
		return "", &encoder.EncodeError{Variant: variant.Name, Err: errors.New("exit status 1")}
	}
	if err := os.MkdirAll(variant.OutputDir, 0o755); err != nil {
		return "", err
	}
	f.encoded = append(f.encoded, variant.Name)
	return variant.PlaylistRelPath, nil
}

func (f *fakeEncoder) Thumbnail(ctx context.Context, sourcePath, outputPath string, durationSeconds float64) error {
	f.thumbnails = append(f.thumbnails, outputPath)
	return nil
}

type fixture struct {
	worker   *Worker
	repo     *storage.MemoryRepository
	queue    queue.Queue
	enc      *fakeEncoder
	recorder *metrics.Recorder
	hlsDir   string
	thumbDir string
	uploads  string
}

func newFixture(t *testing.T, prober Prober, enc *fakeEncoder) *fixture {
	t.Helper()
	repo := storage.NewMemoryRepository()
	q := queue.NewMemoryQueue()
	t.Cleanup(func() {
		_ = q.Close()
	})
	root := t.TempDir()
	recorder := metrics.New()
	worker, err := NewWorker(Config{
		Repository:   repo,
		Queue:        q,
		Prober:       prober,
		Encoder:      enc,
		HLSDir:       filepath.Join(root, "hls"),
		ThumbnailDir: filepath.Join(root, "thumbnails"),
		UploadsDir:   filepath.Join(root, "uploads"),
		PollInterval: 20 * time.Millisecond,
		Metrics:      recorder,
	})
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	return &fixture{
		worker:   worker,
		repo:     repo,
		queue:    q,
		enc:      enc,
		recorder: recorder,
		hlsDir:   filepath.Join(root, "hls"),
		thumbDir: filepath.Join(root, "thumbnails"),
		uploads:  filepath.Join(root, "uploads"),
	}
}

func (f *fixture) newProcessingAsset(t *testing.T, name string) models.TranscodeJob {
	t.Helper()
	ctx := context.Background()
	id, err := f.repo.InsertUploading(ctx, storage.NewAsset{FileName: name})
	if err != nil {
		t.Fatalf("insert asset: %v", err)
	}
	if err := f.repo.UpdateStatus(ctx, id, models.StatusProcessing); err != nil {
		t.Fatalf("advance asset: %v", err)
	}
	return models.TranscodeJob{
		AssetID:    id,
		FileName:   name,
		SourcePath: filepath.Join(f.uploads, name),
	}
}

func TestProcessSuccess(t *testing.T) {
	enc := &fakeEncoder{}
	f := newFixture(t, &fakeProber{info: media.SourceInfo{
		DurationSeconds: 30,
		Width:           1920,
		Height:          1080,
	}}, enc)
	ctx := context.Background()
	job := f.newProcessingAsset(t, "video-a.mp4")

	f.worker.Process(ctx, job)

	asset, err := f.repo.GetAsset(ctx, job.AssetID)
	if err != nil {
		t.Fatalf("get asset: %v", err)
	}
	if asset.Status != models.StatusCompleted {
		t.Fatalf("expected completed, got %s", asset.Status)
	}
	if asset.DurationSeconds != 30 || asset.Resolution() != "1920x1080" {
		t.Fatalf("derived fields not persisted: %+v", asset)
	}

	wantOrder := []string{"1080p", "720p", "480p", "360p"}
	if fmt.Sprint(enc.encoded) != fmt.Sprint(wantOrder) {
		t.Fatalf("expected encode order %v, got %v", wantOrder, enc.encoded)
	}

	wantThumb := filepath.Join(f.thumbDir, job.AssetID+".jpg")
	if len(enc.thumbnails) != 1 || enc.thumbnails[0] != wantThumb {
		t.Fatalf("expected thumbnail at %s, got %v", wantThumb, enc.thumbnails)
	}
	if asset.ThumbnailPath != wantThumb {
		t.Fatalf("thumbnail path not persisted: %q", asset.ThumbnailPath)
	}

	master, err := os.ReadFile(asset.MasterPlaylistPath)
	if err != nil {
		t.Fatalf("read master playlist: %v", err)
	}
	text := string(master)
	if count := strings.Count(text, "#EXT-X-STREAM-INF"); count != 4 {
		t.Fatalf("expected 4 stream-inf lines, got %d:\n%s", count, text)
	}
	for _, bandwidth := range []string{"5000000", "3000000", "1500000", "800000"} {
		if !strings.Contains(text, "BANDWIDTH="+bandwidth+",") {
			t.Fatalf("master playlist missing bandwidth %s:\n%s", bandwidth, text)
		}
	}

	events, _ := f.recorder.JobCounts()
	if events["completed"] != 1 {
		t.Fatalf("expected 1 completed job, got %v", events)
	}
	if f.recorder.ActiveJobs() != 0 {
		t.Fatalf("gauge must return to 0, got %d", f.recorder.ActiveJobs())
	}
}

func TestProcessMiddleVariantFailure(t *testing.T) {
	enc := &fakeEncoder{failOn: "720p"}
	f := newFixture(t, &fakeProber{info: media.SourceInfo{
		DurationSeconds: 30,
		Width:           1920,
		Height:          1080,
	}}, enc)
	ctx := context.Background()
	job := f.newProcessingAsset(t, "video-b.mp4")

	f.worker.Process(ctx, job)

	asset, err := f.repo.GetAsset(ctx, job.AssetID)
	if err != nil {
		t.Fatalf("get asset: %v", err)
	}
	if asset.Status != models.StatusError {
		t.Fatalf("expected error status, got %s", asset.Status)
	}
	if fmt.Sprint(enc.encoded) != fmt.Sprint([]string{"1080p"}) {
		t.Fatalf("expected encoding to stop at the failed variant, got %v", enc.encoded)
	}
	// No master playlist may reference a missing variant.
	masterPath := filepath.Join(f.hlsDir, job.AssetID, "playlist.m3u8")
	if _, err := os.Stat(masterPath); !os.IsNotExist(err) {
		t.Fatalf("master playlist must not exist after a variant failure, stat err=%v", err)
	}
	if reason := f.repo.ErrorReason(job.AssetID); !strings.Contains(reason, "720p") {
		t.Fatalf("expected failure reason to name the variant, got %q", reason)
	}

	_, failures := f.recorder.JobCounts()
	if failures["encode_failed"] != 1 {
		t.Fatalf("expected encode_failed counter, got %v", failures)
	}
}

func TestProcessSourceTooLow(t *testing.T) {
	enc := &fakeEncoder{}
	f := newFixture(t, &fakeProber{info: media.SourceInfo{
		DurationSeconds: 10,
		Width:           320,
		Height:          200,
	}}, enc)
	ctx := context.Background()
	job := f.newProcessingAsset(t, "video-c.mp4")

	f.worker.Process(ctx, job)

	asset, err := f.repo.GetAsset(ctx, job.AssetID)
	if err != nil {
		t.Fatalf("get asset: %v", err)
	}
	if asset.Status != models.StatusError {
		t.Fatalf("expected error status, got %s", asset.Status)
	}
	if len(enc.encoded) != 0 {
		t.Fatalf("expected no encodes, got %v", enc.encoded)
	}
	_, failures := f.recorder.JobCounts()
	if failures["source_too_low_resolution"] != 1 {
		t.Fatalf("expected source_too_low_resolution counter, got %v", failures)
	}
}

func TestProcessProbeFailure(t *testing.T) {
	enc := &fakeEncoder{}
	f := newFixture(t, &fakeProber{err: fmt.Errorf("%w: no such file", media.ErrProbeFailed)}, enc)
	ctx := context.Background()
	job := f.newProcessingAsset(t, "video-d.mp4")

	f.worker.Process(ctx, job)

	asset, err := f.repo.GetAsset(ctx, job.AssetID)
	if err != nil {
		t.Fatalf("get asset: %v", err)
	}
	if asset.Status != models.StatusError {
		t.Fatalf("expected error status, got %s", asset.Status)
	}
	_, failures := f.recorder.JobCounts()
	if failures["probe_failed"] != 1 {
		t.Fatalf("expected probe_failed counter, got %v", failures)
	}
}

func TestRecoverReenqueuesInterruptedJobs(t *testing.T) {
	enc := &fakeEncoder{}
	f := newFixture(t, &fakeProber{}, enc)
	ctx := context.Background()

	// Asset whose job survived the crash inside the durable queue.
	survived := f.newProcessingAsset(t, "video-survived.mp4")
	if err := f.queue.Push(ctx, survived); err != nil {
		t.Fatalf("push surviving job: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	// Asset whose queue entry was lost mid-processing.
	lost := f.newProcessingAsset(t, "video-lost.mp4")

	if err := f.worker.Recover(ctx); err != nil {
		t.Fatalf("recover: %v", err)
	}

	// Jobs submitted after startup come last.
	fresh := f.newProcessingAsset(t, "video-fresh.mp4")
	if err := f.queue.Push(ctx, fresh); err != nil {
		t.Fatalf("push fresh job: %v", err)
	}

	var order []string
	for i := 0; i < 3; i++ {
		job, ok, err := f.queue.PopBlocking(ctx, time.Second)
		if err != nil || !ok {
			t.Fatalf("pop %d: ok=%v err=%v", i, ok, err)
		}
		order = append(order, job.AssetID)
	}
	want := []string{survived.AssetID, lost.AssetID, fresh.AssetID}
	if fmt.Sprint(order) != fmt.Sprint(want) {
		t.Fatalf("expected pop order %v, got %v", want, order)
	}
}

func TestRecoverIsIdempotent(t *testing.T) {
	enc := &fakeEncoder{}
	f := newFixture(t, &fakeProber{}, enc)
	ctx := context.Background()
	lost := f.newProcessingAsset(t, "video-lost.mp4")

	if err := f.worker.Recover(ctx); err != nil {
		t.Fatalf("first recover: %v", err)
	}
	if err := f.worker.Recover(ctx); err != nil {
		t.Fatalf("second recover: %v", err)
	}

	pending, err := f.queue.Pending(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	count := 0
	for _, job := range pending {
		if job.AssetID == lost.AssetID {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one recovered entry, got %d", count)
	}
}

func TestRecoverFailsClosedWhenQueueUnavailable(t *testing.T) {
	enc := &fakeEncoder{}
	f := newFixture(t, &fakeProber{}, enc)
	ctx := context.Background()
	f.newProcessingAsset(t, "video-lost.mp4")

	if err := f.queue.Close(); err != nil {
		t.Fatalf("close queue: %v", err)
	}
	if err := f.worker.Recover(ctx); !errors.Is(err, queue.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestRunProcessesQueuedJobs(t *testing.T) {
	enc := &fakeEncoder{}
	f := newFixture(t, &fakeProber{info: media.SourceInfo{
		DurationSeconds: 5,
		Width:           854,
		Height:          480,
	}}, enc)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	job := f.newProcessingAsset(t, "video-run.mp4")
	if err := f.queue.Push(ctx, job); err != nil {
		t.Fatalf("push: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- f.worker.Run(ctx)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		asset, err := f.repo.GetAsset(ctx, job.AssetID)
		if err != nil {
			t.Fatalf("get asset: %v", err)
		}
		if asset.Status == models.StatusCompleted {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled from Run, got %v", err)
	}

	asset, err := f.repo.GetAsset(context.Background(), job.AssetID)
	if err != nil {
		t.Fatalf("get asset: %v", err)
	}
	if asset.Status != models.StatusCompleted {
		t.Fatalf("expected completed after Run, got %s", asset.Status)
	}
	if fmt.Sprint(enc.encoded) != fmt.Sprint([]string{"480p", "360p"}) {
		t.Fatalf("expected 480p ladder, got %v", enc.encoded)
	}
}
