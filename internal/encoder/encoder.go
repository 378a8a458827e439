// Package encoder drives the external ffmpeg process, once per planned
// quality variant plus one thumbnail capture per job.
package encoder

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"vodforge/internal/media"
	"vodforge/internal/models"
)

const (
	defaultAudioBitrateKbps = 128
	defaultSegmentSeconds   = 10
	thumbnailWidth          = 640
	// thumbnailPosition places the capture at 10% of playback.
	thumbnailPosition = 0.1
)

// EncodeError reports which variant's encode failed. The pipeline fails the
// whole job on the first variant failure.
type EncodeError struct {
	Variant string
	Err     error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode %s: %v", e.Variant, e.Err)
}

func (e *EncodeError) Unwrap() error {
	return e.Err
}

// Config wires the encoder to its ffmpeg binary and process runner.
type Config struct {
	Binary           string
	Runner           media.Runner
	Logger           *slog.Logger
	AudioBitrateKbps int
	SegmentSeconds   int
	// OnProgress, when set, receives encode progress per variant as a
	// percentage. Observability only; never used for control flow.
	OnProgress func(variant string, percent float64)
}

// Encoder invokes ffmpeg for variant encodes and thumbnail captures.
type Encoder struct {
	binary      string
	runner      media.Runner
	logger      *slog.Logger
	audioKbps   int
	segmentSecs int
	onProgress  func(string, float64)
}

// New initialises an encoder, defaulting the binary to "ffmpeg" on PATH.
func New(cfg Config) *Encoder {
	binary := cfg.Binary
	if binary == "" {
		binary = "ffmpeg"
	}
	runner := cfg.Runner
	if runner == nil {
		runner = media.CommandRunner{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	audio := cfg.AudioBitrateKbps
	if audio <= 0 {
		audio = defaultAudioBitrateKbps
	}
	segment := cfg.SegmentSeconds
	if segment <= 0 {
		segment = defaultSegmentSeconds
	}
	return &Encoder{
		binary:      binary,
		runner:      runner,
		logger:      logger,
		audioKbps:   audio,
		segmentSecs: segment,
		onProgress:  cfg.OnProgress,
	}
}

func (e *Encoder) variantArgs(sourcePath string, variant models.QualityVariant) []string {
	kbps := variant.VideoBitrateKbps
	return []string{
		"-y",
		"-i", sourcePath,
		"-vf", fmt.Sprintf("scale=%d:%d", variant.Width, variant.Height),
		"-c:v", "libx264",
		"-profile:v", "main",
		"-b:v", fmt.Sprintf("%dk", kbps),
		"-maxrate", fmt.Sprintf("%dk", kbps*3/2),
		"-bufsize", fmt.Sprintf("%dk", kbps*2),
		"-c:a", "aac",
		"-b:a", fmt.Sprintf("%dk", e.audioKbps),
		"-f", "hls",
		"-hls_time", strconv.Itoa(e.segmentSecs),
		"-hls_list_size", "0",
		"-hls_playlist_type", "vod",
		"-start_number", "0",
		"-hls_segment_filename", filepath.Join(variant.OutputDir, "segment%03d.ts"),
		filepath.Join(variant.OutputDir, "playlist.m3u8"),
	}
}

// EncodeVariant produces one quality rendition: segmented media files plus a
// variant playlist under variant.OutputDir. durationSeconds drives progress
// reporting and may be zero when unknown. Returns the playlist path relative
// to the asset's output root.
func (e *Encoder) EncodeVariant(ctx context.Context, sourcePath string, variant models.QualityVariant, durationSeconds float64) (string, error) {
	if err := os.MkdirAll(variant.OutputDir, 0o755); err != nil {
		return "", &EncodeError{Variant: variant.Name, Err: fmt.Errorf("create output dir: %w", err)}
	}
	sink := &progressSink{
		duration: durationSeconds,
		report: func(percent float64) {
			e.logger.Debug("encode progress", "variant", variant.Name, "percent", int(percent))
			if e.onProgress != nil {
				e.onProgress(variant.Name, percent)
			}
		},
	}
	args := e.variantArgs(sourcePath, variant)
	e.logger.Info("encoding variant",
		"variant", variant.Name,
		"resolution", variant.Resolution(),
		"bitrate_kbps", variant.VideoBitrateKbps)
	if err := e.runner.Run(ctx, sink, e.binary, args...); err != nil {
		return "", &EncodeError{Variant: variant.Name, Err: err}
	}
	return variant.PlaylistRelPath, nil
}

// Thumbnail captures a single representative frame from the source near the
// start of playback, scaled to a fixed width with even height.
func (e *Encoder) Thumbnail(ctx context.Context, sourcePath, outputPath string, durationSeconds float64) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("create thumbnail dir: %w", err)
	}
	offset := durationSeconds * thumbnailPosition
	args := []string{
		"-y",
		"-ss", strconv.FormatFloat(offset, 'f', 2, 64),
		"-i", sourcePath,
		"-vframes", "1",
		"-vf", fmt.Sprintf("scale=%d:-2", thumbnailWidth),
		outputPath,
	}
	if err := e.runner.Run(ctx, &bytes.Buffer{}, e.binary, args...); err != nil {
		return fmt.Errorf("capture thumbnail: %w", err)
	}
	return nil
}

// progressSink scans ffmpeg's stderr stream for time= markers and converts
// them to a completion percentage against the probed duration.
type progressSink struct {
	duration float64
	report   func(percent float64)
	partial  []byte
	last     int
}

func (s *progressSink) Write(p []byte) (int, error) {
	s.partial = append(s.partial, p...)
	// ffmpeg terminates status lines with \r, full lines with \n.
	for {
		idx := bytes.IndexAny(s.partial, "\r\n")
		if idx < 0 {
			break
		}
		line := string(s.partial[:idx])
		s.partial = s.partial[idx+1:]
		if seconds, ok := parseProgressLine(line); ok && s.duration > 0 {
			percent := seconds / s.duration * 100
			if percent > 100 {
				percent = 100
			}
			if whole := int(percent); whole > s.last {
				s.last = whole
				s.report(percent)
			}
		}
	}
	return len(p), nil
}

// parseProgressLine extracts the elapsed seconds from an ffmpeg status line
// such as "frame= 120 fps= 30 ... time=00:00:12.34 bitrate= ...".
func parseProgressLine(line string) (float64, bool) {
	_, rest, found := strings.Cut(line, "time=")
	if !found {
		return 0, false
	}
	stamp, _, _ := strings.Cut(strings.TrimSpace(rest), " ")
	parts := strings.Split(stamp, ":")
	if len(parts) != 3 {
		return 0, false
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, false
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, false
	}
	seconds, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return 0, false
	}
	return float64(hours*3600+minutes*60) + seconds, true
}
