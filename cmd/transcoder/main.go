// Command transcoder runs the encode pipeline against one local file. It is
// an operator tool for reprocessing a source without going through the HTTP
// upload surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"vodforge/internal/encoder"
	"vodforge/internal/ladder"
	"vodforge/internal/media"
	"vodforge/internal/models"
	"vodforge/internal/observability/logging"
	"vodforge/internal/playlist"
)

func main() {
	input := flag.String("input", "", "path to the source video file")
	output := flag.String("output", "", "directory receiving renditions and the master playlist")
	thumbnail := flag.String("thumbnail", "", "optional path for a thumbnail capture")
	ffmpegBinary := flag.String("ffmpeg", "", "path to the ffmpeg binary")
	ffprobeBinary := flag.String("ffprobe", "", "path to the ffprobe binary")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	flag.Parse()

	logger := logging.Init(logging.Config{Level: *logLevel, Format: "text"})

	if err := validateArgs(*input, *output); err != nil {
		logger.Error("invalid arguments", "error", err)
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner := media.NewCommandRunner()
	probe := media.NewProber(*ffprobeBinary, runner)
	enc := encoder.New(encoder.Config{
		Binary: *ffmpegBinary,
		Runner: runner,
		Logger: logger,
		OnProgress: func(variant string, percent float64) {
			logger.Info("encode progress", "variant", variant, "percent", percent)
		},
	})

	if err := transcode(ctx, probe, enc, *input, *output, *thumbnail, logger.Info); err != nil {
		logger.Error("transcode failed", "error", err)
		os.Exit(1)
	}
	logger.Info("transcode completed", "output", *output)
}

func validateArgs(input, output string) error {
	if strings.TrimSpace(input) == "" {
		return fmt.Errorf("-input is required")
	}
	if strings.TrimSpace(output) == "" {
		return fmt.Errorf("-output is required")
	}
	return nil
}

type prober interface {
	Probe(ctx context.Context, path string) (media.SourceInfo, error)
}

type variantEncoder interface {
	EncodeVariant(ctx context.Context, sourcePath string, variant models.QualityVariant, durationSeconds float64) (string, error)
	Thumbnail(ctx context.Context, sourcePath, outputPath string, durationSeconds float64) error
}

func transcode(ctx context.Context, p prober, enc variantEncoder, input, output, thumbnail string, report func(string, ...any)) error {
	info, err := p.Probe(ctx, input)
	if err != nil {
		return err
	}
	report("source probed",
		"duration_seconds", info.DurationSeconds,
		"resolution", fmt.Sprintf("%dx%d", info.Width, info.Height))

	variants, err := ladder.Plan(info.Height)
	if err != nil {
		return err
	}
	for i := range variants {
		variants[i].OutputDir = filepath.Join(output, variants[i].Name)
		variants[i].PlaylistRelPath = variants[i].Name + "/playlist.m3u8"
	}

	for _, variant := range variants {
		report("encoding variant", "variant", variant.Name, "bitrate_kbps", variant.VideoBitrateKbps)
		if _, err := enc.EncodeVariant(ctx, input, variant, info.DurationSeconds); err != nil {
			return err
		}
	}

	if thumbnail != "" {
		if err := enc.Thumbnail(ctx, input, thumbnail, info.DurationSeconds); err != nil {
			return err
		}
	}

	return playlist.Write(filepath.Join(output, "playlist.m3u8"), variants)
}
