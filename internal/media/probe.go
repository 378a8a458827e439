// Package media wraps the external ffprobe/ffmpeg binaries behind small
// interfaces the pipeline can drive and tests can fake.
package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrProbeFailed indicates the source could not be parsed as media. Probe
// failures terminate the job; they are never retried.
var ErrProbeFailed = errors.New("source probe failed")

// SourceInfo captures the properties the planner and encoder need from an
// assembled source file.
type SourceInfo struct {
	DurationSeconds float64
	Width           int
	Height          int
	FrameRate       float64
	VideoCodec      string
	AudioCodec      string
	BitrateKbps     int
}

// Prober inspects assembled source files with ffprobe.
type Prober struct {
	binary string
	runner Runner
}

func NewProber(binary string, runner Runner) *Prober {
	if strings.TrimSpace(binary) == "" {
		binary = "ffprobe"
	}
	return &Prober{binary: binary, runner: runner}
}

type ffprobeOutput struct {
	Streams []struct {
		CodecType  string `json:"codec_type"`
		CodecName  string `json:"codec_name"`
		Width      int    `json:"width,omitempty"`
		Height     int    `json:"height,omitempty"`
		RFrameRate string `json:"r_frame_rate,omitempty"`
		Duration   string `json:"duration,omitempty"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
		BitRate  string `json:"bit_rate"`
	} `json:"format"`
}

// Probe extracts duration, resolution, codecs, and frame rate from the file
// at path. Any failure to execute or parse is wrapped as ErrProbeFailed.
func (p *Prober) Probe(ctx context.Context, path string) (SourceInfo, error) {
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}
	raw, err := p.runner.Output(ctx, p.binary, args...)
	if err != nil {
		return SourceInfo{}, fmt.Errorf("%w: %s: %v", ErrProbeFailed, path, err)
	}
	var out ffprobeOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return SourceInfo{}, fmt.Errorf("%w: decode ffprobe output: %v", ErrProbeFailed, err)
	}

	var info SourceInfo
	if out.Format.Duration != "" {
		if duration, err := strconv.ParseFloat(out.Format.Duration, 64); err == nil {
			info.DurationSeconds = duration
		}
	}
	if out.Format.BitRate != "" {
		if bitrate, err := strconv.Atoi(out.Format.BitRate); err == nil {
			info.BitrateKbps = bitrate / 1000
		}
	}
	for _, stream := range out.Streams {
		switch stream.CodecType {
		case "video":
			if info.Width != 0 {
				continue
			}
			info.Width = stream.Width
			info.Height = stream.Height
			info.VideoCodec = stream.CodecName
			if rate, err := ParseRational(stream.RFrameRate); err == nil {
				info.FrameRate = rate
			}
			if info.DurationSeconds == 0 && stream.Duration != "" {
				if duration, err := strconv.ParseFloat(stream.Duration, 64); err == nil {
					info.DurationSeconds = duration
				}
			}
		case "audio":
			if info.AudioCodec == "" {
				info.AudioCodec = stream.CodecName
			}
		}
	}
	if info.Width <= 0 || info.Height <= 0 {
		return SourceInfo{}, fmt.Errorf("%w: no video stream in %s", ErrProbeFailed, path)
	}
	return info, nil
}

// ParseRational evaluates a frame-rate ratio of the form "n/d" (ffprobe's
// r_frame_rate). A bare number is accepted as-is; a zero denominator is an
// error.
func ParseRational(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("empty ratio")
	}
	num, den, found := strings.Cut(raw, "/")
	if !found {
		return strconv.ParseFloat(num, 64)
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(num), 64)
	if err != nil {
		return 0, fmt.Errorf("parse ratio numerator %q: %w", raw, err)
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(den), 64)
	if err != nil {
		return 0, fmt.Errorf("parse ratio denominator %q: %w", raw, err)
	}
	if d == 0 {
		return 0, fmt.Errorf("zero denominator in ratio %q", raw)
	}
	return n / d, nil
}
