package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"testing"
)

type fakeRunner struct {
	output []byte
	err    error
	calls  [][]string
}

func (f *fakeRunner) Output(_ context.Context, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	return f.output, f.err
}

func (f *fakeRunner) Run(_ context.Context, _ io.Writer, name string, args ...string) error {
	f.calls = append(f.calls, append([]string{name}, args...))
	return f.err
}

const sampleProbeJSON = `{
  "streams": [
    {"codec_type": "video", "codec_name": "h264", "width": 1920, "height": 1080, "r_frame_rate": "30000/1001"},
    {"codec_type": "audio", "codec_name": "aac"}
  ],
  "format": {"duration": "30.500000", "bit_rate": "6000000"}
}`

func TestProbeParsesSource(t *testing.T) {
	runner := &fakeRunner{output: []byte(sampleProbeJSON)}
	prober := NewProber("ffprobe", runner)

	info, err := prober.Probe(context.Background(), "/srv/uploads/video-1.mp4")
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if info.Width != 1920 || info.Height != 1080 {
		t.Fatalf("unexpected resolution %dx%d", info.Width, info.Height)
	}
	if info.DurationSeconds != 30.5 {
		t.Fatalf("unexpected duration %v", info.DurationSeconds)
	}
	if info.VideoCodec != "h264" || info.AudioCodec != "aac" {
		t.Fatalf("unexpected codecs %q/%q", info.VideoCodec, info.AudioCodec)
	}
	if info.BitrateKbps != 6000 {
		t.Fatalf("unexpected bitrate %d", info.BitrateKbps)
	}
	want := 30000.0 / 1001.0
	if math.Abs(info.FrameRate-want) > 1e-9 {
		t.Fatalf("unexpected frame rate %v, want %v", info.FrameRate, want)
	}
	if len(runner.calls) != 1 {
		t.Fatalf("expected one ffprobe invocation, got %d", len(runner.calls))
	}
	if got := strings.Join(runner.calls[0], " "); !strings.Contains(got, "-show_streams") || !strings.Contains(got, "/srv/uploads/video-1.mp4") {
		t.Fatalf("unexpected invocation %q", got)
	}
}

func TestProbeFallsBackToStreamDuration(t *testing.T) {
	runner := &fakeRunner{output: []byte(`{
  "streams": [{"codec_type": "video", "codec_name": "h264", "width": 640, "height": 360, "duration": "12.25"}],
  "format": {}
}`)}
	info, err := NewProber("", runner).Probe(context.Background(), "clip.mp4")
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if info.DurationSeconds != 12.25 {
		t.Fatalf("unexpected duration %v", info.DurationSeconds)
	}
}

func TestProbeFailures(t *testing.T) {
	cases := []struct {
		name   string
		runner *fakeRunner
	}{
		{name: "exec error", runner: &fakeRunner{err: fmt.Errorf("exit status 1")}},
		{name: "bad json", runner: &fakeRunner{output: []byte("not json")}},
		{name: "no video stream", runner: &fakeRunner{output: []byte(`{"streams":[{"codec_type":"audio","codec_name":"aac"}],"format":{}}`)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewProber("ffprobe", tc.runner).Probe(context.Background(), "broken.bin")
			if !errors.Is(err, ErrProbeFailed) {
				t.Fatalf("expected ErrProbeFailed, got %v", err)
			}
		})
	}
}

func TestParseRational(t *testing.T) {
	cases := []struct {
		raw  string
		want float64
		ok   bool
	}{
		{raw: "30/1", want: 30, ok: true},
		{raw: "30000/1001", want: 30000.0 / 1001.0, ok: true},
		{raw: "25", want: 25, ok: true},
		{raw: " 24/1 ", want: 24, ok: true},
		{raw: "0/0", ok: false},
		{raw: "", ok: false},
		{raw: "abc/def", ok: false},
	}
	for _, tc := range cases {
		got, err := ParseRational(tc.raw)
		if tc.ok != (err == nil) {
			t.Fatalf("%q: unexpected error state %v", tc.raw, err)
		}
		if tc.ok && math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("%q: got %v, want %v", tc.raw, got, tc.want)
		}
	}
}
