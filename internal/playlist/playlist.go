// Package playlist synthesizes the master HLS manifest for an asset.
package playlist

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"vodforge/internal/models"
)

// ErrWriteFailed indicates the master playlist could not be published. The
// pipeline fails the job; a missing master is preferable to a torn one.
var ErrWriteFailed = errors.New("master playlist write failed")

const header = "#EXTM3U\n#EXT-X-VERSION:3\n"

// Build renders the master playlist for the given variants in planner order.
// The output is a pure function of its input: identical variant lists always
// yield identical text, since the result is a cached, served artifact.
func Build(variants []models.QualityVariant) string {
	var b strings.Builder
	b.WriteString(header)
	for _, v := range variants {
		fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%s\n", v.VideoBitrateKbps*1000, v.Resolution())
		b.WriteString(v.PlaylistRelPath)
		b.WriteByte('\n')
	}
	return b.String()
}

// Write renders the master playlist and writes it atomically next to the
// variant directories. A partially written manifest is never left at the
// final path.
func Write(path string, variants []models.QualityVariant) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "playlist-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create: %v", ErrWriteFailed, err)
	}
	if _, err := tmp.WriteString(Build(variants)); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: write: %v", ErrWriteFailed, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: close: %v", ErrWriteFailed, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: publish: %v", ErrWriteFailed, err)
	}
	return nil
}
