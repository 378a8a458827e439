package models

import (
	"fmt"
	"time"
)

// AssetStatus tracks a media asset through the upload and transcode
// lifecycle. Transitions are linear: uploading -> processing -> completed or
// error. Both completed and error are terminal for the pipeline.
type AssetStatus string

const (
	StatusUploading  AssetStatus = "uploading"
	StatusProcessing AssetStatus = "processing"
	StatusCompleted  AssetStatus = "completed"
	StatusError      AssetStatus = "error"
)

// Valid reports whether the status is one of the known lifecycle states.
func (s AssetStatus) Valid() bool {
	switch s {
	case StatusUploading, StatusProcessing, StatusCompleted, StatusError:
		return true
	}
	return false
}

// MediaAsset is the durable record of one uploaded video. The pipeline only
// transitions Status and fills the derived fields; identity rows are created
// by the upload layer at init time and never deleted by the pipeline.
type MediaAsset struct {
	ID                 string
	Title              string
	Description        string
	FileName           string
	OriginalFileName   string
	SizeBytes          int64
	Status             AssetStatus
	DurationSeconds    float64
	Width              int
	Height             int
	MasterPlaylistPath string
	ThumbnailPath      string
	Views              int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Resolution renders the probed frame size as "WxH", or "" when unprobed.
func (a MediaAsset) Resolution() string {
	if a.Width <= 0 || a.Height <= 0 {
		return ""
	}
	return fmt.Sprintf("%dx%d", a.Width, a.Height)
}

// TranscodeJob is one unit of pipeline work: transcode one assembled source
// into its full variant set plus master playlist. Jobs live in the durable
// queue and are consumed exactly once by the pipeline worker.
type TranscodeJob struct {
	AssetID    string `json:"assetId"`
	FileName   string `json:"fileName"`
	SourcePath string `json:"sourcePath"`
}

// QualityVariant is one rung of the encode ladder resolved for a specific
// job. Variants are computed per job by the planner and never persisted.
type QualityVariant struct {
	Name             string
	Height           int
	Width            int
	VideoBitrateKbps int
	OutputDir        string
	PlaylistRelPath  string
}

// Resolution renders the variant's target frame size as "WxH".
func (v QualityVariant) Resolution() string {
	return fmt.Sprintf("%dx%d", v.Width, v.Height)
}
