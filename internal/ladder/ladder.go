// Package ladder derives the set of output qualities for a probed source.
package ladder

import (
	"errors"

	"vodforge/internal/models"
)

// ErrSourceTooLowResolution indicates the source is below the lowest ladder
// rung. Upscaling is never performed, so such jobs fail.
var ErrSourceTooLowResolution = errors.New("source resolution below lowest ladder rung")

type rung struct {
	name             string
	width            int
	height           int
	videoBitrateKbps int
}

// The reference ladder, highest quality first. The planner preserves this
// order and the master playlist mirrors it.
var reference = []rung{
	{name: "1080p", width: 1920, height: 1080, videoBitrateKbps: 5000},
	{name: "720p", width: 1280, height: 720, videoBitrateKbps: 3000},
	{name: "480p", width: 854, height: 480, videoBitrateKbps: 1500},
	{name: "360p", width: 640, height: 360, videoBitrateKbps: 800},
}

// MinHeight is the lowest source height the ladder can serve.
const MinHeight = 360

// Plan selects every reference rung whose height does not exceed the source
// height, in descending quality order. A source below the lowest rung yields
// ErrSourceTooLowResolution.
func Plan(sourceHeight int) ([]models.QualityVariant, error) {
	var variants []models.QualityVariant
	for _, r := range reference {
		if r.height > sourceHeight {
			continue
		}
		variants = append(variants, models.QualityVariant{
			Name:             r.name,
			Height:           r.height,
			Width:            r.width,
			VideoBitrateKbps: r.videoBitrateKbps,
		})
	}
	if len(variants) == 0 {
		return nil, ErrSourceTooLowResolution
	}
	return variants, nil
}
