package ladder

import (
	"errors"
	"testing"
)

func TestPlanFullLadder(t *testing.T) {
	variants, err := Plan(1080)
	if err != nil {
		t.Fatalf("plan 1080: %v", err)
	}
	wantNames := []string{"1080p", "720p", "480p", "360p"}
	if len(variants) != len(wantNames) {
		t.Fatalf("expected %d variants, got %d", len(wantNames), len(variants))
	}
	for i, name := range wantNames {
		if variants[i].Name != name {
			t.Fatalf("variant %d: expected %s, got %s", i, name, variants[i].Name)
		}
	}
	wantBitrates := []int{5000, 3000, 1500, 800}
	for i, kbps := range wantBitrates {
		if variants[i].VideoBitrateKbps != kbps {
			t.Fatalf("variant %s: expected %d kbps, got %d", variants[i].Name, kbps, variants[i].VideoBitrateKbps)
		}
	}
}

func TestPlanIntermediateHeight(t *testing.T) {
	variants, err := Plan(500)
	if err != nil {
		t.Fatalf("plan 500: %v", err)
	}
	if len(variants) != 2 {
		t.Fatalf("expected 2 variants, got %d", len(variants))
	}
	if variants[0].Name != "480p" || variants[1].Name != "360p" {
		t.Fatalf("unexpected variants %s, %s", variants[0].Name, variants[1].Name)
	}
}

func TestPlanTooLow(t *testing.T) {
	if _, err := Plan(200); !errors.Is(err, ErrSourceTooLowResolution) {
		t.Fatalf("expected ErrSourceTooLowResolution, got %v", err)
	}
	if _, err := Plan(MinHeight - 1); !errors.Is(err, ErrSourceTooLowResolution) {
		t.Fatalf("expected ErrSourceTooLowResolution just below the lowest rung, got %v", err)
	}
}

func TestPlanMonotonic(t *testing.T) {
	heights := []int{360, 480, 500, 720, 1080, 2160}
	var previous map[string]bool
	for _, h := range heights {
		variants, err := Plan(h)
		if err != nil {
			t.Fatalf("plan %d: %v", h, err)
		}
		names := make(map[string]bool, len(variants))
		for _, v := range variants {
			names[v.Name] = true
		}
		for name := range previous {
			if !names[name] {
				t.Fatalf("plan(%d) dropped %s present at a lower source height", h, name)
			}
		}
		previous = names
	}
}

func TestPlanResolutionStrings(t *testing.T) {
	variants, err := Plan(720)
	if err != nil {
		t.Fatalf("plan 720: %v", err)
	}
	if variants[0].Resolution() != "1280x720" {
		t.Fatalf("expected 1280x720, got %s", variants[0].Resolution())
	}
	if variants[len(variants)-1].Resolution() != "640x360" {
		t.Fatalf("expected 640x360, got %s", variants[len(variants)-1].Resolution())
	}
}
