package transcoder

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Rendition is one target quality level in the ladder. MaxBitrate and
// BufferSize use ffmpeg's suffix notation ("2800k").
type Rendition struct {
	Name         string
	TargetHeight int
	MaxBitrate   string
	BufferSize   string
}

// PlannedRendition is a ladder entry resolved against a probed source:
// aspect-preserving width and manifest bandwidth are fixed for the job.
type PlannedRendition struct {
	Rendition
	Width     int
	Bandwidth int
}

// DefaultLadder is the ladder used when a job does not request one.
func DefaultLadder() []Rendition {
	return []Rendition{
		{Name: "1080p", TargetHeight: 1080, MaxBitrate: "5000k", BufferSize: "7500k"},
		{Name: "720p", TargetHeight: 720, MaxBitrate: "2800k", BufferSize: "4200k"},
		{Name: "480p", TargetHeight: 480, MaxBitrate: "1400k", BufferSize: "2100k"},
		{Name: "360p", TargetHeight: 360, MaxBitrate: "800k", BufferSize: "1200k"},
	}
}

// ParseBitrate converts ffmpeg bitrate notation to bits per second.
// "5000k" -> 5000000, "2.5M" -> 2500000, bare numbers pass through.
func ParseBitrate(raw string) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, fmt.Errorf("bitrate is empty")
	}
	multiplier := 1.0
	switch trimmed[len(trimmed)-1] {
	case 'k', 'K':
		multiplier = 1e3
		trimmed = trimmed[:len(trimmed)-1]
	case 'm', 'M':
		multiplier = 1e6
		trimmed = trimmed[:len(trimmed)-1]
	}
	value, err := strconv.ParseFloat(trimmed, 64)
	if err != nil || value <= 0 {
		return 0, fmt.Errorf("invalid bitrate %q", raw)
	}
	return int(math.Round(value * multiplier)), nil
}

// PlanLadder filters the requested ladder against the probed source height
// and resolves width and bandwidth per surviving entry. Renditions taller
// than the source are dropped; if nothing survives, the smallest configured
// rendition is kept so every job produces at least one output.
func PlanLadder(src SourceInfo, ladder []Rendition) ([]PlannedRendition, error) {
	if len(ladder) == 0 {
		ladder = DefaultLadder()
	}
	selected := make([]Rendition, 0, len(ladder))
	for _, r := range ladder {
		if r.TargetHeight <= src.Height {
			selected = append(selected, r)
		}
	}
	if len(selected) == 0 {
		smallest := ladder[0]
		for _, r := range ladder[1:] {
			if r.TargetHeight < smallest.TargetHeight {
				smallest = r
			}
		}
		selected = append(selected, smallest)
	}

	planned := make([]PlannedRendition, 0, len(selected))
	for _, r := range selected {
		bitrate, err := ParseBitrate(r.MaxBitrate)
		if err != nil {
			return nil, fmt.Errorf("rendition %s: %w", r.Name, err)
		}
		planned = append(planned, PlannedRendition{
			Rendition: r,
			Width:     scaledWidth(src, r.TargetHeight),
			Bandwidth: int(math.Round(float64(bitrate) * 1.2)),
		})
	}
	return planned, nil
}

// scaledWidth preserves the source aspect ratio and rounds to an even pixel
// count; odd widths break the encoder's chroma subsampling.
func scaledWidth(src SourceInfo, targetHeight int) int {
	width := float64(src.Width) * float64(targetHeight) / float64(src.Height)
	even := int(math.Round(width/2)) * 2
	if even < 2 {
		even = 2
	}
	return even
}
