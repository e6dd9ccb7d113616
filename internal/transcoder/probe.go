// Package transcoder wraps the external ffmpeg/ffprobe binaries: source
// probing, rendition ladder planning, and HLS output with a master manifest.
package transcoder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// runCommand executes a binary and returns stdout. Tests swap it out to
// simulate prober and transcoder behavior without the binaries installed.
var runCommand = func(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return nil, fmt.Errorf("%s: %w: %s", name, err, lastLine(detail))
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return stdout.Bytes(), nil
}

func lastLine(s string) string {
	lines := strings.Split(s, "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

// SourceInfo describes the probed video stream of an input file.
type SourceInfo struct {
	Width    int
	Height   int
	Duration float64
	Codec    string
}

type probeOutput struct {
	Streams []struct {
		CodecName string `json:"codec_name"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe inspects a local file with ffprobe. It fails when the file has no
// video stream or reports zero dimensions; downstream ladder planning cannot
// work with either.
func (t *Transcoder) Probe(ctx context.Context, path string) (SourceInfo, error) {
	if _, err := os.Stat(path); err != nil {
		return SourceInfo{}, fmt.Errorf("probe %s: %w", path, err)
	}
	out, err := runCommand(ctx, t.ffprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=codec_name,width,height",
		"-show_entries", "format=duration",
		"-of", "json",
		path,
	)
	if err != nil {
		return SourceInfo{}, fmt.Errorf("probe %s: %w", path, err)
	}
	var parsed probeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return SourceInfo{}, fmt.Errorf("probe %s: decode output: %w", path, err)
	}
	if len(parsed.Streams) == 0 {
		return SourceInfo{}, fmt.Errorf("probe %s: no video stream", path)
	}
	stream := parsed.Streams[0]
	if stream.Width <= 0 || stream.Height <= 0 {
		return SourceInfo{}, fmt.Errorf("probe %s: invalid dimensions %dx%d", path, stream.Width, stream.Height)
	}
	info := SourceInfo{Width: stream.Width, Height: stream.Height, Codec: stream.CodecName}
	if raw := strings.TrimSpace(parsed.Format.Duration); raw != "" {
		if seconds, err := strconv.ParseFloat(raw, 64); err == nil {
			info.Duration = seconds
		}
	}
	return info, nil
}
