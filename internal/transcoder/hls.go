package transcoder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"vodworks/internal/config"
)

// Transcoder drives ffmpeg and ffprobe for one job at a time. Safe for
// concurrent use; every invocation writes to its own output directory.
type Transcoder struct {
	ffmpegPath  string
	ffprobePath string
	logger      *slog.Logger
}

// Result describes a finished HLS transcode.
type Result struct {
	OutDir         string
	MasterPlaylist string
	Renditions     []PlannedRendition
	Source         SourceInfo
}

func New(cfg config.Transcode, logger *slog.Logger) *Transcoder {
	ffmpeg := strings.TrimSpace(cfg.FFmpegPath)
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	ffprobe := strings.TrimSpace(cfg.FFprobePath)
	if ffprobe == "" {
		ffprobe = "ffprobe"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Transcoder{ffmpegPath: ffmpeg, ffprobePath: ffprobe, logger: logger}
}

// TranscodeRendition encodes one rendition into outDir with the fixed
// profile: x264 at a constant quality factor, an explicit maxrate/bufsize
// pair, a 2s keyframe cadence, 4s VOD segments. The version token lands in
// every segment filename so a regenerated rendition never collides with
// segments a CDN already cached.
func (t *Transcoder) TranscodeRendition(ctx context.Context, input, outDir string, r PlannedRendition, version string) (string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("prepare %s: %w", outDir, err)
	}
	playlist := filepath.Join(outDir, "playlist.m3u8")
	segmentPattern := filepath.Join(outDir, fmt.Sprintf("%s_seg_%s_%%03d.ts", r.Name, version))
	args := []string{
		"-hide_banner", "-y",
		"-i", input,
		"-vf", fmt.Sprintf("scale=%d:%d", r.Width, r.TargetHeight),
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-crf", "20",
		"-sc_threshold", "0",
		"-g", "48",
		"-keyint_min", "48",
		"-maxrate", r.MaxBitrate,
		"-bufsize", r.BufferSize,
		"-c:a", "aac",
		"-b:a", "128k",
		"-ar", "48000",
		"-f", "hls",
		"-hls_time", "4",
		"-hls_playlist_type", "vod",
		"-hls_segment_filename", segmentPattern,
		playlist,
	}
	t.logger.Info("transcoding rendition", "rendition", r.Name, "width", r.Width, "height", r.TargetHeight)
	if _, err := runCommand(ctx, t.ffmpegPath, args...); err != nil {
		return "", fmt.Errorf("transcode %s: %w", r.Name, err)
	}
	return playlist, nil
}

// TranscodeToHLS probes the source once, plans the ladder against it, and
// encodes each surviving rendition sequentially into its own subdirectory of
// outputRoot. Any rendition failure aborts the whole job; a partial ladder is
// never published. The master manifest is written last.
func (t *Transcoder) TranscodeToHLS(ctx context.Context, input, outputRoot string, ladder []Rendition) (Result, error) {
	src, err := t.Probe(ctx, input)
	if err != nil {
		return Result{}, err
	}
	planned, err := PlanLadder(src, ladder)
	if err != nil {
		return Result{}, err
	}
	if err := os.MkdirAll(outputRoot, 0o755); err != nil {
		return Result{}, fmt.Errorf("prepare %s: %w", outputRoot, err)
	}

	version := uuid.NewString()[:8]
	for _, r := range planned {
		if _, err := t.TranscodeRendition(ctx, input, filepath.Join(outputRoot, r.Name), r, version); err != nil {
			return Result{}, err
		}
	}

	master := filepath.Join(outputRoot, "master.m3u8")
	if err := writeMasterManifest(master, planned); err != nil {
		return Result{}, err
	}
	return Result{OutDir: outputRoot, MasterPlaylist: master, Renditions: planned, Source: src}, nil
}

// writeMasterManifest emits one EXT-X-STREAM-INF entry per rendition, in
// transcode order, pointing at the rendition's playlist via a relative
// forward-slash path.
func writeMasterManifest(path string, renditions []PlannedRendition) error {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	for _, r := range renditions {
		fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%dx%d\n", r.Bandwidth, r.Width, r.TargetHeight)
		fmt.Fprintf(&b, "%s/playlist.m3u8\n", r.Name)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write master manifest: %w", err)
	}
	return nil
}
