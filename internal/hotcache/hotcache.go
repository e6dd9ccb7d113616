// Package hotcache mirrors the first seconds of a freshly transcoded video
// into a local directory so a co-located edge server can answer the initial
// manifest and segment requests without a storage round trip.
package hotcache

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// segmentsPerRendition bounds how much of each rendition is mirrored.
const segmentsPerRendition = 2

// Populate copies the master manifest plus the first segments of every
// rendition from a finished job's output tree into cacheRoot/destPrefix.
// Returns the number of files cached.
func Populate(outDir, destPrefix, cacheRoot string) (int, error) {
	if strings.TrimSpace(cacheRoot) == "" {
		return 0, nil
	}
	target := filepath.Join(cacheRoot, filepath.FromSlash(destPrefix))
	if err := os.MkdirAll(target, 0o755); err != nil {
		return 0, fmt.Errorf("prepare hot cache dir: %w", err)
	}

	copied := 0
	master := filepath.Join(outDir, "master.m3u8")
	if err := copyFile(master, filepath.Join(target, "master.m3u8")); err != nil {
		return copied, err
	}
	copied++

	entries, err := os.ReadDir(outDir)
	if err != nil {
		return copied, fmt.Errorf("read output tree: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		renditionDir := filepath.Join(outDir, entry.Name())
		cacheDir := filepath.Join(target, entry.Name())
		if err := os.MkdirAll(cacheDir, 0o755); err != nil {
			return copied, err
		}
		if err := copyFile(filepath.Join(renditionDir, "playlist.m3u8"), filepath.Join(cacheDir, "playlist.m3u8")); err != nil {
			return copied, err
		}
		copied++
		for _, segment := range firstSegments(renditionDir) {
			if err := copyFile(filepath.Join(renditionDir, segment), filepath.Join(cacheDir, segment)); err != nil {
				return copied, err
			}
			copied++
		}
	}
	return copied, nil
}

// firstSegments returns up to segmentsPerRendition segment filenames in
// lexical order; the version token and zero-padded index make lexical order
// match playback order within one job.
func firstSegments(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var segments []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".ts") {
			segments = append(segments, entry.Name())
		}
	}
	sort.Strings(segments)
	if len(segments) > segmentsPerRendition {
		segments = segments[:segmentsPerRendition]
	}
	return segments
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}
