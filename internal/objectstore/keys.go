package objectstore

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// Key taxonomy shared by the ingestion gateway, the worker, and the proxy.
// These shapes are load-bearing: clients and the downstream LMS resolve
// content by reconstructing them, so they must not drift.

const (
	rawVideoRoot  = "uploads/videos/courses"
	tempRoot      = "uploads/temp"
	processedRoot = "videos"
	imageRoot     = "images"

	mediaRawFolder = "media-raw"
	introRawFolder = "intro-raw"
)

// SanitizeFilename normalizes a client-supplied filename to NFC and strips
// everything that is not safe inside an object key.
func SanitizeFilename(name string) string {
	name = norm.NFC.String(strings.TrimSpace(name))
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-', r == '_', r == '.':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('-')
		}
	}
	if b.Len() == 0 {
		return "file"
	}
	return b.String()
}

// RawVideoKey builds the storage key for a raw course upload.
func RawVideoKey(courseID, filename string, isIntro bool) string {
	folder := mediaRawFolder
	if isIntro {
		folder = introRawFolder
	}
	return fmt.Sprintf("%s/%s/%s/%s-%d-%s",
		rawVideoRoot, courseID, folder, uuid.NewString(), time.Now().UnixMilli(), SanitizeFilename(filename))
}

// TempVideoKey builds the storage key for an upload with no course
// association yet.
func TempVideoKey(filename string) string {
	return fmt.Sprintf("%s/%d-%s-%s", tempRoot, time.Now().UnixMilli(), uuid.NewString(), SanitizeFilename(filename))
}

// DestinationPrefix resolves the processed-output prefix for a job.
// Priority: lecture scope, then intro scope, then bare course scope; a job
// with no course association lands under videos/{videoId}.
func DestinationPrefix(courseID, lectureID, videoID string, isIntro bool) string {
	courseID = strings.TrimSpace(courseID)
	lectureID = strings.TrimSpace(lectureID)
	switch {
	case courseID != "" && lectureID != "":
		return fmt.Sprintf("%s/courses/%s/lectures/%s", processedRoot, courseID, lectureID)
	case courseID != "" && isIntro:
		return fmt.Sprintf("%s/courses/%s/intro", processedRoot, courseID)
	case courseID != "":
		return fmt.Sprintf("%s/courses/%s/%s", processedRoot, courseID, videoID)
	default:
		return fmt.Sprintf("%s/%s", processedRoot, videoID)
	}
}

// IntroPrefix returns the processed intro prefix for a course.
func IntroPrefix(courseID string) string {
	return fmt.Sprintf("%s/courses/%s/intro", processedRoot, courseID)
}

// ImageTargetPrefix groups every stored variant for one image target.
func ImageTargetPrefix(targetType, targetID string) string {
	return fmt.Sprintf("%s/%s/%s", imageRoot, targetType, targetID)
}

// ImageVariantKeys returns the normalized and small variant keys for one
// image upload. Course images are thumbnails; user and instructor images are
// profile pictures.
func ImageVariantKeys(targetType, targetID string) (normalized, small string) {
	kind := "profile"
	if targetType == "courses" {
		kind = "thumb"
	}
	stem := fmt.Sprintf("%s/%s-%d-%s", ImageTargetPrefix(targetType, targetID), kind, time.Now().UnixMilli(), uuid.NewString())
	return stem + ".webp", stem + "-small.webp"
}

// ContentTypeForKey maps an object key to its MIME type. Manifest and
// segment types are pinned explicitly because mime.TypeByExtension does not
// know them on every platform.
func ContentTypeForKey(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	case ".ts":
		return "video/mp2t"
	case ".mp4":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	case ".mov":
		return "video/quicktime"
	case ".mkv":
		return "video/x-matroska"
	case ".webp":
		return "image/webp"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

const (
	// Manifests re-validate quickly so a re-transcode becomes visible within
	// a minute; segment bytes never change once written.
	manifestCacheControl = "public, max-age=30, must-revalidate"
	segmentCacheControl  = "public, max-age=31536000, immutable"
	defaultCacheControl  = "public, max-age=3600"
)

// CacheControlForKey returns the cache policy for an object key.
func CacheControlForKey(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".m3u8":
		return manifestCacheControl
	case ".ts":
		return segmentCacheControl
	default:
		return defaultCacheControl
	}
}
