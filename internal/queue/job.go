// Package queue owns the transcode job pipeline: a Redis-backed job list,
// a progress stream, an optional advisory prefix lease, and the worker pool
// that runs jobs end to end.
package queue

import (
	"fmt"
	"strings"
	"time"
)

// TranscodeJob is the unit of work the ingestion gateway enqueues. The
// source is either a local path (small uploads already on this host) or a
// storage key (direct-to-storage uploads), never both.
type TranscodeJob struct {
	VideoID      string    `json:"videoId"`
	SourcePath   string    `json:"sourcePath,omitempty"`
	SourceKey    string    `json:"sourceKey,omitempty"`
	SourceBucket string    `json:"sourceBucket,omitempty"`
	CourseID     string    `json:"courseId,omitempty"`
	LectureID    string    `json:"lectureId,omitempty"`
	IsIntro      bool      `json:"isIntro,omitempty"`
	Attempts     int       `json:"attempts"`
	EnqueuedAt   time.Time `json:"enqueuedAt"`
}

// Validate checks the source invariant before the job enters the list.
func (j TranscodeJob) Validate() error {
	if strings.TrimSpace(j.VideoID) == "" {
		return fmt.Errorf("videoId is required")
	}
	hasPath := strings.TrimSpace(j.SourcePath) != ""
	hasKey := strings.TrimSpace(j.SourceKey) != ""
	if hasPath == hasKey {
		return fmt.Errorf("exactly one of sourcePath or sourceKey is required")
	}
	return nil
}
