package queue

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"vodworks/internal/config"
	"vodworks/internal/notify"
	"vodworks/internal/objectstore"
	"vodworks/internal/observability/metrics"
	"vodworks/internal/transcoder"
)

type fakeBroker struct {
	events       []notify.ProgressEvent
	leaseBlocked bool
	leaseCalls   int
}

func (b *fakeBroker) Dequeue(context.Context) (*TranscodeJob, error) { return nil, nil }

func (b *fakeBroker) PublishProgress(_ context.Context, event notify.ProgressEvent) {
	b.events = append(b.events, event)
}

func (b *fakeBroker) AcquirePrefixLease(context.Context, string, time.Duration) (func(), bool, error) {
	b.leaseCalls++
	return func() {}, !b.leaseBlocked, nil
}

func (b *fakeBroker) steps() []string {
	steps := make([]string, 0, len(b.events))
	for _, event := range b.events {
		steps = append(steps, event.Step)
	}
	return steps
}

type fakeStore struct {
	downloads    []string
	uploadPrefix string
	uploadReport objectstore.TreeReport
	deleted      []string
}

func (s *fakeStore) Download(_ context.Context, key, destPath string) error {
	s.downloads = append(s.downloads, key)
	return os.WriteFile(destPath, []byte("raw"), 0o644)
}

func (s *fakeStore) UploadTree(_ context.Context, _ string, destPrefix string, _ int) (objectstore.TreeReport, error) {
	s.uploadPrefix = destPrefix
	return s.uploadReport, nil
}

func (s *fakeStore) DeleteKeys(_ context.Context, keys []string) objectstore.DeleteReport {
	s.deleted = append(s.deleted, keys...)
	return objectstore.DeleteReport{Attempted: len(keys), Deleted: len(keys)}
}

func (s *fakeStore) RefreshObjectMetadata(context.Context, string) (int, []objectstore.KeyError) {
	return 0, nil
}

func (s *fakeStore) PublicURL(key string) string {
	return "https://cdn.example.com/" + key
}

type fakeEncoder struct {
	calls int
	fail  error
}

func (e *fakeEncoder) TranscodeToHLS(_ context.Context, _, outputRoot string, _ []transcoder.Rendition) (transcoder.Result, error) {
	e.calls++
	if e.fail != nil {
		return transcoder.Result{}, e.fail
	}
	if err := os.MkdirAll(outputRoot, 0o755); err != nil {
		return transcoder.Result{}, err
	}
	return transcoder.Result{OutDir: outputRoot}, nil
}

func newTestWorker(t *testing.T, b *fakeBroker, s *fakeStore, e *fakeEncoder, queueCfg config.Queue) *Worker {
	t.Helper()
	transcodeCfg := config.Transcode{WorkDir: t.TempDir()}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))
	w := NewWorker(nil, s, e, nil, metrics.New(), queueCfg, transcodeCfg, logger)
	w.broker = b
	return w
}

func TestProcessHappyPath(t *testing.T) {
	b := &fakeBroker{}
	s := &fakeStore{uploadReport: objectstore.TreeReport{Attempted: 5, Uploaded: 5}}
	e := &fakeEncoder{}
	w := newTestWorker(t, b, s, e, config.Queue{})

	w.process(context.Background(), TranscodeJob{
		VideoID:   "v1",
		SourceKey: "uploads/videos/courses/c1/media-raw/x-1-a.mp4",
		CourseID:  "c1",
		LectureID: "l1",
	})

	wantSteps := []string{"downloading", "transcoding", "uploading", "done"}
	if got := b.steps(); strings.Join(got, ",") != strings.Join(wantSteps, ",") {
		t.Fatalf("unexpected step sequence: %v", got)
	}
	if s.uploadPrefix != "videos/courses/c1/lectures/l1" {
		t.Fatalf("wrong destination prefix: %s", s.uploadPrefix)
	}
	done := b.events[len(b.events)-1]
	if !strings.HasPrefix(done.URL, "https://cdn.example.com/videos/courses/c1/lectures/l1/master.m3u8?v=") {
		t.Fatalf("playback url missing cache buster: %s", done.URL)
	}
	if len(s.deleted) != 0 {
		t.Fatal("raw source must survive unless deletion is configured")
	}
}

func TestProcessLocalSourceSkipsDownload(t *testing.T) {
	b := &fakeBroker{}
	s := &fakeStore{}
	w := newTestWorker(t, b, s, &fakeEncoder{}, config.Queue{})

	w.process(context.Background(), TranscodeJob{VideoID: "v2", SourcePath: "/tmp/in.mp4"})

	if len(s.downloads) != 0 {
		t.Fatal("local sources must not be downloaded")
	}
	if got := b.steps(); got[0] != "transcoding" {
		t.Fatalf("unexpected first step: %v", got)
	}
	if s.uploadPrefix != "videos/v2" {
		t.Fatalf("unassociated job should land under videos/{videoId}: %s", s.uploadPrefix)
	}
}

func TestProcessExhaustsAttempts(t *testing.T) {
	b := &fakeBroker{}
	e := &fakeEncoder{fail: errors.New("encoder binary missing")}
	w := newTestWorker(t, b, &fakeStore{}, e, config.Queue{MaxAttempts: 3, BackoffBase: time.Millisecond})

	start := time.Now()
	w.process(context.Background(), TranscodeJob{VideoID: "v3", SourcePath: "/tmp/in.mp4"})
	elapsed := time.Since(start)

	if e.calls != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", e.calls)
	}
	final := b.events[len(b.events)-1]
	if final.Step != "failed" || !strings.Contains(final.Error, "encoder binary missing") {
		t.Fatalf("expected a terminal failed event, got %+v", final)
	}
	// Backoff waits of 1ms + 2ms must have elapsed between attempts.
	if elapsed < 3*time.Millisecond {
		t.Fatalf("backoff intervals were not honored, elapsed %v", elapsed)
	}
}

func TestProcessFailsOnPartialUpload(t *testing.T) {
	b := &fakeBroker{}
	s := &fakeStore{uploadReport: objectstore.TreeReport{
		Attempted: 5,
		Uploaded:  4,
		Errors:    []objectstore.KeyError{{Key: "videos/v4/720p/seg.ts", Err: errors.New("timeout")}},
	}}
	w := newTestWorker(t, b, s, &fakeEncoder{}, config.Queue{MaxAttempts: 1})

	w.process(context.Background(), TranscodeJob{VideoID: "v4", SourcePath: "/tmp/in.mp4"})

	final := b.events[len(b.events)-1]
	if final.Step != "failed" {
		t.Fatalf("a partial upload must fail the job, got %+v", final)
	}
}

func TestProcessDeletesRawSourceWhenConfigured(t *testing.T) {
	b := &fakeBroker{}
	s := &fakeStore{}
	w := newTestWorker(t, b, s, &fakeEncoder{}, config.Queue{})
	w.deleteRawSource = true

	w.process(context.Background(), TranscodeJob{VideoID: "v5", SourceKey: "uploads/temp/1-x-a.mp4"})

	if len(s.deleted) != 1 || s.deleted[0] != "uploads/temp/1-x-a.mp4" {
		t.Fatalf("raw source should be deleted, got %v", s.deleted)
	}
}

func TestProcessRemovesStagedSourceOnSuccess(t *testing.T) {
	staged := filepath.Join(t.TempDir(), "pending-abc.mp4")
	if err := os.WriteFile(staged, []byte("source"), 0o644); err != nil {
		t.Fatal(err)
	}
	b := &fakeBroker{}
	w := newTestWorker(t, b, &fakeStore{}, &fakeEncoder{}, config.Queue{})

	w.process(context.Background(), TranscodeJob{VideoID: "v8", SourcePath: staged})

	if _, err := os.Stat(staged); !os.IsNotExist(err) {
		t.Fatalf("staged source must be removed after a terminal job, stat err: %v", err)
	}
}

func TestProcessRespectsPrefixLease(t *testing.T) {
	b := &fakeBroker{leaseBlocked: true}
	w := newTestWorker(t, b, &fakeStore{}, &fakeEncoder{}, config.Queue{MaxAttempts: 1, PrefixLease: true})

	w.process(context.Background(), TranscodeJob{VideoID: "v6", SourcePath: "/tmp/in.mp4"})

	if b.leaseCalls != 1 {
		t.Fatalf("expected one lease attempt, got %d", b.leaseCalls)
	}
	final := b.events[len(b.events)-1]
	if final.Step != "failed" || !strings.Contains(final.Error, "leased") {
		t.Fatalf("a blocked lease must fail the attempt, got %+v", final)
	}
}

func TestProcessCleansWorkDir(t *testing.T) {
	b := &fakeBroker{}
	w := newTestWorker(t, b, &fakeStore{}, &fakeEncoder{}, config.Queue{})

	w.process(context.Background(), TranscodeJob{VideoID: "v7", SourcePath: "/tmp/in.mp4"})

	entries, err := os.ReadDir(w.workDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("work dir not cleaned: %v", entries)
	}
}

func TestJobValidate(t *testing.T) {
	cases := []struct {
		name    string
		job     TranscodeJob
		wantErr bool
	}{
		{name: "local source", job: TranscodeJob{VideoID: "v", SourcePath: "/tmp/a.mp4"}},
		{name: "storage source", job: TranscodeJob{VideoID: "v", SourceKey: "uploads/temp/a.mp4"}},
		{name: "both sources", job: TranscodeJob{VideoID: "v", SourcePath: "/tmp/a", SourceKey: "k"}, wantErr: true},
		{name: "no source", job: TranscodeJob{VideoID: "v"}, wantErr: true},
		{name: "no video id", job: TranscodeJob{SourcePath: "/tmp/a"}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.job.Validate()
			if tc.wantErr && err == nil {
				t.Fatal("expected an error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
