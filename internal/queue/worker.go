package queue

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"vodworks/internal/config"
	"vodworks/internal/hotcache"
	"vodworks/internal/notify"
	"vodworks/internal/objectstore"
	"vodworks/internal/observability/metrics"
	"vodworks/internal/transcoder"
)

// broker is the slice of Queue the worker pool consumes.
type broker interface {
	Dequeue(ctx context.Context) (*TranscodeJob, error)
	PublishProgress(ctx context.Context, event notify.ProgressEvent)
	AcquirePrefixLease(ctx context.Context, prefix string, ttl time.Duration) (func(), bool, error)
}

// Store is the storage surface a job touches.
type Store interface {
	Download(ctx context.Context, key, destPath string) error
	UploadTree(ctx context.Context, localDir, destPrefix string, limit int) (objectstore.TreeReport, error)
	DeleteKeys(ctx context.Context, keys []string) objectstore.DeleteReport
	RefreshObjectMetadata(ctx context.Context, prefix string) (int, []objectstore.KeyError)
	PublicURL(key string) string
}

// Encoder runs the probe-plan-encode pipeline.
type Encoder interface {
	TranscodeToHLS(ctx context.Context, input, outputRoot string, ladder []transcoder.Rendition) (transcoder.Result, error)
}

// progressNotifier mirrors notify.Notifier.Progress.
type progressNotifier interface {
	Progress(ctx context.Context, event notify.ProgressEvent)
}

// Worker processes transcode jobs from the broker. Each job runs its steps
// strictly in sequence; the only intra-job parallelism is the bounded upload
// fan-out inside the store.
type Worker struct {
	broker   broker
	store    Store
	encoder  Encoder
	notifier progressNotifier
	metrics  *metrics.Recorder
	logger   *slog.Logger

	workers         int
	maxAttempts     int
	backoffBase     time.Duration
	usePrefixLease  bool
	leaseTTL        time.Duration
	workDir         string
	hotCacheDir     string
	deleteRawSource bool
}

func NewWorker(q *Queue, store Store, encoder Encoder, notifier *notify.Notifier, rec *metrics.Recorder, queueCfg config.Queue, transcodeCfg config.Transcode, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if rec == nil {
		rec = metrics.Default()
	}
	w := &Worker{
		broker:          q,
		store:           store,
		encoder:         encoder,
		metrics:         rec,
		logger:          logger,
		workers:         queueCfg.Workers,
		maxAttempts:     queueCfg.MaxAttempts,
		backoffBase:     queueCfg.BackoffBase,
		usePrefixLease:  queueCfg.PrefixLease,
		leaseTTL:        queueCfg.LeaseTTL,
		workDir:         transcodeCfg.WorkDir,
		hotCacheDir:     transcodeCfg.HotCacheDir,
		deleteRawSource: transcodeCfg.DeleteRawSource,
	}
	if notifier != nil {
		w.notifier = notifier
	}
	if w.workers <= 0 {
		w.workers = 1
	}
	if w.maxAttempts <= 0 {
		w.maxAttempts = 3
	}
	if w.backoffBase <= 0 {
		w.backoffBase = 2 * time.Second
	}
	return w
}

// Run consumes jobs until ctx is canceled.
func (w *Worker) Run(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < w.workers; i++ {
		group.Go(func() error {
			for {
				job, err := w.broker.Dequeue(groupCtx)
				if groupCtx.Err() != nil {
					return nil
				}
				if err != nil {
					w.logger.Error("dequeue failed", "error", err)
					if !wait(groupCtx, time.Second) {
						return nil
					}
					continue
				}
				if job == nil {
					continue
				}
				w.process(groupCtx, *job)
			}
		})
	}
	return group.Wait()
}

// process drives one job through the retry loop: run, back off, run again,
// up to maxAttempts, then emit the terminal failed event.
func (w *Worker) process(ctx context.Context, job TranscodeJob) {
	start := time.Now()
	w.metrics.JobStarted()
	for {
		job.Attempts++
		url, err := w.runJob(ctx, job)
		if err == nil {
			w.removeLocalSource(job)
			w.metrics.JobFinished("done", time.Since(start))
			w.emit(ctx, job, notify.ProgressEvent{Step: "done", Percent: 100, URL: url})
			return
		}
		w.logger.Error("job attempt failed",
			"video_id", job.VideoID, "attempt", job.Attempts, "max_attempts", w.maxAttempts, "error", err)
		if job.Attempts >= w.maxAttempts {
			w.removeLocalSource(job)
			w.metrics.JobFinished("failed", time.Since(start))
			w.emit(ctx, job, notify.ProgressEvent{Step: "failed", Error: err.Error()})
			return
		}
		backoff := w.backoffBase << (job.Attempts - 1)
		if !wait(ctx, backoff) {
			w.metrics.JobFinished("canceled", time.Since(start))
			return
		}
	}
}

// runJob executes one attempt: steps are sequential, cleanup always runs,
// best-effort steps log and continue.
func (w *Worker) runJob(ctx context.Context, job TranscodeJob) (playbackURL string, err error) {
	if err := job.Validate(); err != nil {
		return "", err
	}

	workDir := filepath.Join(w.workDir, fmt.Sprintf("%s-%d", sanitizeDirName(job.VideoID), time.Now().UnixNano()))
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return "", fmt.Errorf("prepare work dir: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(workDir); rmErr != nil {
			w.logger.Warn("work dir cleanup failed", "dir", workDir, "error", rmErr)
		}
	}()

	input := job.SourcePath
	if job.SourceKey != "" {
		w.emit(ctx, job, notify.ProgressEvent{Step: "downloading", Percent: 10})
		input = filepath.Join(workDir, "source"+filepath.Ext(job.SourceKey))
		if err := w.store.Download(ctx, job.SourceKey, input); err != nil {
			return "", fmt.Errorf("download source: %w", err)
		}
	}

	w.emit(ctx, job, notify.ProgressEvent{Step: "transcoding", Percent: 30})
	outDir := filepath.Join(workDir, "out")
	result, err := w.encoder.TranscodeToHLS(ctx, input, outDir, nil)
	if err != nil {
		return "", err
	}

	destPrefix := objectstore.DestinationPrefix(job.CourseID, job.LectureID, job.VideoID, job.IsIntro)

	if w.usePrefixLease {
		release, acquired, leaseErr := w.broker.AcquirePrefixLease(ctx, destPrefix, w.leaseTTL)
		if leaseErr != nil {
			w.logger.Warn("lease acquisition errored, proceeding unleased", "prefix", destPrefix, "error", leaseErr)
		} else if !acquired {
			return "", fmt.Errorf("destination %s is leased by another worker", destPrefix)
		} else {
			defer release()
		}
	}

	w.emit(ctx, job, notify.ProgressEvent{Step: "uploading", Percent: 70})
	report, err := w.store.UploadTree(ctx, result.OutDir, destPrefix, 0)
	if err != nil {
		return "", fmt.Errorf("upload tree: %w", err)
	}
	if len(report.Errors) > 0 {
		return "", fmt.Errorf("upload tree: %d of %d files failed, first: %v", len(report.Errors), report.Attempted, report.Errors[0])
	}
	w.metrics.AddUploadedBytes(report.Bytes)

	if w.deleteRawSource && job.SourceKey != "" {
		if del := w.store.DeleteKeys(ctx, []string{job.SourceKey}); len(del.Errors) > 0 {
			w.logger.Warn("raw source deletion failed", "key", job.SourceKey, "error", del.Errors[0])
		}
	}

	if refreshed, failures := w.store.RefreshObjectMetadata(ctx, destPrefix); len(failures) > 0 {
		w.logger.Warn("metadata refresh incomplete", "prefix", destPrefix, "refreshed", refreshed, "failed", len(failures))
	}

	if w.hotCacheDir != "" {
		if _, cacheErr := hotcache.Populate(result.OutDir, destPrefix, w.hotCacheDir); cacheErr != nil {
			w.logger.Warn("hot cache population failed", "prefix", destPrefix, "error", cacheErr)
		}
	}

	url := w.store.PublicURL(destPrefix + "/master.m3u8")
	return url + "?v=" + strconv.FormatInt(time.Now().Unix(), 10), nil
}

// removeLocalSource deletes a gateway-staged source file once the job is
// terminal. Retries need the file, so this only runs on done or failed.
func (w *Worker) removeLocalSource(job TranscodeJob) {
	if job.SourcePath == "" {
		return
	}
	if err := os.Remove(job.SourcePath); err != nil && !os.IsNotExist(err) {
		w.logger.Warn("local source cleanup failed", "path", job.SourcePath, "error", err)
	}
}

// emit publishes one progress event to the stream and the webhook. Both
// paths are best-effort.
func (w *Worker) emit(ctx context.Context, job TranscodeJob, event notify.ProgressEvent) {
	event.VideoID = job.VideoID
	event.CourseID = job.CourseID
	event.LectureID = job.LectureID
	w.broker.PublishProgress(ctx, event)
	if w.notifier != nil {
		w.notifier.Progress(ctx, event)
	}
}

func sanitizeDirName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}

// wait sleeps for d unless ctx ends first; reports whether the full wait
// elapsed.
func wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
