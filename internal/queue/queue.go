package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"

	"vodworks/internal/config"
	"vodworks/internal/notify"
)

const dequeueBlock = 5 * time.Second

// Queue is the Redis-backed job list plus the progress stream.
type Queue struct {
	client         *redis.Client
	jobList        string
	progressStream string
	logger         *slog.Logger
}

func New(cfg config.Queue, logger *slog.Logger) (*Queue, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("queue address is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  dequeueBlock + 3*time.Second,
		WriteTimeout: 3 * time.Second,
	})
	return &Queue{
		client:         client,
		jobList:        cfg.JobList,
		progressStream: cfg.ProgressStream,
		logger:         logger,
	}, nil
}

// Ping validates the broker connection at startup.
func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func (q *Queue) Close() error {
	return q.client.Close()
}

// Enqueue pushes a job onto the list. The broker owns retention from here.
func (q *Queue) Enqueue(ctx context.Context, job TranscodeJob) error {
	if err := job.Validate(); err != nil {
		return err
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.VideoID, err)
	}
	if err := q.client.LPush(ctx, q.jobList, payload).Err(); err != nil {
		return fmt.Errorf("enqueue job %s: %w", job.VideoID, err)
	}
	q.logger.Info("job enqueued", "video_id", job.VideoID, "course_id", job.CourseID)
	return nil
}

// Dequeue blocks briefly for the next job. A nil job with nil error means
// the wait timed out; callers loop.
func (q *Queue) Dequeue(ctx context.Context) (*TranscodeJob, error) {
	res, err := q.client.BRPop(ctx, dequeueBlock, q.jobList).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("dequeue: %w", err)
	}
	// BRPop returns [list, value].
	if len(res) != 2 {
		return nil, fmt.Errorf("dequeue: unexpected reply shape")
	}
	var job TranscodeJob
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		return nil, fmt.Errorf("dequeue: decode job: %w", err)
	}
	return &job, nil
}

// PublishProgress appends a progress event to the stream. Best-effort; a
// broker hiccup must not interrupt the job emitting it.
func (q *Queue) PublishProgress(ctx context.Context, event notify.ProgressEvent) {
	if q.progressStream == "" {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		q.logger.Warn("progress event not serializable", "video_id", event.VideoID, "error", err)
		return
	}
	err = q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.progressStream,
		MaxLen: 10000,
		Approx: true,
		Values: map[string]any{"data": payload},
	}).Err()
	if err != nil {
		q.logger.Warn("progress publish failed", "video_id", event.VideoID, "error", err)
	}
}
