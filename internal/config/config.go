// Package config builds the process configuration from the environment once
// at startup. Components receive the pieces they need by value; nothing in
// the tree reads environment variables after Load returns.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const envPrefix = "VODWORKS_"

// Storage configures the S3-compatible object store backing the pipeline.
type Storage struct {
	Endpoint       string
	AccessKey      string
	SecretKey      string
	Bucket         string
	Region         string
	ForcePathStyle bool
	CDNBaseURL     string
}

// Queue configures the Redis broker that carries transcode jobs.
type Queue struct {
	Addr           string
	Password       string
	JobList        string
	ProgressStream string
	Workers        int
	MaxAttempts    int
	BackoffBase    time.Duration
	PrefixLease    bool
	LeaseTTL       time.Duration
}

// Webhooks configures the best-effort notifier for the external collaborator.
type Webhooks struct {
	ProgressURL string
	ImageURL    string
	Secret      string
	Timeout     time.Duration
}

// Transcode configures the worker pipeline and the external binaries it runs.
type Transcode struct {
	FFmpegPath      string
	FFprobePath     string
	TempDir         string
	WorkDir         string
	HotCacheDir     string
	DeleteRawSource bool
}

// Uploads configures the ingestion gateway.
type Uploads struct {
	DirectThresholdBytes int64
	MaxProxyPartBytes    int64
	SweepInterval        time.Duration
	SweepMaxAge          time.Duration
}

// Config is the root configuration assembled by Load.
type Config struct {
	Addr        string
	ProxyBase   string
	DeleteToken string
	LogLevel    string
	LogFormat   string
	Storage     Storage
	Queue       Queue
	Webhooks    Webhooks
	Transcode   Transcode
	Uploads     Uploads
}

const (
	defaultDirectThreshold = 200 << 20 // 200MB routes uploads to multipart
	defaultMaxProxyPart    = 64 << 20
)

// Load reads the environment and returns a fully-defaulted Config. It fails
// only on values that cannot be parsed; missing optional settings fall back
// to defaults so a bare environment still yields a runnable process.
func Load() (Config, error) {
	cfg := Config{
		Addr:        envOr("ADDR", ":8080"),
		ProxyBase:   envOr("HLS_PROXY_BASE", "/media/hls/"),
		DeleteToken: os.Getenv(envPrefix + "DELETE_TOKEN"),
		LogLevel:    envOr("LOG_LEVEL", "info"),
		LogFormat:   envOr("LOG_FORMAT", "json"),
		Storage: Storage{
			Endpoint:   os.Getenv(envPrefix + "S3_ENDPOINT"),
			AccessKey:  os.Getenv(envPrefix + "S3_ACCESS_KEY"),
			SecretKey:  os.Getenv(envPrefix + "S3_SECRET_KEY"),
			Bucket:     os.Getenv(envPrefix + "S3_BUCKET"),
			Region:     envOr("S3_REGION", "us-east-1"),
			CDNBaseURL: os.Getenv(envPrefix + "CDN_BASE_URL"),
		},
		Queue: Queue{
			Addr:           envOr("REDIS_ADDR", redisAddrFromHostPort()),
			Password:       os.Getenv(envPrefix + "REDIS_PASSWORD"),
			JobList:        envOr("QUEUE_JOB_LIST", "vodworks:transcode:jobs"),
			ProgressStream: envOr("QUEUE_PROGRESS_CHANNEL", "vodworks:transcode:progress"),
			Workers:        1,
			MaxAttempts:    3,
			BackoffBase:    2 * time.Second,
			LeaseTTL:       30 * time.Minute,
		},
		Webhooks: Webhooks{
			ProgressURL: os.Getenv(envPrefix + "PROGRESS_WEBHOOK_URL"),
			ImageURL:    os.Getenv(envPrefix + "IMAGE_WEBHOOK_URL"),
			Secret:      os.Getenv(envPrefix + "WEBHOOK_SECRET"),
			Timeout:     10 * time.Second,
		},
		Transcode: Transcode{
			FFmpegPath:  envOr("FFMPEG_PATH", "ffmpeg"),
			FFprobePath: envOr("FFPROBE_PATH", "ffprobe"),
			TempDir:     envOr("TEMP_DIR", filepath.Join(os.TempDir(), "vodworks-uploads")),
			WorkDir:     envOr("WORK_DIR", filepath.Join(os.TempDir(), "vodworks-work")),
			HotCacheDir: os.Getenv(envPrefix + "HOT_CACHE_DIR"),
		},
		Uploads: Uploads{
			DirectThresholdBytes: defaultDirectThreshold,
			MaxProxyPartBytes:    defaultMaxProxyPart,
			SweepInterval:        time.Hour,
			SweepMaxAge:          24 * time.Hour,
		},
	}

	var err error
	if cfg.Storage.ForcePathStyle, err = envBool("S3_FORCE_PATH_STYLE", true); err != nil {
		return Config{}, err
	}
	if cfg.Queue.Workers, err = envInt("WORKER_CONCURRENCY", cfg.Queue.Workers); err != nil {
		return Config{}, err
	}
	if cfg.Queue.MaxAttempts, err = envInt("JOB_MAX_ATTEMPTS", cfg.Queue.MaxAttempts); err != nil {
		return Config{}, err
	}
	if cfg.Queue.PrefixLease, err = envBool("PREFIX_LEASE", true); err != nil {
		return Config{}, err
	}
	if cfg.Transcode.DeleteRawSource, err = envBool("DELETE_RAW_SOURCE", false); err != nil {
		return Config{}, err
	}
	if cfg.Uploads.DirectThresholdBytes, err = envInt64("DIRECT_UPLOAD_THRESHOLD_BYTES", cfg.Uploads.DirectThresholdBytes); err != nil {
		return Config{}, err
	}
	if cfg.Uploads.MaxProxyPartBytes, err = envInt64("MAX_PROXY_PART_BYTES", cfg.Uploads.MaxProxyPartBytes); err != nil {
		return Config{}, err
	}
	if cfg.Uploads.SweepInterval, err = envDuration("MULTIPART_SWEEP_INTERVAL", cfg.Uploads.SweepInterval); err != nil {
		return Config{}, err
	}
	if cfg.Uploads.SweepMaxAge, err = envDuration("MULTIPART_SWEEP_MAX_AGE", cfg.Uploads.SweepMaxAge); err != nil {
		return Config{}, err
	}
	if cfg.Webhooks.Timeout, err = envDuration("WEBHOOK_TIMEOUT", cfg.Webhooks.Timeout); err != nil {
		return Config{}, err
	}
	if cfg.Queue.Workers < 1 {
		cfg.Queue.Workers = 1
	}
	if cfg.Queue.MaxAttempts < 1 {
		cfg.Queue.MaxAttempts = 1
	}
	return cfg, nil
}

// redisAddrFromHostPort supports the split host/port variables used by older
// deployments alongside the single-address form.
func redisAddrFromHostPort() string {
	host := strings.TrimSpace(os.Getenv(envPrefix + "REDIS_HOST"))
	if host == "" {
		return "127.0.0.1:6379"
	}
	port := strings.TrimSpace(os.Getenv(envPrefix + "REDIS_PORT"))
	if port == "" {
		port = "6379"
	}
	return host + ":" + port
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(envPrefix + key)); value != "" {
		return value
	}
	return fallback
}

func envBool(key string, fallback bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(envPrefix + key))
	if raw == "" {
		return fallback, nil
	}
	switch strings.ToLower(raw) {
	case "true", "1", "on", "yes":
		return true, nil
	case "false", "0", "off", "no":
		return false, nil
	}
	return false, fmt.Errorf("parse %s%s: invalid boolean %q", envPrefix, key, raw)
}

func envInt(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(envPrefix + key))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s%s: %w", envPrefix, key, err)
	}
	return value, nil
}

func envInt64(key string, fallback int64) (int64, error) {
	raw := strings.TrimSpace(os.Getenv(envPrefix + key))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s%s: %w", envPrefix, key, err)
	}
	return value, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(envPrefix + key))
	if raw == "" {
		return fallback, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s%s: %w", envPrefix, key, err)
	}
	return value, nil
}
