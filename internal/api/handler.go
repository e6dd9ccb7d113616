// Package api implements the HTTP surface: upload ingestion, multipart
// signing, the streaming proxy, image endpoints, and media administration.
package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"vodworks/internal/config"
	"vodworks/internal/images"
	"vodworks/internal/objectstore"
	"vodworks/internal/queue"
	"vodworks/internal/transcoder"
)

// ProxyBasePath is the default prefix for proxied HLS keys; deployments can
// override it through configuration.
const ProxyBasePath = "/media/hls/"

// Storage is the orchestrator surface the handlers call. Satisfied by
// *objectstore.Client; tests substitute fakes.
type Storage interface {
	BeginMultipartUpload(ctx context.Context, key, contentType string) (string, error)
	SignPartUpload(ctx context.Context, key, uploadID string, partNumber int32) (string, error)
	UploadPartProxy(ctx context.Context, key, uploadID string, partNumber int32, body io.Reader, size int64) (string, error)
	CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []objectstore.Part) error
	AbortMultipartUpload(ctx context.Context, key, uploadID string) error
	DeletePrefix(ctx context.Context, prefix string) (objectstore.DeleteReport, error)
	Get(ctx context.Context, key string) (io.ReadCloser, int64, string, error)
	Download(ctx context.Context, key, destPath string) error
	PublicURL(key string) string
	HasCDN() bool
}

// Enqueuer hands validated jobs to the queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, job queue.TranscodeJob) error
}

// Prober inspects local media files.
type Prober interface {
	Probe(ctx context.Context, path string) (transcoder.SourceInfo, error)
}

// Handler carries the shared dependencies of every endpoint.
type Handler struct {
	Store  Storage
	Queue  Enqueuer
	Prober Prober
	Images *images.Processor

	Uploads     config.Uploads
	ProxyBase   string
	TempDir     string
	DeleteToken string
	Logger      *slog.Logger
}

func NewHandler(store Storage, q Enqueuer, prober Prober, processor *images.Processor, cfg config.Config, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Store:       store,
		Queue:       q,
		Prober:      prober,
		Images:      processor,
		Uploads:     cfg.Uploads,
		ProxyBase:   normalizeProxyBase(cfg.ProxyBase),
		TempDir:     cfg.Transcode.TempDir,
		DeleteToken: cfg.DeleteToken,
		Logger:      logger,
	}
}

func normalizeProxyBase(base string) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return ProxyBasePath
	}
	if !strings.HasPrefix(base, "/") {
		base = "/" + base
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base
}

func nowUnix() int64 {
	return time.Now().Unix()
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, "GET")
		return
	}
	writeOK(w, http.StatusOK, map[string]interface{}{"ts": nowUnix()})
}
