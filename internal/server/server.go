// Package server wires the HTTP routes and the middleware chain around the
// api handlers.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"vodworks/internal/api"
	"vodworks/internal/observability/metrics"
)

type Config struct {
	Addr    string
	Logger  *slog.Logger
	Metrics *metrics.Recorder
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	metrics    *metrics.Recorder
}

func New(handler *api.Handler, cfg Config) (*Server, error) {
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", handler.Health)
	mux.Handle("/metrics", recorder.Handler())
	mux.HandleFunc("/upload", handler.Upload)
	mux.HandleFunc("/upload/sign-multipart", handler.SignMultipart)
	mux.HandleFunc("/upload/sign-part", handler.SignPart)
	mux.HandleFunc("/upload/proxy-part", handler.ProxyPart)
	mux.HandleFunc("/upload/complete", handler.CompleteUpload)
	mux.HandleFunc("/upload/abort", handler.AbortUpload)
	mux.HandleFunc("/media/playback-url", handler.PlaybackURL)
	proxyBase := handler.ProxyBase
	if proxyBase == "" {
		proxyBase = api.ProxyBasePath
	}
	mux.HandleFunc(proxyBase, handler.HLSProxy)
	mux.HandleFunc("/media/delete", handler.MediaDelete)
	mux.HandleFunc("/image/upload", handler.ImageUpload)
	mux.HandleFunc("/images/delete", handler.ImageDelete)
	mux.HandleFunc("/probe", handler.ProbeMedia)

	handlerChain := http.Handler(mux)
	handlerChain = metricsMiddleware(recorder, proxyBase, handlerChain)
	handlerChain = loggingMiddleware(cfg.Logger, handlerChain)
	handlerChain = requestIDMiddleware(handlerChain)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handlerChain,
		ReadHeaderTimeout: 5 * time.Second,
		// Read and write timeouts stay generous: multi-hundred-megabyte
		// uploads and long segment downloads flow through these handlers.
		ReadTimeout:  10 * time.Minute,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		logger:     cfg.Logger,
		metrics:    recorder,
	}, nil
}

func (s *Server) Start() error {
	if s.httpServer == nil {
		return fmt.Errorf("http server is not configured")
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the full middleware chain, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func newStatusRecorder(w http.ResponseWriter) *statusRecorder {
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (sr *statusRecorder) WriteHeader(status int) {
	sr.status = status
	sr.ResponseWriter.WriteHeader(status)
}

func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	if logger == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := newStatusRecorder(w)
		start := time.Now()
		next.ServeHTTP(recorder, r)
		duration := time.Since(start)
		logger.Info("request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", recorder.status,
			"duration_ms", duration.Milliseconds(),
			"remote_ip", extractClientIP(r))
	})
}

func metricsMiddleware(recorder *metrics.Recorder, proxyBase string, next http.Handler) http.Handler {
	if recorder == nil {
		recorder = metrics.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sr := newStatusRecorder(w)
		start := time.Now()
		next.ServeHTTP(sr, r)
		recorder.ObserveRequest(r.Method, metricsPath(proxyBase, r.URL.Path), sr.status, time.Since(start))
	})
}

// metricsPath collapses proxied object keys into one label so segment
// requests do not explode metric cardinality.
func metricsPath(proxyBase, path string) string {
	if proxyBase != "" && strings.HasPrefix(path, proxyBase) {
		return proxyBase
	}
	return path
}

func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}
	if xrip := r.Header.Get("X-Real-IP"); xrip != "" {
		return strings.TrimSpace(xrip)
	}
	return clientIP(r.RemoteAddr)
}

func clientIP(remoteAddr string) string {
	if remoteAddr == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
