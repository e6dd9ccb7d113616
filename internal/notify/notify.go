// Package notify delivers signed webhook events to downstream collaborators.
// Delivery is best-effort by contract: a failed webhook is logged and
// swallowed so it can never fail the operation that triggered it.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"vodworks/internal/config"
)

const (
	signatureHeader = "X-Webhook-Signature"
	timestampHeader = "X-Webhook-Timestamp"

	defaultTimeout = 5 * time.Second
)

// Notifier posts JSON events. The zero secret disables signing; endpoints
// left empty disable their event class entirely.
type Notifier struct {
	client      *http.Client
	progressURL string
	imageURL    string
	secret      string
	logger      *slog.Logger
}

func New(cfg config.Webhooks, logger *slog.Logger) *Notifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		client:      &http.Client{Timeout: timeout},
		progressURL: strings.TrimSpace(cfg.ProgressURL),
		imageURL:    strings.TrimSpace(cfg.ImageURL),
		secret:      cfg.Secret,
		logger:      logger,
	}
}

// ProgressEvent mirrors the job state machine for the downstream LMS.
type ProgressEvent struct {
	VideoID   string `json:"videoId"`
	Step      string `json:"step"`
	Percent   int    `json:"percent"`
	CourseID  string `json:"courseId,omitempty"`
	LectureID string `json:"lectureId,omitempty"`
	Error     string `json:"error,omitempty"`
	URL       string `json:"url,omitempty"`
}

// ImageEvent announces new or deleted image variants.
type ImageEvent struct {
	Event      string            `json:"event"`
	TargetType string            `json:"targetType"`
	TargetID   string            `json:"targetId"`
	Keys       []string          `json:"keys,omitempty"`
	URLs       map[string]string `json:"urls,omitempty"`
	Uploader   string            `json:"uploader,omitempty"`
}

// Progress posts a job progress event. Never returns an error.
func (n *Notifier) Progress(ctx context.Context, event ProgressEvent) {
	n.deliver(ctx, n.progressURL, event)
}

// Image posts an image lifecycle event. Never returns an error.
func (n *Notifier) Image(ctx context.Context, event ImageEvent) {
	n.deliver(ctx, n.imageURL, event)
}

func (n *Notifier) deliver(ctx context.Context, url string, payload any) {
	if url == "" {
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		n.logger.Warn("webhook payload not serializable", "url", url, "error", err)
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		n.logger.Warn("webhook request build failed", "url", url, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if n.secret != "" {
		ts := strconv.FormatInt(time.Now().Unix(), 10)
		req.Header.Set(timestampHeader, ts)
		req.Header.Set(signatureHeader, Sign(n.secret, ts, body))
	}
	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Warn("webhook delivery failed", "url", url, "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		n.logger.Warn("webhook rejected", "url", url, "status", resp.StatusCode)
	}
}

// Sign computes the hex HMAC-SHA256 of timestamp.body under the shared
// secret, prefixed with the scheme tag receivers dispatch on.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return fmt.Sprintf("sha256=%s", hex.EncodeToString(mac.Sum(nil)))
}

// Verify checks a received signature against the shared secret.
func Verify(secret, timestamp string, body []byte, signature string) bool {
	expected := Sign(secret, timestamp, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
