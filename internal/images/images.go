// Package images produces the stored variants for profile pictures and
// course thumbnails: a width-capped normalized image and a fixed-size small
// crop, both encoded as webp. A new upload fully supersedes every variant
// previously stored for the same target.
package images

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"log/slog"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"

	"vodworks/internal/notify"
	"vodworks/internal/objectstore"
)

const webpQuality = 82

// variantSpec fixes the output geometry per target type.
type variantSpec struct {
	maxWidth    int
	maxHeight   int
	smallWidth  int
	smallHeight int
}

var specs = map[string]variantSpec{
	"users":       {maxWidth: 512, maxHeight: 512, smallWidth: 128, smallHeight: 128},
	"instructors": {maxWidth: 512, maxHeight: 512, smallWidth: 128, smallHeight: 128},
	"courses":     {maxWidth: 1280, maxHeight: 720, smallWidth: 480, smallHeight: 270},
}

// ValidTargetType reports whether the image pipeline knows the target type.
func ValidTargetType(targetType string) bool {
	_, ok := specs[targetType]
	return ok
}

// Store is the storage surface the processor needs.
type Store interface {
	PutReader(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	ListAllKeys(ctx context.Context, prefix string) ([]string, error)
	DeleteKeys(ctx context.Context, keys []string) objectstore.DeleteReport
	PublicURL(key string) string
}

// imageNotifier mirrors notify.Notifier.Image.
type imageNotifier interface {
	Image(ctx context.Context, event notify.ImageEvent)
}

// Processor is stateless; one instance serves all requests.
type Processor struct {
	store    Store
	notifier imageNotifier
	logger   *slog.Logger
}

func NewProcessor(store Store, notifier *notify.Notifier, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Processor{store: store, logger: logger}
	if notifier != nil {
		p.notifier = notifier
	}
	return p
}

// UploadResult reports the two stored variants.
type UploadResult struct {
	Key      string            `json:"key"`
	URL      string            `json:"url"`
	Variants map[string]string `json:"variants"`
	Width    int               `json:"width"`
	Height   int               `json:"height"`
	Removed  int               `json:"removed"`
}

// Process decodes one uploaded image, derives both variants, stores them,
// deletes every older object under the target's prefix, and fires the
// uploaded webhook. Supersede failures are logged, not fatal; the new pair
// is already live.
func (p *Processor) Process(ctx context.Context, body io.Reader, targetType, targetID, uploader string) (UploadResult, error) {
	spec, ok := specs[targetType]
	if !ok {
		return UploadResult{}, fmt.Errorf("unknown target type %q", targetType)
	}
	src, err := imaging.Decode(body, imaging.AutoOrientation(true))
	if err != nil {
		return UploadResult{}, fmt.Errorf("decode image: %w", err)
	}

	normalized := src
	if src.Bounds().Dx() > spec.maxWidth || src.Bounds().Dy() > spec.maxHeight {
		normalized = imaging.Fit(src, spec.maxWidth, spec.maxHeight, imaging.Lanczos)
	}
	small := imaging.Fill(src, spec.smallWidth, spec.smallHeight, imaging.Center, imaging.Lanczos)

	normalizedKey, smallKey := objectstore.ImageVariantKeys(targetType, targetID)
	if err := p.putWebP(ctx, normalizedKey, normalized); err != nil {
		return UploadResult{}, err
	}
	if err := p.putWebP(ctx, smallKey, small); err != nil {
		return UploadResult{}, err
	}

	removed := p.supersede(ctx, targetType, targetID, normalizedKey, smallKey)

	result := UploadResult{
		Key: normalizedKey,
		URL: p.store.PublicURL(normalizedKey),
		Variants: map[string]string{
			"normalized": p.store.PublicURL(normalizedKey),
			"small":      p.store.PublicURL(smallKey),
		},
		Width:   normalized.Bounds().Dx(),
		Height:  normalized.Bounds().Dy(),
		Removed: removed,
	}
	if p.notifier != nil {
		p.notifier.Image(ctx, notify.ImageEvent{
			Event:      "uploaded",
			TargetType: targetType,
			TargetID:   targetID,
			Keys:       []string{normalizedKey, smallKey},
			URLs:       result.Variants,
			Uploader:   uploader,
		})
	}
	return result, nil
}

func (p *Processor) putWebP(ctx context.Context, key string, img image.Image) error {
	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, &webp.Options{Quality: webpQuality}); err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := p.store.PutReader(ctx, key, &buf, int64(buf.Len()), "image/webp"); err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	return nil
}

// supersede removes every object under the target prefix except the pair
// just written. Returns how many objects were removed.
func (p *Processor) supersede(ctx context.Context, targetType, targetID, keepA, keepB string) int {
	prefix := objectstore.ImageTargetPrefix(targetType, targetID) + "/"
	existing, err := p.store.ListAllKeys(ctx, prefix)
	if err != nil {
		p.logger.Warn("stale variant listing failed", "prefix", prefix, "error", err)
		return 0
	}
	var stale []string
	for _, key := range existing {
		if key != keepA && key != keepB {
			stale = append(stale, key)
		}
	}
	if len(stale) == 0 {
		return 0
	}
	report := p.store.DeleteKeys(ctx, stale)
	if len(report.Errors) > 0 {
		p.logger.Warn("stale variant cleanup incomplete",
			"prefix", prefix, "deleted", report.Deleted, "failed", len(report.Errors))
	}
	return report.Deleted
}

// Delete removes either one key or every variant under a target prefix. The
// deleted webhook fires only when the removal was fully error-free.
func (p *Processor) Delete(ctx context.Context, targetType, targetID, key string) (objectstore.DeleteReport, error) {
	var (
		report objectstore.DeleteReport
		keys   []string
	)
	if key != "" {
		keys = []string{key}
		report = p.store.DeleteKeys(ctx, keys)
	} else {
		if !ValidTargetType(targetType) {
			return objectstore.DeleteReport{}, fmt.Errorf("unknown target type %q", targetType)
		}
		prefix := objectstore.ImageTargetPrefix(targetType, targetID) + "/"
		existing, err := p.store.ListAllKeys(ctx, prefix)
		if err != nil {
			return objectstore.DeleteReport{}, fmt.Errorf("list %s: %w", prefix, err)
		}
		keys = existing
		report = p.store.DeleteKeys(ctx, keys)
	}
	if p.notifier != nil && report.Attempted > 0 && len(report.Errors) == 0 {
		p.notifier.Image(ctx, notify.ImageEvent{
			Event:      "deleted",
			TargetType: targetType,
			TargetID:   targetID,
			Keys:       keys,
		})
	}
	return report, nil
}
