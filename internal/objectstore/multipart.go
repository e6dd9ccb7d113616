package objectstore

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Part identifies one uploaded piece of a multipart session.
type Part struct {
	PartNumber int32  `json:"partNumber"`
	ETag       string `json:"eTag"`
}

// BeginMultipartUpload opens a multipart session for the given key and
// returns the storage-side upload ID.
func (c *Client) BeginMultipartUpload(ctx context.Context, key, contentType string) (string, error) {
	if contentType == "" {
		contentType = ContentTypeForKey(key)
	}
	out, err := c.api.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("begin multipart %s: %w", key, err)
	}
	if out.UploadId == nil || *out.UploadId == "" {
		return "", fmt.Errorf("begin multipart %s: empty upload id", key)
	}
	return *out.UploadId, nil
}

// SignPartUpload returns a presigned URL a client can PUT one part to
// directly.
func (c *Client) SignPartUpload(ctx context.Context, key, uploadID string, partNumber int32) (string, error) {
	if partNumber < 1 {
		return "", fmt.Errorf("part number must be >= 1, got %d", partNumber)
	}
	req, err := c.presigner.PresignUploadPart(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(c.bucket),
		Key:        aws.String(key),
		UploadId:   aws.String(uploadID),
		PartNumber: aws.Int32(partNumber),
	}, func(o *s3.PresignOptions) {
		o.Expires = presignExpiry
	})
	if err != nil {
		return "", fmt.Errorf("sign part %d of %s: %w", partNumber, key, err)
	}
	return req.URL, nil
}

// UploadPartProxy forwards raw part bytes server-side for clients that
// cannot reach the presigned host. Re-uploading a part number overwrites the
// earlier attempt.
func (c *Client) UploadPartProxy(ctx context.Context, key, uploadID string, partNumber int32, body io.Reader, size int64) (string, error) {
	if partNumber < 1 {
		return "", fmt.Errorf("part number must be >= 1, got %d", partNumber)
	}
	out, err := c.api.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		UploadId:      aws.String(uploadID),
		PartNumber:    aws.Int32(partNumber),
		Body:          body,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return "", fmt.Errorf("proxy part %d of %s: %w", partNumber, key, err)
	}
	etag := ""
	if out.ETag != nil {
		etag = *out.ETag
	}
	return etag, nil
}

// CompleteMultipartUpload finalizes a session. Parts are sorted by part
// number before submission; the storage API requires ascending order.
func (c *Client) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []Part) error {
	if len(parts) == 0 {
		return fmt.Errorf("complete multipart %s: at least one part is required", key)
	}
	ordered := make([]Part, len(parts))
	copy(ordered, parts)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].PartNumber < ordered[j].PartNumber })
	completed := make([]types.CompletedPart, 0, len(ordered))
	for _, part := range ordered {
		if strings.TrimSpace(part.ETag) == "" {
			return fmt.Errorf("complete multipart %s: part %d is missing its etag", key, part.PartNumber)
		}
		completed = append(completed, types.CompletedPart{
			PartNumber: aws.Int32(part.PartNumber),
			ETag:       aws.String(part.ETag),
		})
	}
	_, err := c.api.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(c.bucket),
		Key:             aws.String(key),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		return fmt.Errorf("complete multipart %s: %w", key, err)
	}
	return nil
}

// AbortMultipartUpload releases the storage reservation for an unfinished
// session.
func (c *Client) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	_, err := c.api.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(c.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	if err != nil {
		return fmt.Errorf("abort multipart %s: %w", key, err)
	}
	return nil
}

// ReapStaleMultipartUploads aborts sessions initiated before now-olderThan.
// Abandoned sessions hold storage reservations forever otherwise; nothing
// else in the pipeline cleans them up.
func (c *Client) ReapStaleMultipartUploads(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	aborted := 0
	var keyMarker, uploadIDMarker *string
	for {
		out, err := c.api.ListMultipartUploads(ctx, &s3.ListMultipartUploadsInput{
			Bucket:         aws.String(c.bucket),
			KeyMarker:      keyMarker,
			UploadIdMarker: uploadIDMarker,
		})
		if err != nil {
			return aborted, fmt.Errorf("list multipart uploads: %w", err)
		}
		for _, upload := range out.Uploads {
			if upload.Key == nil || upload.UploadId == nil {
				continue
			}
			if upload.Initiated != nil && upload.Initiated.After(cutoff) {
				continue
			}
			if err := c.AbortMultipartUpload(ctx, *upload.Key, *upload.UploadId); err != nil {
				c.logger.Warn("failed to abort stale multipart upload",
					"key", *upload.Key, "upload_id", *upload.UploadId, "error", err)
				continue
			}
			aborted++
		}
		if out.IsTruncated == nil || !*out.IsTruncated {
			return aborted, nil
		}
		keyMarker = out.NextKeyMarker
		uploadIDMarker = out.NextUploadIdMarker
	}
}
