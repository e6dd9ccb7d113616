// Package objectstore wraps the S3-compatible object store behind the small
// surface the pipeline needs: multipart lifecycle, prefix listing, batched
// deletion, bounded-concurrency tree upload, and public URL construction.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"vodworks/internal/config"
)

// s3API is the slice of the AWS SDK client the orchestrator calls. Tests
// substitute a fake; production passes *s3.Client.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, opts ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, opts ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, opts ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, in *s3.UploadPartInput, opts ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, opts ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, opts ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
	ListMultipartUploads(ctx context.Context, in *s3.ListMultipartUploadsInput, opts ...func(*s3.Options)) (*s3.ListMultipartUploadsOutput, error)
}

// partPresigner mirrors the presign client's UploadPart signature.
type partPresigner interface {
	PresignUploadPart(ctx context.Context, in *s3.UploadPartInput, opts ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Client is the storage orchestrator. All methods are safe for concurrent
// use.
type Client struct {
	api       s3API
	presigner partPresigner
	bucket    string
	endpoint  string
	cdnBase   string
	logger    *slog.Logger
}

// New builds a Client from configuration. The endpoint is normalized before
// use so hostname-only and bucket-embedded forms all work (see
// NormalizeEndpoint).
func New(ctx context.Context, cfg config.Storage, logger *slog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("storage bucket is required")
	}
	endpoint := NormalizeEndpoint(cfg.Endpoint, cfg.Bucket)
	if endpoint == "" {
		return nil, fmt.Errorf("storage endpoint is required")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = cfg.ForcePathStyle
	})
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		api:       api,
		presigner: s3.NewPresignClient(api),
		bucket:    strings.TrimSpace(cfg.Bucket),
		endpoint:  endpoint,
		cdnBase:   strings.TrimRight(strings.TrimSpace(cfg.CDNBaseURL), "/"),
		logger:    logger,
	}, nil
}

// NormalizeEndpoint canonicalizes the configured endpoint to https://host.
// Hostname-only values gain a scheme, paths are dropped, and a hostname that
// embeds the bucket ("bucket.host") loses that prefix so TLS certificates
// for wildcard storage providers still match.
func NormalizeEndpoint(endpoint, bucket string) string {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return ""
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Host == "" {
		return ""
	}
	host := parsed.Host
	bucket = strings.TrimSpace(bucket)
	if bucket != "" && strings.HasPrefix(host, bucket+".") {
		host = strings.TrimPrefix(host, bucket+".")
	}
	scheme := parsed.Scheme
	if scheme != "http" {
		scheme = "https"
	}
	return scheme + "://" + host
}

// HasCDN reports whether public URLs are served from a CDN base.
func (c *Client) HasCDN() bool {
	return c.cdnBase != ""
}

// Bucket returns the configured bucket name.
func (c *Client) Bucket() string {
	return c.bucket
}

// PublicURL builds a client-reachable URL for an object key. A configured
// CDN base wins; otherwise a path-style URL is derived from the storage
// endpoint. Credentials never appear in either form.
func (c *Client) PublicURL(key string) string {
	trimmed := strings.TrimLeft(strings.TrimSpace(key), "/")
	if c.cdnBase != "" {
		return c.cdnBase + "/" + trimmed
	}
	if c.endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", c.endpoint, c.bucket, trimmed)
	}
	return "/" + trimmed
}

// PutFile uploads one local file under the given key with the taxonomy's
// content-type and cache-control policy applied.
func (c *Client) PutFile(ctx context.Context, localPath, key string) (int64, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", localPath, err)
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", localPath, err)
	}
	_, err = c.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          file,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(ContentTypeForKey(key)),
		CacheControl:  aws.String(CacheControlForKey(key)),
	})
	if err != nil {
		return 0, fmt.Errorf("put %s: %w", key, err)
	}
	return info.Size(), nil
}

// PutReader uploads arbitrary bytes under the given key.
func (c *Client) PutReader(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	if contentType == "" {
		contentType = ContentTypeForKey(key)
	}
	_, err := c.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType),
		CacheControl:  aws.String(CacheControlForKey(key)),
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Get streams an object. The caller owns the returned body.
func (c *Client) Get(ctx context.Context, key string) (io.ReadCloser, int64, string, error) {
	out, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, 0, "", fmt.Errorf("get %s: %w", key, err)
	}
	size := int64(-1)
	if out.ContentLength != nil {
		size = *out.ContentLength
	}
	contentType := ""
	if out.ContentType != nil {
		contentType = *out.ContentType
	}
	return out.Body, size, contentType, nil
}

// Download copies an object into a local file, creating parent directories
// as needed.
func (c *Client) Download(ctx context.Context, key, destPath string) error {
	body, _, _, err := c.Get(ctx, key)
	if err != nil {
		return err
	}
	defer body.Close()
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("prepare download dir: %w", err)
	}
	file, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", destPath, err)
	}
	if _, err := io.Copy(file, body); err != nil {
		file.Close()
		os.Remove(destPath)
		return fmt.Errorf("download %s: %w", key, err)
	}
	return file.Close()
}

// presignExpiry bounds how long a signed part URL stays valid.
const presignExpiry = 30 * time.Minute
