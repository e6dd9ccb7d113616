package objectstore

import (
	"context"
	"log/slog"
	"strings"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// fakeS3 lets each test override only the calls it cares about.
type fakeS3 struct {
	putObject     func(ctx context.Context, in *s3.PutObjectInput) (*s3.PutObjectOutput, error)
	getObject     func(ctx context.Context, in *s3.GetObjectInput) (*s3.GetObjectOutput, error)
	copyObject    func(ctx context.Context, in *s3.CopyObjectInput) (*s3.CopyObjectOutput, error)
	listObjects   func(ctx context.Context, in *s3.ListObjectsV2Input) (*s3.ListObjectsV2Output, error)
	deleteObjects func(ctx context.Context, in *s3.DeleteObjectsInput) (*s3.DeleteObjectsOutput, error)
	createMPU     func(ctx context.Context, in *s3.CreateMultipartUploadInput) (*s3.CreateMultipartUploadOutput, error)
	uploadPart    func(ctx context.Context, in *s3.UploadPartInput) (*s3.UploadPartOutput, error)
	completeMPU   func(ctx context.Context, in *s3.CompleteMultipartUploadInput) (*s3.CompleteMultipartUploadOutput, error)
	abortMPU      func(ctx context.Context, in *s3.AbortMultipartUploadInput) (*s3.AbortMultipartUploadOutput, error)
	listMPU       func(ctx context.Context, in *s3.ListMultipartUploadsInput) (*s3.ListMultipartUploadsOutput, error)
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putObject != nil {
		return f.putObject(ctx, in)
	}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.getObject != nil {
		return f.getObject(ctx, in)
	}
	return &s3.GetObjectOutput{}, nil
}

func (f *fakeS3) CopyObject(ctx context.Context, in *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	if f.copyObject != nil {
		return f.copyObject(ctx, in)
	}
	return &s3.CopyObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	if f.listObjects != nil {
		return f.listObjects(ctx, in)
	}
	return &s3.ListObjectsV2Output{}, nil
}

func (f *fakeS3) DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	if f.deleteObjects != nil {
		return f.deleteObjects(ctx, in)
	}
	return &s3.DeleteObjectsOutput{}, nil
}

func (f *fakeS3) CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	if f.createMPU != nil {
		return f.createMPU(ctx, in)
	}
	return &s3.CreateMultipartUploadOutput{}, nil
}

func (f *fakeS3) UploadPart(ctx context.Context, in *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	if f.uploadPart != nil {
		return f.uploadPart(ctx, in)
	}
	return &s3.UploadPartOutput{}, nil
}

func (f *fakeS3) CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	if f.completeMPU != nil {
		return f.completeMPU(ctx, in)
	}
	return &s3.CompleteMultipartUploadOutput{}, nil
}

func (f *fakeS3) AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	if f.abortMPU != nil {
		return f.abortMPU(ctx, in)
	}
	return &s3.AbortMultipartUploadOutput{}, nil
}

func (f *fakeS3) ListMultipartUploads(ctx context.Context, in *s3.ListMultipartUploadsInput, _ ...func(*s3.Options)) (*s3.ListMultipartUploadsOutput, error) {
	if f.listMPU != nil {
		return f.listMPU(ctx, in)
	}
	return &s3.ListMultipartUploadsOutput{}, nil
}

type fakePresigner struct {
	presign func(ctx context.Context, in *s3.UploadPartInput) (*v4.PresignedHTTPRequest, error)
}

func (f *fakePresigner) PresignUploadPart(ctx context.Context, in *s3.UploadPartInput, _ ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	if f.presign != nil {
		return f.presign(ctx, in)
	}
	return &v4.PresignedHTTPRequest{URL: "https://signed.example/part"}, nil
}

func newTestClient(api s3API, presigner partPresigner) *Client {
	return &Client{
		api:       api,
		presigner: presigner,
		bucket:    "course-media",
		endpoint:  "https://storage.example.com",
		logger:    slog.Default(),
	}
}

func newTestClientCDN(api s3API, cdnBase string) *Client {
	c := newTestClient(api, nil)
	c.cdnBase = strings.TrimRight(strings.TrimSpace(cdnBase), "/")
	return c
}
