package objectstore

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

func TestBeginMultipartUpload(t *testing.T) {
	api := &fakeS3{
		createMPU: func(_ context.Context, in *s3.CreateMultipartUploadInput) (*s3.CreateMultipartUploadOutput, error) {
			if aws.ToString(in.ContentType) != "video/mp4" {
				t.Fatalf("content type not derived from key: %s", aws.ToString(in.ContentType))
			}
			return &s3.CreateMultipartUploadOutput{UploadId: aws.String("upload-1")}, nil
		},
	}
	client := newTestClient(api, nil)

	id, err := client.BeginMultipartUpload(context.Background(), "uploads/temp/1-x-a.mp4", "")
	if err != nil {
		t.Fatalf("BeginMultipartUpload: %v", err)
	}
	if id != "upload-1" {
		t.Fatalf("unexpected upload id %q", id)
	}
}

func TestSignPartUploadValidatesPartNumber(t *testing.T) {
	client := newTestClient(&fakeS3{}, &fakePresigner{})
	if _, err := client.SignPartUpload(context.Background(), "k", "u", 0); err == nil {
		t.Fatal("part number 0 should be rejected")
	}
	url, err := client.SignPartUpload(context.Background(), "k", "u", 1)
	if err != nil {
		t.Fatalf("SignPartUpload: %v", err)
	}
	if url == "" {
		t.Fatal("expected a signed url")
	}
}

func TestCompleteMultipartUploadSortsParts(t *testing.T) {
	var submitted []types.CompletedPart
	api := &fakeS3{
		completeMPU: func(_ context.Context, in *s3.CompleteMultipartUploadInput) (*s3.CompleteMultipartUploadOutput, error) {
			submitted = in.MultipartUpload.Parts
			return &s3.CompleteMultipartUploadOutput{}, nil
		},
	}
	client := newTestClient(api, nil)

	parts := []Part{
		{PartNumber: 3, ETag: `"c"`},
		{PartNumber: 1, ETag: `"a"`},
		{PartNumber: 2, ETag: `"b"`},
	}
	if err := client.CompleteMultipartUpload(context.Background(), "k", "u", parts); err != nil {
		t.Fatalf("CompleteMultipartUpload: %v", err)
	}
	for i, part := range submitted {
		if got := aws.ToInt32(part.PartNumber); got != int32(i+1) {
			t.Fatalf("parts not ascending at index %d: %d", i, got)
		}
	}
	// The caller's slice must not be reordered.
	if parts[0].PartNumber != 3 {
		t.Fatal("input slice was mutated")
	}
}

func TestCompleteMultipartUploadRejectsBadInput(t *testing.T) {
	client := newTestClient(&fakeS3{}, nil)
	if err := client.CompleteMultipartUpload(context.Background(), "k", "u", nil); err == nil {
		t.Fatal("empty part list should be rejected")
	}
	parts := []Part{{PartNumber: 1, ETag: "  "}}
	if err := client.CompleteMultipartUpload(context.Background(), "k", "u", parts); err == nil || !strings.Contains(err.Error(), "etag") {
		t.Fatalf("missing etag should be rejected, got %v", err)
	}
}

func TestReapStaleMultipartUploads(t *testing.T) {
	old := time.Now().Add(-48 * time.Hour)
	fresh := time.Now().Add(-time.Hour)

	var aborted []string
	api := &fakeS3{
		listMPU: func(_ context.Context, in *s3.ListMultipartUploadsInput) (*s3.ListMultipartUploadsOutput, error) {
			if in.KeyMarker == nil {
				return &s3.ListMultipartUploadsOutput{
					Uploads: []types.MultipartUpload{
						{Key: aws.String("uploads/temp/stale.mp4"), UploadId: aws.String("u1"), Initiated: &old},
					},
					IsTruncated:        aws.Bool(true),
					NextKeyMarker:      aws.String("uploads/temp/stale.mp4"),
					NextUploadIdMarker: aws.String("u1"),
				}, nil
			}
			return &s3.ListMultipartUploadsOutput{
				Uploads: []types.MultipartUpload{
					{Key: aws.String("uploads/temp/live.mp4"), UploadId: aws.String("u2"), Initiated: &fresh},
					{Key: aws.String("uploads/temp/stale2.mp4"), UploadId: aws.String("u3"), Initiated: &old},
				},
			}, nil
		},
		abortMPU: func(_ context.Context, in *s3.AbortMultipartUploadInput) (*s3.AbortMultipartUploadOutput, error) {
			aborted = append(aborted, aws.ToString(in.UploadId))
			return &s3.AbortMultipartUploadOutput{}, nil
		},
	}
	client := newTestClient(api, nil)

	count, err := client.ReapStaleMultipartUploads(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatalf("ReapStaleMultipartUploads: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 aborted sessions, got %d", count)
	}
	for _, id := range aborted {
		if id == "u2" {
			t.Fatal("fresh session must not be aborted")
		}
	}
}
