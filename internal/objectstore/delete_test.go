package objectstore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

func TestDeleteKeysBatches(t *testing.T) {
	keys := make([]string, 2500)
	for i := range keys {
		keys[i] = fmt.Sprintf("videos/c1/v1/seg_%04d.ts", i)
	}

	var batchSizes []int
	api := &fakeS3{
		deleteObjects: func(_ context.Context, in *s3.DeleteObjectsInput) (*s3.DeleteObjectsOutput, error) {
			batchSizes = append(batchSizes, len(in.Delete.Objects))
			return &s3.DeleteObjectsOutput{}, nil
		},
	}
	client := newTestClient(api, nil)

	report := client.DeleteKeys(context.Background(), keys)
	if report.Attempted != 2500 || report.Deleted != 2500 || len(report.Errors) != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if len(batchSizes) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(batchSizes))
	}
	for i, size := range batchSizes {
		if size > deleteBatchMax {
			t.Fatalf("batch %d exceeds the API ceiling: %d", i, size)
		}
	}
	if batchSizes[0] != 1000 || batchSizes[1] != 1000 || batchSizes[2] != 500 {
		t.Fatalf("unexpected batch sizes: %v", batchSizes)
	}
}

func TestDeleteKeysPartialFailure(t *testing.T) {
	api := &fakeS3{
		deleteObjects: func(_ context.Context, in *s3.DeleteObjectsInput) (*s3.DeleteObjectsOutput, error) {
			return &s3.DeleteObjectsOutput{
				Errors: []types.Error{{
					Key:     in.Delete.Objects[0].Key,
					Code:    aws.String("AccessDenied"),
					Message: aws.String("nope"),
				}},
			}, nil
		},
	}
	client := newTestClient(api, nil)

	report := client.DeleteKeys(context.Background(), []string{"a", "b", "c"})
	if report.Attempted != 3 || report.Deleted != 2 || len(report.Errors) != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if report.Errors[0].Key != "a" {
		t.Fatalf("wrong failed key: %s", report.Errors[0].Key)
	}
}

func TestDeleteKeysBatchCallFailure(t *testing.T) {
	api := &fakeS3{
		deleteObjects: func(_ context.Context, _ *s3.DeleteObjectsInput) (*s3.DeleteObjectsOutput, error) {
			return nil, errors.New("connection reset")
		},
	}
	client := newTestClient(api, nil)

	report := client.DeleteKeys(context.Background(), []string{"a", "b"})
	if report.Deleted != 0 || len(report.Errors) != 2 {
		t.Fatalf("a failed batch should mark every key errored: %+v", report)
	}
}

func TestDeletePrefixRejectsEmpty(t *testing.T) {
	client := newTestClient(&fakeS3{}, nil)
	for _, prefix := range []string{"", "   ", "/", "//"} {
		if _, err := client.DeletePrefix(context.Background(), prefix); err == nil {
			t.Fatalf("prefix %q should be rejected", prefix)
		}
	}
}

func TestListAllKeysFollowsPagination(t *testing.T) {
	pages := map[string][]string{
		"":      {"videos/v1/a.ts", "videos/v1/b.ts"},
		"page2": {"videos/v1/c.ts"},
	}
	api := &fakeS3{
		listObjects: func(_ context.Context, in *s3.ListObjectsV2Input) (*s3.ListObjectsV2Output, error) {
			token := aws.ToString(in.ContinuationToken)
			out := &s3.ListObjectsV2Output{}
			for _, key := range pages[token] {
				out.Contents = append(out.Contents, types.Object{Key: aws.String(key)})
			}
			if token == "" {
				out.IsTruncated = aws.Bool(true)
				out.NextContinuationToken = aws.String("page2")
			}
			return out, nil
		},
	}
	client := newTestClient(api, nil)

	keys, err := client.ListAllKeys(context.Background(), "videos/v1")
	if err != nil {
		t.Fatalf("ListAllKeys: %v", err)
	}
	if len(keys) != 3 {
		t.Fatalf("expected 3 keys across pages, got %v", keys)
	}
}

func TestRefreshObjectMetadata(t *testing.T) {
	var copies []*s3.CopyObjectInput
	api := &fakeS3{
		listObjects: func(_ context.Context, _ *s3.ListObjectsV2Input) (*s3.ListObjectsV2Output, error) {
			return &s3.ListObjectsV2Output{Contents: []types.Object{
				{Key: aws.String("videos/v1/master.m3u8")},
				{Key: aws.String("videos/v1/720p_seg_0.ts")},
			}}, nil
		},
		copyObject: func(_ context.Context, in *s3.CopyObjectInput) (*s3.CopyObjectOutput, error) {
			copies = append(copies, in)
			return &s3.CopyObjectOutput{}, nil
		},
	}
	client := newTestClient(api, nil)

	refreshed, failures := client.RefreshObjectMetadata(context.Background(), "videos/v1")
	if refreshed != 2 || len(failures) != 0 {
		t.Fatalf("refreshed=%d failures=%v", refreshed, failures)
	}
	if got := aws.ToString(copies[0].CacheControl); got != manifestCacheControl {
		t.Fatalf("manifest policy not reapplied: %s", got)
	}
	if got := aws.ToString(copies[1].CacheControl); got != segmentCacheControl {
		t.Fatalf("segment policy not reapplied: %s", got)
	}
	if copies[0].MetadataDirective != types.MetadataDirectiveReplace {
		t.Fatal("metadata directive must replace")
	}
}
