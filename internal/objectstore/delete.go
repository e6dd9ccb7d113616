package objectstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// deleteBatchMax is the storage API's DeleteObjects ceiling.
const deleteBatchMax = 1000

// DeleteReport carries the partial results of a bulk deletion. Callers
// inspect Errors instead of receiving a hard failure, so a half-deleted
// prefix is observable.
type DeleteReport struct {
	Attempted int
	Deleted   int
	Errors    []KeyError
}

// ListAllKeys returns every key under prefix, following pagination to
// exhaustion.
func (c *Client) ListAllKeys(ctx context.Context, prefix string) ([]string, error) {
	var (
		keys  []string
		token *string
	)
	for {
		out, err := c.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(c.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		for _, object := range out.Contents {
			if object.Key != nil {
				keys = append(keys, *object.Key)
			}
		}
		if out.IsTruncated == nil || !*out.IsTruncated {
			return keys, nil
		}
		token = out.NextContinuationToken
	}
}

// DeleteKeys removes the given keys in batches no larger than the storage
// API allows. Per-key failures land in the report; a failed batch call marks
// every key in that batch as errored and the loop continues.
func (c *Client) DeleteKeys(ctx context.Context, keys []string) DeleteReport {
	report := DeleteReport{Attempted: len(keys)}
	for start := 0; start < len(keys); start += deleteBatchMax {
		end := start + deleteBatchMax
		if end > len(keys) {
			end = len(keys)
		}
		batch := keys[start:end]
		identifiers := make([]types.ObjectIdentifier, 0, len(batch))
		for _, key := range batch {
			identifiers = append(identifiers, types.ObjectIdentifier{Key: aws.String(key)})
		}
		out, err := c.api.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(c.bucket),
			Delete: &types.Delete{Objects: identifiers, Quiet: aws.Bool(true)},
		})
		if err != nil {
			for _, key := range batch {
				report.Errors = append(report.Errors, KeyError{Key: key, Err: err})
			}
			continue
		}
		failed := make(map[string]struct{}, len(out.Errors))
		for _, derr := range out.Errors {
			key := aws.ToString(derr.Key)
			failed[key] = struct{}{}
			report.Errors = append(report.Errors, KeyError{
				Key: key,
				Err: fmt.Errorf("%s: %s", aws.ToString(derr.Code), aws.ToString(derr.Message)),
			})
		}
		report.Deleted += len(batch) - len(failed)
	}
	return report
}

// DeletePrefix removes every object under prefix: list, then batched
// deletes. An empty prefix is rejected to avoid wiping the bucket.
func (c *Client) DeletePrefix(ctx context.Context, prefix string) (DeleteReport, error) {
	if strings.Trim(strings.TrimSpace(prefix), "/") == "" {
		return DeleteReport{}, fmt.Errorf("refusing to delete an empty prefix")
	}
	keys, err := c.ListAllKeys(ctx, prefix)
	if err != nil {
		return DeleteReport{}, err
	}
	return c.DeleteKeys(ctx, keys), nil
}

// RefreshObjectMetadata re-applies the content-type and cache-control policy
// to every object under prefix via a same-key copy. Used after a tree upload
// to correct objects written with stale policy; failures are reported, not
// fatal.
func (c *Client) RefreshObjectMetadata(ctx context.Context, prefix string) (int, []KeyError) {
	keys, err := c.ListAllKeys(ctx, prefix)
	if err != nil {
		return 0, []KeyError{{Key: prefix, Err: err}}
	}
	refreshed := 0
	var failures []KeyError
	for _, key := range keys {
		source := c.bucket + "/" + key
		_, err := c.api.CopyObject(ctx, &s3.CopyObjectInput{
			Bucket:            aws.String(c.bucket),
			Key:               aws.String(key),
			CopySource:        aws.String(url.PathEscape(source)),
			MetadataDirective: types.MetadataDirectiveReplace,
			ContentType:       aws.String(ContentTypeForKey(key)),
			CacheControl:      aws.String(CacheControlForKey(key)),
		})
		if err != nil {
			failures = append(failures, KeyError{Key: key, Err: err})
			continue
		}
		refreshed++
	}
	return refreshed, failures
}
