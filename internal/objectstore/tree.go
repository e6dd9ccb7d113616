package objectstore

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// DefaultUploadConcurrency bounds parallel PutObject calls during a tree
// upload so socket counts stay predictable regardless of segment count.
const DefaultUploadConcurrency = 6

// KeyError records the failure of one key inside a bulk operation.
type KeyError struct {
	Key string
	Err error
}

func (e KeyError) Error() string {
	return fmt.Sprintf("%s: %v", e.Key, e.Err)
}

// TreeReport summarizes an UploadTree run. Errors holds one entry per file
// that could not be uploaded; the remaining files were stored.
type TreeReport struct {
	Attempted int
	Uploaded  int
	Bytes     int64
	Errors    []KeyError
}

// UploadTree walks localDir and uploads every regular file to
// destPrefix/relativePath. At most limit uploads run concurrently. Failures
// are collected per key rather than aborting the walk, so the report always
// accounts for every file.
func (c *Client) UploadTree(ctx context.Context, localDir, destPrefix string, limit int) (TreeReport, error) {
	if limit <= 0 {
		limit = DefaultUploadConcurrency
	}
	destPrefix = strings.Trim(strings.TrimSpace(destPrefix), "/")
	if destPrefix == "" {
		return TreeReport{}, fmt.Errorf("destination prefix is required")
	}

	var (
		mu     sync.Mutex
		report TreeReport
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(limit)

	walkErr := filepath.WalkDir(localDir, func(current string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(localDir, current)
		if err != nil {
			return err
		}
		key := destPrefix + "/" + filepath.ToSlash(rel)
		mu.Lock()
		report.Attempted++
		mu.Unlock()
		group.Go(func() error {
			size, putErr := c.PutFile(groupCtx, current, key)
			mu.Lock()
			defer mu.Unlock()
			if putErr != nil {
				report.Errors = append(report.Errors, KeyError{Key: key, Err: putErr})
				return nil
			}
			report.Uploaded++
			report.Bytes += size
			return nil
		})
		return nil
	})
	groupErr := group.Wait()
	if walkErr != nil {
		return report, fmt.Errorf("walk %s: %w", localDir, walkErr)
	}
	if groupErr != nil {
		return report, groupErr
	}
	return report, nil
}
