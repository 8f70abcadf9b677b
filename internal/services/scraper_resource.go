package services

import (
	"context"
	"fmt"
	"io"
)

// ResourceManager caps how many nutrition pages are downloaded at once and
// how much of each page is kept in memory
type ResourceManager struct {
	slots       chan struct{}
	maxBodySize int64
}

// NewResourceManager creates a manager allowing maxConcurrent downloads of
// at most maxBodySize bytes each
func NewResourceManager(maxConcurrent int, maxBodySize int64) *ResourceManager {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if maxBodySize < 1 {
		maxBodySize = 1 << 20
	}
	return &ResourceManager{
		slots:       make(chan struct{}, maxConcurrent),
		maxBodySize: maxBodySize,
	}
}

// Acquire waits for a download slot
func (rm *ResourceManager) Acquire(ctx context.Context) error {
	select {
	case rm.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for download slot: %w", ctx.Err())
	}
}

// Release frees a slot taken by Acquire
func (rm *ResourceManager) Release() {
	<-rm.slots
}

// ReadBody reads a whole page, refusing pages over the size cap rather
// than handing a truncated document to the extractor
func (rm *ResourceManager) ReadBody(body io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(body, rm.maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read page: %w", err)
	}
	if int64(len(data)) > rm.maxBodySize {
		return nil, fmt.Errorf("page larger than %d bytes", rm.maxBodySize)
	}
	return data, nil
}
