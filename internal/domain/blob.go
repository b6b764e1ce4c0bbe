package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// Archiver writes trader state to cold storage.
type Archiver interface {
	// ArchiveState uploads the ledger contained in state under a prefix
	// derived from reason and at, and returns that prefix.
	ArchiveState(ctx context.Context, state TraderState, reason string, at time.Time) (string, error)
}

// BlobInfo describes one stored object.
type BlobInfo struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// BlobLister lists stored objects under a prefix.
type BlobLister interface {
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
}
