package domain

import (
	"context"
	"io"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobChecker reports whether an object already exists.
type BlobChecker interface {
	Exists(ctx context.Context, path string) (bool, error)
}

// EventArchiver copies a committed block range to cold storage and returns
// the object path it wrote.
type EventArchiver interface {
	ArchiveRange(ctx context.Context, from, to uint64, events []DomainEvent) (string, error)
}
