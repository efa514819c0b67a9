package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/degended/marketsync/internal/domain"
)

// multipartThreshold switches large ranges to the multipart uploader.
const multipartThreshold = 8 * 1024 * 1024

// Archiver implements domain.EventArchiver. Each committed block range is
// written once to events/YYYY/MM/DD/<from>-<to>.jsonl.
type Archiver struct {
	writer  domain.BlobWriter
	checker domain.BlobChecker
	prefix  string
	now     func() time.Time
}

var _ domain.EventArchiver = (*Archiver)(nil)

// NewArchiver creates an Archiver. checker may be nil, in which case
// existing objects are overwritten.
func NewArchiver(writer domain.BlobWriter, checker domain.BlobChecker, prefix string) *Archiver {
	if prefix == "" {
		prefix = "events"
	}
	return &Archiver{writer: writer, checker: checker, prefix: prefix, now: time.Now}
}

// ArchiveRange uploads events for [from, to]. Empty ranges are skipped and
// return an empty path.
func (a *Archiver) ArchiveRange(ctx context.Context, from, to uint64, events []domain.DomainEvent) (string, error) {
	if len(events) == 0 {
		return "", nil
	}
	path := archivePath(a.prefix, a.now().UTC(), from, to)

	if a.checker != nil {
		exists, err := a.checker.Exists(ctx, path)
		if err != nil {
			return "", err
		}
		if exists {
			return path, nil
		}
	}

	buf, err := marshalJSONL(events)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive range %d-%d marshal: %w", from, to, err)
	}

	if len(buf) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return "", fmt.Errorf("s3blob: archive range %d-%d upload: %w", from, to, err)
	}
	return path, nil
}

// archivePath partitions by the UTC day the range was archived.
//
//	events/2025/01/31/56668151-56673150.jsonl
func archivePath(prefix string, at time.Time, from, to uint64) string {
	return fmt.Sprintf("%s/%s/%d-%d.jsonl", prefix, at.Format("2006/01/02"), from, to)
}

// marshalJSONL encodes one compact JSON object per line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
