package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/degended/marketsync/internal/domain"
)

type memBlob struct {
	objects map[string][]byte
	puts    int
}

func (m *memBlob) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.objects[path] = b
	m.puts++
	return nil
}

func (m *memBlob) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return m.Put(ctx, path, data, "")
}

func (m *memBlob) Exists(_ context.Context, path string) (bool, error) {
	_, ok := m.objects[path]
	return ok, nil
}

func TestArchiveRange(t *testing.T) {
	blob := &memBlob{objects: map[string][]byte{}}
	a := NewArchiver(blob, blob, "")
	a.now = func() time.Time { return time.Date(2025, 1, 31, 12, 0, 0, 0, time.UTC) }

	events := []domain.DomainEvent{
		{Type: domain.EventPurchase, MarketID: 1, User: "0xabc", Amount: big.NewInt(1_000_000), TxHash: "0x1", BlockNumber: 10},
		{Type: domain.EventWin, MarketID: 1, User: "0xabc", Amount: big.NewInt(2_000_000), TxHash: "0x2", BlockNumber: 12},
	}

	path, err := a.ArchiveRange(context.Background(), 10, 20, events)
	require.NoError(t, err)
	assert.Equal(t, "events/2025/01/31/10-20.jsonl", path)

	sc := bufio.NewScanner(bytes.NewReader(blob.objects[path]))
	lines := 0
	for sc.Scan() {
		lines++
	}
	assert.Equal(t, 2, lines)

	// Second call for the same range is a no-op.
	_, err = a.ArchiveRange(context.Background(), 10, 20, events)
	require.NoError(t, err)
	assert.Equal(t, 1, blob.puts)
}

func TestArchiveRange_Empty(t *testing.T) {
	blob := &memBlob{objects: map[string][]byte{}}
	path, err := NewArchiver(blob, nil, "x").ArchiveRange(context.Background(), 1, 2, nil)
	require.NoError(t, err)
	assert.Empty(t, path)
	assert.Zero(t, blob.puts)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://minio.local", normaliseEndpoint("minio.local", true))
	assert.Equal(t, "http://minio.local", normaliseEndpoint("minio.local", false))
	assert.Equal(t, "https://s3.example.com", normaliseEndpoint("https://s3.example.com", false))
}
