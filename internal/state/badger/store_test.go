package badger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/degended/marketsync/internal/domain"
	"github.com/degended/marketsync/internal/state/badger"
)

func openMem(t *testing.T) *badger.Store {
	t.Helper()
	s, err := badger.Open(badger.OpenOptions{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_EmptyLoad(t *testing.T) {
	s := openMem(t)
	snap, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.Empty())
}

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openMem(t)

	require.NoError(t, s.AddSubscriber(ctx, 42))
	require.NoError(t, s.AddSubscriber(ctx, -100123))
	require.NoError(t, s.AddSubscriber(ctx, 7))
	require.NoError(t, s.RemoveSubscriber(ctx, 7))
	require.NoError(t, s.SaveProcessed(ctx, 3, domain.ProcessedStatus{Created: true}))
	require.NoError(t, s.SaveProcessed(ctx, 3, domain.ProcessedStatus{Created: true, Resolved: true}))
	require.NoError(t, s.SaveProcessed(ctx, 9, domain.ProcessedStatus{Created: true}))
	require.NoError(t, s.MarkSuggested(ctx, 9))
	require.NoError(t, s.MarkSuggested(ctx, 9))

	snap, err := s.Load(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{42, -100123}, snap.Subscribers)
	assert.Equal(t, domain.ProcessedStatus{Created: true, Resolved: true}, snap.Processed[3])
	assert.Equal(t, domain.ProcessedStatus{Created: true}, snap.Processed[9])
	assert.Equal(t, []uint64{9}, snap.Suggested)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := badger.Open(badger.OpenOptions{})
	assert.Error(t, err)
}
