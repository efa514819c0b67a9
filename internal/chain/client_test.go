package chain

import (
	"bytes"
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/degended/marketsync/internal/domain"
)

// callBackend answers eth_call by method selector with pre-packed outputs.
type callBackend struct {
	t       *testing.T
	outputs map[string][]any
	lastArg []byte
}

func (b *callBackend) BlockNumber(context.Context) (uint64, error) { return 0, nil }

func (b *callBackend) FilterLogs(context.Context, ethereum.FilterQuery) ([]types.Log, error) {
	return nil, nil
}

func (b *callBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	for name, out := range b.outputs {
		m := marketABI.Methods[name]
		if bytes.Equal(msg.Data[:4], m.ID) {
			b.lastArg = msg.Data[4:]
			return m.Outputs.Pack(out...)
		}
	}
	b.t.Fatalf("unexpected call %x", msg.Data[:4])
	return nil, nil
}

func TestClient_GetMarket(t *testing.T) {
	end := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	backend := &callBackend{t: t, outputs: map[string][]any{
		"getMarketInfo": {
			"Will it rain?", "Yes", "No",
			big.NewInt(end.Unix()), uint8(1),
			big.NewInt(6_000_000), big.NewInt(4_000_000), true,
		},
	}}
	c := NewClient(backend, common.HexToAddress("0x01"))

	m, err := c.GetMarket(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), m.ID)
	assert.Equal(t, "Will it rain?", m.Question)
	assert.Equal(t, domain.OutcomeOptionA, m.Outcome)
	assert.True(t, m.Resolved)
	assert.Equal(t, end, m.EndTime)
	assert.Equal(t, int64(10_000_000), m.TotalPool().Int64())
}

func TestClient_CountBalanceOwner(t *testing.T) {
	owner := common.HexToAddress("0x00000000000000000000000000000000000000Fe")
	backend := &callBackend{t: t, outputs: map[string][]any{
		"marketCount":      {big.NewInt(12)},
		"getSharesBalance": {big.NewInt(3), big.NewInt(4)},
		"owner":            {owner},
	}}
	c := NewClient(backend, common.HexToAddress("0x01"))
	ctx := context.Background()

	n, err := c.MarketCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(12), n)

	a, b, err := c.SharesBalance(ctx, 1, "0x00000000000000000000000000000000000000aa")
	require.NoError(t, err)
	assert.Equal(t, int64(3), a.Int64())
	assert.Equal(t, int64(4), b.Int64())

	got, err := c.Owner(ctx)
	require.NoError(t, err)
	assert.Equal(t, "0x00000000000000000000000000000000000000fe", got)

	_, _, err = c.SharesBalance(ctx, 1, "nope")
	assert.ErrorIs(t, err, domain.ErrInvalidAddress)
}
