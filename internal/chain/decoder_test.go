package chain

import (
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/degended/marketsync/internal/domain"
)

var buyer = common.HexToAddress("0xAbCdEf0000000000000000000000000000000001")

func idTopic(id int64) common.Hash {
	return common.BigToHash(big.NewInt(id))
}

func packEvent(t *testing.T, name string, args ...any) []byte {
	t.Helper()
	data, err := marketABI.Events[name].Inputs.NonIndexed().Pack(args...)
	require.NoError(t, err)
	return data
}

func TestDecode_SharesPurchased(t *testing.T) {
	lg := types.Log{
		Topics:      []common.Hash{TopicSharesPurchased, idTopic(7), ActorTopic(buyer)},
		Data:        packEvent(t, "SharesPurchased", true, big.NewInt(3_000_000)),
		TxHash:      common.HexToHash("0xABC"),
		BlockNumber: 123,
		Index:       4,
	}

	ev, err := Decode(lg)
	require.NoError(t, err)
	assert.Equal(t, domain.EventPurchase, ev.Type)
	assert.Equal(t, uint64(7), ev.MarketID)
	assert.Equal(t, "0xabcdef0000000000000000000000000000000001", ev.User)
	require.NotNil(t, ev.IsOptionA)
	assert.True(t, *ev.IsOptionA)
	assert.Equal(t, int64(3_000_000), ev.Amount.Int64())
	assert.Equal(t, uint64(123), ev.BlockNumber)
	assert.Equal(t, uint(4), ev.LogIndex)
	assert.Equal(t, common.HexToHash("0xabc").Hex(), ev.TxHash)
}

func TestDecode_Claims(t *testing.T) {
	win, err := Decode(types.Log{
		Topics: []common.Hash{TopicWinningsClaimed, idTopic(1), ActorTopic(buyer)},
		Data:   packEvent(t, "WinningsClaimed", big.NewInt(9)),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.EventWin, win.Type)
	assert.Equal(t, int64(9), win.Amount.Int64())

	refund, err := Decode(types.Log{
		Topics: []common.Hash{TopicRefundClaimed, idTopic(2), ActorTopic(buyer)},
		Data:   packEvent(t, "RefundClaimed", big.NewInt(11)),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.EventRefund, refund.Type)
	assert.Equal(t, uint64(2), refund.MarketID)
}

func TestDecode_MarketResolved(t *testing.T) {
	ev, err := Decode(types.Log{
		Topics: []common.Hash{TopicMarketResolved, idTopic(3)},
		Data:   packEvent(t, "MarketResolved", uint8(2)),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.EventResolved, ev.Type)
	assert.Equal(t, domain.OutcomeOptionB, ev.Outcome)
	assert.Empty(t, ev.User)
	assert.False(t, ev.Persistable())
}

func TestDecode_Failures(t *testing.T) {
	_, err := Decode(types.Log{})
	assert.ErrorIs(t, err, domain.ErrMalformedLog)

	_, err = Decode(types.Log{Topics: []common.Hash{common.HexToHash("0x01")}})
	assert.ErrorIs(t, err, domain.ErrUnknownEvent)

	_, err = Decode(types.Log{Topics: []common.Hash{TopicSharesPurchased, idTopic(1)}})
	assert.ErrorIs(t, err, domain.ErrMalformedLog)

	_, err = Decode(types.Log{
		Topics: []common.Hash{TopicSharesPurchased, idTopic(1), ActorTopic(buyer)},
		Data:   []byte{0x01},
	})
	assert.ErrorIs(t, err, domain.ErrMalformedLog)
}

func TestDecodeAll_DropsBadLogs(t *testing.T) {
	good := types.Log{
		Topics: []common.Hash{TopicRefundClaimed, idTopic(2), ActorTopic(buyer)},
		Data:   packEvent(t, "RefundClaimed", big.NewInt(1)),
	}
	bad := types.Log{Topics: []common.Hash{TopicRefundClaimed, idTopic(2), ActorTopic(buyer)}}

	evs := DecodeAll([]types.Log{bad, good, bad}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Len(t, evs, 1)
	assert.Equal(t, domain.EventRefund, evs[0].Type)
}
