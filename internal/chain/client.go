package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/degended/marketsync/internal/domain"
)

// Backend is the JSON-RPC surface used by Client. *ethclient.Client
// satisfies it.
type Backend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Client reads market state from the prediction market contract.
type Client struct {
	backend  Backend
	contract common.Address
	closer   func()
}

var _ domain.MarketReader = (*Client)(nil)

// Dial connects to rpcURL and binds the client to the contract address.
func Dial(ctx context.Context, rpcURL, contract string) (*Client, error) {
	if !common.IsHexAddress(contract) {
		return nil, fmt.Errorf("chain: contract %q: %w", contract, domain.ErrInvalidAddress)
	}
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", rpcURL, err)
	}
	c := NewClient(eth, common.HexToAddress(contract))
	c.closer = eth.Close
	return c, nil
}

// NewClient wraps an existing backend.
func NewClient(backend Backend, contract common.Address) *Client {
	return &Client{backend: backend, contract: contract}
}

// Contract returns the bound contract address.
func (c *Client) Contract() common.Address { return c.contract }

// Backend exposes the underlying RPC backend for the scanner.
func (c *Client) Backend() Backend { return c.backend }

// Close releases the RPC connection when the client owns it.
func (c *Client) Close() {
	if c.closer != nil {
		c.closer()
	}
}

// BlockNumber returns the current chain head.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	n, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("chain: block number: %w", err)
	}
	return n, nil
}

// MarketCount returns the number of markets ever created. Ids are 0..n-1.
func (c *Client) MarketCount(ctx context.Context) (uint64, error) {
	vals, err := c.call(ctx, "marketCount")
	if err != nil {
		return 0, err
	}
	n, ok := vals[0].(*big.Int)
	if !ok || !n.IsUint64() {
		return 0, fmt.Errorf("chain: marketCount: unexpected result %v", vals[0])
	}
	return n.Uint64(), nil
}

// GetMarket reads getMarketInfo for one market.
func (c *Client) GetMarket(ctx context.Context, marketID uint64) (domain.Market, error) {
	vals, err := c.call(ctx, "getMarketInfo", new(big.Int).SetUint64(marketID))
	if err != nil {
		return domain.Market{}, err
	}
	if len(vals) != 8 {
		return domain.Market{}, fmt.Errorf("chain: getMarketInfo(%d): %d outputs", marketID, len(vals))
	}

	question, _ := vals[0].(string)
	optionA, _ := vals[1].(string)
	optionB, _ := vals[2].(string)
	endTime, ok1 := vals[3].(*big.Int)
	outcome, ok2 := vals[4].(uint8)
	totalA, ok3 := vals[5].(*big.Int)
	totalB, ok4 := vals[6].(*big.Int)
	resolved, ok5 := vals[7].(bool)
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
		return domain.Market{}, fmt.Errorf("chain: getMarketInfo(%d): unexpected output types", marketID)
	}

	m := domain.Market{
		ID:                 marketID,
		Question:           question,
		OptionA:            optionA,
		OptionB:            optionB,
		Outcome:            domain.Outcome(outcome),
		TotalOptionAShares: totalA,
		TotalOptionBShares: totalB,
		Resolved:           resolved,
	}
	if endTime.IsInt64() && endTime.Sign() > 0 {
		m.EndTime = time.Unix(endTime.Int64(), 0).UTC()
	}
	return m, nil
}

// SharesBalance returns the user's stake on each side of a market.
func (c *Client) SharesBalance(ctx context.Context, marketID uint64, user string) (*big.Int, *big.Int, error) {
	if !common.IsHexAddress(user) {
		return nil, nil, fmt.Errorf("chain: getSharesBalance: %q: %w", user, domain.ErrInvalidAddress)
	}
	vals, err := c.call(ctx, "getSharesBalance", new(big.Int).SetUint64(marketID), common.HexToAddress(user))
	if err != nil {
		return nil, nil, err
	}
	a, ok1 := vals[0].(*big.Int)
	b, ok2 := vals[1].(*big.Int)
	if !ok1 || !ok2 {
		return nil, nil, fmt.Errorf("chain: getSharesBalance(%d): unexpected output types", marketID)
	}
	return a, b, nil
}

// Owner returns the contract owner address, lower-cased.
func (c *Client) Owner(ctx context.Context) (string, error) {
	vals, err := c.call(ctx, "owner")
	if err != nil {
		return "", err
	}
	addr, ok := vals[0].(common.Address)
	if !ok {
		return "", fmt.Errorf("chain: owner: unexpected result %v", vals[0])
	}
	return strings.ToLower(addr.Hex()), nil
}

func (c *Client) call(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := marketABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("chain: pack %s: %w", method, err)
	}
	to := c.contract
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: call %s: %w", method, err)
	}
	vals, err := marketABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("chain: unpack %s: %w", method, err)
	}
	if len(vals) == 0 {
		return nil, fmt.Errorf("chain: %s: empty result", method)
	}
	return vals, nil
}
