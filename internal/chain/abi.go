// Package chain talks to the prediction market contract over JSON-RPC. It
// reads market state, scans historical logs in provider-sized chunks, decodes
// them into domain events and submits the admin resolution transaction.
package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const marketABIJSON = `[
	{"type":"function","name":"marketCount","stateMutability":"view","inputs":[],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"getMarketInfo","stateMutability":"view",
	 "inputs":[{"name":"_marketId","type":"uint256"}],
	 "outputs":[
		{"name":"question","type":"string"},
		{"name":"optionA","type":"string"},
		{"name":"optionB","type":"string"},
		{"name":"endTime","type":"uint256"},
		{"name":"outcome","type":"uint8"},
		{"name":"totalOptionAShares","type":"uint256"},
		{"name":"totalOptionBShares","type":"uint256"},
		{"name":"resolved","type":"bool"}]},
	{"type":"function","name":"getSharesBalance","stateMutability":"view",
	 "inputs":[{"name":"_marketId","type":"uint256"},{"name":"_user","type":"address"}],
	 "outputs":[{"name":"optionAShares","type":"uint256"},{"name":"optionBShares","type":"uint256"}]},
	{"type":"function","name":"owner","stateMutability":"view","inputs":[],
	 "outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"resolveMarket","stateMutability":"nonpayable",
	 "inputs":[{"name":"_marketId","type":"uint256"},{"name":"_outcome","type":"uint8"}],"outputs":[]},
	{"type":"event","name":"SharesPurchased","anonymous":false,"inputs":[
		{"name":"marketId","type":"uint256","indexed":true},
		{"name":"buyer","type":"address","indexed":true},
		{"name":"isOptionA","type":"bool","indexed":false},
		{"name":"amount","type":"uint256","indexed":false}]},
	{"type":"event","name":"WinningsClaimed","anonymous":false,"inputs":[
		{"name":"marketId","type":"uint256","indexed":true},
		{"name":"winner","type":"address","indexed":true},
		{"name":"amount","type":"uint256","indexed":false}]},
	{"type":"event","name":"RefundClaimed","anonymous":false,"inputs":[
		{"name":"marketId","type":"uint256","indexed":true},
		{"name":"user","type":"address","indexed":true},
		{"name":"amount","type":"uint256","indexed":false}]},
	{"type":"event","name":"MarketResolved","anonymous":false,"inputs":[
		{"name":"marketId","type":"uint256","indexed":true},
		{"name":"outcome","type":"uint8","indexed":false}]}
]`

// Event signature hashes (topic0).
var (
	TopicSharesPurchased = crypto.Keccak256Hash([]byte("SharesPurchased(uint256,address,bool,uint256)"))
	TopicWinningsClaimed = crypto.Keccak256Hash([]byte("WinningsClaimed(uint256,address,uint256)"))
	TopicRefundClaimed   = crypto.Keccak256Hash([]byte("RefundClaimed(uint256,address,uint256)"))
	TopicMarketResolved  = crypto.Keccak256Hash([]byte("MarketResolved(uint256,uint8)"))
)

// UserEventTopics are the topic0 values of every event with an indexed actor.
var UserEventTopics = []common.Hash{TopicSharesPurchased, TopicWinningsClaimed, TopicRefundClaimed}

// AllEventTopics adds MarketResolved to UserEventTopics.
var AllEventTopics = append(append([]common.Hash{}, UserEventTopics...), TopicMarketResolved)

var marketABI abi.ABI

func init() {
	var err error
	marketABI, err = abi.JSON(strings.NewReader(marketABIJSON))
	if err != nil {
		panic("chain: market abi parse: " + err.Error())
	}
}

// ActorTopic left-pads an address into the 32-byte form used by indexed
// address topics.
func ActorTopic(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}
