// Package swap implements the Transaction Analyzer (C2): it classifies a
// transaction as arbitrage or not, and decodes qualifying Swap log entries.
package swap

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// SwapSignature is the canonical Uniswap-V2-style Swap event signature.
const SwapSignature = "Swap(address,uint256,uint256,uint256,uint256,address)"

// Topic0 is the keccak-256 hash of SwapSignature, computed once at init.
var Topic0 = crypto.Keccak256Hash([]byte(SwapSignature))

var uint256Args = abi.Arguments{
	{Type: mustType("uint256")},
	{Type: mustType("uint256")},
	{Type: mustType("uint256")},
	{Type: mustType("uint256")},
}

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

// Event is a decoded Swap log entry (spec's SwapEvent).
type Event struct {
	PoolAddress common.Address
	Sender      common.Address
	Recipient   common.Address
	Amount0In   *big.Int
	Amount1In   *big.Int
	Amount0Out  *big.Int
	Amount1Out  *big.Int
	LogIndex    uint
}

// IsSwapLog reports whether a log entry's topic-0 matches the canonical
// Swap event hash. Any other signature (Transfer, Sync, Approval, Mint,
// Burn) is not a swap, even within the same receipt.
func IsSwapLog(log *types.Log) bool {
	return len(log.Topics) > 0 && log.Topics[0] == Topic0
}

// DecodeSwapLog decodes one qualifying log into an Event. It assumes
// IsSwapLog(log) is true; callers are expected to filter first.
func DecodeSwapLog(log *types.Log) (Event, error) {
	values, err := uint256Args.Unpack(log.Data)
	if err != nil {
		return Event{}, err
	}

	var sender, recipient common.Address
	if len(log.Topics) > 1 {
		sender = common.BytesToAddress(log.Topics[1].Bytes())
	}
	if len(log.Topics) > 2 {
		recipient = common.BytesToAddress(log.Topics[2].Bytes())
	}

	return Event{
		PoolAddress: log.Address,
		Sender:      sender,
		Recipient:   recipient,
		Amount0In:   values[0].(*big.Int),
		Amount1In:   values[1].(*big.Int),
		Amount0Out:  values[2].(*big.Int),
		Amount1Out:  values[3].(*big.Int),
		LogIndex:    log.Index,
	}, nil
}

// ExtractSwapEvents returns all qualifying Swap log entries from a
// receipt's logs, in ascending log_index order (their natural emission
// order), ignoring any other event signature regardless of how many are
// interleaved.
func ExtractSwapEvents(logs []*types.Log) ([]Event, error) {
	var events []Event
	for _, l := range logs {
		if !IsSwapLog(l) {
			continue
		}
		ev, err := DecodeSwapLog(l)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

// IsRouter reports whether addr (case-insensitively) is one of the
// chain's known router addresses.
func IsRouter(addr common.Address, routers map[string]common.Address) bool {
	for _, r := range routers {
		if r == addr {
			return true
		}
	}
	return false
}

// MatchesSelector reports whether the transaction input's first 4 bytes
// match one of the configured swap-function selectors.
func MatchesSelector(input []byte, selectors map[string]struct{}) bool {
	if len(input) < 4 {
		return false
	}
	sel := strings.ToLower(common.Bytes2Hex(input[:4]))
	_, ok := selectors["0x"+sel]
	if !ok {
		_, ok = selectors[sel]
	}
	return ok
}

// MinSwapLogs is the minimum number of Swap log entries a receipt must
// carry for the transaction to be classified as arbitrage.
const MinSwapLogs = 2

// IsArbitrage classifies a transaction per spec §4.2: router match,
// selector match, and at least MinSwapLogs Swap log entries. Any failing
// condition means "not arbitrage", not "unknown".
func IsArbitrage(to common.Address, input []byte, routers map[string]common.Address, selectors map[string]struct{}, logs []*types.Log) (bool, []Event, error) {
	if !IsRouter(to, routers) {
		return false, nil, nil
	}
	if !MatchesSelector(input, selectors) {
		return false, nil, nil
	}
	events, err := ExtractSwapEvents(logs)
	if err != nil {
		return false, nil, err
	}
	if len(events) < MinSwapLogs {
		return false, nil, nil
	}
	return true, events, nil
}

// Strategy labels a transaction by its swap count, per spec §4.5.
func Strategy(swapCount int) string {
	switch swapCount {
	case 2:
		return "2-hop"
	case 3:
		return "3-hop"
	case 4:
		return "4-hop"
	default:
		return "N-hop"
	}
}
