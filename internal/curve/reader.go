// Package curve reads bonding-curve state from the market contract via
// eth_call and derives price-impact answers from its quote function.
package curve

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/veldtlabs/market-indexer/internal/chain/rpc"
)

const curveABIJSON = `[
	{"type":"function","name":"getMarketInfo","stateMutability":"view","inputs":[
		{"name":"marketId","type":"bytes32"}],
	 "outputs":[
		{"name":"totalUsdc","type":"uint256"},
		{"name":"totalQ","type":"uint256"},
		{"name":"alpha","type":"uint256"}]},
	{"type":"function","name":"calcPrice","stateMutability":"view","inputs":[
		{"name":"marketId","type":"bytes32"}],
	 "outputs":[
		{"name":"prices","type":"uint256[]"}]},
	{"type":"function","name":"quoteTrade","stateMutability":"view","inputs":[
		{"name":"marketId","type":"bytes32"},
		{"name":"outcome","type":"uint256"},
		{"name":"shares","type":"uint256"}],
	 "outputs":[
		{"name":"cost","type":"uint256"},
		{"name":"newPrices","type":"uint256[]"}]}
]`

// CallClient is the slice of the RPC client the reader needs.
type CallClient interface {
	Call(ctx context.Context, msg rpc.CallMsg) ([]byte, error)
}

// MarketInfo is the contract's aggregate curve state for one market.
type MarketInfo struct {
	TotalUsdc *big.Int
	TotalQ    *big.Int
	Alpha     *big.Int
}

// Quote is one quoteTrade answer: the cost of buying the given shares and
// the per-outcome prices the curve would show afterwards.
type Quote struct {
	Cost      *big.Int
	NewPrices []*big.Int
}

// Reader wraps the market contract's view functions.
type Reader struct {
	client   CallClient
	contract string
	abi      abi.ABI
}

func NewReader(client CallClient, marketContract string) (*Reader, error) {
	a, err := abi.JSON(strings.NewReader(curveABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse curve abi: %w", err)
	}
	return &Reader{client: client, contract: marketContract, abi: a}, nil
}

func (r *Reader) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := r.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	result, err := r.client.Call(ctx, rpc.CallMsg{
		To:   r.contract,
		Data: "0x" + hex.EncodeToString(data),
	})
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	out, err := r.abi.Unpack(method, result)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return out, nil
}

func (r *Reader) MarketInfo(ctx context.Context, marketID string) (*MarketInfo, error) {
	out, err := r.call(ctx, "getMarketInfo", common.HexToHash(marketID))
	if err != nil {
		return nil, err
	}
	if len(out) != 3 {
		return nil, fmt.Errorf("getMarketInfo returned %d values", len(out))
	}
	info := &MarketInfo{}
	var ok bool
	if info.TotalUsdc, ok = out[0].(*big.Int); !ok {
		return nil, fmt.Errorf("getMarketInfo totalUsdc type")
	}
	if info.TotalQ, ok = out[1].(*big.Int); !ok {
		return nil, fmt.Errorf("getMarketInfo totalQ type")
	}
	if info.Alpha, ok = out[2].(*big.Int); !ok {
		return nil, fmt.Errorf("getMarketInfo alpha type")
	}
	return info, nil
}

// Prices returns the per-outcome prices in 6-decimal fixed point, summing to
// roughly one million across outcomes.
func (r *Reader) Prices(ctx context.Context, marketID string) ([]*big.Int, error) {
	out, err := r.call(ctx, "calcPrice", common.HexToHash(marketID))
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("calcPrice returned %d values", len(out))
	}
	prices, ok := out[0].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("calcPrice prices type")
	}
	return prices, nil
}

// QuoteBuy asks the curve what buying `shares` of `outcome` would cost.
func (r *Reader) QuoteBuy(ctx context.Context, marketID string, outcome int, shares *big.Int) (*Quote, error) {
	out, err := r.call(ctx, "quoteTrade", common.HexToHash(marketID), big.NewInt(int64(outcome)), shares)
	if err != nil {
		return nil, err
	}
	if len(out) != 2 {
		return nil, fmt.Errorf("quoteTrade returned %d values", len(out))
	}
	q := &Quote{}
	var ok bool
	if q.Cost, ok = out[0].(*big.Int); !ok {
		return nil, fmt.Errorf("quoteTrade cost type")
	}
	if q.NewPrices, ok = out[1].([]*big.Int); !ok {
		return nil, fmt.Errorf("quoteTrade newPrices type")
	}
	return q, nil
}
