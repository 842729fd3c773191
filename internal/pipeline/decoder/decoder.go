// Package decoder turns raw logs into typed domain events via per-contract
// ABI registries keyed by topic0. Logs the system does not model decode to
// nothing, never to an error.
package decoder

import (
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/veldtlabs/market-indexer/internal/domain/event"
	"github.com/veldtlabs/market-indexer/internal/metrics"
)

const marketABIJSON = `[
	{"type":"event","name":"MarketCreated","inputs":[
		{"name":"marketId","type":"bytes32","indexed":true},
		{"name":"creator","type":"address","indexed":true},
		{"name":"oracle","type":"address","indexed":false},
		{"name":"surplusRecipient","type":"address","indexed":false},
		{"name":"questionId","type":"bytes32","indexed":false},
		{"name":"outcomeNames","type":"string[]","indexed":false},
		{"name":"metadata","type":"bytes","indexed":false}]},
	{"type":"event","name":"MarketTraded","inputs":[
		{"name":"marketId","type":"bytes32","indexed":true},
		{"name":"trader","type":"address","indexed":true},
		{"name":"usdcFlow","type":"int256","indexed":false}]},
	{"type":"event","name":"MarketResolved","inputs":[
		{"name":"marketId","type":"bytes32","indexed":true},
		{"name":"surplus","type":"uint256","indexed":false},
		{"name":"payouts","type":"uint256[]","indexed":false}]},
	{"type":"event","name":"TokensRedeemed","inputs":[
		{"name":"marketId","type":"bytes32","indexed":true},
		{"name":"user","type":"address","indexed":true},
		{"name":"token","type":"address","indexed":false},
		{"name":"shares","type":"uint256","indexed":false},
		{"name":"payout","type":"uint256","indexed":false}]},
	{"type":"event","name":"SurplusWithdrawn","inputs":[
		{"name":"marketId","type":"bytes32","indexed":true},
		{"name":"recipient","type":"address","indexed":true},
		{"name":"amount","type":"uint256","indexed":false}]}
]`

const vaultABIJSON = `[
	{"type":"event","name":"LockUpdated","inputs":[
		{"name":"marketId","type":"bytes32","indexed":true},
		{"name":"locker","type":"address","indexed":true},
		{"name":"amounts","type":"uint256[]","indexed":false}]},
	{"type":"event","name":"Unlocked","inputs":[
		{"name":"marketId","type":"bytes32","indexed":true},
		{"name":"locker","type":"address","indexed":true},
		{"name":"amounts","type":"uint256[]","indexed":false}]},
	{"type":"event","name":"StakeUpdated","inputs":[
		{"name":"marketId","type":"bytes32","indexed":true},
		{"name":"staker","type":"address","indexed":true},
		{"name":"amounts","type":"uint256[]","indexed":false}]},
	{"type":"event","name":"SponsoredLocked","inputs":[
		{"name":"marketId","type":"bytes32","indexed":true},
		{"name":"locker","type":"address","indexed":true},
		{"name":"setsAmount","type":"uint256","indexed":false},
		{"name":"userPaid","type":"uint256","indexed":false},
		{"name":"subsidyUsed","type":"uint256","indexed":false},
		{"name":"actualCost","type":"uint256","indexed":false}]}
]`

const distributorABIJSON = `[
	{"type":"event","name":"EpochRootSet","inputs":[
		{"name":"epochId","type":"uint256","indexed":true},
		{"name":"root","type":"bytes32","indexed":false}]},
	{"type":"event","name":"RewardClaimed","inputs":[
		{"name":"epochId","type":"uint256","indexed":true},
		{"name":"wallet","type":"address","indexed":true},
		{"name":"amount","type":"uint256","indexed":false}]}
]`

const erc20ABIJSON = `[
	{"type":"event","name":"Transfer","inputs":[
		{"name":"from","type":"address","indexed":true},
		{"name":"to","type":"address","indexed":true},
		{"name":"value","type":"uint256","indexed":false}]}
]`

type decodeFn func(a abi.ABI, l *event.RawLog) (event.DomainEvent, error)

type registration struct {
	abi  abi.ABI
	name string
	fn   decodeFn
}

// Decoder maps (contract address, topic0) to a decode function. Unregistered
// contracts and unknown topics yield (nil, false).
type Decoder struct {
	logger *slog.Logger
	// lowercase contract address -> lowercase topic0 hex -> registration
	contracts map[string]map[string]registration
}

// TransferTopic is topic0 of the ERC-20 Transfer event, usable directly in
// an eth_getLogs topic filter.
func TransferTopic() string {
	a := mustABI(erc20ABIJSON)
	return a.Events["Transfer"].ID.Hex()
}

func New(logger *slog.Logger, marketContract, vaultContract string, distributors []string, rewardToken string) (*Decoder, error) {
	marketABI, err := abi.JSON(strings.NewReader(marketABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse market abi: %w", err)
	}
	vaultABI, err := abi.JSON(strings.NewReader(vaultABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse vault abi: %w", err)
	}
	distributorABI, err := abi.JSON(strings.NewReader(distributorABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse distributor abi: %w", err)
	}
	erc20ABI, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}

	d := &Decoder{
		logger:    logger.With("component", "decoder"),
		contracts: make(map[string]map[string]registration),
	}

	d.register(marketContract, marketABI, "MarketCreated", decodeMarketCreated)
	d.register(marketContract, marketABI, "MarketTraded", decodeMarketTraded)
	d.register(marketContract, marketABI, "MarketResolved", decodeMarketResolved)
	d.register(marketContract, marketABI, "TokensRedeemed", decodeTokensRedeemed)
	d.register(marketContract, marketABI, "SurplusWithdrawn", decodeSurplusWithdrawn)

	d.register(vaultContract, vaultABI, "LockUpdated", decodeLockUpdated)
	d.register(vaultContract, vaultABI, "Unlocked", decodeUnlocked)
	d.register(vaultContract, vaultABI, "StakeUpdated", decodeStakeUpdated)
	d.register(vaultContract, vaultABI, "SponsoredLocked", decodeSponsoredLocked)

	for _, distributor := range distributors {
		d.register(distributor, distributorABI, "EpochRootSet", decodeEpochRootSet)
		d.register(distributor, distributorABI, "RewardClaimed", decodeRewardClaimed)
	}

	if rewardToken != "" {
		d.register(rewardToken, erc20ABI, "Transfer", decodeTransfer)
	}

	return d, nil
}

func (d *Decoder) register(contract string, a abi.ABI, eventName string, fn decodeFn) {
	if contract == "" {
		return
	}
	addr := strings.ToLower(contract)
	if d.contracts[addr] == nil {
		d.contracts[addr] = make(map[string]registration)
	}
	topic0 := strings.ToLower(a.Events[eventName].ID.Hex())
	d.contracts[addr][topic0] = registration{abi: a, name: eventName, fn: fn}
}

// Decode attempts to decode a raw log against the ABI registered for its
// contract. Unknown contracts, unknown events, and malformed payloads all
// yield (nil, false); decoding never fails a batch.
func (d *Decoder) Decode(contract string, l *event.RawLog) (event.DomainEvent, bool) {
	topics := d.contracts[strings.ToLower(contract)]
	if topics == nil || len(l.Topics) == 0 {
		metrics.DecoderLogsSkipped.Inc()
		return nil, false
	}
	reg, ok := topics[strings.ToLower(l.Topics[0])]
	if !ok {
		metrics.DecoderLogsSkipped.Inc()
		return nil, false
	}
	ev, err := reg.fn(reg.abi, l)
	if err != nil {
		d.logger.Warn("failed to decode log",
			"event", reg.name,
			"contract", contract,
			"tx_hash", l.Hash(),
			"log_index", int64(l.LogIndex),
			"error", err)
		metrics.DecoderLogsSkipped.Inc()
		return nil, false
	}
	metrics.DecoderEventsDecoded.WithLabelValues(reg.name).Inc()
	return ev, true
}

func unpackData(a abi.ABI, eventName string, l *event.RawLog) (map[string]interface{}, error) {
	out := map[string]interface{}{}
	data := common.FromHex(l.Data)
	if err := a.UnpackIntoMap(out, eventName, data); err != nil {
		return nil, fmt.Errorf("unpack %s: %w", eventName, err)
	}
	return out, nil
}

func topicHash(l *event.RawLog, i int) (string, error) {
	if len(l.Topics) <= i {
		return "", fmt.Errorf("missing topic %d", i)
	}
	return strings.ToLower(common.HexToHash(l.Topics[i]).Hex()), nil
}

func topicAddress(l *event.RawLog, i int) (string, error) {
	if len(l.Topics) <= i {
		return "", fmt.Errorf("missing topic %d", i)
	}
	return strings.ToLower(common.HexToAddress(l.Topics[i]).Hex()), nil
}

func topicBig(l *event.RawLog, i int) (*big.Int, error) {
	if len(l.Topics) <= i {
		return nil, fmt.Errorf("missing topic %d", i)
	}
	return new(big.Int).SetBytes(common.HexToHash(l.Topics[i]).Bytes()), nil
}

func fieldBig(m map[string]interface{}, name string) (*big.Int, error) {
	v, ok := m[name].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("field %s is not an integer", name)
	}
	return v, nil
}

func fieldBigSlice(m map[string]interface{}, name string) ([]*big.Int, error) {
	v, ok := m[name].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("field %s is not an integer array", name)
	}
	return v, nil
}

func fieldAddress(m map[string]interface{}, name string) (string, error) {
	v, ok := m[name].(common.Address)
	if !ok {
		return "", fmt.Errorf("field %s is not an address", name)
	}
	return strings.ToLower(v.Hex()), nil
}

func decodeMarketCreated(a abi.ABI, l *event.RawLog) (event.DomainEvent, error) {
	marketID, err := topicHash(l, 1)
	if err != nil {
		return nil, err
	}
	creator, err := topicAddress(l, 2)
	if err != nil {
		return nil, err
	}
	m, err := unpackData(a, "MarketCreated", l)
	if err != nil {
		return nil, err
	}
	oracle, err := fieldAddress(m, "oracle")
	if err != nil {
		return nil, err
	}
	recipient, err := fieldAddress(m, "surplusRecipient")
	if err != nil {
		return nil, err
	}
	questionID, ok := m["questionId"].([32]byte)
	if !ok {
		return nil, fmt.Errorf("field questionId is not bytes32")
	}
	names, ok := m["outcomeNames"].([]string)
	if !ok {
		return nil, fmt.Errorf("field outcomeNames is not a string array")
	}
	metadata, ok := m["metadata"].([]byte)
	if !ok {
		return nil, fmt.Errorf("field metadata is not bytes")
	}
	return event.MarketCreated{
		MarketID:         marketID,
		Creator:          creator,
		Oracle:           oracle,
		SurplusRecipient: recipient,
		QuestionID:       strings.ToLower(common.BytesToHash(questionID[:]).Hex()),
		OutcomeNames:     names,
		Metadata:         metadata,
	}, nil
}

func decodeMarketTraded(a abi.ABI, l *event.RawLog) (event.DomainEvent, error) {
	marketID, err := topicHash(l, 1)
	if err != nil {
		return nil, err
	}
	trader, err := topicAddress(l, 2)
	if err != nil {
		return nil, err
	}
	m, err := unpackData(a, "MarketTraded", l)
	if err != nil {
		return nil, err
	}
	flow, err := fieldBig(m, "usdcFlow")
	if err != nil {
		return nil, err
	}
	return event.MarketTraded{MarketID: marketID, Trader: trader, UsdcFlow: flow}, nil
}

func decodeMarketResolved(a abi.ABI, l *event.RawLog) (event.DomainEvent, error) {
	marketID, err := topicHash(l, 1)
	if err != nil {
		return nil, err
	}
	m, err := unpackData(a, "MarketResolved", l)
	if err != nil {
		return nil, err
	}
	surplus, err := fieldBig(m, "surplus")
	if err != nil {
		return nil, err
	}
	payouts, err := fieldBigSlice(m, "payouts")
	if err != nil {
		return nil, err
	}
	return event.MarketResolved{MarketID: marketID, Surplus: surplus, Payouts: payouts}, nil
}

func decodeTokensRedeemed(a abi.ABI, l *event.RawLog) (event.DomainEvent, error) {
	marketID, err := topicHash(l, 1)
	if err != nil {
		return nil, err
	}
	user, err := topicAddress(l, 2)
	if err != nil {
		return nil, err
	}
	m, err := unpackData(a, "TokensRedeemed", l)
	if err != nil {
		return nil, err
	}
	token, err := fieldAddress(m, "token")
	if err != nil {
		return nil, err
	}
	shares, err := fieldBig(m, "shares")
	if err != nil {
		return nil, err
	}
	payout, err := fieldBig(m, "payout")
	if err != nil {
		return nil, err
	}
	return event.TokensRedeemed{MarketID: marketID, User: user, Token: token, Shares: shares, Payout: payout}, nil
}

func decodeSurplusWithdrawn(a abi.ABI, l *event.RawLog) (event.DomainEvent, error) {
	marketID, err := topicHash(l, 1)
	if err != nil {
		return nil, err
	}
	recipient, err := topicAddress(l, 2)
	if err != nil {
		return nil, err
	}
	m, err := unpackData(a, "SurplusWithdrawn", l)
	if err != nil {
		return nil, err
	}
	amount, err := fieldBig(m, "amount")
	if err != nil {
		return nil, err
	}
	return event.SurplusWithdrawn{MarketID: marketID, Recipient: recipient, Amount: amount}, nil
}

func decodeLockAmounts(a abi.ABI, name string, l *event.RawLog) (marketID, actor string, amounts []*big.Int, err error) {
	marketID, err = topicHash(l, 1)
	if err != nil {
		return "", "", nil, err
	}
	actor, err = topicAddress(l, 2)
	if err != nil {
		return "", "", nil, err
	}
	m, err := unpackData(a, name, l)
	if err != nil {
		return "", "", nil, err
	}
	amounts, err = fieldBigSlice(m, "amounts")
	if err != nil {
		return "", "", nil, err
	}
	return marketID, actor, amounts, nil
}

func decodeLockUpdated(a abi.ABI, l *event.RawLog) (event.DomainEvent, error) {
	marketID, locker, amounts, err := decodeLockAmounts(a, "LockUpdated", l)
	if err != nil {
		return nil, err
	}
	return event.LockUpdated{MarketID: marketID, Locker: locker, Amounts: amounts}, nil
}

func decodeUnlocked(a abi.ABI, l *event.RawLog) (event.DomainEvent, error) {
	marketID, locker, amounts, err := decodeLockAmounts(a, "Unlocked", l)
	if err != nil {
		return nil, err
	}
	return event.Unlocked{MarketID: marketID, Locker: locker, Amounts: amounts}, nil
}

func decodeStakeUpdated(a abi.ABI, l *event.RawLog) (event.DomainEvent, error) {
	marketID, staker, amounts, err := decodeLockAmounts(a, "StakeUpdated", l)
	if err != nil {
		return nil, err
	}
	return event.StakeUpdated{MarketID: marketID, Staker: staker, Amounts: amounts}, nil
}

func decodeSponsoredLocked(a abi.ABI, l *event.RawLog) (event.DomainEvent, error) {
	marketID, err := topicHash(l, 1)
	if err != nil {
		return nil, err
	}
	locker, err := topicAddress(l, 2)
	if err != nil {
		return nil, err
	}
	m, err := unpackData(a, "SponsoredLocked", l)
	if err != nil {
		return nil, err
	}
	sets, err := fieldBig(m, "setsAmount")
	if err != nil {
		return nil, err
	}
	paid, err := fieldBig(m, "userPaid")
	if err != nil {
		return nil, err
	}
	subsidy, err := fieldBig(m, "subsidyUsed")
	if err != nil {
		return nil, err
	}
	cost, err := fieldBig(m, "actualCost")
	if err != nil {
		return nil, err
	}
	return event.SponsoredLocked{
		MarketID:    marketID,
		Locker:      locker,
		SetsAmount:  sets,
		UserPaid:    paid,
		SubsidyUsed: subsidy,
		ActualCost:  cost,
	}, nil
}

func decodeEpochRootSet(a abi.ABI, l *event.RawLog) (event.DomainEvent, error) {
	epochID, err := topicBig(l, 1)
	if err != nil {
		return nil, err
	}
	m, err := unpackData(a, "EpochRootSet", l)
	if err != nil {
		return nil, err
	}
	root, ok := m["root"].([32]byte)
	if !ok {
		return nil, fmt.Errorf("field root is not bytes32")
	}
	return event.EpochRootSet{
		EpochID: epochID,
		Root:    strings.ToLower(common.BytesToHash(root[:]).Hex()),
	}, nil
}

func decodeRewardClaimed(a abi.ABI, l *event.RawLog) (event.DomainEvent, error) {
	epochID, err := topicBig(l, 1)
	if err != nil {
		return nil, err
	}
	wallet, err := topicAddress(l, 2)
	if err != nil {
		return nil, err
	}
	m, err := unpackData(a, "RewardClaimed", l)
	if err != nil {
		return nil, err
	}
	amount, err := fieldBig(m, "amount")
	if err != nil {
		return nil, err
	}
	return event.RewardClaimed{EpochID: epochID, Wallet: wallet, Amount: amount}, nil
}

func decodeTransfer(a abi.ABI, l *event.RawLog) (event.DomainEvent, error) {
	from, err := topicAddress(l, 1)
	if err != nil {
		return nil, err
	}
	to, err := topicAddress(l, 2)
	if err != nil {
		return nil, err
	}
	m, err := unpackData(a, "Transfer", l)
	if err != nil {
		return nil, err
	}
	value, err := fieldBig(m, "value")
	if err != nil {
		return nil, err
	}
	return event.Transfer{
		Token: strings.ToLower(common.HexToAddress(l.Address).Hex()),
		From:  from,
		To:    to,
		Value: value,
	}, nil
}

func mustABI(src string) abi.ABI {
	a, err := abi.JSON(strings.NewReader(src))
	if err != nil {
		panic(err)
	}
	return a
}
