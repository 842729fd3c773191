package decoder

import (
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veldtlabs/market-indexer/internal/domain/event"
)

const (
	testMarketContract = "0xAAAA000000000000000000000000000000000001"
	testVaultContract  = "0xBBBB000000000000000000000000000000000002"
	testDistributor    = "0xCCCC000000000000000000000000000000000003"
	testRewardToken    = "0xDDDD000000000000000000000000000000000004"

	testMarketID = "0x00000000000000000000000000000000000000000000000000000000000000a1"
	testTrader   = "0x1111000000000000000000000000000000000011"
)

func newTestDecoder(t *testing.T) *Decoder {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	d, err := New(logger, testMarketContract, testVaultContract, []string{testDistributor}, testRewardToken)
	require.NoError(t, err)
	return d
}

// packEvent builds a RawLog for the named event with the given indexed topics
// and abi-packed non-indexed values.
func packEvent(t *testing.T, abiJSON, name string, topics []string, values ...interface{}) *event.RawLog {
	t.Helper()
	a := mustABI(abiJSON)
	ev, ok := a.Events[name]
	require.True(t, ok)
	data, err := ev.Inputs.NonIndexed().Pack(values...)
	require.NoError(t, err)
	return &event.RawLog{
		Address:  testMarketContract,
		Topics:   append([]string{ev.ID.Hex()}, topics...),
		Data:     "0x" + common.Bytes2Hex(data),
		TxHash:   "0xfeed",
		LogIndex: 0,
	}
}

func addressTopic(addr string) string {
	return common.HexToHash(addr).Hex()
}

func TestDecode_MarketTradedNegativeFlow(t *testing.T) {
	d := newTestDecoder(t)
	l := packEvent(t, marketABIJSON, "MarketTraded",
		[]string{testMarketID, addressTopic(testTrader)},
		big.NewInt(-50_000_000))

	ev, ok := d.Decode(testMarketContract, l)
	require.True(t, ok)

	traded, ok := ev.(event.MarketTraded)
	require.True(t, ok)
	assert.Equal(t, testMarketID, traded.MarketID)
	assert.Equal(t, "0x1111000000000000000000000000000000000011", traded.Trader)
	assert.Equal(t, "-50000000", traded.UsdcFlow.String())
}

func TestDecode_MarketCreated(t *testing.T) {
	d := newTestDecoder(t)
	questionID := [32]byte{}
	questionID[31] = 0x7f
	l := packEvent(t, marketABIJSON, "MarketCreated",
		[]string{testMarketID, addressTopic("0x2222000000000000000000000000000000000022")},
		common.HexToAddress("0x3333000000000000000000000000000000000033"),
		common.HexToAddress("0x4444000000000000000000000000000000000044"),
		questionID,
		[]string{"yes", "no", "maybe"},
		[]byte{0x01, 0x02})

	ev, ok := d.Decode(testMarketContract, l)
	require.True(t, ok)

	created, ok := ev.(event.MarketCreated)
	require.True(t, ok)
	assert.Equal(t, testMarketID, created.MarketID)
	assert.Equal(t, "0x2222000000000000000000000000000000000022", created.Creator)
	assert.Equal(t, "0x3333000000000000000000000000000000000033", created.Oracle)
	assert.Equal(t, "0x4444000000000000000000000000000000000044", created.SurplusRecipient)
	assert.Equal(t, []string{"yes", "no", "maybe"}, created.OutcomeNames)
	assert.Equal(t, []byte{0x01, 0x02}, created.Metadata)
}

func TestDecode_SponsoredLockedCostFields(t *testing.T) {
	d := newTestDecoder(t)
	l := packEvent(t, vaultABIJSON, "SponsoredLocked",
		[]string{testMarketID, addressTopic(testTrader)},
		big.NewInt(1_000_000), big.NewInt(200_000), big.NewInt(800_000), big.NewInt(1_000_000))
	l.Address = testVaultContract

	ev, ok := d.Decode(testVaultContract, l)
	require.True(t, ok)

	sponsored, ok := ev.(event.SponsoredLocked)
	require.True(t, ok)
	assert.Equal(t, "200000", sponsored.UserPaid.String())
	assert.Equal(t, "800000", sponsored.SubsidyUsed.String())
	assert.Equal(t, "1000000", sponsored.ActualCost.String())
}

func TestDecode_EpochRootSetIndexedEpochID(t *testing.T) {
	d := newTestDecoder(t)
	root := [32]byte{}
	root[31] = 0xee
	epochTopic := common.BigToHash(big.NewInt(9_007_199_254_740_993)).Hex()
	l := packEvent(t, distributorABIJSON, "EpochRootSet", []string{epochTopic}, root)
	l.Address = testDistributor

	ev, ok := d.Decode(testDistributor, l)
	require.True(t, ok)

	set, ok := ev.(event.EpochRootSet)
	require.True(t, ok)
	assert.Equal(t, "9007199254740993", set.EpochID.String())
}

func TestDecode_TransferOnRewardToken(t *testing.T) {
	d := newTestDecoder(t)
	l := packEvent(t, erc20ABIJSON, "Transfer",
		[]string{addressTopic(testDistributor), addressTopic(testTrader)},
		big.NewInt(1_500_000))
	l.Address = testRewardToken

	ev, ok := d.Decode(testRewardToken, l)
	require.True(t, ok)

	transfer, ok := ev.(event.Transfer)
	require.True(t, ok)
	assert.Equal(t, "0xcccc000000000000000000000000000000000003", transfer.From)
	assert.Equal(t, "0x1111000000000000000000000000000000000011", transfer.To)
	assert.Equal(t, "1500000", transfer.Value.String())
}

func TestDecode_ContractMatchIsCaseInsensitive(t *testing.T) {
	d := newTestDecoder(t)
	l := packEvent(t, marketABIJSON, "MarketTraded",
		[]string{testMarketID, addressTopic(testTrader)},
		big.NewInt(1))

	_, ok := d.Decode("0xaaaa000000000000000000000000000000000001", l)
	assert.True(t, ok)
}

func TestDecode_UnknownContract(t *testing.T) {
	d := newTestDecoder(t)
	l := packEvent(t, marketABIJSON, "MarketTraded",
		[]string{testMarketID, addressTopic(testTrader)},
		big.NewInt(1))

	_, ok := d.Decode("0x9999000000000000000000000000000000000099", l)
	assert.False(t, ok)
}

func TestDecode_UnknownTopicOnKnownContract(t *testing.T) {
	d := newTestDecoder(t)
	// A vault event hitting the market contract registry.
	l := packEvent(t, vaultABIJSON, "LockUpdated",
		[]string{testMarketID, addressTopic(testTrader)},
		[]*big.Int{big.NewInt(1)})

	_, ok := d.Decode(testMarketContract, l)
	assert.False(t, ok)
}

func TestDecode_MalformedDataIsSkipped(t *testing.T) {
	d := newTestDecoder(t)
	l := packEvent(t, marketABIJSON, "MarketCreated",
		[]string{testMarketID, addressTopic(testTrader)},
		common.HexToAddress("0x3333000000000000000000000000000000000033"),
		common.HexToAddress("0x4444000000000000000000000000000000000044"),
		[32]byte{},
		[]string{"yes", "no"},
		[]byte{})
	l.Data = "0x01" // truncated payload

	_, ok := d.Decode(testMarketContract, l)
	assert.False(t, ok)
}

func TestDecode_MissingTopicsIsSkipped(t *testing.T) {
	d := newTestDecoder(t)
	l := packEvent(t, marketABIJSON, "MarketTraded",
		[]string{testMarketID, addressTopic(testTrader)},
		big.NewInt(1))
	l.Topics = l.Topics[:1] // indexed topics stripped

	_, ok := d.Decode(testMarketContract, l)
	assert.False(t, ok)
}

func TestTransferTopic_MatchesCanonicalSignature(t *testing.T) {
	assert.Equal(t,
		"0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef",
		TransferTopic())
}
