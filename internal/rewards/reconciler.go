// Package rewards reconciles reward claims from two independent observation
// paths into one ledger where no (epoch, wallet) pair is double-counted.
//
// Path A rides the main ingest pipeline: distributor EpochRootSet and
// RewardClaimed events reach the store through the mutator. Path B, here,
// recovers claims that emit no dedicated event: a reward-token Transfer out
// of a known distributor plus the enclosing transaction's calldata.
package rewards

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/veldtlabs/market-indexer/internal/cache"
	"github.com/veldtlabs/market-indexer/internal/chain/rpc"
	"github.com/veldtlabs/market-indexer/internal/domain/event"
	"github.com/veldtlabs/market-indexer/internal/domain/model"
	"github.com/veldtlabs/market-indexer/internal/metrics"
	"github.com/veldtlabs/market-indexer/internal/pipeline/decoder"
	"github.com/veldtlabs/market-indexer/internal/pipeline/rangefetcher"
	"github.com/veldtlabs/market-indexer/internal/store"
)

const distributorFnABIJSON = `[
	{"type":"function","name":"claimReward","inputs":[
		{"name":"epochId","type":"uint256"},
		{"name":"amount","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"batchClaimRewards","inputs":[
		{"name":"epochIds","type":"uint256[]"},
		{"name":"amounts","type":"uint256[]"}],"outputs":[]}
]`

const (
	txCacheCapacity = 4096
	txCacheTTL      = time.Hour
)

// Client is the slice of the RPC client the reconciler needs.
type Client interface {
	BlockNumber(ctx context.Context) (int64, error)
	GetTransactionByHash(ctx context.Context, hash string) (*rpc.Transaction, error)
}

// TimestampResolver maps a block number to its timestamp.
type TimestampResolver interface {
	Resolve(ctx context.Context, blockNumber int64) (time.Time, error)
}

// Claim is one inferred (epoch, wallet, amount) triple.
type Claim struct {
	EpochID string
	Wallet  string
	Amount  string
}

// Reconciler scans reward-token transfers out of the distributors and turns
// them into claim rows via calldata decoding.
type Reconciler struct {
	client       Client
	fetcher      *rangefetcher.Fetcher
	decoder      *decoder.Decoder
	blocktime    TimestampResolver
	rewards      store.RewardRepository
	meta         store.MetaRepository
	logger       *slog.Logger
	rewardToken  string
	distributors map[string]struct{}
	startBlock   int64

	fnABI   abi.ABI
	txCache *cache.LRU[string, *rpc.Transaction]

	nowFn func() time.Time
}

func NewReconciler(
	client Client,
	fetcher *rangefetcher.Fetcher,
	dec *decoder.Decoder,
	blocktime TimestampResolver,
	rewards store.RewardRepository,
	meta store.MetaRepository,
	rewardToken string,
	distributors []string,
	startBlock int64,
	logger *slog.Logger,
) (*Reconciler, error) {
	fnABI, err := abi.JSON(strings.NewReader(distributorFnABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse distributor function abi: %w", err)
	}
	set := make(map[string]struct{}, len(distributors))
	for _, d := range distributors {
		set[strings.ToLower(d)] = struct{}{}
	}
	return &Reconciler{
		client:       client,
		fetcher:      fetcher,
		decoder:      dec,
		blocktime:    blocktime,
		rewards:      rewards,
		meta:         meta,
		logger:       logger.With("component", "rewards"),
		rewardToken:  strings.ToLower(rewardToken),
		distributors: set,
		startBlock:   startBlock,
		fnABI:        fnABI,
		txCache:      cache.NewLRU[string, *rpc.Transaction](txCacheCapacity, txCacheTTL),
		nowFn:        time.Now,
	}, nil
}

// Reconcile runs one pass over [watermark+1, head]. The watermark advances
// only after the whole pass succeeds, so a failed pass is retried in full.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	if r.rewardToken == "" || len(r.distributors) == 0 {
		return nil
	}

	head, err := r.client.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("block number: %w", err)
	}
	from := r.startBlock
	if watermark, ok, err := r.meta.GetInt64(ctx, model.MetaRewardsLastBlock); err != nil {
		return fmt.Errorf("load rewards watermark: %w", err)
	} else if ok {
		from = watermark + 1
	}
	if from > head {
		return nil
	}

	topics := [][]string{{decoder.TransferTopic()}}
	err = r.fetcher.Fetch(ctx, from, head, []string{r.rewardToken}, topics, func(batch rangefetcher.Batch) error {
		for _, log := range batch.Logs {
			if err := r.reconcileTransfer(ctx, log); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := r.meta.SetInt64(ctx, model.MetaRewardsLastBlock, head); err != nil {
		return fmt.Errorf("advance rewards watermark: %w", err)
	}
	if err := r.meta.SetString(ctx, model.MetaRewardsLastSynced, r.nowFn().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("record rewards sync time: %w", err)
	}
	metrics.RewardsPassesTotal.Inc()
	return nil
}

func (r *Reconciler) reconcileTransfer(ctx context.Context, log *rpc.Log) error {
	raw, err := rawFromRPCLog(log)
	if err != nil {
		r.logger.Warn("skipping malformed transfer log", "tx_hash", log.TransactionHash, "error", err)
		return nil
	}
	ev, ok := r.decoder.Decode(raw.Address, raw)
	if !ok {
		return nil
	}
	transfer, ok := ev.(event.Transfer)
	if !ok {
		return nil
	}
	if _, known := r.distributors[transfer.From]; !known {
		return nil
	}

	txHash := raw.Hash()
	claimed, err := r.rewards.HasClaimForTx(ctx, txHash)
	if err != nil {
		return fmt.Errorf("check claim for tx: %w", err)
	}
	if claimed {
		// Path A already recorded this transaction.
		metrics.RewardsSkippedTransfers.Inc()
		return nil
	}

	tx, err := r.lookupTx(ctx, txHash)
	if err != nil {
		return fmt.Errorf("lookup tx %s: %w", txHash, err)
	}
	claims, err := r.parseClaimCalldata(tx.Input, transfer.To)
	if err != nil {
		// Malformed or unrelated calldata never fails the pass.
		r.logger.Warn("could not infer claims from calldata", "tx_hash", txHash, "error", err)
		metrics.RewardsSkippedTransfers.Inc()
		return nil
	}

	blockTime, err := r.blocktime.Resolve(ctx, int64(raw.BlockNumber))
	if err != nil {
		return fmt.Errorf("resolve block %d: %w", raw.BlockNumber, err)
	}
	for _, c := range claims {
		inserted, err := r.rewards.InsertClaimIgnore(ctx, &model.RewardClaim{
			EpochID:   c.EpochID,
			Wallet:    c.Wallet,
			Amount:    c.Amount,
			TxHash:    txHash,
			BlockTime: blockTime,
		})
		if err != nil {
			return fmt.Errorf("insert inferred claim: %w", err)
		}
		if inserted {
			metrics.RewardsClaimsRecorded.WithLabelValues("transfer").Inc()
		}
	}
	return nil
}

func (r *Reconciler) lookupTx(ctx context.Context, txHash string) (*rpc.Transaction, error) {
	if tx, ok := r.txCache.Get(txHash); ok {
		return tx, nil
	}
	tx, err := r.client.GetTransactionByHash(ctx, txHash)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction not found")
	}
	r.txCache.Put(txHash, tx)
	return tx, nil
}

// parseClaimCalldata decodes the distributor claim functions. A single
// claimReward yields one claim; batchClaimRewards yields one claim per
// zipped (epochId, amount) index, truncated to the shorter slice. Epoch ids
// stay arbitrary precision: decimal strings, never numeric coercion.
func (r *Reconciler) parseClaimCalldata(input, recipient string) ([]Claim, error) {
	data, err := decodeCalldata(input)
	if err != nil {
		return nil, err
	}
	if len(data) < 4 {
		return nil, fmt.Errorf("calldata shorter than a selector")
	}

	method, err := r.fnABI.MethodById(data[:4])
	if err != nil {
		return nil, fmt.Errorf("unknown selector %x", data[:4])
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method.Name, err)
	}

	switch method.Name {
	case "claimReward":
		if len(args) != 2 {
			return nil, fmt.Errorf("claimReward arity %d", len(args))
		}
		epochID, ok := args[0].(*big.Int)
		if !ok {
			return nil, fmt.Errorf("claimReward epochId type")
		}
		amount, ok := args[1].(*big.Int)
		if !ok {
			return nil, fmt.Errorf("claimReward amount type")
		}
		return []Claim{{EpochID: epochID.String(), Wallet: recipient, Amount: amount.String()}}, nil

	case "batchClaimRewards":
		if len(args) != 2 {
			return nil, fmt.Errorf("batchClaimRewards arity %d", len(args))
		}
		epochIDs, ok := args[0].([]*big.Int)
		if !ok {
			return nil, fmt.Errorf("batchClaimRewards epochIds type")
		}
		amounts, ok := args[1].([]*big.Int)
		if !ok {
			return nil, fmt.Errorf("batchClaimRewards amounts type")
		}
		n := len(epochIDs)
		if len(amounts) < n {
			n = len(amounts)
		}
		claims := make([]Claim, 0, n)
		for i := 0; i < n; i++ {
			claims = append(claims, Claim{
				EpochID: epochIDs[i].String(),
				Wallet:  recipient,
				Amount:  amounts[i].String(),
			})
		}
		return claims, nil
	}
	return nil, fmt.Errorf("unhandled method %s", method.Name)
}

func decodeCalldata(input string) ([]byte, error) {
	s := strings.TrimPrefix(strings.TrimSpace(input), "0x")
	return hex.DecodeString(s)
}

func rawFromRPCLog(log *rpc.Log) (*event.RawLog, error) {
	blockNumber, err := rpc.ParseHexInt64(log.BlockNumber)
	if err != nil {
		return nil, fmt.Errorf("block number: %w", err)
	}
	logIndex, err := rpc.ParseHexInt64(log.LogIndex)
	if err != nil {
		return nil, fmt.Errorf("log index: %w", err)
	}
	return &event.RawLog{
		BlockNumber: event.FlexUint64(blockNumber),
		LogIndex:    event.FlexUint64(logIndex),
		TxHash:      log.TransactionHash,
		Address:     log.Address,
		Data:        log.Data,
		Topics:      log.Topics,
		Removed:     log.Removed,
	}, nil
}
