package store

import (
	"context"
	"math/big"

	"github.com/veldtlabs/market-indexer/internal/domain/event"
	"github.com/veldtlabs/market-indexer/internal/domain/model"
)

// MarketRepository owns the markets table. Markets are written once
// (INSERT OR IGNORE) and never updated.
type MarketRepository interface {
	InsertIgnore(ctx context.Context, m *model.Market) (inserted bool, err error)
	Exists(ctx context.Context, marketID string) (bool, error)
	Get(ctx context.Context, marketID string) (*model.Market, error)
	ListIDs(ctx context.Context) ([]string, error)
	ListUnresolvedIDs(ctx context.Context) ([]string, error)
}

type TradeRepository interface {
	InsertIgnore(ctx context.Context, t *model.Trade) error
	CountForMarket(ctx context.Context, marketID string) (int64, error)
}

type LockRepository interface {
	InsertIgnore(ctx context.Context, l *model.LockEvent) error
	// OutstandingBoost is cumulative sponsored actual cost minus cumulative
	// unlocked amount, clamped at zero.
	OutstandingBoost(ctx context.Context, marketID string) (*big.Int, error)
}

type RedemptionRepository interface {
	InsertIgnore(ctx context.Context, r *model.Redemption) error
}

type ResolutionRepository interface {
	InsertIgnore(ctx context.Context, r *model.Resolution) error
	RecordSurplusWithdrawn(ctx context.Context, marketID, amount string) error
	Get(ctx context.Context, marketID string) (*model.Resolution, error)
}

type MarketStateRepository interface {
	Append(ctx context.Context, s *model.MarketState) error
	Latest(ctx context.Context, marketID string) (*model.MarketState, error)
}

type RewardRepository interface {
	UpsertEpoch(ctx context.Context, e *model.RewardEpoch) error
	// InsertClaimIgnore records a claim unless one already exists for
	// (epoch_id, wallet); reports whether a row was written.
	InsertClaimIgnore(ctx context.Context, c *model.RewardClaim) (bool, error)
	HasClaimForTx(ctx context.Context, txHash string) (bool, error)
	CountClaims(ctx context.Context, epochID, wallet string) (int64, error)
}

type ImpactRepository interface {
	// ReplaceForMarket swaps a market's impact rows atomically
	// (delete-then-insert in one transaction) so readers never observe a
	// mix of old and new clips.
	ReplaceForMarket(ctx context.Context, marketID string, rows []model.PriceImpact) error
	ListForMarket(ctx context.Context, marketID string) ([]model.PriceImpact, error)
}

// ProcessedLogRepository is the idempotence boundary: a recorded key means
// "already applied, skip on replay".
type ProcessedLogRepository interface {
	IsProcessed(ctx context.Context, key event.DedupKey) (bool, error)
	MarkProcessed(ctx context.Context, key event.DedupKey, blockNumber int64) error
}

// MetaRepository holds cursor/offset/watermark state in meta(key, value).
type MetaRepository interface {
	GetInt64(ctx context.Context, key string) (value int64, ok bool, err error)
	SetInt64(ctx context.Context, key string, value int64) error
	GetString(ctx context.Context, key string) (value string, ok bool, err error)
	SetString(ctx context.Context, key, value string) error
}

// ProfileQueueRepository is the durable queue of addresses awaiting external
// profile enrichment. Failed flushes requeue by leaving the row in place.
type ProfileQueueRepository interface {
	Enqueue(ctx context.Context, address string) error
	List(ctx context.Context, limit int) ([]model.ProfileTarget, error)
	Remove(ctx context.Context, address string) error
	BumpAttempts(ctx context.Context, address string) error
	Depth(ctx context.Context) (int64, error)
}
