// Package mutator applies decoded domain events to the store. Callers
// guarantee at-most-once delivery per (contract, txHash, logIndex) via the
// processed-log ledger; all writes are additionally INSERT OR IGNORE so a
// redelivered event is a no-op rather than a duplicate row.
package mutator

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/veldtlabs/market-indexer/internal/domain/event"
	"github.com/veldtlabs/market-indexer/internal/domain/model"
	"github.com/veldtlabs/market-indexer/internal/metrics"
	"github.com/veldtlabs/market-indexer/internal/store"
)

const defaultSnapshotDebounce = 120 * time.Second

// Meta carries the log coordinates of the event being applied.
type Meta struct {
	TxHash      string
	LogIndex    int64
	BlockNumber int64
	BlockTime   time.Time
}

// Mutator writes event rows and tracks which markets need a fresh on-chain
// state snapshot. Snapshot marking is debounced per market so a burst of
// trades produces one snapshot, not one per fill.
type Mutator struct {
	markets     store.MarketRepository
	trades      store.TradeRepository
	locks       store.LockRepository
	redemptions store.RedemptionRepository
	resolutions store.ResolutionRepository
	rewards     store.RewardRepository
	profiles    store.ProfileQueueRepository
	logger      *slog.Logger

	enrichProfiles   bool
	snapshotDebounce time.Duration

	mu         sync.Mutex
	pending    map[string]struct{}
	lastMarked map[string]time.Time

	nowFn func() time.Time
}

type Option func(*Mutator)

func WithSnapshotDebounce(d time.Duration) Option {
	return func(m *Mutator) {
		if d > 0 {
			m.snapshotDebounce = d
		}
	}
}

func WithProfileEnrichment(enabled bool) Option {
	return func(m *Mutator) {
		m.enrichProfiles = enabled
	}
}

func New(
	markets store.MarketRepository,
	trades store.TradeRepository,
	locks store.LockRepository,
	redemptions store.RedemptionRepository,
	resolutions store.ResolutionRepository,
	rewards store.RewardRepository,
	profiles store.ProfileQueueRepository,
	logger *slog.Logger,
	opts ...Option,
) *Mutator {
	m := &Mutator{
		markets:          markets,
		trades:           trades,
		locks:            locks,
		redemptions:      redemptions,
		resolutions:      resolutions,
		rewards:          rewards,
		profiles:         profiles,
		logger:           logger.With("component", "mutator"),
		snapshotDebounce: defaultSnapshotDebounce,
		pending:          make(map[string]struct{}),
		lastMarked:       make(map[string]time.Time),
		nowFn:            time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Apply writes one decoded event. Integrity gaps (an event referencing a
// market the store has never seen) are dropped, not retried: in well-formed
// chain history the creation event always lands first.
func (m *Mutator) Apply(ctx context.Context, ev event.DomainEvent, meta Meta) error {
	switch e := ev.(type) {
	case event.MarketCreated:
		return m.applyMarketCreated(ctx, e, meta)
	case event.MarketTraded:
		return m.applyMarketTraded(ctx, e, meta)
	case event.MarketResolved:
		return m.applyMarketResolved(ctx, e, meta)
	case event.TokensRedeemed:
		return m.applyTokensRedeemed(ctx, e, meta)
	case event.SurplusWithdrawn:
		return m.applySurplusWithdrawn(ctx, e, meta)
	case event.LockUpdated:
		return m.applyLockKind(ctx, e.MarketID, e.Locker, model.LockKindLock, e.Amounts, meta, "LockUpdated")
	case event.Unlocked:
		return m.applyLockKind(ctx, e.MarketID, e.Locker, model.LockKindUnlock, e.Amounts, meta, "Unlocked")
	case event.StakeUpdated:
		return m.applyLockKind(ctx, e.MarketID, e.Staker, model.LockKindStake, e.Amounts, meta, "StakeUpdated")
	case event.SponsoredLocked:
		return m.applySponsoredLocked(ctx, e, meta)
	case event.EpochRootSet:
		return m.applyEpochRootSet(ctx, e, meta)
	case event.RewardClaimed:
		return m.applyRewardClaimed(ctx, e, meta)
	case event.Transfer:
		// Reward-token transfers are reconciled by the rewards pass, not
		// applied as rows here.
		return nil
	default:
		return fmt.Errorf("unhandled event type %T", ev)
	}
}

func (m *Mutator) applyMarketCreated(ctx context.Context, e event.MarketCreated, meta Meta) error {
	_, err := m.markets.InsertIgnore(ctx, &model.Market{
		MarketID:         e.MarketID,
		Creator:          e.Creator,
		Oracle:           e.Oracle,
		SurplusRecipient: e.SurplusRecipient,
		QuestionID:       e.QuestionID,
		OutcomeNames:     e.OutcomeNames,
		Metadata:         e.Metadata,
		TxHash:           meta.TxHash,
		BlockTime:        meta.BlockTime,
	})
	if err != nil {
		return err
	}
	m.enqueueProfiles(ctx, e.Creator, e.Oracle, e.SurplusRecipient)
	m.MarkSnapshot(e.MarketID, false)
	metrics.MutatorEventsApplied.WithLabelValues("MarketCreated").Inc()
	return nil
}

func (m *Mutator) applyMarketTraded(ctx context.Context, e event.MarketTraded, meta Meta) error {
	ok, err := m.guardMarket(ctx, e.MarketID, "MarketTraded", meta)
	if err != nil || !ok {
		return err
	}
	usdcIn, usdcOut := model.SplitFlow(e.UsdcFlow)
	if err := m.trades.InsertIgnore(ctx, &model.Trade{
		MarketID:    e.MarketID,
		Trader:      e.Trader,
		UsdcIn:      usdcIn,
		UsdcOut:     usdcOut,
		BlockNumber: meta.BlockNumber,
		TxHash:      meta.TxHash,
		LogIndex:    meta.LogIndex,
		BlockTime:   meta.BlockTime,
	}); err != nil {
		return err
	}
	m.enqueueProfiles(ctx, e.Trader)
	m.MarkSnapshot(e.MarketID, false)
	metrics.MutatorEventsApplied.WithLabelValues("MarketTraded").Inc()
	return nil
}

func (m *Mutator) applyMarketResolved(ctx context.Context, e event.MarketResolved, meta Meta) error {
	ok, err := m.guardMarket(ctx, e.MarketID, "MarketResolved", meta)
	if err != nil || !ok {
		return err
	}
	payouts := make([]string, len(e.Payouts))
	for i, p := range e.Payouts {
		payouts[i] = p.String()
	}
	if err := m.resolutions.InsertIgnore(ctx, &model.Resolution{
		MarketID:         e.MarketID,
		Surplus:          e.Surplus.String(),
		Payouts:          payouts,
		SurplusWithdrawn: "0",
		TxHash:           meta.TxHash,
		BlockTime:        meta.BlockTime,
	}); err != nil {
		return err
	}
	m.MarkSnapshot(e.MarketID, false)
	metrics.MutatorEventsApplied.WithLabelValues("MarketResolved").Inc()
	return nil
}

func (m *Mutator) applyTokensRedeemed(ctx context.Context, e event.TokensRedeemed, meta Meta) error {
	ok, err := m.guardMarket(ctx, e.MarketID, "TokensRedeemed", meta)
	if err != nil || !ok {
		return err
	}
	if err := m.redemptions.InsertIgnore(ctx, &model.Redemption{
		MarketID:  e.MarketID,
		User:      e.User,
		Token:     e.Token,
		Shares:    e.Shares.String(),
		Payout:    e.Payout.String(),
		TxHash:    meta.TxHash,
		LogIndex:  meta.LogIndex,
		BlockTime: meta.BlockTime,
	}); err != nil {
		return err
	}
	metrics.MutatorEventsApplied.WithLabelValues("TokensRedeemed").Inc()
	return nil
}

func (m *Mutator) applySurplusWithdrawn(ctx context.Context, e event.SurplusWithdrawn, meta Meta) error {
	ok, err := m.guardMarket(ctx, e.MarketID, "SurplusWithdrawn", meta)
	if err != nil || !ok {
		return err
	}
	if err := m.resolutions.RecordSurplusWithdrawn(ctx, e.MarketID, e.Amount.String()); err != nil {
		return err
	}
	metrics.MutatorEventsApplied.WithLabelValues("SurplusWithdrawn").Inc()
	return nil
}

func (m *Mutator) applyLockKind(ctx context.Context, marketID, actor string, kind model.LockKind, amounts []*big.Int, meta Meta, eventName string) error {
	ok, err := m.guardMarket(ctx, marketID, eventName, meta)
	if err != nil || !ok {
		return err
	}
	raw := make([]string, len(amounts))
	total := new(big.Int)
	for i, a := range amounts {
		raw[i] = a.String()
		total.Add(total, a)
	}
	if err := m.locks.InsertIgnore(ctx, &model.LockEvent{
		MarketID:    marketID,
		Locker:      actor,
		Kind:        kind,
		Amount:      total.String(),
		Amounts:     raw,
		SetsAmount:  "0",
		UserPaid:    "0",
		SubsidyUsed: "0",
		ActualCost:  "0",
		BlockNumber: meta.BlockNumber,
		TxHash:      meta.TxHash,
		LogIndex:    meta.LogIndex,
		BlockTime:   meta.BlockTime,
	}); err != nil {
		return err
	}
	metrics.MutatorEventsApplied.WithLabelValues(eventName).Inc()
	return nil
}

func (m *Mutator) applySponsoredLocked(ctx context.Context, e event.SponsoredLocked, meta Meta) error {
	ok, err := m.guardMarket(ctx, e.MarketID, "SponsoredLocked", meta)
	if err != nil || !ok {
		return err
	}
	if err := m.locks.InsertIgnore(ctx, &model.LockEvent{
		MarketID:    e.MarketID,
		Locker:      e.Locker,
		Kind:        model.LockKindSponsored,
		Amount:      "0",
		Amounts:     []string{},
		SetsAmount:  e.SetsAmount.String(),
		UserPaid:    e.UserPaid.String(),
		SubsidyUsed: e.SubsidyUsed.String(),
		ActualCost:  e.ActualCost.String(),
		BlockNumber: meta.BlockNumber,
		TxHash:      meta.TxHash,
		LogIndex:    meta.LogIndex,
		BlockTime:   meta.BlockTime,
	}); err != nil {
		return err
	}
	metrics.MutatorEventsApplied.WithLabelValues("SponsoredLocked").Inc()
	return nil
}

func (m *Mutator) applyEpochRootSet(ctx context.Context, e event.EpochRootSet, meta Meta) error {
	if err := m.rewards.UpsertEpoch(ctx, &model.RewardEpoch{
		EpochID:   e.EpochID.String(),
		Root:      e.Root,
		TxHash:    meta.TxHash,
		BlockTime: meta.BlockTime,
	}); err != nil {
		return err
	}
	metrics.MutatorEventsApplied.WithLabelValues("EpochRootSet").Inc()
	return nil
}

func (m *Mutator) applyRewardClaimed(ctx context.Context, e event.RewardClaimed, meta Meta) error {
	inserted, err := m.rewards.InsertClaimIgnore(ctx, &model.RewardClaim{
		EpochID:   e.EpochID.String(),
		Wallet:    e.Wallet,
		Amount:    e.Amount.String(),
		TxHash:    meta.TxHash,
		BlockTime: meta.BlockTime,
	})
	if err != nil {
		return err
	}
	if inserted {
		metrics.RewardsClaimsRecorded.WithLabelValues("event").Inc()
	}
	metrics.MutatorEventsApplied.WithLabelValues("RewardClaimed").Inc()
	return nil
}

// guardMarket drops events for markets the store has never seen.
func (m *Mutator) guardMarket(ctx context.Context, marketID, eventName string, meta Meta) (bool, error) {
	exists, err := m.markets.Exists(ctx, marketID)
	if err != nil {
		return false, err
	}
	if !exists {
		m.logger.Warn("dropping event for unknown market",
			"event", eventName,
			"market_id", marketID,
			"tx_hash", meta.TxHash,
			"log_index", meta.LogIndex)
		metrics.MutatorIntegrityDrops.Inc()
		return false, nil
	}
	return true, nil
}

func (m *Mutator) enqueueProfiles(ctx context.Context, addresses ...string) {
	if !m.enrichProfiles {
		return
	}
	for _, addr := range addresses {
		if addr == "" {
			continue
		}
		if err := m.profiles.Enqueue(ctx, addr); err != nil {
			m.logger.Warn("failed to enqueue profile target", "address", addr, "error", err)
		}
	}
}

// MarkSnapshot records that a market's on-chain state should be re-read.
// Non-forced marks within the debounce window of the previous mark for the
// same market are dropped.
func (m *Mutator) MarkSnapshot(marketID string, force bool) {
	now := m.nowFn()
	m.mu.Lock()
	defer m.mu.Unlock()
	if !force {
		if last, ok := m.lastMarked[marketID]; ok && now.Sub(last) <= m.snapshotDebounce {
			return
		}
	}
	m.lastMarked[marketID] = now
	m.pending[marketID] = struct{}{}
}

// DrainSnapshots returns and clears the set of markets awaiting a snapshot.
func (m *Mutator) DrainSnapshots() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.pending))
	for id := range m.pending {
		out = append(out, id)
	}
	m.pending = make(map[string]struct{})
	return out
}
