// Package pipeline wires the ingest stages into the sync loop: fetch logs,
// append them to the replay ledger, replay the new bytes, flush snapshots
// and the profile queue.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/veldtlabs/market-indexer/internal/alert"
	"github.com/veldtlabs/market-indexer/internal/curve"
	"github.com/veldtlabs/market-indexer/internal/domain/model"
	"github.com/veldtlabs/market-indexer/internal/metrics"
	"github.com/veldtlabs/market-indexer/internal/pipeline/ledger"
	"github.com/veldtlabs/market-indexer/internal/pipeline/mutator"
	"github.com/veldtlabs/market-indexer/internal/pipeline/rangefetcher"
	"github.com/veldtlabs/market-indexer/internal/store"
	"github.com/veldtlabs/market-indexer/internal/tracing"
)

const profileFlushBatch = 50

// HeadClient reports the current chain head.
type HeadClient interface {
	BlockNumber(ctx context.Context) (int64, error)
}

// ProfileEnricher fetches external profile data for an address. The queue
// requeues on failure; enrichment itself lives outside this module.
type ProfileEnricher interface {
	Enrich(ctx context.Context, address string) error
}

// MarketInfoReader is the slice of the curve reader that snapshotting needs.
type MarketInfoReader interface {
	MarketInfo(ctx context.Context, marketID string) (*curve.MarketInfo, error)
}

// Engine drives the live sync loop. All store mutations run from its
// goroutine; the single-writer property the store assumes holds by
// construction.
type Engine struct {
	client    HeadClient
	fetcher   *rangefetcher.Fetcher
	ledger    *ledger.Ledger
	mutator   *mutator.Mutator
	curve     MarketInfoReader
	markets   store.MarketRepository
	state     store.MarketStateRepository
	profiles  store.ProfileQueueRepository
	meta      store.MetaRepository
	alerter   alert.Alerter
	enricher  ProfileEnricher
	logger    *slog.Logger
	addresses []string

	syncInterval time.Duration
	startBlock   int64
}

type EngineOption func(*Engine)

func WithAlerter(a alert.Alerter) EngineOption {
	return func(e *Engine) {
		e.alerter = a
	}
}

func WithProfileEnricher(p ProfileEnricher) EngineOption {
	return func(e *Engine) {
		e.enricher = p
	}
}

func NewEngine(
	client HeadClient,
	fetcher *rangefetcher.Fetcher,
	led *ledger.Ledger,
	mut *mutator.Mutator,
	reader MarketInfoReader,
	markets store.MarketRepository,
	state store.MarketStateRepository,
	profiles store.ProfileQueueRepository,
	meta store.MetaRepository,
	addresses []string,
	startBlock int64,
	syncInterval time.Duration,
	logger *slog.Logger,
	opts ...EngineOption,
) *Engine {
	e := &Engine{
		client:       client,
		fetcher:      fetcher,
		ledger:       led,
		mutator:      mut,
		curve:        reader,
		markets:      markets,
		state:        state,
		profiles:     profiles,
		meta:         meta,
		logger:       logger.With("component", "engine"),
		addresses:    addresses,
		startBlock:   startBlock,
		syncInterval: syncInterval,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes sync passes until the context is cancelled. A failed pass is
// logged and alerted but does not stop the loop: the next tick retries from
// the durable cursor.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("sync loop started", "interval", e.syncInterval.String())
	ticker := time.NewTicker(e.syncInterval)
	defer ticker.Stop()

	for {
		if err := e.SyncOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.logger.Error("sync pass failed", "error", err)
			e.sendAlert(ctx, alert.Alert{
				Type:    alert.TypeSyncStalled,
				Title:   "sync pass failed",
				Message: err.Error(),
			})
		}
		select {
		case <-ctx.Done():
			e.logger.Info("sync loop stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// SyncOnce runs one pass: fetch [cursor+1, head], append to the ledger,
// replay the appended bytes, advance the cursor, flush snapshots and the
// profile queue.
func (e *Engine) SyncOnce(ctx context.Context) error {
	ctx, span := tracing.Tracer("pipeline").Start(ctx, "sync_pass")
	defer span.End()

	head, err := e.client.BlockNumber(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("block number: %w", err)
	}

	cursor := e.startBlock - 1
	if stored, ok, err := e.meta.GetInt64(ctx, model.MetaLastBlockSynced); err != nil {
		return fmt.Errorf("load cursor: %w", err)
	} else if ok {
		cursor = stored
	}

	metrics.SyncLagBlocks.Set(float64(head - cursor))
	if cursor >= head {
		return nil
	}
	span.SetAttributes(
		attribute.Int64("from_block", cursor+1),
		attribute.Int64("to_block", head),
	)

	err = e.fetcher.Fetch(ctx, cursor+1, head, e.addresses, nil, func(batch rangefetcher.Batch) error {
		return e.ledger.Append(batch.Logs)
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("fetch [%d, %d]: %w", cursor+1, head, err)
	}

	if _, err := e.ledger.Replay(ctx, false); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("replay: %w", err)
	}
	if err := e.meta.SetInt64(ctx, model.MetaLastBlockSynced, head); err != nil {
		return fmt.Errorf("advance cursor: %w", err)
	}

	e.FlushSnapshots(ctx)
	e.FlushProfiles(ctx)
	metrics.SyncPasses.Inc()
	return nil
}

// SnapshotSweep force-marks every known market and flushes, so idle markets
// get a fresh state row on the sweep cadence even with no event traffic.
func (e *Engine) SnapshotSweep(ctx context.Context) error {
	ids, err := e.markets.ListIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		e.mutator.MarkSnapshot(id, true)
	}
	e.FlushSnapshots(ctx)
	return nil
}

// FlushSnapshots drains the mutator's pending markets into state rows.
func (e *Engine) FlushSnapshots(ctx context.Context) {
	FlushSnapshots(ctx, e.mutator, e.curve, e.state, e.logger)
}

// FlushSnapshots reads current curve state for every pending market and
// appends a state row. Per-market failures re-mark the market so the next
// flush retries it. Replay completion must flush through here too (the
// offline backfill binary calls this directly), otherwise marks accumulated
// during a backfill die with the process.
func FlushSnapshots(ctx context.Context, mut *mutator.Mutator, reader MarketInfoReader, state store.MarketStateRepository, logger *slog.Logger) {
	for _, marketID := range mut.DrainSnapshots() {
		info, err := reader.MarketInfo(ctx, marketID)
		if err != nil {
			logger.Warn("snapshot read failed", "market_id", marketID, "error", err)
			mut.MarkSnapshot(marketID, true)
			continue
		}
		if err := state.Append(ctx, &model.MarketState{
			MarketID:  marketID,
			TotalUsdc: info.TotalUsdc.String(),
			TotalQ:    info.TotalQ.String(),
			Alpha:     info.Alpha.String(),
			BlockTime: time.Now().UTC(),
		}); err != nil {
			logger.Warn("snapshot write failed", "market_id", marketID, "error", err)
			mut.MarkSnapshot(marketID, true)
		}
	}
}

// FlushProfiles drains a batch of the profile queue through the enricher.
// Failures bump the attempt counter and leave the row for the next flush.
func (e *Engine) FlushProfiles(ctx context.Context) {
	if e.enricher == nil {
		return
	}
	targets, err := e.profiles.List(ctx, profileFlushBatch)
	if err != nil {
		e.logger.Warn("profile queue read failed", "error", err)
		return
	}
	for _, t := range targets {
		if err := e.enricher.Enrich(ctx, t.Address); err != nil {
			e.logger.Warn("profile enrichment failed",
				"address", t.Address, "attempts", t.Attempts+1, "error", err)
			metrics.ProfileFlushFailures.Inc()
			if err := e.profiles.BumpAttempts(ctx, t.Address); err != nil {
				e.logger.Warn("profile attempt bump failed", "address", t.Address, "error", err)
			}
			continue
		}
		if err := e.profiles.Remove(ctx, t.Address); err != nil {
			e.logger.Warn("profile dequeue failed", "address", t.Address, "error", err)
		}
	}
	if depth, err := e.profiles.Depth(ctx); err == nil {
		metrics.ProfileQueueDepth.Set(float64(depth))
	}
}

func (e *Engine) sendAlert(ctx context.Context, a alert.Alert) {
	if e.alerter == nil {
		return
	}
	if err := e.alerter.Send(ctx, a); err != nil {
		e.logger.Warn("alert delivery failed", "type", string(a.Type), "error", err)
	}
}

// CursorStatus is the health endpoint's view of ingest progress.
type CursorStatus struct {
	LastBlockSynced  int64  `json:"lastBlockSynced"`
	LedgerOffset     int64  `json:"ledgerOffset"`
	RewardsLastBlock int64  `json:"rewardsLastBlock"`
	RewardsLastSync  string `json:"rewardsLastSyncedAt"`
}

func (e *Engine) Status(ctx context.Context) (CursorStatus, error) {
	var s CursorStatus
	var err error
	if s.LastBlockSynced, _, err = e.meta.GetInt64(ctx, model.MetaLastBlockSynced); err != nil {
		return s, err
	}
	if s.LedgerOffset, _, err = e.meta.GetInt64(ctx, model.MetaLedgerOffset); err != nil {
		return s, err
	}
	if s.RewardsLastBlock, _, err = e.meta.GetInt64(ctx, model.MetaRewardsLastBlock); err != nil {
		return s, err
	}
	if s.RewardsLastSync, _, err = e.meta.GetString(ctx, model.MetaRewardsLastSynced); err != nil {
		return s, err
	}
	return s, nil
}
