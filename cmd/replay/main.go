// Command replay re-derives store state from the persisted JSONL ledger
// without touching the network for logs. Block timestamps still come from
// RPC; everything else is the file.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/veldtlabs/market-indexer/internal/chain/ratelimit"
	"github.com/veldtlabs/market-indexer/internal/chain/rpc"
	"github.com/veldtlabs/market-indexer/internal/config"
	"github.com/veldtlabs/market-indexer/internal/curve"
	"github.com/veldtlabs/market-indexer/internal/pipeline"
	"github.com/veldtlabs/market-indexer/internal/pipeline/blocktime"
	"github.com/veldtlabs/market-indexer/internal/pipeline/decoder"
	"github.com/veldtlabs/market-indexer/internal/pipeline/ledger"
	"github.com/veldtlabs/market-indexer/internal/pipeline/mutator"
	"github.com/veldtlabs/market-indexer/internal/store/sqlite"
)

func main() {
	force := flag.Bool("force", false, "ignore the stored byte offset and replay the whole file")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	db, err := sqlite.New(cfg.Storage.DBPath)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	client := rpc.NewClient(cfg.PrimaryRPCURL(), logger,
		rpc.WithTimeout(cfg.RPC.Timeout),
		rpc.WithRateLimiter(ratelimit.NewLimiter(cfg.RPC.RPS, cfg.RPC.Burst)),
	)
	dec, err := decoder.New(logger, cfg.Contracts.Market, cfg.Contracts.Vault, cfg.Contracts.Distributors, cfg.Contracts.RewardToken)
	if err != nil {
		logger.Error("failed to build decoder", "error", err)
		os.Exit(1)
	}

	resolver := blocktime.NewResolver(client, logger,
		blocktime.WithConcurrency(cfg.RPC.BlockTimeConcurrency),
		blocktime.WithMaxRetries(cfg.RPC.MaxRetries),
	)
	mut := mutator.New(
		sqlite.NewMarketRepo(db),
		sqlite.NewTradeRepo(db),
		sqlite.NewLockRepo(db),
		sqlite.NewRedemptionRepo(db),
		sqlite.NewResolutionRepo(db),
		sqlite.NewRewardRepo(db),
		sqlite.NewProfileQueueRepo(db),
		logger,
		mutator.WithSnapshotDebounce(cfg.Sync.SnapshotDebounce),
	)
	led := ledger.New(cfg.Storage.LedgerPath, sqlite.NewMetaRepo(db), sqlite.NewProcessedLogRepo(db), dec, resolver, mut, logger)
	reader, err := curve.NewReader(client, cfg.Contracts.Market)
	if err != nil {
		logger.Error("failed to build curve reader", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	applied, err := led.Replay(ctx, *force)
	if err != nil {
		logger.Error("replay failed", "applied", applied, "error", err)
		os.Exit(1)
	}

	// Markets touched during the backfill are only marked in memory; flush
	// them to state rows before exit. The profile queue is durable and is
	// drained by the live process.
	pipeline.FlushSnapshots(ctx, mut, reader, sqlite.NewMarketStateRepo(db), logger)
	logger.Info("replay complete", "applied", applied, "force", *force)
}
