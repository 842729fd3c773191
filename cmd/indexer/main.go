package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/veldtlabs/market-indexer/internal/alert"
	"github.com/veldtlabs/market-indexer/internal/chain/ratelimit"
	"github.com/veldtlabs/market-indexer/internal/chain/rpc"
	"github.com/veldtlabs/market-indexer/internal/circuitbreaker"
	"github.com/veldtlabs/market-indexer/internal/config"
	"github.com/veldtlabs/market-indexer/internal/curve"
	"github.com/veldtlabs/market-indexer/internal/pipeline"
	"github.com/veldtlabs/market-indexer/internal/pipeline/blocktime"
	"github.com/veldtlabs/market-indexer/internal/pipeline/decoder"
	"github.com/veldtlabs/market-indexer/internal/pipeline/ledger"
	"github.com/veldtlabs/market-indexer/internal/pipeline/mutator"
	"github.com/veldtlabs/market-indexer/internal/pipeline/rangefetcher"
	"github.com/veldtlabs/market-indexer/internal/rewards"
	"github.com/veldtlabs/market-indexer/internal/store/sqlite"
	"github.com/veldtlabs/market-indexer/internal/tracing"
)

// Base-chain block cadence, used to convert the lookback window from days
// to blocks on first start.
const blocksPerDay = 43200

const alertCooldown = 15 * time.Minute

func main() {
	logLevel := slog.LevelInfo
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	switch cfg.Log.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	logger.Info("starting market-indexer",
		"rpc", cfg.PrimaryRPCURL(),
		"market_contract", cfg.Contracts.Market,
		"vault_contract", cfg.Contracts.Vault,
		"distributors", len(cfg.Contracts.Distributors),
		"db_path", cfg.Storage.DBPath,
		"ledger_path", cfg.Storage.LedgerPath,
	)

	tracingEndpoint := ""
	if cfg.Tracing.Enabled {
		tracingEndpoint = cfg.Tracing.Endpoint
	}
	shutdownTracing, err := tracing.Init(context.Background(), "market-indexer", tracingEndpoint)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown error", "error", err)
		}
	}()

	db, err := sqlite.New(cfg.Storage.DBPath)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("database ready")

	client := rpc.NewClient(cfg.PrimaryRPCURL(), logger,
		rpc.WithTimeout(cfg.RPC.Timeout),
		rpc.WithRateLimiter(ratelimit.NewLimiter(cfg.RPC.RPS, cfg.RPC.Burst)),
		rpc.WithBreaker(circuitbreaker.New(circuitbreaker.Config{}, logger)),
	)

	dec, err := decoder.New(logger, cfg.Contracts.Market, cfg.Contracts.Vault, cfg.Contracts.Distributors, cfg.Contracts.RewardToken)
	if err != nil {
		logger.Error("failed to build decoder", "error", err)
		os.Exit(1)
	}
	reader, err := curve.NewReader(client, cfg.Contracts.Market)
	if err != nil {
		logger.Error("failed to build curve reader", "error", err)
		os.Exit(1)
	}

	marketRepo := sqlite.NewMarketRepo(db)
	tradeRepo := sqlite.NewTradeRepo(db)
	lockRepo := sqlite.NewLockRepo(db)
	redemptionRepo := sqlite.NewRedemptionRepo(db)
	resolutionRepo := sqlite.NewResolutionRepo(db)
	stateRepo := sqlite.NewMarketStateRepo(db)
	rewardRepo := sqlite.NewRewardRepo(db)
	impactRepo := sqlite.NewImpactRepo(db)
	processedRepo := sqlite.NewProcessedLogRepo(db)
	metaRepo := sqlite.NewMetaRepo(db)
	profileRepo := sqlite.NewProfileQueueRepo(db)

	resolver := blocktime.NewResolver(client, logger,
		blocktime.WithConcurrency(cfg.RPC.BlockTimeConcurrency),
		blocktime.WithMaxRetries(cfg.RPC.MaxRetries),
	)
	mut := mutator.New(marketRepo, tradeRepo, lockRepo, redemptionRepo, resolutionRepo, rewardRepo, profileRepo, logger,
		mutator.WithSnapshotDebounce(cfg.Sync.SnapshotDebounce),
		mutator.WithProfileEnrichment(cfg.Sync.ProfileEnrichEnabled),
	)
	led := ledger.New(cfg.Storage.LedgerPath, metaRepo, processedRepo, dec, resolver, mut, logger)

	var alerter alert.Alerter
	if cfg.Alert.WebhookURL != "" {
		alerter = alert.NewWebhookAlerter(cfg.Alert.WebhookURL, alertCooldown, logger)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startBlock, err := resolveStartBlock(ctx, client, cfg.Fetch.LookbackDays, logger)
	if err != nil {
		logger.Error("failed to resolve start block", "error", err)
		os.Exit(1)
	}

	addresses := append([]string{cfg.Contracts.Market, cfg.Contracts.Vault}, cfg.Contracts.Distributors...)
	syncFetcher := rangefetcher.New(client, logger,
		rangefetcher.WithSpanBounds(cfg.Fetch.SpanInit, cfg.Fetch.SpanMin, cfg.Fetch.SpanMax))
	engine := pipeline.NewEngine(client, syncFetcher, led, mut, reader,
		marketRepo, stateRepo, profileRepo, metaRepo,
		addresses, startBlock, cfg.Sync.Interval, logger,
		pipeline.WithAlerter(alerter),
	)

	rewardsFetcher := rangefetcher.New(client, logger,
		rangefetcher.WithSpanBounds(cfg.Fetch.SpanInit, cfg.Fetch.SpanMin, cfg.Fetch.SpanMax))
	reconciler, err := rewards.NewReconciler(client, rewardsFetcher, dec, resolver,
		rewardRepo, metaRepo, cfg.Contracts.RewardToken, cfg.Contracts.Distributors, startBlock, logger)
	if err != nil {
		logger.Error("failed to build reward reconciler", "error", err)
		os.Exit(1)
	}
	solver := curve.NewSolver(reader, marketRepo, impactRepo, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return engine.Run(gCtx)
	})

	g.Go(func() error {
		ticker := time.NewTicker(cfg.Sync.RewardsInterval)
		defer ticker.Stop()
		for {
			if err := reconciler.Reconcile(gCtx); err != nil && gCtx.Err() == nil {
				logger.Error("reward reconciliation failed", "error", err)
				if alerter != nil {
					_ = alerter.Send(gCtx, alert.Alert{
						Type:    alert.TypeRewardsFailure,
						Title:   "reward reconciliation failed",
						Message: err.Error(),
					})
				}
			}
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			case <-ticker.C:
			}
		}
	})

	g.Go(func() error {
		// The impact loop is deliberately isolated: a broken quote function
		// must not take down ingestion.
		ticker := time.NewTicker(cfg.Sync.ImpactInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			case <-ticker.C:
			}
			if err := solver.RecomputeAll(gCtx); err != nil && gCtx.Err() == nil {
				logger.Error("price impact recompute failed", "error", err)
			}
			if err := engine.SnapshotSweep(gCtx); err != nil && gCtx.Err() == nil {
				logger.Error("snapshot sweep failed", "error", err)
			}
		}
	})

	g.Go(func() error {
		return serveHealth(gCtx, engine, cfg.Server.HealthPort, logger)
	})

	g.Go(func() error {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig.String())
			cancel()
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Error("indexer stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("indexer stopped")
}

// resolveStartBlock computes the first block of the lookback window for a
// fresh database. On an initialized database the stored cursor wins.
func resolveStartBlock(ctx context.Context, client *rpc.Client, lookbackDays int, logger *slog.Logger) (int64, error) {
	head, err := client.BlockNumber(ctx)
	if err != nil {
		return 0, err
	}
	start := head - int64(lookbackDays)*blocksPerDay
	if start < 0 {
		start = 0
	}
	logger.Info("resolved start block", "head", head, "start", start, "lookback_days", lookbackDays)
	return start, nil
}

func serveHealth(ctx context.Context, engine *pipeline.Engine, port int, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		status, err := engine.Status(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(status)
	})

	server := &http.Server{
		Addr:    ":" + strconv.Itoa(port),
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("health server shutdown error", "error", err)
		}
	}()

	logger.Info("health server listening", "port", port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
