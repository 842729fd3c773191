package curve

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"github.com/veldtlabs/market-indexer/internal/domain/model"
	"github.com/veldtlabs/market-indexer/internal/metrics"
	"github.com/veldtlabs/market-indexer/internal/store"
)

// Clip sizes in micro-USDC: 100, 500, 1000, 5000 USD.
var defaultClips = []int64{
	100_000_000,
	500_000_000,
	1_000_000_000,
	5_000_000_000,
}

// shareSearchCap bounds the exponential probe. A clip the curve cannot meet
// below this many shares gets no row.
var shareSearchCap = new(big.Int).Exp(big.NewInt(10), big.NewInt(12), nil)

const priceScale = 1_000_000 // 6-decimal fixed-point prices

// Solver answers "how many shares move the top outcome, and by how much, for
// a fixed USD clip" for every unresolved market, replacing each market's
// stored rows transactionally.
type Solver struct {
	reader  *Reader
	markets store.MarketRepository
	impact  store.ImpactRepository
	logger  *slog.Logger
	clips   []int64

	nowFn func() time.Time
}

func NewSolver(reader *Reader, markets store.MarketRepository, impact store.ImpactRepository, logger *slog.Logger) *Solver {
	return &Solver{
		reader:  reader,
		markets: markets,
		impact:  impact,
		logger:  logger.With("component", "impact"),
		clips:   defaultClips,
		nowFn:   time.Now,
	}
}

// RecomputeAll refreshes impact rows for every unresolved market. A failure
// on one market is logged and skipped; the sweep continues.
func (s *Solver) RecomputeAll(ctx context.Context) error {
	ids, err := s.markets.ListUnresolvedIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.RecomputeMarket(ctx, id); err != nil {
			s.logger.Warn("impact recompute failed", "market_id", id, "error", err)
		}
	}
	return nil
}

func (s *Solver) RecomputeMarket(ctx context.Context, marketID string) error {
	started := time.Now()
	defer func() {
		metrics.ImpactDuration.Observe(time.Since(started).Seconds())
	}()

	prices, err := s.reader.Prices(ctx, marketID)
	if err != nil {
		return err
	}
	if len(prices) == 0 {
		return nil
	}
	top := topOutcome(prices)
	basePrice := prices[top]

	rows := make([]model.PriceImpact, 0, len(s.clips))
	for _, clip := range s.clips {
		target := big.NewInt(clip)
		shares, quote, err := s.sharesForCost(ctx, marketID, top, target)
		if err != nil {
			return err
		}
		if shares == nil {
			// Curve never reaches the clip within the search cap: the clip
			// is absent for this market, not zero.
			continue
		}
		rows = append(rows, model.PriceImpact{
			MarketID:  marketID,
			ClipUsdc:  target.String(),
			Shares:    shares.String(),
			DeltaProb: deltaProb(basePrice, quote.NewPrices, top),
			UpdatedAt: s.nowFn(),
		})
	}

	if err := s.impact.ReplaceForMarket(ctx, marketID, rows); err != nil {
		return err
	}
	metrics.ImpactRecomputes.Inc()
	return nil
}

// sharesForCost finds the minimum share quantity whose quoted cost meets or
// exceeds target. The high bound doubles from 1 until it covers the target
// or hits the cap (cap hit returns nil shares); bisection then narrows
// [low, high] to adjacency with high the answer. Returns the quote at the
// answer so the caller can read the post-trade prices.
func (s *Solver) sharesForCost(ctx context.Context, marketID string, outcome int, target *big.Int) (*big.Int, *Quote, error) {
	low := new(big.Int)
	high := big.NewInt(1)

	var highQuote *Quote
	for {
		q, err := s.reader.QuoteBuy(ctx, marketID, outcome, high)
		if err != nil {
			return nil, nil, err
		}
		if q.Cost.Cmp(target) >= 0 {
			highQuote = q
			break
		}
		low.Set(high)
		high.Lsh(high, 1)
		if high.Cmp(shareSearchCap) > 0 {
			return nil, nil, nil
		}
	}

	one := big.NewInt(1)
	gap := new(big.Int)
	for gap.Sub(high, low).Cmp(one) > 0 {
		mid := new(big.Int).Add(low, high)
		mid.Rsh(mid, 1)
		q, err := s.reader.QuoteBuy(ctx, marketID, outcome, mid)
		if err != nil {
			return nil, nil, err
		}
		if q.Cost.Cmp(target) >= 0 {
			high.Set(mid)
			highQuote = q
		} else {
			low.Set(mid)
		}
	}
	return high, highQuote, nil
}

func topOutcome(prices []*big.Int) int {
	top := 0
	for i, p := range prices {
		if p.Cmp(prices[top]) > 0 {
			top = i
		}
	}
	return top
}

// deltaProb converts the fixed-point price move on the target outcome to a
// probability delta. Floats are acceptable here and only here: deltaProb is
// a reporting value, never fed back into currency arithmetic.
func deltaProb(basePrice *big.Int, newPrices []*big.Int, outcome int) float64 {
	if outcome >= len(newPrices) {
		return 0
	}
	diff := new(big.Int).Sub(newPrices[outcome], basePrice)
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(diff), big.NewFloat(priceScale)).Float64()
	return f
}
