package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veldtlabs/market-indexer/internal/curve"
	"github.com/veldtlabs/market-indexer/internal/domain/event"
	"github.com/veldtlabs/market-indexer/internal/pipeline/mutator"
	"github.com/veldtlabs/market-indexer/internal/store/sqlite"
)

type fakeInfoReader struct {
	failMarkets map[string]bool
	reads       int
}

func (r *fakeInfoReader) MarketInfo(ctx context.Context, marketID string) (*curve.MarketInfo, error) {
	r.reads++
	if r.failMarkets[marketID] {
		return nil, fmt.Errorf("execution reverted")
	}
	return &curve.MarketInfo{
		TotalUsdc: big.NewInt(1_000_000),
		TotalQ:    big.NewInt(2_000_000),
		Alpha:     big.NewInt(3),
	}, nil
}

type flushFixture struct {
	mut    *mutator.Mutator
	state  *sqlite.MarketStateRepo
	logger *slog.Logger
}

func newFlushFixture(t *testing.T) *flushFixture {
	t.Helper()
	db, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mut := mutator.New(
		sqlite.NewMarketRepo(db),
		sqlite.NewTradeRepo(db),
		sqlite.NewLockRepo(db),
		sqlite.NewRedemptionRepo(db),
		sqlite.NewResolutionRepo(db),
		sqlite.NewRewardRepo(db),
		sqlite.NewProfileQueueRepo(db),
		logger,
	)
	return &flushFixture{mut: mut, state: sqlite.NewMarketStateRepo(db), logger: logger}
}

func TestFlushSnapshots_WritesStateRowsForPendingMarkets(t *testing.T) {
	f := newFlushFixture(t)
	ctx := context.Background()

	// Markets marked during an apply pass, as a backfill would leave them.
	require.NoError(t, f.mut.Apply(ctx, event.MarketCreated{
		MarketID: "0xm1", Creator: "0xc", Oracle: "0xo", SurplusRecipient: "0xs",
		QuestionID: "0xq", OutcomeNames: []string{"yes", "no"},
	}, mutator.Meta{TxHash: "0xt1", BlockTime: time.Unix(1_700_000_000, 0)}))

	reader := &fakeInfoReader{}
	FlushSnapshots(ctx, f.mut, reader, f.state, f.logger)

	latest, err := f.state.Latest(ctx, "0xm1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "1000000", latest.TotalUsdc)
	assert.Equal(t, "2000000", latest.TotalQ)
	assert.Equal(t, "3", latest.Alpha)

	// Pending set was drained; nothing left to read.
	FlushSnapshots(ctx, f.mut, reader, f.state, f.logger)
	assert.Equal(t, 1, reader.reads)
}

func TestFlushSnapshots_FailedReadRemarksMarket(t *testing.T) {
	f := newFlushFixture(t)
	ctx := context.Background()

	f.mut.MarkSnapshot("0xm1", true)
	reader := &fakeInfoReader{failMarkets: map[string]bool{"0xm1": true}}
	FlushSnapshots(ctx, f.mut, reader, f.state, f.logger)

	latest, err := f.state.Latest(ctx, "0xm1")
	require.NoError(t, err)
	assert.Nil(t, latest)

	// The market stays pending, so a later flush retries and succeeds.
	reader.failMarkets = nil
	FlushSnapshots(ctx, f.mut, reader, f.state, f.logger)

	latest, err = f.state.Latest(ctx, "0xm1")
	require.NoError(t, err)
	require.NotNil(t, latest)
}
