package ledger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veldtlabs/market-indexer/internal/chain/rpc"
	"github.com/veldtlabs/market-indexer/internal/domain/event"
	"github.com/veldtlabs/market-indexer/internal/domain/model"
	"github.com/veldtlabs/market-indexer/internal/pipeline/mutator"
	"github.com/veldtlabs/market-indexer/internal/store/sqlite"
)

type fakeDecoder struct {
	known map[string]struct{} // lowercased topic0s that decode
}

func (d *fakeDecoder) Decode(contract string, l *event.RawLog) (event.DomainEvent, bool) {
	if len(l.Topics) == 0 {
		return nil, false
	}
	if _, ok := d.known[l.Topics[0]]; !ok {
		return nil, false
	}
	return event.Transfer{}, true
}

type fakeResolver struct {
	calls int
}

func (r *fakeResolver) Resolve(ctx context.Context, blockNumber int64) (time.Time, error) {
	r.calls++
	return time.Unix(1_700_000_000+blockNumber, 0), nil
}

type appliedRecord struct {
	meta mutator.Meta
}

type fakeApplier struct {
	applied []appliedRecord
	err     error
}

func (a *fakeApplier) Apply(ctx context.Context, ev event.DomainEvent, meta mutator.Meta) error {
	if a.err != nil {
		return a.err
	}
	a.applied = append(a.applied, appliedRecord{meta: meta})
	return nil
}

type ledgerFixture struct {
	ledger  *Ledger
	path    string
	db      *sqlite.DB
	meta    *sqlite.MetaRepo
	applier *fakeApplier
}

func newFixture(t *testing.T) *ledgerFixture {
	t.Helper()
	dir := t.TempDir()
	db, err := sqlite.New(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	meta := sqlite.NewMetaRepo(db)
	applier := &fakeApplier{}
	path := filepath.Join(dir, "logs.jsonl")
	led := New(
		path,
		meta,
		sqlite.NewProcessedLogRepo(db),
		&fakeDecoder{known: map[string]struct{}{"0xknown": {}}},
		&fakeResolver{},
		applier,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	return &ledgerFixture{ledger: led, path: path, db: db, meta: meta, applier: applier}
}

func knownLine(txHash string, logIndex int) string {
	return fmt.Sprintf(`{"blockNumber":10,"logIndex":%d,"txHash":"%s","address":"0xc","data":"0x","topics":["0xknown"]}`+"\n", logIndex, txHash)
}

func (f *ledgerFixture) writeRaw(t *testing.T, content string) {
	t.Helper()
	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	defer file.Close()
	_, err = file.WriteString(content)
	require.NoError(t, err)
}

func (f *ledgerFixture) storedOffset(t *testing.T) int64 {
	t.Helper()
	offset, ok, err := f.meta.GetInt64(context.Background(), model.MetaLedgerOffset)
	require.NoError(t, err)
	require.True(t, ok)
	return offset
}

func TestReplay_MissingFileIsEmpty(t *testing.T) {
	f := newFixture(t)
	applied, err := f.ledger.Replay(context.Background(), false)
	require.NoError(t, err)
	assert.Zero(t, applied)
}

func TestReplay_AppliesAndAdvancesOffsetByBytes(t *testing.T) {
	f := newFixture(t)
	content := knownLine("0xt1", 0) + knownLine("0xt2", 1)
	f.writeRaw(t, content)

	applied, err := f.ledger.Replay(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 2, applied)
	assert.Len(t, f.applier.applied, 2)
	assert.Equal(t, int64(len(content)), f.storedOffset(t))
	assert.Equal(t, "0xt1", f.applier.applied[0].meta.TxHash)
	assert.Equal(t, int64(10), f.applier.applied[0].meta.BlockNumber)
	assert.Equal(t, time.Unix(1_700_000_010, 0), f.applier.applied[0].meta.BlockTime)
}

func TestReplay_SecondRunIsIncremental(t *testing.T) {
	f := newFixture(t)
	first := knownLine("0xt1", 0)
	f.writeRaw(t, first)
	_, err := f.ledger.Replay(context.Background(), false)
	require.NoError(t, err)

	second := knownLine("0xt2", 1)
	f.writeRaw(t, second)
	applied, err := f.ledger.Replay(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)
	assert.Equal(t, "0xt2", f.applier.applied[1].meta.TxHash)
	assert.Equal(t, int64(len(first)+len(second)), f.storedOffset(t))
}

func TestReplay_ForceRescanIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.writeRaw(t, knownLine("0xt1", 0))
	_, err := f.ledger.Replay(context.Background(), false)
	require.NoError(t, err)

	applied, err := f.ledger.Replay(context.Background(), true)
	require.NoError(t, err)
	assert.Zero(t, applied)
	assert.Len(t, f.applier.applied, 1)
}

func TestReplay_DuplicateLinesApplyOnce(t *testing.T) {
	f := newFixture(t)
	f.writeRaw(t, knownLine("0xt1", 0)+knownLine("0xt1", 0))

	applied, err := f.ledger.Replay(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)
}

func TestReplay_MalformedLinesAreSkippedButConsumed(t *testing.T) {
	f := newFixture(t)
	content := "not json at all\n" + `{"blockNumber":10,"logIndex":0,"data":"0x","topics":[]}` + "\n" + knownLine("0xt1", 0)
	f.writeRaw(t, content)

	applied, err := f.ledger.Replay(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)
	assert.Equal(t, int64(len(content)), f.storedOffset(t))
}

func TestReplay_UndecodedRecordsAreMarkedProcessed(t *testing.T) {
	f := newFixture(t)
	unknown := `{"blockNumber":10,"logIndex":0,"txHash":"0xt1","address":"0xc","data":"0x","topics":["0xmystery"]}` + "\n"
	f.writeRaw(t, unknown)

	applied, err := f.ledger.Replay(context.Background(), false)
	require.NoError(t, err)
	assert.Zero(t, applied)

	// A rescan from 0 must not re-attempt it either.
	applied, err = f.ledger.Replay(context.Background(), true)
	require.NoError(t, err)
	assert.Zero(t, applied)
}

func TestReplay_PartialTrailingLineIsLeftForNextRun(t *testing.T) {
	f := newFixture(t)
	full := knownLine("0xt1", 0)
	partial := `{"blockNumber":11,"logIndex":1,"txHash":"0xt2"` // writer mid-line
	f.writeRaw(t, full+partial)

	applied, err := f.ledger.Replay(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)
	assert.Equal(t, int64(len(full)), f.storedOffset(t))

	// The writer finishes the line; the next run picks it up from the offset.
	f.writeRaw(t, `,"address":"0xc","data":"0x","topics":["0xknown"]}`+"\n")
	applied, err = f.ledger.Replay(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)
	assert.Equal(t, "0xt2", f.applier.applied[1].meta.TxHash)
}

func TestReplay_OffsetBeyondFileSizeResetsToZero(t *testing.T) {
	f := newFixture(t)
	f.writeRaw(t, knownLine("0xt1", 0))
	require.NoError(t, f.meta.SetInt64(context.Background(), model.MetaLedgerOffset, 1<<20))

	applied, err := f.ledger.Replay(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)
	assert.Equal(t, int64(len(knownLine("0xt1", 0))), f.storedOffset(t))
}

func TestReplay_ApplyErrorAborts(t *testing.T) {
	f := newFixture(t)
	f.applier.err = fmt.Errorf("db gone")
	f.writeRaw(t, knownLine("0xt1", 0))

	_, err := f.ledger.Replay(context.Background(), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db gone")

	// The offset was not advanced, so a later run retries the record.
	_, ok, metaErr := f.meta.GetInt64(context.Background(), model.MetaLedgerOffset)
	require.NoError(t, metaErr)
	assert.False(t, ok)
}

func TestAppend_ThenReplayRoundTrips(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ledger.Append([]*rpc.Log{{
		Address:         "0xC",
		Topics:          []string{"0xknown"},
		Data:            "0x",
		BlockNumber:     "0xa",
		TransactionHash: "0xT1",
		LogIndex:        "0x0",
	}}))

	applied, err := f.ledger.Replay(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)
	// Hashes are lowercased on the way through.
	assert.Equal(t, "0xt1", f.applier.applied[0].meta.TxHash)
	assert.Equal(t, int64(10), f.applier.applied[0].meta.BlockNumber)
}

func TestAppend_SkipsLogsWithBadNumbers(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ledger.Append([]*rpc.Log{{
		Address:         "0xc",
		Topics:          []string{"0xknown"},
		Data:            "0x",
		BlockNumber:     "not-a-number",
		TransactionHash: "0xt1",
		LogIndex:        "0x0",
	}}))

	applied, err := f.ledger.Replay(context.Background(), false)
	require.NoError(t, err)
	assert.Zero(t, applied)
}
