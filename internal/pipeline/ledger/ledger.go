// Package ledger owns the append-only JSONL log file and its byte-offset
// cursor. Live ingestion appends raw logs here and then replays the newly
// appended bytes, so live sync and offline backfill run one decode-and-apply
// path. A crash mid-replay only repeats records the dedup table already
// holds, which apply no-ops.
package ledger

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/veldtlabs/market-indexer/internal/chain/rpc"
	"github.com/veldtlabs/market-indexer/internal/domain/event"
	"github.com/veldtlabs/market-indexer/internal/domain/model"
	"github.com/veldtlabs/market-indexer/internal/metrics"
	"github.com/veldtlabs/market-indexer/internal/pipeline/mutator"
	"github.com/veldtlabs/market-indexer/internal/store"
)

// Decoder is the slice of the event decoder the ledger needs.
type Decoder interface {
	Decode(contract string, l *event.RawLog) (event.DomainEvent, bool)
}

// TimestampResolver maps a block number to its timestamp.
type TimestampResolver interface {
	Resolve(ctx context.Context, blockNumber int64) (time.Time, error)
}

// Applier applies one decoded event.
type Applier interface {
	Apply(ctx context.Context, ev event.DomainEvent, meta mutator.Meta) error
}

type Ledger struct {
	path      string
	meta      store.MetaRepository
	processed store.ProcessedLogRepository
	decoder   Decoder
	blocktime TimestampResolver
	applier   Applier
	logger    *slog.Logger
}

func New(
	path string,
	meta store.MetaRepository,
	processed store.ProcessedLogRepository,
	decoder Decoder,
	blocktime TimestampResolver,
	applier Applier,
	logger *slog.Logger,
) *Ledger {
	return &Ledger{
		path:      path,
		meta:      meta,
		processed: processed,
		decoder:   decoder,
		blocktime: blocktime,
		applier:   applier,
		logger:    logger.With("component", "ledger"),
	}
}

// Append writes one line per log to the end of the ledger file. The file is
// opened per call so an external rotation between sync passes is picked up.
func (l *Ledger) Append(logs []*rpc.Log) error {
	if len(logs) == 0 {
		return nil
	}
	if dir := filepath.Dir(l.path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create ledger directory: %w", err)
		}
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, log := range logs {
		raw, err := fromRPCLog(log)
		if err != nil {
			l.logger.Warn("skipping unappendable log", "tx_hash", log.TransactionHash, "error", err)
			continue
		}
		line, err := json.Marshal(raw)
		if err != nil {
			return fmt.Errorf("marshal ledger line: %w", err)
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("append ledger line: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush ledger: %w", err)
	}
	return f.Sync()
}

func fromRPCLog(log *rpc.Log) (*event.RawLog, error) {
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

// Replay reads the ledger from the stored byte offset (0 when forced),
// decodes and applies each not-yet-processed record in file order, then
// advances the offset by exactly the bytes consumed. Malformed lines and
// unknown events are skipped. Returns the number of records applied.
func (l *Ledger) Replay(ctx context.Context, forceFullRescan bool) (int, error) {
	runID := uuid.NewString()
	started := time.Now()

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	offset, err := l.startOffset(ctx, f, forceFullRescan)
	if err != nil {
		return 0, err
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return 0, fmt.Errorf("seek ledger: %w", err)
	}

	log := l.logger.With("run_id", runID)
	log.Info("replay started", "offset", offset, "force", forceFullRescan)

	var (
		applied  int
		consumed int64
		seenKeys = make(map[event.DedupKey]struct{})
		reader   = bufio.NewReader(f)
	)
	for {
		if err := ctx.Err(); err != nil {
			return applied, err
		}
		line, err := reader.ReadBytes('\n')
		if err == io.EOF {
			// A partial trailing line has no newline yet: leave it for the
			// next run, after the writer finishes it.
			break
		}
		if err != nil {
			return applied, fmt.Errorf("read ledger: %w", err)
		}
		consumed += int64(len(line))

		ok, err := l.replayLine(ctx, log, line, seenKeys)
		if err != nil {
			return applied, err
		}
		if ok {
			applied++
		}
	}

	newOffset := offset + consumed
	if err := l.meta.SetInt64(ctx, model.MetaLedgerOffset, newOffset); err != nil {
		return applied, fmt.Errorf("persist ledger offset: %w", err)
	}
	metrics.LedgerOffsetBytes.Set(float64(newOffset))
	metrics.LedgerRunDuration.Observe(time.Since(started).Seconds())

	log.Info("replay finished",
		"applied", applied,
		"consumed_bytes", consumed,
		"offset", newOffset,
		"duration", time.Since(started).String())
	return applied, nil
}

// startOffset loads the stored offset, resetting to 0 when forced or when
// the offset exceeds the file's current size (external rotation/truncation).
func (l *Ledger) startOffset(ctx context.Context, f *os.File, force bool) (int64, error) {
	if force {
		return 0, nil
	}
	offset, ok, err := l.meta.GetInt64(ctx, model.MetaLedgerOffset)
	if err != nil {
		return 0, fmt.Errorf("load ledger offset: %w", err)
	}
	if !ok {
		return 0, nil
	}
	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat ledger: %w", err)
	}
	if offset > info.Size() {
		l.logger.Warn("ledger offset beyond file size, resetting",
			"offset", offset, "size", info.Size())
		return 0, nil
	}
	return offset, nil
}

func (l *Ledger) replayLine(ctx context.Context, log *slog.Logger, line []byte, seenKeys map[event.DedupKey]struct{}) (bool, error) {
	var raw event.RawLog
	if err := json.Unmarshal(line, &raw); err != nil {
		metrics.LedgerRecordsSkipped.WithLabelValues("malformed").Inc()
		log.Warn("skipping malformed ledger line", "error", err)
		return false, nil
	}
	if err := raw.Validate(); err != nil {
		metrics.LedgerRecordsSkipped.WithLabelValues("malformed").Inc()
		log.Warn("skipping incomplete ledger line", "error", err)
		return false, nil
	}

	key := raw.Key()
	if _, dup := seenKeys[key]; dup {
		metrics.LedgerRecordsSkipped.WithLabelValues("duplicate_line").Inc()
		return false, nil
	}
	seenKeys[key] = struct{}{}

	done, err := l.processed.IsProcessed(ctx, key)
	if err != nil {
		return false, fmt.Errorf("check processed: %w", err)
	}
	if done {
		metrics.LedgerRecordsSkipped.WithLabelValues("already_processed").Inc()
		return false, nil
	}

	ev, decoded := l.decoder.Decode(raw.Address, &raw)
	if decoded {
		blockTime, err := l.blocktime.Resolve(ctx, int64(raw.BlockNumber))
		if err != nil {
			return false, fmt.Errorf("resolve block %d: %w", raw.BlockNumber, err)
		}
		if err := l.applier.Apply(ctx, ev, mutator.Meta{
			TxHash:      raw.Hash(),
			LogIndex:    int64(raw.LogIndex),
			BlockNumber: int64(raw.BlockNumber),
			BlockTime:   blockTime,
		}); err != nil {
			return false, fmt.Errorf("apply %s/%d: %w", raw.Hash(), raw.LogIndex, err)
		}
	} else {
		metrics.LedgerRecordsSkipped.WithLabelValues("undecoded").Inc()
	}

	// The key is recorded even for undecoded records so replay never
	// re-attempts a log the registered ABIs cannot express.
	if err := l.processed.MarkProcessed(ctx, key, int64(raw.BlockNumber)); err != nil {
		return false, fmt.Errorf("mark processed: %w", err)
	}
	if !decoded {
		return false, nil
	}
	metrics.LedgerRecordsProcessed.Inc()
	return true, nil
}
