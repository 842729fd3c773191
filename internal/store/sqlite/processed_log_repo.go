package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/veldtlabs/market-indexer/internal/domain/event"
)

type ProcessedLogRepo struct {
	db *DB
}

func NewProcessedLogRepo(db *DB) *ProcessedLogRepo {
	return &ProcessedLogRepo{db: db}
}

func (r *ProcessedLogRepo) IsProcessed(ctx context.Context, key event.DedupKey) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `
		SELECT 1 FROM processed_logs WHERE contract = ? AND tx_hash = ? AND log_index = ?
	`, key.Contract, key.TxHash, key.LogIndex).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("is processed: %w", err)
	}
	return true, nil
}

func (r *ProcessedLogRepo) MarkProcessed(ctx context.Context, key event.DedupKey, blockNumber int64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO processed_logs (contract, tx_hash, log_index, block_number)
		VALUES (?, ?, ?, ?)
	`, key.Contract, key.TxHash, key.LogIndex, blockNumber)
	if err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	return nil
}
