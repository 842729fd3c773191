package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/veldtlabs/market-indexer/internal/domain/model"
)

type MarketRepo struct {
	db *DB
}

func NewMarketRepo(db *DB) *MarketRepo {
	return &MarketRepo{db: db}
}

func (r *MarketRepo) InsertIgnore(ctx context.Context, m *model.Market) (bool, error) {
	names, err := json.Marshal(m.OutcomeNames)
	if err != nil {
		return false, fmt.Errorf("marshal outcome names: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO markets
			(market_id, creator, oracle, surplus_recipient, question_id, outcome_names, metadata, tx_hash, block_time, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.MarketID, m.Creator, m.Oracle, m.SurplusRecipient, m.QuestionID,
		string(names), m.Metadata, m.TxHash, m.BlockTime.Unix(), time.Now().Unix())
	if err != nil {
		return false, fmt.Errorf("insert market: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert market rows affected: %w", err)
	}
	return n > 0, nil
}

func (r *MarketRepo) Exists(ctx context.Context, marketID string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `
		SELECT 1 FROM markets WHERE market_id = ?
	`, marketID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("market exists: %w", err)
	}
	return true, nil
}

func (r *MarketRepo) Get(ctx context.Context, marketID string) (*model.Market, error) {
	var (
		m         model.Market
		names     string
		blockTime int64
		createdAt int64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT market_id, creator, oracle, surplus_recipient, question_id, outcome_names, metadata, tx_hash, block_time, created_at
		FROM markets
		WHERE market_id = ?
	`, marketID).Scan(
		&m.MarketID, &m.Creator, &m.Oracle, &m.SurplusRecipient,
		&m.QuestionID, &names, &m.Metadata, &m.TxHash, &blockTime, &createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get market: %w", err)
	}
	if err := json.Unmarshal([]byte(names), &m.OutcomeNames); err != nil {
		return nil, fmt.Errorf("unmarshal outcome names: %w", err)
	}
	m.BlockTime = time.Unix(blockTime, 0).UTC()
	m.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &m, nil
}

func (r *MarketRepo) ListIDs(ctx context.Context) ([]string, error) {
	return r.listIDs(ctx, `SELECT market_id FROM markets ORDER BY market_id`)
}

// ListUnresolvedIDs returns markets with no resolution row, the set the
// price-impact solver recomputes.
func (r *MarketRepo) ListUnresolvedIDs(ctx context.Context) ([]string, error) {
	return r.listIDs(ctx, `
		SELECT m.market_id
		FROM markets m
		LEFT JOIN resolutions res ON res.market_id = m.market_id
		WHERE res.market_id IS NULL
		ORDER BY m.market_id
	`)
}

func (r *MarketRepo) listIDs(ctx context.Context, query string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list market ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan market id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
