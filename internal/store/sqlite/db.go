// Package sqlite implements the store repositories on a single-writer
// SQLite database. WAL mode allows concurrent readers; amounts are NUMERIC
// carried as TEXT decimal strings so 256-bit integers round-trip exactly.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

type DB struct {
	*sql.DB
}

// New opens or creates the SQLite database at dbPath and bootstraps the
// schema. The connection pool is pinned to one connection: the design
// assumes a single writer process.
func New(dbPath string) (*DB, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	d := &DB{db}
	if err := d.createTables(); err != nil {
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return d, nil
}

func (d *DB) Close() error {
	return d.DB.Close()
}

func (d *DB) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS markets (
			market_id         TEXT PRIMARY KEY,
			creator           TEXT NOT NULL,
			oracle            TEXT NOT NULL,
			surplus_recipient TEXT NOT NULL,
			question_id       TEXT NOT NULL,
			outcome_names     TEXT NOT NULL DEFAULT '[]',
			metadata          BLOB,
			tx_hash           TEXT NOT NULL,
			block_time        INTEGER NOT NULL,
			created_at        INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS trades (
			market_id    TEXT NOT NULL,
			trader       TEXT NOT NULL,
			usdc_in      TEXT NOT NULL DEFAULT '0',
			usdc_out     TEXT NOT NULL DEFAULT '0',
			block_number INTEGER NOT NULL,
			tx_hash      TEXT NOT NULL,
			log_index    INTEGER NOT NULL,
			block_time   INTEGER NOT NULL,
			PRIMARY KEY (tx_hash, log_index)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_market ON trades(market_id, block_number)`,
		`CREATE TABLE IF NOT EXISTS locks (
			market_id    TEXT NOT NULL,
			locker       TEXT NOT NULL,
			kind         TEXT NOT NULL,
			amount       TEXT NOT NULL DEFAULT '0',
			amounts      TEXT NOT NULL DEFAULT '[]',
			sets_amount  TEXT NOT NULL DEFAULT '0',
			user_paid    TEXT NOT NULL DEFAULT '0',
			subsidy_used TEXT NOT NULL DEFAULT '0',
			actual_cost  TEXT NOT NULL DEFAULT '0',
			block_number INTEGER NOT NULL,
			tx_hash      TEXT NOT NULL,
			log_index    INTEGER NOT NULL,
			block_time   INTEGER NOT NULL,
			PRIMARY KEY (tx_hash, log_index)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_locks_market ON locks(market_id, kind)`,
		`CREATE TABLE IF NOT EXISTS redemptions (
			market_id  TEXT NOT NULL,
			user       TEXT NOT NULL,
			token      TEXT NOT NULL,
			shares     TEXT NOT NULL,
			payout     TEXT NOT NULL,
			tx_hash    TEXT NOT NULL,
			log_index  INTEGER NOT NULL,
			block_time INTEGER NOT NULL,
			PRIMARY KEY (tx_hash, log_index)
		)`,
		`CREATE TABLE IF NOT EXISTS resolutions (
			market_id         TEXT PRIMARY KEY,
			surplus           TEXT NOT NULL DEFAULT '0',
			payouts           TEXT NOT NULL DEFAULT '[]',
			surplus_withdrawn TEXT NOT NULL DEFAULT '0',
			tx_hash           TEXT NOT NULL,
			block_time        INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS market_state (
			market_id  TEXT NOT NULL,
			total_usdc TEXT NOT NULL,
			total_q    TEXT NOT NULL,
			alpha      TEXT NOT NULL,
			ts         INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_market_state ON market_state(market_id, ts)`,
		`CREATE TABLE IF NOT EXISTS reward_epochs (
			epoch_id   TEXT PRIMARY KEY,
			root       TEXT NOT NULL,
			tx_hash    TEXT NOT NULL,
			block_time INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS reward_claims (
			epoch_id   TEXT NOT NULL,
			wallet     TEXT NOT NULL,
			amount     TEXT NOT NULL,
			tx_hash    TEXT NOT NULL,
			block_time INTEGER NOT NULL,
			PRIMARY KEY (epoch_id, wallet)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reward_claims_tx ON reward_claims(tx_hash)`,
		`CREATE TABLE IF NOT EXISTS price_impact (
			market_id  TEXT NOT NULL,
			clip_usdc  TEXT NOT NULL,
			shares     TEXT NOT NULL,
			delta_prob REAL NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (market_id, clip_usdc)
		)`,
		`CREATE TABLE IF NOT EXISTS processed_logs (
			contract     TEXT NOT NULL,
			tx_hash      TEXT NOT NULL,
			log_index    INTEGER NOT NULL,
			block_number INTEGER NOT NULL,
			PRIMARY KEY (contract, tx_hash, log_index)
		)`,
		`CREATE TABLE IF NOT EXISTS profile_queue (
			address  TEXT PRIMARY KEY,
			attempts INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}

	ctx := context.Background()
	for _, stmt := range stmts {
		if _, err := d.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec schema statement: %w", err)
		}
	}
	return nil
}
