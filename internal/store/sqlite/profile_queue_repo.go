package sqlite

import (
	"context"
	"fmt"

	"github.com/veldtlabs/market-indexer/internal/domain/model"
)

type ProfileQueueRepo struct {
	db *DB
}

func NewProfileQueueRepo(db *DB) *ProfileQueueRepo {
	return &ProfileQueueRepo{db: db}
}

func (r *ProfileQueueRepo) Enqueue(ctx context.Context, address string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO profile_queue (address) VALUES (?)
	`, address)
	if err != nil {
		return fmt.Errorf("enqueue profile target: %w", err)
	}
	return nil
}

func (r *ProfileQueueRepo) List(ctx context.Context, limit int) ([]model.ProfileTarget, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT address, attempts FROM profile_queue ORDER BY attempts, address LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list profile targets: %w", err)
	}
	defer rows.Close()

	var out []model.ProfileTarget
	for rows.Next() {
		var t model.ProfileTarget
		if err := rows.Scan(&t.Address, &t.Attempts); err != nil {
			return nil, fmt.Errorf("scan profile target: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *ProfileQueueRepo) Remove(ctx context.Context, address string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM profile_queue WHERE address = ?
	`, address)
	if err != nil {
		return fmt.Errorf("remove profile target: %w", err)
	}
	return nil
}

func (r *ProfileQueueRepo) BumpAttempts(ctx context.Context, address string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE profile_queue SET attempts = attempts + 1 WHERE address = ?
	`, address)
	if err != nil {
		return fmt.Errorf("bump profile attempts: %w", err)
	}
	return nil
}

func (r *ProfileQueueRepo) Depth(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM profile_queue`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("profile queue depth: %w", err)
	}
	return n, nil
}
