package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
)

type MetaRepo struct {
	db *DB
}

func NewMetaRepo(db *DB) *MetaRepo {
	return &MetaRepo{db: db}
}

func (r *MetaRepo) GetInt64(ctx context.Context, key string) (int64, bool, error) {
	s, ok, err := r.GetString(ctx, key)
	if err != nil || !ok {
		return 0, ok, err
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("meta %s is not an integer: %w", key, err)
	}
	return v, true, nil
}

func (r *MetaRepo) SetInt64(ctx context.Context, key string, value int64) error {
	return r.SetString(ctx, key, strconv.FormatInt(value, 10))
}

func (r *MetaRepo) GetString(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `
		SELECT value FROM meta WHERE key = ?
	`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get meta %s: %w", key, err)
	}
	return value, true, nil
}

func (r *MetaRepo) SetString(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("set meta %s: %w", key, err)
	}
	return nil
}
