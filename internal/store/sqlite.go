package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/mare-catalogo/backend/internal/db"
	apperrors "github.com/mare-catalogo/backend/internal/errors"
)

// SQLiteKV stores keys in the kv_store table.
type SQLiteKV struct {
	db    *db.DB
	quota int64
}

// NewSQLiteKV creates a store over a migrated database. A quota of zero or
// less disables the size limit.
func NewSQLiteKV(database *db.DB, quota int64) *SQLiteKV {
	return &SQLiteKV{db: database, quota: quota}
}

// Get returns the value stored under key.
func (s *SQLiteKV) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv_store WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperrors.Wrap(apperrors.ErrDatabase, "failed to read key "+key, err)
	}
	return value, true, nil
}

// Set stores value under key, enforcing the quota inside one transaction.
func (s *SQLiteKV) Set(ctx context.Context, key, value string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	if s.quota > 0 && !IsAside(key) {
		var others int64
		err := tx.QueryRowContext(ctx,
			"SELECT COALESCE(SUM(length(CAST(key AS BLOB)) + length(CAST(value AS BLOB))), 0) FROM kv_store WHERE key != ? AND substr(key, 1, ?) != ?",
			key, len(AsidePrefix), AsidePrefix).Scan(&others)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrDatabase, "failed to measure store", err)
		}
		if need := others + entrySize(key, value); need > s.quota {
			return quotaError(need, s.quota)
		}
	}

	_, err = tx.ExecContext(ctx, `
	INSERT INTO kv_store (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UnixMilli())
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorageFailed, "failed to write key "+key, err)
	}

	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.ErrStorageFailed, "failed to commit key "+key, err)
	}
	return nil
}

// Delete removes key.
func (s *SQLiteKV) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM kv_store WHERE key = ?", key); err != nil {
		return apperrors.Wrap(apperrors.ErrStorageFailed, "failed to delete key "+key, err)
	}
	return nil
}

// Usage returns the bytes counted against the quota and the quota itself.
func (s *SQLiteKV) Usage(ctx context.Context) (used, quota int64, err error) {
	err = s.db.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(length(CAST(key AS BLOB)) + length(CAST(value AS BLOB))), 0) FROM kv_store WHERE substr(key, 1, ?) != ?",
		len(AsidePrefix), AsidePrefix).Scan(&used)
	if err != nil {
		return 0, s.quota, apperrors.Wrap(apperrors.ErrDatabase, "failed to measure store", err)
	}
	return used, s.quota, nil
}
