package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/mare-catalogo/backend/internal/db"
	apperrors "github.com/mare-catalogo/backend/internal/errors"
)

// SQLiteStorage keeps buckets in the cache_buckets and cache_entries tables.
type SQLiteStorage struct {
	db *db.DB
}

// NewSQLiteStorage creates a storage over a migrated database.
func NewSQLiteStorage(database *db.DB) *SQLiteStorage {
	return &SQLiteStorage{db: database}
}

// Open returns the named bucket, creating it if needed.
func (s *SQLiteStorage) Open(ctx context.Context, name string) (Bucket, error) {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO cache_buckets (name, created_at) VALUES (?, ?)",
		name, time.Now().UnixMilli())
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCacheFailed, "failed to create bucket "+name, err)
	}

	var id int64
	if err := s.db.QueryRowContext(ctx, "SELECT id FROM cache_buckets WHERE name = ?", name).Scan(&id); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCacheFailed, "failed to open bucket "+name, err)
	}
	return &sqliteBucket{db: s.db, id: id, name: name}, nil
}

// Delete removes a bucket; its entries cascade.
func (s *SQLiteStorage) Delete(ctx context.Context, name string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM cache_buckets WHERE name = ?", name)
	if err != nil {
		return false, apperrors.Wrap(apperrors.ErrCacheFailed, "failed to delete bucket "+name, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Names lists buckets in creation order.
func (s *SQLiteStorage) Names(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM cache_buckets ORDER BY id")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCacheFailed, "failed to list buckets", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Match returns the entry for key from the oldest bucket holding it.
func (s *SQLiteStorage) Match(ctx context.Context, key string) (*Response, bool, error) {
	row := s.db.QueryRowContext(ctx, `
	SELECT e.status, e.headers, e.body, e.stored_at
	FROM cache_entries e JOIN cache_buckets b ON b.id = e.bucket_id
	WHERE e.key = ?
	ORDER BY b.id
	LIMIT 1
	`, key)
	return scanResponse(row)
}

type sqliteBucket struct {
	db   *db.DB
	id   int64
	name string
}

func (b *sqliteBucket) Name() string { return b.name }

func (b *sqliteBucket) Put(ctx context.Context, key string, resp *Response) error {
	header := resp.Header
	if header == nil {
		header = http.Header{}
	}
	headers, err := json.Marshal(header)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCacheFailed, "failed to encode headers", err)
	}
	storedAt := resp.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now()
	}

	_, err = b.db.ExecContext(ctx, `
	INSERT INTO cache_entries (bucket_id, key, status, headers, body, stored_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(bucket_id, key) DO UPDATE SET
		status = excluded.status, headers = excluded.headers,
		body = excluded.body, stored_at = excluded.stored_at
	`, b.id, key, resp.Status, string(headers), resp.Body, storedAt.UnixMilli())
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCacheFailed, "failed to store "+key+" in "+b.name, err)
	}
	return nil
}

func (b *sqliteBucket) Match(ctx context.Context, key string) (*Response, bool, error) {
	row := b.db.QueryRowContext(ctx,
		"SELECT status, headers, body, stored_at FROM cache_entries WHERE bucket_id = ? AND key = ?",
		b.id, key)
	return scanResponse(row)
}

func (b *sqliteBucket) Delete(ctx context.Context, key string) (bool, error) {
	res, err := b.db.ExecContext(ctx, "DELETE FROM cache_entries WHERE bucket_id = ? AND key = ?", b.id, key)
	if err != nil {
		return false, apperrors.Wrap(apperrors.ErrCacheFailed, "failed to delete "+key+" from "+b.name, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (b *sqliteBucket) Keys(ctx context.Context) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, "SELECT key FROM cache_entries WHERE bucket_id = ? ORDER BY key", b.id)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCacheFailed, "failed to list "+b.name, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func scanResponse(row *sql.Row) (*Response, bool, error) {
	var (
		resp     Response
		headers  string
		storedAt int64
	)
	err := row.Scan(&resp.Status, &headers, &resp.Body, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperrors.Wrap(apperrors.ErrCacheFailed, "failed to read cache entry", err)
	}
	if err := json.Unmarshal([]byte(headers), &resp.Header); err != nil {
		return nil, false, apperrors.Wrap(apperrors.ErrCacheFailed, "failed to decode headers", err)
	}
	resp.StoredAt = time.UnixMilli(storedAt)
	return &resp, true, nil
}
