// Package store provides the durable key/value store that holds the offline
// order queue. Values are opaque strings; callers serialize their own data.
package store

import (
	"context"
	"fmt"
	"strings"

	apperrors "github.com/mare-catalogo/backend/internal/errors"
)

// DefaultQuota matches the per-origin allowance of a browser's local
// storage: 5 MiB of keys plus values.
const DefaultQuota int64 = 5 << 20

// KV is a durable string key/value store.
type KV interface {
	// Get returns the value for key. ok is false when the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// Set stores value under key. It fails with STORAGE_QUOTA_EXCEEDED when
	// the write would push the store over its quota. Aside keys are exempt.
	Set(ctx context.Context, key, value string) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

// AsidePrefix marks keys holding data set aside for manual inspection,
// such as a collection that failed to decode. They don't count against the
// quota, so recovering from corruption never blocks new writes.
const AsidePrefix = "aside/"

// IsAside reports whether key is exempt from the quota.
func IsAside(key string) bool {
	return strings.HasPrefix(key, AsidePrefix)
}

// ErrQuotaExceeded is a sentinel usable with errors.Is.
var ErrQuotaExceeded = apperrors.New(apperrors.ErrStorageQuotaExceeded, "")

func entrySize(key, value string) int64 {
	return int64(len(key) + len(value))
}

func quotaError(need, quota int64) error {
	return apperrors.New(apperrors.ErrStorageQuotaExceeded,
		"store would grow to "+formatBytes(need)+" of "+formatBytes(quota))
}

func formatBytes(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
