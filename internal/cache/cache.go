// Package cache provides named response caches modelled on the browser
// Cache Storage API: a Storage holds Buckets, and each Bucket maps request
// keys to stored responses.
package cache

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

// Response is a stored HTTP response.
type Response struct {
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

// OK reports whether the response has a 2xx status.
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status < 300
}

// Clone returns a deep copy so callers can't mutate stored data.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	body := make([]byte, len(r.Body))
	copy(body, r.Body)
	return &Response{
		Status:   r.Status,
		Header:   r.Header.Clone(),
		Body:     body,
		StoredAt: r.StoredAt,
	}
}

// Bucket is one named cache.
type Bucket interface {
	Name() string
	// Put stores resp under key, replacing any previous entry.
	Put(ctx context.Context, key string, resp *Response) error
	// Match returns the entry stored under key.
	Match(ctx context.Context, key string) (*Response, bool, error)
	// Delete removes key and reports whether it existed.
	Delete(ctx context.Context, key string) (bool, error)
	// Keys lists the stored keys.
	Keys(ctx context.Context) ([]string, error)
}

// Storage is the set of named buckets.
type Storage interface {
	// Open returns the named bucket, creating it if needed.
	Open(ctx context.Context, name string) (Bucket, error)
	// Delete removes a bucket and every entry in it.
	Delete(ctx context.Context, name string) (bool, error)
	// Names lists buckets in creation order.
	Names(ctx context.Context) ([]string, error)
	// Match searches every bucket in creation order and returns the first hit.
	Match(ctx context.Context, key string) (*Response, bool, error)
}

// Key returns the cache key for a request URL: its path and query.
func Key(u *url.URL) string {
	return u.RequestURI()
}
