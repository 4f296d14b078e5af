package worker

import (
	"context"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/mare-catalogo/backend/internal/cache"
	"github.com/mare-catalogo/backend/internal/logging"
	"github.com/mare-catalogo/backend/internal/metrics"
)

// cacheFirst serves a hit from any bucket, otherwise fetches and stores a
// 200 response in bucket. A network error is returned for the fallback.
func (c *Controller) cacheFirst(ctx context.Context, r *http.Request, bucket string) (*cache.Response, string, error) {
	key := cache.Key(r.URL)
	if resp, ok, err := c.storage.Match(ctx, key); err != nil {
		c.log.Warn("cache lookup failed", logging.Fields{"key": key, "error": err.Error()})
	} else if ok {
		return resp, metrics.SourceCache, nil
	}

	resp, err := c.origin.Fetch(ctx, r.URL, r.Header)
	if err != nil {
		return nil, "", err
	}
	if resp.Status == http.StatusOK {
		c.store(ctx, bucket, key, resp)
	}
	return resp, metrics.SourceNetwork, nil
}

// networkFirst fetches and stores a 200 response in bucket, falling back to
// any cached entry for the key when the network fails.
func (c *Controller) networkFirst(ctx context.Context, r *http.Request, bucket string) (*cache.Response, string, error) {
	key := cache.Key(r.URL)
	resp, netErr := c.origin.Fetch(ctx, r.URL, r.Header)
	if netErr == nil {
		if resp.Status == http.StatusOK {
			c.store(ctx, bucket, key, resp)
		}
		return resp, metrics.SourceNetwork, nil
	}

	cached, ok, err := c.storage.Match(ctx, key)
	if err != nil {
		c.log.Warn("cache lookup failed", logging.Fields{"key": key, "error": err.Error()})
	}
	if ok {
		return cached, metrics.SourceCache, nil
	}
	return nil, "", netErr
}

// catalog serves the catalog feed from dated daily snapshots. While online
// it fetches a cache-busted copy and stores it as today's snapshot; on any
// failure it falls back to today's snapshot, the newest earlier snapshot,
// the undated install-time copy and finally an empty list. It never fails.
func (c *Controller) catalog(ctx context.Context, r *http.Request) (*cache.Response, string) {
	now := c.cfg.Now()
	todayKey := c.cfg.catalogKey(now)

	bucket, err := c.storage.Open(ctx, c.cfg.StaticBucket())
	if err != nil {
		c.log.Warn("open catalog bucket failed", logging.Fields{"error": err.Error()})
		return syntheticCatalog(), metrics.SourceFallback
	}

	if c.cfg.CatalogFreshWithinDay {
		if resp, ok, _ := bucket.Match(ctx, todayKey); ok {
			return resp, metrics.SourceCache
		}
	}

	if c.cfg.Online() {
		busted := &url.URL{
			Path:     c.cfg.CatalogPath,
			RawQuery: url.Values{"v": []string{strconv.FormatInt(now.UnixMilli(), 10)}}.Encode(),
		}
		resp, err := c.origin.Fetch(ctx, busted, r.Header)
		switch {
		case err != nil:
			c.log.Info("catalog fetch failed, using snapshot", logging.Fields{"error": err.Error()})
		case resp.Status != http.StatusOK:
			c.log.Info("catalog fetch rejected, using snapshot", logging.Fields{"status": resp.Status})
		default:
			if err := bucket.Put(ctx, todayKey, resp); err != nil {
				c.log.Warn("store catalog snapshot failed", logging.Fields{"key": todayKey, "error": err.Error()})
			} else {
				c.purgeSnapshots(todayKey)
			}
			return resp, metrics.SourceNetwork
		}
	}

	if resp, ok, _ := bucket.Match(ctx, todayKey); ok {
		return resp, metrics.SourceCache
	}

	keys, err := c.snapshotKeys(ctx, bucket)
	if err == nil {
		for _, key := range keys {
			if key == todayKey {
				continue
			}
			if resp, ok, _ := bucket.Match(ctx, key); ok {
				return resp, metrics.SourceCache
			}
		}
	}

	if resp, ok, _ := bucket.Match(ctx, c.cfg.CatalogPath); ok && resp.OK() {
		return resp, metrics.SourceCache
	}
	return syntheticCatalog(), metrics.SourceFallback
}

// snapshotKeys lists dated catalog keys, newest first.
func (c *Controller) snapshotKeys(ctx context.Context, bucket cache.Bucket) ([]string, error) {
	all, err := bucket.Keys(ctx)
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, k := range all {
		if strings.HasPrefix(k, c.cfg.CatalogKeyPrefix) {
			keys = append(keys, k)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	return keys, nil
}

// purgeSnapshots deletes every dated snapshot except keep in the background.
func (c *Controller) purgeSnapshots(keep string) {
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		ctx := context.Background()
		bucket, err := c.storage.Open(ctx, c.cfg.StaticBucket())
		if err != nil {
			c.log.Warn("snapshot purge: open bucket failed", logging.Fields{"error": err.Error()})
			return
		}
		keys, err := c.snapshotKeys(ctx, bucket)
		if err != nil {
			c.log.Warn("snapshot purge: list keys failed", logging.Fields{"error": err.Error()})
			return
		}
		for _, k := range keys {
			if k == keep {
				continue
			}
			if _, err := bucket.Delete(ctx, k); err != nil {
				c.log.Warn("snapshot purge: delete failed", logging.Fields{"key": k, "error": err.Error()})
				continue
			}
			c.log.Debug("purged catalog snapshot", logging.Fields{"key": k})
		}
	}()
}

// store writes resp to the named bucket. Failures are logged only.
func (c *Controller) store(ctx context.Context, bucketName, key string, resp *cache.Response) {
	bucket, err := c.storage.Open(ctx, bucketName)
	if err == nil {
		err = bucket.Put(ctx, key, resp)
	}
	if err != nil {
		c.log.Warn("cache store failed", logging.Fields{"bucket": bucketName, "key": key, "error": err.Error()})
	}
}
