package worker

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mare-catalogo/backend/internal/cache"
	apperrors "github.com/mare-catalogo/backend/internal/errors"
	"github.com/mare-catalogo/backend/internal/logging"
	"github.com/mare-catalogo/backend/internal/metrics"
	"github.com/mare-catalogo/backend/internal/models"
)

// State is a controller lifecycle state.
type State string

const (
	StateParsed     State = "parsed"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
	StateRedundant  State = "redundant"
)

// InstallReport describes what an install cached. Install failures are
// reported here and never abort the install.
type InstallReport struct {
	Generation     string        `json:"generation"`
	ManifestCached bool          `json:"manifest_cached"`
	ManifestError  string        `json:"manifest_error,omitempty"`
	Assets         []string      `json:"assets"`
	Prewarmed      int           `json:"prewarmed"`
	PrewarmFailed  []string      `json:"prewarm_failed,omitempty"`
	Duration       time.Duration `json:"duration"`
}

// Snapshot describes one dated catalog snapshot. Products counts the
// visible products; it is -1 when the body is not a catalog document.
type Snapshot struct {
	Key      string    `json:"key"`
	Day      string    `json:"day"`
	Size     int       `json:"size"`
	Products int       `json:"products"`
	Version  string    `json:"version,omitempty"`
	StoredAt time.Time `json:"stored_at"`
}

// Controller is one cache generation. It serves intercepted requests once
// activated.
type Controller struct {
	cfg     Config
	storage cache.Storage
	origin  Origin
	log     *logging.Logger

	mu     sync.RWMutex
	state  State
	assets []string

	bg sync.WaitGroup
}

// New creates a controller in the parsed state.
func New(cfg Config, storage cache.Storage, origin Origin) (*Controller, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "invalid cache controller config", err)
	}
	return &Controller{
		cfg:     cfg,
		storage: storage,
		origin:  origin,
		log:     logging.Named("worker").Named(cfg.Generation),
		state:   StateParsed,
	}, nil
}

// Config returns the controller configuration.
func (c *Controller) Config() Config { return c.cfg }

// Generation returns the cache generation name.
func (c *Controller) Generation() string { return c.cfg.Generation }

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Assets returns the bundler assets discovered at install.
func (c *Controller) Assets() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.assets...)
}

func (c *Controller) transition(from, to State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != from {
		return apperrors.New(apperrors.ErrWorkerState, fmt.Sprintf("cannot move from %s to %s", c.state, to))
	}
	c.state = to
	return nil
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Install caches the shell manifest all-or-nothing, then discovers the
// bundler assets referenced by the root document and caches each one best
// effort. Only a state violation or a cancelled ctx is returned as an error.
func (c *Controller) Install(ctx context.Context) (*InstallReport, error) {
	if err := c.transition(StateParsed, StateInstalling); err != nil {
		return nil, err
	}
	start := time.Now()
	report := &InstallReport{Generation: c.cfg.Generation}

	static, err := c.storage.Open(ctx, c.cfg.StaticBucket())
	if err != nil {
		c.setState(StateParsed)
		return nil, apperrors.Wrap(apperrors.ErrCacheFailed, "open static bucket", err)
	}

	fetched := make(map[string]*cache.Response, len(c.cfg.Manifest))
	var manifestErr error
	for _, p := range c.cfg.Manifest {
		resp, err := c.origin.Fetch(ctx, &url.URL{Path: p}, nil)
		if err == nil && resp.Status != http.StatusOK {
			err = apperrors.New(apperrors.ErrInstallIncomplete, fmt.Sprintf("%s returned %d", p, resp.Status))
		}
		if err != nil {
			if manifestErr == nil {
				manifestErr = err
			}
			continue
		}
		fetched[p] = resp
	}

	if manifestErr == nil {
		for _, p := range c.cfg.Manifest {
			if err := static.Put(ctx, p, fetched[p]); err != nil {
				manifestErr = apperrors.Wrap(apperrors.ErrCacheFailed, "store "+p, err)
				break
			}
		}
	}
	if manifestErr != nil {
		report.ManifestError = manifestErr.Error()
		c.log.Warn("shell manifest not cached", logging.Fields{"error": report.ManifestError})
	} else {
		report.ManifestCached = true
	}

	if err := ctx.Err(); err != nil {
		c.setState(StateParsed)
		return nil, err
	}

	root := fetched["/"]
	if root == nil {
		root = fetched["/index.html"]
	}
	if root == nil {
		if resp, err := c.origin.Fetch(ctx, &url.URL{Path: "/"}, nil); err == nil && resp.Status == http.StatusOK {
			root = resp
		}
	}
	if root != nil {
		report.Assets = DiscoverAssets(root.Body)
	}
	for _, a := range report.Assets {
		u, err := url.Parse(a)
		if err != nil {
			continue
		}
		resp, err := c.origin.Fetch(ctx, u, nil)
		if err == nil && resp.Status == http.StatusOK {
			err = static.Put(ctx, a, resp)
		} else if err == nil {
			err = fmt.Errorf("status %d", resp.Status)
		}
		if err != nil {
			report.PrewarmFailed = append(report.PrewarmFailed, a)
			c.log.Debug("asset prewarm failed", logging.Fields{"asset": a, "error": err.Error()})
			continue
		}
		report.Prewarmed++
	}

	c.mu.Lock()
	c.assets = append([]string(nil), report.Assets...)
	c.state = StateInstalled
	c.mu.Unlock()

	report.Duration = time.Since(start)
	c.cfg.Metrics.Installed(report.ManifestCached)
	c.log.Info("installed", logging.Fields{
		"manifest_cached": report.ManifestCached,
		"assets":          len(report.Assets),
		"prewarmed":       report.Prewarmed,
	})
	return report, nil
}

// Activate deletes every bucket that is not one of this generation's live
// buckets. It returns the deleted names. On failure the controller returns
// to installed so activation can be retried.
func (c *Controller) Activate(ctx context.Context) ([]string, error) {
	if err := c.transition(StateInstalled, StateActivating); err != nil {
		return nil, err
	}

	live := make(map[string]bool)
	for _, b := range c.cfg.Buckets() {
		live[b] = true
	}

	names, err := c.storage.Names(ctx)
	if err != nil {
		c.setState(StateInstalled)
		return nil, apperrors.Wrap(apperrors.ErrCacheFailed, "list buckets", err)
	}
	var deleted []string
	for _, name := range names {
		if live[name] {
			continue
		}
		if _, err := c.storage.Delete(ctx, name); err != nil {
			c.setState(StateInstalled)
			return deleted, apperrors.Wrap(apperrors.ErrCacheFailed, "delete bucket "+name, err)
		}
		deleted = append(deleted, name)
	}

	c.setState(StateActivated)
	c.cfg.Metrics.Activated()
	c.log.Info("activated", logging.Fields{"evicted": deleted})
	return deleted, nil
}

// retire marks the controller redundant.
func (c *Controller) retire() {
	c.setState(StateRedundant)
}

// WaitIdle blocks until background snapshot purges finish.
func (c *Controller) WaitIdle() {
	c.bg.Wait()
}

// Respond routes an intercepted request and returns the response to send
// and where it came from.
func (c *Controller) Respond(ctx context.Context, r *http.Request) (*cache.Response, string) {
	class := c.cfg.Classify(r.URL.Path)

	var (
		resp   *cache.Response
		source string
		err    error
	)
	switch class {
	case ClassCatalog:
		resp, source = c.catalog(ctx, r)
	case ClassOther:
		resp, source, err = c.networkFirst(ctx, r, c.cfg.bucketFor(class))
	default:
		resp, source, err = c.cacheFirst(ctx, r, c.cfg.bucketFor(class))
	}
	if err != nil {
		c.log.Debug("serving fallback", logging.Fields{"path": r.URL.Path, "class": string(class), "error": err.Error()})
		resp, source = c.fallback(ctx, r, class), metrics.SourceFallback
	}

	c.cfg.Metrics.CacheResponse(string(class), source)
	return resp, source
}

// ServeHTTP serves an intercepted request.
func (c *Controller) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp, source := c.Respond(r.Context(), r)
	writeResponse(w, resp, source)
}

func writeResponse(w http.ResponseWriter, resp *cache.Response, source string) {
	h := w.Header()
	for k, vs := range resp.Header {
		if droppedHeaders[k] {
			continue
		}
		h[k] = append([]string(nil), vs...)
	}
	h.Set("X-Cache-Source", source)
	h.Set("Content-Length", strconv.Itoa(len(resp.Body)))
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

// Snapshots lists the dated catalog snapshots, newest first.
func (c *Controller) Snapshots(ctx context.Context) ([]Snapshot, error) {
	bucket, err := c.storage.Open(ctx, c.cfg.StaticBucket())
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCacheFailed, "open static bucket", err)
	}
	keys, err := c.snapshotKeys(ctx, bucket)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCacheFailed, "list snapshots", err)
	}
	out := make([]Snapshot, 0, len(keys))
	for _, k := range keys {
		resp, ok, err := bucket.Match(ctx, k)
		if err != nil || !ok {
			continue
		}
		snap := Snapshot{
			Key:      k,
			Day:      strings.TrimPrefix(k, c.cfg.CatalogKeyPrefix),
			Size:     len(resp.Body),
			Products: -1,
			StoredAt: resp.StoredAt,
		}
		if catalog, err := models.DecodeCatalog(resp.Body); err == nil {
			snap.Products = len(catalog.Visible())
			snap.Version = catalog.Version
		}
		out = append(out, snap)
	}
	return out, nil
}
