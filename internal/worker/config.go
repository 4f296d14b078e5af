// Package worker implements the catalog cache controller: an HTTP handler in
// front of the catalog origin that serves the application shell, the
// catalog feed and product images from named caches, with a service-worker
// style lifecycle (install, activate, claim) per cache generation.
package worker

import (
	"fmt"
	"strings"
	"time"

	"github.com/mare-catalogo/backend/internal/metrics"
)

// Defaults matching the catalog site layout.
const (
	DefaultCatalogPath      = "/productos.json"
	DefaultCatalogKeyPrefix = "catalog-resource-"
	DefaultImagesPrefix     = "/imagenes/"
	DefaultAssetsPrefix     = "/assets/"
	DefaultWorkerScript     = "/sw.js"
)

// DefaultManifest is the shell asset list cached at install.
var DefaultManifest = []string{
	"/",
	"/index.html",
	"/manifest.json",
	"/productos.json",
	"/mensaje.json",
	"/icon-192.png",
	"/icon-512.png",
	"/logo-mare.png",
}

// Config is fixed for the life of a controller. It is read by every request
// and never mutated after New.
type Config struct {
	// Generation names the cache generation, e.g. "mare-v1.2.0". Bucket
	// names derive from it.
	Generation string
	// Manifest lists the shell paths cached all-or-nothing at install.
	Manifest []string

	CatalogPath      string
	CatalogKeyPrefix string
	ImagesPrefix     string
	AssetsPrefix     string
	WorkerScript     string

	// SkipWaitingOnInstall activates a newly installed controller at once
	// instead of leaving it waiting.
	SkipWaitingOnInstall bool
	// CatalogFreshWithinDay serves today's catalog snapshot without a
	// network attempt. When false the catalog is re-fetched on every
	// request while online.
	CatalogFreshWithinDay bool

	// Location is the calendar used for dated catalog snapshots.
	Location *time.Location
	// Now is the clock; nil means time.Now.
	Now func() time.Time
	// Online reports the page's online flag; nil means always online.
	Online func() bool

	Metrics *metrics.Metrics
}

// withDefaults returns a copy with empty fields filled in.
func (c Config) withDefaults() Config {
	if len(c.Manifest) == 0 {
		c.Manifest = DefaultManifest
	}
	c.Manifest = append([]string(nil), c.Manifest...)
	if c.CatalogPath == "" {
		c.CatalogPath = DefaultCatalogPath
	}
	if c.CatalogKeyPrefix == "" {
		c.CatalogKeyPrefix = DefaultCatalogKeyPrefix
	}
	if c.ImagesPrefix == "" {
		c.ImagesPrefix = DefaultImagesPrefix
	}
	if c.AssetsPrefix == "" {
		c.AssetsPrefix = DefaultAssetsPrefix
	}
	if c.WorkerScript == "" {
		c.WorkerScript = DefaultWorkerScript
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Online == nil {
		c.Online = func() bool { return true }
	}
	return c
}

func (c Config) validate() error {
	if strings.TrimSpace(c.Generation) == "" {
		return fmt.Errorf("cache generation must not be empty")
	}
	for _, p := range c.Manifest {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("manifest entry %q must be an absolute path", p)
		}
	}
	return nil
}

// StaticBucket is the bucket for the shell, bundler assets and the catalog.
func (c Config) StaticBucket() string { return c.Generation + "-static" }

// DynamicBucket is the bucket for network-first responses.
func (c Config) DynamicBucket() string { return c.Generation + "-dynamic" }

// ImagesBucket is the bucket for product images.
func (c Config) ImagesBucket() string { return c.Generation + "-images" }

// Buckets lists the live bucket names of this generation.
func (c Config) Buckets() []string {
	return []string{c.StaticBucket(), c.DynamicBucket(), c.ImagesBucket()}
}

// catalogKey is the snapshot key for a calendar day.
func (c Config) catalogKey(day time.Time) string {
	return c.CatalogKeyPrefix + day.In(c.Location).Format(time.DateOnly)
}
