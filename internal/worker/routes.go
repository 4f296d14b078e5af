package worker

import (
	"net/http"
	"strings"
)

// Class is the routing class of a request.
type Class string

const (
	ClassShell   Class = "shell"
	ClassCatalog Class = "catalog"
	ClassImage   Class = "image"
	ClassAsset   Class = "asset"
	ClassOther   Class = "other"
)

// Classify returns the routing class of a URL path. Checks run in table
// order, so a path containing "icon-" is shell even under the images path.
func (c Config) Classify(path string) Class {
	switch {
	case path == "/" || path == "/index.html" || path == "/manifest.json" || strings.Contains(path, "icon-"):
		return ClassShell
	case path == c.CatalogPath:
		return ClassCatalog
	case strings.HasPrefix(path, c.ImagesPrefix):
		return ClassImage
	case strings.HasPrefix(path, c.AssetsPrefix) || strings.HasSuffix(path, ".js") || strings.HasSuffix(path, ".css"):
		return ClassAsset
	default:
		return ClassOther
	}
}

// bucketFor returns the bucket that stores responses of a class.
func (c Config) bucketFor(class Class) string {
	switch class {
	case ClassImage:
		return c.ImagesBucket()
	case ClassOther:
		return c.DynamicBucket()
	default:
		return c.StaticBucket()
	}
}

// Intercepts reports whether the controller handles r. Only same-origin
// GET and HEAD requests are intercepted; the worker script itself never is.
func (c Config) Intercepts(r *http.Request) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return false
	}
	if r.URL.IsAbs() && r.URL.Host != r.Host {
		return false
	}
	return r.URL.Path != c.WorkerScript
}

// isNavigation reports whether r is a page navigation.
func isNavigation(r *http.Request) bool {
	if mode := r.Header.Get("Sec-Fetch-Mode"); mode != "" {
		return mode == "navigate"
	}
	return r.Method == http.MethodGet && strings.Contains(r.Header.Get("Accept"), "text/html")
}
