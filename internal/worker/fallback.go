package worker

import (
	"context"
	"net/http"

	"github.com/mare-catalogo/backend/internal/cache"
)

const (
	offlineMessage = "Contenido no disponible offline"

	placeholderSVG = `<svg width="400" height="400" xmlns="http://www.w3.org/2000/svg">` +
		`<rect width="400" height="400" fill="#f0f0f0"/>` +
		`<text x="200" y="180" text-anchor="middle" font-family="Arial, sans-serif" font-size="18" fill="#999">Offline</text>` +
		`<text x="200" y="210" text-anchor="middle" font-family="Arial, sans-serif" font-size="14" fill="#bbb">Imagen no disponible</text>` +
		`</svg>`

	emptyCatalog = "[]"
)

// fallback builds the response served when both network and cache fail.
func (c *Controller) fallback(ctx context.Context, r *http.Request, class Class) *cache.Response {
	if isNavigation(r) {
		for _, key := range []string{"/index.html", "/"} {
			if resp, ok, err := c.storage.Match(ctx, key); err == nil && ok && resp.OK() {
				return resp
			}
		}
	}
	if class == ClassImage {
		return &cache.Response{
			Status: http.StatusOK,
			Header: http.Header{
				"Content-Type":  []string{"image/svg+xml"},
				"Cache-Control": []string{"no-store"},
			},
			Body: []byte(placeholderSVG),
		}
	}
	return &cache.Response{
		Status: http.StatusServiceUnavailable,
		Header: http.Header{"Content-Type": []string{"text/plain; charset=utf-8"}},
		Body:   []byte(offlineMessage),
	}
}

// syntheticCatalog is the last resort for the catalog feed.
func syntheticCatalog() *cache.Response {
	return &cache.Response{
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": []string{"application/json"}},
		Body:   []byte(emptyCatalog),
	}
}
