package worker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/mare-catalogo/backend/internal/cache"
	apperrors "github.com/mare-catalogo/backend/internal/errors"
	"github.com/mare-catalogo/backend/internal/logging"
)

// Origin fetches resources from the catalog origin. A response with any
// status is returned as a response; only transport failures are errors.
type Origin interface {
	Fetch(ctx context.Context, target *url.URL, header http.Header) (*cache.Response, error)
}

// maxBodySize caps a single origin response held in memory. Larger
// responses are rejected, never truncated.
const maxBodySize = 32 << 20

var forwardedHeaders = []string{"Accept", "Accept-Language", "User-Agent"}

var droppedHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
	"Content-Length":      true,
}

// HTTPOrigin is an Origin backed by net/http.
type HTTPOrigin struct {
	base    *url.URL
	client  *http.Client
	timeout time.Duration
	maxBody int64
}

// NewHTTPOrigin creates an origin rooted at base. A nil client uses
// http.DefaultClient; a zero timeout leaves requests bounded only by ctx.
func NewHTTPOrigin(base string, client *http.Client, timeout time.Duration) (*HTTPOrigin, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "invalid origin url", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, apperrors.New(apperrors.ErrInvalid, fmt.Sprintf("origin url %q must be http or https", base))
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPOrigin{base: u, client: client, timeout: timeout, maxBody: maxBodySize}, nil
}

// URL returns the origin base URL.
func (o *HTTPOrigin) URL() *url.URL {
	u := *o.base
	return &u
}

// Fetch issues a GET for target's path and query against the origin.
func (o *HTTPOrigin) Fetch(ctx context.Context, target *url.URL, header http.Header) (*cache.Response, error) {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	u := o.base.ResolveReference(&url.URL{Path: target.Path, RawQuery: target.RawQuery})
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrNetworkFailed, "build origin request", err)
	}
	for _, name := range forwardedHeaders {
		if v := header.Get(name); v != "" {
			req.Header.Set(name, v)
		}
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrNetworkFailed, "fetch "+target.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, o.maxBody+1))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrNetworkFailed, "read "+target.Path, err)
	}
	if int64(len(body)) > o.maxBody {
		return nil, apperrors.New(apperrors.ErrNetworkFailed,
			fmt.Sprintf("%s: response exceeds %d bytes", target.Path, o.maxBody))
	}

	out := &cache.Response{Status: resp.StatusCode, Header: make(http.Header), Body: body}
	for k, vs := range resp.Header {
		if droppedHeaders[k] {
			continue
		}
		out.Header[k] = append([]string(nil), vs...)
	}
	return out, nil
}

// NewPassthrough returns a reverse proxy to the origin for requests the
// controller does not intercept. The worker script is served uncached with
// a root scope.
func NewPassthrough(origin *url.URL, workerScript string) *httputil.ReverseProxy {
	log := logging.Named("worker.passthrough")
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(origin)
			pr.SetXForwarded()
		},
		ModifyResponse: func(resp *http.Response) error {
			if resp.Request != nil && strings.HasSuffix(resp.Request.URL.Path, workerScript) {
				resp.Header.Set("Service-Worker-Allowed", "/")
				resp.Header.Set("Cache-Control", "no-cache")
			}
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			log.Warn("origin unreachable", logging.Fields{"path": r.URL.Path, "error": err.Error()})
			http.Error(w, "origin unreachable", http.StatusBadGateway)
		},
	}
}
