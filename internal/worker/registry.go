package worker

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"

	apperrors "github.com/mare-catalogo/backend/internal/errors"
	"github.com/mare-catalogo/backend/internal/logging"
)

// Control message types accepted from pages.
const (
	MessageSkipWaiting = "SKIP_WAITING"
	MessageGetVersion  = "GET_VERSION"
)

// Message is a control message posted by a page.
type Message struct {
	Type string `json:"type"`
}

// VersionReply answers GET_VERSION.
type VersionReply struct {
	Version string `json:"version"`
}

// ActivationListener is told when a controller claims the registry.
type ActivationListener func(generation string)

// Registry holds the active controller and at most one waiting controller.
// Requests are routed to the active controller; the swap on activation is
// atomic so every in-flight request sees exactly one generation.
type Registry struct {
	active      atomic.Pointer[Controller]
	passthrough http.Handler
	log         *logging.Logger

	mu        sync.Mutex
	waiting   *Controller
	listeners []ActivationListener
}

// NewRegistry creates an empty registry. Requests that are not intercepted,
// or arrive before any controller is active, go to passthrough.
func NewRegistry(passthrough http.Handler) *Registry {
	return &Registry{
		passthrough: passthrough,
		log:         logging.Named("worker.registry"),
	}
}

// OnActivate registers a listener for activations.
func (r *Registry) OnActivate(fn ActivationListener) {
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// Register installs c. It activates at once when nothing is active or c is
// configured to skip waiting; otherwise c waits, replacing any earlier
// waiting controller.
func (r *Registry) Register(ctx context.Context, c *Controller) (*InstallReport, error) {
	report, err := c.Install(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active.Load() == nil || c.cfg.SkipWaitingOnInstall {
		if err := r.activateLocked(ctx, c); err != nil {
			return report, err
		}
		return report, nil
	}
	if prev := r.waiting; prev != nil && prev != c {
		prev.retire()
	}
	r.waiting = c
	r.log.Info("controller waiting", logging.Fields{"generation": c.Generation()})
	return report, nil
}

// SkipWaiting activates the waiting controller. It is a no-op when nothing
// is waiting.
func (r *Registry) SkipWaiting(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.waiting == nil {
		return nil
	}
	return r.activateLocked(ctx, r.waiting)
}

func (r *Registry) activateLocked(ctx context.Context, c *Controller) error {
	if _, err := c.Activate(ctx); err != nil {
		return err
	}
	if r.waiting == c {
		r.waiting = nil
	}
	prev := r.active.Swap(c)
	if prev != nil && prev != c {
		prev.retire()
	}
	r.log.Info("controller claimed clients", logging.Fields{"generation": c.Generation()})
	for _, fn := range r.listeners {
		fn(c.Generation())
	}
	return nil
}

// Active returns the active controller, or nil.
func (r *Registry) Active() *Controller { return r.active.Load() }

// Waiting returns the waiting controller, or nil.
func (r *Registry) Waiting() *Controller {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.waiting
}

// Version returns the active generation.
func (r *Registry) Version() (string, bool) {
	if c := r.active.Load(); c != nil {
		return c.Generation(), true
	}
	return "", false
}

// HandleMessage processes a control message. GET_VERSION returns a
// VersionReply meant for the sender only; SKIP_WAITING returns nil.
func (r *Registry) HandleMessage(ctx context.Context, msg Message) (*VersionReply, error) {
	switch msg.Type {
	case MessageSkipWaiting:
		return nil, r.SkipWaiting(ctx)
	case MessageGetVersion:
		v, ok := r.Version()
		if !ok {
			return nil, apperrors.New(apperrors.ErrWorkerNotActive, "no active cache controller")
		}
		return &VersionReply{Version: v}, nil
	default:
		return nil, apperrors.New(apperrors.ErrInvalid, "unknown message type "+msg.Type)
	}
}

// ServeHTTP routes intercepted requests to the active controller and the
// rest to the passthrough handler.
func (r *Registry) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	c := r.active.Load()
	if c == nil || !c.cfg.Intercepts(req) {
		r.passthrough.ServeHTTP(w, req)
		return
	}
	c.ServeHTTP(w, req)
}
