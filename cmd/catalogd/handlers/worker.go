package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	apperrors "github.com/mare-catalogo/backend/internal/errors"
	"github.com/mare-catalogo/backend/internal/worker"
)

// ControllerInfo describes one cache controller.
type ControllerInfo struct {
	Generation string       `json:"generation"`
	State      worker.State `json:"state"`
	Buckets    []string     `json:"buckets"`
	Assets     []string     `json:"assets"`
}

// WorkerStatus is the body of GET /api/worker.
type WorkerStatus struct {
	Active  *ControllerInfo `json:"active"`
	Waiting *ControllerInfo `json:"waiting,omitempty"`
}

// WorkerHandler exposes the cache controller lifecycle.
type WorkerHandler struct {
	registry *worker.Registry
}

// NewWorkerHandler creates a WorkerHandler.
func NewWorkerHandler(registry *worker.Registry) *WorkerHandler {
	return &WorkerHandler{registry: registry}
}

// Register mounts the worker and catalog routes on g.
func (h *WorkerHandler) Register(g *echo.Group) {
	g.GET("/worker", h.Status)
	g.POST("/worker/skip-waiting", h.SkipWaiting)
	g.GET("/catalog/snapshot", h.CatalogSnapshot)
}

func describe(c *worker.Controller) *ControllerInfo {
	if c == nil {
		return nil
	}
	return &ControllerInfo{
		Generation: c.Generation(),
		State:      c.State(),
		Buckets:    c.Config().Buckets(),
		Assets:     c.Assets(),
	}
}

// Status handles GET /api/worker.
func (h *WorkerHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, WorkerStatus{
		Active:  describe(h.registry.Active()),
		Waiting: describe(h.registry.Waiting()),
	})
}

// SkipWaiting handles POST /api/worker/skip-waiting.
func (h *WorkerHandler) SkipWaiting(c echo.Context) error {
	if err := h.registry.SkipWaiting(c.Request().Context()); err != nil {
		return HandleError(c, err, "Activation failed")
	}
	return h.Status(c)
}

// CatalogSnapshot handles GET /api/catalog/snapshot and returns the newest
// dated catalog snapshot.
func (h *WorkerHandler) CatalogSnapshot(c echo.Context) error {
	active := h.registry.Active()
	if active == nil {
		return HandleError(c, apperrors.New(apperrors.ErrWorkerNotActive, "no active cache controller"), "Catalog unavailable")
	}
	snaps, err := active.Snapshots(c.Request().Context())
	if err != nil {
		return HandleError(c, err, "Failed to read catalog snapshots")
	}
	if len(snaps) == 0 {
		return HandleError(c, apperrors.New(apperrors.ErrNotFound, "no catalog snapshot"), "No catalog snapshot cached")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"latest":    snaps[0],
		"snapshots": snaps,
	})
}
