package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	apperrors "github.com/mare-catalogo/backend/internal/errors"
	"github.com/mare-catalogo/backend/internal/ids"
	"github.com/mare-catalogo/backend/internal/logging"
	"github.com/mare-catalogo/backend/internal/models"
	"github.com/mare-catalogo/backend/internal/remote"
	"github.com/mare-catalogo/backend/internal/sync/queue"
)

// Submission statuses returned by POST /api/orders.
const (
	StatusSent   = "sent"
	StatusQueued = "queued"
)

// OrderQueue is the queue surface used by the order endpoints.
type OrderQueue interface {
	Enqueue(ctx context.Context, order models.Order) (string, error)
	Drain(ctx context.Context) (*queue.DrainResult, error)
	Snapshot(ctx context.Context) (*queue.Status, error)
	ClearPending(ctx context.Context) (int, error)
	ClearFailed(ctx context.Context) (int, error)
}

// ReceivedLister lists orders the remote service has received.
type ReceivedLister interface {
	ListReceived(ctx context.Context) ([]models.Order, error)
}

// SubmitResponse is the body of POST /api/orders.
type SubmitResponse struct {
	Status  string        `json:"status"`
	QueueID string        `json:"queue_id,omitempty"`
	Order   *models.Order `json:"order,omitempty"`
	Message string        `json:"message"`
}

// OrderHandler serves order submission and queue maintenance.
type OrderHandler struct {
	remote   remote.OrderService
	received ReceivedLister
	queue    OrderQueue
	online   func() bool
	now      func() time.Time
	log      *logging.Logger
}

// NewOrderHandler creates an OrderHandler. online reports the page's online
// flag; received may be nil.
func NewOrderHandler(svc remote.OrderService, received ReceivedLister, q OrderQueue, online func() bool) *OrderHandler {
	return &OrderHandler{
		remote:   svc,
		received: received,
		queue:    q,
		online:   online,
		now:      time.Now,
		log:      logging.Named("api.orders"),
	}
}

// Register mounts the order routes on g.
func (h *OrderHandler) Register(g *echo.Group) {
	g.POST("/orders", h.Submit)
	g.GET("/orders/received", h.Received)
	g.GET("/orders/queue", h.QueueStatus)
	g.POST("/orders/queue/sync", h.Sync)
	g.DELETE("/orders/queue/pending", h.ClearPending)
	g.DELETE("/orders/queue/failed", h.ClearFailed)
}

// Submit handles POST /api/orders. The order is delivered directly when
// the page is online; otherwise, or when delivery fails, it is queued and
// reported as saved.
func (h *OrderHandler) Submit(c echo.Context) error {
	var order models.Order
	if err := c.Bind(&order); err != nil {
		return HandleError(c, apperrors.Wrap(apperrors.ErrInvalid, "malformed order", err), "Invalid order payload")
	}

	now := h.now()
	if order.Number == "" {
		order.Number = ids.NewOrderNumber(now)
	}
	order.Normalize(now)
	if err := order.Validate(); err != nil {
		return HandleError(c, err, "Order failed validation")
	}

	ctx := c.Request().Context()
	if h.online() {
		saved, err := h.remote.Insert(ctx, order)
		switch {
		case err == nil:
			return c.JSON(http.StatusCreated, SubmitResponse{Status: StatusSent, Order: saved, Message: "Pedido enviado"})
		case remote.IsDuplicate(err):
			return c.JSON(http.StatusOK, SubmitResponse{Status: StatusSent, Order: &order, Message: "Pedido ya registrado"})
		default:
			h.log.Warn("direct delivery failed, queueing", logging.Fields{"numero": order.Number, "error": err.Error()})
		}
	}

	queueID, err := h.queue.Enqueue(ctx, order)
	if err != nil {
		return HandleError(c, err, "Order could not be saved")
	}
	return c.JSON(http.StatusAccepted, SubmitResponse{
		Status:  StatusQueued,
		QueueID: queueID,
		Order:   &order,
		Message: "Pedido guardado, se enviará al recuperar la conexión",
	})
}

// Received handles GET /api/orders/received.
func (h *OrderHandler) Received(c echo.Context) error {
	if h.received == nil {
		return HandleError(c, apperrors.New(apperrors.ErrRemoteNotConfigured, "remote order service not configured"), "Cannot list orders")
	}
	orders, err := h.received.ListReceived(c.Request().Context())
	if err != nil {
		return HandleError(c, err, "Failed to list received orders")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"orders": orders,
		"count":  len(orders),
	})
}

// QueueStatus handles GET /api/orders/queue.
func (h *OrderHandler) QueueStatus(c echo.Context) error {
	status, err := h.queue.Snapshot(c.Request().Context())
	if err != nil {
		return HandleError(c, err, "Failed to read queue")
	}
	return c.JSON(http.StatusOK, status)
}

// Sync handles POST /api/orders/queue/sync.
func (h *OrderHandler) Sync(c echo.Context) error {
	result, err := h.queue.Drain(c.Request().Context())
	if err != nil {
		return HandleError(c, err, "Sync failed")
	}
	return c.JSON(http.StatusOK, result)
}

// ClearPending handles DELETE /api/orders/queue/pending.
func (h *OrderHandler) ClearPending(c echo.Context) error {
	n, err := h.queue.ClearPending(c.Request().Context())
	if err != nil {
		return HandleError(c, err, "Failed to clear pending orders")
	}
	h.log.Info("pending orders cleared", logging.Fields{"count": n})
	return c.JSON(http.StatusOK, map[string]int{"cleared": n})
}

// ClearFailed handles DELETE /api/orders/queue/failed.
func (h *OrderHandler) ClearFailed(c echo.Context) error {
	n, err := h.queue.ClearFailed(c.Request().Context())
	if err != nil {
		return HandleError(c, err, "Failed to clear failed orders")
	}
	h.log.Info("failed orders cleared", logging.Fields{"count": n})
	return c.JSON(http.StatusOK, map[string]int{"cleared": n})
}
