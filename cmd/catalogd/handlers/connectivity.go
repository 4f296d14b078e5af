package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	apperrors "github.com/mare-catalogo/backend/internal/errors"
	"github.com/mare-catalogo/backend/internal/netstate"
)

// ConnectivityReport is the body of POST /api/connectivity.
type ConnectivityReport struct {
	Online *bool `json:"online"`
	Focus  bool  `json:"focus"`
}

// ConnectivityHandler accepts online, offline and focus reports from the page.
type ConnectivityHandler struct {
	tracker *netstate.Tracker
}

// NewConnectivityHandler creates a ConnectivityHandler.
func NewConnectivityHandler(tracker *netstate.Tracker) *ConnectivityHandler {
	return &ConnectivityHandler{tracker: tracker}
}

// Register mounts the connectivity routes on g.
func (h *ConnectivityHandler) Register(g *echo.Group) {
	g.GET("/connectivity", h.Get)
	g.POST("/connectivity", h.Report)
}

// Get handles GET /api/connectivity.
func (h *ConnectivityHandler) Get(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]bool{"online": h.tracker.Online()})
}

// Report handles POST /api/connectivity.
func (h *ConnectivityHandler) Report(c echo.Context) error {
	var report ConnectivityReport
	if err := c.Bind(&report); err != nil {
		return HandleError(c, apperrors.Wrap(apperrors.ErrInvalid, "malformed report", err), "Invalid connectivity report")
	}
	if report.Online == nil && !report.Focus {
		return HandleError(c, apperrors.New(apperrors.ErrInvalid, "report needs online or focus"), "Invalid connectivity report")
	}

	if report.Online != nil {
		if *report.Online {
			h.tracker.Report(netstate.EventOnline)
		} else {
			h.tracker.Report(netstate.EventOffline)
		}
	}
	if report.Focus {
		h.tracker.Report(netstate.EventFocus)
	}
	return c.JSON(http.StatusOK, map[string]bool{"online": h.tracker.Online()})
}
