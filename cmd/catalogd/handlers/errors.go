// Package handlers provides the REST API handlers of the catalog backend.
package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	apperrors "github.com/mare-catalogo/backend/internal/errors"
	"github.com/mare-catalogo/backend/internal/logging"
)

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// statusByCode is checked in order; the first code found in the chain wins.
var statusByCode = []struct {
	code   apperrors.ErrorCode
	status int
}{
	{apperrors.ErrStorageQuotaExceeded, http.StatusInsufficientStorage},
	{apperrors.ErrOrderInvalid, http.StatusUnprocessableEntity},
	{apperrors.ErrOrderDuplicate, http.StatusConflict},
	{apperrors.ErrInvalid, http.StatusBadRequest},
	{apperrors.ErrValidation, http.StatusBadRequest},
	{apperrors.ErrNotFound, http.StatusNotFound},
	{apperrors.ErrRemoteNotConfigured, http.StatusServiceUnavailable},
	{apperrors.ErrRemoteUnavailable, http.StatusBadGateway},
	{apperrors.ErrRemoteRejected, http.StatusBadGateway},
	{apperrors.ErrWorkerNotActive, http.StatusServiceUnavailable},
	{apperrors.ErrWorkerState, http.StatusConflict},
}

// StatusFor maps an error to its HTTP status.
func StatusFor(err error) int {
	for _, m := range statusByCode {
		if apperrors.Is(err, m.code) {
			return m.status
		}
	}
	return http.StatusInternalServerError
}

// HandleError logs err and writes it as an ErrorResponse.
func HandleError(c echo.Context, err error, message string) error {
	status := StatusFor(err)
	code := apperrors.CodeOf(err)
	if status >= http.StatusInternalServerError {
		logging.Named("api").ErrorWithCode(message, string(code), err, logging.Fields{
			"path":   c.Request().URL.Path,
			"method": c.Request().Method,
		})
	}
	return c.JSON(status, ErrorResponse{
		Error:   err.Error(),
		Code:    string(code),
		Message: message,
	})
}
