package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"gowa-hub/internal/core"
)

// APIResponse is the envelope every endpoint returns.
type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
}

type ErrorInfo struct {
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func SuccessResponse(c echo.Context, statusCode int, message string, data interface{}) error {
	return c.JSON(statusCode, APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

func ErrorResponse(c echo.Context, statusCode int, message string, errorCode string, details string) error {
	response := APIResponse{
		Success: false,
		Message: message,
	}
	if errorCode != "" || details != "" {
		response.Error = &ErrorInfo{
			Code:    errorCode,
			Details: details,
		}
	}
	return c.JSON(statusCode, response)
}

// sentinelStatus maps the session error taxonomy to HTTP status, error code
// and client-facing message.
var sentinelStatus = []struct {
	err     error
	status  int
	code    string
	message string
}{
	{core.ErrAlreadyActive, http.StatusConflict, "ALREADY_ACTIVE", "Session already active for this instance"},
	{core.ErrNotFound, http.StatusNotFound, "SESSION_NOT_FOUND", "Session not found"},
	{core.ErrSessionNotConnected, http.StatusConflict, "NOT_CONNECTED", "Session is not connected"},
	{core.ErrQueueFull, http.StatusTooManyRequests, "QUEUE_FULL", "Outbound queue is full"},
	{core.ErrNoCredential, http.StatusNotFound, "NO_CREDENTIAL", "No stored credential for this instance"},
}

// CoreErrorResponse translates a sentinel from the session layer into the
// standard envelope. Errors outside the taxonomy become a 500 carrying the
// caller's fallback code.
func CoreErrorResponse(c echo.Context, err error, fallbackCode string) error {
	for _, m := range sentinelStatus {
		if errors.Is(err, m.err) {
			return ErrorResponse(c, m.status, m.message, m.code, "")
		}
	}
	return ErrorResponse(c, http.StatusInternalServerError, "Internal error", fallbackCode, err.Error())
}
