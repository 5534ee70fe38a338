package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"gowa-hub/internal/core"
	"gowa-hub/internal/model"
)

type sendMessageRequest struct {
	To             string `json:"to"`
	Message        string `json:"message"`
	IdempotencyKey string `json:"idempotencyKey"`
}

// POST /api/send/:instanceId
func SendMessage(c echo.Context) error {
	instanceID := c.Param("instanceId")

	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return ErrorResponse(c, http.StatusBadRequest, "Invalid request body", "BAD_REQUEST", err.Error())
	}
	if req.To == "" || req.Message == "" {
		return ErrorResponse(c, http.StatusBadRequest, "Fields 'to' and 'message' are required", "MISSING_FIELDS", "")
	}

	registered, err := reg.CheckTarget(c.Request().Context(), instanceID, req.To)
	switch {
	case errors.Is(err, core.ErrSessionNotConnected):
		// Cannot verify while disconnected; the queue decides below
		// whether buffering is allowed.
	case err != nil:
		return CoreErrorResponse(c, err, "VERIFICATION_FAILED")
	case !registered:
		return ErrorResponse(c, http.StatusBadRequest, "Recipient is not registered on WhatsApp", "PHONE_NOT_REGISTERED",
			"Please check the number or ask the recipient to install WhatsApp")
	}

	accepted, err := reg.Enqueue(instanceID, &core.OutboundRequest{
		InstanceID:     instanceID,
		Target:         req.To,
		Content:        req.Message,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		if errors.Is(err, core.ErrDuplicateRequest) {
			// Same idempotency key seen before; report the original
			// request instead of queueing a second copy.
			return SuccessResponse(c, http.StatusOK, "Duplicate request, original already queued", map[string]interface{}{
				"instanceId": instanceID,
				"duplicate":  true,
				"messageId":  accepted.MessageID,
				"enqueuedAt": accepted.EnqueuedAt,
			})
		}
		return CoreErrorResponse(c, err, "SEND_FAILED")
	}

	return SuccessResponse(c, http.StatusAccepted, "Message queued", map[string]interface{}{
		"instanceId": instanceID,
		"to":         req.To,
		"enqueuedAt": accepted.EnqueuedAt,
	})
}

type checkNumberRequest struct {
	Phone string `json:"phone"`
}

// POST /api/check/:instanceId
func CheckNumber(c echo.Context) error {
	instanceID := c.Param("instanceId")

	var req checkNumberRequest
	if err := c.Bind(&req); err != nil {
		return ErrorResponse(c, http.StatusBadRequest, "Invalid request body", "BAD_REQUEST", err.Error())
	}
	if req.Phone == "" {
		return ErrorResponse(c, http.StatusBadRequest, "Field 'phone' is required", "MISSING_FIELDS", "")
	}

	registered, err := reg.CheckTarget(c.Request().Context(), instanceID, req.Phone)
	if err != nil {
		return CoreErrorResponse(c, err, "VERIFICATION_FAILED")
	}

	return SuccessResponse(c, http.StatusOK, "Number checked", map[string]interface{}{
		"instanceId": instanceID,
		"phone":      req.Phone,
		"registered": registered,
	})
}

// GET /api/events/:instanceId?from=0&limit=100
func GetEvents(c echo.Context) error {
	instanceID := c.Param("instanceId")

	fromSeq, _ := strconv.ParseUint(c.QueryParam("from"), 10, 64)
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	// Clamping lives in the model layer.
	events, err := model.GetEvents(instanceID, fromSeq, limit)
	if err != nil {
		return ErrorResponse(c, http.StatusInternalServerError, "Failed to fetch events", "DB_QUERY_FAILED", err.Error())
	}

	return SuccessResponse(c, http.StatusOK, "Events fetched", map[string]interface{}{
		"instanceId": instanceID,
		"count":      len(events),
		"events":     events,
	})
}
