package handler

import (
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	"gowa-hub/internal/model"
)

type webhookRequest struct {
	URL     string   `json:"url"`
	Secret  string   `json:"secret"`
	Events  []string `json:"events"`
	Enabled *bool    `json:"enabled"`
}

// PUT /api/webhook/:instanceId
func PutWebhook(c echo.Context) error {
	instanceID := c.Param("instanceId")

	var req webhookRequest
	if err := c.Bind(&req); err != nil {
		return ErrorResponse(c, http.StatusBadRequest, "Invalid request body", "BAD_REQUEST", err.Error())
	}

	parsed, err := url.Parse(req.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return ErrorResponse(c, http.StatusBadRequest, "Webhook URL must be http or https", "INVALID_URL", req.URL)
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	wh := &model.Webhook{
		InstanceID: instanceID,
		URL:        req.URL,
		Secret:     req.Secret,
		Events:     req.Events,
		Enabled:    enabled,
	}
	if err := model.UpsertWebhook(wh); err != nil {
		return ErrorResponse(c, http.StatusInternalServerError, "Failed to save webhook", "DB_INSERT_FAILED", err.Error())
	}

	return SuccessResponse(c, http.StatusOK, "Webhook saved", map[string]interface{}{
		"instanceId": instanceID,
		"url":        wh.URL,
		"events":     wh.Events,
		"enabled":    wh.Enabled,
	})
}

// GET /api/webhook/:instanceId
func GetWebhook(c echo.Context) error {
	instanceID := c.Param("instanceId")

	wh, err := model.GetWebhookByInstanceID(instanceID)
	if err != nil {
		return ErrorResponse(c, http.StatusInternalServerError, "Failed to fetch webhook", "DB_QUERY_FAILED", err.Error())
	}
	if wh == nil {
		return ErrorResponse(c, http.StatusNotFound, "No webhook configured for this instance", "WEBHOOK_NOT_FOUND", "")
	}

	// Never echo the secret back.
	wh.Secret = ""
	return SuccessResponse(c, http.StatusOK, "Webhook fetched", wh)
}

// DELETE /api/webhook/:instanceId
func DeleteWebhook(c echo.Context) error {
	instanceID := c.Param("instanceId")

	if err := model.DeleteWebhook(instanceID); err != nil {
		return ErrorResponse(c, http.StatusInternalServerError, "Failed to delete webhook", "DB_DELETE_FAILED", err.Error())
	}

	return SuccessResponse(c, http.StatusOK, "Webhook deleted", map[string]interface{}{
		"instanceId": instanceID,
	})
}
