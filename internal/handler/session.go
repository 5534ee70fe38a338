package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"gowa-hub/internal/core"
	"gowa-hub/internal/model"
)

func generateInstanceID() string {
	return uuid.NewString()
}

type startSessionRequest struct {
	InstanceID     string `json:"instanceId"`
	AllowBuffering bool   `json:"allowBuffering"`
}

// POST /api/sessions
func StartSession(c echo.Context) error {
	var req startSessionRequest
	if err := c.Bind(&req); err != nil {
		return ErrorResponse(c, http.StatusBadRequest, "Invalid request body", "BAD_REQUEST", err.Error())
	}

	instanceID := req.InstanceID
	if instanceID == "" {
		instanceID = generateInstanceID()
	}

	if err := model.InsertInstance(instanceID); err != nil {
		return ErrorResponse(c, http.StatusInternalServerError, "Failed to insert instance", "DB_INSERT_FAILED", err.Error())
	}

	snap, err := reg.Start(instanceID, core.StartOptions{AllowBuffering: req.AllowBuffering})
	if err != nil {
		return CoreErrorResponse(c, err, "START_FAILED")
	}

	log.Info().Str("instance_id", instanceID).Msg("session start requested")
	return SuccessResponse(c, http.StatusOK, "Session starting", map[string]interface{}{
		"instanceId": instanceID,
		"state":      snap.State,
		"nextStep":   "Poll GET /api/sessions/" + instanceID + "/pairing or listen on /ws for PAIRING_CHALLENGE",
	})
}

// GET /api/sessions
func GetAllSessions(c echo.Context) error {
	instances, err := model.GetAllInstances()
	if err != nil {
		return ErrorResponse(c, http.StatusInternalServerError, "Failed to fetch instances", "DB_QUERY_FAILED", err.Error())
	}

	live := make(map[string]*core.Snapshot)
	for _, snap := range reg.List() {
		live[snap.InstanceID] = snap
	}

	resp := make([]map[string]interface{}, 0, len(instances))
	for _, inst := range instances {
		item := map[string]interface{}{
			"instance": model.ToResponse(inst),
		}
		if snap, ok := live[inst.InstanceID]; ok {
			item["session"] = snap
		}
		resp = append(resp, item)
	}

	return SuccessResponse(c, http.StatusOK, "Instances fetched", map[string]interface{}{
		"count":     len(resp),
		"instances": resp,
	})
}

// GET /api/sessions/:instanceId
func GetSessionStatus(c echo.Context) error {
	instanceID := c.Param("instanceId")

	snap, err := reg.Status(instanceID)
	if err == nil {
		return SuccessResponse(c, http.StatusOK, "Session status", snap)
	}
	if !errors.Is(err, core.ErrNotFound) {
		return ErrorResponse(c, http.StatusInternalServerError, "Failed to fetch status", "STATUS_FAILED", err.Error())
	}

	// No live supervisor; fall back to the persisted record.
	inst, dbErr := model.GetInstanceByInstanceID(instanceID)
	if dbErr != nil {
		return ErrorResponse(c, http.StatusNotFound, "Instance not found", "SESSION_NOT_FOUND", "")
	}
	return SuccessResponse(c, http.StatusOK, "Session not running, returning stored state", model.ToResponse(*inst))
}

// GET /api/sessions/:instanceId/pairing
func GetPairing(c echo.Context) error {
	instanceID := c.Param("instanceId")

	snap, err := reg.Status(instanceID)
	if err != nil {
		return CoreErrorResponse(c, err, "STATUS_FAILED")
	}

	if snap.State != core.StatePairing {
		return ErrorResponse(c, http.StatusConflict, "Session is not pairing", "NOT_PAIRING", "current state: "+string(snap.State))
	}
	if snap.PairingCode == "" {
		return SuccessResponse(c, http.StatusOK, "Pairing pending, challenge not yet issued", map[string]interface{}{
			"instanceId": instanceID,
			"state":      snap.State,
		})
	}

	return SuccessResponse(c, http.StatusOK, "Pairing challenge", map[string]interface{}{
		"instanceId": instanceID,
		"code":       snap.PairingCode,
		"expiresAt":  snap.PairingExpiresAt,
	})
}

// DELETE /api/sessions/:instanceId?logout=true
func StopSession(c echo.Context) error {
	instanceID := c.Param("instanceId")
	logout, _ := strconv.ParseBool(c.QueryParam("logout"))

	if err := reg.Stop(c.Request().Context(), instanceID, logout); err != nil {
		return CoreErrorResponse(c, err, "STOP_FAILED")
	}

	log.Info().Str("instance_id", instanceID).Bool("logout", logout).Msg("session stopped")

	message := "Session stopped"
	if logout {
		message = "Session logged out, credentials deleted"
	}
	return SuccessResponse(c, http.StatusOK, message, map[string]interface{}{
		"instanceId": instanceID,
		"loggedOut":  logout,
	})
}

// DELETE /api/instances/:instanceId
func DeleteInstance(c echo.Context) error {
	instanceID := c.Param("instanceId")

	// Stop the live session first if one exists; ignore ErrNotFound.
	if err := reg.Stop(c.Request().Context(), instanceID, true); err != nil && !errors.Is(err, core.ErrNotFound) {
		return CoreErrorResponse(c, err, "STOP_FAILED")
	}

	if err := model.DeleteInstanceByInstanceID(instanceID); err != nil {
		return ErrorResponse(c, http.StatusInternalServerError, "Failed to delete instance", "DB_DELETE_FAILED", err.Error())
	}

	return SuccessResponse(c, http.StatusOK, "Instance deleted", map[string]interface{}{
		"instanceId": instanceID,
	})
}
