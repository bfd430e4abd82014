package api

import (
	"errors"
	"net/http"

	"barcode-edge-agent/internal/agent"
	"barcode-edge-agent/internal/domain/device"
	pkgerrors "barcode-edge-agent/pkg/errors"

	"github.com/gin-gonic/gin"
)

// Handler serves the local device API consumed by the web front end and
// the POS forwarders.
type Handler struct {
	agent *agent.Agent
}

func NewHandler(a *agent.Agent) *Handler {
	return &Handler{agent: a}
}

type submitScanRequest struct {
	DeviceID string `json:"device_id" binding:"required,min=1,max=255"`
	Barcode  string `json:"barcode" binding:"required,min=1,max=128"`
	Quantity int    `json:"quantity" binding:"omitempty,gte=1"`
}

type submitScanResponse struct {
	MessageID uint   `json:"message_id"`
	DeviceID  string `json:"device_id"`
	Queued    bool   `json:"queued"`
}

// SubmitScan durably queues one scan. It succeeds regardless of current
// connectivity; delivery happens in the background.
func (h *Handler) SubmitScan(c *gin.Context) {
	var req submitScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	messageID, err := h.agent.SubmitScan(c.Request.Context(), req.DeviceID, req.Barcode, req.Quantity)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "local storage unavailable"})
		c.Error(err) //nolint:errcheck
		return
	}

	c.JSON(http.StatusAccepted, submitScanResponse{
		MessageID: messageID,
		DeviceID:  req.DeviceID,
		Queued:    true,
	})
}

// Status reports connectivity, indicator level and queue depth.
func (h *Handler) Status(c *gin.Context) {
	report, err := h.agent.Status(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to assemble status"})
		c.Error(err) //nolint:errcheck
		return
	}

	c.JSON(http.StatusOK, report)
}

type deviceResponse struct {
	DeviceID      string  `json:"device_id"`
	Registered    bool    `json:"registered"`
	Unregistrable bool    `json:"unregistrable"`
	FailureReason *string `json:"failure_reason,omitempty"`
	TotalScans    int     `json:"total_scans"`
	QueueUnsent   int64   `json:"queue_unsent"`
	QueueSent     int64   `json:"queue_sent"`
	QueuePoisoned int64   `json:"queue_poisoned"`
}

// Device returns one device's record and queue counters.
func (h *Handler) Device(c *gin.Context) {
	deviceID := c.Param("device_id")

	record, stats, err := h.agent.Device(c.Request.Context(), deviceID)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load device"})
		c.Error(err) //nolint:errcheck
		return
	}

	c.JSON(http.StatusOK, deviceResponse{
		DeviceID:      record.DeviceID,
		Registered:    record.IsRegistered(),
		Unregistrable: record.Unregistrable,
		FailureReason: record.FailureReason,
		TotalScans:    record.TotalScans,
		QueueUnsent:   stats.Unsent,
		QueueSent:     stats.Sent,
		QueuePoisoned: stats.Poisoned,
	})
}

// Reregister is the explicit operator operation that rotates a device
// identity and overwrites its stored credential.
func (h *Handler) Reregister(c *gin.Context) {
	deviceID := c.Param("device_id")

	if _, err := h.agent.ForceReregister(c.Request.Context(), deviceID); err != nil {
		h.writeClassifiedError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"device_id": deviceID, "reregistered": true})
}

// ClearFailure un-parks a device previously rejected by the registry.
func (h *Handler) ClearFailure(c *gin.Context) {
	deviceID := c.Param("device_id")

	if err := h.agent.ClearDeviceFailure(c.Request.Context(), deviceID); err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to clear device failure"})
		c.Error(err) //nolint:errcheck
		return
	}

	c.JSON(http.StatusOK, gin.H{"device_id": deviceID, "cleared": true})
}

func (h *Handler) writeClassifiedError(c *gin.Context, err error) {
	switch pkgerrors.ClassOf(err) {
	case pkgerrors.ClassPermanentDevice:
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case pkgerrors.ClassTransient:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "registry unreachable, try again later"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "operation failed"})
	}
	c.Error(err) //nolint:errcheck
}
