package heartbeat

import (
	"context"
	"encoding/json"
	"time"

	"barcode-edge-agent/internal/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Submitter is the facade surface the heartbeat loop publishes through,
// so heartbeats get the same durability and ordering as scans.
type Submitter interface {
	Submit(ctx context.Context, deviceID string, payload []byte) (uint, error)
}

// StatusFunc supplies the current indicator level for the heartbeat body.
type StatusFunc func() string

// Event is the heartbeat envelope.
type Event struct {
	EventID  string    `json:"event_id"`
	DeviceID string    `json:"device_id"`
	Kind     string    `json:"kind"`
	Status   string    `json:"status"`
	SentAt   time.Time `json:"sent_at"`
}

// Service periodically submits a heartbeat for this agent's device.
type Service struct {
	deviceID  string
	interval  time.Duration
	submitter Submitter
	statusFn  StatusFunc
}

func NewService(deviceID string, interval time.Duration, submitter Submitter, statusFn StatusFunc) *Service {
	return &Service{
		deviceID:  deviceID,
		interval:  interval,
		submitter: submitter,
		statusFn:  statusFn,
	}
}

// Run emits heartbeats until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	logger.Info("Heartbeat publisher started",
		zap.String("device_id", s.deviceID),
		zap.Duration("interval", s.interval),
	)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.beat(ctx)
		case <-ctx.Done():
			logger.Info("Heartbeat publisher stopped")
			return
		}
	}
}

func (s *Service) beat(ctx context.Context) {
	event := Event{
		EventID:  uuid.New().String(),
		DeviceID: s.deviceID,
		Kind:     "heartbeat",
		Status:   s.statusFn(),
		SentAt:   time.Now().UTC(),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		logger.Error("Failed to encode heartbeat", zap.Error(err))
		return
	}

	if _, err := s.submitter.Submit(ctx, s.deviceID, payload); err != nil {
		logger.Error("Failed to enqueue heartbeat", zap.Error(err))
	}
}
