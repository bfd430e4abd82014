package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"barcode-edge-agent/internal/connectivity"
	"barcode-edge-agent/internal/delivery"
	"barcode-edge-agent/internal/domain/device"
	"barcode-edge-agent/internal/domain/message"
	"barcode-edge-agent/internal/logger"
	"barcode-edge-agent/internal/registration"
	"barcode-edge-agent/internal/status"
	pkgerrors "barcode-edge-agent/pkg/errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Agent is the single entry point callers use to submit events and
// observe status. Submission only touches the local durable store and
// never blocks on network I/O.
type Agent struct {
	devices   device.Repository
	messages  message.Repository
	registrar *registration.Service
	worker    *delivery.Worker
	monitor   *connectivity.Monitor
	indicator *status.Indicator

	cancel context.CancelFunc
	loops  sync.WaitGroup
}

func New(
	devices device.Repository,
	messages message.Repository,
	registrar *registration.Service,
	worker *delivery.Worker,
	monitor *connectivity.Monitor,
	indicator *status.Indicator,
) *Agent {
	return &Agent{
		devices:   devices,
		messages:  messages,
		registrar: registrar,
		worker:    worker,
		monitor:   monitor,
		indicator: indicator,
	}
}

// ScanEvent is the envelope submitted for one barcode scan.
type ScanEvent struct {
	EventID   string    `json:"event_id"`
	DeviceID  string    `json:"device_id"`
	Barcode   string    `json:"barcode"`
	Quantity  int       `json:"quantity"`
	ScannedAt time.Time `json:"scanned_at"`
}

// StatusReport is the observer-facing snapshot the status API serves.
type StatusReport struct {
	Level       status.Level          `json:"level"`
	Connection  connectivity.Snapshot `json:"connection"`
	Delivery    delivery.Metrics      `json:"delivery"`
	UnsentTotal int64                 `json:"unsent_total"`
}

// Start launches the background loops: connectivity monitor, delivery
// worker, and the monitor-to-worker wake wiring.
func (a *Agent) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	// A transition into ONLINE drains immediately instead of waiting
	// for the worker's own timer.
	a.monitor.OnTransition(func(_, current connectivity.State) {
		if current == connectivity.StateOnline {
			a.worker.Wake()
		}
	})
	a.indicator.Attach(a.monitor, a.worker)

	a.loops.Add(1)
	go func() {
		defer a.loops.Done()
		a.monitor.Run(ctx)
	}()

	a.loops.Add(1)
	go func() {
		defer a.loops.Done()
		a.worker.Run(ctx)
	}()

	logger.Info("Agent started")
}

// Stop cancels both background loops and blocks until they have
// observed cancellation and exited.
func (a *Agent) Stop() {
	if a.cancel == nil {
		return
	}
	a.cancel()
	a.loops.Wait()
	logger.Info("Agent stopped")
}

// Submit durably enqueues an already-serialized payload for deviceID
// and wakes the delivery worker. It fails only if local storage does.
func (a *Agent) Submit(ctx context.Context, deviceID string, payload []byte) (uint, error) {
	if _, err := a.devices.GetOrCreate(ctx, deviceID); err != nil {
		return 0, pkgerrors.Fatal("device record unavailable", err)
	}

	msg, err := a.messages.Enqueue(ctx, deviceID, payload)
	if err != nil {
		return 0, pkgerrors.Fatal("durable enqueue failed", err)
	}

	if err := a.devices.TouchLastSeen(ctx, deviceID); err != nil {
		logger.Warn("Failed to update device last seen", zap.String("device_id", deviceID), zap.Error(err))
	}

	a.worker.Wake()
	return msg.ID, nil
}

// SubmitScan builds the scan envelope, bumps the device's scan counter
// and submits through the durable queue.
func (a *Agent) SubmitScan(ctx context.Context, deviceID, barcode string, quantity int) (uint, error) {
	if quantity <= 0 {
		quantity = 1
	}

	event := ScanEvent{
		EventID:   uuid.New().String(),
		DeviceID:  deviceID,
		Barcode:   barcode,
		Quantity:  quantity,
		ScannedAt: time.Now().UTC(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("failed to encode scan event: %w", err)
	}

	id, err := a.Submit(ctx, deviceID, payload)
	if err != nil {
		return 0, err
	}

	if err := a.devices.IncrementScanCount(ctx, deviceID, quantity); err != nil {
		logger.Warn("Failed to increment scan counter", zap.String("device_id", deviceID), zap.Error(err))
	}

	return id, nil
}

// Status assembles the observer snapshot.
func (a *Agent) Status(ctx context.Context) (*StatusReport, error) {
	unsent, err := a.messages.TotalUnsent(ctx)
	if err != nil {
		return nil, err
	}

	return &StatusReport{
		Level:       a.indicator.Level(),
		Connection:  a.monitor.Snapshot(),
		Delivery:    a.worker.Metrics().Snapshot(),
		UnsentTotal: unsent,
	}, nil
}

// Device returns the stored record plus queue stats for one device.
func (a *Agent) Device(ctx context.Context, deviceID string) (*device.Device, *message.QueueStats, error) {
	record, err := a.devices.Get(ctx, deviceID)
	if err != nil {
		return nil, nil, err
	}

	stats, err := a.messages.Stats(ctx, deviceID)
	if err != nil {
		return nil, nil, err
	}

	return record, stats, nil
}

// EnsureRegistered exposes on-demand registration to collaborators.
func (a *Agent) EnsureRegistered(ctx context.Context, deviceID string) (string, error) {
	return a.registrar.EnsureRegistered(ctx, deviceID)
}

// ForceReregister is the operator path that rotates a device identity.
func (a *Agent) ForceReregister(ctx context.Context, deviceID string) (string, error) {
	credential, err := a.registrar.ForceReregister(ctx, deviceID)
	if err != nil {
		return "", err
	}
	a.worker.Wake()
	return credential, nil
}

// ClearDeviceFailure is the operator action that un-parks a device the
// registry had permanently rejected.
func (a *Agent) ClearDeviceFailure(ctx context.Context, deviceID string) error {
	if err := a.devices.ClearUnregistrable(ctx, deviceID); err != nil {
		return err
	}
	a.worker.Wake()
	return nil
}
