package delivery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"barcode-edge-agent/internal/connectivity"
	"barcode-edge-agent/internal/domain/device"
	"barcode-edge-agent/internal/domain/message"
	"barcode-edge-agent/internal/hub"
	"barcode-edge-agent/internal/logger"
	pkgerrors "barcode-edge-agent/pkg/errors"

	"go.uber.org/zap"
)

// Registrar resolves a device's hub credential, registering on demand.
type Registrar interface {
	EnsureRegistered(ctx context.Context, deviceID string) (string, error)
}

// ConnectionSource exposes the monitor's current snapshot.
type ConnectionSource interface {
	Snapshot() connectivity.Snapshot
}

// Options tunes the worker loop.
type Options struct {
	Interval             time.Duration
	BatchSize            int
	MaxConcurrentDevices int
	BackoffBase          time.Duration
	BackoffMax           time.Duration
	MaxPayloadAttempts   int
}

type backoffState struct {
	failures    int
	nextAttempt time.Time
}

// Worker drains the durable queue in the background: one drain at a
// time per device, FIFO within a device, bounded concurrency across
// devices.
type Worker struct {
	devices    device.Repository
	messages   message.Repository
	registrar  Registrar
	hubClient  hub.Client
	connection ConnectionSource
	opts       Options

	wake    chan struct{}
	metrics *MetricsTracker

	mu       sync.Mutex
	inflight map[string]bool
	backoff  map[string]backoffState

	drains sync.WaitGroup
	sem    chan struct{}
}

func NewWorker(
	devices device.Repository,
	messages message.Repository,
	registrar Registrar,
	hubClient hub.Client,
	connection ConnectionSource,
	opts Options,
) *Worker {
	return &Worker{
		devices:    devices,
		messages:   messages,
		registrar:  registrar,
		hubClient:  hubClient,
		connection: connection,
		opts:       opts,
		wake:       make(chan struct{}, 1),
		metrics:    NewMetricsTracker(),
		inflight:   make(map[string]bool),
		backoff:    make(map[string]backoffState),
		sem:        make(chan struct{}, opts.MaxConcurrentDevices),
	}
}

// Wake nudges the worker outside its timer: new submission or
// connectivity restored. Signals coalesce; Wake never blocks.
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Metrics returns the worker's metrics tracker.
func (w *Worker) Metrics() *MetricsTracker {
	return w.metrics
}

// Run executes the drain loop until ctx is cancelled, then waits for
// in-flight device drains to finish their bounded sends.
func (w *Worker) Run(ctx context.Context) {
	logger.Info("Delivery worker started",
		zap.Duration("interval", w.opts.Interval),
		zap.Int("batch_size", w.opts.BatchSize),
	)

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.drainPass(ctx)
		case <-w.wake:
			w.drainPass(ctx)
		case <-ctx.Done():
			w.drains.Wait()
			logger.Info("Delivery worker stopped")
			return
		}
	}
}

// drainPass sweeps every device with pending messages. Devices still
// inside their backoff window, or already being drained, are skipped.
func (w *Worker) drainPass(ctx context.Context) {
	if w.connection.Snapshot().State != connectivity.StateOnline {
		return
	}

	deviceIDs, err := w.messages.DevicesWithUnsent(ctx)
	if err != nil {
		logger.Error("Failed to list devices with pending messages", zap.Error(err))
		return
	}

	for _, deviceID := range deviceIDs {
		if ctx.Err() != nil {
			return
		}
		if !w.claim(deviceID) {
			continue
		}

		select {
		case w.sem <- struct{}{}:
		case <-ctx.Done():
			w.release(deviceID)
			return
		}

		w.drains.Add(1)
		go func(id string) {
			defer w.drains.Done()
			defer func() { <-w.sem }()
			defer w.release(id)
			w.drainDevice(ctx, id)
		}(deviceID)
	}
}

// claim enforces the single-writer-per-device invariant and the
// per-device backoff window.
func (w *Worker) claim(deviceID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.inflight[deviceID] {
		return false
	}
	if state, ok := w.backoff[deviceID]; ok && time.Now().Before(state.nextAttempt) {
		return false
	}

	w.inflight[deviceID] = true
	return true
}

func (w *Worker) release(deviceID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.inflight, deviceID)
}

func (w *Worker) drainDevice(ctx context.Context, deviceID string) {
	log := logger.WithDevice(deviceID)

	record, err := w.devices.Get(ctx, deviceID)
	if err != nil {
		log.Error("Device lookup failed before drain", zap.Error(err))
		return
	}
	if !record.Deliverable() {
		return
	}

	credential, err := w.registrar.EnsureRegistered(ctx, deviceID)
	if err != nil {
		w.handleRegistrationError(ctx, deviceID, err)
		return
	}

	session, err := w.hubClient.Connect(ctx, deviceID, credential)
	if err != nil {
		log.Warn("Hub connect failed", zap.Error(err))
		w.recordDeviceFailure(deviceID, err)
		return
	}
	defer session.Close()

	pending, err := w.messages.Unsent(ctx, deviceID, w.opts.BatchSize)
	if err != nil {
		log.Error("Failed to load pending messages", zap.Error(err))
		return
	}

	for _, msg := range pending {
		if ctx.Err() != nil {
			return
		}

		if done := w.sendOne(ctx, log, session, msg); !done {
			return
		}
	}

	w.resetBackoff(deviceID)
	w.metrics.Update(func(m *Metrics) {
		m.LastSuccessAt = time.Now().UTC()
	})
}

// sendOne attempts one message. It reports false when the device's pass
// must stop: a transient failure, or a payload rejection that has not
// yet exhausted its attempt budget. Skipping a failed message to send a
// later one would break per-device ordering.
func (w *Worker) sendOne(ctx context.Context, log *zap.Logger, session hub.Session, msg *message.Message) bool {
	err := session.Send(ctx, msg.Payload)
	if err == nil {
		if markErr := w.messages.MarkSent(ctx, msg.ID); markErr != nil {
			log.Error("Failed to mark message sent", zap.Uint("message_id", msg.ID), zap.Error(markErr))
			return false
		}
		w.metrics.Update(func(m *Metrics) {
			m.Delivered++
		})
		return true
	}

	if pkgerrors.IsPermanentPayload(err) {
		if msg.Attempts+1 >= w.opts.MaxPayloadAttempts {
			log.Warn("Poison message flagged",
				zap.Uint("message_id", msg.ID),
				zap.Int("attempts", msg.Attempts+1),
				zap.Error(err),
			)
			if poisonErr := w.messages.MarkPoisoned(ctx, msg.ID, err.Error()); poisonErr != nil {
				log.Error("Failed to mark message poisoned", zap.Uint("message_id", msg.ID), zap.Error(poisonErr))
				return false
			}
			w.metrics.Update(func(m *Metrics) {
				m.Poisoned++
			})
			// The queue must not stay blocked behind a poison
			// message; move on to the next one.
			return true
		}

		if recErr := w.messages.RecordFailure(ctx, msg.ID, err.Error()); recErr != nil {
			log.Error("Failed to record delivery failure", zap.Uint("message_id", msg.ID), zap.Error(recErr))
		}
		w.recordDeviceFailure(msg.DeviceID, err)
		return false
	}

	log.Warn("Hub send failed, leaving message queued",
		zap.Uint("message_id", msg.ID),
		zap.Error(err),
	)
	if recErr := w.messages.RecordFailure(ctx, msg.ID, err.Error()); recErr != nil {
		log.Error("Failed to record delivery failure", zap.Uint("message_id", msg.ID), zap.Error(recErr))
	}
	w.recordDeviceFailure(msg.DeviceID, err)
	return false
}

func (w *Worker) handleRegistrationError(ctx context.Context, deviceID string, err error) {
	log := logger.WithDevice(deviceID)

	if pkgerrors.IsPermanentDevice(err) {
		log.Error("Registry permanently rejected device, parking it", zap.Error(err))
		if markErr := w.devices.MarkUnregistrable(ctx, deviceID, err.Error()); markErr != nil {
			log.Error("Failed to park unregistrable device", zap.Error(markErr))
		}
		w.metrics.Update(func(m *Metrics) {
			m.DevicesParked++
			m.LastFailureAt = time.Now().UTC()
			m.LastError = err.Error()
		})
		return
	}

	log.Warn("Registration not possible yet, will retry", zap.Error(err))
	w.recordDeviceFailure(deviceID, err)
}

// recordDeviceFailure bumps the device's exponential backoff window so
// a failing device is not hammered on every wake.
func (w *Worker) recordDeviceFailure(deviceID string, cause error) {
	w.mu.Lock()
	state := w.backoff[deviceID]
	state.failures++

	delay := w.opts.BackoffBase << uint(state.failures-1)
	if delay > w.opts.BackoffMax || delay <= 0 {
		delay = w.opts.BackoffMax
	}
	state.nextAttempt = time.Now().Add(delay)
	w.backoff[deviceID] = state
	w.mu.Unlock()

	w.metrics.Update(func(m *Metrics) {
		m.TransientFailures++
		m.LastFailureAt = time.Now().UTC()
		m.LastError = fmt.Sprintf("%s: %v", deviceID, cause)
	})
}

func (w *Worker) resetBackoff(deviceID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.backoff, deviceID)
}
