package status

import (
	"sync"

	"barcode-edge-agent/internal/connectivity"
	"barcode-edge-agent/internal/delivery"
	"barcode-edge-agent/internal/logger"

	"go.uber.org/zap"
)

// Level is the small enumerated status a physical or UI indicator
// consumes. The values match the original LED states of the device.
type Level string

const (
	LevelConnecting Level = "connecting"
	LevelOnline     Level = "online"
	LevelDegraded   Level = "degraded"
	LevelError      Level = "error"
)

// Sink receives status transitions. It must return quickly; the
// indicator notifies it fire-and-forget.
type Sink func(level Level)

// Compute is the pure projection from (connection state, recent
// delivery outcome) onto an indicator level.
func Compute(conn connectivity.Snapshot, metrics delivery.Metrics) Level {
	switch conn.State {
	case connectivity.StateUnknown:
		return LevelConnecting
	case connectivity.StateOffline:
		return LevelError
	case connectivity.StateDegraded:
		return LevelDegraded
	}

	if metrics.Failing() {
		return LevelDegraded
	}

	return LevelOnline
}

// Indicator observes the monitor and the delivery worker and pushes
// de-duplicated levels to the sink. It holds no business logic.
type Indicator struct {
	sink Sink

	mu      sync.Mutex
	conn    connectivity.Snapshot
	metrics delivery.Metrics
	level   Level
}

func NewIndicator(sink Sink) *Indicator {
	return &Indicator{
		sink:  sink,
		conn:  connectivity.Snapshot{State: connectivity.StateUnknown},
		level: LevelConnecting,
	}
}

// Attach subscribes the indicator to its two inputs.
func (i *Indicator) Attach(monitor *connectivity.Monitor, worker *delivery.Worker) {
	monitor.OnTransition(func(_, _ connectivity.State) {
		i.ObserveConnection(monitor.Snapshot())
	})
	worker.Metrics().OnChange(func(m delivery.Metrics) {
		i.ObserveDelivery(m)
	})
}

// ObserveConnection feeds a fresh connectivity snapshot.
func (i *Indicator) ObserveConnection(conn connectivity.Snapshot) {
	i.mu.Lock()
	i.conn = conn
	i.mu.Unlock()
	i.recompute()
}

// ObserveDelivery feeds fresh delivery metrics.
func (i *Indicator) ObserveDelivery(metrics delivery.Metrics) {
	i.mu.Lock()
	i.metrics = metrics
	i.mu.Unlock()
	i.recompute()
}

// Level returns the current indicator level.
func (i *Indicator) Level() Level {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.level
}

func (i *Indicator) recompute() {
	i.mu.Lock()
	next := Compute(i.conn, i.metrics)
	changed := next != i.level
	i.level = next
	sink := i.sink
	i.mu.Unlock()

	if !changed {
		return
	}

	logger.Info("Status indicator changed",
		zap.String("level", string(next)),
	)

	if sink != nil {
		// Fire and forget so a slow sink can never block the
		// monitor or the worker.
		go sink(next)
	}
}
