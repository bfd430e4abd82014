package connectivity

import (
	"context"
	"sync"
	"time"

	"barcode-edge-agent/internal/logger"

	"go.uber.org/zap"
)

// State is the monitor's tri-state connection signal.
type State string

const (
	// StateUnknown holds until the first probe cycle completes.
	StateUnknown State = "unknown"

	// StateOffline means no network-layer reachability at all.
	StateOffline State = "offline"

	// StateDegraded means the network answers but the hub does not.
	StateDegraded State = "degraded"

	// StateOnline means both network and hub are reachable.
	StateOnline State = "online"
)

// Snapshot is a point-in-time copy of the connection state. The monitor
// is the single writer; everyone else reads snapshots.
type Snapshot struct {
	State         State
	NetworkUp     bool
	HubReachable  bool
	LastCheckedAt time.Time
}

// Listener receives de-duplicated state transitions. Listeners are
// invoked on their own goroutine and must not be waited on.
type Listener func(previous, current State)

// Monitor periodically probes network reachability and hub reachability
// and publishes a tri-state connection signal.
type Monitor struct {
	network  []Prober
	hub      Prober
	interval time.Duration
	timeout  time.Duration

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []Listener
}

func NewMonitor(network []Prober, hub Prober, interval, timeout time.Duration) *Monitor {
	return &Monitor{
		network:  network,
		hub:      hub,
		interval: interval,
		timeout:  timeout,
		snapshot: Snapshot{State: StateUnknown},
	}
}

// OnTransition registers a listener for state changes. Registration must
// happen before Run starts.
func (m *Monitor) OnTransition(listener Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, listener)
}

// Snapshot returns a copy of the current connection state.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

// Run executes the probe loop until ctx is cancelled. Probe failures are
// state, not errors; the loop never exits early because of them.
func (m *Monitor) Run(ctx context.Context) {
	logger.Info("Connectivity monitor started",
		zap.Duration("interval", m.interval),
		zap.Duration("timeout", m.timeout),
	)

	m.tick(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.tick(ctx)
		case <-ctx.Done():
			logger.Info("Connectivity monitor stopped")
			return
		}
	}
}

// ForceCheck runs one probe cycle outside the timer, for callers that
// need a fresh reading (e.g. the status API).
func (m *Monitor) ForceCheck(ctx context.Context) Snapshot {
	m.tick(ctx)
	return m.Snapshot()
}

func (m *Monitor) tick(ctx context.Context) {
	networkUp := m.probeNetwork(ctx)

	hubReachable := false
	if networkUp {
		hubReachable = m.probeHub(ctx)
	}

	state := StateOffline
	switch {
	case networkUp && hubReachable:
		state = StateOnline
	case networkUp:
		state = StateDegraded
	}

	m.publish(Snapshot{
		State:         state,
		NetworkUp:     networkUp,
		HubReachable:  hubReachable,
		LastCheckedAt: time.Now().UTC(),
	})
}

// probeNetwork checks the independent well-known targets; one answer is
// enough, so a single misbehaving target can't fake an outage.
func (m *Monitor) probeNetwork(ctx context.Context) bool {
	for _, prober := range m.network {
		probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
		err := prober.Probe(probeCtx)
		cancel()

		if err == nil {
			return true
		}
		logger.Debug("Network probe failed", zap.Error(err))
	}

	return false
}

func (m *Monitor) probeHub(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if err := m.hub.Probe(probeCtx); err != nil {
		logger.Debug("Hub probe failed", zap.Error(err))
		return false
	}

	return true
}

func (m *Monitor) publish(next Snapshot) {
	m.mu.Lock()
	previous := m.snapshot.State
	m.snapshot = next
	listeners := m.listeners
	m.mu.Unlock()

	if previous == next.State {
		return
	}

	logger.Info("Connectivity state changed",
		zap.String("from", string(previous)),
		zap.String("to", string(next.State)),
	)

	for _, listener := range listeners {
		go listener(previous, next.State)
	}
}
