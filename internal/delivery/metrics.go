package delivery

import (
	"sync"
	"time"
)

// Metrics tracks delivery outcomes, including the recency signals the
// status indicator projects from.
type Metrics struct {
	Delivered         int64
	TransientFailures int64
	Poisoned          int64
	DevicesParked     int64
	LastSuccessAt     time.Time
	LastFailureAt     time.Time
	LastError         string
}

// Failing reports whether the most recent delivery activity ended in
// failure.
func (m Metrics) Failing() bool {
	if m.LastFailureAt.IsZero() {
		return false
	}
	return m.LastFailureAt.After(m.LastSuccessAt)
}

// MetricsTracker provides a goroutine-safe wrapper around Metrics.
type MetricsTracker struct {
	mu        sync.RWMutex
	metrics   Metrics
	listeners []func(Metrics)
}

// NewMetricsTracker builds a new tracker with zeroed metrics.
func NewMetricsTracker() *MetricsTracker {
	return &MetricsTracker{}
}

// Update applies a mutation in a thread-safe way.
func (t *MetricsTracker) Update(fn func(*Metrics)) {
	if fn == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	fn(&t.metrics)
	snapshot := t.metrics
	for _, listener := range t.listeners {
		listener(snapshot)
	}
}

// Snapshot returns a copy of the current metrics.
func (t *MetricsTracker) Snapshot() Metrics {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.metrics
}

// OnChange registers a callback invoked whenever metrics are updated.
func (t *MetricsTracker) OnChange(listener func(Metrics)) {
	if listener == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, listener)
}
