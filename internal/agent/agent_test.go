package agent

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"barcode-edge-agent/internal/config"
	"barcode-edge-agent/internal/connectivity"
	"barcode-edge-agent/internal/delivery"
	"barcode-edge-agent/internal/hub"
	"barcode-edge-agent/internal/infrastructure/database/sqlite"
	"barcode-edge-agent/internal/logger"
	"barcode-edge-agent/internal/registration"
	"barcode-edge-agent/internal/status"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	if err := logger.Init("production"); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

// switchProber reports reachable or unreachable depending on a flag,
// simulating the network coming and going.
type switchProber struct {
	mu sync.Mutex
	up bool
}

func (p *switchProber) Probe(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.up {
		return errors.New("unreachable")
	}
	return nil
}

func (p *switchProber) set(up bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.up = up
}

// slowProber hangs until its context deadline, simulating a probe
// timeout against a black-holed network.
type slowProber struct{}

func (slowProber) Probe(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

type memoryRegistry struct {
	mu         sync.Mutex
	identities map[string]string
}

func (r *memoryRegistry) GetIdentity(_ context.Context, deviceID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	credential, ok := r.identities[deviceID]
	if !ok {
		return "", registration.ErrIdentityNotFound
	}
	return credential, nil
}

func (r *memoryRegistry) CreateIdentity(_ context.Context, deviceID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.identities[deviceID]; ok {
		return "", registration.ErrIdentityExists
	}
	credential := "cred-" + deviceID
	r.identities[deviceID] = credential
	return credential, nil
}

func (r *memoryRegistry) RotateIdentity(_ context.Context, deviceID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.identities[deviceID]; !ok {
		return "", registration.ErrIdentityNotFound
	}
	credential := "rotated-" + deviceID
	r.identities[deviceID] = credential
	return credential, nil
}

type recordingHub struct {
	mu   sync.Mutex
	sent [][]byte
}

func (h *recordingHub) Connect(_ context.Context, _, _ string) (hub.Session, error) {
	return &recordingSession{hub: h}, nil
}

func (h *recordingHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sent)
}

type recordingSession struct {
	hub *recordingHub
}

func (s *recordingSession) Send(_ context.Context, payload []byte) error {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	s.hub.sent = append(s.hub.sent, payload)
	return nil
}

func (s *recordingSession) Close() {}

type agentFixture struct {
	agent *Agent
	hub   *recordingHub
}

func newAgentFixture(t *testing.T, networkProber connectivity.Prober, hubProber connectivity.Prober) *agentFixture {
	t.Helper()

	cfg := &config.Config{
		Agent:    config.AgentConfig{Environment: "production"},
		Database: config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "agent.db")},
	}
	db, err := sqlite.NewDB(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})

	devices := sqlite.NewDeviceRepository(db)
	messages := sqlite.NewMessageRepository(db)

	monitor := connectivity.NewMonitor([]connectivity.Prober{networkProber}, hubProber, 20*time.Millisecond, 50*time.Millisecond)
	registrar := registration.NewService(devices, &memoryRegistry{identities: make(map[string]string)})
	recording := &recordingHub{}

	worker := delivery.NewWorker(devices, messages, registrar, recording, monitor, delivery.Options{
		Interval:             20 * time.Millisecond,
		BatchSize:            10,
		MaxConcurrentDevices: 2,
		BackoffBase:          time.Millisecond,
		BackoffMax:           5 * time.Millisecond,
		MaxPayloadAttempts:   2,
	})
	indicator := status.NewIndicator(nil)

	a := New(devices, messages, registrar, worker, monitor, indicator)
	a.Start()
	t.Cleanup(a.Stop)

	return &agentFixture{agent: a, hub: recording}
}

func TestSubmitIsNonBlockingWhileOffline(t *testing.T) {
	// Probes hang until their timeout, the worst case for anything
	// accidentally coupled to network latency.
	f := newAgentFixture(t, slowProber{}, slowProber{})
	ctx := context.Background()

	start := time.Now()
	id, err := f.agent.Submit(ctx, "d1", []byte(`{"n":1}`))
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.NotZero(t, id)
	assert.Less(t, elapsed, 500*time.Millisecond, "submit must not wait on network probes")

	report, err := f.agent.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.UnsentTotal)
}

func TestOfflineBurstDrainsAfterReconnect(t *testing.T) {
	network := &switchProber{up: false}
	hubProbe := &switchProber{up: false}
	f := newAgentFixture(t, network, hubProbe)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := f.agent.SubmitScan(ctx, "d1", "4006381333931", 1)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		report, err := f.agent.Status(ctx)
		require.NoError(t, err)
		return report.Connection.State == connectivity.StateOffline
	}, 2*time.Second, 10*time.Millisecond)

	report, err := f.agent.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), report.UnsentTotal)

	require.Eventually(t, func() bool {
		report, err := f.agent.Status(ctx)
		require.NoError(t, err)
		return report.Level == status.LevelError
	}, 2*time.Second, 10*time.Millisecond)

	network.set(true)
	hubProbe.set(true)

	require.Eventually(t, func() bool {
		report, err := f.agent.Status(ctx)
		require.NoError(t, err)
		return report.UnsentTotal == 0
	}, 3*time.Second, 10*time.Millisecond)

	assert.Equal(t, 5, f.hub.count())

	require.Eventually(t, func() bool {
		report, err := f.agent.Status(ctx)
		require.NoError(t, err)
		return report.Level == status.LevelOnline
	}, 2*time.Second, 10*time.Millisecond)

	// Delivery respected submission order.
	f.hub.mu.Lock()
	defer f.hub.mu.Unlock()
	var previous time.Time
	for _, payload := range f.hub.sent {
		var event ScanEvent
		require.NoError(t, json.Unmarshal(payload, &event))
		assert.False(t, event.ScannedAt.Before(previous))
		previous = event.ScannedAt
	}
}

func TestSubmitScanIncrementsCounter(t *testing.T) {
	network := &switchProber{up: true}
	hubProbe := &switchProber{up: true}
	f := newAgentFixture(t, network, hubProbe)
	ctx := context.Background()

	_, err := f.agent.SubmitScan(ctx, "d1", "4006381333931", 3)
	require.NoError(t, err)
	_, err = f.agent.SubmitScan(ctx, "d1", "5901234123457", 0) // defaults to 1
	require.NoError(t, err)

	record, stats, err := f.agent.Device(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, 4, record.TotalScans)
	assert.Equal(t, int64(2), stats.Unsent+stats.Sent)
}

func TestRegistrationRaceThroughSubmit(t *testing.T) {
	network := &switchProber{up: true}
	hubProbe := &switchProber{up: true}
	f := newAgentFixture(t, network, hubProbe)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.agent.SubmitScan(ctx, "d2", "4006381333931", 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		_, stats, err := f.agent.Device(ctx, "d2")
		require.NoError(t, err)
		return stats.Sent == 2
	}, 3*time.Second, 10*time.Millisecond)

	credential, err := f.agent.EnsureRegistered(ctx, "d2")
	require.NoError(t, err)
	assert.Equal(t, "cred-d2", credential)
}

func TestForceReregisterRotatesCredential(t *testing.T) {
	network := &switchProber{up: true}
	hubProbe := &switchProber{up: true}
	f := newAgentFixture(t, network, hubProbe)
	ctx := context.Background()

	first, err := f.agent.EnsureRegistered(ctx, "d1")
	require.NoError(t, err)

	rotated, err := f.agent.ForceReregister(ctx, "d1")
	require.NoError(t, err)
	assert.NotEqual(t, first, rotated)

	current, err := f.agent.EnsureRegistered(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, rotated, current)
}
