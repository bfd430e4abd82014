package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"barcode-edge-agent/internal/agent"
	"barcode-edge-agent/internal/config"
	"barcode-edge-agent/internal/connectivity"
	"barcode-edge-agent/internal/delivery"
	"barcode-edge-agent/internal/hub"
	"barcode-edge-agent/internal/infrastructure/database/sqlite"
	"barcode-edge-agent/internal/logger"
	"barcode-edge-agent/internal/registration"
	"barcode-edge-agent/internal/status"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	if err := logger.Init("production"); err != nil {
		panic(err)
	}
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type stubProber struct{}

func (stubProber) Probe(_ context.Context) error { return nil }

type stubRegistry struct {
	mu         sync.Mutex
	identities map[string]string
}

func (r *stubRegistry) GetIdentity(_ context.Context, deviceID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	credential, ok := r.identities[deviceID]
	if !ok {
		return "", registration.ErrIdentityNotFound
	}
	return credential, nil
}

func (r *stubRegistry) CreateIdentity(_ context.Context, deviceID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	credential := "cred-" + deviceID
	r.identities[deviceID] = credential
	return credential, nil
}

func (r *stubRegistry) RotateIdentity(_ context.Context, deviceID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	credential := "rotated-" + deviceID
	r.identities[deviceID] = credential
	return credential, nil
}

type stubHub struct{}

func (stubHub) Connect(_ context.Context, _, _ string) (hub.Session, error) {
	return stubSession{}, nil
}

type stubSession struct{}

func (stubSession) Send(_ context.Context, _ []byte) error { return nil }

func (stubSession) Close() {}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()

	cfg := &config.Config{
		Agent:    config.AgentConfig{Environment: "test"},
		Database: config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "api.db")},
		CORS: config.CORSConfig{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST"},
			AllowedHeaders: []string{"Content-Type"},
		},
	}
	db, err := sqlite.NewDB(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})

	devices := sqlite.NewDeviceRepository(db)
	messages := sqlite.NewMessageRepository(db)

	monitor := connectivity.NewMonitor([]connectivity.Prober{stubProber{}}, stubProber{}, time.Hour, time.Second)
	registrar := registration.NewService(devices, &stubRegistry{identities: make(map[string]string)})
	worker := delivery.NewWorker(devices, messages, registrar, stubHub{}, monitor, delivery.Options{
		Interval:             time.Hour,
		BatchSize:            10,
		MaxConcurrentDevices: 1,
		BackoffBase:          time.Millisecond,
		BackoffMax:           time.Millisecond,
		MaxPayloadAttempts:   2,
	})

	a := agent.New(devices, messages, registrar, worker, monitor, status.NewIndicator(nil))

	return SetupRouter(cfg, a)
}

func perform(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		encoded, _ := json.Marshal(body)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	return recorder
}

func TestSubmitScanAccepted(t *testing.T) {
	router := newTestRouter(t)

	recorder := perform(router, http.MethodPost, "/api/v1/scans", gin.H{
		"device_id": "pos-7",
		"barcode":   "4006381333931",
		"quantity":  2,
	})

	require.Equal(t, http.StatusAccepted, recorder.Code)

	var response struct {
		MessageID uint   `json:"message_id"`
		DeviceID  string `json:"device_id"`
		Queued    bool   `json:"queued"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	assert.NotZero(t, response.MessageID)
	assert.Equal(t, "pos-7", response.DeviceID)
	assert.True(t, response.Queued)
}

func TestSubmitScanValidation(t *testing.T) {
	router := newTestRouter(t)

	tests := []struct {
		name string
		body gin.H
	}{
		{name: "missing device id", body: gin.H{"barcode": "4006381333931"}},
		{name: "missing barcode", body: gin.H{"device_id": "pos-7"}},
		{name: "negative quantity", body: gin.H{"device_id": "pos-7", "barcode": "4006381333931", "quantity": -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := perform(router, http.MethodPost, "/api/v1/scans", tt.body)
			assert.Equal(t, http.StatusBadRequest, recorder.Code)
		})
	}
}

func TestStatusEndpoint(t *testing.T) {
	router := newTestRouter(t)

	perform(router, http.MethodPost, "/api/v1/scans", gin.H{
		"device_id": "pos-7",
		"barcode":   "4006381333931",
	})

	recorder := perform(router, http.MethodGet, "/api/v1/status", nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	var report struct {
		Level       string `json:"level"`
		UnsentTotal int64  `json:"unsent_total"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &report))
	assert.Equal(t, "connecting", report.Level)
	assert.Equal(t, int64(1), report.UnsentTotal)
}

func TestDeviceEndpoint(t *testing.T) {
	router := newTestRouter(t)

	perform(router, http.MethodPost, "/api/v1/scans", gin.H{
		"device_id": "pos-7",
		"barcode":   "4006381333931",
	})

	recorder := perform(router, http.MethodGet, "/api/v1/devices/pos-7", nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	var response struct {
		DeviceID    string `json:"device_id"`
		Registered  bool   `json:"registered"`
		TotalScans  int    `json:"total_scans"`
		QueueUnsent int64  `json:"queue_unsent"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	assert.Equal(t, "pos-7", response.DeviceID)
	assert.False(t, response.Registered)
	assert.Equal(t, 1, response.TotalScans)
	assert.Equal(t, int64(1), response.QueueUnsent)
}

func TestDeviceNotFound(t *testing.T) {
	router := newTestRouter(t)

	recorder := perform(router, http.MethodGet, "/api/v1/devices/unknown", nil)
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestReregisterEndpoint(t *testing.T) {
	router := newTestRouter(t)

	perform(router, http.MethodPost, "/api/v1/scans", gin.H{
		"device_id": "pos-7",
		"barcode":   "4006381333931",
	})

	recorder := perform(router, http.MethodPost, "/api/v1/devices/pos-7/reregister", nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	recorder = perform(router, http.MethodGet, "/api/v1/devices/pos-7", nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	var response struct {
		Registered bool `json:"registered"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	assert.True(t, response.Registered)
}

func TestClearFailureEndpoint(t *testing.T) {
	router := newTestRouter(t)

	perform(router, http.MethodPost, "/api/v1/scans", gin.H{
		"device_id": "pos-7",
		"barcode":   "4006381333931",
	})

	recorder := perform(router, http.MethodPost, "/api/v1/devices/pos-7/clear", nil)
	assert.Equal(t, http.StatusOK, recorder.Code)

	recorder = perform(router, http.MethodPost, "/api/v1/devices/unknown/clear", nil)
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}