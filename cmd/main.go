package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"barcode-edge-agent/internal/agent"
	"barcode-edge-agent/internal/api"
	"barcode-edge-agent/internal/config"
	"barcode-edge-agent/internal/connectivity"
	"barcode-edge-agent/internal/delivery"
	"barcode-edge-agent/internal/heartbeat"
	"barcode-edge-agent/internal/hub"
	"barcode-edge-agent/internal/infrastructure/database/sqlite"
	"barcode-edge-agent/internal/logger"
	"barcode-edge-agent/internal/registration"
	"barcode-edge-agent/internal/status"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("Failed to load configuration: " + err.Error() + "\n")
		os.Exit(1)
	}

	env := cfg.Agent.Environment
	if env == "" {
		env = "development"
	}
	if err := logger.Init(env); err != nil {
		os.Stderr.WriteString("Failed to initialize logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting edge agent",
		zap.String("environment", env),
		zap.String("device_id", cfg.Agent.DeviceID),
	)

	if cfg.Agent.DeviceID == "" {
		logger.Fatal("Device id is missing. Please set the DEVICE_ID environment variable.")
	}
	if cfg.Hub.BrokerURL == "" || cfg.Registry.BaseURL == "" {
		logger.Fatal("Hub and registry endpoints are missing. Please set HUB_BROKER_URL and REGISTRY_BASE_URL.")
	}

	// Local storage failure is fatal; the agent must not run while
	// pretending enqueues are durable.
	db, err := sqlite.NewDB(cfg)
	if err != nil {
		logger.Fatal("Failed to open local store", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("Failed to close local store", zap.Error(err))
		}
	}()

	devices := sqlite.NewDeviceRepository(db)
	messages := sqlite.NewMessageRepository(db)

	hubProber, err := connectivity.NewBrokerProber(cfg.Hub.BrokerURL)
	if err != nil {
		logger.Fatal("Invalid hub broker url", zap.Error(err))
	}
	networkProbers := make([]connectivity.Prober, 0, len(cfg.Probe.NetworkTargets))
	for _, target := range cfg.Probe.NetworkTargets {
		networkProbers = append(networkProbers, connectivity.NewTCPProber(target))
	}
	monitor := connectivity.NewMonitor(networkProbers, hubProber, cfg.Probe.Interval, cfg.Probe.Timeout)

	registry := registration.NewHTTPRegistryClient(cfg.Registry)
	registrar := registration.NewService(devices, registry)

	hubClient := hub.NewMQTTClient(cfg.Hub)

	worker := delivery.NewWorker(devices, messages, registrar, hubClient, monitor, delivery.Options{
		Interval:             cfg.Delivery.Interval,
		BatchSize:            cfg.Delivery.BatchSize,
		MaxConcurrentDevices: cfg.Delivery.MaxConcurrentDevices,
		BackoffBase:          cfg.Delivery.BackoffBase,
		BackoffMax:           cfg.Delivery.BackoffMax,
		MaxPayloadAttempts:   cfg.Delivery.MaxPayloadAttempts,
	})

	indicator := status.NewIndicator(func(level status.Level) {
		// The physical sink (LED, UI badge) plugs in here; the log
		// line doubles as the default sink.
		logger.Info("Indicator", zap.String("level", string(level)))
	})

	edgeAgent := agent.New(devices, messages, registrar, worker, monitor, indicator)
	edgeAgent.Start()

	heartbeatCtx, cancelHeartbeat := context.WithCancel(context.Background())
	defer cancelHeartbeat()
	if cfg.Heartbeat.Enabled {
		hb := heartbeat.NewService(cfg.Agent.DeviceID, cfg.Heartbeat.Interval, edgeAgent, func() string {
			return string(indicator.Level())
		})
		go hb.Run(heartbeatCtx)
	}

	router := api.SetupRouter(cfg, edgeAgent)
	addr := net.JoinHostPort(cfg.Server.Host, cfg.Server.Port)

	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Device API starting",
			zap.String("address", addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start device API", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down ...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Failed to shut down device API", zap.Error(err))
	}

	cancelHeartbeat()
	edgeAgent.Stop()
	logger.Info("Edge agent exited")
}
