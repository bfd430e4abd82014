package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Agent     AgentConfig
	Server    ServerConfig
	Database  DatabaseConfig
	Probe     ProbeConfig
	Registry  RegistryConfig
	Hub       HubConfig
	Delivery  DeliveryConfig
	Heartbeat HeartbeatConfig
	CORS      CORSConfig
}

type AgentConfig struct {
	DeviceID    string
	Environment string
}

// ServerConfig configures the local device API.
type ServerConfig struct {
	Host string
	Port string
}

type DatabaseConfig struct {
	Path string
}

// ProbeConfig drives the connectivity monitor. NetworkTargets are probed
// first; the network is considered up if any one of them answers.
type ProbeConfig struct {
	NetworkTargets []string
	Interval       time.Duration
	Timeout        time.Duration
}

// RegistryConfig points at the remote device identity registry.
type RegistryConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// HubConfig configures the messaging hub transport.
type HubConfig struct {
	BrokerURL       string
	TopicTemplate   string // expanded with the device id, e.g. devices/%s/events
	ConnectTimeout  time.Duration
	SendTimeout     time.Duration
	MaxPayloadBytes int
}

// DeliveryConfig tunes the background delivery worker.
type DeliveryConfig struct {
	Interval             time.Duration
	BatchSize            int
	MaxConcurrentDevices int
	BackoffBase          time.Duration
	BackoffMax           time.Duration
	MaxPayloadAttempts   int
}

type HeartbeatConfig struct {
	Enabled  bool
	Interval time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

func Load() (*Config, error) {
	viper.SetConfigFile(".env")
	viper.AddConfigPath(".")
	if homeDir, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(homeDir)
	}
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			if _, statErr := os.Stat(".env"); !os.IsNotExist(statErr) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
		log.Printf("Warning: config file not found: %v. Falling back to environment variables only.", err)
	}

	config := &Config{
		Agent: AgentConfig{
			DeviceID:    viper.GetString("DEVICE_ID"),
			Environment: viper.GetString("ENVIRONMENT"),
		},
		Server: ServerConfig{
			Host: viper.GetString("SERVER_HOST"),
			Port: viper.GetString("SERVER_PORT"),
		},
		Database: DatabaseConfig{
			Path: viper.GetString("DB_PATH"),
		},
		Probe: ProbeConfig{
			NetworkTargets: viper.GetStringSlice("PROBE_NETWORK_TARGETS"),
			Interval:       viper.GetDuration("PROBE_INTERVAL"),
			Timeout:        viper.GetDuration("PROBE_TIMEOUT"),
		},
		Registry: RegistryConfig{
			BaseURL: viper.GetString("REGISTRY_BASE_URL"),
			APIKey:  viper.GetString("REGISTRY_API_KEY"),
			Timeout: viper.GetDuration("REGISTRY_TIMEOUT"),
		},
		Hub: HubConfig{
			BrokerURL:       viper.GetString("HUB_BROKER_URL"),
			TopicTemplate:   viper.GetString("HUB_TOPIC_TEMPLATE"),
			ConnectTimeout:  viper.GetDuration("HUB_CONNECT_TIMEOUT"),
			SendTimeout:     viper.GetDuration("HUB_SEND_TIMEOUT"),
			MaxPayloadBytes: viper.GetInt("HUB_MAX_PAYLOAD_BYTES"),
		},
		Delivery: DeliveryConfig{
			Interval:             viper.GetDuration("DELIVERY_INTERVAL"),
			BatchSize:            viper.GetInt("DELIVERY_BATCH_SIZE"),
			MaxConcurrentDevices: viper.GetInt("DELIVERY_MAX_CONCURRENT_DEVICES"),
			BackoffBase:          viper.GetDuration("DELIVERY_BACKOFF_BASE"),
			BackoffMax:           viper.GetDuration("DELIVERY_BACKOFF_MAX"),
			MaxPayloadAttempts:   viper.GetInt("DELIVERY_MAX_PAYLOAD_ATTEMPTS"),
		},
		Heartbeat: HeartbeatConfig{
			Enabled:  viper.GetBool("HEARTBEAT_ENABLED"),
			Interval: viper.GetDuration("HEARTBEAT_INTERVAL"),
		},
		CORS: CORSConfig{
			AllowedOrigins: viper.GetStringSlice("CORS_ALLOWED_ORIGINS"),
			AllowedMethods: viper.GetStringSlice("CORS_ALLOWED_METHODS"),
			AllowedHeaders: viper.GetStringSlice("CORS_ALLOWED_HEADERS"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func setDefaults() {
	viper.SetDefault("ENVIRONMENT", "development")
	viper.SetDefault("SERVER_HOST", "127.0.0.1")
	viper.SetDefault("SERVER_PORT", "8090")
	viper.SetDefault("DB_PATH", "barcode_edge_agent.db")
	viper.SetDefault("PROBE_NETWORK_TARGETS", []string{"8.8.8.8:53", "1.1.1.1:53"})
	viper.SetDefault("PROBE_INTERVAL", "10s")
	viper.SetDefault("PROBE_TIMEOUT", "3s")
	viper.SetDefault("REGISTRY_TIMEOUT", "10s")
	viper.SetDefault("HUB_TOPIC_TEMPLATE", "devices/%s/events")
	viper.SetDefault("HUB_CONNECT_TIMEOUT", "10s")
	viper.SetDefault("HUB_SEND_TIMEOUT", "10s")
	viper.SetDefault("HUB_MAX_PAYLOAD_BYTES", 262144)
	viper.SetDefault("DELIVERY_INTERVAL", "30s")
	viper.SetDefault("DELIVERY_BATCH_SIZE", 50)
	viper.SetDefault("DELIVERY_MAX_CONCURRENT_DEVICES", 4)
	viper.SetDefault("DELIVERY_BACKOFF_BASE", "5s")
	viper.SetDefault("DELIVERY_BACKOFF_MAX", "5m")
	viper.SetDefault("DELIVERY_MAX_PAYLOAD_ATTEMPTS", 3)
	viper.SetDefault("HEARTBEAT_ENABLED", true)
	viper.SetDefault("HEARTBEAT_INTERVAL", "60s")
	viper.SetDefault("CORS_ALLOWED_ORIGINS", []string{"*"})
	viper.SetDefault("CORS_ALLOWED_METHODS", []string{"GET", "POST", "OPTIONS"})
	viper.SetDefault("CORS_ALLOWED_HEADERS", []string{"Content-Type", "X-Request-ID"})
}

// Validate checks every recognized option once at construction so nothing
// is read ad hoc mid-operation.
func (c *Config) Validate() error {
	if len(c.Probe.NetworkTargets) == 0 {
		return errors.New("at least one network probe target is required")
	}
	for _, target := range c.Probe.NetworkTargets {
		if !strings.Contains(target, ":") {
			return fmt.Errorf("probe target %q must be host:port", target)
		}
	}
	if c.Probe.Interval <= 0 || c.Probe.Timeout <= 0 {
		return errors.New("probe interval and timeout must be positive")
	}
	if c.Hub.TopicTemplate == "" || !strings.Contains(c.Hub.TopicTemplate, "%s") {
		return errors.New("hub topic template must contain a %s device id placeholder")
	}
	if c.Hub.ConnectTimeout <= 0 || c.Hub.SendTimeout <= 0 {
		return errors.New("hub timeouts must be positive")
	}
	if c.Hub.MaxPayloadBytes <= 0 {
		return errors.New("hub max payload size must be positive")
	}
	if c.Delivery.Interval <= 0 {
		return errors.New("delivery interval must be positive")
	}
	if c.Delivery.BatchSize <= 0 {
		return errors.New("delivery batch size must be positive")
	}
	if c.Delivery.MaxConcurrentDevices <= 0 {
		return errors.New("delivery device concurrency must be positive")
	}
	if c.Delivery.BackoffBase <= 0 || c.Delivery.BackoffMax < c.Delivery.BackoffBase {
		return errors.New("delivery backoff range is invalid")
	}
	if c.Delivery.MaxPayloadAttempts <= 0 {
		return errors.New("delivery max payload attempts must be positive")
	}
	if c.Heartbeat.Enabled && c.Heartbeat.Interval <= 0 {
		return errors.New("heartbeat interval must be positive when heartbeat is enabled")
	}
	return nil
}
