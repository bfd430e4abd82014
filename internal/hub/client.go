package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"barcode-edge-agent/internal/config"
	"barcode-edge-agent/internal/logger"
	pkgerrors "barcode-edge-agent/pkg/errors"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Client opens per-device sessions to the messaging hub. No retry logic
// lives here; retries belong to the delivery worker.
type Client interface {
	Connect(ctx context.Context, deviceID, credential string) (Session, error)
}

// Session is one authenticated transport session. Send failures carry
// the pkg/errors taxonomy so the caller can tell a transport drop from
// a payload the hub refuses.
type Session interface {
	Send(ctx context.Context, payload []byte) error
	Close()
}

// MQTTClient is the production hub transport over MQTT.
type MQTTClient struct {
	cfg config.HubConfig
}

func NewMQTTClient(cfg config.HubConfig) *MQTTClient {
	return &MQTTClient{cfg: cfg}
}

func (c *MQTTClient) Connect(ctx context.Context, deviceID, credential string) (Session, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(c.cfg.BrokerURL)
	opts.SetClientID(deviceID)
	opts.SetUsername(deviceID)
	opts.SetPassword(credential)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(c.cfg.ConnectTimeout)
	// The delivery worker owns reconnection; an auto-reconnecting
	// session would hide transport failures from it.
	opts.SetAutoReconnect(false)

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("Hub session lost",
			zap.String("device_id", deviceID),
			zap.Error(err),
		)
	})

	client := mqtt.NewClient(opts)

	token := client.Connect()
	if !token.WaitTimeout(c.cfg.ConnectTimeout) {
		client.Disconnect(0)
		return nil, pkgerrors.Transient("hub connect timed out", ctx.Err())
	}
	if err := token.Error(); err != nil {
		return nil, pkgerrors.Transient("hub connect failed", err)
	}

	return &mqttSession{
		client:   client,
		topic:    fmt.Sprintf(c.cfg.TopicTemplate, deviceID),
		cfg:      c.cfg,
		deviceID: deviceID,
	}, nil
}

type mqttSession struct {
	client   mqtt.Client
	topic    string
	cfg      config.HubConfig
	deviceID string
}

func (s *mqttSession) Send(ctx context.Context, payload []byte) error {
	if err := s.validate(payload); err != nil {
		return err
	}

	token := s.client.Publish(s.topic, 1, false, payload)
	if !token.WaitTimeout(s.cfg.SendTimeout) {
		return pkgerrors.Transient("hub send timed out", ctx.Err())
	}
	if err := token.Error(); err != nil {
		return pkgerrors.Transient("hub send failed", err)
	}

	return nil
}

// validate enforces the hub's payload contract locally: the hub drops
// oversize and non-JSON bodies no matter how often they are retried, so
// they are reported as poison instead of transport failures.
func (s *mqttSession) validate(payload []byte) error {
	if len(payload) > s.cfg.MaxPayloadBytes {
		return pkgerrors.PermanentPayload(
			fmt.Sprintf("payload of %d bytes exceeds hub limit of %d", len(payload), s.cfg.MaxPayloadBytes), nil)
	}
	if !utf8.Valid(payload) || !json.Valid(payload) {
		return pkgerrors.PermanentPayload("payload is not valid JSON", nil)
	}
	return nil
}

func (s *mqttSession) Close() {
	s.client.Disconnect(250)
}
