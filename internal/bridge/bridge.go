package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kwilde42/shadow-core/internal/infrastructure/mqtt"
	"github.com/kwilde42/shadow-core/internal/shadow"
)

// originMQTT tags mutations that arrived over the broker so fan-out layers
// can tell device writes from application writes. MQTT has no per-connection
// identity, so all broker writes share one origin.
const originMQTT = "mqtt-bridge"

// MQTTClient is the broker surface the bridge needs. Satisfied by
// *mqtt.Client; narrowed to an interface so tests can substitute a fake.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Logger defines the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Bridge relays device state between the MQTT broker and the shadow service.
type Bridge struct {
	client  MQTTClient
	service *shadow.Service
	logger  Logger
	qos     byte
	topics  mqtt.Topics
}

// Config contains the dependencies and settings for a Bridge.
type Config struct {
	Client  MQTTClient
	Service *shadow.Service
	Logger  Logger
	QoS     byte
}

// New creates a bridge. Client, Service, and Logger are required.
func New(cfg Config) (*Bridge, error) {
	if cfg.Client == nil {
		return nil, errors.New("bridge: mqtt client is required")
	}
	if cfg.Service == nil {
		return nil, errors.New("bridge: shadow service is required")
	}
	if cfg.Logger == nil {
		return nil, errors.New("bridge: logger is required")
	}

	return &Bridge{
		client:  cfg.Client,
		service: cfg.Service,
		logger:  cfg.Logger,
		qos:     cfg.QoS,
	}, nil
}

// Start subscribes to device reported-state topics and registers the service
// listener that keeps the retained delta and document topics current.
func (b *Bridge) Start() error {
	if err := b.client.Subscribe(b.topics.AllDeviceReported(), b.qos, b.handleReported); err != nil {
		return fmt.Errorf("bridge: subscribe to reported topics: %w", err)
	}

	b.service.AddListener(b.publishShadowChange)

	b.logger.Info("shadow bridge started", "topic", b.topics.AllDeviceReported())
	return nil
}

// Stop unsubscribes from device topics. The service listener stays registered
// but becomes inert once the MQTT client disconnects.
func (b *Bridge) Stop() error {
	if err := b.client.Unsubscribe(b.topics.AllDeviceReported()); err != nil {
		return fmt.Errorf("bridge: unsubscribe: %w", err)
	}
	b.logger.Info("shadow bridge stopped")
	return nil
}

// handleReported processes a device's reported-state publication.
//
// The payload must be a partial state document (a JSON object). Malformed
// payloads and unknown devices are logged and dropped; the broker offers no
// reply channel, so there is nobody to return the error to.
func (b *Bridge) handleReported(topic string, payload []byte) error {
	deviceID, leaf, ok := mqtt.ParseDeviceTopic(topic)
	if !ok || leaf != "reported" {
		b.logger.Warn("ignoring message on unexpected topic", "topic", topic)
		return nil
	}

	partial, err := shadow.ParseState(payload)
	if err != nil {
		b.logger.Warn("dropping malformed reported state",
			"device_id", deviceID, "error", err)
		return nil
	}

	sh, err := b.service.UpdateReportedState(context.Background(), deviceID, partial, originMQTT)
	if err != nil {
		if errors.Is(err, shadow.ErrNotFound) {
			b.logger.Warn("reported state for unregistered device", "device_id", deviceID)
			return nil
		}
		b.logger.Error("failed to apply reported state",
			"device_id", deviceID, "error", err)
		return err
	}

	b.logger.Debug("applied reported state from broker",
		"device_id", deviceID, "version", sh.Version)
	return nil
}

// publishShadowChange reacts to an accepted mutation by refreshing the
// device's retained delta and document topics.
//
// On a desired-side change the delta tells the device what it still has to
// apply; on a reported-side change the delta may have emptied, and publishing
// it (possibly as "{}") lets the device see it has converged.
func (b *Bridge) publishShadowChange(ev shadow.Event) {
	if ev.Shadow == nil {
		return
	}

	delta := ev.Shadow.Delta()
	deltaPayload, err := json.Marshal(delta)
	if err != nil {
		b.logger.Error("failed to marshal delta", "device_id", ev.DeviceID, "error", err)
		return
	}
	if err := b.client.Publish(b.topics.DeviceDelta(ev.DeviceID), deltaPayload, b.qos, true); err != nil {
		b.logger.Error("failed to publish delta",
			"device_id", ev.DeviceID, "error", err)
	}

	docPayload, err := json.Marshal(ev.Shadow)
	if err != nil {
		b.logger.Error("failed to marshal shadow document", "device_id", ev.DeviceID, "error", err)
		return
	}
	if err := b.client.Publish(b.topics.DeviceDocument(ev.DeviceID), docPayload, b.qos, true); err != nil {
		b.logger.Error("failed to publish shadow document",
			"device_id", ev.DeviceID, "error", err)
	}
}
