package telemetry

import (
	"errors"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/tembridge/tembridge-go/pkg/config"
)

const (
	connectTimeout    = 10 * time.Second
	publishTimeout    = 5 * time.Second
	disconnectQuiesce = 500 // milliseconds
	keepAlive         = 60 * time.Second
	maxQoS            = 2
)

// MQTT errors.
var (
	ErrConnectionFailed = errors.New("mqtt: connection failed")
	ErrPublishFailed    = errors.New("mqtt: publish failed")
	ErrInvalidQoS       = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")
)

// Publisher sends payloads to topics.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Close() error
}

// mqttPublisher publishes through a paho client.
type mqttPublisher struct {
	client      pahomqtt.Client
	statusTopic string
}

// Dial connects to the broker in cfg. The broker is told to publish
// "offline" on <prefix>/status if the process disappears.
func Dial(cfg config.MQTTConfig) (Publisher, error) {
	if cfg.QoS > maxQoS {
		return nil, ErrInvalidQoS
	}
	status := cfg.TopicPrefix + "/status"

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetKeepAlive(keepAlive)
	opts.SetWill(status, "offline", 1, true)

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	p := &mqttPublisher{client: client, statusTopic: status}
	if err := p.Publish(status, 1, true, []byte("online")); err != nil {
		client.Disconnect(disconnectQuiesce)
		return nil, err
	}
	return p, nil
}

// Publish waits for the broker to acknowledge according to qos.
func (p *mqttPublisher) Publish(topic string, qos byte, retained bool, payload []byte) error {
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, publishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// Close publishes "offline" and disconnects.
func (p *mqttPublisher) Close() error {
	if p.client.IsConnected() {
		_ = p.Publish(p.statusTopic, 1, true, []byte("offline"))
	}
	p.client.Disconnect(disconnectQuiesce)
	return nil
}
