// Package mqttbus wraps the shared MQTT client: connection/reconnection,
// topic subscription with byte-slice handlers, and a small sender helper for
// outgoing status/discovery messages. Adapted from the teacher's
// MQTTSender/MQTTMessage wrapper, generalized from a single outbound channel
// into a full pub/sub client since this module's providers also subscribe.
package mqttbus

import (
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Message is an outgoing MQTT publish.
type Message struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// Handler is invoked for every message received on a subscribed topic.
type Handler func(topic string, payload []byte)

// PubSub is the subset of Client the subsystem providers depend on, so
// tests can fake a broker instead of dialing a real one.
type PubSub interface {
	Subscribe(topic string, qos byte, handler Handler) error
	Unsubscribe(topic string) error
}

// Client owns one paho MQTT connection.
type Client struct {
	cli mqtt.Client
	log *log.Logger
}

// Config holds the connection parameters read from the application config.
type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
}

// NewClient constructs (but does not connect) a Client. AutoReconnect is on,
// matching the always-on broker connection the teacher assumes throughout
// its worker set.
func NewClient(cfg Config, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.Default()
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(func(mqtt.Client) { logger.Println("mqttbus: connected") }).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) { logger.Printf("mqttbus: connection lost: %v", err) })

	return &Client{cli: mqtt.NewClient(opts), log: logger}
}

// Connect blocks until the initial connection attempt completes.
func (c *Client) Connect() error {
	token := c.cli.Connect()
	token.Wait()
	return token.Error()
}

// Disconnect cleanly closes the connection.
func (c *Client) Disconnect() {
	c.cli.Disconnect(250)
}

// Publish sends one message.
func (c *Client) Publish(msg Message) error {
	token := c.cli.Publish(msg.Topic, msg.QoS, msg.Retain, msg.Payload)
	token.Wait()
	return token.Error()
}

// Subscribe registers handler for topic (which may contain MQTT wildcards).
func (c *Client) Subscribe(topic string, qos byte, handler Handler) error {
	token := c.cli.Subscribe(topic, qos, func(_ mqtt.Client, m mqtt.Message) {
		handler(m.Topic(), m.Payload())
	})
	token.Wait()
	return token.Error()
}

// Unsubscribe removes a prior subscription.
func (c *Client) Unsubscribe(topic string) error {
	token := c.cli.Unsubscribe(topic)
	token.Wait()
	return token.Error()
}

// IsConnected reports the current connection state.
func (c *Client) IsConnected() bool { return c.cli.IsConnected() }
