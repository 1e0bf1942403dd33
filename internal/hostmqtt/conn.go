package hostmqtt

import (
	"errors"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/joshp123/gohome-resideo/internal/config"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
	keepAlive      = 30 * time.Second
)

var (
	ErrNotConnected = errors.New("mqtt not connected")
	ErrTimeout      = errors.New("mqtt operation timed out")
)

// MessageHandler receives inbound messages.
type MessageHandler func(topic string, payload []byte)

// Conn is the subset of an MQTT client the exposer needs.
type Conn interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Subscribe(topic string, qos byte, handler MessageHandler) error
	Close() error
}

// PahoConn is a Conn backed by the Eclipse Paho client. Subscriptions are
// restored after reconnects.
type PahoConn struct {
	client pahomqtt.Client
	log    *logrus.Entry

	mu   sync.Mutex
	subs map[string]subscription
}

type subscription struct {
	qos     byte
	handler MessageHandler
}

// Dial connects to the broker and blocks until the first session is up.
func Dial(cfg config.MQTTConfig, log *logrus.Entry) (*PahoConn, error) {
	c := &PahoConn{log: log.WithField("component", "mqtt"), subs: make(map[string]subscription)}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(keepAlive).
		SetWill(cfg.TopicPrefix+"/status", "offline", byte(cfg.QoS), true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetOnConnectHandler(func(client pahomqtt.Client) {
		c.log.Info("connected to broker")
		client.Publish(cfg.TopicPrefix+"/status", byte(cfg.QoS), true, "online")
		c.restoreSubscriptions()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.log.WithError(err).Warn("broker connection lost")
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("connect %s: %w", cfg.Broker, ErrTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Broker, err)
	}
	return c, nil
}

func (c *PahoConn) Publish(topic string, qos byte, retained bool, payload []byte) error {
	if !c.client.IsConnected() {
		return ErrNotConnected
	}
	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: %w", topic, ErrTimeout)
	}
	return token.Error()
}

func (c *PahoConn) Subscribe(topic string, qos byte, handler MessageHandler) error {
	c.mu.Lock()
	c.subs[topic] = subscription{qos: qos, handler: handler}
	c.mu.Unlock()

	token := c.client.Subscribe(topic, qos, wrap(handler))
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("subscribe %s: %w", topic, ErrTimeout)
	}
	return token.Error()
}

func (c *PahoConn) Close() error {
	c.client.Disconnect(250)
	return nil
}

func (c *PahoConn) restoreSubscriptions() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for topic, sub := range c.subs {
		c.client.Subscribe(topic, sub.qos, wrap(sub.handler))
	}
}

func wrap(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	}
}
