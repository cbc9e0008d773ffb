// Package mqtt wraps paho.mqtt.golang for the Home Assistant bridge:
// connection with auto-reconnect, a retained online/offline status with
// Last Will, validated publishes, and subscriptions that survive
// reconnects.
package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/CaseyRo/ha-bosch/internal/config"
)

// MessageHandler receives one message. paho calls handlers on its own
// goroutines; they must not block for long. A returned error is logged.
type MessageHandler func(topic string, payload []byte) error

type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// Client is a connected MQTT client. Safe for concurrent use.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig
	topics Topics
	logger *slog.Logger

	subMu         sync.RWMutex
	subscriptions map[string]subscription

	connMu    sync.RWMutex
	connected bool

	callbackMu sync.RWMutex
	onConnect  func()
}

// Connect dials the broker described by cfg and waits for the first
// connection. Subscriptions and the online status are restored on every
// reconnect.
func Connect(cfg config.MQTTConfig, logger *slog.Logger) (*Client, error) {
	c := newClient(cfg, logger)

	opts := buildClientOptions(cfg)
	configureLWT(opts, c.topics)

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleDisconnect(err)
	})
	opts.SetReconnectingHandler(func(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) {
		c.logger.Info("mqtt reconnecting", slog.String("broker", brokerURL(cfg)))
	})

	c.client = pahomqtt.NewClient(opts)

	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}

	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The OnConnect handler runs asynchronously; mark the state here so
	// callers can publish right away.
	c.setConnected(true)

	c.logger.Info("mqtt connected", slog.String("broker", brokerURL(cfg)))

	return c, nil
}

func newClient(cfg config.MQTTConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		cfg:           cfg,
		topics:        TopicsFor(cfg),
		logger:        logger,
		subscriptions: make(map[string]subscription),
	}
}

// Topics returns the topic builder for this client's config.
func (c *Client) Topics() Topics { return c.topics }

// QoS is the configured default QoS.
func (c *Client) QoS() byte { return byte(c.cfg.QoS) } //nolint:gosec // validated 0..2 by config

func (c *Client) handleConnect() {
	c.setConnected(true)
	c.restoreSubscriptions()

	c.client.Publish(c.topics.BridgeStatus(), 1, true, StatusOnline)

	c.callbackMu.RLock()
	cb := c.onConnect
	c.callbackMu.RUnlock()

	if cb != nil {
		cb()
	}
}

func (c *Client) handleDisconnect(err error) {
	c.setConnected(false)
	c.logger.Warn("mqtt connection lost", slog.String("error", err.Error()))
}

func (c *Client) setConnected(v bool) {
	c.connMu.Lock()
	c.connected = v
	c.connMu.Unlock()
}

func (c *Client) restoreSubscriptions() {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	for _, sub := range c.subscriptions {
		// Failures here surface again on the next reconnect.
		c.client.Subscribe(sub.topic, sub.qos, c.wrapHandler(sub.handler))
	}
}

// SetOnConnect registers a callback for every (re)connect, after
// subscriptions are restored. The bridge republishes discovery from it.
func (c *Client) SetOnConnect(cb func()) {
	c.callbackMu.Lock()
	c.onConnect = cb
	c.callbackMu.Unlock()
}

// IsConnected reports the last known connection state.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()

	return c.connected && c.client != nil && c.client.IsConnected()
}

// HealthCheck returns ErrNotConnected while the broker is unreachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	return nil
}

// Close publishes the offline status and disconnects.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	if c.IsConnected() {
		token := c.client.Publish(c.topics.BridgeStatus(), 1, true, StatusOffline)
		token.WaitTimeout(defaultPublishTimeout)
	}

	c.client.Disconnect(defaultDisconnectQuiesce)
	c.setConnected(false)

	return nil
}

// wrapHandler adapts a MessageHandler to paho, recovering panics and
// logging handler errors.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("mqtt handler panic recovered",
					slog.String("topic", msg.Topic()),
					slog.Any("panic", r),
				)
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.logger.Warn("mqtt handler returned error",
				slog.String("topic", msg.Topic()),
				slog.String("error", err.Error()),
			)
		}
	}
}
