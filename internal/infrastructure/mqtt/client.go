package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/tbdash/internal/infrastructure/config"
)

// Client is a broker connection that keeps its subscriptions across
// reconnects and announces itself on the status topic. Safe for
// concurrent use.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig
	topics Topics

	subscriptions map[string]subscription
	subMu         sync.RWMutex

	connected atomic.Bool

	logger   Logger
	loggerMu sync.RWMutex
}

// Logger is satisfied by *logging.Logger and *slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// MessageHandler receives one message. Handlers run on paho's goroutines;
// a returned error or a panic is logged and the message is dropped.
type MessageHandler func(topic string, payload []byte) error

// Connect dials the broker at brokerURL with a Last Will on the status
// topic, then publishes "online". It returns ErrDisabled when cfg.Enabled
// is false so callers can treat the publisher as optional.
func Connect(brokerURL string, cfg config.MQTTConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	opts, err := buildClientOptions(brokerURL, cfg)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:           cfg,
		topics:        NewTopics(cfg.TopicPrefix),
		subscriptions: make(map[string]subscription),
	}
	configureLWT(opts, c.topics, cfg.ClientID)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.onConnected() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.onLost(err) })

	c.client = pahomqtt.NewClient(opts)
	if err := awaitFor(c.client.Connect(), ErrConnectionFailed, defaultConnectTimeout); err != nil {
		return nil, err
	}
	// paho may run the connect handler after Connect returns.
	c.connected.Store(true)
	return c, nil
}

// Topics returns the topic builders for the configured prefix.
func (c *Client) Topics() Topics {
	return c.topics
}

// QoS returns the configured default QoS.
func (c *Client) QoS() byte {
	return byte(c.cfg.QoS) //nolint:gosec // validated 0-2 by config
}

// SetLogger enables logging of connection changes and handler failures.
func (c *Client) SetLogger(l Logger) {
	c.loggerMu.Lock()
	c.logger = l
	c.loggerMu.Unlock()
}

func (c *Client) log() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

func (c *Client) onConnected() {
	c.connected.Store(true)
	n := c.replaySubscriptions()
	c.client.Publish(c.topics.Status(), c.QoS(), true, statusPayload("online", c.cfg.ClientID, ""))

	if l := c.log(); l != nil {
		l.Info("mqtt connected", "client_id", c.cfg.ClientID, "subscriptions", n)
	}
}

func (c *Client) onLost(err error) {
	c.connected.Store(false)

	if l := c.log(); l != nil {
		l.Warn("mqtt connection lost, reconnecting", "error", err)
	}
}

// replaySubscriptions re-issues every tracked subscription. The broker
// forgets them because sessions are clean.
func (c *Client) replaySubscriptions() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	for _, sub := range c.subscriptions {
		c.client.Subscribe(sub.topic, sub.qos, c.wrapHandler(sub.handler))
	}
	return len(c.subscriptions)
}

// Close publishes a retained "offline" status and disconnects. Safe on a
// zero Client.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	if c.IsConnected() {
		// Best effort: the LWT covers a status publish that never lands.
		_ = await(c.client.Publish(c.topics.Status(), c.QoS(), true,
			statusPayload("offline", c.cfg.ClientID, "graceful_shutdown")), ErrPublishFailed)
	}
	c.client.Disconnect(defaultDisconnectQuiesce)
	c.connected.Store(false)
	return nil
}

// HealthCheck returns ErrNotConnected while the broker link is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports the last known connection state.
func (c *Client) IsConnected() bool {
	return c.connected.Load() && c.client != nil && c.client.IsConnected()
}

func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		log := c.log()
		defer func() {
			if r := recover(); r != nil && log != nil {
				log.Error("mqtt handler panicked", "topic", msg.Topic(), "panic", r)
			}
		}()
		if err := handler(msg.Topic(), msg.Payload()); err != nil && log != nil {
			log.Warn("mqtt handler failed", "topic", msg.Topic(), "error", err)
		}
	}
}
