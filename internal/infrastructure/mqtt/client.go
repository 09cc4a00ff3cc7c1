package mqtt

import (
	"context"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/hyperion-bridge/internal/infrastructure/config"
)

// Client wraps paho.mqtt.golang for the bridge.
//
// It owns the broker session, announces itself on StatusTopic, and
// remembers subscriptions so they survive an automatic reconnect.
//
// All methods are safe for concurrent use.
type Client struct {
	client   pahomqtt.Client
	clientID string
	qos      byte

	subscriptions map[string]subscription
	subMu         sync.RWMutex

	connected bool
	connMu    sync.RWMutex

	onConnect    func()
	onDisconnect func(err error)
	callbackMu   sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex
}

// Logger is the optional logging sink. *slog.Logger satisfies it.
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

// MessageHandler receives a message. Handlers run on paho's goroutines
// and must not block for long. A returned error is logged only.
type MessageHandler func(topic string, payload []byte) error

// Connect dials the broker described by cfg and publishes a retained
// online status once the session is up.
//
// Parameters:
//   - cfg: MQTT section of the bridge configuration
//
// Returns:
//   - *Client: connected client
//   - error: ErrConnectionFailed wrapping the paho error
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := newClient(cfg)

	opts := buildClientOptions(cfg)
	configureLWT(opts, c.clientID)
	opts.SetOnConnectHandler(c.handleConnect)
	opts.SetConnectionLostHandler(c.handleConnectionLost)
	opts.SetReconnectingHandler(func(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) {
		if l := c.getLogger(); l != nil {
			l.Info("reconnecting to MQTT broker", "client_id", c.clientID)
		}
	})

	c.client = pahomqtt.NewClient(opts)

	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		c.client.Disconnect(0)
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	return c, nil
}

func newClient(cfg config.MQTTConfig) *Client {
	return &Client{
		clientID:      cfg.Broker.ClientID,
		qos:           byte(cfg.QoS), //nolint:gosec // validated 0-2 by config
		subscriptions: make(map[string]subscription),
	}
}

// ClientID returns the broker client identifier.
func (c *Client) ClientID() string {
	return c.clientID
}

// DefaultQoS returns the configured QoS level.
func (c *Client) DefaultQoS() byte {
	return c.qos
}

func (c *Client) handleConnect(_ pahomqtt.Client) {
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	c.restoreSubscriptions()
	c.publishStatus(StatusOnline, "")

	c.callbackMu.RLock()
	cb := c.onConnect
	c.callbackMu.RUnlock()
	if cb != nil {
		go c.safeCallback(func() { cb() })
	}
}

func (c *Client) handleConnectionLost(_ pahomqtt.Client, err error) {
	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	if l := c.getLogger(); l != nil {
		l.Warn("MQTT connection lost", "error", err)
	}

	c.callbackMu.RLock()
	cb := c.onDisconnect
	c.callbackMu.RUnlock()
	if cb != nil {
		go c.safeCallback(func() { cb(err) })
	}
}

func (c *Client) safeCallback(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			if l := c.getLogger(); l != nil {
				l.Error("panic in MQTT connection callback", "panic", r)
			}
		}
	}()
	fn()
}

// restoreSubscriptions re-registers every tracked subscription. The
// session is clean, so the broker forgets them on each reconnect.
func (c *Client) restoreSubscriptions() {
	c.subMu.RLock()
	subs := make([]subscription, 0, len(c.subscriptions))
	for _, s := range c.subscriptions {
		subs = append(subs, s)
	}
	c.subMu.RUnlock()

	for _, s := range subs {
		token := c.client.Subscribe(s.topic, s.qos, c.wrapHandler(s.handler))
		if !token.WaitTimeout(defaultOperationTimeout) || token.Error() != nil {
			if l := c.getLogger(); l != nil {
				l.Error("failed to restore subscription", "topic", s.topic, "error", token.Error())
			}
		}
	}
}

func (c *Client) publishStatus(status, reason string) {
	token := c.client.Publish(StatusTopic(c.clientID), 1, true, statusPayload(c.clientID, status, reason))
	if !token.WaitTimeout(defaultOperationTimeout) || token.Error() != nil {
		if l := c.getLogger(); l != nil {
			l.Warn("failed to publish status", "status", status, "error", token.Error())
		}
	}
}

// Close publishes a retained offline status and disconnects.
// Safe to call more than once.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	if c.IsConnected() {
		c.publishStatus(StatusOffline, "shutdown")
	}

	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	c.client.Disconnect(defaultDisconnectQuiesce)
	return nil
}

// IsConnected reports whether the broker session is up.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

// HealthCheck returns ErrNotConnected when the broker session is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// SetOnConnect sets a callback run after every (re)connect.
func (c *Client) SetOnConnect(cb func()) {
	c.callbackMu.Lock()
	defer c.callbackMu.Unlock()
	c.onConnect = cb
}

// SetOnDisconnect sets a callback run when the connection is lost.
func (c *Client) SetOnDisconnect(cb func(err error)) {
	c.callbackMu.Lock()
	defer c.callbackMu.Unlock()
	c.onDisconnect = cb
}

// SetLogger sets the logger used for handler errors and panics.
func (c *Client) SetLogger(l Logger) {
	c.loggerMu.Lock()
	defer c.loggerMu.Unlock()
	c.logger = l
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// wrapHandler adapts a MessageHandler to paho, logging errors and
// recovering panics so one bad message cannot kill the client.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if l := c.getLogger(); l != nil {
					l.Error("panic in MQTT message handler", "topic", msg.Topic(), "panic", r)
				}
			}
		}()
		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			if l := c.getLogger(); l != nil {
				l.Warn("MQTT message handler failed", "topic", msg.Topic(), "error", err)
			}
		}
	}
}
