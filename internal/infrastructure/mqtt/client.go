package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-pioneer/internal/infrastructure/config"
)

// Logger is the subset of logging.Logger the client uses.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// MessageHandler receives one message on a paho goroutine. It is an alias
// so plain func values satisfy interfaces written against the func type.
type MessageHandler = func(topic string, payload []byte)

// route is a subscription the client replays after every reconnect.
type route struct {
	qos     byte
	handler MessageHandler
}

// Client is a broker session shared by the bridge and the daemon. All
// methods are safe for concurrent use.
type Client struct {
	paho   pahomqtt.Client
	cfg    config.MQTTConfig
	online atomic.Bool

	mu           sync.RWMutex
	routes       map[string]route
	onConnect    func()
	onDisconnect func(error)
	log          Logger
}

// Connect dials the broker and waits up to ten seconds for the session.
// will may be nil. Once connected, paho reconnects on its own with the
// configured backoff and every tracked subscription is replayed.
func Connect(cfg config.MQTTConfig, will *Will) (*Client, error) {
	opts := buildClientOptions(cfg)
	if err := configureWill(opts, will); err != nil {
		return nil, err
	}

	c := &Client{cfg: cfg, routes: make(map[string]route)}
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.connected() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.lost(err) })
	opts.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		c.logInfo("reconnecting to MQTT broker", "broker", brokerURL(cfg))
	})

	c.paho = pahomqtt.NewClient(opts)
	token := c.paho.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		// With ConnectRetry paho keeps dialling in the background.
		c.paho.Disconnect(0)
		return nil, fmt.Errorf("%w: %s: no answer within %v", ErrConnectionFailed, brokerURL(cfg), defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, brokerURL(cfg), err)
	}

	// The OnConnect handler is asynchronous and may still be pending.
	c.online.Store(true)
	return c, nil
}

func (c *Client) connected() {
	c.online.Store(true)
	c.replay()

	c.mu.RLock()
	fn := c.onConnect
	c.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

func (c *Client) lost(err error) {
	c.online.Store(false)
	c.logWarn("MQTT connection lost", "error", err)

	c.mu.RLock()
	fn := c.onDisconnect
	c.mu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

// replay re-subscribes every tracked topic. The broker forgets them on a
// clean session.
func (c *Client) replay() {
	c.mu.RLock()
	pending := make(map[string]route, len(c.routes))
	for topic, r := range c.routes {
		pending[topic] = r
	}
	c.mu.RUnlock()

	for topic, r := range pending {
		if err := wait(c.paho.Subscribe(topic, r.qos, c.deliver(r.handler)), ErrSubscribeFailed); err != nil {
			c.logError("failed to restore MQTT subscription", "topic", topic, "error", err)
		}
	}
}

// Close disconnects cleanly, giving in-flight publishes a second to drain.
// A clean disconnect suppresses the will, so publish an explicit offline
// status first if subscribers need one.
func (c *Client) Close() error {
	if c == nil || c.paho == nil {
		return nil
	}
	c.online.Store(false)
	c.paho.Disconnect(defaultDisconnectQuiesce)
	return nil
}

// HealthCheck returns ErrNotConnected while the session is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports the session state as last seen by the handlers and
// by paho itself.
func (c *Client) IsConnected() bool {
	return c.paho != nil && c.online.Load() && c.paho.IsConnected()
}

// SetOnConnect registers fn to run after each connect and reconnect, once
// subscriptions have been replayed.
func (c *Client) SetOnConnect(fn func()) {
	c.mu.Lock()
	c.onConnect = fn
	c.mu.Unlock()
}

// SetOnDisconnect registers fn to run when the session drops.
func (c *Client) SetOnDisconnect(fn func(err error)) {
	c.mu.Lock()
	c.onDisconnect = fn
	c.mu.Unlock()
}

// SetLogger sets where connection events and handler panics are reported.
func (c *Client) SetLogger(log Logger) {
	c.mu.Lock()
	c.log = log
	c.mu.Unlock()
}

func (c *Client) logger() Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.log
}

func (c *Client) logInfo(msg string, args ...any) {
	if l := c.logger(); l != nil {
		l.Info(msg, args...)
	}
}

func (c *Client) logWarn(msg string, args ...any) {
	if l := c.logger(); l != nil {
		l.Warn(msg, args...)
	}
}

func (c *Client) logError(msg string, args ...any) {
	if l := c.logger(); l != nil {
		l.Error(msg, args...)
	}
}

// deliver adapts handler to paho. A panicking handler is logged and the
// session stays up.
func (c *Client) deliver(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.logError("MQTT handler panic recovered", "topic", msg.Topic(), "panic", r)
			}
		}()
		handler(msg.Topic(), msg.Payload())
	}
}

// wait blocks on a paho token for the acknowledgement timeout and wraps
// any failure in kind.
func wait(token pahomqtt.Token, kind error) error {
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: no acknowledgement within %v", kind, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", kind, err)
	}
	return nil
}
