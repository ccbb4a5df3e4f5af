package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-pioneer/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time to wait for initial connection.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout bounds publish, subscribe and unsubscribe acknowledgements.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 1000 // milliseconds

	defaultKeepAlive = 60 * time.Second

	// Reconnect bounds used when the config leaves them at zero.
	defaultInitialDelay = 1 * time.Second
	defaultMaxDelay     = 60 * time.Second

	maxQoS = 2

	// maxPayloadSize caps outgoing messages at 1MB.
	maxPayloadSize = 1 << 20

	tlsMinVersion = tls.VersionTLS12
)

// Will is the Last Will and Testament the broker publishes on our behalf
// when the connection drops without a clean disconnect.
type Will struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

// brokerURL returns the broker address in paho's scheme://host:port form.
func brokerURL(cfg config.MQTTConfig) string {
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)
}

// reconnectDelays converts the configured second values, substituting
// defaults for zero and keeping max >= initial.
func reconnectDelays(cfg config.MQTTReconnectConfig) (initial, maxDelay time.Duration) {
	initial = time.Duration(cfg.InitialDelay) * time.Second
	if initial <= 0 {
		initial = defaultInitialDelay
	}
	maxDelay = time.Duration(cfg.MaxDelay) * time.Second
	if maxDelay <= 0 {
		maxDelay = defaultMaxDelay
	}
	if maxDelay < initial {
		maxDelay = initial
	}
	return initial, maxDelay
}

// buildClientOptions creates paho options from the bridge config.
//
// This configures:
//   - Broker URL (tcp:// or ssl:// based on TLS setting)
//   - Client ID and optional credentials
//   - Auto-reconnect with capped backoff
//   - TLS 1.2+ when enabled
//   - Clean session mode
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(brokerURL(cfg))
	opts.SetClientID(cfg.Broker.ClientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	// Commands are not queued for us while we are away; the core resends.
	opts.SetCleanSession(true)

	initial, maxDelay := reconnectDelays(cfg.Reconnect)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(initial)
	opts.SetMaxReconnectInterval(maxDelay)

	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}

	return opts
}

// configureWill installs the will message on opts. A nil will leaves
// the connection without one.
func configureWill(opts *pahomqtt.ClientOptions, will *Will) error {
	if will == nil {
		return nil
	}
	if will.Topic == "" {
		return ErrInvalidWill
	}
	if will.QoS > maxQoS {
		return ErrInvalidQoS
	}
	opts.SetBinaryWill(will.Topic, will.Payload, will.QoS, will.Retained)
	return nil
}
