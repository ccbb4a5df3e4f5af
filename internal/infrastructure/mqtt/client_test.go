package mqtt

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-pioneer/internal/infrastructure/config"
)

const testBrokerAddr = "127.0.0.1:1883"

// testConfig returns a configuration pointing at a local Mosquitto broker.
func testConfig(clientID string) config.MQTTConfig {
	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: clientID,
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// requireBroker skips the test when no broker is listening locally.
func requireBroker(t *testing.T) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", testBrokerAddr, 200*time.Millisecond)
	if err != nil {
		t.Skipf("no MQTT broker at %s: %v", testBrokerAddr, err)
	}
	conn.Close()
}

// =============================================================================
// Option Tests
// =============================================================================

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig("graylogic-pioneer-test")
	cfg.Auth = config.MQTTAuthConfig{Username: "bridge", Password: "secret"}

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want [tcp://127.0.0.1:1883]", opts.Servers)
	}
	if opts.ClientID != "graylogic-pioneer-test" {
		t.Errorf("ClientID = %q, want %q", opts.ClientID, "graylogic-pioneer-test")
	}
	if opts.Username != "bridge" || opts.Password != "secret" {
		t.Errorf("credentials = %q/%q, want bridge/secret", opts.Username, opts.Password)
	}
	if !opts.CleanSession {
		t.Error("CleanSession = false, want true")
	}
	if !opts.AutoReconnect {
		t.Error("AutoReconnect = false, want true")
	}
	if opts.ConnectRetryInterval != time.Second {
		t.Errorf("ConnectRetryInterval = %v, want 1s", opts.ConnectRetryInterval)
	}
	if opts.MaxReconnectInterval != 5*time.Second {
		t.Errorf("MaxReconnectInterval = %v, want 5s", opts.MaxReconnectInterval)
	}
	if opts.TLSConfig != nil {
		t.Error("TLSConfig set without TLS enabled")
	}
}

func TestBuildClientOptions_TLS(t *testing.T) {
	cfg := testConfig("tls")
	cfg.Broker.TLS = true
	cfg.Broker.Port = 8883

	opts := buildClientOptions(cfg)

	if got := opts.Servers[0].String(); got != "ssl://127.0.0.1:8883" {
		t.Errorf("broker = %q, want ssl://127.0.0.1:8883", got)
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Errorf("TLSConfig = %+v, want MinVersion TLS1.2", opts.TLSConfig)
	}
}

func TestBuildClientOptions_NoAuth(t *testing.T) {
	opts := buildClientOptions(testConfig("anon"))
	if opts.Username != "" {
		t.Errorf("Username = %q, want empty", opts.Username)
	}
}

func TestReconnectDelays(t *testing.T) {
	tests := []struct {
		name        string
		cfg         config.MQTTReconnectConfig
		wantInitial time.Duration
		wantMax     time.Duration
	}{
		{"configured", config.MQTTReconnectConfig{InitialDelay: 2, MaxDelay: 30}, 2 * time.Second, 30 * time.Second},
		{"zero uses defaults", config.MQTTReconnectConfig{}, defaultInitialDelay, defaultMaxDelay},
		{"max below initial", config.MQTTReconnectConfig{InitialDelay: 10, MaxDelay: 3}, 10 * time.Second, 10 * time.Second},
		{"negative initial", config.MQTTReconnectConfig{InitialDelay: -1, MaxDelay: 5}, defaultInitialDelay, 5 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			initial, maxDelay := reconnectDelays(tt.cfg)
			if initial != tt.wantInitial {
				t.Errorf("initial = %v, want %v", initial, tt.wantInitial)
			}
			if maxDelay != tt.wantMax {
				t.Errorf("max = %v, want %v", maxDelay, tt.wantMax)
			}
		})
	}
}

func TestConfigureWill(t *testing.T) {
	t.Run("nil will", func(t *testing.T) {
		opts := buildClientOptions(testConfig("w"))
		if err := configureWill(opts, nil); err != nil {
			t.Fatalf("configureWill(nil) error = %v", err)
		}
		if opts.WillEnabled {
			t.Error("WillEnabled = true, want false")
		}
	})

	t.Run("valid will", func(t *testing.T) {
		opts := buildClientOptions(testConfig("w"))
		will := &Will{
			Topic:    "graylogic/health/pioneer",
			Payload:  []byte(`{"status":"offline"}`),
			QoS:      1,
			Retained: true,
		}
		if err := configureWill(opts, will); err != nil {
			t.Fatalf("configureWill() error = %v", err)
		}
		if !opts.WillEnabled {
			t.Fatal("WillEnabled = false, want true")
		}
		if opts.WillTopic != will.Topic {
			t.Errorf("WillTopic = %q, want %q", opts.WillTopic, will.Topic)
		}
		if string(opts.WillPayload) != string(will.Payload) {
			t.Errorf("WillPayload = %s, want %s", opts.WillPayload, will.Payload)
		}
		if opts.WillQos != 1 || !opts.WillRetained {
			t.Errorf("WillQos/WillRetained = %d/%v, want 1/true", opts.WillQos, opts.WillRetained)
		}
	})

	t.Run("empty topic", func(t *testing.T) {
		opts := buildClientOptions(testConfig("w"))
		if err := configureWill(opts, &Will{}); !errors.Is(err, ErrInvalidWill) {
			t.Errorf("configureWill() error = %v, want ErrInvalidWill", err)
		}
	})

	t.Run("bad qos", func(t *testing.T) {
		opts := buildClientOptions(testConfig("w"))
		if err := configureWill(opts, &Will{Topic: "x", QoS: 3}); !errors.Is(err, ErrInvalidQoS) {
			t.Errorf("configureWill() error = %v, want ErrInvalidQoS", err)
		}
	})
}

func TestConnect_InvalidWill(t *testing.T) {
	_, err := Connect(testConfig("bad-will"), &Will{QoS: 1})
	if !errors.Is(err, ErrInvalidWill) {
		t.Errorf("Connect() error = %v, want ErrInvalidWill", err)
	}
}

// =============================================================================
// Validation Tests (no broker)
// =============================================================================

func TestPublishValidation(t *testing.T) {
	c := &Client{}

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{"empty topic", "", nil, 1, ErrInvalidTopic},
		{"invalid qos", "graylogic/state/pioneer/x", nil, 3, ErrInvalidQoS},
		{"oversized payload", "graylogic/state/pioneer/x", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
		{"not connected", "graylogic/state/pioneer/x", []byte("{}"), 1, ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSubscribeValidation(t *testing.T) {
	c := &Client{}
	noop := func(string, []byte) {}

	tests := []struct {
		name    string
		topic   string
		qos     byte
		handler MessageHandler
		wantErr error
	}{
		{"empty topic", "", 1, noop, ErrInvalidTopic},
		{"invalid qos", "graylogic/command/pioneer/#", 5, noop, ErrInvalidQoS},
		{"nil handler", "graylogic/command/pioneer/#", 1, nil, ErrSubscribeFailed},
		{"not connected", "graylogic/command/pioneer/#", 1, noop, ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Subscribe(tt.topic, tt.qos, tt.handler)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Subscribe() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if c.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", c.SubscriptionCount())
	}
}

func TestUnsubscribeValidation(t *testing.T) {
	c := &Client{}
	if err := c.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe(\"\") error = %v, want ErrInvalidTopic", err)
	}
	if err := c.Unsubscribe("a/b"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Unsubscribe() error = %v, want ErrNotConnected", err)
	}
}

func TestDefaultQoS(t *testing.T) {
	tests := []struct {
		cfg  int
		want byte
	}{
		{-1, 0},
		{0, 0},
		{1, 1},
		{2, 2},
		{7, 2},
	}
	for _, tt := range tests {
		c := &Client{cfg: config.MQTTConfig{QoS: tt.cfg}}
		if got := c.defaultQoS(); got != tt.want {
			t.Errorf("defaultQoS() with QoS %d = %d, want %d", tt.cfg, got, tt.want)
		}
	}
}

func TestCloseNil(t *testing.T) {
	var c *Client
	if err := c.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v", err)
	}
	if err := (&Client{}).Close(); err != nil {
		t.Errorf("Close() on unconnected client error = %v", err)
	}
}

func TestHealthCheck_Disconnected(t *testing.T) {
	c := &Client{}

	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck(cancelled) error = %v, want context.Canceled", err)
	}
}

// =============================================================================
// Broker Tests
// =============================================================================

func TestConnectAndClose(t *testing.T) {
	requireBroker(t)

	client, err := Connect(testConfig("graylogic-pioneer-test-connect"), nil)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if !client.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() after Close = true, want false")
	}
}

func TestPublishSubscribeRoundtrip(t *testing.T) {
	requireBroker(t)

	pub, err := Connect(testConfig("graylogic-pioneer-test-pub"), nil)
	if err != nil {
		t.Fatalf("Connect() publisher error = %v", err)
	}
	defer pub.Close()

	sub, err := Connect(testConfig("graylogic-pioneer-test-sub"), nil)
	if err != nil {
		t.Fatalf("Connect() subscriber error = %v", err)
	}
	defer sub.Close()

	var (
		mu     sync.Mutex
		topics []string
	)
	received := make(chan string, 4)
	err = sub.Subscribe("graylogic/test/pioneer/+", 1, func(topic string, payload []byte) {
		mu.Lock()
		topics = append(topics, topic)
		mu.Unlock()
		received <- string(payload)
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !sub.HasSubscription("graylogic/test/pioneer/+") {
		t.Error("HasSubscription() = false, want true")
	}

	time.Sleep(100 * time.Millisecond)

	want := `{"power":"on"}`
	if err := pub.Publish("graylogic/test/pioneer/living-avr", []byte(want), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case got := <-received:
		if got != want {
			t.Errorf("payload = %q, want %q", got, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for message")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(topics) != 1 || !strings.HasSuffix(topics[0], "/living-avr") {
		t.Errorf("topics = %v, want [.../living-avr]", topics)
	}
}

func TestHandlerPanicRecovered(t *testing.T) {
	requireBroker(t)

	client, err := Connect(testConfig("graylogic-pioneer-test-panic"), nil)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	calls := make(chan struct{}, 2)
	err = client.Subscribe("graylogic/test/panic", 1, func(string, []byte) {
		calls <- struct{}{}
		panic("boom")
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	for i := 0; i < 2; i++ {
		if err := client.Publish("graylogic/test/panic", []byte("x"), 1, false); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
		select {
		case <-calls:
		case <-time.After(5 * time.Second):
			t.Fatalf("message %d not delivered after handler panic", i)
		}
	}

	if !client.IsConnected() {
		t.Error("client disconnected after handler panic")
	}
}

func TestUnsubscribe(t *testing.T) {
	requireBroker(t)

	client, err := Connect(testConfig("graylogic-pioneer-test-unsub"), nil)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	topic := "graylogic/test/unsub"
	if err := client.Subscribe(topic, 1, func(string, []byte) {}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if err := client.Unsubscribe(topic); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if client.HasSubscription(topic) {
		t.Error("HasSubscription() after Unsubscribe = true, want false")
	}
}
