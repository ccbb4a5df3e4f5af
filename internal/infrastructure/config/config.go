package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Receiver transports.
const (
	TransportTCP    = "tcp"
	TransportSerial = "serial"
)

// Receiver defaults.
const (
	defaultReceiverPort    = 23
	defaultReceiverTimeout = 5
	defaultBaudRate        = 9600

	// maxSourceCode is the highest input slot a receiver exposes.
	maxSourceCode = 59
)

// redacted replaces secrets in String output.
const redacted = "[redacted]"

// Config is the root configuration structure for the Pioneer bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig       `yaml:"site"`
	Bridge    BridgeConfig     `yaml:"bridge"`
	Database  DatabaseConfig   `yaml:"database"`
	MQTT      MQTTConfig       `yaml:"mqtt"`
	API       APIConfig        `yaml:"api"`
	WebSocket WebSocketConfig  `yaml:"websocket"`
	InfluxDB  InfluxDBConfig   `yaml:"influxdb"`
	Logging   LoggingConfig    `yaml:"logging"`
	Security  SecurityConfig   `yaml:"security"`
	Receivers []ReceiverConfig `yaml:"receivers"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// BridgeConfig contains polling and health settings.
type BridgeConfig struct {
	ID               string `yaml:"id"`
	PollInterval     int    `yaml:"poll_interval"`     // seconds
	HealthInterval   int    `yaml:"health_interval"`   // seconds
	CommandTimeout   int    `yaml:"command_timeout"`   // seconds
	HistoryRetention int    `yaml:"history_retention"` // days, 0 keeps forever
}

// ReceiverConfig describes one Pioneer receiver.
type ReceiverConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`

	// Transport is "tcp" (default) or "serial".
	Transport string `yaml:"transport"`

	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	Timeout int    `yaml:"timeout"` // seconds

	SerialPort string `yaml:"serial_port"`
	BaudRate   int    `yaml:"baud_rate"`

	// Sources maps input names to two-digit codes. Empty means discover.
	Sources map[string]string `yaml:"sources"`

	// FakeVolumeSet emulates absolute volume with VU/VD steps.
	FakeVolumeSet bool `yaml:"fake_volume_set"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`

	// APIKeyHash is the argon2id PHC hash of the API key exchanged for
	// tokens. Empty disables token issuance.
	APIKeyHash string `yaml:"api_key_hash"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"` // minutes
}

// Load builds the configuration in three layers: built-in defaults, then
// the YAML file at path, then GRAYLOGIC_* environment variables. Receiver
// defaults are filled before validation so a minimal receiver entry of
// id and host is enough.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	cfg.applyReceiverDefaults()
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "site-001",
			Name: "Gray Logic",
		},
		Bridge: BridgeConfig{
			ID:             "pioneer",
			PollInterval:   10,
			HealthInterval: 30,
			CommandTimeout: 60,
		},
		Database: DatabaseConfig{
			Path:        "./data/pioneer.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-pioneer",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 90,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 60,
			},
		},
	}
}

// applyReceiverDefaults fills per-receiver zero values.
func (c *Config) applyReceiverDefaults() {
	for i := range c.Receivers {
		r := &c.Receivers[i]
		if r.Transport == "" {
			r.Transport = TransportTCP
		}
		if r.Port == 0 {
			r.Port = defaultReceiverPort
		}
		if r.Timeout == 0 {
			r.Timeout = defaultReceiverTimeout
		}
		if r.BaudRate == 0 {
			r.BaudRate = defaultBaudRate
		}
	}
}

// envOverrides binds environment variables to config fields. Secrets
// belong here rather than in the YAML file.
func envOverrides(cfg *Config) (strs map[string]*string, ints map[string]*int) {
	strs = map[string]*string{
		"GRAYLOGIC_DATABASE_PATH":  &cfg.Database.Path,
		"GRAYLOGIC_MQTT_HOST":      &cfg.MQTT.Broker.Host,
		"GRAYLOGIC_MQTT_CLIENT_ID": &cfg.MQTT.Broker.ClientID,
		"GRAYLOGIC_MQTT_USERNAME":  &cfg.MQTT.Auth.Username,
		"GRAYLOGIC_MQTT_PASSWORD":  &cfg.MQTT.Auth.Password,
		"GRAYLOGIC_API_HOST":       &cfg.API.Host,
		"GRAYLOGIC_INFLUXDB_URL":   &cfg.InfluxDB.URL,
		"GRAYLOGIC_INFLUXDB_TOKEN": &cfg.InfluxDB.Token,
		"GRAYLOGIC_JWT_SECRET":     &cfg.Security.JWT.Secret,
		"GRAYLOGIC_API_KEY_HASH":   &cfg.Security.APIKeyHash,
		"GRAYLOGIC_LOG_LEVEL":      &cfg.Logging.Level,
	}
	ints = map[string]*int{
		"GRAYLOGIC_MQTT_PORT":            &cfg.MQTT.Broker.Port,
		"GRAYLOGIC_API_PORT":             &cfg.API.Port,
		"GRAYLOGIC_BRIDGE_POLL_INTERVAL": &cfg.Bridge.PollInterval,
	}
	return strs, ints
}

// applyEnvOverrides copies set, non-empty variables into cfg. Integer
// variables that do not parse are an error rather than silently ignored.
func applyEnvOverrides(cfg *Config) error {
	strs, ints := envOverrides(cfg)
	for name, field := range strs {
		if v := os.Getenv(name); v != "" {
			*field = v
		}
	}
	for name, field := range ints {
		v := os.Getenv(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %q is not an integer", name, v)
		}
		*field = n
	}
	return nil
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Bridge.PollInterval < 1 {
		errs = append(errs, "bridge.poll_interval must be at least 1 second")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Enabled {
		if !validPort(c.API.Port) {
			errs = append(errs, "api.port must be between 1 and 65535")
		}

		// Commands on the API switch physical equipment; tokens must not be forgeable.
		const minJWTSecretLength = 32
		if c.Security.JWT.Secret == "" {
			errs = append(errs, "security.jwt.secret is required when the API is enabled (set GRAYLOGIC_JWT_SECRET environment variable)")
		} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
			errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
		}
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	errs = append(errs, c.validateReceivers()...)

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// validateReceivers checks receiver ids, addressing and source codes.
func (c *Config) validateReceivers() []string {
	var errs []string
	seen := make(map[string]bool, len(c.Receivers))

	for i, r := range c.Receivers {
		prefix := fmt.Sprintf("receivers[%d]", i)

		switch {
		case r.ID == "":
			errs = append(errs, prefix+".id is required")
		case seen[r.ID]:
			errs = append(errs, fmt.Sprintf("%s.id %q is duplicated", prefix, r.ID))
		}
		seen[r.ID] = true

		switch r.Transport {
		case "", TransportTCP:
			if r.Host == "" {
				errs = append(errs, prefix+".host is required for tcp transport")
			}
			if r.Port != 0 && !validPort(r.Port) {
				errs = append(errs, prefix+".port must be between 1 and 65535")
			}
		case TransportSerial:
			if r.SerialPort == "" {
				errs = append(errs, prefix+".serial_port is required for serial transport")
			}
		default:
			errs = append(errs, fmt.Sprintf("%s.transport %q must be tcp or serial", prefix, r.Transport))
		}

		for name, code := range r.Sources {
			if !validSourceCode(code) {
				errs = append(errs, fmt.Sprintf("%s.sources[%s] code %q must be two digits 00-59", prefix, name, code))
			}
		}
	}

	return errs
}

func validPort(p int) bool {
	return p >= 1 && p <= 65535
}

func validSourceCode(code string) bool {
	if len(code) != 2 {
		return false
	}
	n, err := strconv.Atoi(code)
	return err == nil && n >= 0 && n <= maxSourceCode
}

// Redacted returns a copy with secrets replaced, safe for logging.
func (c *Config) Redacted() *Config {
	cp := *c
	if cp.MQTT.Auth.Password != "" {
		cp.MQTT.Auth.Password = redacted
	}
	if cp.InfluxDB.Token != "" {
		cp.InfluxDB.Token = redacted
	}
	if cp.Security.JWT.Secret != "" {
		cp.Security.JWT.Secret = redacted
	}
	if cp.Security.APIKeyHash != "" {
		cp.Security.APIKeyHash = redacted
	}
	return &cp
}

// String renders the redacted configuration as YAML.
func (c *Config) String() string {
	out, err := yaml.Marshal(c.Redacted())
	if err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return string(out)
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// GetPollInterval returns the receiver poll interval as a Duration.
func (c *Config) GetPollInterval() time.Duration {
	return time.Duration(c.Bridge.PollInterval) * time.Second
}

// GetHealthInterval returns the health publish interval as a Duration.
func (c *Config) GetHealthInterval() time.Duration {
	return time.Duration(c.Bridge.HealthInterval) * time.Second
}

// GetCommandTimeout returns the per-command timeout as a Duration.
func (c *Config) GetCommandTimeout() time.Duration {
	return time.Duration(c.Bridge.CommandTimeout) * time.Second
}

// GetHistoryRetention returns how long state history is kept (0 = forever).
func (c *Config) GetHistoryRetention() time.Duration {
	return time.Duration(c.Bridge.HistoryRetention) * 24 * time.Hour
}

// GetTokenTTL returns the access token lifetime as a Duration.
func (c *Config) GetTokenTTL() time.Duration {
	return time.Duration(c.Security.JWT.AccessTokenTTL) * time.Minute
}

// GetTimeout returns the receiver connect timeout as a Duration.
func (r ReceiverConfig) GetTimeout() time.Duration {
	return time.Duration(r.Timeout) * time.Second
}
