package pioneer

import (
	"encoding/json"
	"fmt"
	"time"
)

// Protocol names this bridge in topics and in every message envelope.
const Protocol = "pioneer"

// CommandMessage asks the bridge to act on one receiver. It arrives on
// graylogic/command/pioneer/{device_id}, from the API or over the
// WebSocket. ID is echoed in the ack as CommandID.
//
// Parameters by command:
//
//	set_volume     {"level": 0.35}   0.0 to 1.0
//	select_source  {"source": "CD"}  a name from the source list
type CommandMessage struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	DeviceID   string         `json:"device_id"`
	Command    string         `json:"command"`
	Parameters map[string]any `json:"parameters,omitempty"`

	// Source is the originating surface: "api", "websocket", "cli", or
	// whatever Core sets.
	Source string `json:"source"`
	UserID string `json:"user_id,omitempty"`
}

// Command names accepted by the bridge.
const (
	CommandOn           = "on"
	CommandOff          = "off"
	CommandVolumeUp     = "volume_up"
	CommandVolumeDown   = "volume_down"
	CommandSetVolume    = "set_volume"
	CommandMute         = "mute"
	CommandUnmute       = "unmute"
	CommandSelectSource = "select_source"
)

// AckStatus is the outcome of a command. "accepted" means the receiver
// was sent the command; it does not mean the receiver obeyed.
type AckStatus string

const (
	AckAccepted AckStatus = "accepted"
	AckFailed   AckStatus = "failed"
	AckTimeout  AckStatus = "timeout"
)

// AckMessage answers a CommandMessage on graylogic/ack/pioneer/{device_id}.
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`
	Status    AckStatus `json:"status"`
	Protocol  string    `json:"protocol"`

	// Address is host:port, or the serial device path.
	Address string    `json:"address"`
	Error   *AckError `json:"error,omitempty"`
}

// AckError explains a failed or timed-out command. Retries counts the
// connection attempts made before giving up.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Retries int    `json:"retries,omitempty"`
}

// AckError codes.
const (
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeUnknownSource     = "UNKNOWN_SOURCE"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeNotConfigured     = "NOT_CONFIGURED"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// StateMessage is published retained at QoS 1 on
// graylogic/state/pioneer/{device_id} whenever the polled state differs
// from the last one published. A typical State:
//
//	{"power": "on", "on": true, "volume": 0.497, "volume_code": 92,
//	 "muted": false, "source": "CD"}
type StateMessage struct {
	DeviceID  string         `json:"device_id"`
	Timestamp time.Time      `json:"timestamp"`
	State     map[string]any `json:"state"`

	Protocol string `json:"protocol"`
	Address  string `json:"address"`
}

// HealthStatus is the bridge's self-assessment. Offline only ever comes
// from the broker publishing the LWT.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthOffline   HealthStatus = "offline"
	HealthStarting  HealthStatus = "starting"
	HealthStopping  HealthStatus = "stopping"
)

// HealthMessage is retained on graylogic/health/pioneer.
type HealthMessage struct {
	Bridge         string            `json:"bridge"`
	Timestamp      time.Time         `json:"timestamp"`
	Status         HealthStatus      `json:"status"`
	Version        string            `json:"version"`
	UptimeSeconds  int64             `json:"uptime_seconds"`
	Statistics     *BridgeStatistics `json:"statistics,omitempty"`
	DevicesManaged int               `json:"devices_managed"`
	DevicesOnline  int               `json:"devices_online"`
	Reason         string            `json:"reason,omitempty"`
}

// BridgeStatistics are cumulative since the process started.
type BridgeStatistics struct {
	Polls           uint64 `json:"polls"`
	PollFailures    uint64 `json:"poll_failures"`
	CommandsSent    uint64 `json:"commands_sent"`
	CommandFailures uint64 `json:"command_failures"`
	ConnectAttempts uint64 `json:"connect_attempts"`
	ConnectFailures uint64 `json:"connect_failures"`
	StatesPublished uint64 `json:"states_published"`
}

// RequestMessage is a query on graylogic/request/pioneer/{request_id}.
// The answer goes to the matching response topic.
type RequestMessage struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`

	DeviceID   string         `json:"device_id,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// Request actions accepted by the bridge.
const (
	ActionReadState   = "read_state"
	ActionListSources = "list_sources"
)

// ResponseMessage answers a RequestMessage.
type ResponseMessage struct {
	RequestID string         `json:"request_id"`
	Timestamp time.Time      `json:"timestamp"`
	Success   bool           `json:"success"`
	Data      map[string]any `json:"data,omitempty"`
	Error     *ResponseError `json:"error,omitempty"`
}

type ResponseError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// DiscoveryMessage lists the configured receivers once they have been
// polled, so Core can offer them without manual setup.
type DiscoveryMessage struct {
	Timestamp time.Time          `json:"timestamp"`
	Bridge    string             `json:"bridge"`
	Devices   []DiscoveredDevice `json:"devices"`
}

// DiscoveredDevice describes one receiver and its inputs.
type DiscoveredDevice struct {
	Protocol      string   `json:"protocol"`
	Address       string   `json:"address"`
	DeviceID      string   `json:"device_id"`
	Type          string   `json:"type"`
	Capabilities  []string `json:"capabilities"`
	Sources       []string `json:"sources,omitempty"`
	Manufacturer  string   `json:"manufacturer,omitempty"`
	SuggestedName string   `json:"suggested_name,omitempty"`
}

// MarshalJSON writes the timestamp as RFC3339 in UTC.
func (m *CommandMessage) MarshalJSON() ([]byte, error) {
	type Alias CommandMessage
	return json.Marshal(&struct {
		*Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias:     (*Alias)(m),
		Timestamp: m.Timestamp.UTC().Format(time.RFC3339),
	})
}

// UnmarshalJSON tolerates a missing or empty timestamp, which leaves it
// zero.
func (m *CommandMessage) UnmarshalJSON(data []byte) error {
	type Alias CommandMessage
	aux := &struct {
		*Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias: (*Alias)(m),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return fmt.Errorf("unmarshal command message: %w", err)
	}
	if aux.Timestamp != "" {
		t, err := time.Parse(time.RFC3339, aux.Timestamp)
		if err != nil {
			return fmt.Errorf("parse timestamp: %w", err)
		}
		m.Timestamp = t
	}
	return nil
}

// NewAckMessage acknowledges cmd with status.
func NewAckMessage(cmd CommandMessage, status AckStatus, address string) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  cmd.DeviceID,
		Status:    status,
		Protocol:  Protocol,
		Address:   address,
	}
}

// NewAckError builds a failed ack, or a timeout ack for ErrCodeTimeout.
func NewAckError(cmd CommandMessage, address, code, message string, retries int) AckMessage {
	status := AckFailed
	if code == ErrCodeTimeout {
		status = AckTimeout
	}
	ack := NewAckMessage(cmd, status, address)
	ack.Error = &AckError{
		Code:    code,
		Message: message,
		Retries: retries,
	}
	return ack
}

// NewStateMessage stamps state for deviceID with the current time.
func NewStateMessage(deviceID, address string, state map[string]any) StateMessage {
	return StateMessage{
		DeviceID:  deviceID,
		Timestamp: time.Now().UTC(),
		State:     state,
		Protocol:  Protocol,
		Address:   address,
	}
}

// NewLWTMessage is the offline health the broker publishes for the bridge
// if its session drops without a clean disconnect.
func NewLWTMessage(bridgeID string) HealthMessage {
	return HealthMessage{
		Bridge:    bridgeID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}
