package pioneer

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ziutek/telnet"
)

// DefaultConnectTimeout bounds a single dial when no timeout is configured.
const DefaultConnectTimeout = 5 * time.Second

// Logger interface for optional logging.
// Satisfied by *logging.Logger.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Transport is one open byte stream to a receiver.
// It lives for a single operation and is closed when the operation ends.
type Transport interface {
	io.ReadWriteCloser

	// SetReadDeadline bounds the next Read. Expired reads must return an
	// error satisfying os.ErrDeadlineExceeded or net.Error.Timeout.
	SetReadDeadline(t time.Time) error
}

// Dialer opens transports to one receiver.
type Dialer interface {
	// Dial opens a new transport, giving up after timeout.
	Dial(ctx context.Context, timeout time.Duration) (Transport, error)

	// Address describes the endpoint for logs and health messages.
	Address() string
}

// Ensure TelnetDialer implements Dialer.
var _ Dialer = TelnetDialer{}

// TelnetDialer connects over TCP with telnet option negotiation handled.
// Receivers occasionally send IAC sequences on connect; the telnet
// connection strips them before the codec sees any bytes.
type TelnetDialer struct {
	Host string
	Port int
}

// Dial opens a telnet session. The timeout is shortened to the context
// deadline when that is sooner.
func (d TelnetDialer) Dial(ctx context.Context, timeout time.Duration) (Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	conn, err := telnet.DialTimeout("tcp", d.Address(), timeout)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Address returns host:port.
func (d TelnetDialer) Address() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}

// ConnectionStats contains connection counters for health reporting.
type ConnectionStats struct {
	Attempts      uint64
	Failures      uint64
	Exhausted     uint64
	Connected     bool // true if the most recent Open succeeded
	LastConnected time.Time
}

// ConnectionManager opens transports with bounded retries.
//
// Thread Safety: Open and Stats are safe for concurrent use, though the
// owning Device is not.
type ConnectionManager struct {
	dialer  Dialer
	timeout time.Duration
	policy  RetryPolicy
	name    string
	logger  Logger

	attempts  atomic.Uint64
	failures  atomic.Uint64
	exhausted atomic.Uint64

	lastMu        sync.RWMutex
	connected     bool
	lastConnected time.Time

	// onFailure is called once per failed dial (metrics hook).
	onFailure func()
}

// NewConnectionManager creates a manager for one receiver.
//
// Parameters:
//   - name: Receiver display name used in log messages
//   - dialer: Endpoint to connect to
//   - timeout: Per-dial timeout; zero uses DefaultConnectTimeout
//   - policy: Retry policy for refused connections
//   - logger: Optional logger (may be nil)
func NewConnectionManager(name string, dialer Dialer, timeout time.Duration, policy RetryPolicy, logger Logger) *ConnectionManager {
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	return &ConnectionManager{
		dialer:  dialer,
		timeout: timeout,
		policy:  policy,
		name:    name,
		logger:  logger,
	}
}

// Open dials the receiver, retrying per the policy.
//
// Returns:
//   - Transport: Open transport; the caller must Close it
//   - error: Wraps ErrConnectionFailed when every attempt failed
func (m *ConnectionManager) Open(ctx context.Context) (Transport, error) {
	var transport Transport

	attempts, err := m.policy.Do(ctx, func(attempt int) error {
		t, dialErr := m.dial(ctx, attempt)
		if dialErr != nil {
			return dialErr
		}
		transport = t
		return nil
	})

	if err != nil {
		m.exhausted.Add(1)
		m.logWarn("receiver still refusing connection",
			"device", m.name,
			"address", m.dialer.Address(),
			"attempts", attempts)
		return nil, fmt.Errorf("%w: %s after %d attempts: %w", ErrConnectionFailed, m.dialer.Address(), attempts, err)
	}

	return transport, nil
}

// dial makes a single connection attempt and records its outcome.
// Callers that run their own retry loop around a whole exchange use this
// instead of Open so attempts are not nested.
func (m *ConnectionManager) dial(ctx context.Context, attempt int) (Transport, error) {
	m.attempts.Add(1)

	t, err := m.dialer.Dial(ctx, m.timeout)
	if err != nil {
		m.failures.Add(1)
		m.setConnected(false)
		if m.onFailure != nil {
			m.onFailure()
		}
		m.logWarn("receiver refused connection",
			"device", m.name,
			"address", m.dialer.Address(),
			"attempt", attempt,
			"error", err)
		return nil, err
	}

	m.setConnected(true)
	return t, nil
}

// Stats returns a snapshot of the connection counters.
func (m *ConnectionManager) Stats() ConnectionStats {
	m.lastMu.RLock()
	defer m.lastMu.RUnlock()

	return ConnectionStats{
		Attempts:      m.attempts.Load(),
		Failures:      m.failures.Load(),
		Exhausted:     m.exhausted.Load(),
		Connected:     m.connected,
		LastConnected: m.lastConnected,
	}
}

// Address returns the dialer's endpoint description.
func (m *ConnectionManager) Address() string {
	return m.dialer.Address()
}

func (m *ConnectionManager) setConnected(ok bool) {
	m.lastMu.Lock()
	m.connected = ok
	if ok {
		m.lastConnected = time.Now()
	}
	m.lastMu.Unlock()
}

func (m *ConnectionManager) logWarn(msg string, keysAndValues ...any) {
	if m.logger != nil {
		m.logger.Warn(msg, keysAndValues...)
	}
}
