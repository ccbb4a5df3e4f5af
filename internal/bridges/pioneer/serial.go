package pioneer

import (
	"context"
	"os"
	"sync"
	"time"

	"go.bug.st/serial"
)

// DefaultBaudRate is the receiver RS-232 default.
const DefaultBaudRate = 9600

// Ensure SerialDialer implements Dialer.
var _ Dialer = SerialDialer{}

// SerialDialer opens the receiver's RS-232 port. The serial protocol is the
// same ASCII command set as telnet.
type SerialDialer struct {
	Port     string
	BaudRate int
}

// Dial opens the serial port with 8N1 framing. The timeout is unused since
// opening a local port does not block on the receiver.
func (d SerialDialer) Dial(ctx context.Context, _ time.Duration) (Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	baud := d.BaudRate
	if baud == 0 {
		baud = DefaultBaudRate
	}

	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(d.Port, mode)
	if err != nil {
		return nil, err
	}
	return &serialTransport{port: port}, nil
}

// Address returns the device path.
func (d SerialDialer) Address() string {
	return d.Port
}

// serialTransport adapts serial.Port to Transport.
// serial.Port has a per-read timeout rather than a deadline, and reports an
// expired timeout as (0, nil).
type serialTransport struct {
	port serial.Port

	mu       sync.Mutex
	deadline time.Time
}

func (s *serialTransport) Read(p []byte) (int, error) {
	s.mu.Lock()
	deadline := s.deadline
	s.mu.Unlock()

	timeout := serial.NoTimeout
	if !deadline.IsZero() {
		timeout = time.Until(deadline)
		if timeout <= 0 {
			return 0, os.ErrDeadlineExceeded
		}
	}
	if err := s.port.SetReadTimeout(timeout); err != nil {
		return 0, err
	}

	n, err := s.port.Read(p)
	if err != nil {
		return n, err
	}
	if n == 0 {
		return 0, os.ErrDeadlineExceeded
	}
	return n, nil
}

func (s *serialTransport) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

func (s *serialTransport) SetReadDeadline(t time.Time) error {
	s.mu.Lock()
	s.deadline = t
	s.mu.Unlock()
	return nil
}

func (s *serialTransport) Close() error {
	return s.port.Close()
}
