package pioneer

import (
	"bufio"
	"errors"
	"net"
	"os"
	"strings"
	"time"
)

// Codec defaults.
const (
	// DefaultResponseTimeout bounds each line read while waiting for a response.
	DefaultResponseTimeout = 200 * time.Millisecond

	// responseLines is how many lines are inspected per request. Receivers
	// interleave unsolicited status lines with answers.
	responseLines = 3

	// drainWindow is how long fire-and-forget commands wait for an echo.
	drainWindow = 20 * time.Millisecond

	// drainBufferSize is the scratch buffer for discarded echoes.
	drainBufferSize = 512
)

// Codec frames commands and matches responses on one open transport.
// It is not safe for concurrent use.
type Codec struct {
	t               Transport
	r               *bufio.Reader
	responseTimeout time.Duration
}

// NewCodec wraps an open transport.
// A zero responseTimeout uses DefaultResponseTimeout.
func NewCodec(t Transport, responseTimeout time.Duration) *Codec {
	if responseTimeout <= 0 {
		responseTimeout = DefaultResponseTimeout
	}
	return &Codec{
		t:               t,
		r:               bufio.NewReader(t),
		responseTimeout: responseTimeout,
	}
}

// Send writes an ASCII command terminated by CR.
func (c *Codec) Send(command string) error {
	_, err := c.t.Write([]byte(command + "\r"))
	return err
}

// RequestResponse sends command and returns the first line starting with
// prefix among the next few lines received.
//
// A missing answer is not an error: the second return is false when no
// matching line arrived in time, the write failed, or the connection closed.
func (c *Codec) RequestResponse(command, prefix string) (string, bool) {
	if err := c.Send(command); err != nil {
		return "", false
	}

	for range responseLines {
		line, err := c.readLine()
		if line != "" && strings.HasPrefix(line, prefix) {
			return line, true
		}
		if err != nil && !isTimeout(err) {
			return "", false
		}
	}
	return "", false
}

// FireAndForget sends command and discards any immediate echo.
func (c *Codec) FireAndForget(command string) error {
	if err := c.Send(command); err != nil {
		return err
	}
	c.drain()
	return nil
}

// Close closes the underlying transport.
func (c *Codec) Close() error {
	return c.t.Close()
}

// readLine reads one CRLF-terminated line within the response timeout.
// On timeout, whatever partial data arrived is returned with the error.
func (c *Codec) readLine() (string, error) {
	if err := c.t.SetReadDeadline(time.Now().Add(c.responseTimeout)); err != nil {
		return "", err
	}
	raw, err := c.r.ReadString('\n')
	return strings.TrimSpace(raw), err
}

// drain discards buffered bytes plus one short read from the transport.
func (c *Codec) drain() {
	if n := c.r.Buffered(); n > 0 {
		//nolint:errcheck // discarding buffered bytes cannot fail
		c.r.Discard(n)
	}
	if err := c.t.SetReadDeadline(time.Now().Add(drainWindow)); err != nil {
		return
	}
	buf := make([]byte, drainBufferSize)
	//nolint:errcheck // best-effort drain, response is ignored
	c.r.Read(buf)
}

// isTimeout reports whether err is a read deadline expiry.
func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
