package pioneer

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// simReceiver emulates the receiver side of the protocol.
type simReceiver struct {
	mu sync.Mutex

	power  string
	volume int
	muted  bool
	source string
	inputs map[string]string // code → name
	step   int

	// silent lists commands that get no answer.
	silent map[string]bool

	// unsolicited lines are sent before every answer.
	unsolicited []string

	// stepAnswers limits how many VU/VD commands are answered; -1 is unlimited.
	stepAnswers int

	commands []string
}

func newSimReceiver() *simReceiver {
	return &simReceiver{
		power:       "PWR0",
		volume:      92,
		source:      "04",
		inputs:      map[string]string{"04": "CD"},
		step:        2,
		silent:      map[string]bool{},
		stepAnswers: -1,
	}
}

func (s *simReceiver) respond(cmd string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.commands = append(s.commands, cmd)
	if s.silent[cmd] {
		return nil
	}

	answer := s.answer(cmd)
	if answer == "" {
		return nil
	}
	return append(append([]string{}, s.unsolicited...), answer)
}

func (s *simReceiver) answer(cmd string) string {
	switch {
	case cmd == "?P":
		return s.power
	case cmd == "PO":
		s.power = "PWR0"
		return s.power
	case cmd == "PF":
		s.power = "PWR1"
		return s.power
	case cmd == "?V":
		return fmt.Sprintf("VOL%03d", s.volume)
	case cmd == "VU" || cmd == "VD":
		if s.stepAnswers == 0 {
			return ""
		}
		if s.stepAnswers > 0 {
			s.stepAnswers--
		}
		if cmd == "VU" {
			s.volume = min(s.volume+s.step, MaxVolume)
		} else {
			s.volume = max(s.volume-s.step, 0)
		}
		return fmt.Sprintf("VOL%03d", s.volume)
	case strings.HasSuffix(cmd, "VL") && len(cmd) == 5:
		code, err := strconv.Atoi(cmd[:3])
		if err != nil {
			return "E04"
		}
		s.volume = code
		return fmt.Sprintf("VOL%03d", s.volume)
	case cmd == "?M":
		if s.muted {
			return "MUT0"
		}
		return "MUT1"
	case cmd == "MO":
		s.muted = true
		return "MUT0"
	case cmd == "MF":
		s.muted = false
		return "MUT1"
	case cmd == "?F":
		return "FN" + s.source
	case strings.HasSuffix(cmd, "FN") && len(cmd) == 4:
		s.source = cmd[:2]
		return "FN" + s.source
	case strings.HasPrefix(cmd, "?RGB"):
		code := strings.TrimPrefix(cmd, "?RGB")
		if name, ok := s.inputs[code]; ok {
			return "RGB" + code + "1" + name
		}
		return ""
	default:
		return "E04"
	}
}

func (s *simReceiver) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.commands...)
}

func (s *simReceiver) Volume() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

func (s *simReceiver) countCommands(match func(string) bool) int {
	n := 0
	for _, c := range s.Commands() {
		if match(c) {
			n++
		}
	}
	return n
}

// fakeReceiverServer serves a simReceiver over TCP.
type fakeReceiverServer struct {
	ln    net.Listener
	sim   *simReceiver
	wg    sync.WaitGroup
	conns int
	mu    sync.Mutex
}

func newFakeReceiverServer(t *testing.T, sim *simReceiver) *fakeReceiverServer {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &fakeReceiverServer{ln: ln, sim: sim}

	srv.wg.Add(1)
	go srv.acceptLoop()

	t.Cleanup(func() {
		ln.Close()
		srv.wg.Wait()
	})
	return srv
}

func (f *fakeReceiverServer) acceptLoop() {
	defer f.wg.Done()
	for {
		conn, err := f.ln.Accept()
		if err != nil {
			return
		}
		f.mu.Lock()
		f.conns++
		f.mu.Unlock()

		f.wg.Add(1)
		go f.serve(conn)
	}
}

func (f *fakeReceiverServer) serve(conn net.Conn) {
	defer f.wg.Done()
	defer conn.Close()

	r := bufio.NewReader(conn)
	for {
		//nolint:errcheck // test server
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		cmd, err := r.ReadString('\r')
		if err != nil {
			return
		}
		for _, line := range f.sim.respond(strings.TrimSuffix(cmd, "\r")) {
			if _, err := conn.Write([]byte(line + "\r\n")); err != nil {
				return
			}
		}
	}
}

func (f *fakeReceiverServer) Connections() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns
}

func (f *fakeReceiverServer) Config() Config {
	addr := f.ln.Addr().(*net.TCPAddr)
	return Config{
		Name:    "Test AVR",
		Host:    "127.0.0.1",
		Port:    addr.Port,
		Timeout: time.Second,
	}
}

// scriptTransport is an in-memory Transport driven by a respond func.
// Reads with nothing queued fail immediately with a deadline error.
type scriptTransport struct {
	mu      sync.Mutex
	respond func(string) []string
	partial string
	pending bytes.Buffer
	written bytes.Buffer
	closed  bool
}

func (s *scriptTransport) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, net.ErrClosed
	}
	s.written.Write(p)
	s.partial += string(p)
	for {
		i := strings.IndexByte(s.partial, '\r')
		if i < 0 {
			break
		}
		cmd := s.partial[:i]
		s.partial = s.partial[i+1:]
		if s.respond == nil {
			continue
		}
		for _, line := range s.respond(cmd) {
			s.pending.WriteString(line + "\r\n")
		}
	}
	return len(p), nil
}

func (s *scriptTransport) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, net.ErrClosed
	}
	if s.pending.Len() == 0 {
		return 0, os.ErrDeadlineExceeded
	}
	return s.pending.Read(p)
}

func (s *scriptTransport) SetReadDeadline(time.Time) error { return nil }

func (s *scriptTransport) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *scriptTransport) Written() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written.String()
}

func (s *scriptTransport) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// scriptDialer hands out scriptTransports, failing the first failures dials.
type scriptDialer struct {
	mu       sync.Mutex
	respond  func(string) []string
	failures int // -1 fails forever
	dials    int
	opened   []*scriptTransport
}

var errRefused = errors.New("connection refused")

func (d *scriptDialer) Dial(ctx context.Context, _ time.Duration) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dials++
	if d.failures != 0 {
		if d.failures > 0 {
			d.failures--
		}
		return nil, errRefused
	}
	t := &scriptTransport{respond: d.respond}
	d.opened = append(d.opened, t)
	return t, nil
}

func (d *scriptDialer) Address() string { return "script" }

func (d *scriptDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *scriptDialer) Opened() []*scriptTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*scriptTransport{}, d.opened...)
}

// fastPolicy keeps retry tests quick.
var fastPolicy = RetryPolicy{MaxAttempts: 5, Delay: time.Millisecond}

// newScriptDevice builds a device over a scriptDialer.
func newScriptDevice(t *testing.T, cfg Config, dialer *scriptDialer) *Device {
	t.Helper()
	if cfg.Host == "" {
		cfg.Host = "script"
	}
	d, err := New(cfg,
		WithDialer(dialer),
		WithRetryPolicy(fastPolicy),
		WithResponseTimeout(10*time.Millisecond))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return d
}
