package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-pioneer/internal/auth"
	"github.com/nerrad567/gray-logic-pioneer/internal/bridges/pioneer"
)

// fakeAVR answers the receiver protocol over TCP for a fixed input list.
type fakeAVR struct {
	ln net.Listener

	mu       sync.Mutex
	power    string
	volume   int
	muted    bool
	source   string
	commands []string
}

func newFakeAVR(t *testing.T) *fakeAVR {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	f := &fakeAVR{ln: ln, power: "PWR0", volume: 92, source: "01"}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				f.serve(conn)
			}()
		}
	}()
	t.Cleanup(func() {
		ln.Close()
		wg.Wait()
	})
	return f
}

func (f *fakeAVR) serve(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second)) //nolint:errcheck // test server
		line, err := r.ReadString('\r')
		if err != nil {
			return
		}
		if answer := f.answer(strings.TrimSuffix(line, "\r")); answer != "" {
			if _, err := conn.Write([]byte(answer + "\r\n")); err != nil {
				return
			}
		}
	}
}

func (f *fakeAVR) answer(cmd string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, cmd)

	switch {
	case cmd == "?P":
		return f.power
	case cmd == "PO":
		f.power = "PWR0"
		return f.power
	case cmd == "PF":
		f.power = "PWR1"
		return f.power
	case cmd == "?V":
		return fmt.Sprintf("VOL%03d", f.volume)
	case cmd == "VU":
		f.volume += 2
		return fmt.Sprintf("VOL%03d", f.volume)
	case cmd == "VD":
		f.volume -= 2
		return fmt.Sprintf("VOL%03d", f.volume)
	case strings.HasSuffix(cmd, "VL") && len(cmd) == 5:
		code, err := strconv.Atoi(cmd[:3])
		if err != nil {
			return "E04"
		}
		f.volume = code
		return fmt.Sprintf("VOL%03d", f.volume)
	case cmd == "?M":
		if f.muted {
			return "MUT0"
		}
		return "MUT1"
	case cmd == "MO":
		f.muted = true
		return "MUT0"
	case cmd == "MF":
		f.muted = false
		return "MUT1"
	case cmd == "?F":
		return "FN" + f.source
	case strings.HasSuffix(cmd, "FN") && len(cmd) == 4:
		f.source = cmd[:2]
		return "FN" + f.source
	default:
		return "E04"
	}
}

func (f *fakeAVR) sent(cmd string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.commands {
		if c == cmd {
			return true
		}
	}
	return false
}

func (f *fakeAVR) port() int {
	return f.ln.Addr().(*net.TCPAddr).Port
}

// testOptions returns options with short retries so failures are quick.
func testOptions() *options {
	return &options{
		deviceOpts: []pioneer.Option{
			pioneer.WithRetryPolicy(pioneer.RetryPolicy{MaxAttempts: 2, Delay: 10 * time.Millisecond}),
		},
	}
}

// execute runs pioneerctl against avr and returns stdout.
func execute(t *testing.T, avr *fakeAVR, args ...string) (string, error) {
	t.Helper()

	root := buildRootCmd(testOptions())
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetIn(strings.NewReader(""))

	base := []string{"--host", "127.0.0.1", "--timeout", "1s", "--sources", "CD=01,BD=25,TUNER=02"}
	if avr != nil {
		base = append(base, "--port", strconv.Itoa(avr.port()))
	}
	root.SetArgs(append(base, args...))

	err := root.ExecuteContext(context.Background())
	return stdout.String(), err
}

func TestStatus(t *testing.T) {
	avr := newFakeAVR(t)

	out, err := execute(t, avr, "status")
	if err != nil {
		t.Fatalf("status error = %v", err)
	}

	for _, want := range []string{"power:   on", "volume:  0.497 (092)", "muted:   false", "source:  CD"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestCommands(t *testing.T) {
	tests := []struct {
		args     []string
		wantCmd  string
		wantLine string
	}{
		{[]string{"power", "off"}, "PF", "power:   off"},
		{[]string{"power", "on"}, "PO", "power:   on"},
		{[]string{"volume", "set", "0.5"}, "093VL", "volume:  0.503 (093)"},
		{[]string{"volume", "up"}, "VU", "(094)"},
		{[]string{"volume", "down"}, "VD", "(090)"},
		{[]string{"mute", "on"}, "MO", "muted:   true"},
		{[]string{"mute", "off"}, "MF", "muted:   false"},
		{[]string{"source", "select", "BD"}, "25FN", "source:  BD"},
	}

	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			avr := newFakeAVR(t)

			out, err := execute(t, avr, tt.args...)
			if err != nil {
				t.Fatalf("error = %v", err)
			}
			if !avr.sent(tt.wantCmd) {
				t.Errorf("receiver did not get %q", tt.wantCmd)
			}
			if !strings.Contains(out, tt.wantLine) {
				t.Errorf("output missing %q:\n%s", tt.wantLine, out)
			}
		})
	}
}

func TestSourceList(t *testing.T) {
	avr := newFakeAVR(t)

	out, err := execute(t, avr, "source", "list")
	if err != nil {
		t.Fatalf("source list error = %v", err)
	}
	for _, name := range []string{"CD", "BD", "TUNER"} {
		if !strings.Contains(out, name+"\n") {
			t.Errorf("output missing %q:\n%s", name, out)
		}
	}
}

func TestCommandErrors(t *testing.T) {
	avr := newFakeAVR(t)

	tests := []struct {
		args    []string
		wantErr error
	}{
		{[]string{"volume", "set", "loud"}, errUsage},
		{[]string{"volume", "set", "1.5"}, pioneer.ErrInvalidVolume},
		{[]string{"source", "select", "VINYL"}, pioneer.ErrUnknownSource},
		{[]string{"power", "maybe"}, nil},
		{[]string{"mute"}, nil},
	}

	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			_, err := execute(t, avr, tt.args...)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	root := buildRootCmd(testOptions())
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"--host", "127.0.0.1", "--port", strconv.Itoa(port), "--timeout", "200ms", "status"})

	err = root.Execute()
	if !errors.Is(err, pioneer.ErrNotReady) {
		t.Errorf("error = %v, want ErrNotReady", err)
	}
}

// scriptedLines feeds fixed lines to the shell loop.
type scriptedLines struct {
	lines []string
}

func (s *scriptedLines) Readline() (string, error) {
	if len(s.lines) == 0 {
		return "", io.EOF
	}
	line := s.lines[0]
	s.lines = s.lines[1:]
	return line, nil
}

func TestShellLoop(t *testing.T) {
	avr := newFakeAVR(t)

	o := testOptions()
	o.host = "127.0.0.1"
	o.port = avr.port()
	o.timeout = time.Second
	o.sources = map[string]string{"CD": "01", "BD": "25"}
	dev, err := pioneer.Setup(context.Background(), o.deviceConfig(), o.deviceOpts...)
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	var out bytes.Buffer
	lines := &scriptedLines{lines: []string{"", "help", "power off", "bogus", "source select BD", "exit", "power on"}}
	if err := shellLoop(context.Background(), dev, lines, &out); err != nil {
		t.Fatalf("shellLoop() error = %v", err)
	}

	if !avr.sent("PF") || !avr.sent("25FN") {
		t.Error("shell commands not sent")
	}
	if avr.sent("PO") {
		t.Error("command after exit was run")
	}
	if !strings.Contains(out.String(), `error: usage: unknown command "bogus"`) {
		t.Errorf("output missing bogus error:\n%s", out.String())
	}
	if c := strings.Count(out.String(), "Commands:"); c != 2 {
		t.Errorf("help printed %d times, want 2", c)
	}
}

func TestCandidate(t *testing.T) {
	tests := []struct {
		name      string
		c         candidate
		match     string
		wantMatch bool
		wantHost  string
	}{
		{
			name:      "instance name",
			c:         candidate{Instance: "Pioneer VSX-930", Host: "vsx930.local.", Addresses: []string{"fe80::1", "192.168.1.50"}},
			match:     "pioneer",
			wantMatch: true,
			wantHost:  "192.168.1.50",
		},
		{
			name:      "txt record",
			c:         candidate{Instance: "Living Room", Host: "avr.local.", Text: []string{"manufacturer=PIONEER"}},
			match:     "Pioneer",
			wantMatch: true,
			wantHost:  "avr.local",
		},
		{
			name:      "other device",
			c:         candidate{Instance: "Printer", Host: "printer.local.", Addresses: []string{"fe80::2"}},
			match:     "Pioneer",
			wantMatch: false,
			wantHost:  "fe80::2",
		},
		{
			name:      "empty pattern",
			c:         candidate{Instance: "Printer"},
			match:     "",
			wantMatch: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.c.matches(tt.match); got != tt.wantMatch {
				t.Errorf("matches(%q) = %v, want %v", tt.match, got, tt.wantMatch)
			}
			if got := tt.c.controlHost(); got != tt.wantHost {
				t.Errorf("controlHost() = %q, want %q", got, tt.wantHost)
			}
		})
	}
}

func TestPrintCandidates(t *testing.T) {
	var buf bytes.Buffer
	printCandidates(&buf, nil)
	if buf.String() != "no receivers found\n" {
		t.Errorf("empty output = %q", buf.String())
	}

	buf.Reset()
	printCandidates(&buf, sortedCandidates(map[string]candidate{
		"b": {Instance: "Pioneer B", Host: "b.local.", Port: 80, Addresses: []string{"192.168.1.51"}},
		"a": {Instance: "Pioneer A", Host: "a.local.", Port: 80, Addresses: []string{"192.168.1.50"}},
	}))
	out := buf.String()
	if strings.Index(out, "Pioneer A") > strings.Index(out, "Pioneer B") {
		t.Errorf("candidates not sorted:\n%s", out)
	}
	if !strings.Contains(out, "host: 192.168.1.50") {
		t.Errorf("output missing host:\n%s", out)
	}
}

func TestTokenCmd(t *testing.T) {
	const secret = "test-secret-key-at-least-32-characters-long"

	root := newRootCmd()
	var stdout bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"token", "--secret", secret, "--subject", "panel", "--role", "viewer", "--ttl", "10m"})
	if err := root.Execute(); err != nil {
		t.Fatalf("token error = %v", err)
	}

	claims, err := auth.ParseToken(strings.TrimSpace(stdout.String()), secret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != "panel" || claims.Role != auth.RoleViewer {
		t.Errorf("claims = %s/%s, want panel/viewer", claims.Subject, claims.Role)
	}
	if ttl := time.Until(claims.ExpiresAt.Time); ttl > 10*time.Minute || ttl < 9*time.Minute {
		t.Errorf("ttl = %v, want about 10m", ttl)
	}
}

func TestTokenCmd_Errors(t *testing.T) {
	t.Setenv("GRAYLOGIC_JWT_SECRET", "")

	tests := []struct {
		name string
		args []string
	}{
		{"no secret", []string{"token"}},
		{"short secret", []string{"token", "--secret", "short"}},
		{"bad role", []string{"token", "--secret", "test-secret-key-at-least-32-characters-long", "--role", "admin"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := newRootCmd()
			root.SetOut(io.Discard)
			root.SetErr(io.Discard)
			root.SetArgs(tt.args)
			if err := root.Execute(); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestHashKeyCmd(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		stdin string
	}{
		{"argument", []string{"hash-key", "installer-key"}, ""},
		{"stdin", []string{"hash-key"}, "installer-key\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := newRootCmd()
			var stdout bytes.Buffer
			root.SetOut(&stdout)
			root.SetIn(strings.NewReader(tt.stdin))
			root.SetArgs(tt.args)
			if err := root.Execute(); err != nil {
				t.Fatalf("hash-key error = %v", err)
			}
			if err := auth.VerifyAPIKey("installer-key", strings.TrimSpace(stdout.String())); err != nil {
				t.Errorf("VerifyAPIKey() error = %v", err)
			}
		})
	}

	root := newRootCmd()
	root.SetOut(io.Discard)
	root.SetIn(strings.NewReader("\n"))
	root.SetArgs([]string{"hash-key"})
	if err := root.Execute(); err == nil {
		t.Error("empty key accepted")
	}
}
