package pioneer

import (
	"context"
	"errors"
	"math"
	"reflect"
	"strings"
	"testing"
	"time"
)

func newTCPDevice(t *testing.T, srv *fakeReceiverServer, mutate func(*Config)) *Device {
	t.Helper()
	cfg := srv.Config()
	if mutate != nil {
		mutate(&cfg)
	}
	d, err := New(cfg,
		WithRetryPolicy(fastPolicy),
		WithResponseTimeout(100*time.Millisecond))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return d
}

func TestNew_Defaults(t *testing.T) {
	d, err := New(Config{Host: "192.168.1.50"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if d.Name() != DefaultName {
		t.Errorf("Name() = %q, want %q", d.Name(), DefaultName)
	}
	if d.Address() != "192.168.1.50:23" {
		t.Errorf("Address() = %q, want %q", d.Address(), "192.168.1.50:23")
	}
	if d.Power() != PowerOff {
		t.Errorf("Power() = %v, want %v", d.Power(), PowerOff)
	}
	if len(d.SourceList()) != 0 {
		t.Errorf("SourceList() = %v, want empty", d.SourceList())
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing host", Config{}},
		{"missing serial port", Config{Transport: TransportSerial}},
		{"unknown transport", Config{Host: "h", Transport: "udp"}},
		{"bad source code", Config{Host: "h", Sources: map[string]string{"CD": "99"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Error("New() expected error")
			}
		})
	}
}

func TestDevice_UpdateEndToEnd(t *testing.T) {
	sim := newSimReceiver()
	sim.muted = true
	srv := newFakeReceiverServer(t, sim)
	d := newTCPDevice(t, srv, func(c *Config) {
		c.Sources = map[string]string{"CD": "04"}
	})

	if !d.Update(context.Background()) {
		t.Fatal("Update() = false, want true")
	}

	if d.Power() != PowerOn {
		t.Errorf("Power() = %v, want %v", d.Power(), PowerOn)
	}
	vol, ok := d.VolumeLevel()
	if !ok || math.Abs(vol-92.0/185) > 1e-9 {
		t.Errorf("VolumeLevel() = (%v, %v), want (%v, true)", vol, ok, 92.0/185)
	}
	if muted, ok := d.IsMuted(); !ok || !muted {
		t.Errorf("IsMuted() = (%v, %v), want (true, true)", muted, ok)
	}
	if src, ok := d.Source(); !ok || src != "CD" {
		t.Errorf("Source() = (%q, %v), want (CD, true)", src, ok)
	}
	if d.MediaTitle() != "CD" {
		t.Errorf("MediaTitle() = %q, want CD", d.MediaTitle())
	}

	// A seeded catalog skips discovery entirely.
	if n := sim.countCommands(func(c string) bool { return strings.HasPrefix(c, "?RGB") }); n != 0 {
		t.Errorf("discovery queries = %d, want 0", n)
	}
	if srv.Connections() != 1 {
		t.Errorf("connections = %d, want 1", srv.Connections())
	}
}

func TestDevice_UpdateUnansweredQueries(t *testing.T) {
	sim := newSimReceiver()
	sim.silent = map[string]bool{"?P": true, "?V": true, "?M": true, "?F": true}
	dialer := &scriptDialer{respond: sim.respond}
	d := newScriptDevice(t, Config{Sources: map[string]string{"CD": "04"}}, dialer)
	d.state.Power = PowerOn

	if !d.Update(context.Background()) {
		t.Fatal("Update() = false, want true")
	}

	if d.Power() != PowerOn {
		t.Errorf("Power() = %v, want unchanged %v", d.Power(), PowerOn)
	}
	if _, ok := d.VolumeLevel(); ok {
		t.Error("VolumeLevel() known, want unknown")
	}
	if _, ok := d.IsMuted(); ok {
		t.Error("IsMuted() known, want unknown")
	}
	if _, ok := d.Source(); ok {
		t.Error("Source() known, want unknown")
	}
}

func TestDevice_UpdateUnmappedSource(t *testing.T) {
	sim := newSimReceiver()
	sim.source = "19"
	dialer := &scriptDialer{respond: sim.respond}
	d := newScriptDevice(t, Config{Sources: map[string]string{"CD": "04"}}, dialer)

	d.Update(context.Background())

	if src, ok := d.Source(); ok {
		t.Errorf("Source() = %q, want unknown", src)
	}
}

func TestDevice_UpdatePowerCodes(t *testing.T) {
	tests := []struct {
		raw  string
		want PowerState
	}{
		{"PWR0", PowerOn},
		{"PWR1", PowerOff},
		{"PWR2", PowerOff},
		{"PWR9", PowerUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			sim := newSimReceiver()
			sim.power = tt.raw
			d := newScriptDevice(t, Config{Sources: map[string]string{"CD": "04"}}, &scriptDialer{respond: sim.respond})

			d.Update(context.Background())
			if d.Power() != tt.want {
				t.Errorf("Power() = %v, want %v", d.Power(), tt.want)
			}
		})
	}
}

func TestDevice_Discovery(t *testing.T) {
	sim := newSimReceiver()
	sim.inputs = map[string]string{"01": "DVD", "04": "CD", "25": "BD", "59": "NETRADIO"}
	dialer := &scriptDialer{respond: sim.respond}
	d := newScriptDevice(t, Config{}, dialer)

	if !d.Update(context.Background()) {
		t.Fatal("Update() = false, want true")
	}

	want := map[string]string{"DVD": "01", "CD": "04", "BD": "25", "NETRADIO": "59"}
	if got := d.Sources(); !reflect.DeepEqual(got, want) {
		t.Errorf("Sources() = %v, want %v", got, want)
	}
	if got := d.SourceList(); !reflect.DeepEqual(got, []string{"DVD", "CD", "BD", "NETRADIO"}) {
		t.Errorf("SourceList() = %v", got)
	}
	if src, _ := d.Source(); src != "CD" {
		t.Errorf("Source() = %q, want CD", src)
	}

	isDiscovery := func(c string) bool { return strings.HasPrefix(c, "?RGB") }
	if n := sim.countCommands(isDiscovery); n != MaxSourceSlots {
		t.Errorf("discovery queries = %d, want %d", n, MaxSourceSlots)
	}

	// Second poll must not rediscover.
	d.Update(context.Background())
	if n := sim.countCommands(isDiscovery); n != MaxSourceSlots {
		t.Errorf("discovery queries after second update = %d, want %d", n, MaxSourceSlots)
	}
}

func TestDevice_LoadSourcesSkipsDiscovery(t *testing.T) {
	sim := newSimReceiver()
	dialer := &scriptDialer{respond: sim.respond}
	d := newScriptDevice(t, Config{}, dialer)

	if err := d.LoadSources(map[string]string{"CD": "04"}); err != nil {
		t.Fatalf("LoadSources() error = %v", err)
	}
	// Already populated, so a second load is ignored.
	if err := d.LoadSources(map[string]string{"TUNER": "02"}); err != nil {
		t.Fatalf("LoadSources() error = %v", err)
	}

	d.Update(context.Background())

	if n := sim.countCommands(func(c string) bool { return strings.HasPrefix(c, "?RGB") }); n != 0 {
		t.Errorf("discovery queries = %d, want 0", n)
	}
	if got := d.SourceList(); !reflect.DeepEqual(got, []string{"CD"}) {
		t.Errorf("SourceList() = %v, want [CD]", got)
	}
}

func TestDevice_UpdateConnectionFailure(t *testing.T) {
	dialer := &scriptDialer{failures: -1}
	d := newScriptDevice(t, Config{}, dialer)

	if d.Update(context.Background()) {
		t.Error("Update() = true, want false")
	}
	if dialer.Dials() != 5 {
		t.Errorf("dials = %d, want 5", dialer.Dials())
	}
}

func TestDevice_UpdateClosesTransport(t *testing.T) {
	sim := newSimReceiver()
	dialer := &scriptDialer{respond: sim.respond}
	d := newScriptDevice(t, Config{Sources: map[string]string{"CD": "04"}}, dialer)

	d.Update(context.Background())
	if err := d.TurnOn(context.Background()); err != nil {
		t.Fatalf("TurnOn() error = %v", err)
	}

	for i, tr := range dialer.Opened() {
		if !tr.Closed() {
			t.Errorf("transport %d left open", i)
		}
	}
}

func TestSetup(t *testing.T) {
	sim := newSimReceiver()
	srv := newFakeReceiverServer(t, sim)
	cfg := srv.Config()
	cfg.Sources = map[string]string{"CD": "04"}

	d, err := Setup(context.Background(), cfg, WithRetryPolicy(fastPolicy))
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if d.Power() != PowerOn {
		t.Errorf("Power() = %v, want %v", d.Power(), PowerOn)
	}
}

func TestSetup_NotReady(t *testing.T) {
	_, err := Setup(context.Background(), Config{Host: "script"},
		WithDialer(&scriptDialer{failures: -1}),
		WithRetryPolicy(fastPolicy))

	if !errors.Is(err, ErrNotReady) {
		t.Errorf("Setup() error = %v, want %v", err, ErrNotReady)
	}
}

func TestDevice_Commands(t *testing.T) {
	tests := []struct {
		name string
		run  func(context.Context, *Device) error
		want string
	}{
		{"turn on", func(ctx context.Context, d *Device) error { return d.TurnOn(ctx) }, "PO"},
		{"turn off", func(ctx context.Context, d *Device) error { return d.TurnOff(ctx) }, "PF"},
		{"volume up", func(ctx context.Context, d *Device) error { return d.VolumeUp(ctx) }, "VU"},
		{"volume down", func(ctx context.Context, d *Device) error { return d.VolumeDown(ctx) }, "VD"},
		{"mute", func(ctx context.Context, d *Device) error { return d.Mute(ctx) }, "MO"},
		{"unmute", func(ctx context.Context, d *Device) error { return d.Unmute(ctx) }, "MF"},
		{"select source", func(ctx context.Context, d *Device) error { return d.SelectSource(ctx, "CD") }, "04FN"},
		{"absolute volume", func(ctx context.Context, d *Device) error { return d.SetVolume(ctx, 0.5) }, "093VL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim := newSimReceiver()
			dialer := &scriptDialer{respond: sim.respond}
			d := newScriptDevice(t, Config{Sources: map[string]string{"CD": "04"}}, dialer)

			if err := tt.run(context.Background(), d); err != nil {
				t.Fatalf("error = %v", err)
			}
			if got := sim.Commands(); !reflect.DeepEqual(got, []string{tt.want}) {
				t.Errorf("commands = %v, want [%s]", got, tt.want)
			}
		})
	}
}

func TestDevice_CommandsOverTelnet(t *testing.T) {
	sim := newSimReceiver()
	srv := newFakeReceiverServer(t, sim)
	d := newTCPDevice(t, srv, nil)
	ctx := context.Background()

	if err := d.TurnOff(ctx); err != nil {
		t.Fatalf("TurnOff() error = %v", err)
	}
	if err := d.Mute(ctx); err != nil {
		t.Fatalf("Mute() error = %v", err)
	}

	// Commands arrive on separate connections, so wait for the server.
	deadline := time.Now().Add(time.Second)
	for len(sim.Commands()) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := sim.Commands(); !reflect.DeepEqual(got, []string{"PF", "MO"}) {
		t.Errorf("commands = %v, want [PF MO]", got)
	}
	if srv.Connections() != 2 {
		t.Errorf("connections = %d, want 2", srv.Connections())
	}
}

func TestDevice_SelectUnknownSource(t *testing.T) {
	dialer := &scriptDialer{}
	d := newScriptDevice(t, Config{Sources: map[string]string{"CD": "04"}}, dialer)

	err := d.SelectSource(context.Background(), "PHONO")
	if !errors.Is(err, ErrUnknownSource) {
		t.Errorf("SelectSource() error = %v, want %v", err, ErrUnknownSource)
	}
	if dialer.Dials() != 0 {
		t.Errorf("dials = %d, want 0", dialer.Dials())
	}
}

func TestDevice_CommandConnectionFailure(t *testing.T) {
	dialer := &scriptDialer{failures: -1}
	d := newScriptDevice(t, Config{}, dialer)

	if err := d.TurnOn(context.Background()); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("TurnOn() error = %v, want %v", err, ErrConnectionFailed)
	}
	if dialer.Dials() != 5 {
		t.Errorf("dials = %d, want 5", dialer.Dials())
	}
}

func TestDevice_SetVolumeRejectsOutOfRange(t *testing.T) {
	d := newScriptDevice(t, Config{}, &scriptDialer{})

	for _, level := range []float64{-0.1, 1.1, math.NaN()} {
		if err := d.SetVolume(context.Background(), level); !errors.Is(err, ErrInvalidVolume) {
			t.Errorf("SetVolume(%v) error = %v, want %v", level, err, ErrInvalidVolume)
		}
	}
}

func TestDeviceState_Map(t *testing.T) {
	s := DeviceState{Power: PowerOn, Volume: 0.5, VolumeKnown: true, Source: "CD", SourceKnown: true}
	m := s.Map()

	if m["power"] != "on" || m["on"] != true {
		t.Errorf("power fields = %v/%v", m["power"], m["on"])
	}
	if m["volume"] != 0.5 {
		t.Errorf("volume = %v, want 0.5", m["volume"])
	}
	if _, ok := m["muted"]; ok {
		t.Error("unknown mute should be omitted")
	}
	if m["source"] != "CD" {
		t.Errorf("source = %v, want CD", m["source"])
	}
}
