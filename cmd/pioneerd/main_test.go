package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-pioneer/internal/bridges/pioneer"
	"github.com/nerrad567/gray-logic-pioneer/internal/device"
	"github.com/nerrad567/gray-logic-pioneer/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-pioneer/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-pioneer/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-pioneer/migrations"
)

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("GRAYLOGIC_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_StartsAndStops runs the daemon with only the database enabled
// and checks it shuts down cleanly when the context ends.
func TestRun_StartsAndStops(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	dbPath := filepath.Join(tmpDir, "data", "pioneer.db")

	configContent := `
site:
  id: test-site

bridge:
  poll_interval: 1
  history_retention: 7

database:
  path: "` + dbPath + `"
  wal_mode: true
  busy_timeout: 5

mqtt:
  enabled: false

api:
  enabled: false

logging:
  level: error
  format: text
  output: stderr
`
	if err := os.WriteFile(configPath, []byte(configContent), 0o600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	t.Setenv("GRAYLOGIC_CONFIG", configPath)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	if err := run(ctx); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("database not created: %v", err)
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("GRAYLOGIC_CONFIG", "")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}

	t.Setenv("GRAYLOGIC_CONFIG", "/etc/graylogic/pioneer.yaml")
	if got := getConfigPath(); got != "/etc/graylogic/pioneer.yaml" {
		t.Errorf("getConfigPath() = %q, want /etc/graylogic/pioneer.yaml", got)
	}
}

func TestBridgeConfig(t *testing.T) {
	cfg := &config.Config{
		Bridge: config.BridgeConfig{ID: "pioneer", PollInterval: 5, HealthInterval: 20, CommandTimeout: 45},
		Receivers: []config.ReceiverConfig{
			{
				ID:            "living-avr",
				Name:          "Living Room",
				Transport:     config.TransportTCP,
				Host:          "192.168.1.50",
				Port:          8102,
				Timeout:       3,
				Sources:       map[string]string{"CD": "01"},
				FakeVolumeSet: true,
			},
			{
				ID:         "den-avr",
				Transport:  config.TransportSerial,
				SerialPort: "/dev/ttyUSB0",
				BaudRate:   9600,
			},
		},
	}

	got := bridgeConfig(cfg, "1.2.3")

	if got.ID != "pioneer" || got.Version != "1.2.3" {
		t.Errorf("ID/Version = %q/%q, want pioneer/1.2.3", got.ID, got.Version)
	}
	if got.PollInterval != 5*time.Second || got.HealthInterval != 20*time.Second || got.CommandTimeout != 45*time.Second {
		t.Errorf("intervals = %v/%v/%v", got.PollInterval, got.HealthInterval, got.CommandTimeout)
	}
	if len(got.Receivers) != 2 {
		t.Fatalf("len(Receivers) = %d, want 2", len(got.Receivers))
	}

	living := got.Receivers[0].Device
	if living.Host != "192.168.1.50" || living.Port != 8102 || living.Timeout != 3*time.Second {
		t.Errorf("living device = %+v", living)
	}
	if !living.FakeVolumeSet || living.Sources["CD"] != "01" {
		t.Errorf("living FakeVolumeSet/Sources = %v/%v", living.FakeVolumeSet, living.Sources)
	}

	den := got.Receivers[1]
	if den.ID != "den-avr" || den.Device.Transport != pioneer.TransportSerial || den.Device.SerialPort != "/dev/ttyUSB0" {
		t.Errorf("den receiver = %+v", den)
	}
	if err := got.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestStateRecordConversion(t *testing.T) {
	tests := []struct {
		name  string
		state pioneer.DeviceState
	}{
		{"all known", pioneer.DeviceState{
			Power: pioneer.PowerOn, Volume: 0.5, VolumeKnown: true,
			Muted: true, MutedKnown: true, Source: "CD", SourceKnown: true,
		}},
		{"standby", pioneer.DeviceState{Power: pioneer.PowerOff, VolumeKnown: true, MutedKnown: true}},
		{"nothing known", pioneer.DeviceState{Power: pioneer.PowerUnknown}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := stateRecord("living-avr", tt.state)
			if rec.DeviceID != "living-avr" {
				t.Errorf("DeviceID = %q, want living-avr", rec.DeviceID)
			}
			if got := deviceState(rec); got != tt.state {
				t.Errorf("deviceState(stateRecord(s)) = %+v, want %+v", got, tt.state)
			}
		})
	}
}

func TestReceiverState(t *testing.T) {
	got := receiverState(pioneer.DeviceState{
		Power: pioneer.PowerOff, Volume: 0.25, VolumeKnown: true, Source: "TUNER", SourceKnown: true,
	})
	if got.PowerOn == nil || *got.PowerOn {
		t.Errorf("PowerOn = %v, want false", got.PowerOn)
	}
	if got.Volume == nil || *got.Volume != 0.25 {
		t.Errorf("Volume = %v, want 0.25", got.Volume)
	}
	if got.Muted != nil {
		t.Errorf("Muted = %v, want nil", *got.Muted)
	}
	if got.Source != "TUNER" {
		t.Errorf("Source = %q, want TUNER", got.Source)
	}

	if unknown := receiverState(pioneer.DeviceState{}); unknown.PowerOn != nil {
		t.Errorf("unknown power PowerOn = %v, want nil", *unknown.PowerOn)
	}
}

func TestStoreAdapter(t *testing.T) {
	db, err := database.Open(database.Config{Path: filepath.Join(t.TempDir(), "test.db"), BusyTimeout: 5})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	defer db.Close()
	ctx := context.Background()
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	var store pioneer.Store = storeAdapter{store: device.NewSQLiteStore(db.DB)}

	if err := store.SaveSources(ctx, "living-avr", map[string]string{"CD": "01", "BD": "25"}); err != nil {
		t.Fatalf("SaveSources() error = %v", err)
	}
	sources, err := store.LoadSources(ctx, "living-avr")
	if err != nil {
		t.Fatalf("LoadSources() error = %v", err)
	}
	if len(sources) != 2 || sources["BD"] != "25" {
		t.Errorf("LoadSources() = %v", sources)
	}

	if err := store.SaveStepIncrement(ctx, "living-avr", 2); err != nil {
		t.Fatalf("SaveStepIncrement() error = %v", err)
	}
	if inc, err := store.LoadStepIncrement(ctx, "living-avr"); err != nil || inc != 2 {
		t.Errorf("LoadStepIncrement() = %d, %v, want 2", inc, err)
	}

	state := pioneer.DeviceState{Power: pioneer.PowerOn, Volume: 0.5, VolumeKnown: true, MutedKnown: true}
	if err := store.RecordState(ctx, "living-avr", state); err != nil {
		t.Fatalf("RecordState() error = %v", err)
	}
	history, err := store.History(ctx, "living-avr", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("len(History) = %d, want 1", len(history))
	}
	if history[0].State != state {
		t.Errorf("History[0].State = %+v, want %+v", history[0].State, state)
	}
	if history[0].RecordedAt.IsZero() {
		t.Error("RecordedAt is zero")
	}
}

func TestShutdown_ReverseOrder(t *testing.T) {
	var order []string
	var down shutdown
	for _, name := range []string{"database", "MQTT", "bridge", "API server"} {
		down.push(name, func() error {
			order = append(order, name)
			return nil
		})
	}
	down.push("failing", func() error {
		order = append(order, "failing")
		return os.ErrClosed
	})

	down.run(logging.Discard())

	want := []string{"failing", "API server", "bridge", "MQTT", "database"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}
