package main

import (
	"context"

	"github.com/nerrad567/gray-logic-pioneer/internal/bridges/pioneer"
	"github.com/nerrad567/gray-logic-pioneer/internal/device"
	"github.com/nerrad567/gray-logic-pioneer/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-pioneer/internal/infrastructure/influxdb"
)

// storeAdapter adapts the SQLite device store to pioneer.Store.
// The store keeps flat rows so it does not depend on the bridge package.
type storeAdapter struct {
	store *device.SQLiteStore
}

func (a storeAdapter) LoadSources(ctx context.Context, deviceID string) (map[string]string, error) {
	return a.store.LoadSources(ctx, deviceID)
}

func (a storeAdapter) SaveSources(ctx context.Context, deviceID string, sources map[string]string) error {
	return a.store.SaveSources(ctx, deviceID, sources)
}

func (a storeAdapter) LoadStepIncrement(ctx context.Context, deviceID string) (int, error) {
	return a.store.LoadStepIncrement(ctx, deviceID)
}

func (a storeAdapter) SaveStepIncrement(ctx context.Context, deviceID string, increment int) error {
	return a.store.SaveStepIncrement(ctx, deviceID, increment)
}

func (a storeAdapter) RecordState(ctx context.Context, deviceID string, state pioneer.DeviceState) error {
	return a.store.RecordState(ctx, stateRecord(deviceID, state))
}

func (a storeAdapter) History(ctx context.Context, deviceID string, limit int) ([]pioneer.HistoryEntry, error) {
	records, err := a.store.History(ctx, deviceID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]pioneer.HistoryEntry, 0, len(records))
	for _, rec := range records {
		out = append(out, pioneer.HistoryEntry{
			State:      deviceState(rec),
			RecordedAt: rec.RecordedAt,
		})
	}
	return out, nil
}

// stateRecord flattens a DeviceState into a history row.
func stateRecord(deviceID string, state pioneer.DeviceState) device.StateRecord {
	rec := device.StateRecord{
		DeviceID: deviceID,
		Power:    state.Power.String(),
	}
	if state.VolumeKnown {
		v := state.Volume
		rec.Volume = &v
	}
	if state.MutedKnown {
		m := state.Muted
		rec.Muted = &m
	}
	if state.SourceKnown {
		rec.Source = state.Source
	}
	return rec
}

// deviceState is the inverse of stateRecord.
func deviceState(rec device.StateRecord) pioneer.DeviceState {
	state := pioneer.DeviceState{Power: parsePowerName(rec.Power)}
	if rec.Volume != nil {
		state.Volume = *rec.Volume
		state.VolumeKnown = true
	}
	if rec.Muted != nil {
		state.Muted = *rec.Muted
		state.MutedKnown = true
	}
	if rec.Source != "" {
		state.Source = rec.Source
		state.SourceKnown = true
	}
	return state
}

func parsePowerName(name string) pioneer.PowerState {
	switch name {
	case pioneer.PowerOn.String():
		return pioneer.PowerOn
	case pioneer.PowerOff.String():
		return pioneer.PowerOff
	default:
		return pioneer.PowerUnknown
	}
}

// seriesAdapter adapts the InfluxDB client to pioneer.StateWriter.
type seriesAdapter struct {
	client *influxdb.Client
}

func (a seriesAdapter) WriteReceiverState(deviceID string, state pioneer.DeviceState) {
	a.client.WriteReceiverState(deviceID, receiverState(state))
}

func receiverState(state pioneer.DeviceState) influxdb.ReceiverState {
	var out influxdb.ReceiverState
	if state.Power != pioneer.PowerUnknown {
		on := state.Power == pioneer.PowerOn
		out.PowerOn = &on
	}
	if state.VolumeKnown {
		v := state.Volume
		out.Volume = &v
	}
	if state.MutedKnown {
		m := state.Muted
		out.Muted = &m
	}
	if state.SourceKnown {
		out.Source = state.Source
	}
	return out
}

// bridgeConfig converts the YAML configuration into the bridge's own types.
func bridgeConfig(cfg *config.Config, version string) pioneer.BridgeConfig {
	out := pioneer.BridgeConfig{
		ID:             cfg.Bridge.ID,
		Version:        version,
		PollInterval:   cfg.GetPollInterval(),
		HealthInterval: cfg.GetHealthInterval(),
		CommandTimeout: cfg.GetCommandTimeout(),
		Receivers:      make([]pioneer.ReceiverConfig, 0, len(cfg.Receivers)),
	}
	for _, r := range cfg.Receivers {
		out.Receivers = append(out.Receivers, pioneer.ReceiverConfig{
			ID: r.ID,
			Device: pioneer.Config{
				Name:          r.Name,
				Host:          r.Host,
				Port:          r.Port,
				Timeout:       r.GetTimeout(),
				Sources:       r.Sources,
				FakeVolumeSet: r.FakeVolumeSet,
				Transport:     r.Transport,
				SerialPort:    r.SerialPort,
				BaudRate:      r.BaudRate,
			},
		})
	}
	return out
}
