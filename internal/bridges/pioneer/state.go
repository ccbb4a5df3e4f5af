package pioneer

// DeviceState is the last observed receiver state.
//
// Volume, Muted and Source carry a Known flag because a poll can succeed
// while an individual query goes unanswered.
type DeviceState struct {
	Power PowerState

	Volume      float64
	VolumeKnown bool

	Muted      bool
	MutedKnown bool

	Source      string
	SourceKnown bool
}

// initialState matches a receiver last seen in standby (PWR1).
func initialState() DeviceState {
	return DeviceState{
		Power:       PowerOff,
		VolumeKnown: true,
		MutedKnown:  true,
		SourceKnown: false,
	}
}

// setVolumeCode caches a raw volume code.
func (s *DeviceState) setVolumeCode(code int) {
	s.Volume = CodeToVolume(code)
	s.VolumeKnown = true
}

// clearVolume marks volume unknown.
func (s *DeviceState) clearVolume() {
	s.Volume = 0
	s.VolumeKnown = false
}

// Map returns the state as a flat map for MQTT and API payloads.
// Unknown fields are omitted.
func (s DeviceState) Map() map[string]any {
	state := map[string]any{
		"power": s.Power.String(),
		"on":    s.Power == PowerOn,
	}
	if s.VolumeKnown {
		state["volume"] = s.Volume
		state["volume_code"] = VolumeToCode(s.Volume)
	}
	if s.MutedKnown {
		state["muted"] = s.Muted
	}
	if s.SourceKnown {
		state["source"] = s.Source
	}
	return state
}
