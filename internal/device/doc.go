// Package device persists what the bridge learns about each receiver.
//
// # Tables
//
//	receiver_sources        input catalog (device_id, code, name)
//	receiver_volume_step    probed VU/VD step size per receiver
//	receiver_state_history  state changes, unknown fields NULL
//
// Discovery queries up to 60 input slots and stepped volume needs a probe,
// both slow on real hardware. SQLiteStore keeps the results so the next
// start seeds the receiver and skips them.
//
// # Usage
//
//	store := device.NewSQLiteStore(db.DB)
//	sources, err := store.LoadSources(ctx, "living-avr")
//
// All timestamps are stored in UTC with fixed-width fractional seconds so
// text ordering matches time ordering.
package device
