// Package pioneer implements the Pioneer AV receiver bridge for Gray Logic.
//
// Pioneer receivers (VSX/SC/LX series) expose a line-based ASCII control
// protocol on TCP port 23 (some models use 8102) and on their RS-232 port.
// Commands are terminated by CR, responses by CRLF. The receiver also emits
// unsolicited status lines whenever its state changes, so every request has
// to pick its answer out of whatever else arrives on the socket.
//
// # Architecture
//
//	┌─────────────────┐          ┌─────────────────┐   telnet/RS-232
//	│   Gray Logic    │   MQTT   │ Pioneer Bridge  │◄──────────────► Receiver
//	│      Core       │◄────────►│   (this pkg)    │
//	└─────────────────┘          └─────────────────┘
//
// The package is layered leaf-first:
//
//   - RetryPolicy: bounded attempts with a fixed delay
//   - ConnectionManager: opens a Transport through a Dialer, retrying refusals
//   - Codec: CR-terminated sends and prefix-matched responses
//   - SourceCatalog: bidirectional input name/code mapping
//   - VolumeController: direct and stepped absolute volume
//   - Device: the facade combining the above with cached DeviceState
//   - Bridge: MQTT command/state translation and per-receiver polling
//
// # Connections
//
// No connection is held between operations. Every poll and every command
// opens its own transport and closes it on all exit paths.
//
// # Thread Safety
//
// Device is not safe for concurrent use; callers serialise access per
// instance. Bridge does this with a per-receiver mutex, and all Bridge
// methods are safe for concurrent use.
//
// # Wire Vocabulary
//
//	?P  → PWRn        PO / PF             power on / off
//	?V  → VOLnnn      VU / VD / nnnVL     step up / down / absolute
//	?M  → MUTn        MO / MF             mute on / off
//	?F  → FNnn        nnFN                select input
//	?RGBnn → RGBnn?name                  input name at slot nn
package pioneer
