package pioneer

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Receiver protocol limits and defaults.
const (
	// MaxVolume is the highest raw volume code (+12dB on most models).
	MaxVolume = 185

	// MaxSourceSlots is the number of input slots probed during discovery.
	MaxSourceSlots = 60

	// DefaultPort is the telnet control port. Some models listen on 8102.
	DefaultPort = 23

	// DefaultName is the display name used when none is configured.
	DefaultName = "Pioneer AVR"
)

// Commands and response prefixes.
const (
	cmdQueryPower  = "?P"
	cmdPowerOn     = "PO"
	cmdPowerOff    = "PF"
	cmdQueryVolume = "?V"
	cmdVolumeUp    = "VU"
	cmdVolumeDown  = "VD"
	cmdQueryMute   = "?M"
	cmdMuteOn      = "MO"
	cmdMuteOff     = "MF"
	cmdQuerySource = "?F"

	prefixPower      = "PWR"
	prefixVolume     = "VOL"
	prefixMute       = "MUT"
	prefixSource     = "FN"
	prefixSourceName = "RGB"

	// sourceNameOffset is where the input name starts in an RGB response:
	// "RGB" + 2-digit slot + 1 flag character.
	sourceNameOffset = 6

	// mutedResponse is the exact line reported while muted.
	mutedResponse = "MUT0"
)

// PowerState is the receiver's power status.
type PowerState int

const (
	// PowerUnknown means the last reported code was not recognised.
	PowerUnknown PowerState = iota

	// PowerOn is reported as PWR0.
	PowerOn

	// PowerOff is reported as PWR1 or PWR2 (standby variants).
	PowerOff
)

// String returns the lowercase state name.
func (p PowerState) String() string {
	switch p {
	case PowerOn:
		return "on"
	case PowerOff:
		return "off"
	default:
		return "unknown"
	}
}

// ParsePower maps a raw power response to a PowerState.
//
// PWR0 is on, PWR1 and PWR2 are off, anything else is unknown.
func ParsePower(raw string) PowerState {
	switch raw {
	case "PWR0":
		return PowerOn
	case "PWR1", "PWR2":
		return PowerOff
	default:
		return PowerUnknown
	}
}

// VolumeToCode converts a [0,1] level to the nearest raw code.
// Levels outside the range are clamped.
func VolumeToCode(level float64) int {
	code := int(math.Round(level * MaxVolume))
	switch {
	case code < 0:
		return 0
	case code > MaxVolume:
		return MaxVolume
	default:
		return code
	}
}

// CodeToVolume converts a raw code to a [0,1] level.
func CodeToVolume(code int) float64 {
	return float64(code) / MaxVolume
}

// ValidVolume reports whether level is a finite value in [0,1].
func ValidVolume(level float64) bool {
	return !math.IsNaN(level) && level >= 0 && level <= 1
}

// parseVolumeCode extracts the numeric code from a "VOLnnn" line.
func parseVolumeCode(line string) (int, bool) {
	if !strings.HasPrefix(line, prefixVolume) {
		return 0, false
	}
	code, err := strconv.Atoi(line[len(prefixVolume):])
	if err != nil || code < 0 {
		return 0, false
	}
	return code, true
}

// absoluteVolumeCommand builds the "nnnVL" command for a raw code.
func absoluteVolumeCommand(code int) string {
	return fmt.Sprintf("%03dVL", code)
}

// selectSourceCommand builds the "nnFN" command for a source code.
func selectSourceCommand(code string) string {
	return code + "FN"
}

// sourceNameQuery builds the "?RGBnn" query for an input slot.
func sourceNameQuery(slot int) string {
	return "?RGB" + FormatSourceCode(slot)
}

// parseSourceName extracts the input name from an RGB response.
func parseSourceName(line string) (string, bool) {
	if len(line) <= sourceNameOffset {
		return "", false
	}
	return line[sourceNameOffset:], true
}

// parseSourceCode extracts the input code from an "FNnn" line.
func parseSourceCode(line string) string {
	return strings.TrimPrefix(line, prefixSource)
}

// muteCommand returns MO or MF.
func muteCommand(mute bool) string {
	if mute {
		return cmdMuteOn
	}
	return cmdMuteOff
}
