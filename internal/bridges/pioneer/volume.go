package pioneer

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// VolumeStepState is the probed size of one VU/VD step in raw units.
// It is established on the first stepped set and kept for the device lifetime.
type VolumeStepState struct {
	Increment int
	Known     bool
}

// VolumeController sets absolute volume either directly ("nnnVL") or, for
// receivers that ignore absolute commands, by repeating VU/VD until the
// reported level is within one step of the target.
type VolumeController struct {
	conn            *ConnectionManager
	policy          RetryPolicy
	responseTimeout time.Duration
	state           *DeviceState
	step            VolumeStepState
	name            string
	logger          Logger
}

// newVolumeController creates a controller writing into state.
func newVolumeController(name string, conn *ConnectionManager, policy RetryPolicy, responseTimeout time.Duration, state *DeviceState, logger Logger) *VolumeController {
	return &VolumeController{
		conn:            conn,
		policy:          policy,
		responseTimeout: responseTimeout,
		state:           state,
		name:            name,
		logger:          logger,
	}
}

// SetAbsolute sends the absolute volume command for target.
// The cached level is not changed; the next poll reports the real value.
func (v *VolumeController) SetAbsolute(ctx context.Context, target float64) error {
	if !ValidVolume(target) {
		return fmt.Errorf("%w: %v", ErrInvalidVolume, target)
	}
	return fireCommand(ctx, v.conn, v.responseTimeout, absoluteVolumeCommand(VolumeToCode(target)))
}

// SetStepped emulates an absolute set with relative steps.
//
// Each attempt opens one connection, probes the step size if unknown, then
// steps toward the target. A failed dial or probe is retried per the policy.
// A missing response while stepping ends the loop but still counts as
// success, and the cached level is snapped to target.
func (v *VolumeController) SetStepped(ctx context.Context, target float64) error {
	if !ValidVolume(target) {
		return fmt.Errorf("%w: %v", ErrInvalidVolume, target)
	}
	targetCode := VolumeToCode(target)

	attempts, err := v.policy.Do(ctx, func(attempt int) error {
		t, err := v.conn.dial(ctx, attempt)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
		}
		c := NewCodec(t, v.responseTimeout)
		defer c.Close() //nolint:errcheck // best-effort close after exchange

		return v.stepOnce(c, target, targetCode)
	})
	if err != nil {
		v.logWarn("giving up on stepped volume set",
			"device", v.name,
			"attempts", attempts,
			"error", err)
		if errors.Is(err, ErrVolumeProbeFailed) || errors.Is(err, ErrConnectionFailed) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	v.state.Volume = target
	v.state.VolumeKnown = true
	return nil
}

// StepState returns the probed step size.
func (v *VolumeController) StepState() VolumeStepState {
	return v.step
}

// SetStepIncrement seeds a previously probed step size.
func (v *VolumeController) SetStepIncrement(inc int) {
	if inc <= 0 {
		return
	}
	v.step = VolumeStepState{Increment: inc, Known: true}
}

// stepOnce runs one probe-and-converge exchange on an open codec.
func (v *VolumeController) stepOnce(c *Codec, target float64, targetCode int) error {
	if !v.state.VolumeKnown {
		line, ok := c.RequestResponse(cmdQueryVolume, prefixVolume)
		code, parsed := parseVolumeCode(line)
		if !ok || !parsed {
			v.logError("no response while reading volume", "device", v.name)
			return fmt.Errorf("%w: no answer to %s", ErrVolumeProbeFailed, cmdQueryVolume)
		}
		v.state.setVolumeCode(code)
	}

	currentCode := VolumeToCode(v.state.Volume)
	direction := cmdVolumeDown
	if target > v.state.Volume {
		direction = cmdVolumeUp
	}

	if !v.step.Known {
		code, err := v.probeStep(c)
		if err != nil {
			return err
		}
		currentCode = code
		v.state.setVolumeCode(code)
	}

	v.converge(c, direction, targetCode, currentCode)
	return nil
}

// probeStep sends VU then VD and records the difference as the step size.
// It returns the level reported after VD, which matches the level before the probe.
func (v *VolumeController) probeStep(c *Codec) (int, error) {
	upLine, upOK := c.RequestResponse(cmdVolumeUp, prefixVolume)
	downLine, downOK := c.RequestResponse(cmdVolumeDown, prefixVolume)

	upCode, upParsed := parseVolumeCode(upLine)
	downCode, downParsed := parseVolumeCode(downLine)
	if !upOK || !downOK || !upParsed || !downParsed {
		v.logError("no response while probing step size", "device", v.name)
		return 0, fmt.Errorf("%w: no answer to %s/%s", ErrVolumeProbeFailed, cmdVolumeUp, cmdVolumeDown)
	}

	inc := absInt(upCode - downCode)
	if inc == 0 {
		v.logError("probed step size is zero", "device", v.name, "volume_code", downCode)
		return 0, fmt.Errorf("%w: zero step at code %d", ErrVolumeProbeFailed, downCode)
	}

	v.step = VolumeStepState{Increment: inc, Known: true}
	v.logDebug("probed volume step", "device", v.name, "increment", inc)
	return downCode, nil
}

// converge steps in direction until within one step of targetCode.
// It stops early on silence, when a step fails to reduce the distance, or
// after enough steps to cross the whole range.
func (v *VolumeController) converge(c *Codec, direction string, targetCode, currentCode int) int {
	inc := v.step.Increment
	maxSteps := (MaxVolume + inc - 1) / inc
	distance := absInt(targetCode - currentCode)

	steps := 0
	for distance >= inc {
		if steps >= maxSteps {
			v.logWarn("volume did not converge", "device", v.name, "steps", steps)
			break
		}

		line, ok := c.RequestResponse(direction, prefixVolume)
		code, parsed := parseVolumeCode(line)
		if !ok || !parsed {
			v.logError("no response while stepping volume", "device", v.name, "steps", steps)
			break
		}
		steps++
		v.state.setVolumeCode(code)

		next := absInt(targetCode - code)
		if next >= distance {
			v.logWarn("volume step moved away from target",
				"device", v.name,
				"target_code", targetCode,
				"volume_code", code)
			break
		}
		distance = next
	}
	return steps
}

func (v *VolumeController) logDebug(msg string, keysAndValues ...any) {
	if v.logger != nil {
		v.logger.Debug(msg, keysAndValues...)
	}
}

func (v *VolumeController) logWarn(msg string, keysAndValues ...any) {
	if v.logger != nil {
		v.logger.Warn(msg, keysAndValues...)
	}
}

func (v *VolumeController) logError(msg string, keysAndValues ...any) {
	if v.logger != nil {
		v.logger.Error(msg, keysAndValues...)
	}
}

// fireCommand opens a connection, sends command without awaiting an
// answer, and closes the connection.
func fireCommand(ctx context.Context, conn *ConnectionManager, responseTimeout time.Duration, command string) error {
	t, err := conn.Open(ctx)
	if err != nil {
		return err
	}
	c := NewCodec(t, responseTimeout)
	defer c.Close() //nolint:errcheck // best-effort close after send

	if err := c.FireAndForget(command); err != nil {
		return fmt.Errorf("sending %s: %w", command, err)
	}
	return nil
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
