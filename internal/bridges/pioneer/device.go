package pioneer

import (
	"context"
	"fmt"
	"time"
)

// Supported feature names reported to Core and the API.
const (
	FeatureTurnOn       = "turn_on"
	FeatureTurnOff      = "turn_off"
	FeatureVolumeSet    = "volume_set"
	FeatureVolumeStep   = "volume_step"
	FeatureVolumeMute   = "volume_mute"
	FeatureSelectSource = "select_source"
)

// Transport kinds accepted in Config.Transport.
const (
	TransportTCP    = "tcp"
	TransportSerial = "serial"
)

// Config describes one receiver.
type Config struct {
	// Name is the display name. Default: "Pioneer AVR".
	Name string

	// Host and Port address the telnet control port. Default port: 23.
	Host string
	Port int

	// Timeout bounds each connection attempt. Default: 5s.
	Timeout time.Duration

	// Sources pre-seeds the input catalog (name → two-digit code).
	// When empty, inputs are discovered on the first poll.
	Sources map[string]string

	// FakeVolumeSet emulates absolute volume with VU/VD steps for
	// receivers that ignore "nnnVL".
	FakeVolumeSet bool

	// Transport selects "tcp" (default) or "serial".
	Transport string

	// SerialPort and BaudRate configure the RS-232 transport.
	SerialPort string
	BaudRate   int
}

// Option customises a Device.
type Option func(*Device)

// WithDialer replaces the transport dialer derived from Config.
func WithDialer(d Dialer) Option {
	return func(dev *Device) { dev.dialer = d }
}

// WithRetryPolicy replaces the default 5 × 500ms policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(dev *Device) { dev.policy = p }
}

// WithResponseTimeout replaces the 200ms per-line response timeout.
func WithResponseTimeout(d time.Duration) Option {
	return func(dev *Device) { dev.responseTimeout = d }
}

// WithLogger sets the device logger.
func WithLogger(l Logger) Option {
	return func(dev *Device) { dev.logger = l }
}

// WithConnectFailureHook registers a callback run on every failed dial.
func WithConnectFailureHook(fn func()) Option {
	return func(dev *Device) { dev.onConnectFailure = fn }
}

// WithPersistedSources seeds the input catalog when Config.Sources is empty.
func WithPersistedSources(sources map[string]string) Option {
	return func(dev *Device) { dev.persistedSources = sources }
}

// WithStepIncrement seeds a previously probed volume step size.
func WithStepIncrement(inc int) Option {
	return func(dev *Device) { dev.seedStep = inc }
}

// Device is the control facade for one receiver.
//
// It caches the last polled state and owns the input catalog and the probed
// volume step. Every operation opens and closes its own connection.
//
// Thread Safety: not safe for concurrent use. Callers serialise access.
type Device struct {
	cfg             Config
	dialer          Dialer
	policy          RetryPolicy
	responseTimeout time.Duration
	logger          Logger

	onConnectFailure func()
	persistedSources map[string]string
	seedStep         int

	conn    *ConnectionManager
	catalog *SourceCatalog
	state   DeviceState
	volume  *VolumeController
}

// New creates a device without contacting it.
//
// Parameters:
//   - cfg: Receiver configuration
//   - opts: Optional overrides (dialer, retry policy, logger)
//
// Returns:
//   - *Device: Device with the initial standby state
//   - error: If the configured sources or transport are invalid
func New(cfg Config, opts ...Option) (*Device, error) {
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}

	catalog, err := NewSourceCatalog(cfg.Sources)
	if err != nil {
		return nil, fmt.Errorf("device %s: %w", cfg.Name, err)
	}

	d := &Device{
		cfg:             cfg,
		policy:          DefaultRetryPolicy(),
		responseTimeout: DefaultResponseTimeout,
		catalog:         catalog,
		state:           initialState(),
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.dialer == nil {
		dialer, err := dialerFor(cfg)
		if err != nil {
			return nil, err
		}
		d.dialer = dialer
	}

	d.conn = NewConnectionManager(cfg.Name, d.dialer, cfg.Timeout, d.policy, d.logger)
	d.conn.onFailure = d.onConnectFailure
	d.volume = newVolumeController(cfg.Name, d.conn, d.policy, d.responseTimeout, &d.state, d.logger)

	if err := d.LoadSources(d.persistedSources); err != nil {
		d.logWarn("ignoring persisted inputs", "device", cfg.Name, "error", err)
	}
	if d.seedStep > 0 {
		d.volume.SetStepIncrement(d.seedStep)
	}

	return d, nil
}

// Setup creates a device and runs the first poll.
//
// Returns:
//   - *Device: Polled device, ready for use
//   - error: Wraps ErrNotReady when the receiver could not be reached
func Setup(ctx context.Context, cfg Config, opts ...Option) (*Device, error) {
	d, err := New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	if !d.Update(ctx) {
		return nil, fmt.Errorf("%w: %s at %s", ErrNotReady, d.Name(), d.Address())
	}
	return d, nil
}

// dialerFor builds the dialer described by cfg.
func dialerFor(cfg Config) (Dialer, error) {
	switch cfg.Transport {
	case "", TransportTCP:
		if cfg.Host == "" {
			return nil, fmt.Errorf("device %s: host is required", cfg.Name)
		}
		return TelnetDialer{Host: cfg.Host, Port: cfg.Port}, nil
	case TransportSerial:
		if cfg.SerialPort == "" {
			return nil, fmt.Errorf("device %s: serial port is required", cfg.Name)
		}
		return SerialDialer{Port: cfg.SerialPort, BaudRate: cfg.BaudRate}, nil
	default:
		return nil, fmt.Errorf("device %s: unknown transport %q", cfg.Name, cfg.Transport)
	}
}

// Update polls power, volume, mute and the active input, discovering the
// input catalog first if it is empty.
//
// Returns false only when no connection could be opened. Unanswered
// queries leave the corresponding field unknown (power stays unchanged).
func (d *Device) Update(ctx context.Context) bool {
	t, err := d.conn.Open(ctx)
	if err != nil {
		d.logWarn("update failed", "device", d.cfg.Name, "error", err)
		return false
	}
	c := NewCodec(t, d.responseTimeout)
	defer d.closeCodec(c)

	if line, ok := c.RequestResponse(cmdQueryPower, prefixPower); ok {
		d.state.Power = ParsePower(line)
	}

	if line, ok := c.RequestResponse(cmdQueryVolume, prefixVolume); ok {
		if code, parsed := parseVolumeCode(line); parsed {
			d.state.setVolumeCode(code)
		} else {
			d.state.clearVolume()
		}
	} else {
		d.state.clearVolume()
	}

	if line, ok := c.RequestResponse(cmdQueryMute, prefixMute); ok {
		d.state.Muted = line == mutedResponse
		d.state.MutedKnown = true
	} else {
		d.state.Muted = false
		d.state.MutedKnown = false
	}

	if d.catalog.Len() == 0 {
		d.discoverSources(c)
	}

	d.state.Source = ""
	d.state.SourceKnown = false
	if line, ok := c.RequestResponse(cmdQuerySource, prefixSource); ok {
		if name, found := d.catalog.Name(parseSourceCode(line)); found {
			d.state.Source = name
			d.state.SourceKnown = true
		}
	}

	return true
}

// discoverSources queries every input slot and records the ones that answer.
func (d *Device) discoverSources(c *Codec) {
	for slot := range MaxSourceSlots {
		line, ok := c.RequestResponse(sourceNameQuery(slot), prefixSourceName)
		if !ok {
			continue
		}
		name, ok := parseSourceName(line)
		if !ok {
			continue
		}
		if err := d.catalog.Add(name, FormatSourceCode(slot)); err != nil {
			d.logWarn("skipping input", "device", d.cfg.Name, "slot", slot, "error", err)
		}
	}
	d.logInfo("discovered inputs", "device", d.cfg.Name, "count", d.catalog.Len())
}

// TurnOn powers the receiver on.
func (d *Device) TurnOn(ctx context.Context) error {
	return d.command(ctx, cmdPowerOn)
}

// TurnOff puts the receiver in standby.
func (d *Device) TurnOff(ctx context.Context) error {
	return d.command(ctx, cmdPowerOff)
}

// VolumeUp raises the volume by one step.
func (d *Device) VolumeUp(ctx context.Context) error {
	return d.command(ctx, cmdVolumeUp)
}

// VolumeDown lowers the volume by one step.
func (d *Device) VolumeDown(ctx context.Context) error {
	return d.command(ctx, cmdVolumeDown)
}

// SetMute mutes (true) or unmutes (false) the receiver.
func (d *Device) SetMute(ctx context.Context, mute bool) error {
	return d.command(ctx, muteCommand(mute))
}

// Mute mutes the receiver.
func (d *Device) Mute(ctx context.Context) error {
	return d.SetMute(ctx, true)
}

// Unmute unmutes the receiver.
func (d *Device) Unmute(ctx context.Context) error {
	return d.SetMute(ctx, false)
}

// SetVolume sets the volume to level in [0,1], by steps when FakeVolumeSet
// is configured.
func (d *Device) SetVolume(ctx context.Context, level float64) error {
	var err error
	if d.cfg.FakeVolumeSet {
		err = d.volume.SetStepped(ctx, level)
	} else {
		err = d.volume.SetAbsolute(ctx, level)
	}
	if err != nil {
		d.logWarn("set volume failed", "device", d.cfg.Name, "level", level, "error", err)
	}
	return err
}

// SelectSource switches to the named input. Unknown names return
// ErrUnknownSource without contacting the receiver.
func (d *Device) SelectSource(ctx context.Context, name string) error {
	code, ok := d.catalog.Code(name)
	if !ok {
		d.logWarn("unknown input", "device", d.cfg.Name, "source", name)
		return fmt.Errorf("%w: %q", ErrUnknownSource, name)
	}
	return d.command(ctx, selectSourceCommand(code))
}

// command sends a fire-and-forget command and logs failures.
func (d *Device) command(ctx context.Context, command string) error {
	if err := fireCommand(ctx, d.conn, d.responseTimeout, command); err != nil {
		d.logWarn("command failed", "device", d.cfg.Name, "command", command, "error", err)
		return err
	}
	d.logDebug("command sent", "device", d.cfg.Name, "command", command)
	return nil
}

// LoadSources seeds an empty catalog, typically from persisted discovery.
// A non-empty catalog is left untouched.
func (d *Device) LoadSources(sources map[string]string) error {
	if d.catalog.Len() > 0 || len(sources) == 0 {
		return nil
	}
	catalog, err := NewSourceCatalog(sources)
	if err != nil {
		return err
	}
	d.catalog = catalog
	return nil
}

// SetStepIncrement seeds a previously probed volume step size.
func (d *Device) SetStepIncrement(inc int) {
	d.volume.SetStepIncrement(inc)
}

// StepIncrement returns the probed volume step size.
func (d *Device) StepIncrement() (int, bool) {
	s := d.volume.StepState()
	return s.Increment, s.Known
}

// Name returns the display name.
func (d *Device) Name() string { return d.cfg.Name }

// Address returns the transport endpoint.
func (d *Device) Address() string { return d.conn.Address() }

// Power returns the cached power state.
func (d *Device) Power() PowerState { return d.state.Power }

// VolumeLevel returns the cached volume in [0,1] and whether it is known.
func (d *Device) VolumeLevel() (float64, bool) { return d.state.Volume, d.state.VolumeKnown }

// IsMuted returns the cached mute flag and whether it is known.
func (d *Device) IsMuted() (bool, bool) { return d.state.Muted, d.state.MutedKnown }

// Source returns the active input name and whether it is known.
func (d *Device) Source() (string, bool) { return d.state.Source, d.state.SourceKnown }

// MediaTitle returns the active input name, or "" when unknown.
func (d *Device) MediaTitle() string { return d.state.Source }

// SourceList returns the input names ordered by code.
func (d *Device) SourceList() []string { return d.catalog.Names() }

// Sources returns a copy of the name → code catalog.
func (d *Device) Sources() map[string]string { return d.catalog.Entries() }

// State returns a copy of the cached state.
func (d *Device) State() DeviceState { return d.state }

// ConnectionStats returns connection counters.
func (d *Device) ConnectionStats() ConnectionStats { return d.conn.Stats() }

// SupportedFeatures lists the operations this device accepts.
func (d *Device) SupportedFeatures() []string {
	return []string{
		FeatureTurnOn,
		FeatureTurnOff,
		FeatureVolumeSet,
		FeatureVolumeStep,
		FeatureVolumeMute,
		FeatureSelectSource,
	}
}

func (d *Device) closeCodec(c *Codec) {
	if err := c.Close(); err != nil {
		d.logDebug("close failed", "device", d.cfg.Name, "error", err)
	}
}

func (d *Device) logDebug(msg string, keysAndValues ...any) {
	if d.logger != nil {
		d.logger.Debug(msg, keysAndValues...)
	}
}

func (d *Device) logInfo(msg string, keysAndValues ...any) {
	if d.logger != nil {
		d.logger.Info(msg, keysAndValues...)
	}
}

func (d *Device) logWarn(msg string, keysAndValues ...any) {
	if d.logger != nil {
		d.logger.Warn(msg, keysAndValues...)
	}
}
