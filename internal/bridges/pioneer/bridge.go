package pioneer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"
)

// Bridge orchestrates translation between MQTT and one or more receivers.
// It handles:
//   - Polling each receiver and publishing state changes
//   - Executing commands from Core and acknowledging them
//   - Answering read_state and list_sources requests
//   - Persisting discovered inputs and probed volume steps
//   - Health reporting and graceful shutdown
//
// Thread Safety: All methods are safe for concurrent use. Access to each
// receiver's Device is serialised by a per-receiver mutex.
type Bridge struct {
	cfg     BridgeConfig
	mqtt    MQTTClient
	health  *HealthReporter
	store   Store
	series  StateWriter
	metrics Metrics

	deviceOptions func(id string) []Option

	receivers map[string]*receiver
	order     []string

	// State cache for change detection
	stateCache   map[string]map[string]any
	stateCacheMu sync.Mutex

	listeners   []func(StateMessage)
	listenersMu sync.RWMutex

	// Counters for health reporting
	polls           atomic.Uint64
	pollFailures    atomic.Uint64
	commandsSent    atomic.Uint64
	commandFailures atomic.Uint64
	statesPublished atomic.Uint64

	// Shutdown coordination
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context    // Bridge-level context, cancelled on Stop()
	ctxCancel context.CancelFunc // Cancel function for ctx

	// Logger
	logger   Logger
	loggerMu sync.RWMutex
}

// receiver is the bridge's view of one configured receiver.
type receiver struct {
	id  string
	cfg Config

	// mu serialises all Device access.
	mu           sync.Mutex
	device       *Device
	savedSources int
	savedStep    int

	// statusMu guards status so readers never wait on a slow exchange.
	statusMu sync.RWMutex
	status   ReceiverStatus
}

// ReceiverStatus is a snapshot of one receiver for the API and health.
type ReceiverStatus struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Address  string         `json:"address"`
	Ready    bool           `json:"ready"`
	Online   bool           `json:"online"`
	LastPoll *time.Time     `json:"last_poll,omitempty"`
	State    map[string]any `json:"state,omitempty"`
	Sources  []string       `json:"sources,omitempty"`
	Features []string       `json:"features,omitempty"`

	Connection ConnectionStats `json:"-"`
}

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// Store persists learned receiver data across restarts.
// Satisfied by the SQLite store (via adapter in main.go). Optional.
type Store interface {
	// LoadSources returns the persisted input catalog (empty if none).
	LoadSources(ctx context.Context, deviceID string) (map[string]string, error)

	// SaveSources replaces the persisted input catalog.
	SaveSources(ctx context.Context, deviceID string, sources map[string]string) error

	// LoadStepIncrement returns the persisted volume step (0 if unknown).
	LoadStepIncrement(ctx context.Context, deviceID string) (int, error)

	// SaveStepIncrement stores the probed volume step.
	SaveStepIncrement(ctx context.Context, deviceID string, increment int) error

	// RecordState appends a state change to history.
	RecordState(ctx context.Context, deviceID string, state DeviceState) error

	// History returns recorded state changes, newest first.
	History(ctx context.Context, deviceID string, limit int) ([]HistoryEntry, error)
}

// HistoryEntry is one recorded state change.
type HistoryEntry struct {
	State      DeviceState
	RecordedAt time.Time
}

// StateWriter records state changes as time series. Optional.
type StateWriter interface {
	WriteReceiverState(deviceID string, state DeviceState)
}

// Metrics receives operational measurements. Optional.
type Metrics interface {
	ObservePoll(deviceID string, ok bool, duration time.Duration)
	ObserveCommand(deviceID, command string, ok bool)
	ConnectFailure(deviceID string)
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// Config is the bridge and receiver configuration.
	Config BridgeConfig

	// MQTTClient is the MQTT client. If nil, the bridge runs without MQTT
	// and is driven only through its Go API (HTTP API, CLI).
	MQTTClient MQTTClient

	// Logger is optional structured logger.
	Logger Logger

	// Store is optional persistence for inputs, volume steps and history.
	Store Store

	// Series is optional time-series output.
	Series StateWriter

	// Metrics is optional instrumentation.
	Metrics Metrics

	// DeviceOptions returns extra device options per receiver ID.
	DeviceOptions func(id string) []Option
}

// NewBridge creates a new bridge instance.
// Call Start() to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	cfg := opts.Config.withDefaults()

	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		cfg:           cfg,
		mqtt:          opts.MQTTClient,
		store:         opts.Store,
		series:        opts.Series,
		metrics:       opts.Metrics,
		deviceOptions: opts.DeviceOptions,
		receivers:     make(map[string]*receiver, len(cfg.Receivers)),
		stateCache:    make(map[string]map[string]any),
		done:          make(chan struct{}),
		ctx:           ctx,
		ctxCancel:     ctxCancel,
		logger:        opts.Logger,
	}

	for _, rc := range cfg.Receivers {
		devCfg := rc.Device
		if devCfg.Name == "" {
			devCfg.Name = DefaultName
		}
		r := &receiver{id: rc.ID, cfg: devCfg}
		r.status = ReceiverStatus{ID: rc.ID, Name: devCfg.Name}
		b.receivers[rc.ID] = r
		b.order = append(b.order, rc.ID)
	}

	var publisher HealthPublisher
	if opts.MQTTClient != nil {
		publisher = opts.MQTTClient
	}
	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  cfg.ID,
		Version:   cfg.Version,
		Interval:  cfg.HealthInterval,
		Publisher: publisher,
		Source:    b,
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Start begins bridge operation: subscribes to MQTT topics, starts health
// reporting and launches one poll loop per receiver.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	if b.mqtt != nil {
		commandTopic := CommandSubscribeTopic()
		if err := b.mqtt.Subscribe(commandTopic, 1, b.handleMQTTMessage); err != nil {
			return fmt.Errorf("subscribe to commands: %w", err)
		}
		b.logInfo("subscribed to commands", "topic", commandTopic)

		requestTopic := RequestSubscribeTopic()
		if err := b.mqtt.Subscribe(requestTopic, 1, b.handleMQTTMessage); err != nil {
			return fmt.Errorf("subscribe to requests: %w", err)
		}
		b.logInfo("subscribed to requests", "topic", requestTopic)
	}

	for _, id := range b.order {
		b.wg.Add(1)
		go b.pollLoop(b.receivers[id])
	}

	b.health.Start(ctx)

	b.logInfo("bridge started",
		"bridge_id", b.cfg.ID,
		"receivers", len(b.order),
		"poll_interval", b.cfg.PollInterval)

	return nil
}

// Stop gracefully shuts down the bridge.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)

		// Cancel bridge context to abort in-flight exchanges and retry waits
		b.ctxCancel()

		// Wait for poll loops before the final health message
		b.wg.Wait()

		// Stop health reporting (publishes "stopping" status)
		b.health.Stop()

		b.logInfo("bridge stopped")
	})
}

// OnStateChange registers a listener for published state changes.
// Listeners run synchronously on the polling goroutine and must not block.
func (b *Bridge) OnStateChange(fn func(StateMessage)) {
	b.listenersMu.Lock()
	b.listeners = append(b.listeners, fn)
	b.listenersMu.Unlock()
}

// pollLoop polls one receiver until the bridge stops.
func (b *Bridge) pollLoop(r *receiver) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()

	b.poll(b.ctx, r)

	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			b.poll(b.ctx, r)
		}
	}
}

// poll runs one poll under the receiver lock.
func (b *Bridge) poll(ctx context.Context, r *receiver) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return b.pollLocked(ctx, r)
}

// pollLocked sets the device up on first contact, otherwise updates it,
// then publishes any change. Caller holds r.mu.
func (b *Bridge) pollLocked(ctx context.Context, r *receiver) bool {
	start := time.Now()
	ok := false
	becameReady := false

	if r.device == nil {
		dev, err := Setup(ctx, r.cfg, b.optionsFor(ctx, r)...)
		if err != nil {
			if !errors.Is(err, ErrNotReady) {
				b.logError("receiver setup failed", fmt.Errorf("device=%s: %w", r.id, err))
			} else {
				b.logDebug("receiver not ready", "device", r.id, "reason", err.Error())
			}
		} else {
			r.device = dev
			ok = true
			becameReady = true
			b.logInfo("receiver ready", "device", r.id, "address", dev.Address())
		}
	} else {
		ok = r.device.Update(ctx)
	}

	b.polls.Add(1)
	if !ok {
		b.pollFailures.Add(1)
	}
	if b.metrics != nil {
		b.metrics.ObservePoll(r.id, ok, time.Since(start))
	}

	b.refreshStatus(r, ok, true)

	if !ok {
		return false
	}

	catalogChanged := b.persistLearned(ctx, r)
	if becameReady || catalogChanged {
		b.publishDiscovery()
	}
	b.publishIfChanged(ctx, r)
	return true
}

// optionsFor builds device options, seeding persisted inputs and step size.
func (b *Bridge) optionsFor(ctx context.Context, r *receiver) []Option {
	opts := []Option{}
	if b.logger != nil {
		opts = append(opts, WithLogger(b.logger))
	}
	if b.metrics != nil {
		id := r.id
		opts = append(opts, WithConnectFailureHook(func() { b.metrics.ConnectFailure(id) }))
	}

	if b.store != nil {
		if len(r.cfg.Sources) == 0 {
			sources, err := b.store.LoadSources(ctx, r.id)
			if err != nil {
				b.logError("load persisted inputs failed", fmt.Errorf("device=%s: %w", r.id, err))
			} else if len(sources) > 0 {
				opts = append(opts, WithPersistedSources(sources))
				r.savedSources = len(sources)
			}
		}
		inc, err := b.store.LoadStepIncrement(ctx, r.id)
		if err != nil {
			b.logError("load volume step failed", fmt.Errorf("device=%s: %w", r.id, err))
		} else if inc > 0 {
			opts = append(opts, WithStepIncrement(inc))
			r.savedStep = inc
		}
	}

	if b.deviceOptions != nil {
		opts = append(opts, b.deviceOptions(r.id)...)
	}
	return opts
}

// persistLearned saves a newly discovered catalog or probed step size.
// Returns true when the catalog changed since it was last saved.
func (b *Bridge) persistLearned(ctx context.Context, r *receiver) bool {
	sources := r.device.Sources()
	changed := len(sources) != r.savedSources

	if b.store == nil {
		r.savedSources = len(sources)
		return changed
	}

	if changed && len(r.cfg.Sources) == 0 {
		if err := b.store.SaveSources(ctx, r.id, sources); err != nil {
			b.logError("save inputs failed", fmt.Errorf("device=%s: %w", r.id, err))
		} else {
			b.logInfo("saved discovered inputs", "device", r.id, "count", len(sources))
		}
	}
	r.savedSources = len(sources)

	if inc, known := r.device.StepIncrement(); known && inc != r.savedStep {
		if err := b.store.SaveStepIncrement(ctx, r.id, inc); err != nil {
			b.logError("save volume step failed", fmt.Errorf("device=%s: %w", r.id, err))
		} else {
			r.savedStep = inc
		}
	}
	return changed
}

// refreshStatus copies the device view into the status snapshot.
func (b *Bridge) refreshStatus(r *receiver, online, polled bool) {
	r.statusMu.Lock()
	defer r.statusMu.Unlock()

	if polled {
		now := time.Now().UTC()
		r.status.LastPoll = &now
		if r.status.Online != online && b.health != nil {
			b.health.Nudge()
		}
		r.status.Online = online
	}

	if r.device == nil {
		r.status.Ready = false
		return
	}

	r.status.Ready = true
	r.status.Name = r.device.Name()
	r.status.Address = r.device.Address()
	r.status.State = r.device.State().Map()
	r.status.Sources = r.device.SourceList()
	r.status.Features = r.device.SupportedFeatures()
	r.status.Connection = r.device.ConnectionStats()
}

// publishIfChanged publishes state, records history and notifies listeners
// when the receiver state differs from the last published one.
func (b *Bridge) publishIfChanged(ctx context.Context, r *receiver) {
	state := r.device.State()
	stateMap := state.Map()

	if b.stateUnchanged(r.id, stateMap) {
		return
	}

	msg := NewStateMessage(r.id, r.device.Address(), stateMap)
	b.statesPublished.Add(1)

	if b.mqtt != nil {
		payload, err := json.Marshal(msg)
		if err != nil {
			b.logError("failed to marshal state", err)
		} else if err := b.mqtt.Publish(StateTopic(r.id), payload, 1, true); err != nil {
			b.logError("failed to publish state", err)
		}
	}

	if b.store != nil {
		if err := b.store.RecordState(ctx, r.id, state); err != nil {
			b.logDebug("state history skipped", "device", r.id, "reason", err.Error())
		}
	}

	if b.series != nil {
		b.series.WriteReceiverState(r.id, state)
	}

	b.listenersMu.RLock()
	listeners := b.listeners
	b.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(msg)
	}
}

// stateUnchanged checks if state matches the cached state.
// Returns true if unchanged (should skip publish).
func (b *Bridge) stateUnchanged(deviceID string, state map[string]any) bool {
	b.stateCacheMu.Lock()
	defer b.stateCacheMu.Unlock()

	if reflect.DeepEqual(b.stateCache[deviceID], state) {
		return true
	}
	b.stateCache[deviceID] = state
	return false
}

// publishDiscovery announces all ready receivers.
func (b *Bridge) publishDiscovery() {
	if b.mqtt == nil {
		return
	}

	msg := DiscoveryMessage{
		Timestamp: time.Now().UTC(),
		Bridge:    b.cfg.ID,
	}
	for _, status := range b.Receivers() {
		if !status.Ready {
			continue
		}
		msg.Devices = append(msg.Devices, DiscoveredDevice{
			Protocol:      Protocol,
			Address:       status.Address,
			DeviceID:      status.ID,
			Type:          "av_receiver",
			Capabilities:  status.Features,
			Sources:       status.Sources,
			Manufacturer:  "Pioneer",
			SuggestedName: status.Name,
		})
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal discovery", err)
		return
	}
	if err := b.mqtt.Publish(DiscoveryTopic(), payload, 1, true); err != nil {
		b.logError("failed to publish discovery", err)
	}
}

// handleMQTTMessage routes command and request topics.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) {
	kind, id, ok := parseTopic(topic)
	if !ok {
		b.logError("invalid topic format", fmt.Errorf("topic: %s", topic))
		return
	}

	switch kind {
	case kindCommand:
		b.handleCommand(id, payload)
	case kindRequest:
		b.handleRequest(payload)
	default:
		b.logError("unknown message type", fmt.Errorf("type: %s", kind))
	}
}

// handleCommand runs a command from Core and publishes the ack. A payload
// without device_id targets the receiver named in the topic.
func (b *Bridge) handleCommand(topicDevice string, payload []byte) {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logError("failed to parse command", err)
		return
	}
	if cmd.DeviceID == "" {
		cmd.DeviceID = topicDevice
	}

	b.logInfo("received command",
		"command_id", cmd.ID,
		"device_id", cmd.DeviceID,
		"command", cmd.Command)

	ack := b.Execute(b.ctx, cmd)
	b.publishAck(ack)
}

// Execute runs a command against a receiver and returns its acknowledgment.
// A successful command is followed by a poll so state updates promptly.
func (b *Bridge) Execute(ctx context.Context, cmd CommandMessage) AckMessage {
	r, ok := b.receivers[cmd.DeviceID]
	if !ok {
		return NewAckError(cmd, "", ErrCodeNotConfigured,
			fmt.Sprintf("device %s not configured", cmd.DeviceID), 0)
	}

	ctx, cancel := context.WithTimeout(ctx, b.cfg.CommandTimeout)
	defer cancel()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.device == nil && !b.pollLocked(ctx, r) {
		b.recordCommand(r.id, cmd.Command, false)
		return NewAckError(cmd, "", ErrCodeDeviceUnreachable,
			fmt.Sprintf("device %s not ready", cmd.DeviceID), b.retries())
	}
	address := r.device.Address()

	if err := b.executeCommand(ctx, r.device, cmd); err != nil {
		b.recordCommand(r.id, cmd.Command, false)
		code, retries := b.classify(err)
		if code == ErrCodeDeviceUnreachable {
			b.refreshStatus(r, false, true)
		}
		return NewAckError(cmd, address, code, err.Error(), retries)
	}

	b.recordCommand(r.id, cmd.Command, true)
	b.pollLocked(ctx, r)

	return NewAckMessage(cmd, AckAccepted, address)
}

// executeCommand dispatches a command to the device.
func (b *Bridge) executeCommand(ctx context.Context, dev *Device, cmd CommandMessage) error {
	switch cmd.Command {
	case CommandOn:
		return dev.TurnOn(ctx)
	case CommandOff:
		return dev.TurnOff(ctx)
	case CommandVolumeUp:
		return dev.VolumeUp(ctx)
	case CommandVolumeDown:
		return dev.VolumeDown(ctx)
	case CommandMute:
		return dev.Mute(ctx)
	case CommandUnmute:
		return dev.Unmute(ctx)
	case CommandSetVolume:
		level, err := floatParam(cmd.Parameters, "level")
		if err != nil {
			return err
		}
		return dev.SetVolume(ctx, level)
	case CommandSelectSource:
		source, err := stringParam(cmd.Parameters, "source")
		if err != nil {
			return err
		}
		return dev.SelectSource(ctx, source)
	default:
		return fmt.Errorf("%w: %s", ErrInvalidCommand, cmd.Command)
	}
}

// classify maps an execution error to an ack error code and retry count.
func (b *Bridge) classify(err error) (string, int) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeout, 0
	case errors.Is(err, ErrInvalidCommand):
		return ErrCodeInvalidCommand, 0
	case errors.Is(err, ErrInvalidParameters), errors.Is(err, ErrInvalidVolume):
		return ErrCodeInvalidParameters, 0
	case errors.Is(err, ErrUnknownSource):
		return ErrCodeUnknownSource, 0
	case errors.Is(err, ErrConnectionFailed), errors.Is(err, ErrVolumeProbeFailed):
		return ErrCodeDeviceUnreachable, b.retries()
	default:
		return ErrCodeBridgeError, 0
	}
}

// retries is the retry count reported for unreachable receivers.
func (b *Bridge) retries() int {
	return DefaultMaxAttempts - 1
}

func (b *Bridge) recordCommand(deviceID, command string, ok bool) {
	if ok {
		b.commandsSent.Add(1)
	} else {
		b.commandFailures.Add(1)
	}
	if b.metrics != nil {
		b.metrics.ObserveCommand(deviceID, command, ok)
	}
}

// publishAck publishes a command acknowledgment.
func (b *Bridge) publishAck(ack AckMessage) {
	if ack.Error != nil {
		b.logError("command failed",
			fmt.Errorf("device=%s code=%s message=%s", ack.DeviceID, ack.Error.Code, ack.Error.Message))
	}
	if b.mqtt == nil {
		return
	}

	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to marshal ack", err)
		return
	}

	if err := b.mqtt.Publish(AckTopic(ack.DeviceID), payload, 1, false); err != nil {
		b.logError("failed to publish ack", err)
	}
}

// handleRequest processes a request message from Core.
func (b *Bridge) handleRequest(payload []byte) {
	var req RequestMessage
	if err := json.Unmarshal(payload, &req); err != nil {
		b.logError("failed to parse request", err)
		return
	}

	b.logInfo("received request",
		"request_id", req.RequestID,
		"action", req.Action)

	var resp ResponseMessage

	switch req.Action {
	case ActionReadState:
		resp = b.handleReadState(req)
	case ActionListSources:
		resp = b.handleListSources(req)
	default:
		resp = errorResponse(req, ErrCodeInvalidCommand, fmt.Sprintf("unknown action: %s", req.Action))
	}

	respPayload, err := json.Marshal(resp)
	if err != nil {
		b.logError("failed to marshal response", err)
		return
	}

	if err := b.mqtt.Publish(ResponseTopic(req.RequestID), respPayload, 1, false); err != nil {
		b.logError("failed to publish response", err)
	}
}

// handleReadState polls the receiver now and returns its state.
func (b *Bridge) handleReadState(req RequestMessage) ResponseMessage {
	if req.DeviceID == "" {
		return errorResponse(req, ErrCodeInvalidParameters, "device_id is required")
	}

	ctx, cancel := context.WithTimeout(b.ctx, b.cfg.CommandTimeout)
	defer cancel()

	status, err := b.Refresh(ctx, req.DeviceID)
	if err != nil {
		code := ErrCodeDeviceUnreachable
		if errors.Is(err, ErrDeviceNotFound) {
			code = ErrCodeNotConfigured
		}
		return errorResponse(req, code, err.Error())
	}

	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   true,
		Data: map[string]any{
			"device_id": status.ID,
			"state":     status.State,
		},
	}
}

// handleListSources returns the receiver's input names.
func (b *Bridge) handleListSources(req RequestMessage) ResponseMessage {
	if req.DeviceID == "" {
		return errorResponse(req, ErrCodeInvalidParameters, "device_id is required")
	}

	sources, err := b.Sources(req.DeviceID)
	if err != nil {
		return errorResponse(req, ErrCodeNotConfigured, err.Error())
	}

	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   true,
		Data: map[string]any{
			"device_id": req.DeviceID,
			"sources":   sources,
		},
	}
}

func errorResponse(req RequestMessage, code, message string) ResponseMessage {
	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   false,
		Error: &ResponseError{
			Code:    code,
			Message: message,
		},
	}
}

// Receivers returns status snapshots in configuration order.
func (b *Bridge) Receivers() []ReceiverStatus {
	out := make([]ReceiverStatus, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.receivers[id].snapshot())
	}
	return out
}

// Receiver returns one receiver's status snapshot.
func (b *Bridge) Receiver(id string) (ReceiverStatus, error) {
	r, ok := b.receivers[id]
	if !ok {
		return ReceiverStatus{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	return r.snapshot(), nil
}

// Sources returns the receiver's input names ordered by code.
// Empty until the receiver has been reached.
func (b *Bridge) Sources(id string) ([]string, error) {
	status, err := b.Receiver(id)
	if err != nil {
		return nil, err
	}
	return status.Sources, nil
}

// Refresh polls a receiver immediately and returns its new status.
func (b *Bridge) Refresh(ctx context.Context, id string) (ReceiverStatus, error) {
	r, ok := b.receivers[id]
	if !ok {
		return ReceiverStatus{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	if !b.poll(ctx, r) {
		return r.snapshot(), fmt.Errorf("%w: %s", ErrConnectionFailed, id)
	}
	return r.snapshot(), nil
}

// History returns recorded state changes for a receiver, newest first.
// Returns an empty list when no store is configured.
func (b *Bridge) History(ctx context.Context, id string, limit int) ([]HistoryEntry, error) {
	if _, ok := b.receivers[id]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	if b.store == nil {
		return []HistoryEntry{}, nil
	}
	return b.store.History(ctx, id, limit)
}

// HealthSnapshot implements HealthSource.
func (b *Bridge) HealthSnapshot() HealthSnapshot {
	snap := HealthSnapshot{
		DevicesManaged: len(b.order),
		Statistics: BridgeStatistics{
			Polls:           b.polls.Load(),
			PollFailures:    b.pollFailures.Load(),
			CommandsSent:    b.commandsSent.Load(),
			CommandFailures: b.commandFailures.Load(),
			StatesPublished: b.statesPublished.Load(),
		},
	}
	for _, status := range b.Receivers() {
		if status.Online {
			snap.DevicesOnline++
		}
		snap.Statistics.ConnectAttempts += status.Connection.Attempts
		snap.Statistics.ConnectFailures += status.Connection.Failures
	}
	return snap
}

// HealthStatus returns the bridge's current health evaluation.
func (b *Bridge) HealthStatus() (HealthStatus, string) {
	return b.health.Status()
}

// PublishHealth publishes the current health immediately. Called after an
// MQTT reconnect so the retained status replaces the broker's LWT.
func (b *Bridge) PublishHealth() error {
	return b.health.PublishNow()
}

func (r *receiver) snapshot() ReceiverStatus {
	r.statusMu.RLock()
	defer r.statusMu.RUnlock()

	s := r.status
	if s.LastPoll != nil {
		t := *s.LastPoll
		s.LastPoll = &t
	}
	s.Sources = append([]string(nil), s.Sources...)
	s.Features = append([]string(nil), s.Features...)
	if s.State != nil {
		state := make(map[string]any, len(s.State))
		for k, v := range s.State {
			state[k] = v
		}
		s.State = state
	}
	return s
}

// floatParam reads a numeric parameter.
func floatParam(params map[string]any, key string) (float64, error) {
	raw, ok := params[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s is required", ErrInvalidParameters, key)
	}
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: %s: %w", ErrInvalidParameters, key, err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%w: %s must be a number", ErrInvalidParameters, key)
	}
}

// stringParam reads a non-empty string parameter.
func stringParam(params map[string]any, key string) (string, error) {
	v, ok := params[key].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("%w: %s is required", ErrInvalidParameters, key)
	}
	return v, nil
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()

	if b.health != nil {
		b.health.SetLogger(logger)
	}
}

// logInfo logs an info message if logger is set.
func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (b *Bridge) logError(msg string, err error) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}

// logDebug logs a debug message if logger is set.
func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
