package pioneer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// HealthPublisher is where health messages go, normally the MQTT client.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// HealthSource reports receiver availability. Bridge implements it.
type HealthSource interface {
	HealthSnapshot() HealthSnapshot
}

// HealthSnapshot is a point-in-time view of receiver availability.
type HealthSnapshot struct {
	DevicesManaged int
	DevicesOnline  int
	Statistics     BridgeStatistics
}

// HealthReporterConfig configures a HealthReporter. Interval defaults to
// 30 seconds; Publisher and Source may be nil.
type HealthReporterConfig struct {
	BridgeID  string
	Version   string
	Interval  time.Duration
	Publisher HealthPublisher
	Source    HealthSource
}

// HealthReporter publishes the retained bridge health message on a timer
// and whenever a receiver changes availability.
type HealthReporter struct {
	cfg     HealthReporterConfig
	started time.Time

	nudge chan struct{}
	quit  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once

	mu     sync.RWMutex
	logger Logger
}

// NewHealthReporter returns a reporter. Call Start to begin publishing.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultHealthInterval
	}
	return &HealthReporter{
		cfg:     cfg,
		started: time.Now(),
		nudge:   make(chan struct{}, 1),
		quit:    make(chan struct{}),
	}
}

// SetLogger sets where publish failures are reported.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.mu.Lock()
	h.logger = logger
	h.mu.Unlock()
}

// Start publishes the current status and then keeps it fresh until ctx
// ends or Stop is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.run(ctx)
	}()
}

// Stop ends the loop and publishes a final "stopping" status. Repeat
// calls do nothing.
func (h *HealthReporter) Stop() {
	h.once.Do(func() {
		close(h.quit)
		h.wg.Wait()
		if err := h.publish(HealthStopping, ""); err != nil {
			h.logPublishError("stopping", err)
		}
	})
}

// Nudge asks the loop to republish now. It never blocks; nudges that
// arrive while one is pending are merged.
func (h *HealthReporter) Nudge() {
	select {
	case h.nudge <- struct{}{}:
	default:
	}
}

// PublishStarting announces that the bridge is coming up.
func (h *HealthReporter) PublishStarting() error {
	return h.publish(HealthStarting, "bridge starting")
}

// PublishNow evaluates and publishes the current status.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.Status()
	return h.publish(status, reason)
}

// Status evaluates bridge health. Receiver reachability outranks the
// broker connection: with every receiver down the bridge is unhealthy
// even if MQTT is fine.
func (h *HealthReporter) Status() (HealthStatus, string) {
	snap := h.snapshot()
	down := snap.DevicesManaged - snap.DevicesOnline

	switch {
	case snap.DevicesManaged > 0 && snap.DevicesOnline == 0:
		return HealthUnhealthy, "no receivers reachable"
	case down > 0:
		return HealthDegraded, fmt.Sprintf("%d of %d receivers unreachable", down, snap.DevicesManaged)
	case h.cfg.Publisher != nil && !h.cfg.Publisher.IsConnected():
		return HealthDegraded, "MQTT disconnected"
	}
	return HealthHealthy, ""
}

func (h *HealthReporter) run(ctx context.Context) {
	tick := time.NewTicker(h.cfg.Interval)
	defer tick.Stop()

	for {
		if err := h.PublishNow(); err != nil {
			h.logPublishError("periodic", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-h.quit:
			return
		case <-tick.C:
		case <-h.nudge:
		}
	}
}

func (h *HealthReporter) snapshot() HealthSnapshot {
	if h.cfg.Source == nil {
		return HealthSnapshot{}
	}
	return h.cfg.Source.HealthSnapshot()
}

func (h *HealthReporter) message(status HealthStatus, reason string) HealthMessage {
	snap := h.snapshot()
	return HealthMessage{
		Bridge:         h.cfg.BridgeID,
		Timestamp:      time.Now().UTC(),
		Status:         status,
		Version:        h.cfg.Version,
		UptimeSeconds:  int64(time.Since(h.started).Seconds()),
		Statistics:     &snap.Statistics,
		DevicesManaged: snap.DevicesManaged,
		DevicesOnline:  snap.DevicesOnline,
		Reason:         reason,
	}
}

// publish sends status retained at QoS 1 so late subscribers see it.
func (h *HealthReporter) publish(status HealthStatus, reason string) error {
	if h.cfg.Publisher == nil {
		return nil
	}
	payload, err := json.Marshal(h.message(status, reason))
	if err != nil {
		return fmt.Errorf("encoding health: %w", err)
	}
	return h.cfg.Publisher.Publish(HealthTopic(), payload, 1, true)
}

func (h *HealthReporter) logPublishError(kind string, err error) {
	h.mu.RLock()
	logger := h.logger
	h.mu.RUnlock()
	if logger != nil {
		logger.Error("failed to publish health", "kind", kind, "error", err)
	}
}
