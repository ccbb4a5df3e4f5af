package pioneer

import (
	"fmt"
	"strings"
	"time"
)

// Bridge defaults.
const (
	defaultPollInterval   = 10 * time.Second
	defaultHealthInterval = 30 * time.Second

	// defaultCommandTimeout covers a full stepped volume sweep with retries.
	defaultCommandTimeout = 60 * time.Second
)

// BridgeConfig configures the bridge and the receivers it manages.
type BridgeConfig struct {
	// ID is the bridge identifier in health messages. Default: "pioneer".
	ID string

	// Version is reported in health messages.
	Version string

	// PollInterval is how often each receiver is polled. Default: 10s.
	PollInterval time.Duration

	// HealthInterval is how often health is published. Default: 30s.
	HealthInterval time.Duration

	// CommandTimeout bounds a single command including retries. Default: 60s.
	CommandTimeout time.Duration

	// Receivers lists the managed receivers.
	Receivers []ReceiverConfig
}

// ReceiverConfig pairs a stable receiver ID with its device settings.
type ReceiverConfig struct {
	ID     string
	Device Config
}

// withDefaults returns a copy with zero values replaced by defaults.
func (c BridgeConfig) withDefaults() BridgeConfig {
	if c.ID == "" {
		c.ID = Protocol
	}
	if c.Version == "" {
		c.Version = "dev"
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = defaultHealthInterval
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = defaultCommandTimeout
	}
	return c
}

// Validate checks receiver IDs and addressing.
func (c BridgeConfig) Validate() error {
	var errs []string
	seen := make(map[string]bool, len(c.Receivers))

	for i, r := range c.Receivers {
		switch {
		case r.ID == "":
			errs = append(errs, fmt.Sprintf("receivers[%d].id is required", i))
		case strings.ContainsAny(r.ID, "/#+"):
			errs = append(errs, fmt.Sprintf("receivers[%d].id %q must not contain MQTT wildcards or '/'", i, r.ID))
		case seen[r.ID]:
			errs = append(errs, fmt.Sprintf("receivers[%d].id %q is duplicated", i, r.ID))
		}
		seen[r.ID] = true

		if _, err := dialerFor(r.Device); err != nil {
			errs = append(errs, fmt.Sprintf("receivers[%d]: %v", i, err))
		}
		if _, err := NewSourceCatalog(r.Device.Sources); err != nil {
			errs = append(errs, fmt.Sprintf("receivers[%d]: %v", i, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("bridge configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
