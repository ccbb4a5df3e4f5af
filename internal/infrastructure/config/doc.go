// Package config handles loading and validating the Pioneer bridge
// configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with GRAYLOGIC_* environment variables
//   - Per-receiver defaults (port 23, 5s timeout, 9600 baud)
//   - Validation of receivers, ports and secrets
//
// Security Considerations:
//   - Secrets (MQTT password, JWT secret, API key hash) should come from
//     environment variables
//   - Config.String redacts secrets so the loaded config can be logged
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, r := range cfg.Receivers {
//	    fmt.Println(r.ID, r.Host)
//	}
package config
