// Package logging provides structured logging for the Pioneer bridge.
//
// It wraps log/slog with JSON or text output, level filtering and the
// default fields service=graylogic-pioneer and version.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("receiver ready", "device", "living-avr")
//
// Never log secrets. Config.String redacts them for startup logging.
package logging
