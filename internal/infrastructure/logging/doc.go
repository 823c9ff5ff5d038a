// Package logging provides structured logging for the device-management agent.
//
// It wraps log/slog so every entry carries the service name and build
// version, with JSON output for production and text for development.
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
//	logger.Info("connected", "broker", host)
//
// Never log the device auth token.
package logging
