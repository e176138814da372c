// Package logging provides structured logging for relaysync.
//
// It wraps log/slog so every component logs with the same default fields
// (service, version) and honours one configured level.
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
//	router, _ := transport.NewRouter(transport.Options{Logger: logger.Component("transport")})
//
// Device API keys are credentials: log the device ID, never the key.
package logging
