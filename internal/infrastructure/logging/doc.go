// Package logging provides structured logging for School Docs Core.
//
// It wraps log/slog so every entry carries the service name and build
// version. Output is JSON for production and text for development.
//
// Configuration (config.yaml):
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("session opened", "session_id", sid)
//
// Never log passwords, access tokens, or websocket tickets.
package logging
