// Package logging provides structured logging for orchestrator nodes.
//
// It wraps log/slog so every subsystem logs the same way: JSON in
// production, text on a terminal, and a fixed set of default attributes
// (service, version, host) on every record.
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
//	logger := logging.New(cfg.Logging, cfg.Node.Host, version)
//	devLog := logger.Component("lifecycle").Device("station")
//	devLog.Info("state changed", "from", "IDLE", "to", "CLAIMING")
//
// Packages further down the stack never import this package; they declare
// a small Logger interface (Debug, Info, Warn, Error) which *Logger
// satisfies through its embedded *slog.Logger.
package logging
