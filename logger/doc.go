// Package logger provides structured logging for the SDK runtime using zerolog.
//
// It supports JSON and console output, level configuration, and
// component-scoped loggers with structured fields.
//
// # Configuration
//
//	logger:
//	  level: "debug"
//	  format: "json"
//
// # Usage
//
//	log := logger.WithComponent("transport.signal")
//	log.Debug("timeout-only cancellation", logger.Fields("timeout_s", 120))
package logger
