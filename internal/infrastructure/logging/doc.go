// Package logging provides structured logging using uber/zap.
//
// This package offers production-ready logging with two modes:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output for human readability
//
// Log Levels:
//   - Debug: Verbose debugging information (frame-level traces)
//   - Info: General informational messages
//   - Warn: Dropped frames, transport hiccups handled by backoff
//   - Error: Application errors surfaced by the peer
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	logger.Info("Connected", zap.String("url", url))
//	logger.Warn("Dropping malformed frame", zap.Error(err))
package logging
