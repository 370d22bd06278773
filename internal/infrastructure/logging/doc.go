// Package logging builds the zap loggers used across termlink.
//
// Two modes are supported:
//   - Production: JSON lines on stderr, info level
//   - Development: colored console output at debug level
//
// stdout is reserved for command output, so loggers never write there
// unless a caller asks for it explicitly through Config.OutputPaths.
//
// Example Usage:
//
//	logger, err := logging.New(logging.DefaultConfig())
//	logger.Info("session resolved", zap.String("session", sid))
//	logger.Debug("validation failed", zap.Error(err))
package logging
