// Package logging provides structured logging using uber/zap.
//
// Two modes are offered:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output for human readability
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	logger.Info("executor starting", zap.String("shell", "/bin/bash"))
//	logger.Error("failed to save block", zap.Error(err))
package logging
