// Package logging provides structured logging using zap
package logging

import (
	"fmt"
	"os"
)

// NewDefaultLogger creates an info-level logger writing to stdout
func NewDefaultLogger() Logger {
	logger, err := NewZapLogger(LogConfig{Level: InfoLevel})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize default zap logger: %v", err))
	}
	return logger
}

// InitGlobalLogger installs the global logger. An empty logFile keeps
// output on stdout; otherwise entries are appended to that file.
func InitGlobalLogger(level, logFile string) error {
	config := LogConfig{Level: ParseLevel(level)}

	if logFile != "" {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file %s: %w", logFile, err)
		}
		config.Output = file
	}

	logger, err := NewZapLogger(config)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	SetGlobalLogger(logger)

	logger.Info("Logger initialized",
		Field{"level", config.Level.String()},
		Field{"log_file", logFile},
	)
	return nil
}

// MustSync flushes any buffered log entries for zap loggers.
// Call before process exit.
func MustSync() {
	if zapLogger, ok := GetGlobalLogger().(*ZapAdapter); ok {
		_ = zapLogger.Sync()
	}
}

// WithFields is a convenience function to add fields to the global logger
func WithFields(fields ...Field) Logger {
	return GetGlobalLogger().WithFields(fields...)
}
