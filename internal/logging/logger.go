package logging

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logger *zap.Logger

// LogLevelEnvVar is the environment variable that controls logging verbosity.
// When unset or empty, logging is silent (no zap output).
// Valid values: "debug", "info", "warn", "error"
const LogLevelEnvVar = "ESPCTL_LOG_LEVEL"

// Initialize creates a new logger with the specified level.
// If level is empty, it checks ESPCTL_LOG_LEVEL environment variable.
// If neither is set, logging is disabled (silent mode).
func Initialize(level string) error {
	if level == "" {
		level = os.Getenv(LogLevelEnvVar)
	}

	if level == "" {
		logger = zap.NewNop()
		return nil
	}

	zapLevel, err := ParseLevel(level)
	if err != nil {
		// Unknown level - use info as default when explicitly set to something
		zapLevel = zapcore.InfoLevel
	}

	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "console",
		EncoderConfig:    zap.NewDevelopmentEncoderConfig(),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	logger, err = config.Build()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	return nil
}

// ParseLevel maps a level name to a zap level.
func ParseLevel(level string) (zapcore.Level, error) {
	switch level {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info":
		return zapcore.InfoLevel, nil
	case "warn":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
}

// InitializeFromEnv initializes the logger from the ESPCTL_LOG_LEVEL
// environment variable. Logging stays silent when the variable is unset.
func InitializeFromEnv() error {
	return Initialize("")
}

// SetLogger replaces the global logger. Tests use this with zaptest/observer
// style cores; passing nil restores the silent logger.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	logger = l
}

// GetLogger returns the global logger instance
func GetLogger() *zap.Logger {
	if logger == nil {
		// Fallback to silent logger if not initialized
		logger = zap.NewNop()
	}
	return logger
}

// Info logs an info message
func Info(msg string, fields ...zap.Field) {
	GetLogger().Info(msg, fields...)
}

// Debug logs a debug message
func Debug(msg string, fields ...zap.Field) {
	GetLogger().Debug(msg, fields...)
}

// Warn logs a warning message
func Warn(msg string, fields ...zap.Field) {
	GetLogger().Warn(msg, fields...)
}

// Error logs an error message
func Error(msg string, fields ...zap.Field) {
	GetLogger().Error(msg, fields...)
}

// Fatal logs a fatal message and exits
func Fatal(msg string, fields ...zap.Field) {
	GetLogger().Fatal(msg, fields...)
}

// LogProbe logs the outcome of a single host probe.
// Absent results are only interesting while debugging a sweep.
func LogProbe(address string, confirmed bool, elapsed time.Duration, err error) {
	fields := []zap.Field{
		zap.String("address", address),
		zap.Bool("confirmed", confirmed),
		zap.Duration("elapsed", elapsed),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	if confirmed {
		Info("Probe confirmed device", fields...)
		return
	}
	Debug("Probe absent", fields...)
}

// LogScanRound logs the completion of one scan batch.
func LogScanRound(round int, first, last int, confirmed int, elapsed time.Duration) {
	Debug("Scan batch settled",
		zap.Int("round", round),
		zap.Int("first_host", first),
		zap.Int("last_host", last),
		zap.Int("confirmed", confirmed),
		zap.Duration("elapsed", elapsed),
	)
}

// LogEndpointChange logs a rewrite of the device base URL.
func LogEndpointChange(oldURL, newURL string) {
	Info("Device endpoint updated",
		zap.String("old", oldURL),
		zap.String("new", newURL),
	)
}

// LogOTATransition logs an OTA session phase change.
func LogOTATransition(from, to string, fields ...zap.Field) {
	fields = append([]zap.Field{
		zap.String("from", from),
		zap.String("to", to),
	}, fields...)
	Info("OTA session transition", fields...)
}

// LogHTTPRequest logs a request served by the local control panel
func LogHTTPRequest(remoteAddr string, method string, path string, statusCode int, elapsed time.Duration) {
	Info("HTTP request served",
		zap.String("remote_addr", remoteAddr),
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status_code", statusCode),
		zap.Duration("elapsed", elapsed),
	)
}

// Sync flushes any buffered log entries
func Sync() {
	if logger != nil {
		_ = logger.Sync()
	}
}
