package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger
)

// LogLevel represents available log levels
type LogLevel string

const (
	DEBUG LogLevel = "debug"
	INFO  LogLevel = "info"
	WARN  LogLevel = "warn"
	ERROR LogLevel = "error"
	PANIC LogLevel = "panic"
	FATAL LogLevel = "fatal"
)

// LogFormat represents output formats
type LogFormat string

const (
	JSON    LogFormat = "json"
	CONSOLE LogFormat = "console"
)

// Config holds logger configuration
type Config struct {
	Level      LogLevel  `json:"level"`
	Format     LogFormat `json:"format"`
	OutputPath string    `json:"output_path"`
	Caller     bool      `json:"caller"`
	Stacktrace bool      `json:"stacktrace"`
}

// DefaultConfig returns default logger configuration
func DefaultConfig() Config {
	return Config{
		Level:      INFO,
		Format:     CONSOLE,
		OutputPath: "stdout",
		Caller:     true,
		Stacktrace: true,
	}
}

// InitLogger initializes the global logger with configuration
func InitLogger(config Config) error {
	var level zapcore.Level
	switch config.Level {
	case DEBUG:
		level = zapcore.DebugLevel
	case INFO:
		level = zapcore.InfoLevel
	case WARN:
		level = zapcore.WarnLevel
	case ERROR:
		level = zapcore.ErrorLevel
	case PANIC:
		level = zapcore.PanicLevel
	case FATAL:
		level = zapcore.FatalLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	var encoder zapcore.Encoder

	if config.Format == JSON {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006/01/02 15:04:05")
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	var writeSyncer zapcore.WriteSyncer
	if config.OutputPath == "stdout" || config.OutputPath == "" {
		writeSyncer = zapcore.AddSync(os.Stdout)
	} else {
		file, err := os.OpenFile(config.OutputPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return err
		}
		writeSyncer = zapcore.AddSync(file)
	}

	core := zapcore.NewCore(encoder, writeSyncer, level)

	var options []zap.Option
	if config.Caller {
		options = append(options, zap.AddCaller())
		options = append(options, zap.AddCallerSkip(1))
	}
	if config.Stacktrace {
		options = append(options, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	Logger = zap.New(core, options...)
	Sugar = Logger.Sugar()

	return nil
}

// InitFromEnv initializes logger from environment variables
func InitFromEnv() error {
	config := DefaultConfig()

	if level := os.Getenv("AIFORGE_LOG_LEVEL"); level != "" {
		config.Level = LogLevel(strings.ToLower(level))
	}
	if format := os.Getenv("AIFORGE_LOG_FORMAT"); format != "" {
		config.Format = LogFormat(strings.ToLower(format))
	}
	if output := os.Getenv("AIFORGE_LOG_OUTPUT"); output != "" {
		config.OutputPath = output
	}
	if caller := os.Getenv("AIFORGE_LOG_CALLER"); caller == "false" {
		config.Caller = false
	}
	if stacktrace := os.Getenv("AIFORGE_LOG_STACKTRACE"); stacktrace == "false" {
		config.Stacktrace = false
	}

	return InitLogger(config)
}

// Sync flushes any buffered log entries
func Sync() {
	if Logger != nil {
		_ = Logger.Sync()
	}
}

// Context-aware logging helpers

// WithComponent adds component context to logger
func WithComponent(component string) *zap.Logger {
	return Logger.With(zap.String("component", component))
}

// WithInstruction adds instruction-cache-key context to logger
func WithInstruction(cacheKey string) *zap.Logger {
	return Logger.With(zap.String("cache_key", cacheKey))
}

// WithModule adds cached-module context to logger
func WithModule(moduleID string) *zap.Logger {
	return Logger.With(zap.String("module_id", moduleID))
}

// WithRound adds multi-round-controller context to logger
func WithRound(round, attempt int) *zap.Logger {
	return Logger.With(zap.Int("round", round), zap.Int("attempt", attempt))
}

// WithSandbox adds sandbox-execution context to logger
func WithSandbox(taskID string) *zap.Logger {
	return Logger.With(zap.String("sandbox_task_id", taskID))
}

// WithError adds error context to logger
func WithError(err error) *zap.Logger {
	return Logger.With(zap.Error(err))
}

// Performance logging helpers

// LogPerformance logs performance metrics
func LogPerformance(operation string, durationMS int64, success bool) {
	Logger.Info("performance metric",
		zap.String("operation", operation),
		zap.Int64("duration_ms", durationMS),
		zap.Bool("success", success),
	)
}

// LogOrchestration logs a completed orchestration request
func LogOrchestration(cacheKey string, source string, totalTimeMS int64, success bool) {
	Logger.Info("orchestration completed",
		zap.String("cache_key", cacheKey),
		zap.String("source", source),
		zap.Int64("total_time_ms", totalTimeMS),
		zap.Bool("success", success),
	)
}

// LogValidation logs the outcome of a single validation tier
func LogValidation(tier string, passed bool, failureReason string) {
	Logger.Info("validation tier completed",
		zap.String("tier", tier),
		zap.Bool("passed", passed),
		zap.String("failure_reason", failureReason),
	)
}

// Structured error logging

// LogError logs structured error information
func LogError(operation string, err error, context map[string]interface{}) {
	fields := []zap.Field{
		zap.String("operation", operation),
		zap.Error(err),
	}

	for key, value := range context {
		fields = append(fields, zap.Any(key, value))
	}

	Logger.Error("operation failed", fields...)
}

// LogCriticalError logs critical system errors that abort the current request
func LogCriticalError(operation string, err error, context map[string]interface{}) {
	fields := []zap.Field{
		zap.String("operation", operation),
		zap.Error(err),
		zap.String("severity", "critical"),
	}

	for key, value := range context {
		fields = append(fields, zap.Any(key, value))
	}

	Logger.Error("critical system error", fields...)
}
