// Package retry provides the exponential-backoff executor the multi-round
// task controller wraps every LLM generation call in, so a transient
// provider timeout or rate limit doesn't burn a whole optimization attempt.
//
// Adapted from the teacher's internal/validation/retry.go, generalized to
// ecode.Error instead of the teacher's deployment-specific ValidationError.
package retry

import (
	"context"
	"errors"
	"math"
	"time"

	"aiforge/internal/ecode"
	"aiforge/internal/logger"

	"go.uber.org/zap"
)

// Config controls exponential backoff between attempts.
type Config struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffFactor   float64
	RetryableCodes  []ecode.Code
}

// DefaultConfig mirrors the teacher's DefaultRetryConfig: 3 attempts, 1s
// initial delay, 30s cap, factor 2.0.
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts:   3,
		InitialDelay:  1 * time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
		RetryableCodes: []ecode.Code{
			ecode.CodeLLMTimeout,
			ecode.CodeLLMQuotaExceeded,
			ecode.CodeLLMUnavailable,
			ecode.CodeSandboxTimeout,
			ecode.CodeSandboxResourceLimit,
			ecode.CodeCacheLockFailed,
			ecode.CodeValidationFailed,
			ecode.CodeParameterMappingFailed,
		},
	}
}

// Operation is a single retry attempt. attempt is 1-indexed.
type Operation func(ctx context.Context, attempt int) error

// Do executes operation with exponential backoff, stopping early when the
// returned error is not in config's retryable set.
func Do(ctx context.Context, config *Config, operation Operation, component, operationName string) error {
	var lastErr error

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		logger.WithComponent("retry").Info("executing operation",
			zap.String("component", component),
			zap.String("operation", operationName),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", config.MaxAttempts))

		err := operation(ctx, attempt)
		if err == nil {
			if attempt > 1 {
				logger.WithComponent("retry").Info("operation succeeded after retry",
					zap.String("component", component),
					zap.String("operation", operationName),
					zap.Int("attempt", attempt))
			}
			return nil
		}

		lastErr = err

		if !isRetryable(err, config) {
			logger.WithComponent("retry").Warn("operation failed with non-retryable error",
				zap.String("component", component),
				zap.String("operation", operationName),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return err
		}

		if attempt == config.MaxAttempts {
			break
		}

		delay := backoffDelay(attempt, config)

		logger.WithComponent("retry").Warn("operation failed, retrying",
			zap.String("component", component),
			zap.String("operation", operationName),
			zap.Int("attempt", attempt),
			zap.Duration("retry_delay", delay),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	logger.WithComponent("retry").Error("operation failed after all attempts",
		zap.String("component", component),
		zap.String("operation", operationName),
		zap.Int("max_attempts", config.MaxAttempts),
		zap.Error(lastErr))

	return lastErr
}

func isRetryable(err error, config *Config) bool {
	var e *ecode.Error
	if !errors.As(err, &e) {
		return false
	}
	if !e.IsRetryable() {
		return false
	}
	for _, code := range config.RetryableCodes {
		if e.Code == code {
			return true
		}
	}
	return false
}

func backoffDelay(attempt int, config *Config) time.Duration {
	delay := float64(config.InitialDelay) * math.Pow(config.BackoffFactor, float64(attempt-1))
	if time.Duration(delay) > config.MaxDelay {
		delay = float64(config.MaxDelay)
	}
	return time.Duration(delay)
}
