// Copyright The FastFlight Authors
// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config combines a retry policy and a circuit breaker for one operation.
// A nil Retry disables retries; EnableBreaker plus a CircuitName enables the
// breaker.
type Config struct {
	Retry         *RetryConfig
	Breaker       *BreakerConfig
	CircuitName   string
	EnableBreaker bool

	// OperationTimeout bounds each attempt; zero means caller-controlled.
	OperationTimeout time.Duration
}

// DefaultConfig is the balanced production profile.
func DefaultConfig() Config {
	return Config{
		Retry: &RetryConfig{
			MaxAttempts:     3,
			Strategy:        ExponentialBackoff,
			BaseDelay:       time.Second,
			MaxDelay:        16 * time.Second,
			ExponentialBase: 2.0,
		},
		Breaker: &BreakerConfig{
			FailureThreshold: 5,
			RecoveryTimeout:  30 * time.Second,
			SuccessThreshold: 2,
		},
		CircuitName:   "default_circuit",
		EnableBreaker: true,
	}
}

// HighAvailabilityConfig retries harder with jitter and trips faster.
func HighAvailabilityConfig() Config {
	return Config{
		Retry: &RetryConfig{
			MaxAttempts:     5,
			Strategy:        JitteredExponential,
			BaseDelay:       500 * time.Millisecond,
			MaxDelay:        8 * time.Second,
			ExponentialBase: 2.0,
			JitterFactor:    0.2,
		},
		Breaker: &BreakerConfig{
			FailureThreshold: 3,
			RecoveryTimeout:  15 * time.Second,
			SuccessThreshold: 1,
		},
		CircuitName:   "ha_circuit",
		EnableBreaker: true,
	}
}

// BatchConfig tolerates long outages: few slow retries, lenient breaker.
func BatchConfig() Config {
	return Config{
		Retry: &RetryConfig{
			MaxAttempts: 2,
			Strategy:    FixedDelay,
			BaseDelay:   5 * time.Second,
		},
		Breaker: &BreakerConfig{
			FailureThreshold: 10,
			RecoveryTimeout:  60 * time.Second,
			SuccessThreshold: 3,
		},
		CircuitName:   "batch_circuit",
		EnableBreaker: true,
	}
}

// PresetConfig resolves a named preset; unknown names fall back to default.
func PresetConfig(name string) Config {
	switch name {
	case "high_availability":
		return HighAvailabilityConfig()
	case "batch":
		return BatchConfig()
	default:
		return DefaultConfig()
	}
}

// Manager owns the named circuit breakers and composes them with retry
// policies. Breakers are created lazily on first use and live for the
// manager's lifetime.
type Manager struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	logger   *zap.Logger
}

func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{breakers: map[string]*Breaker{}, logger: logger}
}

func (m *Manager) breaker(name string, cfg *BreakerConfig) *Breaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.breakers[name]; ok {
		return b
	}
	bc := BreakerConfig{FailureThreshold: 5, RecoveryTimeout: 60 * time.Second, SuccessThreshold: 3}
	if cfg != nil {
		bc = *cfg
	}
	b := newBreaker(name, bc, m.logger)
	m.breakers[name] = b
	return b
}

// Execute runs call under cfg: the retry engine wraps the breaker, so every
// attempt re-enters the breaker and sustained upstream failure trips it even
// mid-retry.
func (m *Manager) Execute(ctx context.Context, cfg Config, call Call) error {
	wrapped := call
	if cfg.EnableBreaker && cfg.CircuitName != "" {
		b := m.breaker(cfg.CircuitName, cfg.Breaker)
		inner := wrapped
		wrapped = func(ctx context.Context) error {
			return m.throughBreaker(ctx, b, inner)
		}
	}
	if cfg.OperationTimeout > 0 {
		inner := wrapped
		wrapped = func(ctx context.Context) error {
			tctx, cancel := context.WithTimeout(ctx, cfg.OperationTimeout)
			defer cancel()
			return inner(tctx)
		}
	}
	if cfg.Retry != nil {
		return executeWithRetry(ctx, *cfg.Retry, wrapped)
	}
	return wrapped(ctx)
}

func (m *Manager) throughBreaker(ctx context.Context, b *Breaker, call Call) error {
	m.mu.Lock()
	if err := b.admit(time.Now()); err != nil {
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()

	err := call(ctx)

	m.mu.Lock()
	b.record(err, time.Now())
	m.mu.Unlock()
	return err
}

// CircuitStatus snapshots every live breaker, keyed by circuit name.
func (m *Manager) CircuitStatus() map[string]Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Status, len(m.breakers))
	for name, b := range m.breakers {
		out[name] = Status{
			Name:         name,
			State:        b.state,
			FailureCount: b.failureCount,
			SuccessCount: b.successCount,
			LastFailure:  b.lastFailure,
		}
	}
	return out
}
