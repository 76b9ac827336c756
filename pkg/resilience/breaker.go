// Copyright The FastFlight Authors
// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"time"

	"go.uber.org/zap"

	"github.com/fastflight/fastflight-go/pkg/ferror"
	"github.com/fastflight/fastflight-go/pkg/metrics"
)

// State is the circuit breaker's admission state.
type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half_open"
)

var stateGaugeValue = map[State]float64{Closed: 0, Open: 1, HalfOpen: 2}

// BreakerConfig controls one circuit's thresholds.
type BreakerConfig struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	SuccessThreshold int
	MonitoredKinds   []ferror.Kind
}

// DefaultMonitoredKinds are the upstream-health failures a breaker tracks.
var DefaultMonitoredKinds = []ferror.Kind{
	ferror.Connection, ferror.DataService, ferror.Timeout,
}

// Breaker is a named circuit breaker. The admit decision and the post-call
// state update each hold the mutex; between them the wrapped call runs
// unlocked so slow upstreams never serialize behind the breaker.
type Breaker struct {
	name   string
	cfg    BreakerConfig
	logger *zap.Logger

	// guarded by mu in the manager's critical sections
	state        State
	failureCount int
	successCount int
	lastFailure  time.Time
}

func newBreaker(name string, cfg BreakerConfig, logger *zap.Logger) *Breaker {
	if len(cfg.MonitoredKinds) == 0 {
		cfg.MonitoredKinds = DefaultMonitoredKinds
	}
	b := &Breaker{name: name, cfg: cfg, state: Closed, logger: logger}
	metrics.BreakerState.WithLabelValues(name).Set(stateGaugeValue[Closed])
	return b
}

// admit decides whether a call may proceed, transitioning OPEN→HALF_OPEN
// when the recovery timeout has elapsed. Callers hold the owning mutex.
func (b *Breaker) admit(now time.Time) error {
	if b.state == Open {
		if now.Sub(b.lastFailure) >= b.cfg.RecoveryTimeout {
			b.transition(HalfOpen)
			b.successCount = 0
		} else {
			err := ferror.Newf(ferror.CircuitOpen, "circuit breaker %q is open", b.name)
			err.RetryAfter = b.cfg.RecoveryTimeout
			return err
		}
	}
	return nil
}

// record applies the call outcome. Callers hold the owning mutex.
func (b *Breaker) record(err error, now time.Time) {
	if err == nil {
		metrics.BreakerSuccessesTotal.WithLabelValues(b.name).Inc()
		switch b.state {
		case HalfOpen:
			b.successCount++
			if b.successCount >= b.cfg.SuccessThreshold {
				b.transition(Closed)
				b.failureCount = 0
				b.successCount = 0
			}
		case Closed:
			// Any success resets the consecutive-failure count.
			b.failureCount = 0
		}
		return
	}

	if !b.monitors(ferror.KindOf(err)) {
		return
	}
	metrics.BreakerFailuresTotal.WithLabelValues(b.name).Inc()
	b.failureCount++
	b.lastFailure = now
	switch b.state {
	case Closed:
		if b.failureCount >= b.cfg.FailureThreshold {
			b.transition(Open)
		}
	case HalfOpen:
		b.successCount = 0
		b.transition(Open)
	}
}

func (b *Breaker) monitors(kind ferror.Kind) bool {
	for _, k := range b.cfg.MonitoredKinds {
		if k == kind {
			return true
		}
	}
	return false
}

func (b *Breaker) transition(next State) {
	if b.state == next {
		return
	}
	b.logger.Info("circuit breaker state change",
		zap.String("circuit", b.name),
		zap.String("from", string(b.state)),
		zap.String("to", string(next)),
		zap.Int("failures", b.failureCount),
	)
	b.state = next
	metrics.BreakerState.WithLabelValues(b.name).Set(stateGaugeValue[next])
}

// Status is a point-in-time snapshot of one circuit.
type Status struct {
	Name         string    `json:"name"`
	State        State     `json:"state"`
	FailureCount int       `json:"failure_count"`
	SuccessCount int       `json:"success_count"`
	LastFailure  time.Time `json:"last_failure"`
}
