// Copyright The FastFlight Authors
// SPDX-License-Identifier: Apache-2.0

// Package resilience layers retry policies and circuit breakers over any
// call. Both operate on ferror kinds: an error whose kind is not listed is
// neither retried nor counted against a breaker.
package resilience

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/fastflight/fastflight-go/pkg/ferror"
)

// Strategy selects the delay curve between retry attempts.
type Strategy string

const (
	FixedDelay          Strategy = "fixed_delay"
	LinearBackoff       Strategy = "linear_backoff"
	ExponentialBackoff  Strategy = "exponential_backoff"
	JitteredExponential Strategy = "jittered_exponential"
)

// RetryConfig controls how failed attempts are re-driven.
type RetryConfig struct {
	MaxAttempts     int
	Strategy        Strategy
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	ExponentialBase float64
	JitterFactor    float64
	RetryableKinds  []ferror.Kind
}

// DefaultRetryableKinds are the transient transport failures.
var DefaultRetryableKinds = []ferror.Kind{
	ferror.Connection, ferror.Timeout, ferror.DataService,
}

// Delay computes the pause before retrying after attempt n (n starts at 1),
// clamped to MaxDelay.
func (c RetryConfig) Delay(attempt int) time.Duration {
	var d time.Duration
	switch c.Strategy {
	case LinearBackoff:
		d = c.BaseDelay * time.Duration(attempt)
	case ExponentialBackoff:
		d = time.Duration(float64(c.BaseDelay) * math.Pow(c.ExponentialBase, float64(attempt-1)))
	case JitteredExponential:
		base := float64(c.BaseDelay) * math.Pow(c.ExponentialBase, float64(attempt-1))
		jitter := base * c.JitterFactor * (rand.Float64()*2 - 1)
		d = time.Duration(base + jitter)
	default:
		d = c.BaseDelay
	}
	if c.MaxDelay > 0 && d > c.MaxDelay {
		d = c.MaxDelay
	}
	if d < 0 {
		d = 0
	}
	return d
}

// ShouldRetry reports whether err after attempt n warrants another attempt.
func (c RetryConfig) ShouldRetry(err error, attempt int) bool {
	if attempt >= c.MaxAttempts {
		return false
	}
	kind := ferror.KindOf(err)
	kinds := c.RetryableKinds
	if kinds == nil {
		kinds = DefaultRetryableKinds
	}
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Call is one resilience-wrapped invocation.
type Call func(ctx context.Context) error

// executeWithRetry drives call until success, a non-retryable error, ctx
// cancellation, or attempt exhaustion; exhaustion wraps the last error in
// RetryExhausted with the cause and its kind preserved.
func executeWithRetry(ctx context.Context, cfg RetryConfig, call Call) error {
	for attempt := 1; ; attempt++ {
		err := call(ctx)
		if err == nil {
			return nil
		}
		if !cfg.ShouldRetry(err, attempt) {
			if attempt < cfg.MaxAttempts {
				return err
			}
			if !retryableKind(cfg, err) {
				return err
			}
			return ferror.NewWrap(ferror.RetryExhausted,
				fmt.Sprintf("operation failed after %d attempts", attempt), err).
				WithDetail("last_kind", string(ferror.KindOf(err)))
		}
		select {
		case <-time.After(cfg.Delay(attempt)):
		case <-ctx.Done():
			return ferror.Wrap(ferror.Timeout, "cancelled while waiting to retry", ctx.Err())
		}
	}
}

func retryableKind(cfg RetryConfig, err error) bool {
	kind := ferror.KindOf(err)
	kinds := cfg.RetryableKinds
	if kinds == nil {
		kinds = DefaultRetryableKinds
	}
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}
