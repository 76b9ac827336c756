// Copyright The FastFlight Authors
// SPDX-License-Identifier: Apache-2.0

// Package client is the resilient front to a FastFlight server: a pooled
// Flight connection set with retry policies and a circuit breaker layered on
// top, exposing table, record, and raw IPC byte surfaces.
package client

import (
	"context"
	"strings"
	"time"

	"github.com/apache/arrow/go/v12/arrow/flight"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/fastflight/fastflight-go/pkg/ferror"
	"github.com/fastflight/fastflight-go/pkg/metrics"
)

// Pool is a fixed-capacity set of Flight client handles pointed at one
// server location. Handles are long-lived; only the acquiring caller may use
// a handle until it is released.
type Pool struct {
	location string
	addr     string
	size     int
	auth     flight.ClientAuthHandler
	dialOpts []grpc.DialOption
	handles  chan flight.Client
	logger   *zap.Logger
}

// ParseLocation splits a grpc:// or grpc+tls:// location URI into its dial
// address and TLS-ness.
func ParseLocation(location string) (addr string, tls bool, err error) {
	switch {
	case strings.HasPrefix(location, "grpc+tls://"):
		return strings.TrimPrefix(location, "grpc+tls://"), true, nil
	case strings.HasPrefix(location, "grpc://"):
		return strings.TrimPrefix(location, "grpc://"), false, nil
	case strings.Contains(location, "://"):
		return "", false, ferror.Newf(ferror.Connection, "unsupported location scheme in %q", location)
	default:
		// A bare host:port is accepted for convenience.
		return location, false, nil
	}
}

// NewPool dials size handles to location. auth may be nil; extraDialOpts
// extend the defaults (insecure transport for grpc://, system TLS roots for
// grpc+tls://).
func NewPool(location string, size int, auth flight.ClientAuthHandler, logger *zap.Logger, extraDialOpts ...grpc.DialOption) (*Pool, error) {
	if size <= 0 {
		size = 1
	}
	addr, useTLS, err := ParseLocation(location)
	if err != nil {
		return nil, err
	}
	dialOpts := make([]grpc.DialOption, 0, 1+len(extraDialOpts))
	if useTLS {
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(credentials.NewClientTLSFromCert(nil, "")))
	} else {
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	dialOpts = append(dialOpts, extraDialOpts...)

	p := &Pool{
		location: location,
		addr:     addr,
		size:     size,
		auth:     auth,
		dialOpts: dialOpts,
		handles:  make(chan flight.Client, size),
		logger:   logger,
	}
	for i := 0; i < size; i++ {
		h, err := p.dial()
		if err != nil {
			_ = p.Close()
			return nil, err
		}
		p.handles <- h
	}
	metrics.PoolSize.Set(float64(size))
	metrics.PoolAvailable.Set(float64(size))
	logger.Info("created flight client pool",
		zap.String("location", location),
		zap.Int("size", size),
	)
	return p, nil
}

func (p *Pool) dial() (flight.Client, error) {
	h, err := flight.NewClientWithMiddleware(p.addr, p.auth, nil, p.dialOpts...)
	if err != nil {
		return nil, ferror.Wrap(ferror.Connection, "dialing flight server", err)
	}
	return h, nil
}

// Acquire returns the next available handle. It fails with ResourceExhausted
// when timeout elapses first, with Timeout when ctx is cancelled first, and
// with Connection when the pool is closed.
func (p *Pool) Acquire(ctx context.Context, timeout time.Duration) (flight.Client, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	select {
	case h, ok := <-p.handles:
		if !ok {
			return nil, ferror.New(ferror.Connection, "pool is closed")
		}
		metrics.PoolAcquiredTotal.Inc()
		metrics.PoolAvailable.Dec()
		return h, nil
	case <-expired:
		return nil, ferror.Newf(ferror.ResourceExhausted,
			"timeout waiting for a flight client (pool size %d)", p.size)
	case <-ctx.Done():
		return nil, ferror.Wrap(ferror.Timeout, "acquire cancelled", ctx.Err())
	}
}

// Release returns a handle to the pool. A handle reported broken is closed
// and replaced with a fresh dial; if redialing fails the old handle is kept,
// since the underlying gRPC channel reconnects on its own.
func (p *Pool) Release(h flight.Client, broken bool) {
	if broken {
		if fresh, err := p.dial(); err == nil {
			_ = h.Close()
			h = fresh
		} else {
			p.logger.Warn("failed to replace broken flight client", zap.Error(err))
		}
	}
	metrics.PoolReleasedTotal.Inc()
	metrics.PoolAvailable.Inc()
	p.handles <- h
}

// Authenticate runs the Flight handshake on every pooled handle.
func (p *Pool) Authenticate(ctx context.Context) error {
	for i := 0; i < p.size; i++ {
		h, err := p.Acquire(ctx, 0)
		if err != nil {
			return err
		}
		err = h.Authenticate(ctx)
		p.Release(h, false)
		if err != nil {
			return ferror.Wrap(ferror.Unauthenticated, "flight handshake failed", err)
		}
	}
	return nil
}

// Size reports the configured capacity.
func (p *Pool) Size() int { return p.size }

// Close drains the pool and closes every handle.
func (p *Pool) Close() error {
	var errs error
	for {
		select {
		case h := <-p.handles:
			errs = multierr.Append(errs, h.Close())
		default:
			close(p.handles)
			metrics.PoolAvailable.Set(0)
			return errs
		}
	}
}
