// Copyright The FastFlight Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fastflight/fastflight-go/pkg/core"
	"github.com/fastflight/fastflight-go/pkg/ferror"
)

func TestParseLocation(t *testing.T) {
	t.Parallel()

	addr, tls, err := ParseLocation("grpc://localhost:8815")
	require.NoError(t, err)
	require.Equal(t, "localhost:8815", addr)
	require.False(t, tls)

	addr, tls, err = ParseLocation("grpc+tls://db.example.com:443")
	require.NoError(t, err)
	require.Equal(t, "db.example.com:443", addr)
	require.True(t, tls)

	addr, tls, err = ParseLocation("localhost:8815")
	require.NoError(t, err)
	require.Equal(t, "localhost:8815", addr)
	require.False(t, tls)

	_, _, err = ParseLocation("http://nope:1")
	require.Error(t, err)
	require.Equal(t, ferror.Connection, ferror.KindOf(err))
}

func TestPoolAcquireRelease(t *testing.T) {
	t.Parallel()

	// gRPC dialing is lazy, so the pool works without a live server.
	p, err := NewPool("grpc://127.0.0.1:1", 2, nil, zap.NewNop())
	require.NoError(t, err)
	defer p.Close()
	require.Equal(t, 2, p.Size())

	h1, err := p.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	h2, err := p.Acquire(context.Background(), time.Second)
	require.NoError(t, err)

	// Pool is drained: the next acquire must time out.
	start := time.Now()
	_, err = p.Acquire(context.Background(), 50*time.Millisecond)
	require.Equal(t, ferror.ResourceExhausted, ferror.KindOf(err))
	require.Less(t, time.Since(start), time.Second)

	p.Release(h1, false)
	h3, err := p.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	p.Release(h3, false)
	p.Release(h2, false)
}

func TestPoolAcquireCancelled(t *testing.T) {
	t.Parallel()

	p, err := NewPool("grpc://127.0.0.1:1", 1, nil, zap.NewNop())
	require.NoError(t, err)
	defer p.Close()

	h, err := p.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	defer p.Release(h, false)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err = p.Acquire(ctx, 0)
	require.Equal(t, ferror.Timeout, ferror.KindOf(err))
}

func TestPoolReleaseBrokenReplacesHandle(t *testing.T) {
	t.Parallel()

	p, err := NewPool("grpc://127.0.0.1:1", 1, nil, zap.NewNop())
	require.NoError(t, err)
	defer p.Close()

	h, err := p.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	p.Release(h, true)

	// The pool must still hand out a usable handle afterwards.
	h2, err := p.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	p.Release(h2, false)
}

type ticketParams struct {
	Q string `json:"q"`
}

func (p *ticketParams) Validate() error { return nil }

func TestTicketOf(t *testing.T) {
	t.Parallel()

	tk, err := ticketOf([]byte(`{"param_type":"x"}`))
	require.NoError(t, err)
	require.Equal(t, []byte(`{"param_type":"x"}`), tk.Ticket)

	tk, err = ticketOf(&ticketParams{Q: "select 1"})
	require.NoError(t, err)
	raw, err := core.ToBytes(&ticketParams{Q: "select 1"})
	require.NoError(t, err)
	require.JSONEq(t, string(raw), string(tk.Ticket))

	_, err = ticketOf(42)
	require.Equal(t, ferror.BadTicket, ferror.KindOf(err))
}

func TestBouncerRejectsBadLocation(t *testing.T) {
	t.Parallel()

	_, err := NewBouncer("http://nope:1", WithLogger(zap.NewNop()))
	require.Error(t, err)
}

func TestBouncerCircuitNamePerLocation(t *testing.T) {
	t.Parallel()

	b, err := NewBouncer("grpc://127.0.0.1:1", WithLogger(zap.NewNop()), WithPoolSize(1))
	require.NoError(t, err)
	defer b.Close()

	// The default circuit is renamed per server location so two bouncers
	// never share breaker state by accident.
	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	_, _ = b.GetRecords(ctx, []byte(`{"param_type":"x"}`))
	status := b.CircuitStatus()
	_, ok := status["flight_client_grpc://127.0.0.1:1"]
	require.True(t, ok)
}
