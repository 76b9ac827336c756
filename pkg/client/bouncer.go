// Copyright The FastFlight Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/apache/arrow/go/v12/arrow/array"
	"github.com/apache/arrow/go/v12/arrow/flight"
	"github.com/apache/arrow/go/v12/arrow/ipc"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/fastflight/fastflight-go/pkg/core"
	"github.com/fastflight/fastflight-go/pkg/distributed"
	"github.com/fastflight/fastflight-go/pkg/ferror"
	"github.com/fastflight/fastflight-go/pkg/resilience"
	"github.com/fastflight/fastflight-go/pkg/timeseries"
)

// Bouncer fronts a FastFlight server with a connection pool, a retry policy,
// and a circuit breaker. Requests accept either a core.Params instance or
// raw pre-serialized ticket bytes.
type Bouncer struct {
	pool            *Pool
	manager         *resilience.Manager
	cfg             resilience.Config
	location        string
	acquireTimeout  time.Duration
	registeredTypes map[string]string
	logger          *zap.Logger
}

// Option configures a Bouncer.
type Option func(*options)

type options struct {
	poolSize        int
	authToken       string
	resilience      *resilience.Config
	acquireTimeout  time.Duration
	registeredTypes map[string]string
	dialOpts        []grpc.DialOption
	logger          *zap.Logger
}

// WithPoolSize sets the connection pool capacity.
func WithPoolSize(n int) Option { return func(o *options) { o.poolSize = n } }

// WithAuthToken enables the Flight handshake with a shared bearer token.
func WithAuthToken(token string) Option { return func(o *options) { o.authToken = token } }

// WithResilience overrides the default resilience configuration.
func WithResilience(cfg resilience.Config) Option {
	return func(o *options) { o.resilience = &cfg }
}

// WithAcquireTimeout bounds how long a call waits for a pooled handle.
func WithAcquireTimeout(d time.Duration) Option {
	return func(o *options) { o.acquireTimeout = d }
}

// WithRegisteredTypes attaches the tag->description map surfaced by
// RegisteredDataTypes.
func WithRegisteredTypes(m map[string]string) Option {
	return func(o *options) { o.registeredTypes = m }
}

// WithDialOptions appends extra gRPC dial options.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(o *options) { o.dialOpts = append(o.dialOpts, opts...) }
}

// WithLogger sets the bouncer's logger.
func WithLogger(l *zap.Logger) Option { return func(o *options) { o.logger = l } }

// NewBouncer builds a resilient client for the given server location
// ("grpc://host:port" or "grpc+tls://host:port").
func NewBouncer(location string, opts ...Option) (*Bouncer, error) {
	o := &options{poolSize: 5, acquireTimeout: 30 * time.Second, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(o)
	}

	var auth flight.ClientAuthHandler
	if o.authToken != "" {
		auth = &tokenAuthHandler{token: o.authToken}
	}
	pool, err := NewPool(location, o.poolSize, auth, o.logger, o.dialOpts...)
	if err != nil {
		return nil, err
	}
	if auth != nil {
		if err := pool.Authenticate(context.Background()); err != nil {
			_ = pool.Close()
			return nil, err
		}
	}

	cfg := resilience.DefaultConfig()
	if o.resilience != nil {
		cfg = *o.resilience
	}
	if cfg.EnableBreaker && cfg.CircuitName == "default_circuit" {
		// One circuit per server location, so two bouncers do not share
		// failure state by accident.
		cfg.CircuitName = "flight_client_" + location
	}

	b := &Bouncer{
		pool:            pool,
		manager:         resilience.NewManager(o.logger),
		cfg:             cfg,
		location:        location,
		acquireTimeout:  o.acquireTimeout,
		registeredTypes: o.registeredTypes,
		logger:          o.logger,
	}
	b.logger.Info("initialized flight bouncer",
		zap.String("location", location),
		zap.String("circuit", cfg.CircuitName),
	)
	return b, nil
}

// ticketOf renders a request into Flight ticket bytes. Accepts raw []byte
// or a core.Params.
func ticketOf(req any) (*flight.Ticket, error) {
	switch v := req.(type) {
	case []byte:
		return &flight.Ticket{Ticket: v}, nil
	case core.Params:
		raw, err := core.ToBytes(v)
		if err != nil {
			return nil, err
		}
		return &flight.Ticket{Ticket: raw}, nil
	default:
		return nil, ferror.Newf(ferror.BadTicket, "unsupported request type %T", req)
	}
}

// StreamHandle is an open DoGet stream. Close releases the reader and
// returns the pooled handle; it must be called exactly once.
type StreamHandle struct {
	Reader *flight.Reader

	bouncer *Bouncer
	handle  flight.Client
	closed  bool
}

func (s *StreamHandle) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.Reader.Release()
	s.bouncer.pool.Release(s.handle, false)
}

// GetStreamReader opens the server stream for req and returns a reader over
// its record batches. The dial, DoGet call, and schema negotiation run under
// the resilience policy; the subsequent batch pulls do not, since a stream
// cannot be transparently resumed mid-flight.
func (b *Bouncer) GetStreamReader(ctx context.Context, req any) (*StreamHandle, error) {
	ticket, err := ticketOf(req)
	if err != nil {
		return nil, err
	}

	var out *StreamHandle
	err = b.manager.Execute(ctx, b.cfg, func(ctx context.Context) error {
		handle, err := b.pool.Acquire(ctx, b.acquireTimeout)
		if err != nil {
			return err
		}
		stream, err := handle.DoGet(ctx, ticket)
		if err != nil {
			b.pool.Release(handle, true)
			return ferror.FromGRPC(err)
		}
		reader, err := flight.NewRecordReader(stream)
		if err != nil {
			b.pool.Release(handle, false)
			return ferror.FromGRPC(err)
		}
		out = &StreamHandle{Reader: reader, bouncer: b, handle: handle}
		return nil
	})
	if err != nil {
		b.logger.Error("do_get failed",
			zap.String("location", b.location),
			zap.Error(err),
		)
		return nil, err
	}
	return out, nil
}

// GetRecords reads the full response into a slice of retained records; the
// caller releases them.
func (b *Bouncer) GetRecords(ctx context.Context, req any) ([]arrow.Record, error) {
	sh, err := b.GetStreamReader(ctx, req)
	if err != nil {
		return nil, err
	}
	defer sh.Close()

	var recs []arrow.Record
	for sh.Reader.Next() {
		rec := sh.Reader.Record()
		rec.Retain()
		recs = append(recs, rec)
	}
	if err := sh.Reader.Err(); err != nil && err != io.EOF {
		for _, rec := range recs {
			rec.Release()
		}
		return nil, ferror.FromGRPC(err)
	}
	return recs, nil
}

// GetTable reads the full response into an Arrow table, the dataframe
// surface of this client.
func (b *Bouncer) GetTable(ctx context.Context, req any) (arrow.Table, error) {
	recs, err := b.GetRecords(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, ferror.New(ferror.Internal, "empty stream")
	}
	table := array.NewTableFromRecords(recs[0].Schema(), recs)
	for _, rec := range recs {
		rec.Release()
	}
	return table, nil
}

// StreamBatches is the cooperative surface: batches arrive on the returned
// channel as the server produces them. The channel closes after the final
// batch or a terminal error; cancelling ctx stops the stream.
func (b *Bouncer) StreamBatches(ctx context.Context, req any) (<-chan core.Batch, error) {
	sh, err := b.GetStreamReader(ctx, req)
	if err != nil {
		return nil, err
	}
	ch := make(chan core.Batch)
	go func() {
		defer close(ch)
		defer sh.Close()
		for sh.Reader.Next() {
			rec := sh.Reader.Record()
			rec.Retain()
			select {
			case ch <- core.Batch{Record: rec}:
			case <-ctx.Done():
				rec.Release()
				return
			}
		}
		if err := sh.Reader.Err(); err != nil && err != io.EOF {
			select {
			case ch <- core.Batch{Err: ferror.FromGRPC(err)}:
			case <-ctx.Done():
			}
		}
	}()
	return ch, nil
}

// GetByteStream re-encodes the response as a raw Arrow IPC stream for the
// HTTP gateway to forward verbatim. Bytes flow through a pipe as batches
// arrive; nothing is buffered beyond one batch.
func (b *Bouncer) GetByteStream(ctx context.Context, req any) (io.ReadCloser, error) {
	sh, err := b.GetStreamReader(ctx, req)
	if err != nil {
		return nil, err
	}
	pr, pw := io.Pipe()
	go func() {
		defer sh.Close()
		w := ipc.NewWriter(pw, ipc.WithSchema(sh.Reader.Schema()))
		for sh.Reader.Next() {
			if err := w.Write(sh.Reader.Record()); err != nil {
				_ = w.Close()
				pw.CloseWithError(ferror.Wrap(ferror.Serialization, "writing ipc stream", err))
				return
			}
		}
		werr := w.Close()
		if err := sh.Reader.Err(); err != nil && err != io.EOF {
			pw.CloseWithError(ferror.FromGRPC(err))
			return
		}
		pw.CloseWithError(werr)
	}()
	return pr, nil
}

// PartitionRunner adapts this bouncer into the distributed layer's cluster
// backend: each partition becomes its own Flight sub-query against this
// bouncer's server.
func (b *Bouncer) PartitionRunner() distributed.RemoteRunner {
	return func(ctx context.Context, p timeseries.Params) ([]core.Batch, error) {
		recs, err := b.GetRecords(ctx, p)
		if err != nil {
			return nil, err
		}
		out := make([]core.Batch, len(recs))
		for i, rec := range recs {
			out[i] = core.Batch{Record: rec}
		}
		return out, nil
	}
}

// ListServerDataTypes asks the server for its registered parameter tags via
// the list-types action.
func (b *Bouncer) ListServerDataTypes(ctx context.Context) ([]string, error) {
	handle, err := b.pool.Acquire(ctx, b.acquireTimeout)
	if err != nil {
		return nil, err
	}
	defer b.pool.Release(handle, false)

	stream, err := handle.DoAction(ctx, &flight.Action{Type: "list-types"})
	if err != nil {
		return nil, ferror.FromGRPC(err)
	}
	res, err := stream.Recv()
	if err != nil {
		return nil, ferror.FromGRPC(err)
	}
	var tags []string
	if err := json.Unmarshal(res.GetBody(), &tags); err != nil {
		return nil, ferror.Wrap(ferror.Serialization, "decoding tag list", err)
	}
	return tags, nil
}

// RegisteredDataTypes returns the tag->description map this client was
// configured with.
func (b *Bouncer) RegisteredDataTypes() map[string]string {
	out := make(map[string]string, len(b.registeredTypes))
	for k, v := range b.registeredTypes {
		out[k] = v
	}
	return out
}

// CircuitStatus snapshots this client's circuit breakers.
func (b *Bouncer) CircuitStatus() map[string]resilience.Status {
	return b.manager.CircuitStatus()
}

// UpdateResilience swaps the default resilience configuration.
func (b *Bouncer) UpdateResilience(cfg resilience.Config) { b.cfg = cfg }

// Close drains and closes the connection pool.
func (b *Bouncer) Close() error { return b.pool.Close() }
