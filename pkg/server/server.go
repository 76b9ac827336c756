// Copyright The FastFlight Authors
// SPDX-License-Identifier: Apache-2.0

// Package server implements the columnar streaming server: it accepts opaque
// tickets on an Arrow Flight endpoint, resolves them to a registered data
// service, and streams the service's record batches back as one continuous
// IPC stream.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"time"

	"github.com/apache/arrow/go/v12/arrow/flight"
	"github.com/apache/arrow/go/v12/arrow/ipc"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/fastflight/fastflight-go/pkg/client"
	"github.com/fastflight/fastflight-go/pkg/core"
	"github.com/fastflight/fastflight-go/pkg/distributed"
	"github.com/fastflight/fastflight-go/pkg/ferror"
	"github.com/fastflight/fastflight-go/pkg/metrics"
	"github.com/fastflight/fastflight-go/pkg/timeseries"
)

// partitionThreshold is the estimated data-point count above which a
// time-series request is dispatched through the partitioner.
const partitionThreshold = 1000

const listTypesAction = "list-types"

// PartitionConfig controls the server-side auto-partitioning of large
// time-series requests.
type PartitionConfig struct {
	Enabled        bool
	MaxWorkers     int
	PreserveOrder  bool
	ClusterAddress string
}

// Option configures a Server.
type Option func(*Server)

// WithRegistry points the server at a non-default registry.
func WithRegistry(r *core.Registry) Option {
	return func(s *Server) { s.registry = r }
}

// WithAuthTokens enables handshake auth with the given shared tokens.
func WithAuthTokens(tokens ...string) Option {
	return func(s *Server) { s.authTokens = tokens }
}

// WithTLS serves with the given certificate pair.
func WithTLS(certPath, keyPath string) Option {
	return func(s *Server) { s.tlsCert, s.tlsKey = certPath, keyPath }
}

// WithPartitioning configures the automatic time-series dispatch layer.
func WithPartitioning(cfg PartitionConfig) Option {
	return func(s *Server) { s.partition = cfg }
}

// WithLogger sets the server's logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// Server is the Flight DoGet endpoint over the data-service registry.
type Server struct {
	flight.BaseFlightServer

	registry   *core.Registry
	logger     *zap.Logger
	authTokens []string
	tlsCert    string
	tlsKey     string
	partition  PartitionConfig

	srv     flight.Server
	cluster *client.Bouncer
}

// New builds a Server; Serve starts it.
func New(opts ...Option) *Server {
	s := &Server{
		registry: core.DefaultRegistry(),
		logger:   zap.NewNop(),
		partition: PartitionConfig{
			Enabled:       true,
			MaxWorkers:    8,
			PreserveOrder: true,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	if len(s.authTokens) > 0 {
		s.SetAuthHandler(newTokenAuthHandler(s.authTokens, s.logger))
	}
	return s
}

// Init binds the listener without serving; Addr is valid afterwards, which
// is what tests use with a ":0" address.
func (s *Server) Init(addr string) error {
	var grpcOpts []grpc.ServerOption
	if s.tlsCert != "" && s.tlsKey != "" {
		creds, err := credentials.NewServerTLSFromFile(s.tlsCert, s.tlsKey)
		if err != nil {
			return ferror.Wrap(ferror.Internal, "loading TLS credentials", err)
		}
		grpcOpts = append(grpcOpts, grpc.Creds(creds))
	}

	if s.partition.ClusterAddress != "" {
		cluster, err := client.NewBouncer(s.partition.ClusterAddress, client.WithLogger(s.logger))
		if err != nil {
			return err
		}
		s.cluster = cluster
	}

	srv := flight.NewServerWithMiddleware(nil, grpcOpts...)
	if err := srv.Init(addr); err != nil {
		return ferror.Wrap(ferror.Connection, "binding flight listener", err)
	}
	srv.RegisterFlightService(s)
	s.srv = srv
	return nil
}

// Serve blocks until Shutdown.
func (s *Server) Serve() error {
	s.logger.Info("serving flight server",
		zap.String("addr", s.srv.Addr().String()),
		zap.Bool("auth", len(s.authTokens) > 0),
		zap.Bool("tls", s.tlsCert != ""),
	)
	return s.srv.Serve()
}

// Addr reports the bound address.
func (s *Server) Addr() net.Addr { return s.srv.Addr() }

// Shutdown stops the server and closes the cluster client, if any.
func (s *Server) Shutdown() {
	s.logger.Info("flight server shutting down")
	if s.cluster != nil {
		_ = s.cluster.Close()
	}
	s.srv.Shutdown()
}

// DoGet decodes the ticket, resolves the data service, optionally installs
// the partitioner, and streams the batches. The full result is never
// buffered: batches leave as the producer yields them.
func (s *Server) DoGet(tkt *flight.Ticket, fs flight.FlightService_DoGetServer) (retErr error) {
	const method = "do_get"
	start := time.Now()
	reqID := uuid.NewString()
	metrics.ServerActiveConnections.Inc()
	metrics.ServerBytesTransferred.WithLabelValues(method, "received").Add(float64(len(tkt.GetTicket())))
	defer func() {
		status := "success"
		if retErr != nil {
			status = "error"
		}
		metrics.ServerRequestsTotal.WithLabelValues(method, status).Inc()
		metrics.ServerRequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
		metrics.ServerActiveConnections.Dec()
	}()

	ctx := fs.Context()
	logger := s.logger.With(zap.String("request_id", reqID))
	logger.Debug("received ticket", zap.Int("bytes", len(tkt.GetTicket())))

	params, err := s.registry.DecodeTicket(tkt.GetTicket())
	if err != nil {
		logger.Warn("ticket decode failed", zap.Error(err))
		return ferror.GRPCStatus(err)
	}
	tag := core.TagFor(params)
	logger = logger.With(zap.String("param_type", tag))

	svc, err := s.registry.NewService(tag)
	if err != nil {
		logger.Warn("no service for ticket", zap.Error(err))
		return ferror.GRPCStatus(err)
	}
	svc = s.maybePartition(params, svc, logger)

	stream, err := core.StreamOf(ctx, svc, params, 0)
	if err != nil {
		logger.Error("service failed to start", zap.Error(err))
		return ferror.GRPCStatus(ferror.Wrap(ferror.DataService, "service failed to start", err))
	}
	defer stream.Close()

	first, err := stream.Next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			// The server never invents a schema for a produceless request.
			logger.Warn("service returned no batches")
			return ferror.GRPCStatus(ferror.New(ferror.Internal, "empty stream"))
		}
		logger.Error("first batch failed", zap.Error(err))
		return ferror.GRPCStatus(ferror.Wrap(ferror.DataService, "fetching first batch", err))
	}

	w := flight.NewRecordWriter(fs, ipc.WithSchema(first.Schema()))
	defer w.Close()

	batches := 0
	rec := first
	for {
		if err := w.Write(rec); err != nil {
			rec.Release()
			logger.Error("stream write failed", zap.Error(err))
			return ferror.GRPCStatus(ferror.Wrap(ferror.Connection, "writing batch", err))
		}
		rec.Release()
		batches++

		if err := ctx.Err(); err != nil {
			logger.Debug("stream cancelled by client")
			return ferror.GRPCStatus(ferror.Wrap(ferror.Timeout, "stream cancelled", err))
		}
		rec, err = stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			logger.Error("batch production failed", zap.Error(err))
			return ferror.GRPCStatus(ferror.Wrap(ferror.DataService, "producing batch", err))
		}
	}

	logger.Info("request served",
		zap.Int("batches", batches),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// maybePartition wraps svc in the distributed dispatcher when the request is
// a large time-series query and partitioning is enabled. Push-only services
// are left unwrapped; the dispatcher drives the pull form.
func (s *Server) maybePartition(params core.Params, svc core.Service, logger *zap.Logger) core.Service {
	if !s.partition.Enabled {
		return svc
	}
	ds, ok := svc.(core.DataService)
	if !ok {
		return svc
	}
	tsp, ok := params.(timeseries.Params)
	if !ok {
		return svc
	}
	points, ok := timeseries.EstimateDataPoints(tsp)
	if !ok || points <= partitionThreshold {
		return svc
	}

	var backend distributed.Backend
	if s.cluster != nil {
		backend = &distributed.Remote{
			MaxWorkers: s.partition.MaxWorkers,
			Runner:     s.cluster.PartitionRunner(),
		}
	}
	logger.Debug("partitioning time-series request", zap.Int64("estimated_points", points))
	return distributed.Wrap(ds, distributed.Options{
		MaxWorkers:    s.partition.MaxWorkers,
		PreserveOrder: s.partition.PreserveOrder,
		Backend:       backend,
		Logger:        logger,
	})
}

// ListActions advertises the server's action set.
func (s *Server) ListActions(_ *flight.Empty, fs flight.FlightService_ListActionsServer) error {
	return fs.Send(&flight.ActionType{
		Type:        listTypesAction,
		Description: "List the registered parameter tags.",
	})
}

// DoAction implements the list-types action, the Flight analog of the HTTP
// gateway's registered-types endpoint.
func (s *Server) DoAction(action *flight.Action, fs flight.FlightService_DoActionServer) error {
	switch action.GetType() {
	case listTypesAction:
		body, err := json.Marshal(s.registry.RegisteredTags())
		if err != nil {
			return ferror.GRPCStatus(ferror.Wrap(ferror.Serialization, "encoding tag list", err))
		}
		return fs.Send(&flight.Result{Body: body})
	default:
		return ferror.GRPCStatus(ferror.Newf(ferror.Unavailable, "unknown action %q", action.GetType()))
	}
}
