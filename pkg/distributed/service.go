// Copyright The FastFlight Authors
// SPDX-License-Identifier: Apache-2.0

package distributed

import (
	"context"

	"go.uber.org/zap"

	"github.com/fastflight/fastflight-go/pkg/core"
	"github.com/fastflight/fastflight-go/pkg/timeseries"
)

// Options configure a distributed service wrapper.
type Options struct {
	// MaxWorkers bounds parallel partition execution; <= 0 defaults to 8.
	MaxWorkers int

	// TargetPointsPerPartition sizes partitions when the parameter can
	// estimate its data-point count.
	TargetPointsPerPartition int

	// PreserveOrder emits batches in partition time order; otherwise
	// batches stream as partitions complete.
	PreserveOrder bool

	// StrictPartitionErrors aborts the merged stream on the first
	// partition failure instead of skipping the partition.
	StrictPartitionErrors bool

	// Backend overrides backend selection; nil selects WorkerPool, or
	// Single when Disabled.
	Backend Backend

	// Disabled forces sequential single-threaded execution.
	Disabled bool

	Logger *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.MaxWorkers <= 0 {
		o.MaxWorkers = 8
	}
	if o.TargetPointsPerPartition <= 0 {
		o.TargetPointsPerPartition = 10000
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Service wraps a base data service with partitioned parallel dispatch.
// Non-time-series parameters pass straight through to the base service.
type Service struct {
	base    core.DataService
	backend Backend
	opts    Options
}

// Wrap builds the distributed wrapper around base. Backend selection:
// disabled -> Single; explicit backend wins; else a WorkerPool.
func Wrap(base core.DataService, opts Options) *Service {
	opts = opts.withDefaults()
	backend := opts.Backend
	if opts.Disabled {
		backend = Single{}
	} else if backend == nil {
		backend = &WorkerPool{MaxWorkers: opts.MaxWorkers}
	}
	opts.Logger.Info("selected dispatch backend",
		zap.String("backend", backend.Name()),
		zap.Bool("distributed", !opts.Disabled),
	)
	return &Service{base: base, backend: backend, opts: opts}
}

// Base returns the wrapped service.
func (s *Service) Base() core.DataService { return s.base }

// GetBatches partitions the query, dispatches the partitions, and returns
// the merged stream. Closing the stream cancels outstanding workers.
func (s *Service) GetBatches(ctx context.Context, params core.Params, batchSizeHint int) (core.RecordStream, error) {
	tsp, ok := params.(timeseries.Params)
	if !ok {
		return s.base.GetBatches(ctx, params, batchSizeHint)
	}

	partitions, err := timeseries.OptimalPartitions(tsp, s.opts.MaxWorkers, s.opts.TargetPointsPerPartition)
	if err != nil {
		return nil, err
	}
	if len(partitions) == 1 {
		return s.base.GetBatches(ctx, params, batchSizeHint)
	}

	s.opts.Logger.Info("dispatching partitioned query",
		zap.Int("partitions", len(partitions)),
		zap.String("backend", s.backend.Name()),
		zap.Bool("preserve_order", s.opts.PreserveOrder),
	)

	run := func(ctx context.Context, p timeseries.Params) (core.RecordStream, error) {
		return s.base.GetBatches(ctx, p, batchSizeHint)
	}

	dctx, cancel := context.WithCancel(ctx)
	ch := s.backend.Dispatch(dctx, partitions, run, DispatchOptions{
		PreserveOrder: s.opts.PreserveOrder,
		Strict:        s.opts.StrictPartitionErrors,
		Logger:        s.opts.Logger,
	})
	return core.NewChannelStream(ch, cancel), nil
}
