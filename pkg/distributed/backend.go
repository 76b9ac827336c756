// Copyright The FastFlight Authors
// SPDX-License-Identifier: Apache-2.0

// Package distributed splits large time-series queries into partitions,
// dispatches them to parallel workers, and merges the results either in time
// order or as-completed.
package distributed

import (
	"context"
	"errors"
	"io"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fastflight/fastflight-go/pkg/core"
	"github.com/fastflight/fastflight-go/pkg/ferror"
	"github.com/fastflight/fastflight-go/pkg/timeseries"
)

// PartitionRunner produces the batch stream for one partition.
type PartitionRunner func(ctx context.Context, p timeseries.Params) (core.RecordStream, error)

// Backend executes partition sub-queries. Implementations must observe the
// order-preservation contract: with preserveOrder, partition i's batches
// appear only after partitions j < i have been delivered in full.
type Backend interface {
	Name() string
	Dispatch(ctx context.Context, partitions []timeseries.Params, run PartitionRunner, opts DispatchOptions) <-chan core.Batch
}

// DispatchOptions tune one Dispatch invocation.
type DispatchOptions struct {
	PreserveOrder bool

	// Strict aborts the merged stream on the first partition failure.
	// The default skips the failed partition and continues with the rest.
	Strict bool

	Logger *zap.Logger
}

func (o DispatchOptions) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

// WorkerPool runs partitions on a bounded pool of goroutines. This is the
// default backend.
type WorkerPool struct {
	MaxWorkers int
}

func (b *WorkerPool) Name() string { return "workerpool" }

func (b *WorkerPool) Dispatch(ctx context.Context, partitions []timeseries.Params, run PartitionRunner, opts DispatchOptions) <-chan core.Batch {
	workers := b.MaxWorkers
	if workers <= 0 {
		workers = len(partitions)
	}
	return fanOut(ctx, partitions, run, workers, opts)
}

// Single iterates partitions sequentially; the fallback when distribution is
// disabled.
type Single struct{}

func (Single) Name() string { return "single_threaded" }

func (Single) Dispatch(ctx context.Context, partitions []timeseries.Params, run PartitionRunner, opts DispatchOptions) <-chan core.Batch {
	return fanOut(ctx, partitions, run, 1, opts)
}

// RemoteRunner re-dispatches one partition to a worker cluster and returns
// its materialized batches. The resilient client provides one; keeping it a
// function type keeps cluster specifics out of the backend contract.
type RemoteRunner func(ctx context.Context, p timeseries.Params) ([]core.Batch, error)

// Remote executes partitions on a worker cluster, one Flight sub-query per
// partition. Merge semantics are identical to the local pool.
type Remote struct {
	MaxWorkers int
	Runner     RemoteRunner
}

func (b *Remote) Name() string { return "remote" }

func (b *Remote) Dispatch(ctx context.Context, partitions []timeseries.Params, run PartitionRunner, opts DispatchOptions) <-chan core.Batch {
	workers := b.MaxWorkers
	if workers <= 0 {
		workers = len(partitions)
	}
	remote := func(ctx context.Context, p timeseries.Params) (core.RecordStream, error) {
		batches, err := b.Runner(ctx, p)
		if err != nil {
			return nil, err
		}
		ch := make(chan core.Batch, len(batches))
		for _, batch := range batches {
			ch <- batch
		}
		close(ch)
		return core.NewChannelStream(ch, nil), nil
	}
	return fanOut(ctx, partitions, remote, workers, opts)
}

// fanOut launches one producer per partition, bounded by workers, and merges
// their streams. Ordered merging gives every partition its own buffered
// channel and drains them in index order; producers ahead of the cursor block
// on their buffer, which bounds memory without stalling the pool. Unordered
// merging shares a single channel.
func fanOut(ctx context.Context, partitions []timeseries.Params, run PartitionRunner, workers int, opts DispatchOptions) <-chan core.Batch {
	out := make(chan core.Batch)
	logger := opts.logger()

	gctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(gctx)
	g.SetLimit(workers)

	var ordered []chan core.Batch
	var shared chan core.Batch
	sinkFor := func(idx int) chan core.Batch { return shared }
	if opts.PreserveOrder {
		ordered = make([]chan core.Batch, len(partitions))
		for i := range ordered {
			ordered[i] = make(chan core.Batch, 16)
		}
		sinkFor = func(idx int) chan core.Batch { return ordered[idx] }
	} else {
		shared = make(chan core.Batch)
	}

	producer := func(idx int) func() error {
		return func() error {
			sink := sinkFor(idx)
			if opts.PreserveOrder {
				defer close(sink)
			}
			err := runPartition(gctx, partitions[idx], run, sink)
			switch {
			case err == nil:
				return nil
			case opts.Strict:
				// The error travels as a batch; the merger stops the other
				// workers once it has forwarded it. Returning it to the
				// errgroup would cancel gctx first and race that forward.
				select {
				case sink <- core.Batch{Err: err}:
				case <-gctx.Done():
				}
				return nil
			default:
				logger.Warn("partition failed, skipping",
					zap.Int("partition", idx),
					zap.Error(err),
				)
				return nil
			}
		}
	}

	go func() {
		defer cancel()
		defer close(out)

		done := make(chan struct{})
		go func() {
			defer close(done)
			for i := range partitions {
				g.Go(producer(i))
			}
			_ = g.Wait()
			if shared != nil {
				close(shared)
			}
		}()

		if opts.PreserveOrder {
			for _, ch := range ordered {
				if !forward(gctx, ch, out) {
					break
				}
			}
		} else {
			forward(gctx, shared, out)
		}

		cancel()
		drainAll(ordered)
		<-done
	}()

	return out
}

func runPartition(ctx context.Context, p timeseries.Params, run PartitionRunner, sink chan<- core.Batch) error {
	stream, err := run(ctx, p)
	if err != nil {
		return err
	}
	defer stream.Close()
	for {
		rec, err := stream.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		select {
		case sink <- core.Batch{Record: rec}:
		case <-ctx.Done():
			rec.Release()
			return ferror.Wrap(ferror.Timeout, "partition cancelled", ctx.Err())
		}
	}
}

// forward copies src to dst until src closes; returns false after forwarding
// a terminal error or when the dispatch is cancelled.
func forward(ctx context.Context, src <-chan core.Batch, dst chan<- core.Batch) bool {
	for b := range src {
		select {
		case dst <- b:
			if b.Err != nil {
				return false
			}
		case <-ctx.Done():
			if b.Record != nil {
				b.Record.Release()
			}
			return false
		}
	}
	return true
}

// drainAll releases any records stranded in per-partition buffers after an
// abort, so producers blocked on send unstick and nothing leaks.
func drainAll(chans []chan core.Batch) {
	for _, ch := range chans {
		for b := range ch {
			if b.Record != nil {
				b.Record.Release()
			}
		}
	}
}
