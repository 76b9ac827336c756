// Copyright The FastFlight Authors
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"context"
	"io"

	"github.com/apache/arrow/go/v12/arrow"

	"github.com/fastflight/fastflight-go/pkg/ferror"
)

// RecordStream is a finite, single-pass sequence of record batches sharing
// one schema. Next returns io.EOF when the stream ends. Close releases
// producer resources and is safe to call more than once.
type RecordStream interface {
	Next() (arrow.Record, error)
	Close() error
}

// DataService produces record batches for its bound parameter type. This is
// the synchronous, pull form of the contract. batchSizeHint is advisory:
// services should treat it as an upper bound where practical, and choose
// their own size when it is <= 0.
type DataService interface {
	GetBatches(ctx context.Context, params Params, batchSizeHint int) (RecordStream, error)
}

// Batch pairs one record with a terminal error; exactly one field is set.
type Batch struct {
	Record arrow.Record
	Err    error
}

// ChannelProducer is the cooperative, push form of the contract: the service
// drives a channel from its own goroutine. The channel must be closed after
// the final element; cancelling ctx must stop production promptly.
//
// A service implements DataService, ChannelProducer, or both. StreamOf
// bridges whichever form is available into a RecordStream.
type ChannelProducer interface {
	ProduceBatches(ctx context.Context, params Params, batchSizeHint int) (<-chan Batch, error)
}

// StreamOf obtains a RecordStream from svc, preferring the pull form and
// bridging the push form when that is all the service offers.
func StreamOf(ctx context.Context, svc any, params Params, batchSizeHint int) (RecordStream, error) {
	if ds, ok := svc.(DataService); ok {
		return ds.GetBatches(ctx, params, batchSizeHint)
	}
	if cp, ok := svc.(ChannelProducer); ok {
		cctx, cancel := context.WithCancel(ctx)
		ch, err := cp.ProduceBatches(cctx, params, batchSizeHint)
		if err != nil {
			cancel()
			return nil, err
		}
		return &channelStream{ch: ch, cancel: cancel}, nil
	}
	return nil, ferror.Newf(ferror.Unavailable, "service %T implements neither batch form", svc)
}

// NewChannelStream adapts a Batch channel into the pull contract. cancel is
// invoked on Close to stop the producing side; pass a no-op when the
// producer's lifetime is managed elsewhere.
func NewChannelStream(ch <-chan Batch, cancel context.CancelFunc) RecordStream {
	if cancel == nil {
		cancel = func() {}
	}
	return &channelStream{ch: ch, cancel: cancel}
}

// channelStream adapts a producer channel into the pull contract. Close
// cancels the producer's context, which both stops production and lets the
// RPC layer propagate caller cancellation down to the service.
type channelStream struct {
	ch     <-chan Batch
	cancel context.CancelFunc
	done   bool
}

func (s *channelStream) Next() (arrow.Record, error) {
	if s.done {
		return nil, io.EOF
	}
	b, ok := <-s.ch
	if !ok {
		s.done = true
		return nil, io.EOF
	}
	if b.Err != nil {
		s.done = true
		return nil, b.Err
	}
	return b.Record, nil
}

func (s *channelStream) Close() error {
	s.cancel()
	// Drain so the producer goroutine is never left blocked on send.
	if !s.done {
		for b := range s.ch {
			if b.Record != nil {
				b.Record.Release()
			}
		}
		s.done = true
	}
	return nil
}

// SliceStream returns a RecordStream over pre-built records; handy for
// services that materialize small results and for tests.
func SliceStream(recs ...arrow.Record) RecordStream {
	return &sliceStream{recs: recs}
}

type sliceStream struct {
	recs []arrow.Record
	next int
}

func (s *sliceStream) Next() (arrow.Record, error) {
	if s.next >= len(s.recs) {
		return nil, io.EOF
	}
	rec := s.recs[s.next]
	s.next++
	return rec, nil
}

func (s *sliceStream) Close() error {
	for ; s.next < len(s.recs); s.next++ {
		s.recs[s.next].Release()
	}
	return nil
}
