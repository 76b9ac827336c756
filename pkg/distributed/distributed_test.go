// Copyright The FastFlight Authors
// SPDX-License-Identifier: Apache-2.0

package distributed

import (
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/apache/arrow/go/v12/arrow/array"
	"github.com/apache/arrow/go/v12/arrow/memory"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fastflight/fastflight-go/pkg/core"
	"github.com/fastflight/fastflight-go/pkg/ferror"
	"github.com/fastflight/fastflight-go/pkg/timeseries"
)

var minuteSchema = arrow.NewSchema([]arrow.Field{
	{Name: "minute_ts", Type: arrow.PrimitiveTypes.Int64},
}, nil)

type minuteParams struct {
	timeseries.Window
}

func (p *minuteParams) Validate() error { return p.ValidateWindow() }

func (p *minuteParams) WithWindow(w timeseries.Window) timeseries.Params {
	cp := *p
	cp.Window = w
	return &cp
}

func (p *minuteParams) EstimateDataPoints() int64 {
	return int64(p.Duration() / time.Minute)
}

// minuteService emits one row per minute of the requested window, in batches
// of at most 50 rows. failAt, when set, fails any partition containing that
// minute.
type minuteService struct {
	calls  atomic.Int64
	failAt time.Time
}

func (s *minuteService) GetBatches(ctx context.Context, params core.Params, batchSizeHint int) (core.RecordStream, error) {
	s.calls.Add(1)
	p := params.(*minuteParams)
	if !s.failAt.IsZero() && !p.StartTime.After(s.failAt) && s.failAt.Before(p.EndTime) {
		return nil, ferror.New(ferror.DataService, "injected partition failure")
	}

	var recs []arrow.Record
	b := array.NewRecordBuilder(memory.NewGoAllocator(), minuteSchema)
	defer b.Release()
	rows := 0
	for ts := p.StartTime; ts.Before(p.EndTime); ts = ts.Add(time.Minute) {
		b.Field(0).(*array.Int64Builder).Append(ts.Unix() / 60)
		rows++
		if rows == 50 {
			recs = append(recs, b.NewRecord())
			rows = 0
		}
	}
	if rows > 0 {
		recs = append(recs, b.NewRecord())
	}
	return core.SliceStream(recs...), nil
}

func minuteQuery(t *testing.T, hours int) *minuteParams {
	t.Helper()
	start, err := time.Parse(time.RFC3339, "2024-01-01T10:00:00Z")
	require.NoError(t, err)
	return &minuteParams{timeseries.Window{
		StartTime: start,
		EndTime:   start.Add(time.Duration(hours) * time.Hour),
	}}
}

func collect(t *testing.T, stream core.RecordStream) []int64 {
	t.Helper()
	var out []int64
	for {
		rec, err := stream.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		col := rec.Column(0).(*array.Int64)
		for i := 0; i < col.Len(); i++ {
			out = append(out, col.Value(i))
		}
		rec.Release()
	}
	require.NoError(t, stream.Close())
	return out
}

func TestOrderedMergeMatchesSequentialRun(t *testing.T) {
	t.Parallel()

	base := &minuteService{}
	p := minuteQuery(t, 4)

	direct, err := base.GetBatches(context.Background(), p, 0)
	require.NoError(t, err)
	want := collect(t, direct)
	require.Len(t, want, 240)

	svc := Wrap(&minuteService{}, Options{
		MaxWorkers:               4,
		TargetPointsPerPartition: 60,
		PreserveOrder:            true,
		Logger:                   zap.NewNop(),
	})
	stream, err := svc.GetBatches(context.Background(), p, 0)
	require.NoError(t, err)
	got := collect(t, stream)

	require.Equal(t, want, got, "ordered merge must equal the unpartitioned run")
	for i := 1; i < len(got); i++ {
		require.GreaterOrEqual(t, got[i], got[i-1])
	}
}

func TestUnorderedMergeSameMultiset(t *testing.T) {
	t.Parallel()

	p := minuteQuery(t, 4)
	svc := Wrap(&minuteService{}, Options{
		MaxWorkers:               4,
		TargetPointsPerPartition: 60,
		PreserveOrder:            false,
		Logger:                   zap.NewNop(),
	})
	stream, err := svc.GetBatches(context.Background(), p, 0)
	require.NoError(t, err)
	got := collect(t, stream)
	require.Len(t, got, 240)

	seen := map[int64]int{}
	for _, v := range got {
		seen[v]++
	}
	start, _ := time.Parse(time.RFC3339, "2024-01-01T10:00:00Z")
	for m := 0; m < 240; m++ {
		ts := start.Add(time.Duration(m)*time.Minute).Unix() / 60
		require.Equal(t, 1, seen[ts], "minute %d missing or duplicated", m)
	}
}

func TestPartitionFailureSkipped(t *testing.T) {
	t.Parallel()

	p := minuteQuery(t, 4)
	failAt, _ := time.Parse(time.RFC3339, "2024-01-01T11:30:00Z")
	svc := Wrap(&minuteService{failAt: failAt}, Options{
		MaxWorkers:               4,
		TargetPointsPerPartition: 60,
		PreserveOrder:            true,
		Logger:                   zap.NewNop(),
	})
	stream, err := svc.GetBatches(context.Background(), p, 0)
	require.NoError(t, err)
	got := collect(t, stream)

	// One of four 60-minute partitions fails and is skipped.
	require.Len(t, got, 180)
}

func TestPartitionFailureStrictAborts(t *testing.T) {
	t.Parallel()

	p := minuteQuery(t, 4)
	failAt, _ := time.Parse(time.RFC3339, "2024-01-01T10:30:00Z")
	svc := Wrap(&minuteService{failAt: failAt}, Options{
		MaxWorkers:               4,
		TargetPointsPerPartition: 60,
		PreserveOrder:            true,
		StrictPartitionErrors:    true,
		Logger:                   zap.NewNop(),
	})
	stream, err := svc.GetBatches(context.Background(), p, 0)
	require.NoError(t, err)
	defer stream.Close()

	var streamErr error
	for {
		rec, err := stream.Next()
		if err != nil {
			streamErr = err
			break
		}
		rec.Release()
	}
	require.NotEqual(t, io.EOF, streamErr)
	require.Equal(t, ferror.DataService, ferror.KindOf(streamErr))
}

func TestSinglePartitionBypassesDispatch(t *testing.T) {
	t.Parallel()

	base := &minuteService{}
	p := minuteQuery(t, 1) // 60 points, below one target partition
	svc := Wrap(base, Options{
		MaxWorkers:               4,
		TargetPointsPerPartition: 10000,
		PreserveOrder:            true,
		Logger:                   zap.NewNop(),
	})
	stream, err := svc.GetBatches(context.Background(), p, 0)
	require.NoError(t, err)
	got := collect(t, stream)
	require.Len(t, got, 60)
	require.Equal(t, int64(1), base.calls.Load())
}

func TestDisabledUsesSingleBackend(t *testing.T) {
	t.Parallel()

	svc := Wrap(&minuteService{}, Options{
		MaxWorkers:               4,
		TargetPointsPerPartition: 60,
		PreserveOrder:            true,
		Disabled:                 true,
		Logger:                   zap.NewNop(),
	})
	require.Equal(t, "single_threaded", svc.backend.Name())

	stream, err := svc.GetBatches(context.Background(), minuteQuery(t, 4), 0)
	require.NoError(t, err)
	require.Len(t, collect(t, stream), 240)
}

type plainParams struct {
	Name string `json:"name"`
}

func (p *plainParams) Validate() error { return nil }

// plainService records how it was invoked; it stands in for a service whose
// parameter type carries no time window at all.
type plainService struct {
	calls atomic.Int64
}

func (s *plainService) GetBatches(ctx context.Context, params core.Params, batchSizeHint int) (core.RecordStream, error) {
	s.calls.Add(1)
	b := array.NewRecordBuilder(memory.NewGoAllocator(), minuteSchema)
	defer b.Release()
	b.Field(0).(*array.Int64Builder).Append(42)
	return core.SliceStream(b.NewRecord()), nil
}

func TestNonTimeSeriesParamsPassThrough(t *testing.T) {
	t.Parallel()

	base := &plainService{}
	svc := Wrap(base, Options{Logger: zap.NewNop()})

	stream, err := svc.GetBatches(context.Background(), &plainParams{Name: "x"}, 0)
	require.NoError(t, err)
	require.Equal(t, []int64{42}, collect(t, stream))
	require.Equal(t, int64(1), base.calls.Load())
}

func TestCancellationStopsWorkers(t *testing.T) {
	t.Parallel()

	p := minuteQuery(t, 4)
	svc := Wrap(&minuteService{}, Options{
		MaxWorkers:               2,
		TargetPointsPerPartition: 60,
		PreserveOrder:            true,
		Logger:                   zap.NewNop(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	stream, err := svc.GetBatches(ctx, p, 0)
	require.NoError(t, err)

	rec, err := stream.Next()
	require.NoError(t, err)
	rec.Release()

	cancel()
	require.NoError(t, stream.Close())

	// The merged channel must terminate promptly after cancellation.
	deadline := time.After(2 * time.Second)
	for {
		recCh := make(chan struct{})
		var nerr error
		go func() {
			_, nerr = stream.Next()
			close(recCh)
		}()
		select {
		case <-recCh:
		case <-deadline:
			t.Fatal("stream did not quiesce after cancellation")
		}
		if nerr != nil {
			return
		}
	}
}

func TestRemoteBackend(t *testing.T) {
	t.Parallel()

	base := &minuteService{}
	remote := &Remote{
		MaxWorkers: 4,
		Runner: func(ctx context.Context, p timeseries.Params) ([]core.Batch, error) {
			stream, err := base.GetBatches(ctx, p.(core.Params), 0)
			if err != nil {
				return nil, err
			}
			var out []core.Batch
			for {
				rec, err := stream.Next()
				if err == io.EOF {
					return out, nil
				}
				if err != nil {
					return nil, err
				}
				out = append(out, core.Batch{Record: rec})
			}
		},
	}

	p := minuteQuery(t, 4)
	svc := Wrap(&minuteService{}, Options{
		MaxWorkers:               4,
		TargetPointsPerPartition: 60,
		PreserveOrder:            true,
		Backend:                  remote,
		Logger:                   zap.NewNop(),
	})
	stream, err := svc.GetBatches(context.Background(), p, 0)
	require.NoError(t, err)
	got := collect(t, stream)
	require.Len(t, got, 240)
	for i := 1; i < len(got); i++ {
		require.GreaterOrEqual(t, got[i], got[i-1])
	}
}
