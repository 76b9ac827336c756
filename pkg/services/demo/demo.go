// Copyright The FastFlight Authors
// SPDX-License-Identifier: Apache-2.0

// Package demo ships two registerable example services: a synthetic tabular
// generator and a per-minute time-series source. They double as the data
// backends for the end-to-end tests and the quick-start CLI.
package demo

import (
	"context"
	"io"
	"time"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/apache/arrow/go/v12/arrow/array"
	"github.com/apache/arrow/go/v12/arrow/memory"
	"github.com/brianvoe/gofakeit/v6"

	"github.com/fastflight/fastflight-go/pkg/core"
	"github.com/fastflight/fastflight-go/pkg/timeseries"
)

// MockTableParams requests rows of synthetic customer data.
type MockTableParams struct {
	Rows int    `json:"rows"`
	Seed uint64 `json:"seed"`
}

func (p *MockTableParams) Validate() error {
	return core.CheckRange("rows", p.Rows, 1, 10_000_000)
}

var mockSchema = arrow.NewSchema([]arrow.Field{
	{Name: "id", Type: arrow.PrimitiveTypes.Int64},
	{Name: "name", Type: arrow.BinaryTypes.String},
	{Name: "email", Type: arrow.BinaryTypes.String},
	{Name: "amount", Type: arrow.PrimitiveTypes.Float64},
}, nil)

// MockTableService generates deterministic fake tabular data.
type MockTableService struct{}

func (s *MockTableService) GetBatches(ctx context.Context, params core.Params, batchSizeHint int) (core.RecordStream, error) {
	p := params.(*MockTableParams)
	batchSize := batchSizeHint
	if batchSize <= 0 {
		batchSize = 4096
	}
	faker := gofakeit.New(int64(p.Seed))
	return &mockStream{
		ctx:       ctx,
		faker:     faker,
		remaining: p.Rows,
		batchSize: batchSize,
	}, nil
}

type mockStream struct {
	ctx       context.Context
	faker     *gofakeit.Faker
	remaining int
	batchSize int
	nextID    int64
}

func (s *mockStream) Next() (arrow.Record, error) {
	if s.remaining <= 0 {
		return nil, io.EOF
	}
	if err := s.ctx.Err(); err != nil {
		return nil, err
	}
	n := s.batchSize
	if n > s.remaining {
		n = s.remaining
	}
	b := array.NewRecordBuilder(memory.NewGoAllocator(), mockSchema)
	defer b.Release()
	ids := b.Field(0).(*array.Int64Builder)
	names := b.Field(1).(*array.StringBuilder)
	emails := b.Field(2).(*array.StringBuilder)
	amounts := b.Field(3).(*array.Float64Builder)
	for i := 0; i < n; i++ {
		ids.Append(s.nextID)
		names.Append(s.faker.Name())
		emails.Append(s.faker.Email())
		amounts.Append(s.faker.Float64Range(1, 10000))
		s.nextID++
	}
	s.remaining -= n
	return b.NewRecord(), nil
}

func (s *mockStream) Close() error { return nil }

// MinuteBarsParams requests one value per minute of the window.
type MinuteBarsParams struct {
	timeseries.Window
	Symbol string `json:"symbol"`
}

func (p *MinuteBarsParams) Validate() error {
	return core.CheckAll(
		p.ValidateWindow(),
		core.CheckRequired("symbol", p.Symbol),
	)
}

func (p *MinuteBarsParams) WithWindow(w timeseries.Window) timeseries.Params {
	cp := *p
	cp.Window = w
	return &cp
}

func (p *MinuteBarsParams) EstimateDataPoints() int64 {
	return int64(p.Duration() / time.Minute)
}

var minuteBarsSchema = arrow.NewSchema([]arrow.Field{
	{Name: "timestamp", Type: arrow.FixedWidthTypes.Timestamp_ms},
	{Name: "symbol", Type: arrow.BinaryTypes.String},
	{Name: "value", Type: arrow.PrimitiveTypes.Float64},
}, nil)

// MinuteBarsService is the push-form demo: it drives batches from its own
// goroutine, one row per minute of the window, in batches of 60.
type MinuteBarsService struct{}

func (s *MinuteBarsService) ProduceBatches(ctx context.Context, params core.Params, batchSizeHint int) (<-chan core.Batch, error) {
	p := params.(*MinuteBarsParams)
	batchSize := batchSizeHint
	if batchSize <= 0 {
		batchSize = 60
	}
	ch := make(chan core.Batch)
	go func() {
		defer close(ch)
		b := array.NewRecordBuilder(memory.NewGoAllocator(), minuteBarsSchema)
		defer b.Release()
		rows := 0
		emit := func() bool {
			rec := b.NewRecord()
			select {
			case ch <- core.Batch{Record: rec}:
				return true
			case <-ctx.Done():
				rec.Release()
				return false
			}
		}
		for ts := p.StartTime; ts.Before(p.EndTime); ts = ts.Add(time.Minute) {
			b.Field(0).(*array.TimestampBuilder).Append(arrow.Timestamp(ts.UnixMilli()))
			b.Field(1).(*array.StringBuilder).Append(p.Symbol)
			b.Field(2).(*array.Float64Builder).Append(float64(ts.Unix()%3600) / 60)
			rows++
			if rows == batchSize {
				if !emit() {
					return
				}
				rows = 0
			}
		}
		if rows > 0 {
			emit()
		}
	}()
	return ch, nil
}

// GetBatches is the pull form over the same generator, used directly by the
// partitioner.
func (s *MinuteBarsService) GetBatches(ctx context.Context, params core.Params, batchSizeHint int) (core.RecordStream, error) {
	cctx, cancel := context.WithCancel(ctx)
	ch, err := s.ProduceBatches(cctx, params, batchSizeHint)
	if err != nil {
		cancel()
		return nil, err
	}
	return core.NewChannelStream(ch, cancel), nil
}

// Register binds both demo services with their short aliases.
func Register(r *core.Registry) error {
	if err := r.Register(&MockTableParams{}, func() core.Service { return &MockTableService{} }); err != nil {
		return err
	}
	if err := r.RegisterAlias("mock_table", &MockTableParams{}); err != nil {
		return err
	}
	if err := r.Register(&MinuteBarsParams{}, func() core.Service { return &MinuteBarsService{} }); err != nil {
		return err
	}
	return r.RegisterAlias("minute_bars", &MinuteBarsParams{})
}

// Describe maps registered demo tags to human descriptions for the gateway.
func Describe() map[string]string {
	return map[string]string{
		core.TagFor(&MockTableParams{}):  "synthetic customer table",
		core.TagFor(&MinuteBarsParams{}): "per-minute time-series bars",
	}
}
