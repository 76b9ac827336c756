// Copyright The FastFlight Authors
// SPDX-License-Identifier: Apache-2.0

package timeseries

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type tickParams struct {
	Window
	Symbol string `json:"symbol"`

	// PointsPerMinute of zero means "no estimate".
	PointsPerMinute int64 `json:"points_per_minute"`
}

func (p *tickParams) Validate() error { return p.ValidateWindow() }

func (p *tickParams) WithWindow(w Window) Params {
	cp := *p
	cp.Window = w
	return &cp
}

func (p *tickParams) EstimateDataPoints() int64 {
	return p.PointsPerMinute * int64(p.Duration()/time.Minute)
}

func ticks(t *testing.T, start string, d time.Duration, perMinute int64) *tickParams {
	t.Helper()
	st, err := time.Parse(time.RFC3339, start)
	require.NoError(t, err)
	return &tickParams{
		Window:          Window{StartTime: st, EndTime: st.Add(d)},
		Symbol:          "ACME",
		PointsPerMinute: perMinute,
	}
}

// requireCover asserts the partition-cover invariant: contiguous,
// non-overlapping, time-ordered, union equal to the parent interval.
func requireCover(t *testing.T, parent Params, parts []Params) {
	t.Helper()
	require.NotEmpty(t, parts)
	pw := parent.Window()
	require.Equal(t, pw.StartTime, parts[0].Window().StartTime)
	require.Equal(t, pw.EndTime, parts[len(parts)-1].Window().EndTime)
	for i, part := range parts {
		w := part.Window()
		require.True(t, w.StartTime.Before(w.EndTime), "partition %d is empty", i)
		if i > 0 {
			require.Equal(t, parts[i-1].Window().EndTime, w.StartTime, "gap or overlap before partition %d", i)
		}
	}
}

func TestSplitByTimeWindows(t *testing.T) {
	t.Parallel()

	p := ticks(t, "2024-01-01T10:00:00Z", 4*time.Hour, 0)

	parts, err := SplitByTimeWindows(p, 4)
	require.NoError(t, err)
	require.Len(t, parts, 4)
	requireCover(t, p, parts)
	for _, part := range parts {
		require.Equal(t, time.Hour, part.Window().Duration())
		require.Equal(t, "ACME", part.(*tickParams).Symbol)
	}

	one, err := SplitByTimeWindows(p, 1)
	require.NoError(t, err)
	require.Len(t, one, 1)

	_, err = SplitByTimeWindows(p, 0)
	require.Error(t, err)
}

func TestSplitByTimeWindowsRemainder(t *testing.T) {
	t.Parallel()

	// 100 minutes across 3 windows does not divide evenly; the last window
	// must absorb the remainder.
	p := ticks(t, "2024-01-01T00:00:00Z", 100*time.Minute, 0)
	parts, err := SplitByTimeWindows(p, 3)
	require.NoError(t, err)
	require.Len(t, parts, 3)
	requireCover(t, p, parts)
}

func TestSplitByWindowSize(t *testing.T) {
	t.Parallel()

	p := ticks(t, "2024-01-01T00:00:00Z", 70*time.Minute, 0)
	parts, err := SplitByWindowSize(p, 30*time.Minute)
	require.NoError(t, err)
	require.Len(t, parts, 3)
	requireCover(t, p, parts)
	require.Equal(t, 10*time.Minute, parts[2].Window().Duration())

	_, err = SplitByWindowSize(p, 0)
	require.Error(t, err)
}

func TestOptimalPartitionsWithEstimate(t *testing.T) {
	t.Parallel()

	// 240 minutes * 100/min = 24000 points; target 10000 => ceil = 3.
	p := ticks(t, "2024-01-01T10:00:00Z", 4*time.Hour, 100)
	parts, err := OptimalPartitions(p, 8, 10000)
	require.NoError(t, err)
	require.Len(t, parts, 3)
	requireCover(t, p, parts)

	// Worker cap clamps the count.
	parts, err = OptimalPartitions(p, 2, 1000)
	require.NoError(t, err)
	require.Len(t, parts, 2)

	// A tiny query never drops below one partition.
	small := ticks(t, "2024-01-01T10:00:00Z", time.Minute, 1)
	parts, err = OptimalPartitions(small, 8, 10000)
	require.NoError(t, err)
	require.Len(t, parts, 1)
}

type noEstimate struct {
	Window
}

func (p *noEstimate) Validate() error { return p.ValidateWindow() }

func (p *noEstimate) WithWindow(w Window) Params {
	cp := *p
	cp.Window = w
	return &cp
}

func TestOptimalPartitionsFallback(t *testing.T) {
	t.Parallel()

	st, _ := time.Parse(time.RFC3339, "2024-01-01T00:00:00Z")
	p := &noEstimate{Window{StartTime: st, EndTime: st.Add(24 * time.Hour)}}

	parts, err := OptimalPartitions(p, 16, 10000)
	require.NoError(t, err)
	require.Len(t, parts, 8)

	parts, err = OptimalPartitions(p, 3, 10000)
	require.NoError(t, err)
	require.Len(t, parts, 3)
}

func TestOptimizeRealTimeShortCircuit(t *testing.T) {
	t.Parallel()

	p := ticks(t, "2024-01-01T10:00:00Z", 30*time.Minute, 100)
	parts, err := Optimize(p, ForRealTime())
	require.NoError(t, err)
	require.Len(t, parts, 1)
	require.Equal(t, p.Window(), parts[0].Window())
}

func TestOptimizeRealTimeLongQuery(t *testing.T) {
	t.Parallel()

	p := ticks(t, "2024-01-01T10:00:00Z", 2*time.Hour, 100)
	parts, err := Optimize(p, ForRealTime())
	require.NoError(t, err)
	require.Len(t, parts, 8)
	requireCover(t, p, parts)
}

func TestOptimizeAnalytics(t *testing.T) {
	t.Parallel()

	// 24h * 60 * 100 = 144000 points; target 50000 => 3 partitions.
	p := ticks(t, "2024-01-01T00:00:00Z", 24*time.Hour, 100)
	parts, err := Optimize(p, ForAnalytics())
	require.NoError(t, err)
	require.Len(t, parts, 3)
	requireCover(t, p, parts)
}

func TestValidateWindow(t *testing.T) {
	t.Parallel()

	st, _ := time.Parse(time.RFC3339, "2024-01-01T00:00:00Z")
	bad := &tickParams{Window: Window{StartTime: st, EndTime: st}}
	require.Error(t, bad.Validate())
}
