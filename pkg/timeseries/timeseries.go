// Copyright The FastFlight Authors
// SPDX-License-Identifier: Apache-2.0

// Package timeseries defines time-range parameter types and the partitioning
// math that splits a large range query into non-overlapping sub-queries.
package timeseries

import (
	"fmt"
	"time"

	"github.com/fastflight/fastflight-go/pkg/core"
)

// Window is the half-open interval [StartTime, EndTime) carried by every
// time-series parameter type. Concrete params embed it and gain the Window
// accessor for free.
type Window struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

func (w Window) Window() Window { return w }

func (w Window) Duration() time.Duration { return w.EndTime.Sub(w.StartTime) }

// ValidateWindow reports an interval violation; params compose it into their
// own Validate.
func (w Window) ValidateWindow() error {
	if !w.StartTime.Before(w.EndTime) {
		return fmt.Errorf("start_time must be before end_time, got [%s, %s)",
			w.StartTime.Format(time.RFC3339), w.EndTime.Format(time.RFC3339))
	}
	return nil
}

// Params is a time-series request descriptor. WithWindow returns a copy of
// the parameter with only the interval narrowed; every other field is carried
// verbatim, which is what makes a partition a faithful sub-query.
type Params interface {
	core.Params
	Window() Window
	WithWindow(w Window) Params
}

// PointEstimator is implemented by params that can estimate their data-point
// count; the estimate drives partition sizing and the server's decision to
// partition at all.
type PointEstimator interface {
	EstimateDataPoints() int64
}

// EstimateDataPoints returns p's estimate, or ok=false when p cannot provide
// one.
func EstimateDataPoints(p Params) (int64, bool) {
	if e, ok := p.(PointEstimator); ok {
		return e.EstimateDataPoints(), true
	}
	return 0, false
}

// SplitByTimeWindows splits p into n contiguous equal-duration partitions
// covering the parent interval. The last partition absorbs any rounding
// remainder so its end equals the parent's end.
func SplitByTimeWindows(p Params, n int) ([]Params, error) {
	if n <= 0 {
		return nil, fmt.Errorf("partition count must be positive, got %d", n)
	}
	if n == 1 {
		return []Params{p}, nil
	}
	w := p.Window()
	size := w.Duration() / time.Duration(n)
	parts := make([]Params, 0, n)
	start := w.StartTime
	for i := 0; i < n; i++ {
		end := start.Add(size)
		if i == n-1 {
			end = w.EndTime
		}
		parts = append(parts, p.WithWindow(Window{StartTime: start, EndTime: end}))
		start = end
	}
	return parts, nil
}

// SplitByWindowSize splits p into contiguous partitions of duration size;
// the final partition is truncated to the parent's end.
func SplitByWindowSize(p Params, size time.Duration) ([]Params, error) {
	if size <= 0 {
		return nil, fmt.Errorf("window size must be positive, got %s", size)
	}
	w := p.Window()
	var parts []Params
	start := w.StartTime
	for start.Before(w.EndTime) {
		end := start.Add(size)
		if end.After(w.EndTime) {
			end = w.EndTime
		}
		parts = append(parts, p.WithWindow(Window{StartTime: start, EndTime: end}))
		start = end
	}
	return parts, nil
}

// fallbackWorkers caps time-based partitioning when no estimate exists.
const fallbackWorkers = 8

// OptimalPartitions sizes the split from the parameter's own estimate:
// clamp(1, maxWorkers, ceil(points/target)) windows, falling back to
// min(maxWorkers, 8) equal windows when no estimate is available.
func OptimalPartitions(p Params, maxWorkers, targetPointsPerPartition int) ([]Params, error) {
	points, ok := EstimateDataPoints(p)
	if !ok {
		n := maxWorkers
		if n > fallbackWorkers {
			n = fallbackWorkers
		}
		return SplitByTimeWindows(p, n)
	}
	n := int((points + int64(targetPointsPerPartition) - 1) / int64(targetPointsPerPartition))
	if n > maxWorkers {
		n = maxWorkers
	}
	if n < 1 {
		n = 1
	}
	return SplitByTimeWindows(p, n)
}
