// Copyright The FastFlight Authors
// SPDX-License-Identifier: Apache-2.0

package timeseries

import "time"

// QueryPattern names a common time-series access pattern.
type QueryPattern string

const (
	RealTime   QueryPattern = "real_time"
	Historical QueryPattern = "historical"
	Backfill   QueryPattern = "backfill"
	Analytics  QueryPattern = "analytics"
)

const defaultTargetPoints = 10000

// Hint tunes how a query is partitioned for its access pattern.
type Hint struct {
	Pattern          QueryPattern
	MaxWorkers       int
	TargetBatchSize  int
	PreferRecentData bool
	EnableCaching    bool
}

// DefaultHint is the balanced historical profile.
func DefaultHint() Hint {
	return Hint{Pattern: Historical, MaxWorkers: 8, TargetBatchSize: defaultTargetPoints, EnableCaching: true}
}

// ForRealTime favors small fixed windows and few workers.
func ForRealTime() Hint {
	return Hint{Pattern: RealTime, MaxWorkers: 2, TargetBatchSize: 1000, PreferRecentData: true, EnableCaching: true}
}

// ForAnalytics favors many workers and large target batches.
func ForAnalytics() Hint {
	return Hint{Pattern: Analytics, MaxWorkers: 16, TargetBatchSize: 50000, EnableCaching: true}
}

// Optimize partitions p per the hint's pattern. Real-time queries of total
// duration <= 1h are not split at all.
func Optimize(p Params, hint Hint) ([]Params, error) {
	switch hint.Pattern {
	case RealTime:
		if p.Window().Duration() <= time.Hour {
			return []Params{p}, nil
		}
		return SplitByWindowSize(p, 15*time.Minute)
	case Analytics:
		return OptimalPartitions(p, hint.MaxWorkers, hint.TargetBatchSize)
	default:
		return OptimalPartitions(p, hint.MaxWorkers, defaultTargetPoints)
	}
}
