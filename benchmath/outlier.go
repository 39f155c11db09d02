// Copyright 2022 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package benchmath computes the statistics behind lookback z-score
// regression detection: outlier removal over a time-ordered history
// of benchmark measurements, and the z-score of a new measurement
// against that history.
//
// Like the rest of this module's statistics, results carry a list of
// warnings captured as an []error value. These don't prevent the
// analysis, but should be logged or shown to the user alongside it.
package benchmath

import (
	"fmt"
	"math"

	"github.com/aclements/go-moremath/stats"
)

// OutlierOptions configures FilterOutliers.
//
// This should be initialized from DefaultOutlierOptions because it
// may be extended with other fields in the future.
type OutlierOptions struct {
	// Distance is the multiple of the interquartile range beyond
	// which a point's distance from the median makes it an outlier.
	Distance float64

	// KeepLast is the number of most recent points that are never
	// flagged, however extreme. Recent data should surface for
	// review rather than be silently dropped.
	KeepLast int

	// WarnFraction is the fraction of flagged points above which
	// FilterOutliers reports a warning.
	WarnFraction float64
}

// DefaultOutlierOptions contains the default OutlierOptions.
var DefaultOutlierOptions = OutlierOptions{
	Distance:     7,
	KeepLast:     2,
	WarnFraction: 0.2,
}

// MinOutlierSeries is the smallest series FilterOutliers will filter.
// Quartiles of shorter series are too unstable to judge outliers by.
const MinOutlierSeries = 6

// An OutlierResult reports what FilterOutliers removed.
type OutlierResult struct {
	// Removed holds the removed values, in series order.
	Removed []float64

	// Indexes holds the series indexes of the removed values.
	Indexes []int

	// Warnings is a list of warnings about the filtering that
	// should be reported to the user.
	Warnings []error
}

// FilterOutliers removes outliers from series, a time-ordered
// sequence of measurements, oldest first. A point is an outlier if
// its absolute distance from the median exceeds opts.Distance times
// the interquartile range of the series. The median and quartiles
// use Hyndman and Fan's method R8 (stats.Sample.Quantile). On short
// series its quartiles sit further out than the linear R7 quartiles
// of most spreadsheets, so a borderline point R7 would flag is kept. The last opts.KeepLast points are
// never outliers.
//
// Outliers are replaced in place with NaN, the missing-value marker
// used throughout this package. NaN points already in series are
// ignored when computing quartiles and are never reported as removed.
// Series shorter than MinOutlierSeries are returned untouched.
//
// FilterOutliers never fails. If more than opts.WarnFraction of the
// points are removed, the result carries a warning, since that
// usually means something upstream is producing bad data.
func FilterOutliers(series []float64, opts OutlierOptions) OutlierResult {
	var res OutlierResult
	if len(series) < MinOutlierSeries {
		return res
	}

	present := make([]float64, 0, len(series))
	for _, x := range series {
		if !math.IsNaN(x) {
			present = append(present, x)
		}
	}
	if len(present) == 0 {
		return res
	}
	sample := stats.Sample{Xs: present}.Copy().Sort()
	median := sample.Quantile(0.5)
	limit := opts.Distance * (sample.Quantile(0.75) - sample.Quantile(0.25))

	keepFrom := len(series) - opts.KeepLast
	for i, x := range series {
		if i >= keepFrom || math.IsNaN(x) {
			continue
		}
		if math.Abs(x-median) > limit {
			res.Removed = append(res.Removed, x)
			res.Indexes = append(res.Indexes, i)
			series[i] = math.NaN()
		}
	}

	if frac := float64(len(res.Removed)) / float64(len(series)); frac > opts.WarnFraction {
		res.Warnings = append(res.Warnings, fmt.Errorf("removed %d of %d points (%.0f%%) as outliers; check the benchmark producing this series", len(res.Removed), len(series), 100*frac))
	}
	return res
}
