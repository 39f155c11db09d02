// Copyright 2022 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package benchmath

import (
	"errors"
	"math"

	"github.com/aclements/go-moremath/stats"
)

var (
	// ErrTooFewObservations is returned by LookbackZ when fewer
	// than two usable historical observations remain.
	ErrTooFewObservations = errors.New("too few historical observations for a z-score")

	// ErrZeroVariance is returned by LookbackZ when every usable
	// historical observation is identical.
	ErrZeroVariance = errors.New("historical observations have zero variance")
)

// A ZScore is the position of a measurement within the distribution
// of its history.
type ZScore struct {
	// Z is (value - Mean) / StdDev.
	Z float64

	// Mean and StdDev are the sample mean and standard deviation of
	// the history after outlier removal.
	Mean, StdDev float64

	// N is the number of historical observations used.
	N int

	// Outliers describes the historical observations that were
	// dropped before computing Mean and StdDev.
	Outliers OutlierResult
}

// LookbackZ computes the z-score of value against history, a
// time-ordered window of prior observations, oldest first. Outliers
// are removed from a copy of history using opts before the mean and
// standard deviation are computed; history itself is not modified.
func LookbackZ(history []float64, value float64, opts OutlierOptions) (ZScore, error) {
	window := append([]float64(nil), history...)
	z := ZScore{Outliers: FilterOutliers(window, opts)}

	xs := window[:0]
	for _, x := range window {
		if !math.IsNaN(x) {
			xs = append(xs, x)
		}
	}
	z.N = len(xs)
	if z.N < 2 {
		return z, ErrTooFewObservations
	}
	z.Mean = stats.Mean(xs)
	z.StdDev = stats.StdDev(xs)
	if z.StdDev == 0 {
		return z, ErrZeroVariance
	}
	z.Z = (value - z.Mean) / z.StdDev
	return z, nil
}
