// Copyright 2022 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package benchmath

import (
	"math"
	"testing"
)

func TestLookbackZ(t *testing.T) {
	history := []float64{9, 11, 9, 11, 9, 11, 9, 11}
	z, err := LookbackZ(history, 13, DefaultOutlierOptions)
	if err != nil {
		t.Fatalf("LookbackZ: %v", err)
	}
	if math.Abs(z.Mean-10) > 1e-12 {
		t.Errorf("Mean got %v, want 10", z.Mean)
	}
	wantSD := math.Sqrt(8.0 / 7.0)
	if math.Abs(z.StdDev-wantSD) > 1e-12 {
		t.Errorf("StdDev got %v, want %v", z.StdDev, wantSD)
	}
	if want := 3 / wantSD; math.Abs(z.Z-want) > 1e-9 {
		t.Errorf("Z got %v, want %v", z.Z, want)
	}
	if z.N != 8 {
		t.Errorf("N got %d, want 8", z.N)
	}
}

func TestLookbackZDropsOutliers(t *testing.T) {
	history := []float64{9, 11, 9, 11, 500, 9, 11, 9, 11}
	z, err := LookbackZ(history, 10, DefaultOutlierOptions)
	if err != nil {
		t.Fatalf("LookbackZ: %v", err)
	}
	if z.N != 8 || len(z.Outliers.Removed) != 1 {
		t.Errorf("N=%d removed=%v, want 8 and [500]", z.N, z.Outliers.Removed)
	}
	if history[4] != 500 {
		t.Errorf("LookbackZ modified its input")
	}
	if math.Abs(z.Z) > 1e-12 {
		t.Errorf("Z got %v, want 0", z.Z)
	}
}

func TestLookbackZErrors(t *testing.T) {
	if _, err := LookbackZ([]float64{1}, 1, DefaultOutlierOptions); err != ErrTooFewObservations {
		t.Errorf("one observation: got err %v, want ErrTooFewObservations", err)
	}
	if _, err := LookbackZ(nil, 1, DefaultOutlierOptions); err != ErrTooFewObservations {
		t.Errorf("no observations: got err %v, want ErrTooFewObservations", err)
	}
	if _, err := LookbackZ([]float64{3, 3, 3}, 4, DefaultOutlierOptions); err != ErrZeroVariance {
		t.Errorf("constant history: got err %v, want ErrZeroVariance", err)
	}
}
