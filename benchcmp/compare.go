// Copyright 2022 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package benchcmp decides whether a contender benchmark measurement
// regressed or improved relative to its baseline.
//
// Two signals are computed. The percent change compares the two
// values directly against a percent threshold. The z-score signal
// uses the z-scores precomputed for each side against its lookback
// history (see package benchmath) and compares them against a
// deviation threshold. Both are adjusted for the unit's direction of
// goodness, so a positive adjusted value is always "worse".
//
// Compare is total: every combination of present and absent inputs
// yields a fully populated Result.
package benchcmp

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/benchalert/benchalert/benchunit"
)

// Default thresholds.
const (
	DefaultThresholdPct = 5.0
	DefaultDeviationZ   = 2.0
)

// A Case identifies a benchmark: its name and parameter tags.
// Contender and baseline measurements are aligned by Case.
type Case struct {
	Name string
	Tags map[string]string
}

// Key returns a canonical string for c, with tags in sorted order.
func (c Case) Key() string {
	keys := make([]string, 0, len(c.Tags))
	for k := range c.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(c.Name)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%s", k, c.Tags[k])
	}
	return b.String()
}

// A Measurement is one side of a comparison.
type Measurement struct {
	// Value is the summary value of the measurement, typically
	// the mean of its samples.
	Value float64

	// Unit is the measurement's unit, such as "s" or "i/s".
	Unit string

	// Z is the precomputed lookback z-score of Value, or nil if
	// none could be computed.
	Z *float64
}

// Options configures a comparison. The zero Options is not useful;
// start from DefaultOptions.
type Options struct {
	// ThresholdPct is the percent change beyond which a change
	// counts as a regression or improvement.
	ThresholdPct float64

	// DeviationZ is the number of standard deviations beyond
	// which a z-score counts as a regression or improvement.
	DeviationZ float64
}

// DefaultOptions returns the default Options.
func DefaultOptions() Options {
	return Options{ThresholdPct: DefaultThresholdPct, DeviationZ: DefaultDeviationZ}
}

// A Result is the outcome of comparing a contender against its
// baseline. All fields are pure functions of the inputs.
type Result struct {
	Case Case

	// Baseline and Contender are the compared values, or nil if
	// that side was absent.
	Baseline, Contender *float64

	Unit         string
	LessIsBetter bool

	// Change is (contender - baseline) / |baseline|. It is 0 if
	// either side is absent or the baseline is 0.
	Change float64

	// Regression and Improvement report whether the
	// direction-adjusted change exceeds ThresholdPct. They are
	// never both true; within the threshold band both are false.
	Regression, Improvement bool

	ThresholdPct, DeviationZ float64

	// BaselineZ and ContenderZ are the precomputed z-scores, or
	// nil if absent.
	BaselineZ, ContenderZ *float64

	BaselineZRegression, BaselineZImprovement   bool
	ContenderZRegression, ContenderZImprovement bool
}

// Compare compares contender against baseline. Either may be nil.
// The unit is taken from the contender if present, else from the
// baseline.
func Compare(baseline, contender *Measurement, opts Options) Result {
	r := Result{
		ThresholdPct: opts.ThresholdPct,
		DeviationZ:   opts.DeviationZ,
		LessIsBetter: true,
	}
	switch {
	case contender != nil:
		r.Unit = contender.Unit
	case baseline != nil:
		r.Unit = baseline.Unit
	}
	r.LessIsBetter = benchunit.IsLessBetter(r.Unit)

	if baseline != nil {
		r.Baseline = float(baseline.Value)
		r.BaselineZ = copyFloat(baseline.Z)
	}
	if contender != nil {
		r.Contender = float(contender.Value)
		r.ContenderZ = copyFloat(contender.Z)
	}

	if baseline != nil && contender != nil && baseline.Value != 0 {
		old := baseline.Value
		r.Change = (contender.Value - old) / math.Abs(old)
	}
	adjusted := r.adjust(r.Change)
	r.Regression = adjusted*100 > opts.ThresholdPct
	r.Improvement = -adjusted*100 > opts.ThresholdPct

	if r.BaselineZ != nil {
		z := r.adjust(*r.BaselineZ)
		r.BaselineZRegression = z > opts.DeviationZ
		r.BaselineZImprovement = -z > opts.DeviationZ
	}
	if r.ContenderZ != nil {
		z := r.adjust(*r.ContenderZ)
		r.ContenderZRegression = z > opts.DeviationZ
		r.ContenderZImprovement = -z > opts.DeviationZ
	}
	return r
}

// adjust flips x so that positive values are always worse.
func (r *Result) adjust(x float64) float64 {
	if r.LessIsBetter {
		return x
	}
	return -x
}

// A Pair is a baseline and contender measurement of the same Case.
// Either side may be nil for a case that is new or was removed.
type Pair struct {
	Case                Case
	Baseline, Contender *Measurement
}

// CompareSet compares every pair and returns the results ordered by
// case key. Pairs with neither side present are skipped.
func CompareSet(pairs []Pair, opts Options) []Result {
	var results []Result
	for _, p := range pairs {
		if p.Baseline == nil && p.Contender == nil {
			continue
		}
		r := Compare(p.Baseline, p.Contender, opts)
		r.Case = p.Case
		results = append(results, r)
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Case.Key() < results[j].Case.Key()
	})
	return results
}

// Align pairs baseline and contender measurements by case key.
func Align(baseline, contender map[string]*Measurement, cases map[string]Case) []Pair {
	keys := make(map[string]bool)
	for k := range baseline {
		keys[k] = true
	}
	for k := range contender {
		keys[k] = true
	}
	var pairs []Pair
	for k := range keys {
		c, ok := cases[k]
		if !ok {
			c = Case{Name: k}
		}
		pairs = append(pairs, Pair{Case: c, Baseline: baseline[k], Contender: contender[k]})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Case.Key() < pairs[j].Case.Key() })
	return pairs
}

// A Formatted is a Result rendered for display, in the form stored
// alongside comparisons: percentages with three decimals and values
// with three decimals, or "" for absent values.
type Formatted struct {
	Case                  string
	Unit                  string
	LessIsBetter          bool
	Baseline, Contender   string
	Change                string
	Threshold             string
	Regression            bool
	Improvement           bool
	ThresholdZ            string
	BaselineZ, ContenderZ string
	BaselineZRegression   bool
	BaselineZImprovement  bool
	ContenderZRegression  bool
	ContenderZImprovement bool
}

// Formatted renders r for display.
func (r Result) Formatted() Formatted {
	return Formatted{
		Case:                  r.Case.Key(),
		Unit:                  r.Unit,
		LessIsBetter:          r.LessIsBetter,
		Baseline:              fmtValue(r.Baseline),
		Contender:             fmtValue(r.Contender),
		Change:                FormatChange(r.Change),
		Threshold:             fmt.Sprintf("%.3f%%", r.ThresholdPct),
		Regression:            r.Regression,
		Improvement:           r.Improvement,
		ThresholdZ:            fmt.Sprintf("%.3f", r.DeviationZ),
		BaselineZ:             fmtValue(r.BaselineZ),
		ContenderZ:            fmtValue(r.ContenderZ),
		BaselineZRegression:   r.BaselineZRegression,
		BaselineZImprovement:  r.BaselineZImprovement,
		ContenderZRegression:  r.ContenderZRegression,
		ContenderZImprovement: r.ContenderZImprovement,
	}
}

// FormatChange formats a fractional change as a signed percentage,
// for example "-6.000%".
func FormatChange(change float64) string {
	if change == 0 {
		return "0.000%"
	}
	return fmt.Sprintf("%+.3f%%", change*100)
}

func fmtValue(v *float64) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%.3f", *v)
}

func float(x float64) *float64 { return &x }

func copyFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	return float(*p)
}
