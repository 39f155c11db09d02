// Copyright 2022 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package compinfo describes how the runs of one contender commit
// compare to their baselines.
//
// The values are built once from storage API responses and never
// modified; every predicate is computed on demand.
package compinfo

import (
	"fmt"

	"github.com/benchalert/benchalert/storage"
)

// Links builds web links to storage server pages. *storage.Client
// implements Links.
type Links interface {
	RunLink(id string) string
	ResultLink(id string) string
	CompareLink(baselineID, contenderID string) string
}

// A Run is one contender run joined to its baseline run.
type Run struct {
	Contender storage.Run

	// BaselineType is the kind of baseline that was looked up,
	// such as storage.BaselineLatestDefault.
	BaselineType string

	// Baseline is nil if no baseline run was found, in which case
	// BaselineError may say why.
	Baseline      *storage.Run
	BaselineError string

	// Comparisons is set when there is a baseline; Results, the
	// contender's raw results, when there is not.
	Comparisons []storage.Comparison
	Results     []storage.BenchmarkResult

	Links Links
}

// HasBaseline reports whether a baseline run was found.
func (r *Run) HasBaseline() bool { return r.Baseline != nil }

// ContenderLink returns the link to the contender run.
func (r *Run) ContenderLink() string { return r.Links.RunLink(r.Contender.ID) }

// BaselineLink returns the link to the baseline run, or "".
func (r *Run) BaselineLink() string {
	if r.Baseline == nil {
		return ""
	}
	return r.Links.RunLink(r.Baseline.ID)
}

// CompareLink returns the link to the comparison page, or "".
func (r *Run) CompareLink() string {
	if r.Baseline == nil {
		return ""
	}
	return r.Links.CompareLink(r.Baseline.ID, r.Contender.ID)
}

// ResultLink returns the link to a benchmark result.
func (r *Run) ResultLink(res *storage.BenchmarkResult) string {
	return r.Links.ResultLink(res.ID)
}

// ContenderResults returns the contender's results, from the
// comparisons if there is a baseline.
func (r *Run) ContenderResults() []*storage.BenchmarkResult {
	var out []*storage.BenchmarkResult
	if r.Baseline == nil {
		for i := range r.Results {
			out = append(out, &r.Results[i])
		}
		return out
	}
	for i := range r.Comparisons {
		if c := r.Comparisons[i].Contender; c != nil {
			out = append(out, c)
		}
	}
	return out
}

// HasResults reports whether the contender run has any results.
func (r *Run) HasResults() bool {
	return len(r.ContenderResults()) > 0
}

// ResultsWithErrors returns the contender results that recorded an
// error.
func (r *Run) ResultsWithErrors() []*storage.BenchmarkResult {
	var out []*storage.BenchmarkResult
	for _, res := range r.ContenderResults() {
		if res.HasError() {
			out = append(out, res)
		}
	}
	return out
}

// HasZAnalyses reports whether any comparison has a lookback z-score.
func (r *Run) HasZAnalyses() bool {
	for i := range r.Comparisons {
		if r.Comparisons[i].HasZAnalysis() {
			return true
		}
	}
	return false
}

// ZRegressions returns the comparisons whose lookback z-score
// indicated a regression.
func (r *Run) ZRegressions() []*storage.Comparison {
	var out []*storage.Comparison
	for i := range r.Comparisons {
		if r.Comparisons[i].ZRegression() {
			out = append(out, &r.Comparisons[i])
		}
	}
	return out
}

// ZScoreThreshold returns the z-score threshold the comparisons were
// analyzed with, or nil if none was.
func (r *Run) ZScoreThreshold() *float64 {
	for i := range r.Comparisons {
		if z := r.Comparisons[i].Analysis.LookbackZScore; z != nil {
			t := z.ZThreshold
			return &t
		}
	}
	return nil
}

// BaselineIsParent reports whether the baseline run measured the
// parent of the contender commit.
func (r *Run) BaselineIsParent() bool {
	return r.Baseline != nil && r.Baseline.Commit.SHA != "" &&
		r.Baseline.Commit.SHA == r.Contender.Commit.ParentSHA
}

// CommitsSkipped returns the commits skipped while looking for the
// baseline.
func (r *Run) CommitsSkipped() []string {
	if c, ok := r.Contender.CandidateBaselineRuns[r.BaselineType]; ok {
		return c.CommitsSkipped
	}
	return nil
}

// A Full holds every Run of one contender commit.
type Full struct {
	CommitHash string
	Runs       []Run
}

// HasContenderRuns reports whether any contender run was found.
func (f *Full) HasContenderRuns() bool { return len(f.Runs) > 0 }

// HasContenderResults reports whether any contender run has results.
func (f *Full) HasContenderResults() bool {
	for i := range f.Runs {
		if f.Runs[i].HasResults() {
			return true
		}
	}
	return false
}

// HasBaselineRuns reports whether any contender run has a baseline.
func (f *Full) HasBaselineRuns() bool {
	for i := range f.Runs {
		if f.Runs[i].HasBaseline() {
			return true
		}
	}
	return false
}

// HasZAnalyses reports whether any run has a lookback z-score.
func (f *Full) HasZAnalyses() bool {
	for i := range f.Runs {
		if f.Runs[i].HasZAnalyses() {
			return true
		}
	}
	return false
}

// A RunResult is a benchmark result together with its run.
type RunResult struct {
	Run    *Run
	Result *storage.BenchmarkResult
}

// ResultsWithErrors returns every contender result with an error.
func (f *Full) ResultsWithErrors() []RunResult {
	var out []RunResult
	for i := range f.Runs {
		for _, res := range f.Runs[i].ResultsWithErrors() {
			out = append(out, RunResult{Run: &f.Runs[i], Result: res})
		}
	}
	return out
}

// A RunCase is one comparison together with its run.
type RunCase struct {
	Run        *Run
	Comparison *storage.Comparison
}

// ZRegressions returns every comparison whose lookback z-score
// indicated a regression.
func (f *Full) ZRegressions() []RunCase {
	var out []RunCase
	for i := range f.Runs {
		for _, cmp := range f.Runs[i].ZRegressions() {
			out = append(out, RunCase{Run: &f.Runs[i], Comparison: cmp})
		}
	}
	return out
}

// ZScoreThresholds returns the distinct z-score thresholds of the
// runs, in run order.
func (f *Full) ZScoreThresholds() []float64 {
	var out []float64
	seen := make(map[float64]bool)
	for i := range f.Runs {
		if t := f.Runs[i].ZScoreThreshold(); t != nil && !seen[*t] {
			seen[*t] = true
			out = append(out, *t)
		}
	}
	return out
}

// ZScoreThreshold returns the z-score threshold of the analyses, or
// nil if there were none. All runs are expected to share one
// threshold; if they don't, it returns the first run's and a non-nil
// warning.
func (f *Full) ZScoreThreshold() (*float64, error) {
	ts := f.ZScoreThresholds()
	if len(ts) == 0 {
		return nil, nil
	}
	t := ts[0]
	if len(ts) > 1 {
		return &t, fmt.Errorf("runs of commit %s were analyzed with different z-score thresholds %v; reporting %v", f.CommitHash, ts, t)
	}
	return &t, nil
}
