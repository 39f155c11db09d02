// Copyright 2022 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package storage

import (
	"fmt"
	"sort"
	"time"

	"github.com/benchalert/benchalert/benchcmp"
)

// Baseline run types, the keys of Run.CandidateBaselineRuns.
const (
	BaselineParent        = "parent"
	BaselineLatestDefault = "latest_default"
	BaselineForkPoint     = "fork_point"
)

// BaselineTypes lists the known baseline run types.
var BaselineTypes = []string{BaselineParent, BaselineLatestDefault, BaselineForkPoint}

// A Commit is the source-control commit a run measured.
type Commit struct {
	SHA        string     `json:"sha"`
	ParentSHA  string     `json:"parent_sha"`
	Repository string     `json:"repository"`
	Branch     string     `json:"branch"`
	Message    string     `json:"message"`
	URL        string     `json:"url"`
	Timestamp  *time.Time `json:"timestamp"`
}

// Hardware describes the machine or cluster a run executed on.
type Hardware struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// A BaselineCandidate is the result of looking up one kind of
// baseline run for a contender run. Exactly one of BaselineRunID and
// Error is set.
type BaselineCandidate struct {
	BaselineRunID  *string  `json:"baseline_run_id"`
	Error          *string  `json:"error"`
	CommitsSkipped []string `json:"commits_skipped"`
}

// A Run is one execution of a benchmark suite against one commit on
// one piece of hardware.
type Run struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
	Commit    Commit    `json:"commit"`
	Hardware  Hardware  `json:"hardware"`
	HasErrors bool      `json:"has_errors"`

	// CandidateBaselineRuns is only populated by Client.Run, not by
	// Client.Runs.
	CandidateBaselineRuns map[string]BaselineCandidate `json:"candidate_baseline_runs"`
}

// Stats are the aggregated measurements of one benchmark result.
type Stats struct {
	Data       []float64 `json:"data"`
	Unit       string    `json:"unit"`
	Iterations int       `json:"iterations"`
	Mean       *float64  `json:"mean"`
}

// A BenchmarkResult is the measurement of one case in one run. A
// result whose case failed carries a non-nil Error and usually no
// Stats.Data.
type BenchmarkResult struct {
	ID            string         `json:"id"`
	RunID         string         `json:"run_id"`
	BenchmarkName string         `json:"benchmark_name"`
	Tags          map[string]any `json:"tags"`
	Stats         Stats          `json:"stats"`
	Error         map[string]any `json:"error"`
	Timestamp     *time.Time     `json:"timestamp"`
}

// HasError reports whether the result recorded an error.
func (r *BenchmarkResult) HasError() bool {
	return r != nil && r.Error != nil
}

// Case returns the benchmark case identity of r. The "name" tag
// duplicates BenchmarkName and is dropped.
func (r *BenchmarkResult) Case() benchcmp.Case {
	c := benchcmp.Case{Name: r.BenchmarkName, Tags: make(map[string]string, len(r.Tags))}
	for k, v := range r.Tags {
		if k == "name" {
			continue
		}
		c.Tags[k] = fmt.Sprint(v)
	}
	return c
}

// Measurement returns r's mean as a benchcmp.Measurement, or nil if
// r is nil or has no mean.
func (r *BenchmarkResult) Measurement() *benchcmp.Measurement {
	if r == nil || r.Stats.Mean == nil {
		return nil
	}
	return &benchcmp.Measurement{Value: *r.Stats.Mean, Unit: r.Stats.Unit}
}

// A LookbackZScore is the lookback z-score analysis of one
// comparison. ZScore is nil when the server omits it; the indicators
// still hold.
type LookbackZScore struct {
	ZThreshold           float64  `json:"z_threshold"`
	ZScore               *float64 `json:"z_score"`
	RegressionIndicated  bool     `json:"regression_indicated"`
	ImprovementIndicated bool     `json:"improvement_indicated"`
}

// Analysis holds the analyses attached to a comparison.
type Analysis struct {
	LookbackZScore *LookbackZScore `json:"lookback_z_score"`
}

// A Comparison pairs the baseline and contender results of one case.
// Either side may be nil when the case exists in only one run.
type Comparison struct {
	Unit           string           `json:"unit"`
	LessIsBetter   bool             `json:"less_is_better"`
	BaselineRunID  string           `json:"baseline_run_id"`
	ContenderRunID string           `json:"contender_run_id"`
	Baseline       *BenchmarkResult `json:"baseline"`
	Contender      *BenchmarkResult `json:"contender"`
	Analysis       Analysis         `json:"analysis"`
}

// Case returns the case of the contender, or of the baseline if the
// case is missing from the contender run.
func (c *Comparison) Case() benchcmp.Case {
	if c.Contender != nil {
		return c.Contender.Case()
	}
	if c.Baseline != nil {
		return c.Baseline.Case()
	}
	return benchcmp.Case{}
}

// HasZAnalysis reports whether the comparison carries a lookback
// z-score analysis, with or without the z-score itself.
func (c *Comparison) HasZAnalysis() bool {
	return c.Analysis.LookbackZScore != nil
}

// ZRegression reports whether the lookback z-score indicated a
// regression.
func (c *Comparison) ZRegression() bool {
	return c.Analysis.LookbackZScore != nil && c.Analysis.LookbackZScore.RegressionIndicated
}

// ZImprovement reports whether the lookback z-score indicated an
// improvement.
func (c *Comparison) ZImprovement() bool {
	return c.Analysis.LookbackZScore != nil && c.Analysis.LookbackZScore.ImprovementIndicated
}

// Pairwise compares the means of the two sides with benchcmp. The
// contender carries the lookback z-score as its z.
func (c *Comparison) Pairwise(opts benchcmp.Options) benchcmp.Result {
	contender := c.Contender.Measurement()
	if contender != nil && c.HasZAnalysis() && c.Analysis.LookbackZScore.ZScore != nil {
		z := *c.Analysis.LookbackZScore.ZScore
		contender.Z = &z
	}
	r := benchcmp.Compare(c.Baseline.Measurement(), contender, opts)
	r.Case = c.Case()
	return r
}

// SortComparisons sorts cs by case key.
func SortComparisons(cs []Comparison) {
	sort.SliceStable(cs, func(i, j int) bool {
		return cs[i].Case().Key() < cs[j].Case().Key()
	})
}
