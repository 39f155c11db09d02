// Copyright 2022 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package compinfotest provides a fake storage API and canned
// comparisons for tests.
package compinfotest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benchalert/benchalert/benchalert/compinfo"
	"github.com/benchalert/benchalert/storage"
)

// Root is the fake storage server root used in links.
const Root = "https://bench.example.com"

// Links implements compinfo.Links for Root.
type Links struct{}

func (Links) RunLink(id string) string    { return Root + "/runs/" + id + "/" }
func (Links) ResultLink(id string) string { return Root + "/benchmark-results/" + id + "/" }
func (Links) CompareLink(baselineID, contenderID string) string {
	return Root + "/compare/runs/" + baselineID + "..." + contenderID + "/"
}

// API is an in-memory compinfo.API.
type API struct {
	Links
	RunsBySHA   map[string][]storage.Run
	RunsByID    map[string]storage.Run
	Comparisons map[string][]storage.Comparison // by "baseline...contender"
	Results     map[string][]storage.BenchmarkResult

	mu    sync.Mutex
	calls []string
}

// Calls returns the API calls made so far.
func (a *API) Calls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.calls...)
}

func (a *API) record(format string, args ...any) {
	a.mu.Lock()
	a.calls = append(a.calls, fmt.Sprintf(format, args...))
	a.mu.Unlock()
}

func (a *API) Runs(ctx context.Context, sha string) ([]storage.Run, error) {
	a.record("Runs %s", sha)
	return a.RunsBySHA[sha], nil
}

func (a *API) Run(ctx context.Context, id string) (*storage.Run, error) {
	a.record("Run %s", id)
	r, ok := a.RunsByID[id]
	if !ok {
		return nil, fmt.Errorf("run %s not found", id)
	}
	return &r, nil
}

func (a *API) CompareRuns(ctx context.Context, baselineID, contenderID string, thresholdZ *float64) ([]storage.Comparison, error) {
	if thresholdZ != nil {
		a.record("CompareRuns %s...%s z=%v", baselineID, contenderID, *thresholdZ)
	} else {
		a.record("CompareRuns %s...%s", baselineID, contenderID)
	}
	return append([]storage.Comparison(nil), a.Comparisons[baselineID+"..."+contenderID]...), nil
}

func (a *API) BenchmarkResults(ctx context.Context, runID string) ([]storage.BenchmarkResult, error) {
	a.record("BenchmarkResults %s", runID)
	return a.Results[runID], nil
}

// F returns a pointer to x.
func F(x float64) *float64 { return &x }

// S returns a pointer to s.
func S(s string) *string { return &s }

// Time is the timestamp of every canned contender run.
var Time = time.Date(2022, 4, 5, 6, 7, 8, 0, time.UTC)

// Run returns a run of commit sha with the given parent on hardware.
func Run(id, sha, parent, hardware string) storage.Run {
	return storage.Run{
		ID:        id,
		Reason:    "commit",
		Timestamp: Time,
		Commit:    storage.Commit{SHA: sha, ParentSHA: parent, Repository: "https://github.com/octo/bench"},
		Hardware:  storage.Hardware{Name: hardware},
	}
}

// WithBaseline returns run with a candidate baseline run of type typ.
func WithBaseline(run storage.Run, typ, baselineID string) storage.Run {
	run.CandidateBaselineRuns = map[string]storage.BaselineCandidate{typ: {BaselineRunID: &baselineID}}
	return run
}

// WithBaselineError returns run whose baseline lookup of type typ
// failed with msg.
func WithBaselineError(run storage.Run, typ, msg string) storage.Run {
	run.CandidateBaselineRuns = map[string]storage.BaselineCandidate{typ: {Error: &msg}}
	return run
}

// Result returns a successful result of benchmark name.
func Result(id, runID, name string, mean float64, unit string) storage.BenchmarkResult {
	return storage.BenchmarkResult{
		ID:            id,
		RunID:         runID,
		BenchmarkName: name,
		Tags:          map[string]any{"name": name},
		Stats:         storage.Stats{Data: []float64{mean}, Unit: unit, Iterations: 1, Mean: F(mean)},
	}
}

// ErrorResult returns a failed result of benchmark name.
func ErrorResult(id, runID, name string) storage.BenchmarkResult {
	return storage.BenchmarkResult{
		ID:            id,
		RunID:         runID,
		BenchmarkName: name,
		Tags:          map[string]any{"name": name},
		Error:         map[string]any{"stack_trace": "exit status 1"},
	}
}

// Compare returns a comparison of baseline and contender analyzed
// with z-score z against threshold. A nil z means no analysis.
func Compare(baseline, contender *storage.BenchmarkResult, z *float64, threshold float64) storage.Comparison {
	c := storage.Comparison{Baseline: baseline, Contender: contender}
	if contender != nil {
		c.Unit = contender.Stats.Unit
		c.ContenderRunID = contender.RunID
	}
	if baseline != nil {
		c.BaselineRunID = baseline.RunID
	}
	if z != nil {
		lessIsBetter := c.Unit != "i/s" && c.Unit != "B/s"
		adj := *z
		if !lessIsBetter {
			adj = -adj
		}
		c.Analysis.LookbackZScore = &storage.LookbackZScore{
			ZThreshold:           threshold,
			ZScore:               F(*z),
			RegressionIndicated:  adj > threshold,
			ImprovementIndicated: -adj > threshold,
		}
	}
	c.LessIsBetter = c.Unit != "i/s" && c.Unit != "B/s"
	return c
}

func ptr(r storage.BenchmarkResult) *storage.BenchmarkResult { return &r }

// NoRuns returns a comparison of a commit without runs.
func NoRuns() *compinfo.Full {
	return &compinfo.Full{CommitHash: "abcdef1234567890"}
}

// NoBaseline returns a comparison with one run whose baseline lookup
// failed; its two results succeeded.
func NoBaseline() *compinfo.Full {
	run := WithBaselineError(Run("run1", "abcdef1234567890", "1111111111111111", "ec2-m5"), storage.BaselineLatestDefault, "no matching baseline run")
	return &compinfo.Full{
		CommitHash: "abcdef1234567890",
		Runs: []compinfo.Run{{
			Contender:     run,
			BaselineType:  storage.BaselineLatestDefault,
			BaselineError: "no matching baseline run",
			Results: []storage.BenchmarkResult{
				Result("r1", "run1", "file-read", 1.5, "s"),
				Result("r2", "run1", "file-write", 2.5, "s"),
			},
			Links: Links{},
		}},
	}
}

// NoRegressions returns a comparison with one run compared against
// its parent, without regressions.
func NoRegressions() *compinfo.Full {
	base := Run("base1", "1111111111111111", "0000000000000000", "ec2-m5")
	run := WithBaseline(Run("run1", "abcdef1234567890", "1111111111111111", "ec2-m5"), storage.BaselineLatestDefault, "base1")
	return &compinfo.Full{
		CommitHash: "abcdef1234567890",
		Runs: []compinfo.Run{{
			Contender:    run,
			BaselineType: storage.BaselineLatestDefault,
			Baseline:     &base,
			Comparisons: []storage.Comparison{
				Compare(ptr(Result("b1", "base1", "file-read", 1.5, "s")), ptr(Result("r1", "run1", "file-read", 1.52, "s")), F(0.4), 5),
				Compare(ptr(Result("b2", "base1", "file-write", 2.5, "s")), ptr(Result("r2", "run1", "file-write", 2.4, "s")), F(-1.1), 5),
			},
			Links: Links{},
		}},
	}
}

// RegressionsAndErrors returns a comparison with one run that has
// two regressions and one failed benchmark. The baseline is not the
// contender's parent.
func RegressionsAndErrors() *compinfo.Full {
	full := Regressions()
	r := &full.Runs[0]
	r.Comparisons = append(r.Comparisons, Compare(ptr(Result("b3", "base1", "sort", 0.5, "s")), ptr(ErrorResult("r3", "run1", "sort")), nil, 5))
	storage.SortComparisons(r.Comparisons)
	return full
}

// Regressions returns a comparison with one run that has two
// regressions and one unchanged benchmark. The baseline is two
// commits behind the contender's parent.
func Regressions() *compinfo.Full {
	base := Run("base1", "2222222222222222", "3333333333333333", "ec2-m5")
	run := Run("run1", "abcdef1234567890", "1111111111111111", "ec2-m5")
	run.CandidateBaselineRuns = map[string]storage.BaselineCandidate{
		storage.BaselineLatestDefault: {BaselineRunID: S("base1"), CommitsSkipped: []string{"1111111111111111"}},
	}
	return &compinfo.Full{
		CommitHash: "abcdef1234567890",
		Runs: []compinfo.Run{{
			Contender:    run,
			BaselineType: storage.BaselineLatestDefault,
			Baseline:     &base,
			Comparisons: []storage.Comparison{
				Compare(ptr(Result("b1", "base1", "file-read", 1.5, "s")), ptr(Result("r1", "run1", "file-read", 1.8, "s")), F(6.2), 5),
				Compare(ptr(Result("b2", "base1", "file-write", 2.5, "s")), ptr(Result("r2", "run1", "file-write", 2.5, "s")), F(0), 5),
				Compare(ptr(Result("b4", "base1", "throughput", 1000, "i/s")), ptr(Result("r4", "run1", "throughput", 940, "i/s")), F(-5.5), 5),
			},
			Links: Links{},
		}},
	}
}
