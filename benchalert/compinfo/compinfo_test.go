// Copyright 2022 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package compinfo_test

import (
	"context"
	"reflect"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/benchalert/benchalert/benchalert/compinfo"
	. "github.com/benchalert/benchalert/benchalert/compinfo/compinfotest"
	"github.com/benchalert/benchalert/storage"
)

func newAPI() *API {
	base := Run("base1", "1111", "0000", "m5")
	run1 := WithBaseline(Run("run1", "abcd", "1111", "m5"), storage.BaselineLatestDefault, "base1")
	run1.CandidateBaselineRuns[storage.BaselineParent] = storage.BaselineCandidate{Error: S("parent has no runs")}
	run2 := WithBaselineError(Run("run2", "abcd", "1111", "m6"), storage.BaselineLatestDefault, "no matching hardware")
	b1, r1 := Result("b1", "base1", "zeta", 1, "s"), Result("r1", "run1", "zeta", 1.2, "s")
	b2, r2 := Result("b2", "base1", "alpha", 1, "s"), Result("r2", "run1", "alpha", 1, "s")
	return &API{
		RunsBySHA: map[string][]storage.Run{"abcd": {run1, run2}},
		RunsByID:  map[string]storage.Run{"base1": base, "run1": run1, "run2": run2},
		Comparisons: map[string][]storage.Comparison{
			"base1...run1": {Compare(&b1, &r1, F(7), 5), Compare(&b2, &r2, F(0.1), 5)},
		},
		Results: map[string][]storage.BenchmarkResult{
			"run1": {r1, r2},
			"run2": {Result("r3", "run2", "alpha", 3, "s"), ErrorResult("r4", "run2", "zeta")},
		},
	}
}

func TestFetchByCommit(t *testing.T) {
	api := newAPI()
	full, err := compinfo.Fetch(context.Background(), api, compinfo.Query{CommitHash: "abcd", ZScoreThreshold: F(5)}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	wantCalls := []string{
		"Runs abcd",
		"Run run1",
		"Run base1",
		"CompareRuns base1...run1 z=5",
		"Run run2",
		"BenchmarkResults run2",
	}
	if got := api.Calls(); !reflect.DeepEqual(got, wantCalls) {
		t.Errorf("calls got %q\nwant %q", got, wantCalls)
	}
	if full.CommitHash != "abcd" || len(full.Runs) != 2 {
		t.Fatalf("got commit %q with %d runs", full.CommitHash, len(full.Runs))
	}

	r1, r2 := &full.Runs[0], &full.Runs[1]
	if !r1.HasBaseline() || r1.Baseline.ID != "base1" {
		t.Errorf("run1 baseline got %+v", r1.Baseline)
	}
	// Comparisons are sorted by case.
	if got := r1.Comparisons[0].Case().Key(); got != "alpha" {
		t.Errorf("first comparison got %q, want alpha", got)
	}
	if !r1.BaselineIsParent() {
		t.Errorf("run1 baseline is the parent, BaselineIsParent = false")
	}
	if r2.HasBaseline() || r2.BaselineError != "no matching hardware" {
		t.Errorf("run2 got baseline %v error %q", r2.Baseline, r2.BaselineError)
	}
	if len(r2.Results) != 2 {
		t.Errorf("run2 has %d raw results, want 2", len(r2.Results))
	}

	if !full.HasContenderRuns() || !full.HasContenderResults() || !full.HasZAnalyses() {
		t.Errorf("predicates got runs %v results %v z %v", full.HasContenderRuns(), full.HasContenderResults(), full.HasZAnalyses())
	}
	errs := full.ResultsWithErrors()
	if len(errs) != 1 || errs[0].Result.ID != "r4" || errs[0].Run != r2 {
		t.Errorf("ResultsWithErrors got %+v", errs)
	}
	regs := full.ZRegressions()
	if len(regs) != 1 || regs[0].Comparison.Contender.ID != "r1" || regs[0].Run != r1 {
		t.Errorf("ZRegressions got %+v", regs)
	}
	if thr, warn := full.ZScoreThreshold(); thr == nil || *thr != 5 || warn != nil {
		t.Errorf("ZScoreThreshold = %v, %v", thr, warn)
	}
	if got, want := r1.CompareLink(), Root+"/compare/runs/base1...run1/"; got != want {
		t.Errorf("CompareLink = %q, want %q", got, want)
	}
	if r2.CompareLink() != "" || r2.BaselineLink() != "" {
		t.Errorf("run without baseline has links")
	}
}

func TestFetchByRunIDs(t *testing.T) {
	api := newAPI()
	full, err := compinfo.Fetch(context.Background(), api, compinfo.Query{RunIDs: []string{"run2"}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if full.CommitHash != "abcd" {
		t.Errorf("CommitHash = %q, want it taken from the run", full.CommitHash)
	}
	if full.HasZAnalyses() {
		t.Errorf("HasZAnalyses = true without baseline")
	}
	want := []string{"Run run2", "BenchmarkResults run2"}
	if got := api.Calls(); !reflect.DeepEqual(got, want) {
		t.Errorf("calls got %q want %q", got, want)
	}
}

func TestFetchBaselineType(t *testing.T) {
	api := newAPI()
	full, err := compinfo.Fetch(context.Background(), api, compinfo.Query{RunIDs: []string{"run1"}, BaselineType: storage.BaselineParent}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if r := full.Runs[0]; r.HasBaseline() || r.BaselineError != "parent has no runs" {
		t.Errorf("parent baseline got %v, %q", r.Baseline, r.BaselineError)
	}

	full, err = compinfo.Fetch(context.Background(), api, compinfo.Query{RunIDs: []string{"run1"}, BaselineType: storage.BaselineForkPoint}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if r := full.Runs[0]; r.BaselineError != "no fork_point baseline candidate" {
		t.Errorf("missing candidate got error %q", r.BaselineError)
	}

	if _, err := compinfo.Fetch(context.Background(), api, compinfo.Query{CommitHash: "abcd", BaselineType: "grandparent"}, nil); err == nil {
		t.Errorf("unknown baseline type accepted")
	}
	if _, err := compinfo.Fetch(context.Background(), api, compinfo.Query{}, nil); err == nil {
		t.Errorf("empty query accepted")
	}
}

func TestFetchNoRuns(t *testing.T) {
	full, err := compinfo.Fetch(context.Background(), newAPI(), compinfo.Query{CommitHash: "ffff"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if full.HasContenderRuns() || full.HasContenderResults() {
		t.Errorf("commit without runs has runs or results")
	}
	if thr, _ := full.ZScoreThreshold(); thr != nil {
		t.Errorf("ZScoreThreshold = %v, want nil", *thr)
	}
}

func TestFetchRunError(t *testing.T) {
	api := newAPI()
	if _, err := compinfo.Fetch(context.Background(), api, compinfo.Query{RunIDs: []string{"nope"}}, nil); err == nil {
		t.Errorf("Fetch of missing run succeeded")
	}
}
