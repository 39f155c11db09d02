// Copyright 2022 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package compinfo

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/benchalert/benchalert/storage"
)

// API is the part of the storage API that Fetch uses.
// *storage.Client implements API.
type API interface {
	Links
	Runs(ctx context.Context, sha string) ([]storage.Run, error)
	Run(ctx context.Context, id string) (*storage.Run, error)
	CompareRuns(ctx context.Context, baselineID, contenderID string, thresholdZ *float64) ([]storage.Comparison, error)
	BenchmarkResults(ctx context.Context, runID string) ([]storage.BenchmarkResult, error)
}

var _ API = (*storage.Client)(nil)

// A Query selects the contender runs to compare.
type Query struct {
	// CommitHash selects every run of a commit. It may be empty
	// if RunIDs is set.
	CommitHash string

	// RunIDs, if set, selects these runs instead.
	RunIDs []string

	// BaselineType selects which candidate baseline run to compare
	// against. The default is storage.BaselineLatestDefault.
	BaselineType string

	// ZScoreThreshold overrides the server's default threshold.
	ZScoreThreshold *float64
}

// Fetch reads the contender runs selected by q, their baseline runs,
// and the comparisons between them.
func Fetch(ctx context.Context, api API, q Query, log *zap.Logger) (*Full, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if q.BaselineType == "" {
		q.BaselineType = storage.BaselineLatestDefault
	}
	if !slices.Contains(storage.BaselineTypes, q.BaselineType) {
		return nil, fmt.Errorf("unknown baseline type %q (want one of %v)", q.BaselineType, storage.BaselineTypes)
	}
	ids := q.RunIDs
	if len(ids) == 0 {
		if q.CommitHash == "" {
			return nil, fmt.Errorf("need a commit hash or run ids")
		}
		runs, err := api.Runs(ctx, q.CommitHash)
		if err != nil {
			return nil, fmt.Errorf("listing runs of commit %s: %w", q.CommitHash, err)
		}
		for _, r := range runs {
			ids = append(ids, r.ID)
		}
		log.Info("found contender runs", zap.String("commit", q.CommitHash), zap.Strings("runs", ids))
	}

	full := &Full{CommitHash: q.CommitHash}
	for _, id := range ids {
		rc, err := fetchRun(ctx, api, id, q, log)
		if err != nil {
			return nil, err
		}
		if full.CommitHash == "" {
			full.CommitHash = rc.Contender.Commit.SHA
		}
		full.Runs = append(full.Runs, *rc)
	}
	return full, nil
}

func fetchRun(ctx context.Context, api API, id string, q Query, log *zap.Logger) (*Run, error) {
	contender, err := api.Run(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting contender run %s: %w", id, err)
	}
	rc := &Run{Contender: *contender, BaselineType: q.BaselineType, Links: api}
	log = log.With(zap.String("contender_run", id), zap.String("baseline_type", q.BaselineType))

	cand, ok := contender.CandidateBaselineRuns[q.BaselineType]
	switch {
	case !ok:
		rc.BaselineError = fmt.Sprintf("no %s baseline candidate", q.BaselineType)
	case cand.BaselineRunID != nil:
		baseline, err := api.Run(ctx, *cand.BaselineRunID)
		if err != nil {
			return nil, fmt.Errorf("getting baseline run %s: %w", *cand.BaselineRunID, err)
		}
		rc.Baseline = baseline
		cs, err := api.CompareRuns(ctx, baseline.ID, contender.ID, q.ZScoreThreshold)
		if err != nil {
			return nil, fmt.Errorf("comparing runs %s and %s: %w", baseline.ID, contender.ID, err)
		}
		storage.SortComparisons(cs)
		rc.Comparisons = cs
		log.Info("compared with baseline", zap.String("baseline_run", baseline.ID), zap.Int("comparisons", len(cs)))
		return rc, nil
	case cand.Error != nil:
		rc.BaselineError = *cand.Error
	}

	log.Warn("no baseline run", zap.String("reason", rc.BaselineError))
	rs, err := api.BenchmarkResults(ctx, contender.ID)
	if err != nil {
		return nil, fmt.Errorf("getting results of run %s: %w", contender.ID, err)
	}
	rc.Results = rs
	return rc, nil
}
