// Copyright 2022 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package storage contains a client for the benchmark storage server's
// REST API and the types it exchanges.
//
// The storage server records runs and their benchmark results and
// computes, for each contender run, candidate baseline runs and
// per-case comparisons including lookback z-score analyses.
package storage

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/benchalert/benchalert/client"
)

// A Config configures a Client.
type Config struct {
	// URL is the server's root URL, such as
	// "https://bench.example.com". The API is served under /api/.
	URL string

	// Email and Password, if set, are used to log in. Reads need
	// no login on most servers.
	Email    string
	Password string

	// Options configures the underlying HTTP client. Nil means
	// client.DefaultOptions().
	Options *client.Options
}

// A Client talks to one storage server.
type Client struct {
	root string // server root, without trailing slash
	c    *client.Client
}

// NewClient returns a Client for the server described by cfg.
func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("storage: no server URL configured")
	}
	root := strings.TrimSuffix(cfg.URL, "/")
	opts := client.DefaultOptions()
	if cfg.Options != nil {
		o := *cfg.Options
		opts = &o
	}
	if cfg.Email != "" {
		email, password := cfg.Email, cfg.Password
		opts.Login = func(ctx context.Context, c *client.Client) error {
			body := map[string]string{"email": email, "password": password}
			return c.LoginRequest(ctx, http.MethodPost, "/login/", body, http.StatusNoContent, nil)
		}
	}
	c, err := client.New(root+"/api/", opts)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	return &Client{root: root, c: c}, nil
}

// Runs returns the summaries of all runs of the commit sha.
func (c *Client) Runs(ctx context.Context, sha string) ([]Run, error) {
	var runs []Run
	if err := c.c.Get(ctx, "/runs/", url.Values{"sha": {sha}}, &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

// Run returns the run with the given id, including its candidate
// baseline runs.
func (c *Client) Run(ctx context.Context, id string) (*Run, error) {
	run := new(Run)
	if err := c.c.Get(ctx, "/runs/"+url.PathEscape(id)+"/", nil, run); err != nil {
		return nil, err
	}
	return run, nil
}

// CompareRuns compares every case of the contender run with the
// baseline run. If thresholdZ is non-nil it overrides the server's
// default z-score threshold.
func (c *Client) CompareRuns(ctx context.Context, baselineID, contenderID string, thresholdZ *float64) ([]Comparison, error) {
	var q url.Values
	if thresholdZ != nil {
		q = url.Values{"threshold_z": {strconv.FormatFloat(*thresholdZ, 'f', -1, 64)}}
	}
	var cs []Comparison
	if err := c.c.Get(ctx, "/compare/runs/"+compareID(baselineID, contenderID)+"/", q, &cs); err != nil {
		return nil, err
	}
	return cs, nil
}

// BenchmarkResults returns the raw results of a run.
func (c *Client) BenchmarkResults(ctx context.Context, runID string) ([]BenchmarkResult, error) {
	var rs []BenchmarkResult
	if err := c.c.Get(ctx, "/benchmark-results/", url.Values{"run_id": {runID}}, &rs); err != nil {
		return nil, err
	}
	return rs, nil
}

// RunLink returns the URL of the web page of a run.
func (c *Client) RunLink(id string) string {
	return c.root + "/runs/" + url.PathEscape(id) + "/"
}

// ResultLink returns the URL of the web page of a benchmark result.
func (c *Client) ResultLink(id string) string {
	return c.root + "/benchmark-results/" + url.PathEscape(id) + "/"
}

// CompareLink returns the URL of the web page comparing two runs.
func (c *Client) CompareLink(baselineID, contenderID string) string {
	return c.root + "/compare/runs/" + compareID(baselineID, contenderID) + "/"
}

func compareID(baselineID, contenderID string) string {
	return url.PathEscape(baselineID) + "..." + url.PathEscape(contenderID)
}
