// Copyright 2022 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Benchalert reports the benchmark regressions of a commit to GitHub
// and Slack.
//
// Usage:
//
//	benchalert [flags] -commit sha
//	benchalert [flags] -runs id,id...
//
// Benchalert fetches the comparisons of the commit's benchmark runs
// with their baseline runs from the storage server, then publishes a
// GitHub check run with the result and, if configured, a commit
// status, a pull request comment and a Slack message. If any of these
// steps fails, it publishes the failure the same way and exits with
// status 1.
//
// Credentials and settings are read from the environment
// (BENCH_STORAGE_URL, GITHUB_REPOSITORY, GITHUB_API_TOKEN,
// SLACK_API_TOKEN, ...) and from the YAML file named by -config.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/benchalert/benchalert/benchalert"
	"github.com/benchalert/benchalert/benchalert/compinfo"
	"github.com/benchalert/benchalert/benchalert/format"
	"github.com/benchalert/benchalert/benchalert/steps"
	"github.com/benchalert/benchalert/benchcmp"
	"github.com/benchalert/benchalert/client"
	"github.com/benchalert/benchalert/github"
	"github.com/benchalert/benchalert/internal/config"
	"github.com/benchalert/benchalert/internal/logging"
	"github.com/benchalert/benchalert/slack"
	"github.com/benchalert/benchalert/storage"
)

func main() {
	log.SetPrefix("benchalert: ")
	log.SetFlags(0)
	os.Exit(run(context.Background(), os.Args[1:], os.Stderr))
}

func run(ctx context.Context, args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("benchalert", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		configPath  = fs.String("config", "", "read settings from YAML `file`")
		commit      = fs.String("commit", os.Getenv("GITHUB_SHA"), "report on commit `sha`")
		runIDs      = fs.String("runs", "", "report on the comma-separated run `ids` instead of all runs of the commit")
		pr          = fs.Int("pr", 0, "comment on pull request `number`")
		status      = fs.Bool("status", false, "also set a commit status")
		metricsFile = fs.String("metrics-file", "", "write HTTP client metrics to `file` in Prometheus text format")
	)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: benchalert [flags] {-commit sha | -runs id,...}\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() > 0 || (*commit == "" && *runIDs == "") {
		fs.Usage()
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "benchalert: %v\n", err)
		return 1
	}
	logger, err := logging.NewWriter(stderr, cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(stderr, "benchalert: %v\n", err)
		return 1
	}
	defer logger.Sync()

	reg := prometheus.NewRegistry()
	opts := cfg.ClientOptions(logger, client.NewMetrics(reg))
	if *metricsFile != "" {
		defer func() {
			if err := prometheus.WriteToTextfile(*metricsFile, reg); err != nil {
				logger.Error("writing metrics", zap.String("file", *metricsFile), zap.Error(err))
			}
		}()
	}

	q := compinfo.Query{
		CommitHash:      *commit,
		BaselineType:    cfg.Alert.BaselineRunType,
		ZScoreThreshold: cfg.Alert.ZScoreThreshold,
	}
	if *runIDs != "" {
		q.RunIDs = strings.Split(*runIDs, ",")
	}
	p, err := newPipeline(cfg, opts, q, *pr, *status, logger)
	if err != nil {
		logger.Error("setting up pipeline", zap.Error(err))
		return 1
	}
	logger.Info("starting", zap.String("pipeline_run", p.RunID()), zap.String("commit", *commit))
	if _, err := p.Run(ctx); err != nil {
		logger.Error("benchmark alerting failed", zap.Error(err))
		return 1
	}
	return 0
}

func newPipeline(cfg *config.Config, opts *client.Options, q compinfo.Query, pr int, status bool, logger *zap.Logger) (*benchalert.Pipeline, error) {
	st, err := storage.NewClient(storage.Config{
		URL:      cfg.Storage.URL,
		Email:    cfg.Storage.Email,
		Password: cfg.Storage.Password,
		Options:  opts,
	})
	if err != nil {
		return nil, err
	}
	gh, err := github.NewClient(github.Config{
		APIURL:         cfg.GitHub.APIURL,
		Repository:     cfg.GitHub.Repository,
		Token:          cfg.GitHub.Token,
		AppID:          cfg.GitHub.AppID,
		InstallationID: cfg.GitHub.InstallationID,
		PrivateKey:     []byte(cfg.GitHub.PrivateKey),
		Options:        opts,
	})
	if err != nil {
		return nil, err
	}
	fopts := format.Options{
		BuildURL:                 cfg.Alert.BuildURL,
		WarnIfBaselineIsntParent: cfg.Alert.WarnIfBaselineIsntParent,
		Pairwise:                 benchcmp.DefaultOptions(),
	}

	ss := []benchalert.Step{
		&steps.GetComparisonStep{API: st, Query: q, Log: logger},
		&steps.GitHubCheckStep{GitHub: gh, Format: fopts, CheckName: cfg.Alert.CheckName},
	}
	var hs []benchalert.ErrorHandler
	if q.CommitHash != "" {
		hs = append(hs, &steps.GitHubCheckErrorHandler{GitHub: gh, CommitHash: q.CommitHash, Format: fopts, CheckName: cfg.Alert.CheckName})
	}
	if status {
		ss = append(ss, &steps.GitHubStatusStep{GitHub: gh, Format: fopts, Context: cfg.Alert.StatusContext})
		if q.CommitHash != "" {
			hs = append(hs, &steps.GitHubStatusErrorHandler{GitHub: gh, CommitHash: q.CommitHash, Format: fopts, Context: cfg.Alert.StatusContext})
		}
	}
	if pr > 0 {
		ss = append(ss, &steps.GitHubPRCommentStep{GitHub: gh, PR: pr})
	}
	if cfg.Slack.Token != "" {
		sl, err := slack.NewClient(slack.Config{APIURL: cfg.Slack.APIURL, Token: cfg.Slack.Token, Options: opts})
		if err != nil {
			return nil, err
		}
		ss = append(ss, &steps.SlackMessageStep{Slack: sl, Channel: cfg.Slack.Channel, SkipOnSuccess: cfg.Alert.SkipSlackOnSuccess})
		hs = append(hs, &steps.SlackErrorHandler{Slack: sl, Channel: cfg.Slack.Channel, Format: fopts})
	}
	return benchalert.New(ss, hs, logger), nil
}
