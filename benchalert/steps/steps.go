// Copyright 2022 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package steps provides the pipeline steps and error handlers that
// fetch a commit's benchmark comparisons and publish them to GitHub
// and Slack.
//
// Steps find the outputs they need by step name. Unless configured
// otherwise, a step looks for the default name of the step that
// produces it, such as "GetComparisonStep".
package steps

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/benchalert/benchalert/benchalert"
	"github.com/benchalert/benchalert/benchalert/compinfo"
	"github.com/benchalert/benchalert/benchalert/format"
	"github.com/benchalert/benchalert/github"
	"github.com/benchalert/benchalert/slack"
)

// Default names of the steps in this package, as assigned by
// benchalert.NameOf.
const (
	GetComparisonName = "GetComparisonStep"
	GitHubCheckName   = "GitHubCheckStep"
)

// DefaultCheckName is the name of the published check run.
const DefaultCheckName = "Benchmark alerts"

// DefaultStatusContext is the context of the published commit status.
const DefaultStatusContext = "benchalert"

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func nopIfNil(log *zap.Logger) *zap.Logger {
	if log == nil {
		return zap.NewNop()
	}
	return log
}

// GetComparisonStep fetches the comparisons of a commit's runs with
// their baselines. Its output is a *compinfo.Full.
type GetComparisonStep struct {
	API   compinfo.API
	Query compinfo.Query
	Log   *zap.Logger
}

func (s *GetComparisonStep) Run(ctx context.Context, _ *benchalert.Outputs) (any, error) {
	log := nopIfNil(s.Log)
	full, err := compinfo.Fetch(ctx, s.API, s.Query, log)
	if err != nil {
		return nil, err
	}
	if _, warn := full.ZScoreThreshold(); warn != nil {
		log.Warn("inconsistent z-score thresholds", zap.Error(warn), zap.Float64s("thresholds", full.ZScoreThresholds()))
	}
	log.Info("fetched comparison",
		zap.String("commit", full.CommitHash),
		zap.Int("runs", len(full.Runs)),
		zap.Int("regressions", len(full.ZRegressions())),
		zap.Int("errors", len(full.ResultsWithErrors())))
	return full, nil
}

// GitHubCheckStep publishes the comparison as a completed GitHub check
// run on the contender commit. Its output is a
// *github.CheckRunResponse.
type GitHubCheckStep struct {
	GitHub *github.Client
	Format format.Options

	// CheckName defaults to DefaultCheckName.
	CheckName string

	// ComparisonStep defaults to GetComparisonName.
	ComparisonStep string

	// NewExternalID defaults to uuid.NewString.
	NewExternalID func() string
}

func (s *GitHubCheckStep) Run(ctx context.Context, o *benchalert.Outputs) (any, error) {
	full, err := benchalert.Lookup[*compinfo.Full](o, orDefault(s.ComparisonStep, GetComparisonName))
	if err != nil {
		return nil, err
	}
	newID := s.NewExternalID
	if newID == nil {
		newID = uuid.NewString
	}
	return s.GitHub.UpdateCheck(ctx, github.CheckRun{
		Name:       orDefault(s.CheckName, DefaultCheckName),
		HeadSHA:    full.CommitHash,
		Conclusion: format.CheckStatus(full),
		Title:      format.CheckTitle(full),
		Summary:    format.CheckSummary(full, s.Format),
		Text:       format.CheckDetails(full, s.Format),
		DetailsURL: s.Format.BuildURL,
		ExternalID: newID(),
	})
}

// GitHubStatusStep sets a commit status on the contender commit. Its
// output is a *github.StatusResponse.
type GitHubStatusStep struct {
	GitHub *github.Client
	Format format.Options

	// Context defaults to DefaultStatusContext.
	Context string

	// ComparisonStep defaults to GetComparisonName.
	ComparisonStep string
}

func (s *GitHubStatusStep) Run(ctx context.Context, o *benchalert.Outputs) (any, error) {
	full, err := benchalert.Lookup[*compinfo.Full](o, orDefault(s.ComparisonStep, GetComparisonName))
	if err != nil {
		return nil, err
	}
	return s.GitHub.UpdateStatus(ctx, github.Status{
		SHA:         full.CommitHash,
		State:       format.StatusState(format.CheckStatus(full)),
		Description: format.StatusDescription(full),
		Context:     orDefault(s.Context, DefaultStatusContext),
		TargetURL:   s.Format.BuildURL,
	})
}

// GitHubPRCommentStep comments on a pull request with a link to the
// published check run. Its output is a *github.Comment.
type GitHubPRCommentStep struct {
	GitHub *github.Client
	PR     int

	ComparisonStep string // defaults to GetComparisonName
	CheckStep      string // defaults to GitHubCheckName
}

func (s *GitHubPRCommentStep) Run(ctx context.Context, o *benchalert.Outputs) (any, error) {
	full, err := benchalert.Lookup[*compinfo.Full](o, orDefault(s.ComparisonStep, GetComparisonName))
	if err != nil {
		return nil, err
	}
	check, err := benchalert.Lookup[*github.CheckRunResponse](o, orDefault(s.CheckStep, GitHubCheckName))
	if err != nil {
		return nil, err
	}
	return s.GitHub.CommentOnPR(ctx, s.PR, format.PRComment(full, check))
}

// SlackMessageStep announces the published check run on Slack. Its
// output is a *slack.Message, or nil if the message was skipped.
type SlackMessageStep struct {
	Slack   *slack.Client
	Channel string

	// CheckStep defaults to GitHubCheckName.
	CheckStep string

	// SkipOnSuccess suppresses the message when the check succeeded.
	SkipOnSuccess bool
}

func (s *SlackMessageStep) Run(ctx context.Context, o *benchalert.Outputs) (any, error) {
	check, err := benchalert.Lookup[*github.CheckRunResponse](o, orDefault(s.CheckStep, GitHubCheckName))
	if err != nil {
		return nil, err
	}
	if s.SkipOnSuccess && check.Conclusion == string(github.Success) {
		return (*slack.Message)(nil), nil
	}
	return s.Slack.PostMessage(ctx, s.Channel, format.SlackMessage(check))
}

// GitHubCheckErrorHandler publishes a neutral check run describing
// the failed step.
type GitHubCheckErrorHandler struct {
	GitHub     *github.Client
	CommitHash string
	Format     format.Options

	// CheckName defaults to DefaultCheckName.
	CheckName string
}

func (h *GitHubCheckErrorHandler) HandleError(ctx context.Context, serr *benchalert.StepError) error {
	_, err := h.GitHub.UpdateCheck(ctx, github.CheckRun{
		Name:       orDefault(h.CheckName, DefaultCheckName),
		HeadSHA:    h.CommitHash,
		Conclusion: github.Neutral,
		Title:      "Benchmark alerting failed",
		Summary:    format.ErrorSummary(serr.Step, serr.Trace(), h.Format),
		DetailsURL: h.Format.BuildURL,
		ExternalID: uuid.NewString(),
	})
	return err
}

// GitHubStatusErrorHandler sets an "error" commit status naming the
// failed step.
type GitHubStatusErrorHandler struct {
	GitHub     *github.Client
	CommitHash string
	Format     format.Options

	// Context defaults to DefaultStatusContext.
	Context string
}

func (h *GitHubStatusErrorHandler) HandleError(ctx context.Context, serr *benchalert.StepError) error {
	_, err := h.GitHub.UpdateStatus(ctx, github.Status{
		SHA:         h.CommitHash,
		State:       github.StateError,
		Description: fmt.Sprintf("Benchmark alerting failed in step %s", serr.Step),
		Context:     orDefault(h.Context, DefaultStatusContext),
		TargetURL:   h.Format.BuildURL,
	})
	return err
}

// SlackErrorHandler posts the failed step and its error to Slack.
type SlackErrorHandler struct {
	Slack   *slack.Client
	Channel string
	Format  format.Options
}

func (h *SlackErrorHandler) HandleError(ctx context.Context, serr *benchalert.StepError) error {
	_, err := h.Slack.PostMessage(ctx, h.Channel, SlackErrorText(serr, h.Format))
	return err
}

// SlackErrorText returns the Slack message reporting serr.
func SlackErrorText(serr *benchalert.StepError, opts format.Options) string {
	text := fmt.Sprintf("Benchmark alerting failed in step `%s`: %v", serr.Step, serr.Err)
	if opts.BuildURL != "" {
		text += fmt.Sprintf(" (<%s|build>)", opts.BuildURL)
	}
	return text
}
