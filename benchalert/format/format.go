// Copyright 2022 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package format renders comparison reports as GitHub check runs,
// commit statuses, pull request comments and Slack messages.
//
// Every function is a pure function of its arguments.
package format

import (
	"fmt"
	"strings"

	"github.com/benchalert/benchalert/benchalert/compinfo"
	"github.com/benchalert/benchalert/benchcmp"
	"github.com/benchalert/benchalert/github"
)

// Options configures the rendered reports.
type Options struct {
	// BuildURL links to the CI build that produced the report.
	BuildURL string

	// WarnIfBaselineIsntParent adds a warning for every run whose
	// baseline run did not measure the contender's parent commit.
	WarnIfBaselineIsntParent bool

	// Pairwise configures the percent changes shown in the
	// details.
	Pairwise benchcmp.Options
}

// CheckStatus returns the conclusion of the check run for c.
// Benchmark errors take precedence over regressions.
func CheckStatus(c *compinfo.Full) github.CheckStatus {
	switch {
	case len(c.ResultsWithErrors()) > 0:
		return github.ActionRequired
	case len(c.ZRegressions()) > 0:
		return github.Failure
	case c.HasZAnalyses():
		return github.Success
	case c.HasContenderResults():
		return github.Skipped
	}
	return github.ActionRequired
}

// CheckTitle returns the one-line title of the check run for c.
func CheckTitle(c *compinfo.Full) string {
	switch {
	case len(c.ResultsWithErrors()) > 0:
		return "Some benchmarks had errors"
	case !c.HasContenderRuns():
		return "Could not find any benchmark runs"
	case !c.HasContenderResults():
		return "Found benchmark runs without results"
	}
	if n := len(c.ZRegressions()); n > 0 {
		return fmt.Sprintf("Found %d possible performance regression%s", n, plural(n))
	}
	switch {
	case !c.HasZAnalyses() && c.HasBaselineRuns():
		return "Not enough history to analyze the benchmarks"
	case !c.HasZAnalyses():
		return "Could not find any baseline runs to compare to"
	}
	return "No performance regressions"
}

// CheckSummary returns the Markdown summary of the check run for c.
func CheckSummary(c *compinfo.Full, opts Options) string {
	var b strings.Builder
	if opts.BuildURL != "" {
		fmt.Fprintf(&b, "This report was generated using [this build](%s).\n\n", opts.BuildURL)
	}
	if !c.HasContenderRuns() {
		fmt.Fprintf(&b, "No benchmark runs were found for commit `%s`. "+
			"Check that the benchmarks ran and that their results were uploaded.\n", short(c.CommitHash))
		return b.String()
	}

	if len(c.ResultsWithErrors()) > 0 {
		b.WriteString("## Benchmarks with errors\n\n")
		b.WriteString("These benchmarks failed while running. Follow the links for the error details.\n\n")
		for i := range c.Runs {
			r := &c.Runs[i]
			errs := r.ResultsWithErrors()
			if len(errs) == 0 {
				continue
			}
			fmt.Fprintf(&b, "- %s\n", runBullet(r))
			for _, res := range errs {
				fmt.Fprintf(&b, "  - [%s](%s)\n", res.Case().Key(), r.ResultLink(res))
			}
		}
		b.WriteString("\n")
	}

	b.WriteString("## Benchmarks with performance regressions\n\n")
	regs := c.ZRegressions()
	switch {
	case !c.HasContenderResults():
		b.WriteString("The contender runs have no benchmark results.\n\n")
	case !c.HasZAnalyses():
		b.WriteString("There were not enough matching historic results to analyze any benchmark. " +
			"This is expected for new benchmarks and new hardware.\n\n")
	case len(regs) > 0:
		fmt.Fprintf(&b, "Contender commit `%s` had %d performance regression%s compared to its baseline.\n\n",
			short(c.CommitHash), len(regs), plural(len(regs)))
		for i := range c.Runs {
			r := &c.Runs[i]
			rr := r.ZRegressions()
			if len(rr) == 0 {
				continue
			}
			fmt.Fprintf(&b, "- %s\n", runBullet(r))
			for _, cmp := range rr {
				fmt.Fprintf(&b, "  - [%s](%s)\n", cmp.Case().Key(), r.ResultLink(cmp.Contender))
			}
		}
		b.WriteString("\n")
	default:
		b.WriteString("There were no benchmark performance regressions.\n\n")
	}

	var missing []*compinfo.Run
	for i := range c.Runs {
		if !c.Runs[i].HasBaseline() {
			missing = append(missing, &c.Runs[i])
		}
	}
	if len(missing) > 0 {
		b.WriteString("## Runs without a baseline\n\n")
		for _, r := range missing {
			reason := r.BaselineError
			if reason == "" {
				reason = "no baseline run found"
			}
			fmt.Fprintf(&b, "- %s: %s\n", runBullet(r), reason)
		}
		b.WriteString("\n")
	}

	if opts.WarnIfBaselineIsntParent {
		var notParent []*compinfo.Run
		for i := range c.Runs {
			if r := &c.Runs[i]; r.HasBaseline() && !r.BaselineIsParent() {
				notParent = append(notParent, r)
			}
		}
		if len(notParent) > 0 {
			b.WriteString("## Baselines that are not the parent commit\n\n")
			b.WriteString("These runs were compared to an older commit than their parent, " +
				"so the comparison may include the effects of other changes.\n\n")
			for _, r := range notParent {
				fmt.Fprintf(&b, "- %s: baseline commit `%s`", runBullet(r), short(r.Baseline.Commit.SHA))
				if n := len(r.CommitsSkipped()); n > 0 {
					fmt.Fprintf(&b, ", %d commit%s skipped", n, plural(n))
				}
				b.WriteString("\n")
			}
			b.WriteString("\n")
		}
	}

	b.WriteString("## All benchmark runs analyzed\n\n")
	for i := range c.Runs {
		r := &c.Runs[i]
		fmt.Fprintf(&b, "- %s", runBullet(r))
		if r.HasBaseline() {
			fmt.Fprintf(&b, " ([comparison](%s))", r.CompareLink())
		}
		b.WriteString("\n")
	}
	return b.String()
}

// CheckDetails returns the Markdown details of the check run for c,
// or "" if nothing was analyzed.
func CheckDetails(c *compinfo.Full, opts Options) string {
	if !c.HasZAnalyses() {
		return ""
	}
	var b strings.Builder
	if t, _ := c.ZScoreThreshold(); t != nil {
		fmt.Fprintf(&b, "This report was generated using a z-score threshold of %v. "+
			"A regression is a benchmark whose z-score exceeds the threshold in the worse direction "+
			"(down for throughput, up for durations).\n\n", *t)
	}
	regs := c.ZRegressions()
	if len(regs) == 0 {
		fmt.Fprintf(&b, "%d run%s analyzed.\n", len(c.Runs), plural(len(c.Runs)))
		return b.String()
	}
	b.WriteString("| Benchmark | Baseline | Contender | Change | z-score |\n")
	b.WriteString("|---|---|---|---|---|\n")
	for _, rc := range regs {
		f := rc.Comparison.Pairwise(opts.Pairwise).Formatted()
		fmt.Fprintf(&b, "| [%s](%s) | %s %s | %s %s | %s | %s |\n",
			f.Case, rc.Run.ResultLink(rc.Comparison.Contender),
			f.Baseline, f.Unit, f.Contender, f.Unit, f.Change, f.ContenderZ)
	}
	return b.String()
}

// StatusState maps a check conclusion to a commit status state.
func StatusState(s github.CheckStatus) github.StatusState {
	switch s {
	case github.Success, github.Skipped, github.Neutral:
		return github.StateSuccess
	}
	return github.StateFailure
}

// StatusDescription returns the commit status description for c. The
// GitHub client truncates it to the allowed length.
func StatusDescription(c *compinfo.Full) string {
	return CheckTitle(c)
}

// SlackMessage returns the Slack message announcing a check run.
func SlackMessage(check *github.CheckRunResponse) string {
	return fmt.Sprintf("Check run posted with status %s: <%s|%s>", check.Conclusion, check.HTMLURL, check.Output.Title)
}

// PRComment returns a pull request comment pointing at a check run.
func PRComment(c *compinfo.Full, check *github.CheckRunResponse) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Benchmark report for commit %s: **%s**\n\n", short(c.CommitHash), CheckTitle(c))
	fmt.Fprintf(&b, "See the [check run](%s) for details.\n", check.HTMLURL)
	return b.String()
}

// ErrorSummary returns the Markdown summary of a check run reporting
// that the pipeline itself failed.
func ErrorSummary(step, trace string, opts Options) string {
	var b strings.Builder
	if opts.BuildURL != "" {
		fmt.Fprintf(&b, "This report was generated using [this build](%s).\n\n", opts.BuildURL)
	}
	fmt.Fprintf(&b, "Benchmark alerting failed in step `%s`:\n\n```\n%s\n```\n", step, strings.TrimRight(trace, "\n"))
	return b.String()
}

// runBullet returns a Markdown link describing a contender run.
func runBullet(r *compinfo.Run) string {
	reason := r.Contender.Reason
	if reason == "" {
		reason = "benchmark"
	}
	hw := r.Contender.Hardware.Name
	if hw == "" {
		hw = "unknown hardware"
	}
	return fmt.Sprintf("[%s run on %s at %s](%s)", reason, hw,
		r.Contender.Timestamp.UTC().Format("2006-01-02 15:04:05Z"), r.ContenderLink())
}

func short(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
