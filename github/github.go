// Copyright 2022 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package github publishes benchmark reports to GitHub as check runs,
// commit statuses and pull request comments.
//
// A Client authenticates either with a static token or as a GitHub
// App installation. App installation tokens expire after an hour; the
// underlying client.Client mints a new one when a request is rejected
// with 401.
package github

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/oauth2"

	"github.com/benchalert/benchalert/client"
)

// DefaultAPIURL is the public GitHub REST API.
const DefaultAPIURL = "https://api.github.com"

// Length limits enforced by the GitHub API.
const (
	MaxCheckOutput       = 65535
	MaxStatusDescription = 140
)

const truncationNotice = "\n\n(report truncated)"

// A CheckStatus is the conclusion of a completed check run.
type CheckStatus string

const (
	Success        CheckStatus = "success"
	Failure        CheckStatus = "failure"
	Neutral        CheckStatus = "neutral"
	Skipped        CheckStatus = "skipped"
	ActionRequired CheckStatus = "action_required"
	Cancelled      CheckStatus = "cancelled"
	TimedOut       CheckStatus = "timed_out"
)

// A StatusState is the state of a commit status.
type StatusState string

const (
	StatePending StatusState = "pending"
	StateSuccess StatusState = "success"
	StateFailure StatusState = "failure"
	StateError   StatusState = "error"
)

// Config configures a Client.
type Config struct {
	// APIURL defaults to DefaultAPIURL.
	APIURL string

	// Repository is "owner/name".
	Repository string

	// Token authenticates with a personal access token or the
	// token of a CI job.
	Token string

	// AppID, InstallationID and PrivateKey (PEM) authenticate as a
	// GitHub App installation. They take precedence over Token.
	AppID          string
	InstallationID string
	PrivateKey     []byte

	// Options configures the underlying HTTP client. Nil means
	// client.DefaultOptions().
	Options *client.Options
}

// A Client talks to the GitHub API on behalf of one repository.
type Client struct {
	repo string
	c    *client.Client
	now  func() time.Time
}

// NewClient returns a Client for cfg.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Repository == "" || strings.Count(cfg.Repository, "/") != 1 {
		return nil, fmt.Errorf("github: repository %q is not of the form owner/name", cfg.Repository)
	}
	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	opts := client.DefaultOptions()
	if cfg.Options != nil {
		o := *cfg.Options
		opts = &o
	}
	opts.Header = opts.Header.Clone()
	if opts.Header == nil {
		opts.Header = make(http.Header)
	}
	opts.Header.Set("Accept", "application/vnd.github+json")
	opts.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	switch {
	case cfg.AppID != "":
		if cfg.InstallationID == "" || len(cfg.PrivateKey) == 0 {
			return nil, fmt.Errorf("github: app %s needs an installation id and a private key", cfg.AppID)
		}
		app, err := newAppAuth(cfg.AppID, cfg.InstallationID, cfg.PrivateKey, now)
		if err != nil {
			return nil, err
		}
		opts.Login = app.login
	case cfg.Token != "":
		src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
		wrap := opts.WrapTransport
		opts.WrapTransport = func(base http.RoundTripper) http.RoundTripper {
			if wrap != nil {
				base = wrap(base)
			}
			return &oauth2.Transport{Source: src, Base: base}
		}
	default:
		return nil, fmt.Errorf("github: no token or app credentials configured")
	}

	c, err := client.New(apiURL, opts)
	if err != nil {
		return nil, fmt.Errorf("github: %w", err)
	}
	return &Client{repo: cfg.Repository, c: c, now: now}, nil
}

// Repository returns the "owner/name" of the repository c posts to.
func (c *Client) Repository() string { return c.repo }

// A CheckRun is a check run to create. A run with a Conclusion is
// created completed; otherwise it is created with Status (default
// "in_progress").
type CheckRun struct {
	Name       string
	HeadSHA    string
	Status     string
	Conclusion CheckStatus
	Title      string
	Summary    string
	Text       string
	DetailsURL string
	ExternalID string
}

// CheckRunResponse is the subset of GitHub's check run object that
// later steps use.
type CheckRunResponse struct {
	ID         int64  `json:"id"`
	HTMLURL    string `json:"html_url"`
	HeadSHA    string `json:"head_sha"`
	Status     string `json:"status"`
	Conclusion string `json:"conclusion"`
	Output     struct {
		Title   string `json:"title"`
		Summary string `json:"summary"`
	} `json:"output"`
}

type checkRunOutput struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
	Text    string `json:"text,omitempty"`
}

type checkRunRequest struct {
	Name        string         `json:"name"`
	HeadSHA     string         `json:"head_sha"`
	Status      string         `json:"status,omitempty"`
	StartedAt   string         `json:"started_at,omitempty"`
	Conclusion  CheckStatus    `json:"conclusion,omitempty"`
	CompletedAt string         `json:"completed_at,omitempty"`
	Output      checkRunOutput `json:"output"`
	DetailsURL  string         `json:"details_url,omitempty"`
	ExternalID  string         `json:"external_id,omitempty"`
}

// UpdateCheck creates a check run on run.HeadSHA.
func (c *Client) UpdateCheck(ctx context.Context, run CheckRun) (*CheckRunResponse, error) {
	req := checkRunRequest{
		Name:       run.Name,
		HeadSHA:    run.HeadSHA,
		DetailsURL: run.DetailsURL,
		ExternalID: run.ExternalID,
		Output: checkRunOutput{
			Title:   run.Title,
			Summary: Truncate(run.Summary, MaxCheckOutput, truncationNotice),
			Text:    Truncate(run.Text, MaxCheckOutput, truncationNotice),
		},
	}
	ts := c.now().UTC().Format(time.RFC3339)
	if run.Conclusion != "" {
		req.Conclusion, req.CompletedAt = run.Conclusion, ts
	} else {
		req.Status, req.StartedAt = run.Status, ts
		if req.Status == "" {
			req.Status = "in_progress"
		}
	}
	resp := new(CheckRunResponse)
	if err := c.c.Post(ctx, "/repos/"+c.repo+"/check-runs", req, http.StatusCreated, resp); err != nil {
		return nil, fmt.Errorf("creating check run: %w", err)
	}
	return resp, nil
}

// A Status is a commit status to set.
type Status struct {
	SHA         string
	State       StatusState
	Description string
	Context     string
	TargetURL   string
}

// StatusResponse is the subset of GitHub's status object that later
// steps use.
type StatusResponse struct {
	ID          int64  `json:"id"`
	URL         string `json:"url"`
	State       string `json:"state"`
	Description string `json:"description"`
	Context     string `json:"context"`
	TargetURL   string `json:"target_url"`
}

type statusRequest struct {
	State       StatusState `json:"state"`
	Description string      `json:"description"`
	Context     string      `json:"context"`
	TargetURL   string      `json:"target_url,omitempty"`
}

// UpdateStatus sets a commit status. The description is truncated to
// MaxStatusDescription characters.
func (c *Client) UpdateStatus(ctx context.Context, st Status) (*StatusResponse, error) {
	req := statusRequest{
		State:       st.State,
		Description: Truncate(st.Description, MaxStatusDescription, "..."),
		Context:     st.Context,
		TargetURL:   st.TargetURL,
	}
	resp := new(StatusResponse)
	if err := c.c.Post(ctx, "/repos/"+c.repo+"/statuses/"+st.SHA, req, http.StatusCreated, resp); err != nil {
		return nil, fmt.Errorf("setting commit status: %w", err)
	}
	return resp, nil
}

// A Comment is a created issue or pull request comment.
type Comment struct {
	ID      int64  `json:"id"`
	HTMLURL string `json:"html_url"`
	Body    string `json:"body"`
}

// CommentOnPR posts body as a comment on pull request pr.
func (c *Client) CommentOnPR(ctx context.Context, pr int, body string) (*Comment, error) {
	resp := new(Comment)
	path := "/repos/" + c.repo + "/issues/" + strconv.Itoa(pr) + "/comments"
	if err := c.c.Post(ctx, path, map[string]string{"body": body}, http.StatusCreated, resp); err != nil {
		return nil, fmt.Errorf("commenting on pull request #%d: %w", pr, err)
	}
	return resp, nil
}

// Truncate shortens s to at most max characters, replacing the end
// with notice when it had to cut.
func Truncate(s string, max int, notice string) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	keep := max - utf8.RuneCountInString(notice)
	if keep < 0 {
		keep = 0
	}
	n := 0
	for i := range s {
		if n == keep {
			return s[:i] + notice
		}
		n++
	}
	return s + notice
}
