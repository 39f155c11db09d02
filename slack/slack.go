// Copyright 2022 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package slack posts messages through the Slack Web API.
package slack

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/benchalert/benchalert/client"
)

// DefaultAPIURL is the Slack Web API.
const DefaultAPIURL = "https://slack.com/api/"

// Config configures a Client.
type Config struct {
	// APIURL defaults to DefaultAPIURL.
	APIURL string

	// Token is a bot token ("xoxb-...").
	Token string

	// Options configures the underlying HTTP client. Nil means
	// client.DefaultOptions().
	Options *client.Options
}

// A Client posts to one Slack workspace.
type Client struct {
	c *client.Client
}

// An APIError is a Slack response with "ok": false. Slack reports
// most failures this way with HTTP status 200.
type APIError struct {
	Method string // such as "chat.postMessage"
	Code   string // such as "channel_not_found"
}

func (e *APIError) Error() string {
	return fmt.Sprintf("slack %s: %s", e.Method, e.Code)
}

// NewClient returns a Client for cfg.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("slack: no token configured")
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
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
	wrap := opts.WrapTransport
	opts.WrapTransport = func(base http.RoundTripper) http.RoundTripper {
		if wrap != nil {
			base = wrap(base)
		}
		return &oauth2.Transport{Source: src, Base: base}
	}
	c, err := client.New(apiURL, opts)
	if err != nil {
		return nil, fmt.Errorf("slack: %w", err)
	}
	return &Client{c: c}, nil
}

// A Message is a posted message.
type Message struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
	Channel string `json:"channel"`
	TS      string `json:"ts"`
}

// PostMessage posts text to channel. A 200 response is not enough:
// it fails with an *APIError unless Slack reports "ok": true.
func (c *Client) PostMessage(ctx context.Context, channel, text string) (*Message, error) {
	const method = "chat.postMessage"
	msg := new(Message)
	body := map[string]string{"channel": channel, "text": text}
	if err := c.c.Post(ctx, method, body, http.StatusOK, msg); err != nil {
		return nil, fmt.Errorf("slack %s: %w", method, err)
	}
	if !msg.OK {
		return nil, &APIError{Method: method, Code: msg.Error}
	}
	return msg, nil
}
