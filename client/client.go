// Copyright 2022 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package client implements an HTTP client for JSON APIs that keeps
// retrying through transient failures and transparently logs in again
// when its credentials expire.
//
// A request succeeds only on one expected status code. Connection
// errors, 429 and 5xx responses are retried with exponential backoff
// until the Client's retry budget (30 minutes by default) runs out.
// The budget is deliberately long: these clients run inside CI jobs,
// where waiting out an outage beats failing the job. A 401 triggers
// one login followed by one more try. Any other status fails
// immediately with a *StatusError.
//
// A Client holds one session (cookies and authentication headers). It
// is not safe for concurrent use by multiple goroutines without
// external locking.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// A LoginFunc establishes a session for c, typically by calling
// c.LoginRequest and then c.SetHeader, or by relying on the cookies
// the login response sets.
type LoginFunc func(ctx context.Context, c *Client) error

// Options configures a Client. Start from DefaultOptions; the zero
// value has no retry budget.
type Options struct {
	// Logger receives a line per attempt. Nil means no logging.
	Logger *zap.Logger

	// Metrics, if non-nil, counts attempts, retries and logins.
	Metrics *Metrics

	// Login, if non-nil, is called before the first request and
	// whenever a request is rejected with 401.
	Login LoginFunc

	// RetryFor is the retry budget of one request; no attempt runs
	// past it. ConnectTimeout bounds each attempt's connection setup.
	// ReadTimeout bounds the wait for response headers and then each
	// wait for more of the response body; an attempt that stalls
	// longer is abandoned and retried.
	RetryFor                    time.Duration
	ConnectTimeout, ReadTimeout time.Duration

	// LoginRetryFor, LoginConnectTimeout and LoginReadTimeout are
	// the same settings for requests made by LoginRequest.
	LoginRetryFor                         time.Duration
	LoginConnectTimeout, LoginReadTimeout time.Duration

	// Header is sent with every request.
	Header http.Header

	// WrapTransport, if non-nil, wraps the transport used for
	// regular (non-login) requests, for example to add an
	// oauth2.Transport.
	WrapTransport func(http.RoundTripper) http.RoundTripper

	// Now and NewTimer replace the clock and the backoff timer.
	// They exist for tests.
	Now      func() time.Time
	NewTimer func() backoff.Timer
}

// DefaultOptions returns the production defaults.
func DefaultOptions() *Options {
	return &Options{
		RetryFor:            30 * time.Minute,
		ConnectTimeout:      10 * time.Second,
		ReadTimeout:         120 * time.Second,
		LoginRetryFor:       60 * time.Second,
		LoginConnectTimeout: 3100 * time.Millisecond,
		LoginReadTimeout:    10 * time.Second,
	}
}

// A Client makes requests against one base URL.
type Client struct {
	base     *url.URL
	host     string
	opts     Options
	log      *zap.Logger
	requests lane
	logins   lane
	header   http.Header // session headers, set by SetHeader
	loggedIn bool
}

// A lane is an http.Client with the retry budget and read timeout its
// requests run under.
type lane struct {
	hc     *http.Client
	budget time.Duration
	read   time.Duration
}

// New returns a Client for the API at baseURL. If opts is nil,
// DefaultOptions is used.
func New(baseURL string, opts *Options) (*Client, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base URL %q: scheme must be http or https", baseURL)
	}
	if opts == nil {
		opts = DefaultOptions()
	}
	c := &Client{
		base:   base,
		host:   base.Host,
		opts:   *opts,
		log:    opts.Logger,
		header: make(http.Header),
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	c.log = c.log.With(zap.String("host", c.host))
	if c.opts.Now == nil {
		c.opts.Now = time.Now
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	var rt http.RoundTripper = NewTransport(opts.ConnectTimeout, opts.ReadTimeout)
	if opts.WrapTransport != nil {
		rt = opts.WrapTransport(rt)
	}
	c.requests = lane{
		hc:     &http.Client{Transport: rt, Jar: jar},
		budget: opts.RetryFor,
		read:   opts.ReadTimeout,
	}
	c.logins = lane{
		hc:     &http.Client{Transport: NewTransport(opts.LoginConnectTimeout, opts.LoginReadTimeout), Jar: jar},
		budget: opts.LoginRetryFor,
		read:   opts.LoginReadTimeout,
	}
	return c, nil
}

// NewTransport returns an http.Transport with the given connect and
// read timeouts. A zero timeout means no limit.
func NewTransport(connect, read time.Duration) *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.DialContext = (&net.Dialer{Timeout: connect, KeepAlive: 30 * time.Second}).DialContext
	t.ResponseHeaderTimeout = read
	return t
}

// SetHeader sets a session header sent with every later request.
func (c *Client) SetHeader(key, value string) {
	c.header.Set(key, value)
}

// Get issues a GET and decodes a 200 response into out.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	return c.Do(ctx, http.MethodGet, path, query, nil, http.StatusOK, out)
}

// Post issues a POST of body encoded as JSON and decodes the response
// into out, which may be nil.
func (c *Client) Post(ctx context.Context, path string, body any, expected int, out any) error {
	return c.Do(ctx, http.MethodPost, path, nil, body, expected, out)
}

// Put issues a PUT of body encoded as JSON and decodes the response
// into out, which may be nil.
func (c *Client) Put(ctx context.Context, path string, body any, expected int, out any) error {
	return c.Do(ctx, http.MethodPut, path, nil, body, expected, out)
}

// Do performs one logical request: it retries transient failures, and
// on a 401 logs in once and tries once more. The response body of a
// response with status expected is decoded as JSON into out, unless
// out is nil or the body is empty.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body any, expected int, out any) error {
	if c.opts.Login != nil && !c.loggedIn {
		if err := c.Login(ctx); err != nil {
			return err
		}
	}
	r, err := c.newCall(method, path, query, body, expected)
	if err != nil {
		return err
	}
	res, err := c.retry(ctx, c.requests, r)
	if err != nil {
		return err
	}
	if res.outcome == outcomeAuthExpired {
		if c.opts.Login == nil {
			return fmt.Errorf("%s %s: %w", r.method, r.url, ErrUnauthorized)
		}
		c.log.Info("request unauthorized, logging in again", zap.String("method", r.method), zap.String("url", r.url))
		if err := c.Login(ctx); err != nil {
			return err
		}
		res, err = c.retry(ctx, c.requests, r)
		if err != nil {
			return err
		}
		if res.outcome == outcomeAuthExpired {
			return &LoginError{Method: r.method, URL: r.url}
		}
	}
	return res.decode(out)
}

// Login runs the configured LoginFunc. It is a no-op without one.
func (c *Client) Login(ctx context.Context) error {
	if c.opts.Login == nil {
		return nil
	}
	err := c.opts.Login(ctx, c)
	c.opts.Metrics.login(c.host, err)
	if err != nil {
		return fmt.Errorf("logging in to %s: %w", c.host, err)
	}
	c.loggedIn = true
	c.log.Info("logged in")
	return nil
}

// LoginRequest performs a login request with the login timeouts and
// retry budget. A 401 or 403 response is a *CredentialsError.
// LoginRequest never triggers a login itself.
func (c *Client) LoginRequest(ctx context.Context, method, path string, body any, expected int, out any) error {
	return c.LoginRequestHeader(ctx, method, path, nil, body, expected, out)
}

// LoginRequestHeader is like LoginRequest but sends extra headers,
// such as a bearer token that only the login endpoint accepts.
func (c *Client) LoginRequestHeader(ctx context.Context, method, path string, header http.Header, body any, expected int, out any) error {
	r, err := c.newCall(method, path, nil, body, expected)
	if err != nil {
		return err
	}
	r.header = header
	res, err := c.retry(ctx, c.logins, r)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusForbidden {
			return &CredentialsError{URL: r.url, StatusCode: se.StatusCode, Body: se.Body}
		}
		return err
	}
	if res.outcome == outcomeAuthExpired {
		return &CredentialsError{URL: r.url, StatusCode: res.status, Body: res.body}
	}
	return res.decode(out)
}

// A call is one logical request, replayable across attempts.
type call struct {
	method   string
	url      string
	body     []byte
	header   http.Header
	expected int
}

func (c *Client) newCall(method, path string, query url.Values, body any, expected int) (*call, error) {
	u := *c.base
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(path, "/")
	u.RawPath = ""
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	r := &call{method: method, url: u.String(), expected: expected}
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%s %s: encoding body: %w", method, r.url, err)
		}
		r.body = b
	}
	return r, nil
}

func (c *Client) newRequest(ctx context.Context, r *call) (*http.Request, error) {
	var body io.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, r.url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, h := range []http.Header{c.opts.Header, c.header, r.header} {
		for k, vs := range h {
			req.Header[k] = append([]string(nil), vs...)
		}
	}
	return req, nil
}

// An outcome tags the result of one attempt.
type outcome int

const (
	outcomeOK          outcome = iota // the expected status
	outcomeRetry                      // transport error, 429 or 5xx
	outcomeAuthExpired                // 401
	outcomeFail                       // anything else; not retried
)

func (o outcome) String() string {
	switch o {
	case outcomeOK:
		return "ok"
	case outcomeRetry:
		return "retry"
	case outcomeAuthExpired:
		return "unauthorized"
	}
	return "error"
}

// A result is the tagged result of one attempt.
type result struct {
	outcome outcome
	status  int
	body    []byte
	err     error // cause of outcomeRetry or outcomeFail
}

func (r result) decode(out any) error {
	if out == nil || len(bytes.TrimSpace(r.body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.body, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// attempt issues r once. ctx carries the retry budget; the attempt
// is also abandoned when the response stalls for longer than l.read.
func (c *Client) attempt(ctx context.Context, l lane, r *call, n int) result {
	actx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	req, err := c.newRequest(actx, r)
	if err != nil {
		return result{outcome: outcomeFail, err: err}
	}
	start := c.opts.Now()
	log := c.log.With(zap.String("method", r.method), zap.String("url", r.url), zap.Int("attempt", n))

	// failed classifies a transport or body read error.
	failed := func(msg string, err error, fields ...zap.Field) result {
		elapsed := c.opts.Now().Sub(start)
		cause := context.Cause(actx)
		switch {
		case cause == nil:
		case errors.Is(cause, ErrReadTimeout), errors.Is(cause, errBudgetSpent):
			err = cause
		default:
			// The caller's context is done.
			return result{outcome: outcomeFail, err: cause}
		}
		log.Warn(msg, append(fields, zap.Duration("elapsed", elapsed), zap.Error(err))...)
		c.opts.Metrics.attempt(c.host, outcomeRetry.String(), elapsed)
		return result{outcome: outcomeRetry, err: err}
	}

	resp, err := l.hc.Do(req)
	if err != nil {
		return failed("request failed", err)
	}
	defer resp.Body.Close()
	var body []byte
	if l.read > 0 {
		stalled := fmt.Errorf("%w: no response data for %v", ErrReadTimeout, l.read)
		timer := time.AfterFunc(l.read, func() { cancel(stalled) })
		body, err = io.ReadAll(&idleReader{r: resp.Body, timer: timer, timeout: l.read})
		timer.Stop()
	} else {
		body, err = io.ReadAll(resp.Body)
	}
	elapsed := c.opts.Now().Sub(start)
	if err != nil {
		return failed("reading response failed", err, zap.Int("status", resp.StatusCode))
	}

	res := result{status: resp.StatusCode, body: body}
	switch {
	case resp.StatusCode == r.expected:
		res.outcome = outcomeOK
	case resp.StatusCode == http.StatusUnauthorized:
		res.outcome = outcomeAuthExpired
	case retryable(resp.StatusCode):
		res.outcome = outcomeRetry
		res.err = &StatusError{Method: r.method, URL: r.url, StatusCode: resp.StatusCode, Expected: r.expected, Body: body}
	default:
		res.outcome = outcomeFail
		res.err = &StatusError{Method: r.method, URL: r.url, StatusCode: resp.StatusCode, Expected: r.expected, Body: body}
	}
	fields := []zap.Field{zap.Int("status", resp.StatusCode), zap.Duration("elapsed", elapsed), zap.Stringer("outcome", res.outcome)}
	switch res.outcome {
	case outcomeFail:
		log.Error("unexpected response", append(fields, zap.ByteString("body", body))...)
	case outcomeRetry:
		log.Warn("retryable response", fields...)
	default:
		log.Info("response", fields...)
	}
	c.opts.Metrics.attempt(c.host, res.outcome.String(), elapsed)
	return res
}

// retry attempts r until it yields anything but outcomeRetry or the
// budget runs out. outcomeFail becomes the returned error.
func (c *Client) retry(ctx context.Context, l lane, r *call) (result, error) {
	start := c.opts.Now()
	attempts := 0
	actx := ctx
	if l.budget > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeoutCause(ctx, l.budget, errBudgetSpent)
		defer cancel()
	}
	op := func() (result, error) {
		attempts++
		res := c.attempt(actx, l, r, attempts)
		switch res.outcome {
		case outcomeRetry:
			return res, &transientError{res.err}
		case outcomeFail:
			return res, backoff.Permanent(res.err)
		}
		return res, nil
	}
	notify := func(err error, wait time.Duration) {
		c.opts.Metrics.retry(c.host)
		c.log.Info("retrying", zap.String("method", r.method), zap.String("url", r.url),
			zap.Int("attempt", attempts), zap.Duration("wait", wait))
	}
	var timer backoff.Timer
	if c.opts.NewTimer != nil {
		timer = c.opts.NewTimer()
	}
	b := backoff.WithContext(newDeadlineBackOff(l.budget, c.opts.Now), ctx)

	res, err := backoff.RetryNotifyWithTimerAndData(op, b, notify, timer)
	if err != nil {
		var te *transientError
		if errors.As(err, &te) {
			elapsed := c.opts.Now().Sub(start)
			c.log.Error("retry budget exhausted", zap.String("method", r.method), zap.String("url", r.url),
				zap.Int("attempts", attempts), zap.Duration("elapsed", elapsed), zap.Error(te.err))
			return res, &DeadlineError{Method: r.method, URL: r.url, Attempts: attempts, Elapsed: elapsed, Last: te.err}
		}
		return res, err
	}
	return res, nil
}

// idleReader resets timer to timeout whenever a read makes progress.
type idleReader struct {
	r       io.Reader
	timer   *time.Timer
	timeout time.Duration
}

func (r *idleReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		r.timer.Reset(r.timeout)
	}
	return n, err
}
