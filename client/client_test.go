// Copyright 2022 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap/zaptest"
)

// fakeClock is advanced only by fakeTimer, so waits take no real time.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

// fakeTimer records every wait and fires immediately.
type fakeTimer struct {
	clock  *fakeClock
	c      chan time.Time
	sleeps []time.Duration
}

func (t *fakeTimer) Start(d time.Duration) {
	t.sleeps = append(t.sleeps, d)
	t.clock.now = t.clock.now.Add(d)
	select {
	case t.c <- t.clock.now:
	default:
	}
}

func (t *fakeTimer) Stop() {}

func (t *fakeTimer) C() <-chan time.Time { return t.c }

type testClient struct {
	*Client
	timer   *fakeTimer
	metrics *Metrics
	host    string
}

func newTestClient(t *testing.T, base string, edit func(*Options)) *testClient {
	t.Helper()
	clock := &fakeClock{now: time.Date(2022, 6, 1, 12, 0, 0, 0, time.UTC)}
	timer := &fakeTimer{clock: clock, c: make(chan time.Time, 1)}
	opts := DefaultOptions()
	opts.Logger = zaptest.NewLogger(t)
	opts.Metrics = NewMetrics(prometheus.NewRegistry())
	opts.Now = clock.Now
	opts.NewTimer = func() backoff.Timer { return timer }
	if edit != nil {
		edit(opts)
	}
	c, err := New(base, opts)
	if err != nil {
		t.Fatal(err)
	}
	u, _ := url.Parse(base)
	return &testClient{Client: c, timer: timer, metrics: opts.Metrics, host: u.Host}
}

// statusSequence serves the given status codes in order, then 200 with
// body forever after.
func statusSequence(codes []int, body string) (http.Handler, *int32) {
	var n int32
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		i := int(atomic.AddInt32(&n, 1)) - 1
		if i < len(codes) {
			w.WriteHeader(codes[i])
			w.Write([]byte(`{"error":"try later"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}), &n
}

func durationsNear(got, want []time.Duration, tol time.Duration) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		d := got[i] - want[i]
		if d < -tol || d > tol {
			return false
		}
	}
	return true
}

func TestWait(t *testing.T) {
	for _, test := range []struct {
		cycle int
		want  time.Duration
	}{
		{1, 666666666 * time.Nanosecond},
		{2, 1333333333 * time.Nanosecond},
		{3, 2666666666 * time.Nanosecond},
		{7, 42666666666 * time.Nanosecond},
		{8, 60 * time.Second},
		{30, 60 * time.Second},
	} {
		got := Wait(test.cycle)
		if d := got - test.want; d < -time.Microsecond || d > time.Microsecond {
			t.Errorf("Wait(%d) got %v want %v", test.cycle, got, test.want)
		}
	}
}

func TestRetryThenSuccess(t *testing.T) {
	h, n := statusSequence([]int{500, 500, 500}, `{"id":"abc","count":3}`)
	ts := httptest.NewServer(h)
	defer ts.Close()
	c := newTestClient(t, ts.URL, nil)

	var out struct {
		ID    string `json:"id"`
		Count int    `json:"count"`
	}
	if err := c.Get(context.Background(), "/runs/", nil, &out); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if out.ID != "abc" || out.Count != 3 {
		t.Errorf("decoded %+v", out)
	}
	if got := atomic.LoadInt32(n); got != 4 {
		t.Errorf("server saw %d requests, want 4", got)
	}
	want := []time.Duration{666667 * time.Microsecond, 1333333 * time.Microsecond, 2666667 * time.Microsecond}
	if !durationsNear(c.timer.sleeps, want, time.Millisecond) {
		t.Errorf("sleeps got %v want %v", c.timer.sleeps, want)
	}
	if got := testutil.ToFloat64(c.metrics.Attempts.WithLabelValues(c.host, "retry")); got != 3 {
		t.Errorf("retry attempts metric got %v want 3", got)
	}
	if got := testutil.ToFloat64(c.metrics.Attempts.WithLabelValues(c.host, "ok")); got != 1 {
		t.Errorf("ok attempts metric got %v want 1", got)
	}
	if got := testutil.ToFloat64(c.metrics.Retries.WithLabelValues(c.host)); got != 3 {
		t.Errorf("retries metric got %v want 3", got)
	}
}

func TestTooManyRequestsIsRetried(t *testing.T) {
	h, n := statusSequence([]int{429}, `{}`)
	ts := httptest.NewServer(h)
	defer ts.Close()
	c := newTestClient(t, ts.URL, nil)

	if err := c.Get(context.Background(), "/x", nil, nil); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got := atomic.LoadInt32(n); got != 2 {
		t.Errorf("server saw %d requests, want 2", got)
	}
	if len(c.timer.sleeps) != 1 {
		t.Errorf("sleeps got %v want one", c.timer.sleeps)
	}
}

func TestNonRetryableStatus(t *testing.T) {
	var n int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&n, 1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"description":"bad sha"}`))
	}))
	defer ts.Close()
	c := newTestClient(t, ts.URL, nil)

	err := c.Get(context.Background(), "/runs/", url.Values{"sha": {"nope"}}, nil)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("Get error = %v, want *StatusError", err)
	}
	if se.StatusCode != http.StatusBadRequest || se.Expected != http.StatusOK {
		t.Errorf("StatusError got %d (expected %d)", se.StatusCode, se.Expected)
	}
	if string(se.Body) != `{"description":"bad sha"}` {
		t.Errorf("StatusError body got %q", se.Body)
	}
	if got := atomic.LoadInt32(&n); got != 1 {
		t.Errorf("server saw %d requests, want 1", got)
	}
	if len(c.timer.sleeps) != 0 {
		t.Errorf("sleeps got %v want none", c.timer.sleeps)
	}
	if got := testutil.ToFloat64(c.metrics.Attempts.WithLabelValues(c.host, "error")); got != 1 {
		t.Errorf("error attempts metric got %v want 1", got)
	}
}

func TestDeadline(t *testing.T) {
	h, n := statusSequence([]int{503, 503, 503, 503, 503, 503, 503, 503, 503, 503}, `{}`)
	ts := httptest.NewServer(h)
	defer ts.Close()
	c := newTestClient(t, ts.URL, func(o *Options) { o.RetryFor = 5 * time.Second })

	err := c.Get(context.Background(), "/slow", nil, nil)
	var de *DeadlineError
	if !errors.As(err, &de) {
		t.Fatalf("Get error = %v, want *DeadlineError", err)
	}
	// Waits 0.67s, 1.33s, 2.67s, then the remaining 0.33s; one last
	// attempt at the deadline.
	if de.Attempts != 5 {
		t.Errorf("Attempts got %d want 5", de.Attempts)
	}
	if got := atomic.LoadInt32(n); got != 5 {
		t.Errorf("server saw %d requests, want 5", got)
	}
	if de.Elapsed != 5*time.Second {
		t.Errorf("Elapsed got %v want 5s", de.Elapsed)
	}
	var total time.Duration
	for _, d := range c.timer.sleeps {
		total += d
	}
	if total != 5*time.Second {
		t.Errorf("slept %v in total, want 5s (sleeps %v)", total, c.timer.sleeps)
	}
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("DeadlineError.Last = %v, want 503 *StatusError", de.Last)
	}
}

func TestConnectionErrorRetried(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	base := ts.URL
	ts.Close()
	c := newTestClient(t, base, func(o *Options) { o.RetryFor = 2 * time.Second })

	err := c.Get(context.Background(), "/", nil, nil)
	var de *DeadlineError
	if !errors.As(err, &de) {
		t.Fatalf("Get error = %v, want *DeadlineError", err)
	}
	if de.Attempts < 2 {
		t.Errorf("Attempts got %d want at least 2", de.Attempts)
	}
	var se *StatusError
	if errors.As(err, &se) {
		t.Errorf("Last = %v, want a transport error", de.Last)
	}
}

func TestContextCanceled(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	defer ts.Close()
	c := newTestClient(t, ts.URL, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.Get(ctx, "/", nil, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Get error = %v, want context.Canceled", err)
	}
}

func TestUnauthorizedWithoutLogin(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer ts.Close()
	c := newTestClient(t, ts.URL, nil)

	err := c.Get(context.Background(), "/", nil, nil)
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Get error = %v, want ErrUnauthorized", err)
	}
	var le *LoginError
	if errors.As(err, &le) {
		t.Errorf("Get error = %v, want no *LoginError without a login", err)
	}
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func cookieLogin(ctx context.Context, c *Client) error {
	return c.LoginRequest(ctx, http.MethodPost, "/login/", credentials{"ci@example.com", "hunter2"}, http.StatusNoContent, nil)
}

// sessionServer issues a session cookie on login. The session held
// by a client expires after expireAfter successful API requests.
type sessionServer struct {
	expireAfter int
	logins      int32
	requests    int32
	session     string
	served      int
}

func (s *sessionServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/login/" {
		var cred credentials
		if err := json.NewDecoder(r.Body).Decode(&cred); err != nil || cred.Password != "hunter2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		n := atomic.AddInt32(&s.logins, 1)
		s.session = "s" + string(rune('0'+n))
		s.served = 0
		http.SetCookie(w, &http.Cookie{Name: "session", Value: s.session, Path: "/"})
		w.WriteHeader(http.StatusNoContent)
		return
	}
	atomic.AddInt32(&s.requests, 1)
	ck, err := r.Cookie("session")
	if err != nil || ck.Value != s.session || (s.expireAfter >= 0 && s.served >= s.expireAfter) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	s.served++
	w.Write([]byte(`{"ok":true}`))
}

func TestReloginOnExpiredSession(t *testing.T) {
	s := &sessionServer{expireAfter: 1}
	ts := httptest.NewServer(s)
	defer ts.Close()
	c := newTestClient(t, ts.URL, func(o *Options) { o.Login = cookieLogin })

	for i := 0; i < 2; i++ {
		var out struct{ OK bool }
		if err := c.Get(context.Background(), "/api/runs/", nil, &out); err != nil {
			t.Fatalf("Get #%d: %v", i, err)
		}
		if !out.OK {
			t.Errorf("Get #%d: decoded %+v", i, out)
		}
	}
	// Initial login, then one more after the session expired.
	if got := atomic.LoadInt32(&s.logins); got != 2 {
		t.Errorf("logins got %d want 2", got)
	}
	if got := atomic.LoadInt32(&s.requests); got != 3 {
		t.Errorf("API requests got %d want 3", got)
	}
	if got := testutil.ToFloat64(c.metrics.Logins.WithLabelValues(c.host, "ok")); got != 2 {
		t.Errorf("logins metric got %v want 2", got)
	}
}

func TestRepeatedUnauthorized(t *testing.T) {
	s := &sessionServer{expireAfter: 0}
	ts := httptest.NewServer(s)
	defer ts.Close()
	c := newTestClient(t, ts.URL, func(o *Options) { o.Login = cookieLogin })

	err := c.Get(context.Background(), "/api/runs/", nil, nil)
	var le *LoginError
	if !errors.As(err, &le) {
		t.Fatalf("Get error = %v, want *LoginError", err)
	}
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("LoginError does not match ErrUnauthorized")
	}
	if got := atomic.LoadInt32(&s.logins); got != 2 {
		t.Errorf("logins got %d want 2", got)
	}
	if got := atomic.LoadInt32(&s.requests); got != 2 {
		t.Errorf("API requests got %d want 2", got)
	}
}

func TestBadCredentials(t *testing.T) {
	for _, code := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		var logins int32
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/login/" {
				atomic.AddInt32(&logins, 1)
				w.WriteHeader(code)
				return
			}
			t.Errorf("unexpected request to %s", r.URL.Path)
		}))
		c := newTestClient(t, ts.URL, func(o *Options) { o.Login = cookieLogin })

		err := c.Get(context.Background(), "/api/runs/", nil, nil)
		var ce *CredentialsError
		if !errors.As(err, &ce) {
			t.Errorf("status %d: Get error = %v, want *CredentialsError", code, err)
		} else if ce.StatusCode != code {
			t.Errorf("status %d: CredentialsError.StatusCode = %d", code, ce.StatusCode)
		}
		if got := atomic.LoadInt32(&logins); got != 1 {
			t.Errorf("status %d: login attempts got %d want 1", code, got)
		}
		if got := testutil.ToFloat64(c.metrics.Logins.WithLabelValues(c.host, "error")); got != 1 {
			t.Errorf("status %d: failed logins metric got %v want 1", code, got)
		}
		ts.Close()
	}
}

func TestRequestShape(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method got %s want POST", r.Method)
		}
		if r.URL.Path != "/api/v1/check-runs" {
			t.Errorf("path got %s", r.URL.Path)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("Content-Type got %q", got)
		}
		if got := r.Header.Get("X-Static"); got != "1" {
			t.Errorf("X-Static got %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "token abc" {
			t.Errorf("Authorization got %q", got)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body["name"] != "bench" {
			t.Errorf("body got %v (%v)", body, err)
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":7}`))
	}))
	defer ts.Close()
	c := newTestClient(t, ts.URL+"/api/v1/", func(o *Options) {
		o.Header = http.Header{"X-Static": {"1"}}
	})
	c.SetHeader("Authorization", "token abc")

	var out struct{ ID int }
	if err := c.Post(context.Background(), "check-runs", map[string]string{"name": "bench"}, http.StatusCreated, &out); err != nil {
		t.Fatal(err)
	}
	if out.ID != 7 {
		t.Errorf("ID got %d want 7", out.ID)
	}
}

func TestNewRejectsBadURL(t *testing.T) {
	for _, base := range []string{"ftp://example.com", "::", "example.com/api"} {
		if _, err := New(base, nil); err == nil {
			t.Errorf("New(%q) succeeded, want error", base)
		}
	}
}

// stallingServer sends headers and the start of a JSON body, then
// stops writing until the client gives up on the request. Requests
// after the first stalls are answered in full.
func stallingServer(t *testing.T, stalls int32) (*httptest.Server, *int32) {
	release := make(chan struct{})
	var n int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if atomic.AddInt32(&n, 1) > stalls {
			w.Write([]byte(`{"a": 1}`))
			return
		}
		w.Write([]byte(`{"a":`))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(ts.Close)
	t.Cleanup(func() { close(release) })
	return ts, &n
}

func TestStalledBodyRetried(t *testing.T) {
	ts, n := stallingServer(t, 1)
	c := newTestClient(t, ts.URL, func(o *Options) { o.ReadTimeout = 100 * time.Millisecond })

	var out struct{ A int }
	if err := c.Get(context.Background(), "/", nil, &out); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if out.A != 1 {
		t.Errorf("got %+v, want A=1", out)
	}
	if got := atomic.LoadInt32(n); got != 2 {
		t.Errorf("server saw %d requests, want 2", got)
	}
	if got := testutil.ToFloat64(c.metrics.Attempts.WithLabelValues(c.host, "retry")); got != 1 {
		t.Errorf("retry attempts metric got %v want 1", got)
	}
}

func TestStalledBodyDeadline(t *testing.T) {
	ts, _ := stallingServer(t, 1<<30)
	c := newTestClient(t, ts.URL, func(o *Options) {
		o.ReadTimeout = 200 * time.Millisecond
		o.RetryFor = 500 * time.Millisecond
		o.Now = time.Now
		o.NewTimer = nil
	})

	done := make(chan error, 1)
	start := time.Now()
	go func() { done <- c.Get(context.Background(), "/", nil, nil) }()
	select {
	case err := <-done:
		var de *DeadlineError
		if !errors.As(err, &de) {
			t.Fatalf("Get error = %v, want *DeadlineError", err)
		}
		if de.Attempts < 2 {
			t.Errorf("Attempts got %d want at least 2", de.Attempts)
		}
		if elapsed := time.Since(start); elapsed > 3*time.Second {
			t.Errorf("Get took %v with a 500ms retry budget", elapsed)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Get still blocked after 5s with a 500ms retry budget")
	}
}

func TestStalledBodyReadTimeoutCause(t *testing.T) {
	ts, _ := stallingServer(t, 1<<30)
	// The fake clock spends the budget only while waiting, so the
	// final attempt ends on the read timeout.
	c := newTestClient(t, ts.URL, func(o *Options) {
		o.ReadTimeout = 50 * time.Millisecond
		o.RetryFor = 2 * time.Second
	})

	err := c.Get(context.Background(), "/", nil, nil)
	var de *DeadlineError
	if !errors.As(err, &de) {
		t.Fatalf("Get error = %v, want *DeadlineError", err)
	}
	if !errors.Is(err, ErrReadTimeout) {
		t.Errorf("Get error = %v, want it to wrap ErrReadTimeout", err)
	}
}
