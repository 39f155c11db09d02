// Copyright 2022 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package client

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrUnauthorized is returned when a request is rejected with 401 and
// the Client has no login configured to recover with.
var ErrUnauthorized = errors.New("unauthorized")

// ErrReadTimeout is the cause of an attempt abandoned because the
// server sent no response data for longer than the read timeout.
var ErrReadTimeout = errors.New("read timeout")

// errBudgetSpent cancels an attempt still running when the retry
// budget runs out.
var errBudgetSpent = errors.New("retry budget spent")

// maxErrorBody bounds how much of a response body is quoted in error
// messages. The full body is kept in StatusError.Body.
const maxErrorBody = 1000

// A StatusError reports a response whose status code was neither the
// expected one nor retryable. It is never retried.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Expected   int
	Body       []byte
}

func (e *StatusError) Error() string {
	body := string(e.Body)
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody] + "..."
	}
	return fmt.Sprintf("%s %s: got status %d %s, want %d: %s",
		e.Method, e.URL, e.StatusCode, http.StatusText(e.StatusCode), e.Expected, body)
}

// retryable reports whether a response with status code should be
// retried.
func retryable(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// A DeadlineError is returned when a request kept failing with
// retryable errors until its retry budget ran out.
type DeadlineError struct {
	Method   string
	URL      string
	Attempts int
	Elapsed  time.Duration

	// Last is the failure of the final attempt: a transport error
	// or a *StatusError with a retryable status code.
	Last error
}

func (e *DeadlineError) Error() string {
	return fmt.Sprintf("%s %s: giving up after %d attempts in %v: %v",
		e.Method, e.URL, e.Attempts, e.Elapsed.Round(time.Millisecond), e.Last)
}

func (e *DeadlineError) Unwrap() error { return e.Last }

// A LoginError is returned when a request is still rejected with 401
// after a successful re-login.
type LoginError struct {
	Method string
	URL    string
}

func (e *LoginError) Error() string {
	return fmt.Sprintf("%s %s: still unauthorized after logging in again", e.Method, e.URL)
}

func (e *LoginError) Unwrap() error { return ErrUnauthorized }

// A CredentialsError is returned when the login endpoint rejects the
// configured credentials. Retrying cannot help.
type CredentialsError struct {
	URL        string
	StatusCode int
	Body       []byte
}

func (e *CredentialsError) Error() string {
	return fmt.Sprintf("login to %s rejected with status %d: check the configured credentials", e.URL, e.StatusCode)
}

func (e *CredentialsError) Unwrap() error { return ErrUnauthorized }

// transientError marks an attempt failure that the retry loop should
// retry.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }
