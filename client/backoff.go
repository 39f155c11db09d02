// Copyright 2022 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package client

import (
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// MaxWait caps the wait between two attempts.
const MaxWait = 60 * time.Second

// deadlineBackOff implements backoff.BackOff with the schedule
// min(2^cycle/3, 60) seconds for cycle = 1, 2, ..., so retries start
// fast (0.67s, 1.33s, 2.67s, ...). No wait extends past the deadline
// set by Reset; once it is reached NextBackOff returns backoff.Stop.
type deadlineBackOff struct {
	budget   time.Duration
	now      func() time.Time
	deadline time.Time
	cycle    int
}

func newDeadlineBackOff(budget time.Duration, now func() time.Time) *deadlineBackOff {
	b := &deadlineBackOff{budget: budget, now: now}
	b.Reset()
	return b
}

func (b *deadlineBackOff) Reset() {
	b.cycle = 0
	b.deadline = b.now().Add(b.budget)
}

func (b *deadlineBackOff) NextBackOff() time.Duration {
	b.cycle++
	remaining := b.deadline.Sub(b.now())
	if remaining <= 0 {
		return backoff.Stop
	}
	wait := Wait(b.cycle)
	if wait > remaining {
		wait = remaining
	}
	return wait
}

// Wait returns the wait after the given retry cycle, starting at 1.
func Wait(cycle int) time.Duration {
	secs := math.Min(math.Pow(2, float64(cycle))/3, MaxWait.Seconds())
	return time.Duration(secs * float64(time.Second))
}
