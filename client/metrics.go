// Copyright 2022 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package client

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts the work done by one or more Clients. A nil
// *Metrics records nothing.
type Metrics struct {
	Attempts *prometheus.CounterVec   // by host and outcome
	Retries  *prometheus.CounterVec   // by host
	Logins   *prometheus.CounterVec   // by host and result
	Latency  *prometheus.HistogramVec // attempt latency by host
}

// NewMetrics creates Metrics registered with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Attempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "benchalert",
			Subsystem: "http",
			Name:      "attempts_total",
			Help:      "HTTP request attempts by outcome (ok, retry, unauthorized, error).",
		}, []string{"host", "outcome"}),
		Retries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "benchalert",
			Subsystem: "http",
			Name:      "retries_total",
			Help:      "Backoff waits taken before retrying a request.",
		}, []string{"host"}),
		Logins: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "benchalert",
			Subsystem: "http",
			Name:      "logins_total",
			Help:      "Logins performed, by result.",
		}, []string{"host", "result"}),
		Latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "benchalert",
			Subsystem: "http",
			Name:      "attempt_duration_seconds",
			Help:      "Duration of individual HTTP attempts.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"host"}),
	}
}

func (m *Metrics) attempt(host, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Attempts.WithLabelValues(host, outcome).Inc()
	m.Latency.WithLabelValues(host).Observe(d.Seconds())
}

func (m *Metrics) retry(host string) {
	if m == nil {
		return
	}
	m.Retries.WithLabelValues(host).Inc()
}

func (m *Metrics) login(host string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Logins.WithLabelValues(host, result).Inc()
}
