// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sokoni Contributors

package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sokoni/sokoni/internal/auth"
	"github.com/sokoni/sokoni/internal/httpapi"
	"github.com/sokoni/sokoni/internal/session"
)

// Metrics holds the application counters. It is the recorder for the auth
// service, the HTTP router and the session sweeper.
type Metrics struct {
	AuthRequests  *prometheus.CounterVec
	HTTPRequests  *prometheus.CounterVec
	SessionsSwept prometheus.Counter
	SweepFailures prometheus.Counter
	SweepsTotal   prometheus.Counter
}

var (
	_ auth.Recorder         = (*Metrics)(nil)
	_ httpapi.Recorder      = (*Metrics)(nil)
	_ session.SweepObserver = (*Metrics)(nil)
)

// NewMetrics creates the counters and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AuthRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sokoni_auth_requests_total",
			Help: "Auth operations by operation and outcome",
		}, []string{"operation", "outcome"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sokoni_http_requests_total",
			Help: "HTTP requests by route pattern and status code",
		}, []string{"route", "status"}),
		SessionsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sokoni_sessions_swept_total",
			Help: "Expired sessions removed by the sweeper",
		}),
		SweepFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sokoni_session_sweep_failures_total",
			Help: "Session sweeps that failed",
		}),
		SweepsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sokoni_session_sweeps_total",
			Help: "Session sweeps attempted",
		}),
	}
	reg.MustRegister(m.AuthRequests, m.HTTPRequests, m.SessionsSwept, m.SweepFailures, m.SweepsTotal)
	return m
}

// RecordAuth implements auth.Recorder.
func (m *Metrics) RecordAuth(operation string, outcome auth.Outcome) {
	m.AuthRequests.WithLabelValues(operation, outcome.String()).Inc()
}

// RecordHTTP implements httpapi.Recorder.
func (m *Metrics) RecordHTTP(route string, status int) {
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

// ObserveSweep implements session.SweepObserver.
func (m *Metrics) ObserveSweep(deleted int64, err error) {
	m.SweepsTotal.Inc()
	if err != nil {
		m.SweepFailures.Inc()
		return
	}
	m.SessionsSwept.Add(float64(deleted))
}
