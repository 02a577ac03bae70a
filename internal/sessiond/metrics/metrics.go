// Package metrics exports session lifecycle counters to Prometheus.
package metrics

import (
	"github.com/aussiebroadwan/sessionkit/pkg/authsdk"
	"github.com/prometheus/client_golang/prometheus"
)

// Session counts refreshes and dispatcher retries. It implements
// authsdk.Observer.
type Session struct {
	refreshes *prometheus.CounterVec
	retries   *prometheus.CounterVec
	signIns   *prometheus.CounterVec
}

var _ authsdk.Observer = (*Session)(nil)

func NewSession(reg prometheus.Registerer) *Session {
	m := &Session{
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "session_refresh_total",
			Help: "Access token refreshes by outcome (refreshed, shared, failed, no_session).",
		}, []string{"outcome"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_retries_total",
			Help: "Decisions taken after a 401 from the identity backend.",
		}, []string{"outcome"}),
		signIns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "session_signin_total",
			Help: "Sign-in attempts by method and result.",
		}, []string{"method", "result"}),
	}
	reg.MustRegister(m.refreshes, m.retries, m.signIns)
	return m
}

func (m *Session) ObserveRefresh(outcome authsdk.RefreshOutcome) {
	m.refreshes.WithLabelValues(string(outcome)).Inc()
}

func (m *Session) ObserveRetry(outcome authsdk.RetryOutcome) {
	m.retries.WithLabelValues(string(outcome)).Inc()
}

// ObserveSignIn records one sign-in attempt. method is password, register
// or google.
func (m *Session) ObserveSignIn(method string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.signIns.WithLabelValues(method, result).Inc()
}
