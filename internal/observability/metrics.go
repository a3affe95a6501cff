package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sessionguard"

// Outcome labels
const (
	OutcomeSuccess            = "success"
	OutcomeInvalidCredentials = "invalid_credentials"
	OutcomeNotEligible        = "not_eligible"
	OutcomeInvalidToken       = "invalid_token"
	OutcomePrincipalGone      = "principal_gone"
	OutcomeUnauthenticated    = "unauthenticated"
	OutcomeError              = "error"
)

// AuthMetrics counts session and authorization outcomes. A nil *AuthMetrics
// is valid and records nothing.
type AuthMetrics struct {
	logins          *prometheus.CounterVec
	refreshes       *prometheus.CounterVec
	authentications *prometheus.CounterVec
	decisions       *prometheus.CounterVec
	gatherer        prometheus.Gatherer
}

// NewAuthMetrics registers the collectors on a fresh registry
func NewAuthMetrics() *AuthMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &AuthMetrics{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Login attempts by outcome.",
		}, []string{"outcome"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refreshes_total",
			Help:      "Refresh attempts by outcome.",
		}, []string{"outcome"}),
		authentications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authentications_total",
			Help:      "Bearer token authentications by outcome.",
		}, []string{"outcome"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authorization_decisions_total",
			Help:      "Authorization guard decisions by check and result.",
		}, []string{"check", "decision"}),
		gatherer: reg,
	}
	reg.MustRegister(m.logins, m.refreshes, m.authentications, m.decisions)

	return m
}

// RecordLogin counts a login attempt
func (m *AuthMetrics) RecordLogin(outcome string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(outcome).Inc()
}

// RecordRefresh counts a refresh attempt
func (m *AuthMetrics) RecordRefresh(outcome string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(outcome).Inc()
}

// RecordAuthentication counts a bearer token authentication
func (m *AuthMetrics) RecordAuthentication(outcome string) {
	if m == nil {
		return
	}
	m.authentications.WithLabelValues(outcome).Inc()
}

// RecordDecision counts an ownership, tenancy or role decision
func (m *AuthMetrics) RecordDecision(check string, allowed bool) {
	if m == nil {
		return
	}
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	m.decisions.WithLabelValues(check, decision).Inc()
}

// Gatherer exposes the underlying registry
func (m *AuthMetrics) Gatherer() prometheus.Gatherer {
	return m.gatherer
}

// Handler serves the registry in the Prometheus exposition format
func (m *AuthMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
