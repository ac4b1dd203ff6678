// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TokensIssued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lms",
		Subsystem: "auth",
		Name:      "token_pairs_issued_total",
		Help:      "Credential pairs minted at login, registration, binding or rotation.",
	})

	Rotations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lms",
		Subsystem: "auth",
		Name:      "rotations_total",
		Help:      "Refresh credential rotations by outcome.",
	}, []string{"outcome"})

	RefreshWaiters = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lms",
		Subsystem: "session",
		Name:      "refresh_waiters_total",
		Help:      "Callers that asked for a fresh access token, split by whether they shared an in-flight rotation.",
	}, []string{"shared"})

	ExternalVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lms",
		Subsystem: "binding",
		Name:      "external_verifications_total",
		Help:      "External identity provider verification attempts by outcome.",
	}, []string{"outcome"})

	PolicyDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lms",
		Subsystem: "policy",
		Name:      "decisions_total",
		Help:      "Authorization decisions by entity, action and effect.",
	}, []string{"entity", "action", "effect"})
)
