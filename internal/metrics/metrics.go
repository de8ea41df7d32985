// Package metrics exposes Prometheus counters for the client core and the
// reference server.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcomes of a vote mutation.
const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
)

// Results of a credential acquisition.
const (
	ResultCached = "cached"
	ResultSigned = "signed"
	ResultFailed = "failed"
)

// Metrics groups the counters. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	votes       *prometheus.CounterVec
	credentials *prometheus.CounterVec
	expirations prometheus.Counter
	requests    *prometheus.CounterVec
}

// New creates the counters and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		votes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "daochan",
			Name:      "votes_total",
			Help:      "Vote mutations by entity kind and outcome.",
		}, []string{"kind", "outcome"}),
		credentials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "daochan",
			Name:      "credential_acquisitions_total",
			Help:      "Credential acquisitions by result.",
		}, []string{"result"}),
		expirations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "daochan",
			Name:      "credential_expirations_total",
			Help:      "Credentials cleared by their expiry timer.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "daochan",
			Name:      "http_requests_total",
			Help:      "Server requests by route pattern and status code.",
		}, []string{"route", "code"}),
	}
	for _, c := range []prometheus.Collector{m.votes, m.credentials, m.expirations, m.requests} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) VoteResolved(kind, outcome string) {
	if m == nil {
		return
	}
	m.votes.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) CredentialAcquired(result string) {
	if m == nil {
		return
	}
	m.credentials.WithLabelValues(result).Inc()
}

func (m *Metrics) CredentialExpired() {
	if m == nil {
		return
	}
	m.expirations.Inc()
}

func (m *Metrics) HTTPRequest(route string, status int) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
}
