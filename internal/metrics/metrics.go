// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Ledger client ──────────────────────────────────────────────────────────

var LedgerRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "familybot",
	Subsystem: "ledger",
	Name:      "requests_total",
	Help:      "Ledger API requests by operation and status code (\"error\" for transport failures).",
}, []string{"op", "code"})

var LedgerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "familybot",
	Subsystem: "ledger",
	Name:      "request_duration_seconds",
	Help:      "Ledger API request latency.",
	Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 15},
}, []string{"op"})

// ─── Payments ───────────────────────────────────────────────────────────────

var PaymentTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "familybot",
	Subsystem: "payment",
	Name:      "transitions_total",
	Help:      "Payment lifecycle operations by operation and result.",
}, []string{"op", "result"})

// ─── Conversation flows ─────────────────────────────────────────────────────

var FlowsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "familybot",
	Subsystem: "flow",
	Name:      "started_total",
	Help:      "Conversation flows started by flow name.",
}, []string{"flow"})

var FlowsEnded = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "familybot",
	Subsystem: "flow",
	Name:      "ended_total",
	Help:      "Conversation flows ended by flow name and outcome (done, cancelled, aborted, panic).",
}, []string{"flow", "outcome"})

var ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "familybot",
	Subsystem: "flow",
	Name:      "active_sessions",
	Help:      "Chat users with an in-memory session.",
})

// ─── Notifications ──────────────────────────────────────────────────────────

var NotificationsQueued = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "familybot",
	Subsystem: "notify",
	Name:      "queued_total",
	Help:      "Counterpart notifications accepted into the outbox.",
})

var NotificationsDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "familybot",
	Subsystem: "notify",
	Name:      "delivered_total",
	Help:      "Notification delivery attempts by result (sent, retry, failed).",
}, []string{"result"})

// ─── Chat transports ────────────────────────────────────────────────────────

var InboundUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "familybot",
	Subsystem: "bot",
	Name:      "updates_total",
	Help:      "Inbound chat updates by platform and kind (text, button, command).",
}, []string{"platform", "kind"})
