// Package metrics defines and registers all custom Prometheus metrics for the
// portal session core and its sandbox backend. It is the single source of
// truth for metric names, labels, and help strings.
//
// Metrics are registered with the default registry on package init through
// promauto.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "portal"

// ── Session manager ───────────────────────────────────────────────────────────

// SessionOperationsTotal counts settled session manager operations.
// Labels:
//   - operation: "login", "logout", "update_profile", ...
//   - result: "ok" or the failure kind ("network", "validation", ...)
var SessionOperationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "operations_total",
		Help:      "Total number of settled session operations, by operation and result.",
	},
	[]string{"operation", "result"},
)

// SessionOperationDuration measures an operation from call to settled state,
// storage writes included.
var SessionOperationDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "operation_duration_seconds",
		Help:      "Duration of session operations including credential store synchronization.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"operation"},
)

// SessionForcedExpiriesTotal counts forced local logouts.
// Label:
//   - reason: "unauthorized", "revoked" or "storage"
var SessionForcedExpiriesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "forced_expiries_total",
		Help:      "Total number of sessions torn down without an explicit logout.",
	},
	[]string{"reason"},
)

// ── Inbound events ────────────────────────────────────────────────────────────

// EventsProcessedTotal counts inbound events by kind and outcome.
// Label:
//   - result: "ok", "duplicate", "ignored" or "error"
var EventsProcessedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "processed_total",
		Help:      "Total number of inbound push and lifecycle events handled.",
	},
	[]string{"kind", "result"},
)

// EventsQueueDepth tracks events waiting for the dispatcher worker.
var EventsQueueDepth = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "queue_depth",
		Help:      "Current number of inbound events pending in the dispatcher.",
	},
)

// ── Sandbox backend ───────────────────────────────────────────────────────────

// SandboxLoginsTotal counts sandbox login attempts.
// Label:
//   - result: "ok" or "rejected"
var SandboxLoginsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sandbox",
		Name:      "logins_total",
		Help:      "Total number of sandbox login attempts.",
	},
	[]string{"result"},
)

// SandboxRegistrationsTotal counts accounts created on the sandbox, by role.
var SandboxRegistrationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sandbox",
		Name:      "registrations_total",
		Help:      "Total number of sandbox accounts created, by role.",
	},
	[]string{"role"},
)
