// Package metrics exposes the PitCrew Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pitcrew"

// Oracle call outcomes.
const (
	OracleSuccess  = "success"
	OracleFallback = "fallback"
)

var (
	incidentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "incidents_total",
			Help:      "Incident control loop invocations, partitioned by terminal state.",
		},
		[]string{"final_status"},
	)

	incidentDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "incident_seconds",
			Help:      "Wall time from detection to terminal state.",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
		},
	)

	healthChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "health_checks_total",
			Help:      "Target health checks by raw status.",
		},
		[]string{"status"},
	)

	oracleCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oracle_calls_total",
			Help:      "Reasoning oracle invocations by outcome.",
		},
		[]string{"outcome"},
	)

	oracleDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "oracle_seconds",
			Help:      "Reasoning oracle latency in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 120},
		},
	)

	policyDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "policy_decisions_total",
			Help:      "Policy evaluations by rule and decision.",
		},
		[]string{"rule_id", "decision"},
	)

	overrideAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "override_attempts_total",
			Help:      "Override attempts by decision.",
		},
		[]string{"decision"},
	)

	remediationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remediations_total",
			Help:      "Remediation runs by verified outcome.",
		},
		[]string{"outcome"},
	)
)

// Register attaches PitCrew collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		incidentsTotal,
		incidentDurationSeconds,
		healthChecksTotal,
		oracleCallsTotal,
		oracleDurationSeconds,
		policyDecisionsTotal,
		overrideAttemptsTotal,
		remediationsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveIncident records a terminal state and, when the incident was
// detected, its duration.
func ObserveIncident(finalStatus string, duration time.Duration) {
	incidentsTotal.WithLabelValues(finalStatus).Inc()
	if duration > 0 {
		incidentDurationSeconds.Observe(duration.Seconds())
	}
}

// ObserveHealthCheck counts a health check by its raw status.
func ObserveHealthCheck(status string) {
	if status == "" {
		status = "EMPTY"
	}
	healthChecksTotal.WithLabelValues(status).Inc()
}

// ObserveOracle records one oracle call.
func ObserveOracle(duration time.Duration, outcome string) {
	if outcome != OracleFallback {
		outcome = OracleSuccess
	}
	oracleCallsTotal.WithLabelValues(outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	oracleDurationSeconds.Observe(duration.Seconds())
}

// ObservePolicyDecision counts a policy evaluation.
func ObservePolicyDecision(ruleID, decision string) {
	policyDecisionsTotal.WithLabelValues(ruleID, decision).Inc()
}

// ObserveOverride counts an override attempt.
func ObserveOverride(decision string) {
	overrideAttemptsTotal.WithLabelValues(decision).Inc()
}

// ObserveRemediation counts a remediation by whether the target recovered.
func ObserveRemediation(healed bool) {
	outcome := "still_unhealthy"
	if healed {
		outcome = "healed"
	}
	remediationsTotal.WithLabelValues(outcome).Inc()
}
