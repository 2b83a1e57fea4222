// Package models defines the core data structures used across PitCrew.
//
// PitCrew is the incident response engine for Open Cloud Ops. It watches a
// single target service, diagnoses failures through a reasoning oracle,
// submits proposed remediations to a governance policy, executes approved
// fixes and records an auditable postmortem. These models represent the
// incident lifecycle and the records it leaves behind.
package models

import (
	"strconv"
	"strings"
	"time"
)

// Severity is the canonical three-level incident severity.
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// Action is the remediation proposed by a diagnosis.
type Action string

const (
	ActionFix      Action = "FIX"
	ActionNoAction Action = "NO_ACTION"
)

// IncidentStatus is a state of the incident lifecycle state machine.
type IncidentStatus string

const (
	StatusIdle              IncidentStatus = "IDLE"
	StatusDetected          IncidentStatus = "DETECTED"
	StatusDiagnosed         IncidentStatus = "DIAGNOSED"
	StatusNoActionClosed    IncidentStatus = "NO_ACTION_CLOSED"
	StatusPolicyEvaluated   IncidentStatus = "POLICY_EVALUATED"
	StatusApprovedExecuting IncidentStatus = "APPROVED_EXECUTING"
	StatusBlocked           IncidentStatus = "BLOCKED"
	StatusVerifiedHealed    IncidentStatus = "VERIFIED_HEALED"
	StatusStillUnhealthy    IncidentStatus = "STILL_UNHEALTHY"
	StatusAwaitingOverride  IncidentStatus = "AWAITING_OVERRIDE"
	StatusReported          IncidentStatus = "REPORTED"
	StatusDenied            IncidentStatus = "DENIED"
)

// Terminal reports whether no further transition can leave the state.
// IDLE is terminal for an invocation that never detected an incident.
func (s IncidentStatus) Terminal() bool {
	switch s {
	case StatusIdle, StatusNoActionClosed, StatusReported, StatusDenied:
		return true
	}
	return false
}

// HealthStatusOK is the only health status value treated as healthy.
const HealthStatusOK = "OK"

// HealthStatusUnreachable is reported when the health endpoint cannot be reached.
const HealthStatusUnreachable = "UNREACHABLE"

// HealthSnapshot is a point-in-time reading of the target's health endpoint.
// Status carries the raw "status" field; Telemetry holds every other field
// the endpoint returned, stringified.
type HealthSnapshot struct {
	Status    string            `json:"status"`
	Telemetry map[string]string `json:"telemetry,omitempty"`
	CheckedAt time.Time         `json:"checked_at"`
}

// Healthy reports whether the snapshot's status is exactly "OK".
func (h HealthSnapshot) Healthy() bool {
	return h.Status == HealthStatusOK
}

// Diagnosis is the typed result of parsing the reasoning oracle's reply.
type Diagnosis struct {
	SeverityRaw string `json:"severity_raw"`
	StatusText  string `json:"status_text"`
	Cause       string `json:"cause"`
	Action      Action `json:"action"`

	// Text is the oracle reply truncated after the ACTION line.
	Text string `json:"text"`
	// Runbook is the guide handed to the oracle, or a retriever sentinel.
	Runbook string `json:"runbook,omitempty"`
	// Excerpt is the salient log text handed to the oracle.
	Excerpt string `json:"excerpt,omitempty"`
	// Fallback is set when the oracle could not be consulted and every
	// field holds its default.
	Fallback bool `json:"fallback,omitempty"`
}

// PolicyDecision is the immutable result of one policy evaluation.
type PolicyDecision struct {
	RiskScore int    `json:"risk_score"`
	RuleID    string `json:"rule_id"`
	Reason    string `json:"reason"`
	Approved  bool   `json:"approved"`
}

// AuditEvent distinguishes the kinds of records in the audit trail.
type AuditEvent string

const (
	AuditEventPolicyEvaluation AuditEvent = "policy_evaluation"
	AuditEventOverrideAttempt  AuditEvent = "override_attempt"
)

// Audit decision values.
const (
	DecisionApproved        = "APPROVED"
	DecisionBlocked         = "BLOCKED"
	DecisionOverrideGranted = "OVERRIDE_GRANTED"
	DecisionOverrideDenied  = "OVERRIDE_DENIED"
	DecisionOverrideTimeout = "OVERRIDE_TIMEOUT"
)

// AuditLogEntry is a single append-only audit record.
type AuditLogEntry struct {
	Timestamp  time.Time  `json:"timestamp" db:"timestamp"`
	IncidentID string     `json:"incident_id" db:"incident_id"`
	Event      AuditEvent `json:"event" db:"event"`
	Target     string     `json:"target,omitempty" db:"target"`
	RiskScore  int        `json:"risk_score" db:"risk_score"`
	RuleID     string     `json:"rule_id" db:"rule_id"`
	Decision   string     `json:"decision" db:"decision"`
}

// PostmortemReport is the immutable record written once per remediated incident.
type PostmortemReport struct {
	IncidentID      string    `json:"incident_id"`
	Service         string    `json:"service"`
	RootCause       string    `json:"root_cause"`
	Resolution      string    `json:"resolution"`
	DetectionTime   time.Time `json:"detection_time"`
	RecoveryTime    time.Time `json:"recovery_time"`
	DurationSeconds float64   `json:"duration_seconds"`
}

// Incident is one detected-unhealthy episode from detection through resolution.
type Incident struct {
	ID             string          `json:"id"`
	Target         string          `json:"target"`
	DetectionTime  time.Time       `json:"detection_time"`
	RecoveryTime   *time.Time      `json:"recovery_time,omitempty"`
	Diagnosis      *Diagnosis      `json:"diagnosis,omitempty"`
	Severity       Severity        `json:"severity,omitempty"`
	Action         Action          `json:"action,omitempty"`
	PolicyDecision *PolicyDecision `json:"policy_decision,omitempty"`
	Status         IncidentStatus  `json:"status"`
}

// Transition records a single state change of an incident.
type Transition struct {
	From IncidentStatus `json:"from"`
	To   IncidentStatus `json:"to"`
	At   time.Time      `json:"at"`
}

// Outcome is the structured decision summary produced by every invocation
// of the incident control loop, whichever terminal state it reached.
type Outcome struct {
	Incident       *Incident       `json:"incident,omitempty"`
	FinalStatus    IncidentStatus  `json:"final_status"`
	Severity       Severity        `json:"severity,omitempty"`
	Action         Action          `json:"action,omitempty"`
	RiskScore      int             `json:"risk_score,omitempty"`
	RuleID         string          `json:"rule_id,omitempty"`
	Approved       bool            `json:"approved"`
	Overridden     bool            `json:"overridden,omitempty"`
	HealthBefore   *HealthSnapshot `json:"health_before,omitempty"`
	HealthAfter    *HealthSnapshot `json:"health_after,omitempty"`
	ReportLocation string          `json:"report_location,omitempty"`
	Transitions    []Transition    `json:"transitions,omitempty"`
	Cancelled      bool            `json:"cancelled,omitempty"`
}

// String renders the outcome as a multi-line operator summary.
func (o Outcome) String() string {
	var b strings.Builder
	b.WriteString("status:   " + string(o.FinalStatus) + "\n")
	if o.Incident != nil {
		b.WriteString("incident: " + o.Incident.ID + " (" + o.Incident.Target + ")\n")
	}
	if o.Severity != "" {
		b.WriteString("severity: " + string(o.Severity) + "\n")
	}
	if o.Action != "" {
		b.WriteString("action:   " + string(o.Action) + "\n")
	}
	if o.RuleID != "" {
		b.WriteString("rule:     " + o.RuleID + "\n")
		b.WriteString("risk:     " + strconv.Itoa(o.RiskScore) + "\n")
		if o.Approved {
			b.WriteString("approval: approved\n")
		} else {
			b.WriteString("approval: blocked\n")
		}
	}
	if o.Overridden {
		b.WriteString("override: granted\n")
	}
	if o.HealthBefore != nil {
		b.WriteString("before:   " + o.HealthBefore.Status + "\n")
	}
	if o.HealthAfter != nil {
		b.WriteString("after:    " + o.HealthAfter.Status + "\n")
	}
	if o.ReportLocation != "" {
		b.WriteString("report:   " + o.ReportLocation + "\n")
	}
	return b.String()
}
