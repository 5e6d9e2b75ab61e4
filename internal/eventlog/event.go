// Package eventlog implements the append-only, hash-chained record of every
// decision and measurement made by the core. All higher-order views are
// projections over this log.
package eventlog

import (
	"time"

	"github.com/google/uuid"
)

// EventType is the closed vocabulary of recordable events.
type EventType string

const (
	IntentCreated           EventType = "INTENT_CREATED"
	IntentValidated         EventType = "INTENT_VALIDATED"
	IntentBlocked           EventType = "INTENT_BLOCKED"
	IntentRequeued          EventType = "INTENT_REQUEUED"
	IntentRejected          EventType = "INTENT_REJECTED"
	IntentMerged            EventType = "INTENT_MERGED"
	IntentMergeFailed       EventType = "INTENT_MERGE_FAILED"
	IntentDependencyBlocked EventType = "INTENT_DEPENDENCY_BLOCKED"
	SimulationCompleted     EventType = "SIMULATION_COMPLETED"
	CheckCompleted          EventType = "CHECK_COMPLETED"
	RiskEvaluated           EventType = "RISK_EVALUATED"
	RiskLevelReclassified   EventType = "RISK_LEVEL_RECLASSIFIED"
	CoherenceEvaluated      EventType = "COHERENCE_EVALUATED"
	CoherenceInconsistency  EventType = "COHERENCE_INCONSISTENCY"
	CoherenceBaselineUpdate EventType = "COHERENCE_BASELINE_UPDATED"
	PolicyEvaluated         EventType = "POLICY_EVALUATED"
	QueueProcessed          EventType = "QUEUE_PROCESSED"
	SecurityScanStarted     EventType = "SECURITY_SCAN_STARTED"
	SecurityScanCompleted   EventType = "SECURITY_SCAN_COMPLETED"
	SecurityFindingDetected EventType = "SECURITY_FINDING_DETECTED"
	ReviewRequested         EventType = "REVIEW_REQUESTED"
	ReviewAssigned          EventType = "REVIEW_ASSIGNED"
	ReviewCompleted         EventType = "REVIEW_COMPLETED"
	ReviewEscalated         EventType = "REVIEW_ESCALATED"
	ReviewCancelled         EventType = "REVIEW_CANCELLED"
	IntakeAccepted          EventType = "INTAKE_ACCEPTED"
	IntakeThrottled         EventType = "INTAKE_THROTTLED"
	IntakeRejected          EventType = "INTAKE_REJECTED"
	IntakeModeChanged       EventType = "INTAKE_MODE_CHANGED"
	ValidationError         EventType = "VALIDATION_ERROR"
)

// Event is an immutable record of a decision or measurement.
type Event struct {
	ID        string
	TraceID   string
	Timestamp time.Time
	Type      EventType
	IntentID  string
	AgentID   string
	TenantID  string
	Payload   map[string]any
	Evidence  map[string]any
}

// NewID generates a unique event ID.
func NewID() string {
	return uuid.New().String()
}

// New constructs an Event stamped with now and a fresh ID.
func New(traceID string, typ EventType, intentID string, payload, evidence map[string]any, now time.Time) Event {
	return Event{
		ID:        NewID(),
		TraceID:   traceID,
		Timestamp: now,
		Type:      typ,
		IntentID:  intentID,
		Payload:   payload,
		Evidence:  evidence,
	}
}
