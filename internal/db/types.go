// Package db holds the persisted domain types for hitl and the SQLite backing store.
package db

import (
	"maps"
	"time"
)

// RiskLevel is the coarse risk classification derived from the overall risk score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Priority returns the queue priority bucket for the level (critical highest).
func (r RiskLevel) Priority() int {
	switch r {
	case RiskCritical:
		return 3
	case RiskHigh:
		return 2
	case RiskMedium:
		return 1
	case RiskLow:
		return 0
	default:
		// Unknown levels sort with critical so they get looked at first.
		return 3
	}
}

// Valid reports whether r is one of the known levels.
func (r RiskLevel) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// AutomationLevel is the policy tier governing whether an action may run without review.
type AutomationLevel string

const (
	AutomationFull       AutomationLevel = "full"
	AutomationSupervised AutomationLevel = "supervised"
	AutomationAdvisory   AutomationLevel = "advisory"
	AutomationManual     AutomationLevel = "manual"
)

// Status is the lifecycle state of a decision.
type Status string

const (
	StatusPending      Status = "pending"
	StatusAutoExecuted Status = "auto_executed"
	StatusQueued       Status = "queued"
	StatusApproved     Status = "approved"
	StatusRejected     Status = "rejected"
	StatusExpired      Status = "expired"
	StatusEscalated    Status = "escalated"
)

// IsTerminal reports whether no further transition is legal from s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusAutoExecuted, StatusApproved, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// IsLive reports whether a decision in status s belongs in the live queue.
func (s Status) IsLive() bool {
	return s == StatusQueued || s == StatusEscalated
}

// EventType classifies an audit entry.
type EventType string

const (
	EventAutoExecuted EventType = "auto_executed"
	EventQueued       EventType = "queued"
	EventApproved     EventType = "approved"
	EventRejected     EventType = "rejected"
	EventEscalated    EventType = "escalated"
	EventExpired      EventType = "expired"
	EventAssigned     EventType = "assigned"
	// EventTransitionRejected records an attempted transition that was refused.
	EventTransitionRejected EventType = "transition_rejected"
)

// EventForStatus maps a target status to the audit event recorded for it.
func EventForStatus(s Status) (EventType, bool) {
	switch s {
	case StatusAutoExecuted:
		return EventAutoExecuted, true
	case StatusQueued:
		return EventQueued, true
	case StatusApproved:
		return EventApproved, true
	case StatusRejected:
		return EventRejected, true
	case StatusEscalated:
		return EventEscalated, true
	case StatusExpired:
		return EventExpired, true
	}
	return "", false
}

// ActorSystem is the actor recorded for transitions made without operator input.
const ActorSystem = "system"

// RiskFactors is the vector of risk sub-scores combined into the overall score.
// Every field is a risk contribution in [0,1]; higher means riskier.
type RiskFactors struct {
	Severity          float64 `json:"severity"`
	TargetCriticality float64 `json:"target_criticality"`
	Reversibility     float64 `json:"reversibility"`
	ImpactScope       float64 `json:"impact_scope"`
	HistoricalSuccess float64 `json:"historical_success"`
	TimeSensitivity   float64 `json:"time_sensitivity"`
	Confidence        float64 `json:"confidence"`
}

// EscalationHop records one step up the escalation ladder.
type EscalationHop struct {
	Level    int       `json:"level"`
	Name     string    `json:"name"`
	Target   string    `json:"target"`
	At       time.Time `json:"at"`
	Deadline time.Time `json:"deadline"`
}

// Decision is the central entity: one proposed action and its routing state.
type Decision struct {
	ID               string          `json:"id"`
	ActionType       string          `json:"action_type"`
	Context          map[string]any  `json:"context"`
	Confidence       float64         `json:"confidence"`
	RiskScore        float64         `json:"risk_score"`
	RiskLevel        RiskLevel       `json:"risk_level"`
	AutomationLevel  AutomationLevel `json:"automation_level"`
	Factors          RiskFactors     `json:"factors"`
	Status           Status          `json:"status"`
	CreatedAt        time.Time       `json:"created_at"`
	SLADeadline      time.Time       `json:"sla_deadline"`
	EscalationLevel  int             `json:"escalation_level"`
	LevelDeadline    time.Time       `json:"level_deadline"`
	AssignedOperator string          `json:"assigned_operator,omitempty"`
	Escalations      []EscalationHop `json:"escalations,omitempty"`
}

// Clone returns a deep copy safe to hand to other goroutines.
func (d Decision) Clone() Decision {
	out := d
	out.Context = maps.Clone(d.Context)
	if out.Context == nil {
		out.Context = map[string]any{}
	}
	if d.Escalations != nil {
		out.Escalations = append([]EscalationHop(nil), d.Escalations...)
	}
	return out
}

// AuditEntry is an immutable record of one event in a decision's life.
type AuditEntry struct {
	ID         string    `json:"id"`
	DecisionID string    `json:"decision_id"`
	EventType  EventType `json:"event_type"`
	Actor      string    `json:"actor"`
	Timestamp  time.Time `json:"timestamp"`
	FromStatus Status    `json:"from_status,omitempty"`
	ToStatus   Status    `json:"to_status,omitempty"`
	Notes      string    `json:"notes,omitempty"`

	// Frozen decision context at the time of the event.
	ActionType        string          `json:"action_type"`
	RiskLevel         RiskLevel       `json:"risk_level"`
	AutomationLevel   AutomationLevel `json:"automation_level"`
	RiskScore         float64         `json:"risk_score"`
	Confidence        float64         `json:"confidence"`
	DecisionCreatedAt time.Time       `json:"decision_created_at"`
	SLADeadline       time.Time       `json:"sla_deadline"`
	EscalationLevel   int             `json:"escalation_level"`
	Context           map[string]any  `json:"context"`
}

// NewAuditEntry freezes the relevant parts of d into an entry. ID and Timestamp are left to the caller.
func NewAuditEntry(d Decision, event EventType, actor string, from, to Status, notes string) AuditEntry {
	ctx := maps.Clone(d.Context)
	if ctx == nil {
		ctx = map[string]any{}
	}
	return AuditEntry{
		DecisionID:        d.ID,
		EventType:         event,
		Actor:             actor,
		FromStatus:        from,
		ToStatus:          to,
		Notes:             notes,
		ActionType:        d.ActionType,
		RiskLevel:         d.RiskLevel,
		AutomationLevel:   d.AutomationLevel,
		RiskScore:         d.RiskScore,
		Confidence:        d.Confidence,
		DecisionCreatedAt: d.CreatedAt,
		SLADeadline:       d.SLADeadline,
		EscalationLevel:   d.EscalationLevel,
		Context:           ctx,
	}
}

// Transition is one entry of the decision-transition log: the decision state after a
// committed change, keyed by decision id.
type Transition struct {
	Seq        int64     `json:"seq"`
	DecisionID string    `json:"decision_id"`
	From       Status    `json:"from"`
	To         Status    `json:"to"`
	At         time.Time `json:"at"`
	EntryID    string    `json:"entry_id"`
	Decision   Decision  `json:"decision"`
}
