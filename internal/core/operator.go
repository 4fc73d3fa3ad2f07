package core

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Dicklesworthstone/hitl/internal/db"
)

// OperatorInterface is the operator-facing surface: the pending list, reviews and metrics.
type OperatorInterface struct {
	queue *DecisionQueue
	trail *AuditTrail
	now   func() time.Time
}

// NewOperatorInterface returns an interface over queue and trail.
func NewOperatorInterface(queue *DecisionQueue, trail *AuditTrail, clock func() time.Time) *OperatorInterface {
	if clock == nil {
		clock = time.Now
	}
	return &OperatorInterface{
		queue: queue,
		trail: trail,
		now:   func() time.Time { return clock().UTC() },
	}
}

// OperatorMetrics summarizes an operator's reviews over a period.
type OperatorMetrics struct {
	OperatorID           string    `json:"operator_id,omitempty" yaml:"operator_id,omitempty"`
	From                 time.Time `json:"from" yaml:"from"`
	To                   time.Time `json:"to" yaml:"to"`
	Reviewed             int       `json:"reviewed" yaml:"reviewed"`
	Approved             int       `json:"approved" yaml:"approved"`
	Rejected             int       `json:"rejected" yaml:"rejected"`
	ApprovalRate         float64   `json:"approval_rate" yaml:"approval_rate"`
	AvgReviewTimeSeconds float64   `json:"avg_review_time_seconds" yaml:"avg_review_time_seconds"`
	SLACompliance        float64   `json:"sla_compliance" yaml:"sla_compliance"`
}

// Dashboard is an operator's view of the queue.
type Dashboard struct {
	OperatorID string          `json:"operator_id" yaml:"operator_id"`
	Pending    []QueuedEntry   `json:"pending" yaml:"pending"`
	Metrics    OperatorMetrics `json:"metrics" yaml:"metrics"`
}

// ReviewOutcome reports what a review did. Applied is false when another actor resolved
// the decision first.
type ReviewOutcome struct {
	Applied bool          `json:"applied"`
	Entry   db.AuditEntry `json:"entry"`
	Status  db.Status     `json:"status"`
	Reason  string        `json:"reason,omitempty"`
}

// Dashboard returns the pending entries visible to operatorID and their last-24h metrics.
func (o *OperatorInterface) Dashboard(operatorID string) Dashboard {
	pending := make([]QueuedEntry, 0)
	for e := range o.queue.PeekPending(PendingFilter{OperatorID: operatorID}) {
		pending = append(pending, e)
	}
	return Dashboard{
		OperatorID: operatorID,
		Pending:    pending,
		Metrics:    o.Metrics(operatorID, 24*time.Hour),
	}
}

// Review approves or rejects a decision on behalf of operatorID. Losing a race to another
// reviewer or to the escalation policy is not an error.
func (o *OperatorInterface) Review(ctx context.Context, id, operatorID string, approve bool, notes string) (ReviewOutcome, error) {
	if strings.TrimSpace(operatorID) == "" {
		return ReviewOutcome{}, db.Validationf("operator_id", "is required")
	}

	var (
		entry db.AuditEntry
		err   error
	)
	if approve {
		entry, err = o.queue.Approve(ctx, id, operatorID, notes)
	} else {
		entry, err = o.queue.Reject(ctx, id, operatorID, notes)
	}

	var terr *db.InvalidTransitionError
	switch {
	case err == nil:
		return ReviewOutcome{Applied: true, Entry: entry, Status: entry.ToStatus}, nil
	case errors.As(err, &terr):
		out := ReviewOutcome{Applied: false, Status: terr.From, Reason: err.Error()}
		if d, ok := o.trail.Latest(id); ok {
			out.Status = d.Status
		}
		return out, nil
	default:
		return ReviewOutcome{}, err
	}
}

// Metrics computes operatorID's review metrics over the trailing period from the audit
// trail. An empty operatorID covers every human reviewer.
func (o *OperatorInterface) Metrics(operatorID string, period time.Duration) OperatorMetrics {
	to := o.now()
	from := to.Add(-period)
	m := OperatorMetrics{OperatorID: operatorID, From: from, To: to, SLACompliance: 1}

	entries := o.trail.Query(AuditFilter{
		From:       from,
		To:         to,
		OperatorID: operatorID,
		EventTypes: []db.EventType{db.EventApproved, db.EventRejected},
	})

	var totalReview time.Duration
	onTime := 0
	for _, e := range entries {
		if e.Actor == db.ActorSystem {
			continue
		}
		m.Reviewed++
		if e.EventType == db.EventApproved {
			m.Approved++
		} else {
			m.Rejected++
		}
		totalReview += e.Timestamp.Sub(e.DecisionCreatedAt)
		if !e.Timestamp.After(e.SLADeadline) {
			onTime++
		}
	}
	if m.Reviewed > 0 {
		m.ApprovalRate = float64(m.Approved) / float64(m.Reviewed)
		m.AvgReviewTimeSeconds = totalReview.Seconds() / float64(m.Reviewed)
		m.SLACompliance = float64(onTime) / float64(m.Reviewed)
	}
	return m
}
