package core

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Dicklesworthstone/hitl/internal/config"
	"github.com/Dicklesworthstone/hitl/internal/db"
	"github.com/Dicklesworthstone/hitl/internal/utils"
	"github.com/charmbracelet/log"
)

// QueuedEntry is the live-queue view of a decision awaiting review.
type QueuedEntry struct {
	Decision         db.Decision `json:"decision" yaml:"decision"`
	Priority         int         `json:"priority" yaml:"priority"`
	Deadline         time.Time   `json:"deadline" yaml:"deadline"`
	AssignedOperator string      `json:"assigned_operator,omitempty" yaml:"assigned_operator,omitempty"`
}

func entryFor(d db.Decision) QueuedEntry {
	return QueuedEntry{
		Decision:         d,
		Priority:         d.RiskLevel.Priority(),
		Deadline:         d.LevelDeadline,
		AssignedOperator: d.AssignedOperator,
	}
}

// PendingFilter narrows PeekPending. Zero values match everything.
type PendingFilter struct {
	// OperatorID keeps entries assigned to this operator plus unassigned ones.
	OperatorID string
	RiskLevel  db.RiskLevel
}

func (f PendingFilter) matches(e QueuedEntry) bool {
	if f.OperatorID != "" && e.AssignedOperator != "" && e.AssignedOperator != f.OperatorID {
		return false
	}
	if f.RiskLevel != "" && e.Decision.RiskLevel != f.RiskLevel {
		return false
	}
	return true
}

// slot owns one live decision. mu serializes every mutation of the decision; snap is the
// immutable snapshot readers load without taking mu.
type slot struct {
	mu   sync.Mutex
	snap atomic.Pointer[QueuedEntry]
	// overtaken is the persisted status another writer moved the decision to.
	// Guarded by mu; a non-empty value retires the slot.
	overtaken db.Status
}

// QueueOptions configures a DecisionQueue.
type QueueOptions struct {
	Clock  func() time.Time
	Logger *log.Logger
	// OnApproved runs once per decision that reaches approved, after the transition is durable.
	OnApproved func(ctx context.Context, d db.Decision)
}

// DecisionQueue holds decisions awaiting human review.
//
// Lock order is slot.mu then DecisionQueue.mu; mu only guards the live map.
type DecisionQueue struct {
	mu   sync.RWMutex
	live map[string]*slot

	trail      *AuditTrail
	sla        config.SLAConfig
	now        func() time.Time
	logger     *log.Logger
	onApproved func(ctx context.Context, d db.Decision)
}

// NewDecisionQueue returns an empty queue recording into trail.
func NewDecisionQueue(trail *AuditTrail, sla config.SLAConfig, opts QueueOptions) *DecisionQueue {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = utils.WithPrefix("queue")
	}
	return &DecisionQueue{
		live:       make(map[string]*slot),
		trail:      trail,
		sla:        sla,
		now:        func() time.Time { return clock().UTC() },
		logger:     logger,
		onApproved: opts.OnApproved,
	}
}

// SLAFor returns the review SLA for a risk level. Unknown levels get the critical SLA.
func (q *DecisionQueue) SLAFor(level db.RiskLevel) time.Duration {
	mins := q.sla.CriticalMins
	switch level {
	case db.RiskHigh:
		mins = q.sla.HighMins
	case db.RiskMedium:
		mins = q.sla.MediumMins
	case db.RiskLow:
		mins = q.sla.LowMins
	}
	return time.Duration(mins) * time.Minute
}

// Enqueue moves a pending decision into the live queue.
func (q *DecisionQueue) Enqueue(ctx context.Context, d db.Decision) (QueuedEntry, error) {
	if strings.TrimSpace(d.ID) == "" {
		return QueuedEntry{}, db.Validationf("id", "is required")
	}
	if d.Status == "" {
		d.Status = db.StatusPending
	}
	if !d.RiskLevel.Valid() {
		return QueuedEntry{}, db.Validationf("risk_level", "unknown level %q", d.RiskLevel)
	}

	s := &slot{}
	s.mu.Lock()
	defer s.mu.Unlock()

	q.mu.Lock()
	if _, exists := q.live[d.ID]; exists {
		q.mu.Unlock()
		return QueuedEntry{}, &db.DuplicateDecisionError{DecisionID: d.ID}
	}
	if _, known := q.trail.Latest(d.ID); known {
		q.mu.Unlock()
		return QueuedEntry{}, &db.DuplicateDecisionError{DecisionID: d.ID}
	}
	q.live[d.ID] = s
	q.mu.Unlock()

	release := func() {
		q.mu.Lock()
		if q.live[d.ID] == s {
			delete(q.live, d.ID)
		}
		q.mu.Unlock()
	}

	if err := db.CheckTransition(d.ID, d.Status, db.StatusQueued); err != nil {
		release()
		return QueuedEntry{}, err
	}

	now := q.now()
	next := d.Clone()
	if next.CreatedAt.IsZero() {
		next.CreatedAt = now
	}
	next.Status = db.StatusQueued
	next.SLADeadline = next.CreatedAt.Add(q.SLAFor(next.RiskLevel))
	next.LevelDeadline = next.SLADeadline
	next.EscalationLevel = 0

	entry := db.NewAuditEntry(next, db.EventQueued, db.ActorSystem, d.Status, db.StatusQueued, "")
	tr := db.Transition{DecisionID: next.ID, From: d.Status, To: db.StatusQueued, At: now, Decision: next}
	if _, err := q.trail.commit(ctx, &tr, entry); err != nil {
		release()
		return QueuedEntry{}, duplicateIfPersisted(d.ID, err)
	}

	qe := entryFor(next)
	s.snap.Store(&qe)
	q.logger.Debug("decision queued", "decision_id", next.ID, "risk_level", next.RiskLevel, "sla_deadline", next.SLADeadline)
	return cloneEntry(qe), nil
}

// Approve resolves a live decision as approved by operatorID.
func (q *DecisionQueue) Approve(ctx context.Context, id, operatorID, notes string) (db.AuditEntry, error) {
	if strings.TrimSpace(operatorID) == "" {
		return db.AuditEntry{}, db.Validationf("operator_id", "is required")
	}
	entry, _, err := q.apply(ctx, id, db.StatusApproved, operatorID, func(d db.Decision, _ time.Time) (step, error) {
		d.Status = db.StatusApproved
		return step{next: d, notes: notes}, nil
	})
	return entry, err
}

// Reject resolves a live decision as rejected by operatorID. A reason is required.
func (q *DecisionQueue) Reject(ctx context.Context, id, operatorID, reason string) (db.AuditEntry, error) {
	if strings.TrimSpace(operatorID) == "" {
		return db.AuditEntry{}, db.Validationf("operator_id", "is required")
	}
	if strings.TrimSpace(reason) == "" {
		return db.AuditEntry{}, db.Validationf("reason", "is required to reject a decision")
	}
	entry, _, err := q.apply(ctx, id, db.StatusRejected, operatorID, func(d db.Decision, _ time.Time) (step, error) {
		d.Status = db.StatusRejected
		return step{next: d, notes: reason}, nil
	})
	return entry, err
}

// Assign records operatorID as the owner of a live decision.
func (q *DecisionQueue) Assign(ctx context.Context, id, operatorID string) (db.AuditEntry, error) {
	if strings.TrimSpace(operatorID) == "" {
		return db.AuditEntry{}, db.Validationf("operator_id", "is required")
	}
	entry, _, err := q.apply(ctx, id, "", operatorID, func(d db.Decision, _ time.Time) (step, error) {
		d.AssignedOperator = operatorID
		return step{next: d, event: db.EventAssigned, notes: "assigned to " + operatorID}, nil
	})
	return entry, err
}

// Count returns the number of live entries.
func (q *DecisionQueue) Count() int {
	n := 0
	q.mu.RLock()
	for _, s := range q.live {
		if e := s.snap.Load(); e != nil && e.Decision.Status.IsLive() {
			n++
		}
	}
	q.mu.RUnlock()
	return n
}

// Get returns the live entry for id.
func (q *DecisionQueue) Get(id string) (QueuedEntry, bool) {
	q.mu.RLock()
	s := q.live[id]
	q.mu.RUnlock()
	if s == nil {
		return QueuedEntry{}, false
	}
	e := s.snap.Load()
	if e == nil || !e.Decision.Status.IsLive() {
		return QueuedEntry{}, false
	}
	return cloneEntry(*e), true
}

// PeekPending yields live entries by priority, then deadline, creation time and id. Each
// iteration reads a fresh snapshot; nothing is locked while the caller consumes it.
func (q *DecisionQueue) PeekPending(filter PendingFilter) iter.Seq[QueuedEntry] {
	return func(yield func(QueuedEntry) bool) {
		for _, e := range q.sorted(filter) {
			if !yield(e) {
				return
			}
		}
	}
}

// Snapshot returns every live entry in PeekPending order.
func (q *DecisionQueue) Snapshot() []QueuedEntry {
	return q.sorted(PendingFilter{})
}

func (q *DecisionQueue) sorted(filter PendingFilter) []QueuedEntry {
	q.mu.RLock()
	out := make([]QueuedEntry, 0, len(q.live))
	for _, s := range q.live {
		e := s.snap.Load()
		if e == nil || !e.Decision.Status.IsLive() || !filter.matches(*e) {
			continue
		}
		out = append(out, cloneEntry(*e))
	}
	q.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.Deadline.Equal(b.Deadline) {
			return a.Deadline.Before(b.Deadline)
		}
		if !a.Decision.CreatedAt.Equal(b.Decision.CreatedAt) {
			return a.Decision.CreatedAt.Before(b.Decision.CreatedAt)
		}
		return a.Decision.ID < b.Decision.ID
	})
	return out
}

func cloneEntry(e QueuedEntry) QueuedEntry {
	e.Decision = e.Decision.Clone()
	return e
}

// step is the change a planner wants applied to a decision.
type step struct {
	next  db.Decision
	event db.EventType // empty: derived from next.Status
	actor string       // overrides the caller's actor when set
	notes string
}

// planFunc computes a step from a private copy of the current decision. Returning
// errNotDue abandons the mutation without recording anything.
type planFunc func(cur db.Decision, now time.Time) (step, error)

var errNotDue = errors.New("decision not due")

// apply serializes a mutation on the decision's slot and commits it through the trail.
// intent is the status the caller is trying to reach; empty means no status change.
func (q *DecisionQueue) apply(ctx context.Context, id string, intent db.Status, actor string, plan planFunc) (db.AuditEntry, db.Decision, error) {
	q.mu.RLock()
	s := q.live[id]
	q.mu.RUnlock()
	if s == nil {
		return db.AuditEntry{}, db.Decision{}, q.refuseMissing(ctx, id, intent, actor)
	}

	s.mu.Lock()
	entry, d, err := q.applyLocked(ctx, s, id, intent, actor, plan)
	s.mu.Unlock()

	if err == nil && d.Status == db.StatusApproved && q.onApproved != nil {
		q.onApproved(ctx, d.Clone())
	}
	return entry, d, err
}

func (q *DecisionQueue) applyLocked(ctx context.Context, s *slot, id string, intent db.Status, actor string, plan planFunc) (db.AuditEntry, db.Decision, error) {
	cur := s.snap.Load()
	if cur == nil {
		return db.AuditEntry{}, db.Decision{}, &db.NotFoundError{DecisionID: id}
	}
	if s.overtaken != "" {
		return db.AuditEntry{}, db.Decision{}, q.refuse(ctx, overtakenAs(cur.Decision, s.overtaken), intent, actor)
	}
	from := cur.Decision.Status
	if !from.IsLive() {
		return db.AuditEntry{}, db.Decision{}, q.refuse(ctx, cur.Decision, intent, actor)
	}

	now := q.now()
	st, err := plan(cur.Decision.Clone(), now)
	if err != nil {
		return db.AuditEntry{}, db.Decision{}, err
	}
	if st.actor != "" {
		actor = st.actor
	}
	to := st.next.Status
	event := st.event
	if event == "" {
		if err := db.CheckTransition(id, from, to); err != nil {
			return db.AuditEntry{}, db.Decision{}, q.refuse(ctx, cur.Decision, to, actor)
		}
		var ok bool
		if event, ok = db.EventForStatus(to); !ok {
			return db.AuditEntry{}, db.Decision{}, fmt.Errorf("decision %s: no audit event for status %s", id, to)
		}
	}

	entry := db.NewAuditEntry(st.next, event, actor, from, to, st.notes)
	tr := db.Transition{DecisionID: id, From: from, To: to, At: now, Decision: st.next}
	recorded, err := q.trail.commit(ctx, &tr, entry)
	var stale *db.InvalidTransitionError
	if errors.As(err, &stale) {
		// Another writer on the same store moved the decision first. This
		// process no longer owns an accurate view of it, so retire the slot.
		s.overtaken = stale.From
		q.retire(id, s)
		q.logger.Warn("decision changed by another writer",
			"decision_id", id, "persisted_status", stale.From, "attempted", to, "actor", actor)
		return db.AuditEntry{}, db.Decision{}, q.refuse(ctx, overtakenAs(cur.Decision, stale.From), to, actor)
	}
	if err != nil {
		return db.AuditEntry{}, db.Decision{}, err
	}

	qe := entryFor(st.next)
	s.snap.Store(&qe)
	if to.IsTerminal() {
		q.retire(id, s)
	}
	return recorded, st.next.Clone(), nil
}

func (q *DecisionQueue) retire(id string, s *slot) {
	q.mu.Lock()
	if q.live[id] == s {
		delete(q.live, id)
	}
	q.mu.Unlock()
}

func overtakenAs(d db.Decision, persisted db.Status) db.Decision {
	d = d.Clone()
	d.Status = persisted
	return d
}

// duplicateIfPersisted maps a store refusal of a pending -> * transition to a duplicate id.
func duplicateIfPersisted(id string, err error) error {
	if errors.Is(err, db.ErrInvalidTransition) {
		return &db.DuplicateDecisionError{DecisionID: id}
	}
	return err
}

// refuseMissing handles a mutation on a decision that is not live: unknown ids are
// NotFound, resolved ones are refused transitions.
func (q *DecisionQueue) refuseMissing(ctx context.Context, id string, intent db.Status, actor string) error {
	d, ok := q.trail.Latest(id)
	if !ok {
		return &db.NotFoundError{DecisionID: id}
	}
	return q.refuse(ctx, d, intent, actor)
}

// refuse audits an illegal transition attempt and returns the matching error.
func (q *DecisionQueue) refuse(ctx context.Context, d db.Decision, intent db.Status, actor string) error {
	if intent == "" {
		intent = d.Status
	}
	terr := &db.InvalidTransitionError{DecisionID: d.ID, From: d.Status, To: intent}
	entry := db.NewAuditEntry(d, db.EventTransitionRejected, actor, d.Status, intent, terr.Error())
	if _, err := q.trail.Append(ctx, entry); err != nil {
		q.logger.Error("recording refused transition", "decision_id", d.ID, "error", err)
	}
	return terr
}

// restore rebuilds the live queue from a transition log.
func (q *DecisionQueue) restore(transitions []db.Transition) error {
	latest := make(map[string]db.Decision)
	for _, tr := range transitions {
		latest[tr.DecisionID] = tr.Decision
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.live) > 0 {
		return ErrStateNotEmpty
	}
	for id, d := range latest {
		if !d.Status.IsLive() {
			continue
		}
		s := &slot{}
		qe := entryFor(d.Clone())
		s.snap.Store(&qe)
		q.live[id] = s
	}
	return nil
}
