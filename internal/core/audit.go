package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Dicklesworthstone/hitl/internal/db"
	"github.com/google/uuid"
)

// AuditStore is the durable backing of the transition and audit logs. *db.DB implements it.
type AuditStore interface {
	RecordTransition(ctx context.Context, tr db.Transition, entry db.AuditEntry) (bool, error)
	RecordAudit(ctx context.Context, entry db.AuditEntry) (bool, error)
	ListTransitions(ctx context.Context) ([]db.Transition, error)
	ListAuditEntries(ctx context.Context) ([]db.AuditEntry, error)
}

var (
	// ErrStateNotEmpty is returned when replaying logs into a trail or queue that already holds state.
	ErrStateNotEmpty = errors.New("state is not empty")
	// ErrEntryPersisted is returned when the store already holds an entry id this trail has not seen.
	ErrEntryPersisted = errors.New("audit entry already persisted by another writer")
)

// AuditTrail is the append-only record of every decision event. When a store is attached,
// every append is made durable before it becomes visible in memory.
type AuditTrail struct {
	persist     sync.Mutex // serializes store writes; taken before mu
	mu          sync.RWMutex
	entries     []db.AuditEntry
	byID        map[string]int
	byDecision  map[string][]int
	transitions []db.Transition
	latest      map[string]int // decision id -> index into transitions

	store AuditStore
	now   func() time.Time
}

// NewAuditTrail returns an empty trail. store may be nil for an in-memory trail.
func NewAuditTrail(store AuditStore, clock func() time.Time) *AuditTrail {
	if clock == nil {
		clock = time.Now
	}
	return &AuditTrail{
		byID:       make(map[string]int),
		byDecision: make(map[string][]int),
		latest:     make(map[string]int),
		store:      store,
		now:        func() time.Time { return clock().UTC() },
	}
}

// Append records an entry that has no accompanying state change. Appending an entry id
// that is already recorded returns the recorded entry.
func (t *AuditTrail) Append(ctx context.Context, entry db.AuditEntry) (db.AuditEntry, error) {
	if entry.DecisionID == "" {
		return db.AuditEntry{}, db.Validationf("decision_id", "is required")
	}
	if entry.EventType == "" {
		return db.AuditEntry{}, db.Validationf("event_type", "is required")
	}

	t.persist.Lock()
	defer t.persist.Unlock()

	t.stamp(&entry)
	if recorded, ok := t.lookup(entry.ID); ok {
		return recorded, nil
	}
	if t.store != nil {
		inserted, err := t.store.RecordAudit(ctx, entry)
		if err != nil {
			return db.AuditEntry{}, fmt.Errorf("persisting audit entry: %w", err)
		}
		if !inserted {
			return db.AuditEntry{}, fmt.Errorf("audit entry %s: %w", entry.ID, ErrEntryPersisted)
		}
	}

	t.mu.Lock()
	t.appendLocked(entry)
	t.mu.Unlock()
	return entry, nil
}

// commit durably records a state change and its audit entry, then publishes both in memory.
// Callers must hold the decision's entry lock. Store writes are serialized on persist so
// readers only wait for the in-memory publish. A store that refuses the transition because
// its persisted history has moved on returns an error wrapping *db.InvalidTransitionError.
func (t *AuditTrail) commit(ctx context.Context, tr *db.Transition, entry db.AuditEntry) (db.AuditEntry, error) {
	t.persist.Lock()
	defer t.persist.Unlock()

	t.stamp(&entry)
	if recorded, ok := t.lookup(entry.ID); ok {
		return recorded, nil
	}
	tr.EntryID = entry.ID
	if tr.At.IsZero() {
		tr.At = entry.Timestamp
	}

	if t.store != nil {
		inserted, err := t.store.RecordTransition(ctx, *tr, entry)
		if err != nil {
			return db.AuditEntry{}, fmt.Errorf("persisting transition: %w", err)
		}
		if !inserted {
			return db.AuditEntry{}, fmt.Errorf("audit entry %s: %w", entry.ID, ErrEntryPersisted)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	tr.Seq = int64(len(t.transitions) + 1)
	t.appendLocked(entry)
	t.latest[tr.DecisionID] = len(t.transitions)
	t.transitions = append(t.transitions, *tr)
	return entry, nil
}

func (t *AuditTrail) lookup(id string) (db.AuditEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	i, ok := t.byID[id]
	if !ok {
		return db.AuditEntry{}, false
	}
	return t.entries[i], true
}

func (t *AuditTrail) stamp(entry *db.AuditEntry) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = t.now()
	}
	if entry.Context == nil {
		entry.Context = map[string]any{}
	}
}

func (t *AuditTrail) appendLocked(entry db.AuditEntry) {
	t.byID[entry.ID] = len(t.entries)
	t.byDecision[entry.DecisionID] = append(t.byDecision[entry.DecisionID], len(t.entries))
	t.entries = append(t.entries, entry)
}

// Len returns the number of recorded entries.
func (t *AuditTrail) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// History returns every entry for a decision in append order.
func (t *AuditTrail) History(decisionID string) []db.AuditEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	idx := t.byDecision[decisionID]
	out := make([]db.AuditEntry, 0, len(idx))
	for _, i := range idx {
		out = append(out, t.entries[i])
	}
	return out
}

// Transitions returns a copy of the transition log.
func (t *AuditTrail) Transitions() []db.Transition {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]db.Transition(nil), t.transitions...)
}

// Latest returns the decision snapshot after its most recent recorded transition.
func (t *AuditTrail) Latest(decisionID string) (db.Decision, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	i, ok := t.latest[decisionID]
	if !ok {
		return db.Decision{}, false
	}
	return t.transitions[i].Decision.Clone(), true
}

// AuditFilter narrows a Query. Zero values match everything; From and To are inclusive.
type AuditFilter struct {
	From       time.Time
	To         time.Time
	OperatorID string
	DecisionID string
	EventTypes []db.EventType
}

func (f AuditFilter) matches(e db.AuditEntry) bool {
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Timestamp.After(f.To) {
		return false
	}
	if f.OperatorID != "" && e.Actor != f.OperatorID {
		return false
	}
	if f.DecisionID != "" && e.DecisionID != f.DecisionID {
		return false
	}
	if len(f.EventTypes) > 0 {
		found := false
		for _, et := range f.EventTypes {
			if e.EventType == et {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Query returns the matching entries ordered by timestamp, ties kept in append order.
func (t *AuditTrail) Query(filter AuditFilter) []db.AuditEntry {
	t.mu.RLock()
	out := make([]db.AuditEntry, 0)
	for _, e := range t.entries {
		if filter.matches(e) {
			out = append(out, e)
		}
	}
	t.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// load replays persisted logs into an empty trail.
func (t *AuditTrail) load(ctx context.Context) error {
	if t.store == nil {
		return nil
	}
	transitions, err := t.store.ListTransitions(ctx)
	if err != nil {
		return fmt.Errorf("loading transitions: %w", err)
	}
	entries, err := t.store.ListAuditEntries(ctx)
	if err != nil {
		return fmt.Errorf("loading audit entries: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.entries) > 0 || len(t.transitions) > 0 {
		return ErrStateNotEmpty
	}
	for _, e := range entries {
		t.appendLocked(e)
	}
	for _, tr := range transitions {
		t.latest[tr.DecisionID] = len(t.transitions)
		t.transitions = append(t.transitions, tr)
	}
	return nil
}

// Compliance violation kinds.
const (
	ViolationSLABreach          = "sla_breach_without_escalation"
	ViolationAutoExecNotFull    = "auto_executed_not_full"
	ViolationResolvedNoQueue    = "resolved_without_queue"
	ViolationTransitionTerminal = "transition_after_terminal"
)

// Violation is one compliance finding.
type Violation struct {
	Kind       string    `json:"kind" yaml:"kind"`
	DecisionID string    `json:"decision_id" yaml:"decision_id"`
	EntryID    string    `json:"entry_id" yaml:"entry_id"`
	At         time.Time `json:"at" yaml:"at"`
	Detail     string    `json:"detail" yaml:"detail"`
}

// ComplianceReport aggregates the audit trail for a regulation tag and time range.
// It is derived on demand and never stored.
type ComplianceReport struct {
	Tag           string               `json:"tag" yaml:"tag"`
	From          time.Time            `json:"from" yaml:"from"`
	To            time.Time            `json:"to" yaml:"to"`
	GeneratedAt   time.Time            `json:"generated_at" yaml:"generated_at"`
	Decisions     int                  `json:"decisions" yaml:"decisions"`
	TotalEntries  int                  `json:"total_entries" yaml:"total_entries"`
	EventCounts   map[db.EventType]int `json:"event_counts" yaml:"event_counts"`
	ApprovalRate  float64              `json:"approval_rate" yaml:"approval_rate"`
	SLACompliance float64              `json:"sla_compliance" yaml:"sla_compliance"`
	Violations    []Violation          `json:"violations" yaml:"violations"`
}

// ComplianceReport builds a report over entries in [from, to]. An empty tag or "*" covers
// every decision; otherwise only decisions whose regulation context lists the tag.
func (t *AuditTrail) ComplianceReport(tag string, from, to time.Time) ComplianceReport {
	report := ComplianceReport{
		Tag:         tag,
		From:        from,
		To:          to,
		GeneratedAt: t.now(),
		EventCounts: make(map[db.EventType]int),
		Violations:  []Violation{},
	}

	inRange := t.Query(AuditFilter{From: from, To: to})
	selected := make(map[string]bool)
	var order []string
	var approved, rejected, humanResolved, onTime int

	for _, e := range inRange {
		if !matchesTag(e.Context, tag) {
			continue
		}
		if !selected[e.DecisionID] {
			selected[e.DecisionID] = true
			order = append(order, e.DecisionID)
		}
		report.TotalEntries++
		report.EventCounts[e.EventType]++
		switch e.EventType {
		case db.EventApproved:
			approved++
		case db.EventRejected:
			rejected++
		}
		if isHumanResolution(e) {
			humanResolved++
			if !e.SLADeadline.IsZero() && !e.Timestamp.After(e.SLADeadline) {
				onTime++
			}
		}
	}

	report.Decisions = len(order)
	if approved+rejected > 0 {
		report.ApprovalRate = float64(approved) / float64(approved+rejected)
	}
	report.SLACompliance = 1
	if humanResolved > 0 {
		report.SLACompliance = float64(onTime) / float64(humanResolved)
	}

	for _, id := range order {
		report.Violations = append(report.Violations, violationsFor(t.History(id), from, to)...)
	}
	return report
}

func matchesTag(ctx map[string]any, tag string) bool {
	tag = strings.TrimSpace(tag)
	if tag == "" || tag == "*" {
		return true
	}
	raw, ok := ctx[ContextRegulation].(string)
	if !ok {
		return false
	}
	for _, part := range strings.Split(raw, ",") {
		if strings.EqualFold(strings.TrimSpace(part), tag) {
			return true
		}
	}
	return false
}

func isHumanResolution(e db.AuditEntry) bool {
	return (e.EventType == db.EventApproved || e.EventType == db.EventRejected) && e.Actor != db.ActorSystem
}

func isStatusChange(e db.AuditEntry) bool {
	return e.EventType != db.EventTransitionRejected && e.EventType != db.EventAssigned && e.ToStatus != ""
}

// violationsFor checks one decision's full history; only findings inside [from, to] are reported.
func violationsFor(history []db.AuditEntry, from, to time.Time) []Violation {
	var out []Violation
	add := func(kind string, e db.AuditEntry, detail string) {
		if (!from.IsZero() && e.Timestamp.Before(from)) || (!to.IsZero() && e.Timestamp.After(to)) {
			return
		}
		out = append(out, Violation{Kind: kind, DecisionID: e.DecisionID, EntryID: e.ID, At: e.Timestamp, Detail: detail})
	}

	var queued, escalated, terminal bool
	for _, e := range history {
		if !isStatusChange(e) {
			continue
		}
		if terminal {
			add(ViolationTransitionTerminal, e, fmt.Sprintf("%s recorded after the decision was terminal", e.EventType))
		}
		switch e.EventType {
		case db.EventQueued:
			queued = true
		case db.EventEscalated:
			escalated = true
		case db.EventAutoExecuted:
			if e.AutomationLevel != db.AutomationFull {
				add(ViolationAutoExecNotFull, e, fmt.Sprintf("auto-executed at automation level %s", e.AutomationLevel))
			}
		case db.EventApproved, db.EventRejected, db.EventExpired:
			if !queued {
				add(ViolationResolvedNoQueue, e, fmt.Sprintf("%s without a prior queued entry", e.EventType))
			}
			if !escalated && !e.SLADeadline.IsZero() && e.Timestamp.After(e.SLADeadline) {
				add(ViolationSLABreach, e, fmt.Sprintf("resolved %s after the SLA deadline without escalation",
					e.Timestamp.Sub(e.SLADeadline).Round(time.Second)))
			}
		}
		if e.ToStatus.IsTerminal() {
			terminal = true
		}
	}
	return out
}
