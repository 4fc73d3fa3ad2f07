package core

import (
	"context"
	"fmt"
	"time"

	"github.com/Dicklesworthstone/hitl/internal/config"
	"github.com/Dicklesworthstone/hitl/internal/db"
	"github.com/Dicklesworthstone/hitl/internal/integrations"
	"github.com/Dicklesworthstone/hitl/internal/utils"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// Framework wires the assessor, queue, escalation manager, operator interface and audit
// trail into the decision pipeline.
type Framework struct {
	cfg        config.Config
	assessor   *RiskAssessor
	trail      *AuditTrail
	queue      *DecisionQueue
	escalation *EscalationManager
	operators  *OperatorInterface

	store    AuditStore
	executor integrations.Executor
	notifier integrations.Notifier
	logger   *log.Logger
	clock    func() time.Time
	newID    func() string
}

// Option configures a Framework.
type Option func(*Framework)

// WithStore persists the transition and audit logs to store.
func WithStore(store AuditStore) Option {
	return func(f *Framework) { f.store = store }
}

// WithExecutor sets the executor invoked for auto-executed and approved decisions.
func WithExecutor(e integrations.Executor) Option {
	return func(f *Framework) { f.executor = e }
}

// WithNotifier sets the escalation notifier.
func WithNotifier(n integrations.Notifier) Option {
	return func(f *Framework) { f.notifier = n }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(f *Framework) { f.logger = l }
}

// WithClock sets the time source.
func WithClock(clock func() time.Time) Option {
	return func(f *Framework) { f.clock = clock }
}

// WithIDGenerator sets the decision id generator.
func WithIDGenerator(gen func() string) Option {
	return func(f *Framework) { f.newID = gen }
}

// New builds a Framework from a validated configuration.
func New(cfg config.Config, opts ...Option) (*Framework, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	f := &Framework{
		cfg:      cfg,
		executor: integrations.NoopExecutor{},
		notifier: integrations.NoopNotifier{},
		logger:   utils.GetDefaultLogger(),
		clock:    time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(f)
	}

	f.assessor = NewRiskAssessor(cfg.Risk)
	f.trail = NewAuditTrail(f.store, f.clock)
	f.queue = NewDecisionQueue(f.trail, cfg.SLA, QueueOptions{
		Clock:      f.clock,
		Logger:     f.logger,
		OnApproved: func(ctx context.Context, d db.Decision) { f.execute(ctx, d) },
	})
	f.escalation = NewEscalationManager(f.queue, cfg.Escalation, EscalationOptions{
		Notifier:       f.notifier,
		NotifyTimeout:  time.Duration(cfg.Notifications.TimeoutSecs) * time.Second,
		IncludeContext: cfg.Notifications.IncludeContext,
		Clock:          f.clock,
		Logger:         f.logger,
	})
	f.operators = NewOperatorInterface(f.queue, f.trail, f.clock)
	return f, nil
}

// Assessor returns the risk assessor.
func (f *Framework) Assessor() *RiskAssessor { return f.assessor }

// Queue returns the decision queue.
func (f *Framework) Queue() *DecisionQueue { return f.queue }

// Trail returns the audit trail.
func (f *Framework) Trail() *AuditTrail { return f.trail }

// Escalation returns the escalation manager.
func (f *Framework) Escalation() *EscalationManager { return f.escalation }

// Operators returns the operator interface.
func (f *Framework) Operators() *OperatorInterface { return f.operators }

// DecisionResult is what a proposer learns from Evaluate.
type DecisionResult struct {
	DecisionID      string                        `json:"decision_id"`
	Status          db.Status                     `json:"status"`
	AutomationLevel db.AutomationLevel            `json:"automation_level"`
	RiskLevel       db.RiskLevel                  `json:"risk_level"`
	RiskScore       float64                       `json:"risk_score"`
	SLADeadline     time.Time                     `json:"sla_deadline"`
	Execution       *integrations.ExecutionResult `json:"execution,omitempty"`
}

// Evaluate scores a proposed action and either executes it immediately or queues it for
// review. Nothing executes unless the auto_executed transition is durable first.
func (f *Framework) Evaluate(ctx context.Context, actionType string, attrs map[string]any, confidence float64) (DecisionResult, error) {
	normalized, err := NormalizeContext(attrs)
	if err != nil {
		return DecisionResult{}, err
	}
	score, err := f.assessor.Assess(actionType, normalized, confidence)
	if err != nil {
		return DecisionResult{}, err
	}

	d := db.Decision{
		ID:              f.newID(),
		ActionType:      actionType,
		Context:         normalized,
		Confidence:      confidence,
		RiskScore:       score.Overall,
		RiskLevel:       score.Level,
		AutomationLevel: score.Automation,
		Factors:         score.Factors,
		Status:          db.StatusPending,
		CreatedAt:       f.clock().UTC(),
	}
	result := DecisionResult{
		DecisionID:      d.ID,
		AutomationLevel: d.AutomationLevel,
		RiskLevel:       d.RiskLevel,
		RiskScore:       d.RiskScore,
	}

	if score.Automation != db.AutomationFull {
		qe, err := f.queue.Enqueue(ctx, d)
		if err != nil {
			return DecisionResult{}, err
		}
		result.Status = qe.Decision.Status
		result.SLADeadline = qe.Decision.SLADeadline
		f.logger.Info("decision queued for review",
			"decision_id", d.ID, "action_type", actionType,
			"risk_level", d.RiskLevel, "automation", d.AutomationLevel, "sla_deadline", result.SLADeadline)
		return result, nil
	}

	if _, known := f.trail.Latest(d.ID); known {
		return DecisionResult{}, &db.DuplicateDecisionError{DecisionID: d.ID}
	}
	executed := d.Clone()
	executed.Status = db.StatusAutoExecuted
	entry := db.NewAuditEntry(executed, db.EventAutoExecuted, db.ActorSystem, db.StatusPending, db.StatusAutoExecuted, "")
	tr := db.Transition{DecisionID: d.ID, From: db.StatusPending, To: db.StatusAutoExecuted, Decision: executed}
	if _, err := f.trail.commit(ctx, &tr, entry); err != nil {
		return DecisionResult{}, duplicateIfPersisted(d.ID, err)
	}
	result.Status = db.StatusAutoExecuted
	f.logger.Info("decision auto-executed", "decision_id", d.ID, "action_type", actionType, "risk_score", d.RiskScore)

	res := f.execute(ctx, executed)
	result.Execution = &res
	return result, nil
}

// execute hands a decision to the executor. Executor failures are reported, never retried.
func (f *Framework) execute(ctx context.Context, d db.Decision) integrations.ExecutionResult {
	res, err := f.executor.Execute(ctx, d.ID, d.ActionType, d.Context)
	if err != nil {
		res = integrations.ExecutionResult{Success: false, Details: err.Error()}
	}
	if res.Success {
		f.logger.Info("action executed", "decision_id", d.ID, "action_type", d.ActionType)
	} else {
		f.logger.Error("action execution failed", "decision_id", d.ID, "action_type", d.ActionType, "details", res.Details)
	}
	return res
}

// ListPending returns the live entries visible to operatorID in review order.
func (f *Framework) ListPending(operatorID string) []QueuedEntry {
	out := make([]QueuedEntry, 0)
	for e := range f.queue.PeekPending(PendingFilter{OperatorID: operatorID}) {
		out = append(out, e)
	}
	return out
}

// Review applies an operator's approve or reject.
func (f *Framework) Review(ctx context.Context, id, operatorID string, approve bool, notes string) (ReviewOutcome, error) {
	return f.operators.Review(ctx, id, operatorID, approve, notes)
}

// Assign records operatorID as the owner of a live decision.
func (f *Framework) Assign(ctx context.Context, id, operatorID string) (db.AuditEntry, error) {
	return f.queue.Assign(ctx, id, operatorID)
}

// Dashboard returns an operator's dashboard.
func (f *Framework) Dashboard(operatorID string) Dashboard {
	return f.operators.Dashboard(operatorID)
}

// Metrics returns an operator's metrics over the trailing period.
func (f *Framework) Metrics(operatorID string, period time.Duration) OperatorMetrics {
	return f.operators.Metrics(operatorID, period)
}

// Query returns audit entries matching filter in timestamp order.
func (f *Framework) Query(filter AuditFilter) []db.AuditEntry {
	return f.trail.Query(filter)
}

// ComplianceReport builds a compliance report for tag over [from, to].
func (f *Framework) ComplianceReport(tag string, from, to time.Time) ComplianceReport {
	return f.trail.ComplianceReport(tag, from, to)
}

// Restore replays the persisted logs into this (empty) framework.
func (f *Framework) Restore(ctx context.Context) error {
	if f.store == nil {
		return fmt.Errorf("restore requires a store")
	}
	if err := f.trail.load(ctx); err != nil {
		return err
	}
	if err := f.queue.restore(f.trail.Transitions()); err != nil {
		return err
	}
	f.logger.Info("state restored", "audit_entries", f.trail.Len(), "live", f.queue.Count())
	return nil
}

// Run drives the escalation loop until ctx is cancelled.
func (f *Framework) Run(ctx context.Context) error {
	return f.escalation.Run(ctx)
}
