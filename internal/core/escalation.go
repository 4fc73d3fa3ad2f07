package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Dicklesworthstone/hitl/internal/config"
	"github.com/Dicklesworthstone/hitl/internal/db"
	"github.com/Dicklesworthstone/hitl/internal/integrations"
	"github.com/Dicklesworthstone/hitl/internal/utils"
	"github.com/charmbracelet/log"
)

// EscalationOptions configures an EscalationManager.
type EscalationOptions struct {
	Notifier       integrations.Notifier
	NotifyTimeout  time.Duration
	IncludeContext bool
	Clock          func() time.Time
	Logger         *log.Logger
}

// EscalationManager walks overdue decisions up the escalation ladder.
type EscalationManager struct {
	queue  *DecisionQueue
	cfg    config.EscalationConfig
	opts   EscalationOptions
	now    func() time.Time
	logger *log.Logger
}

// TickReport summarizes one scan.
type TickReport struct {
	Scanned   int `json:"scanned"`
	Escalated int `json:"escalated"`
	Resolved  int `json:"resolved"`
	Lost      int `json:"lost"`
	Failed    int `json:"failed"`
}

// NewEscalationManager returns a manager over queue.
func NewEscalationManager(queue *DecisionQueue, cfg config.EscalationConfig, opts EscalationOptions) *EscalationManager {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	if opts.Notifier == nil {
		opts.Notifier = integrations.NoopNotifier{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = utils.WithPrefix("escalation")
	}
	return &EscalationManager{
		queue:  queue,
		cfg:    cfg,
		opts:   opts,
		now:    func() time.Time { return clock().UTC() },
		logger: logger,
	}
}

// Run scans the queue every tick until ctx is cancelled.
func (m *EscalationManager) Run(ctx context.Context) error {
	interval := m.cfg.Tick()
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.logger.Info("escalation loop started", "interval", interval, "levels", len(m.cfg.Ladder))
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("escalation loop stopped")
			return ctx.Err()
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick moves every overdue live decision exactly one step: up one ladder level, or to the
// terminal action of its current level.
func (m *EscalationManager) Tick(ctx context.Context) TickReport {
	var report TickReport
	now := m.now()
	for _, e := range m.queue.Snapshot() {
		report.Scanned++
		if now.Before(e.Deadline) {
			continue
		}
		d, err := m.step(ctx, e.Decision.ID, now)
		switch {
		case err == nil && d.Status == db.StatusEscalated:
			report.Escalated++
			m.notify(ctx, d)
		case err == nil:
			report.Resolved++
			m.logger.Info("decision resolved by escalation policy",
				"decision_id", d.ID, "status", d.Status, "level", d.EscalationLevel)
		case errors.Is(err, errNotDue):
			// another scan already moved it
		case errors.Is(err, db.ErrInvalidTransition), errors.Is(err, db.ErrNotFound):
			report.Lost++
			m.logger.Debug("escalation lost race", "decision_id", e.Decision.ID, "error", err)
		default:
			report.Failed++
			m.logger.Error("escalating decision", "decision_id", e.Decision.ID, "error", err)
		}
	}
	return report
}

func (m *EscalationManager) step(ctx context.Context, id string, now time.Time) (db.Decision, error) {
	_, d, err := m.queue.apply(ctx, id, db.StatusEscalated, db.ActorSystem, func(cur db.Decision, at time.Time) (step, error) {
		if now.Before(cur.LevelDeadline) {
			return step{}, errNotDue
		}
		return m.plan(cur, at), nil
	})
	return d, err
}

// plan decides the single step for an overdue decision.
func (m *EscalationManager) plan(d db.Decision, now time.Time) step {
	ladder := m.cfg.Ladder
	lvl := d.EscalationLevel

	if len(ladder) > 0 && (lvl == 0 || (lvl < len(ladder) && ladder[lvl-1].TerminalAction == config.TerminalNone)) {
		next := lvl + 1
		rung := ladder[next-1]
		deadline := m.LevelDeadline(d, next, now)
		d.Status = db.StatusEscalated
		d.EscalationLevel = next
		d.LevelDeadline = deadline
		d.Escalations = append(d.Escalations, db.EscalationHop{
			Level:    next,
			Name:     rung.Name,
			Target:   rung.Target,
			At:       now,
			Deadline: deadline,
		})
		return step{
			next:  d,
			notes: fmt.Sprintf("escalated to %s (level %d)", rung.Name, next),
		}
	}

	action := config.TerminalExpired
	if lvl > 0 && lvl <= len(ladder) && ladder[lvl-1].TerminalAction != config.TerminalNone {
		action = ladder[lvl-1].TerminalAction
	}
	switch action {
	case config.TerminalAutoApprove:
		if d.RiskLevel == db.RiskCritical {
			d.Status = db.StatusExpired
			return step{next: d, notes: "auto_approve not permitted for critical risk; expired"}
		}
		d.Status = db.StatusApproved
		return step{next: d, notes: "auto-approved at end of escalation ladder"}
	case config.TerminalAutoReject:
		d.Status = db.StatusRejected
		return step{next: d, notes: "auto-rejected at end of escalation ladder"}
	default:
		d.Status = db.StatusExpired
		return step{next: d, notes: "no operator action before the final deadline"}
	}
}

// LevelDeadline returns the deadline of ladder level (1-based) for d entered at entered:
// created + SLA x multiplier, capped by the absolute cap and never before entered.
func (m *EscalationManager) LevelDeadline(d db.Decision, level int, entered time.Time) time.Time {
	if level < 1 || level > len(m.cfg.Ladder) {
		return entered
	}
	sla := d.SLADeadline.Sub(d.CreatedAt)
	deadline := d.CreatedAt.Add(time.Duration(float64(sla) * m.cfg.Ladder[level-1].Multiplier))
	if m.cfg.AbsoluteCapMin > 0 {
		capAt := d.CreatedAt.Add(time.Duration(m.cfg.AbsoluteCapMin) * time.Minute)
		if deadline.After(capAt) {
			deadline = capAt
		}
	}
	if deadline.Before(entered) {
		deadline = entered
	}
	return deadline
}

// notify tells the new level's target. Failures are logged only; the escalation stands.
func (m *EscalationManager) notify(ctx context.Context, d db.Decision) {
	lvl := d.EscalationLevel
	if lvl < 1 || lvl > len(m.cfg.Ladder) {
		return
	}
	rung := m.cfg.Ladder[lvl-1]
	if m.opts.NotifyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.NotifyTimeout)
		defer cancel()
	}
	summary := integrations.SummaryOf(d, rung.Name, m.opts.IncludeContext)
	if err := m.opts.Notifier.Notify(ctx, rung.Target, summary, lvl); err != nil {
		m.logger.Warn("escalation notification failed",
			"decision_id", d.ID, "target", rung.Target, "level", lvl, "error", err)
	}
}
