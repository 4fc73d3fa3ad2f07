package testutil

import (
	"strings"

	"github.com/Dicklesworthstone/hitl/internal/db"
)

// AssertStatus verifies the latest recorded status of a decision.
func (h *Harness) AssertStatus(id string, expected db.Status) {
	h.T.Helper()

	d, ok := h.FW.Trail().Latest(id)
	if !ok {
		h.Logger.Error("decision %s has no transitions", id)
		h.T.Fatalf("decision %s not found", id)
	}
	pass := d.Status == expected
	h.Logger.Expected("status of "+id, expected, d.Status, pass)
	if !pass {
		h.T.Errorf("decision %s: expected status %s, got %s", id, expected, d.Status)
	}
}

// AssertLevel verifies a decision's escalation level.
func (h *Harness) AssertLevel(id string, expected int) {
	h.T.Helper()

	d, _ := h.FW.Trail().Latest(id)
	pass := d.EscalationLevel == expected
	h.Logger.Expected("escalation level of "+id, expected, d.EscalationLevel, pass)
	if !pass {
		h.T.Errorf("decision %s: expected escalation level %d, got %d", id, expected, d.EscalationLevel)
	}
}

// AssertLiveCount verifies the number of live queue entries.
func (h *Harness) AssertLiveCount(expected int) {
	h.T.Helper()

	n := h.FW.Queue().Count()
	pass := n == expected
	h.Logger.Expected("live count", expected, n, pass)
	if !pass {
		h.T.Errorf("expected %d live decisions, got %d", expected, n)
	}
}

// AssertEvents verifies the exact event sequence recorded for a decision.
func (h *Harness) AssertEvents(id string, expected ...db.EventType) {
	h.T.Helper()

	var got []string
	for _, e := range h.FW.Trail().History(id) {
		got = append(got, string(e.EventType))
	}
	want := make([]string, len(expected))
	for i, e := range expected {
		want[i] = string(e)
	}
	pass := strings.Join(got, ",") == strings.Join(want, ",")
	h.Logger.Expected("events of "+id, want, got, pass)
	if !pass {
		h.T.Errorf("decision %s: expected events %v, got %v", id, want, got)
	}
}

// AssertExecutedTimes verifies how many times the executor ran a decision.
func (h *Harness) AssertExecutedTimes(id string, expected int) {
	h.T.Helper()

	n := h.Executor.Count(id)
	pass := n == expected
	h.Logger.Expected("executions of "+id, expected, n, pass)
	if !pass {
		h.T.Errorf("decision %s: expected %d executions, got %d", id, expected, n)
	}
}

// AssertNoError fails if err is non-nil.
func (h *Harness) AssertNoError(err error, msg string) {
	h.T.Helper()
	if err != nil {
		h.Logger.Error("%s: %v", msg, err)
		h.T.Fatalf("%s: %v", msg, err)
	}
}

// AssertError fails if err is nil.
func (h *Harness) AssertError(err error, msg string) {
	h.T.Helper()
	if err == nil {
		h.Logger.Error("%s: expected error but got nil", msg)
		h.T.Fatalf("%s: expected error but got nil", msg)
	}
}
