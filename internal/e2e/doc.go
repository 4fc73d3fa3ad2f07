// Package e2e holds end-to-end scenario tests that drive the full framework against a
// real SQLite store through the testutil harness.
//
// Each test creates its own harness:
//
//	func TestSomething(t *testing.T) {
//	    h := testutil.NewHarness(t)
//	    h.Step("Queueing a critical decision")
//	    res := h.Evaluate("delete_data", nil, 0.75)
//	    h.AssertStatus(res.DecisionID, db.StatusQueued)
//	}
//
// Time only moves through the harness clock, so every scenario is deterministic.
// Run with -v to see the step log.
package e2e
