package models

import "testing"

func TestRunStatusPredicates(t *testing.T) {
	all := []RunStatus{
		RunStatusPending, RunStatusInProgress, RunStatusExtractingSource,
		RunStatusExtractingTarget, RunStatusComparing, RunStatusGeneratingReport,
		RunStatusCompleted, RunStatusCompletedWithDiscrepancies,
		RunStatusFailed, RunStatusCancelled,
	}

	for _, s := range all {
		if s.IsTerminal() && s.IsExecuting() {
			t.Errorf("status %s is both terminal and executing", s)
		}
	}
	if RunStatusPending.IsTerminal() || RunStatusPending.IsExecuting() {
		t.Errorf("PENDING must be neither terminal nor executing")
	}

	// every status is either active or terminal, never both lists
	active := map[RunStatus]bool{}
	for _, s := range ActiveRunStatuses() {
		active[s] = true
		if s.IsTerminal() {
			t.Errorf("active status %s reported terminal", s)
		}
	}
	for _, s := range all {
		if s.IsTerminal() == active[s] {
			t.Errorf("status %s must be exactly one of active or terminal", s)
		}
	}

	for _, s := range terminalRunStatuses() {
		if !s.IsTerminal() {
			t.Errorf("terminalRunStatuses includes non-terminal %s", s)
		}
	}
}
