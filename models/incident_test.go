package models

import (
	"errors"
	"testing"
	"time"
)

func TestDueDateFor(t *testing.T) {
	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	cases := []struct {
		severity Severity
		hours    int
	}{
		{SeverityCritical, 4},
		{SeverityHigh, 24},
		{SeverityMedium, 72},
		{SeverityLow, 168},
	}
	for _, tc := range cases {
		got := DueDateFor(tc.severity, base)
		want := base.Add(time.Duration(tc.hours) * time.Hour)
		if !got.Equal(want) {
			t.Errorf("%s: due = %v, want %v", tc.severity, got, want)
		}
	}
}

func TestValidateCheckerAction_SegregationOfDuties(t *testing.T) {
	maker := "maker1"
	incident := &Incident{Number: "INC-20260801-0001", ResolvedBy: &maker}

	if err := validateCheckerAction(incident, "maker1"); !errors.Is(err, ErrSegregationOfDuties) {
		t.Errorf("same maker and checker: got %v, want ErrSegregationOfDuties", err)
	}
	if err := validateCheckerAction(incident, "checker1"); err != nil {
		t.Errorf("distinct checker: got %v, want nil", err)
	}
	if err := validateCheckerAction(incident, ""); err == nil {
		t.Error("empty checker identity should be rejected")
	}
}

func TestIncidentStatusTerminal(t *testing.T) {
	for _, status := range []IncidentStatus{IncidentStatusClosed, IncidentStatusEscalated} {
		if !status.IsTerminal() {
			t.Errorf("%s should be terminal", status)
		}
	}
	for _, status := range []IncidentStatus{
		IncidentStatusOpen, IncidentStatusAssigned, IncidentStatusUnderInvestigation,
		IncidentStatusPendingCheckerReview, IncidentStatusCheckerRejected, IncidentStatusResolved,
	} {
		if status.IsTerminal() {
			t.Errorf("%s should not be terminal", status)
		}
	}
}

func TestHigherSeverity(t *testing.T) {
	if got := HigherSeverity(SeverityLow, SeverityCritical); got != SeverityCritical {
		t.Errorf("got %s", got)
	}
	if got := HigherSeverity(SeverityHigh, SeverityMedium); got != SeverityHigh {
		t.Errorf("got %s", got)
	}
}
