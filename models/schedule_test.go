package models

import (
	"testing"
	"time"
)

func TestNextFireAfter(t *testing.T) {
	from := time.Date(2026, 1, 31, 6, 0, 0, 0, time.UTC)

	if next := ScheduleFrequencyHourly.NextFireAfter(from); !next.Equal(from.Add(time.Hour)) {
		t.Errorf("hourly: %v", next)
	}
	if next := ScheduleFrequencyDaily.NextFireAfter(from); !next.Equal(from.AddDate(0, 0, 1)) {
		t.Errorf("daily: %v", next)
	}
	if next := ScheduleFrequencyWeekly.NextFireAfter(from); !next.Equal(from.AddDate(0, 0, 7)) {
		t.Errorf("weekly: %v", next)
	}
	if next := ScheduleFrequencyMonthly.NextFireAfter(from); next == nil || next.Month() != time.March {
		// Jan 31 + 1 month normalizes into March per time.AddDate
		t.Errorf("monthly: %v", next)
	}
	if next := ScheduleFrequencyNone.NextFireAfter(from); next != nil {
		t.Errorf("none should not schedule, got %v", next)
	}
}

func TestNewRunIdFormat(t *testing.T) {
	at := time.Date(2026, 8, 29, 13, 45, 9, 0, time.UTC)
	got := NewRunId("GL-VS-BANK", at)
	want := "RUN-GL-VS-BANK-20260829134509"
	if got != want {
		t.Errorf("run id = %s, want %s", got, want)
	}
}

func TestDiscrepancyCodeFormat(t *testing.T) {
	got := DiscrepancyCode("RUN-GL-20260829134509", 7)
	want := "DISC-RUN-GL-20260829134509-00007"
	if got != want {
		t.Errorf("code = %s, want %s", got, want)
	}
}
