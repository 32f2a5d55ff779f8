package models

/* source systems */

type SystemType string

const (
	SystemTypeDatabase SystemType = "DATABASE"
	SystemTypeRestApi  SystemType = "REST_API"
	SystemTypeFileCsv  SystemType = "FILE_CSV"
)

func (t SystemType) IsValid() bool {
	switch t {
	case SystemTypeDatabase, SystemTypeRestApi, SystemTypeFileCsv:
		return true
	}
	return false
}

/* attribute comparison */

type ComparisonType string

const (
	ComparisonTypeExactMatch       ComparisonType = "EXACT_MATCH"
	ComparisonTypeCaseInsensitive  ComparisonType = "CASE_INSENSITIVE"
	ComparisonTypeNumericTolerance ComparisonType = "NUMERIC_TOLERANCE"
	ComparisonTypeDateTolerance    ComparisonType = "DATE_TOLERANCE"
	ComparisonTypeContains         ComparisonType = "CONTAINS"
	ComparisonTypeRegexMatch       ComparisonType = "REGEX_MATCH"
	ComparisonTypeIgnore           ComparisonType = "IGNORE"
)

func (t ComparisonType) IsValid() bool {
	switch t {
	case ComparisonTypeExactMatch, ComparisonTypeCaseInsensitive, ComparisonTypeNumericTolerance,
		ComparisonTypeDateTolerance, ComparisonTypeContains, ComparisonTypeRegexMatch, ComparisonTypeIgnore:
		return true
	}
	return false
}

type Transformation string

const (
	TransformationNone      Transformation = "NONE"
	TransformationUppercase Transformation = "UPPERCASE"
	TransformationLowercase Transformation = "LOWERCASE"
	TransformationTrim      Transformation = "TRIM"
)

/* severity */

type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

func (s Severity) Rank() int {
	return severityRank[s]
}

func (s Severity) IsValid() bool {
	return severityRank[s] > 0
}

// HigherSeverity returns the higher ranked of two severities.
func HigherSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

/* reconciliation runs */

type RunStatus string

const (
	RunStatusPending                    RunStatus = "PENDING"
	RunStatusInProgress                 RunStatus = "IN_PROGRESS"
	RunStatusExtractingSource           RunStatus = "EXTRACTING_SOURCE"
	RunStatusExtractingTarget           RunStatus = "EXTRACTING_TARGET"
	RunStatusComparing                  RunStatus = "COMPARING"
	RunStatusGeneratingReport           RunStatus = "GENERATING_REPORT"
	RunStatusCompleted                  RunStatus = "COMPLETED"
	RunStatusCompletedWithDiscrepancies RunStatus = "COMPLETED_WITH_DISCREPANCIES"
	RunStatusFailed                     RunStatus = "FAILED"
	RunStatusCancelled                  RunStatus = "CANCELLED"
)

// IsTerminal reports whether a run status permits no further transitions.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusCompletedWithDiscrepancies, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// IsExecuting reports whether the run is actively held by a worker.
func (s RunStatus) IsExecuting() bool {
	switch s {
	case RunStatusInProgress, RunStatusExtractingSource, RunStatusExtractingTarget,
		RunStatusComparing, RunStatusGeneratingReport:
		return true
	}
	return false
}

// ActiveRunStatuses lists every non-terminal status, used by the
// one-active-run-per-config guard.
func ActiveRunStatuses() []RunStatus {
	return []RunStatus{
		RunStatusPending, RunStatusInProgress, RunStatusExtractingSource,
		RunStatusExtractingTarget, RunStatusComparing, RunStatusGeneratingReport,
	}
}

type TriggerType string

const (
	TriggerTypeManual    TriggerType = "MANUAL"
	TriggerTypeScheduled TriggerType = "SCHEDULED"
)

/* discrepancies */

type DiscrepancyType string

const (
	DiscrepancyTypeMissingInSource   DiscrepancyType = "MISSING_IN_SOURCE"
	DiscrepancyTypeMissingInTarget   DiscrepancyType = "MISSING_IN_TARGET"
	DiscrepancyTypeAttributeMismatch DiscrepancyType = "ATTRIBUTE_MISMATCH"
)

type DiscrepancyStatus string

const (
	DiscrepancyStatusOpen                DiscrepancyStatus = "OPEN"
	DiscrepancyStatusUnderReview         DiscrepancyStatus = "UNDER_REVIEW"
	DiscrepancyStatusResolved            DiscrepancyStatus = "RESOLVED"
	DiscrepancyStatusIgnored             DiscrepancyStatus = "IGNORED"
	DiscrepancyStatusEscalatedToIncident DiscrepancyStatus = "ESCALATED_TO_INCIDENT"
)

/* incidents */

type IncidentStatus string

const (
	IncidentStatusOpen                 IncidentStatus = "OPEN"
	IncidentStatusAssigned             IncidentStatus = "ASSIGNED"
	IncidentStatusUnderInvestigation   IncidentStatus = "UNDER_INVESTIGATION"
	IncidentStatusPendingCheckerReview IncidentStatus = "PENDING_CHECKER_REVIEW"
	IncidentStatusCheckerRejected      IncidentStatus = "CHECKER_REJECTED"
	IncidentStatusResolved             IncidentStatus = "RESOLVED"
	IncidentStatusClosed               IncidentStatus = "CLOSED"
	IncidentStatusEscalated            IncidentStatus = "ESCALATED"
)

func (s IncidentStatus) IsTerminal() bool {
	switch s {
	case IncidentStatusClosed, IncidentStatusEscalated:
		return true
	}
	return false
}

type IncidentAction string

const (
	IncidentActionCreate             IncidentAction = "CREATE"
	IncidentActionAssign             IncidentAction = "ASSIGN"
	IncidentActionStartInvestigation IncidentAction = "START_INVESTIGATION"
	IncidentActionSubmitResolution   IncidentAction = "SUBMIT_RESOLUTION"
	IncidentActionApprove            IncidentAction = "APPROVE"
	IncidentActionReject             IncidentAction = "REJECT"
	IncidentActionClose              IncidentAction = "CLOSE"
	IncidentActionEscalate           IncidentAction = "ESCALATE"
	IncidentActionComment            IncidentAction = "COMMENT"
)

type IncidentPolicy string

const (
	IncidentPolicyAlways            IncidentPolicy = "ALWAYS"
	IncidentPolicyNever             IncidentPolicy = "NEVER"
	IncidentPolicySeverityThreshold IncidentPolicy = "SEVERITY_THRESHOLD"
)

func (p IncidentPolicy) IsValid() bool {
	switch p {
	case IncidentPolicyAlways, IncidentPolicyNever, IncidentPolicySeverityThreshold:
		return true
	}
	return false
}

/* scheduling */

type ScheduleFrequency string

const (
	ScheduleFrequencyNone    ScheduleFrequency = "NONE"
	ScheduleFrequencyHourly  ScheduleFrequency = "HOURLY"
	ScheduleFrequencyDaily   ScheduleFrequency = "DAILY"
	ScheduleFrequencyWeekly  ScheduleFrequency = "WEEKLY"
	ScheduleFrequencyMonthly ScheduleFrequency = "MONTHLY"
)

func (f ScheduleFrequency) IsValid() bool {
	switch f {
	case ScheduleFrequencyNone, ScheduleFrequencyHourly, ScheduleFrequencyDaily,
		ScheduleFrequencyWeekly, ScheduleFrequencyMonthly:
		return true
	}
	return false
}

/* users */

type UserRole string

const (
	UserRoleAdmin    UserRole = "A"
	UserRoleOperator UserRole = "O"
	UserRoleChecker  UserRole = "C"
)

func (r UserRole) IsValid() bool {
	switch r {
	case UserRoleAdmin, UserRoleOperator, UserRoleChecker:
		return true
	}
	return false
}

func (r UserRole) Name() string {
	switch r {
	case UserRoleAdmin:
		return "Admin"
	case UserRoleOperator:
		return "Operator"
	case UserRoleChecker:
		return "Checker"
	}
	return string(r)
}
