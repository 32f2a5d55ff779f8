package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/recon_backend/config"
	"bitbucket.org/mmdatafocus/recon_backend/utils"
	"gorm.io/gorm"
)

// Incident groups the qualifying discrepancies of one run into a ticket that
// moves through a maker-checker workflow: the maker (assignee) investigates
// and submits a resolution, a different user approves or rejects it.
type Incident struct {
	ID     int    `gorm:"primary_key" json:"id"`
	Number string `gorm:"size:30;not null;unique" json:"number"`

	Title       string `gorm:"size:255;not null" json:"title"`
	Description string `gorm:"type:text" json:"description"`

	ConfigId int    `gorm:"not null;index" json:"config_id"`
	RunDbId  int    `gorm:"column:run_db_id;not null;index" json:"run_db_id"`
	RunId    string `gorm:"size:100;not null" json:"run_id"`

	Severity Severity       `gorm:"size:10;not null;index" json:"severity"`
	Status   IncidentStatus `gorm:"size:30;not null;index;default:OPEN" json:"status"`

	DiscrepancyCount int `gorm:"not null;default:0" json:"discrepancy_count"`

	AssignedTo *string    `gorm:"size:100;index" json:"assigned_to,omitempty"`
	AssignedAt *time.Time `json:"assigned_at,omitempty"`

	// maker side
	ResolutionNote *string    `gorm:"type:text" json:"resolution_note,omitempty"`
	ResolvedBy     *string    `gorm:"size:100" json:"resolved_by,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`

	// checker side
	CheckedBy      *string    `gorm:"size:100" json:"checked_by,omitempty"`
	CheckedAt      *time.Time `json:"checked_at,omitempty"`
	CheckerComment *string    `gorm:"type:text" json:"checker_comment,omitempty"`

	RejectionCount int `gorm:"not null;default:0" json:"rejection_count"`

	EscalationReason *string    `gorm:"type:text" json:"escalation_reason,omitempty"`
	EscalatedBy      *string    `gorm:"size:100" json:"escalated_by,omitempty"`
	EscalatedAt      *time.Time `json:"escalated_at,omitempty"`

	DueDate *time.Time `gorm:"index" json:"due_date,omitempty"`

	// optimistic lock
	Version int `gorm:"not null;default:0" json:"version"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// IncidentHistory is the append-only transition trail of an incident.
type IncidentHistory struct {
	ID         int `gorm:"primary_key" json:"id"`
	IncidentId int `gorm:"not null;index" json:"incident_id"`

	FromStatus IncidentStatus `gorm:"size:30" json:"from_status"`
	ToStatus   IncidentStatus `gorm:"size:30" json:"to_status"`
	Action     IncidentAction `gorm:"size:30;not null" json:"action"`
	ActionBy   string         `gorm:"size:100;not null" json:"action_by"`
	Comments   string         `gorm:"type:text" json:"comments"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// DueDateFor maps severity to a resolution deadline.
func DueDateFor(severity Severity, from time.Time) time.Time {
	switch severity {
	case SeverityCritical:
		return from.Add(4 * time.Hour)
	case SeverityHigh:
		return from.Add(24 * time.Hour)
	case SeverityMedium:
		return from.Add(72 * time.Hour)
	default:
		return from.Add(168 * time.Hour)
	}
}

// NextIncidentNumber allocates INC-yyyyMMdd-NNNN. The per-day counter lives
// in Redis; when Redis restarts (counter returns 1) the max is recovered from
// the DB so numbers never collide.
func NextIncidentNumber(ctx context.Context, tx *gorm.DB, at time.Time) (string, error) {
	day := at.UTC().Format("20060102")
	counterKey := "IncidentSeq:" + day

	seq, err := config.GetRedisCounter(ctx, counterKey)
	if err != nil {
		return "", err
	}
	if seq <= 1 {
		var maxNumber *string
		if err := tx.Model(&Incident{}).
			Where("number LIKE ?", "INC-"+day+"-%").
			Select("max(number)").Scan(&maxNumber).Error; err != nil {
			return "", err
		}
		dbSeq := int64(0)
		if maxNumber != nil {
			fmt.Sscanf(*maxNumber, "INC-"+day+"-%04d", &dbSeq)
		}
		if dbSeq >= seq {
			seq = dbSeq + 1
			if err := config.SetRedisObject(counterKey, &seq, 48*time.Hour); err != nil {
				return "", err
			}
		}
	}
	return fmt.Sprintf("INC-%s-%04d", day, seq), nil
}

// CreateIncidentForRun opens one incident grouping the given discrepancies.
// Runs inside the caller's transaction; discrepancies move to
// ESCALATED_TO_INCIDENT.
func CreateIncidentForRun(ctx context.Context, tx *gorm.DB, run *ReconciliationRun, cfg *ReconciliationConfig, discrepancies []*Discrepancy) (*Incident, error) {
	if len(discrepancies) == 0 {
		return nil, errors.New("no discrepancies to escalate")
	}

	severity := SeverityLow
	ids := make([]int, 0, len(discrepancies))
	for _, d := range discrepancies {
		severity = HigherSeverity(severity, d.Severity)
		ids = append(ids, d.ID)
	}

	now := time.Now().UTC()
	number, err := NextIncidentNumber(ctx, tx, now)
	if err != nil {
		return nil, err
	}
	due := DueDateFor(severity, now)

	incident := Incident{
		Number:           number,
		Title:            fmt.Sprintf("%d discrepancies in run %s", len(discrepancies), run.RunId),
		Description:      fmt.Sprintf("Reconciliation %s reported %d discrepancies requiring review.", cfg.Code, len(discrepancies)),
		ConfigId:         cfg.ID,
		RunDbId:          run.ID,
		RunId:            run.RunId,
		Severity:         severity,
		Status:           IncidentStatusOpen,
		DiscrepancyCount: len(discrepancies),
		DueDate:          &due,
	}
	if err := tx.Create(&incident).Error; err != nil {
		return nil, err
	}

	if err := tx.Model(&Discrepancy{}).Where("id IN ?", ids).Updates(map[string]interface{}{
		"status":      DiscrepancyStatusEscalatedToIncident,
		"incident_id": incident.ID,
	}).Error; err != nil {
		return nil, err
	}

	history := IncidentHistory{
		IncidentId: incident.ID,
		ToStatus:   IncidentStatusOpen,
		Action:     IncidentActionCreate,
		ActionBy:   "System",
		Comments:   fmt.Sprintf("Opened from run %s with %d discrepancies.", run.RunId, len(discrepancies)),
	}
	if err := tx.Create(&history).Error; err != nil {
		return nil, err
	}
	return &incident, nil
}

func GetIncident(ctx context.Context, id int) (*Incident, error) {
	return utils.FetchModel[Incident](ctx, id)
}

func GetIncidentByNumber(ctx context.Context, number string) (*Incident, error) {
	db := config.GetDB()
	var result Incident
	if err := db.WithContext(ctx).Where("number = ?", number).First(&result).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &result, nil
}

type IncidentFilter struct {
	ConfigId   *int
	Status     *IncidentStatus
	Bucket     string
	Severity   *Severity
	AssignedTo *string
	Overdue    bool
}

// StatusesForIncidentBucket expands a status-bucket name into the statuses
// it covers. Unknown buckets return nil and the filter is not applied.
func StatusesForIncidentBucket(bucket string) []IncidentStatus {
	switch bucket {
	case "open":
		return []IncidentStatus{IncidentStatusOpen, IncidentStatusAssigned, IncidentStatusUnderInvestigation}
	case "pending_review":
		return []IncidentStatus{IncidentStatusPendingCheckerReview}
	case "resolved":
		return []IncidentStatus{IncidentStatusResolved, IncidentStatusClosed}
	}
	return nil
}

func PaginateIncidents(ctx context.Context, req PageRequest, filter IncidentFilter) ([]*Incident, *utils.PageInfo, error) {
	db := config.GetDB()
	query := db.WithContext(ctx).Model(&Incident{})
	if filter.ConfigId != nil && *filter.ConfigId > 0 {
		query = query.Where("config_id = ?", *filter.ConfigId)
	}
	if filter.Status != nil && *filter.Status != "" {
		query = query.Where("status = ?", *filter.Status)
	}
	if statuses := StatusesForIncidentBucket(filter.Bucket); statuses != nil {
		query = query.Where("status IN ?", statuses)
	}
	if filter.Severity != nil && *filter.Severity != "" {
		query = query.Where("severity = ?", *filter.Severity)
	}
	if filter.AssignedTo != nil && *filter.AssignedTo != "" {
		query = query.Where("assigned_to = ?", *filter.AssignedTo)
	}
	if filter.Overdue {
		query = query.Where("due_date < ? AND status NOT IN ?", time.Now().UTC(),
			[]IncidentStatus{IncidentStatusResolved, IncidentStatusClosed, IncidentStatusEscalated})
	}
	return FetchPage[Incident](query, req, "id DESC")
}

func GetIncidentHistories(ctx context.Context, incidentId int) ([]*IncidentHistory, error) {
	db := config.GetDB()
	var results []*IncidentHistory
	if err := db.WithContext(ctx).Where("incident_id = ?", incidentId).
		Order("id ASC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

/* transitions */

// transition applies mutate to the incident, bumps the version with an
// optimistic-lock check, and appends the history row in one transaction.
func (incident *Incident) transition(ctx context.Context, action IncidentAction, toStatus IncidentStatus, expectedVersion int, comments string, updates map[string]interface{}) (*Incident, error) {
	db := config.GetDB()
	actor := actorFromContext(ctx)
	fromStatus := incident.Status

	updates["status"] = toStatus
	updates["version"] = gorm.Expr("version + 1")

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Incident{}).
			Where("id = ? AND version = ?", incident.ID, expectedVersion).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrConcurrentModification
		}
		history := IncidentHistory{
			IncidentId: incident.ID,
			FromStatus: fromStatus,
			ToStatus:   toStatus,
			Action:     action,
			ActionBy:   actor,
			Comments:   comments,
		}
		return tx.Create(&history).Error
	})
	if err != nil {
		return nil, err
	}
	return GetIncident(ctx, incident.ID)
}

// AssignIncident puts the incident in a maker's queue. Allowed from OPEN and
// ASSIGNED (reassignment before investigation starts).
func AssignIncident(ctx context.Context, id int, assignee string, expectedVersion int) (*Incident, error) {
	incident, err := GetIncident(ctx, id)
	if err != nil {
		return nil, err
	}
	if assignee == "" {
		return nil, errors.New("assignee is required")
	}
	if incident.Status != IncidentStatusOpen && incident.Status != IncidentStatusAssigned {
		return nil, NewGuardViolation(IncidentActionAssign, incident.Status,
			"incident %s can only be assigned from OPEN or ASSIGNED, current status is %s", incident.Number, incident.Status)
	}
	if err := validateAssignee(ctx, assignee); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	return incident.transition(ctx, IncidentActionAssign, IncidentStatusAssigned, expectedVersion,
		fmt.Sprintf("Assigned to %s.", assignee), map[string]interface{}{
			"assigned_to": assignee,
			"assigned_at": &now,
		})
}

// StartInvestigation is performed by the assignee only.
func StartInvestigation(ctx context.Context, id int, expectedVersion int) (*Incident, error) {
	incident, err := GetIncident(ctx, id)
	if err != nil {
		return nil, err
	}
	if incident.Status != IncidentStatusAssigned {
		return nil, NewGuardViolation(IncidentActionStartInvestigation, incident.Status,
			"investigation on incident %s can only start from ASSIGNED, current status is %s", incident.Number, incident.Status)
	}
	actor, _ := utils.GetUsernameFromContext(ctx)
	if incident.AssignedTo == nil || actor != *incident.AssignedTo {
		return nil, NewGuardViolation(IncidentActionStartInvestigation, incident.Status,
			"only the assignee may start investigating incident %s", incident.Number)
	}

	return incident.transition(ctx, IncidentActionStartInvestigation, IncidentStatusUnderInvestigation, expectedVersion,
		"", map[string]interface{}{})
}

// SubmitResolution is the maker handing the incident to a checker. Allowed
// from UNDER_INVESTIGATION, and from CHECKER_REJECTED for resubmission.
func SubmitResolution(ctx context.Context, id int, note string, expectedVersion int) (*Incident, error) {
	incident, err := GetIncident(ctx, id)
	if err != nil {
		return nil, err
	}
	if incident.Status != IncidentStatusUnderInvestigation && incident.Status != IncidentStatusCheckerRejected {
		return nil, NewGuardViolation(IncidentActionSubmitResolution, incident.Status,
			"resolution for incident %s can only be submitted from UNDER_INVESTIGATION or CHECKER_REJECTED, current status is %s", incident.Number, incident.Status)
	}
	if note == "" {
		return nil, NewGuardViolation(IncidentActionSubmitResolution, incident.Status,
			"a resolution note is required to submit incident %s for review", incident.Number)
	}
	actor, _ := utils.GetUsernameFromContext(ctx)
	if incident.AssignedTo == nil || actor != *incident.AssignedTo {
		return nil, NewGuardViolation(IncidentActionSubmitResolution, incident.Status,
			"only the assignee may submit a resolution for incident %s", incident.Number)
	}

	now := time.Now().UTC()
	return incident.transition(ctx, IncidentActionSubmitResolution, IncidentStatusPendingCheckerReview, expectedVersion,
		note, map[string]interface{}{
			"resolution_note": &note,
			"resolved_by":     &actor,
			"resolved_at":     &now,
		})
}

// ApproveIncident is the checker accepting the maker's resolution. The
// checker must not be the maker.
func ApproveIncident(ctx context.Context, id int, comment string, expectedVersion int) (*Incident, error) {
	incident, err := GetIncident(ctx, id)
	if err != nil {
		return nil, err
	}
	if incident.Status != IncidentStatusPendingCheckerReview {
		return nil, NewGuardViolation(IncidentActionApprove, incident.Status,
			"incident %s can only be approved from PENDING_CHECKER_REVIEW, current status is %s", incident.Number, incident.Status)
	}
	actor, _ := utils.GetUsernameFromContext(ctx)
	if err := validateCheckerAction(incident, actor); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	return incident.transition(ctx, IncidentActionApprove, IncidentStatusResolved, expectedVersion,
		comment, map[string]interface{}{
			"checked_by":      &actor,
			"checked_at":      &now,
			"checker_comment": utils.NilIfEmpty(comment),
		})
}

// RejectIncident sends the incident back to the maker with a mandatory
// comment and an incremented rejection count.
func RejectIncident(ctx context.Context, id int, comment string, expectedVersion int) (*Incident, error) {
	incident, err := GetIncident(ctx, id)
	if err != nil {
		return nil, err
	}
	if incident.Status != IncidentStatusPendingCheckerReview {
		return nil, NewGuardViolation(IncidentActionReject, incident.Status,
			"incident %s can only be rejected from PENDING_CHECKER_REVIEW, current status is %s", incident.Number, incident.Status)
	}
	if comment == "" {
		return nil, NewGuardViolation(IncidentActionReject, incident.Status,
			"a checker comment is required to reject incident %s", incident.Number)
	}
	actor, _ := utils.GetUsernameFromContext(ctx)
	if err := validateCheckerAction(incident, actor); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	return incident.transition(ctx, IncidentActionReject, IncidentStatusCheckerRejected, expectedVersion,
		comment, map[string]interface{}{
			"checked_by":      &actor,
			"checked_at":      &now,
			"checker_comment": &comment,
			"rejection_count": gorm.Expr("rejection_count + 1"),
		})
}

// CloseIncident archives a resolved incident.
func CloseIncident(ctx context.Context, id int, comment string, expectedVersion int) (*Incident, error) {
	incident, err := GetIncident(ctx, id)
	if err != nil {
		return nil, err
	}
	if incident.Status != IncidentStatusResolved {
		return nil, NewGuardViolation(IncidentActionClose, incident.Status,
			"incident %s can only be closed from RESOLVED, current status is %s", incident.Number, incident.Status)
	}

	return incident.transition(ctx, IncidentActionClose, IncidentStatusClosed, expectedVersion,
		comment, map[string]interface{}{})
}

// EscalateIncident pulls the incident out of the normal flow. Allowed from
// any non-terminal status; reason is mandatory.
func EscalateIncident(ctx context.Context, id int, reason string, expectedVersion int) (*Incident, error) {
	incident, err := GetIncident(ctx, id)
	if err != nil {
		return nil, err
	}
	if incident.Status.IsTerminal() {
		return nil, NewGuardViolation(IncidentActionEscalate, incident.Status,
			"incident %s is already terminal (%s) and cannot be escalated", incident.Number, incident.Status)
	}
	if reason == "" {
		return nil, NewGuardViolation(IncidentActionEscalate, incident.Status,
			"an escalation reason is required for incident %s", incident.Number)
	}
	actor, _ := utils.GetUsernameFromContext(ctx)

	now := time.Now().UTC()
	return incident.transition(ctx, IncidentActionEscalate, IncidentStatusEscalated, expectedVersion,
		reason, map[string]interface{}{
			"escalation_reason": &reason,
			"escalated_by":      &actor,
			"escalated_at":      &now,
		})
}

// AddIncidentComment appends a COMMENT history row without a status change.
func AddIncidentComment(ctx context.Context, id int, comment string) (*IncidentHistory, error) {
	db := config.GetDB()

	incident, err := GetIncident(ctx, id)
	if err != nil {
		return nil, err
	}
	if comment == "" {
		return nil, errors.New("comment is required")
	}
	actor := actorFromContext(ctx)

	history := IncidentHistory{
		IncidentId: incident.ID,
		FromStatus: incident.Status,
		ToStatus:   incident.Status,
		Action:     IncidentActionComment,
		ActionBy:   actor,
		Comments:   comment,
	}
	if err := db.WithContext(ctx).Create(&history).Error; err != nil {
		return nil, err
	}
	return &history, nil
}

// validateCheckerAction enforces segregation of duties: the approving or
// rejecting user must differ from the maker who submitted the resolution.
func validateCheckerAction(incident *Incident, actor string) error {
	if actor == "" {
		return errors.New("checker identity is required")
	}
	if incident.ResolvedBy != nil && actor == *incident.ResolvedBy {
		return ErrSegregationOfDuties
	}
	return nil
}

func validateAssignee(ctx context.Context, assignee string) error {
	count, err := utils.ResourceCountWhere[User](ctx, "username = ? AND is_active = 1", assignee)
	if err != nil {
		return err
	}
	if count <= 0 {
		return fmt.Errorf("assignee %q is not an active user", assignee)
	}
	return nil
}
