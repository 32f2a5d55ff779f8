package models

import (
	"context"
	"errors"
	"testing"

	"bitbucket.org/mmdatafocus/recon_backend/config"
	"bitbucket.org/mmdatafocus/recon_backend/utils"
	"github.com/DATA-DOG/go-sqlmock"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newStubDB points the global DB at a sqlmock-backed gorm handle for the
// duration of one test.
func newStubDB(t *testing.T) sqlmock.Sqlmock {
	t.Helper()
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	gdb, err := gorm.Open(gormmysql.New(gormmysql.Config{
		Conn:                      conn,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		DisableAutomaticPing: true,
		Logger:               logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("gorm open: %v", err)
	}
	config.SetDB(gdb)
	t.Cleanup(func() {
		config.SetDB(nil)
		conn.Close()
	})
	return mock
}

var incidentColumns = []string{"id", "number", "status", "assigned_to", "resolved_by", "rejection_count", "version"}

func TestRejectIncident_ReturnsToMaker(t *testing.T) {
	mock := newStubDB(t)
	maker := "maker1"

	mock.ExpectQuery("SELECT (.+) FROM `incidents`").
		WillReturnRows(sqlmock.NewRows(incidentColumns).
			AddRow(42, "INC-20260801-0001", "PENDING_CHECKER_REVIEW", maker, maker, 0, 3))

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `incidents` SET (.+)`rejection_count`=rejection_count \\+ 1(.+)WHERE id = \\? AND version = \\?").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO `incident_histories`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	mock.ExpectQuery("SELECT (.+) FROM `incidents`").
		WillReturnRows(sqlmock.NewRows(incidentColumns).
			AddRow(42, "INC-20260801-0001", "CHECKER_REJECTED", maker, maker, 1, 4))

	ctx := utils.SetUsernameInContext(context.Background(), "checker1")
	incident, err := RejectIncident(ctx, 42, "key mapping is wrong, please rework", 3)
	if err != nil {
		t.Fatalf("RejectIncident: %v", err)
	}
	if incident.Status != IncidentStatusCheckerRejected {
		t.Errorf("status = %s, want CHECKER_REJECTED", incident.Status)
	}
	if incident.RejectionCount != 1 {
		t.Errorf("rejection_count = %d, want 1", incident.RejectionCount)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestApproveIncident_MakerCannotApprove(t *testing.T) {
	mock := newStubDB(t)
	maker := "maker1"

	mock.ExpectQuery("SELECT (.+) FROM `incidents`").
		WillReturnRows(sqlmock.NewRows(incidentColumns).
			AddRow(42, "INC-20260801-0001", "PENDING_CHECKER_REVIEW", maker, maker, 0, 3))

	ctx := utils.SetUsernameInContext(context.Background(), maker)
	_, err := ApproveIncident(ctx, 42, "looks fine", 3)
	if !errors.Is(err, ErrSegregationOfDuties) {
		t.Fatalf("got %v, want ErrSegregationOfDuties", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRejectIncident_RequiresComment(t *testing.T) {
	mock := newStubDB(t)
	maker := "maker1"

	mock.ExpectQuery("SELECT (.+) FROM `incidents`").
		WillReturnRows(sqlmock.NewRows(incidentColumns).
			AddRow(42, "INC-20260801-0001", "PENDING_CHECKER_REVIEW", maker, maker, 0, 3))

	ctx := utils.SetUsernameInContext(context.Background(), "checker1")
	var guard *GuardViolationError
	if _, err := RejectIncident(ctx, 42, "", 3); !errors.As(err, &guard) {
		t.Fatalf("got %v, want GuardViolationError", err)
	}
}
