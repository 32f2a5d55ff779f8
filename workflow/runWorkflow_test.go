package workflow

import (
	"context"
	"errors"
	"testing"

	"bitbucket.org/mmdatafocus/recon_backend/config"
	"bitbucket.org/mmdatafocus/recon_backend/models"
	"github.com/DATA-DOG/go-sqlmock"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

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

func TestTriggerRun_SecondTriggerRejected(t *testing.T) {
	mock := newStubDB(t)

	mock.ExpectQuery("SELECT (.+) FROM `reconciliation_configs`").
		WillReturnRows(sqlmock.NewRows([]string{"id", "code", "name", "is_active", "source_system_id", "target_system_id"}).
			AddRow(7, "GL-CASH", "GL vs cash ledger", 1, 1, 2))
	mock.ExpectQuery("SELECT (.+) FROM `attribute_mappings`").
		WillReturnRows(sqlmock.NewRows([]string{"id", "config_id"}))
	mock.ExpectQuery("SELECT (.+) FROM `source_systems`").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery("SELECT (.+) FROM `source_systems`").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	// no prior configuration-error run on record
	mock.ExpectQuery("SELECT (.+) FROM `reconciliation_runs`").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT GET_LOCK\\(\\?, 30\\)").
		WillReturnRows(sqlmock.NewRows([]string{"ok"}).AddRow(1))
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM `reconciliation_runs`").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("SELECT RELEASE_LOCK\\(\\?\\)").
		WillReturnRows(sqlmock.NewRows([]string{"ok"}).AddRow(1))
	mock.ExpectRollback()

	_, err := TriggerRun(context.Background(), 7, models.TriggerTypeManual, "operator1")
	if !errors.Is(err, models.ErrRunAlreadyActive) {
		t.Fatalf("got %v, want ErrRunAlreadyActive", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
