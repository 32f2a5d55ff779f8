package models

import (
	"log"

	"bitbucket.org/mmdatafocus/recon_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&SourceSystem{},
		&ReconciliationConfig{}, &AttributeMapping{},
		&ReconciliationSchedule{},
		&ReconciliationRun{}, &RunLog{},
		&Discrepancy{},
		&Incident{}, &IncidentHistory{},
		&History{},
		&User{},
		&IdempotencyKey{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
