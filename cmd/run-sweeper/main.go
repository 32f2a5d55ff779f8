// run-sweeper performs one scheduling and stall sweep, then exits.
// Deploy it as a cron job and set SCHEDULER_ENABLED=false and
// STALL_SWEEP_ENABLED=false on the API service so this job owns both sweeps.
//
// Usage (from backend directory):
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/run-sweeper
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"bitbucket.org/mmdatafocus/recon_backend/config"
	"bitbucket.org/mmdatafocus/recon_backend/workflow"
)

func main() {
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	logger := config.GetLogger()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	workflow.NewScheduler(db, logger).SweepOnce(ctx)
	workflow.NewStallSweeper(db, logger).SweepOnce(ctx)

	fmt.Println("sweep complete")
}
