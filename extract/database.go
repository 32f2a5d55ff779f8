package extract

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/recon_backend/models"
	_ "github.com/go-sql-driver/mysql"
)

// DatabaseExtractor runs the configured query against an external MySQL
// endpoint. Every column is scanned as a nullable string so the matching
// engine sees values exactly as the database renders them.
type DatabaseExtractor struct{}

func (e *DatabaseExtractor) Extract(ctx context.Context, system *models.SourceSystem) ([]Record, error) {
	conn := system.Connection.Database
	if conn == nil {
		return nil, fmt.Errorf("system %s has no database connection", system.Code)
	}
	if conn.Query == "" {
		return nil, fmt.Errorf("system %s has no extraction query", system.Code)
	}

	db, err := e.open(ctx, conn.Dsn)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, conn.Query)
	if err != nil {
		return nil, models.Transient(fmt.Errorf("query failed on system %s: %w", system.Code, err))
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var records []Record
	values := make([]sql.NullString, len(columns))
	scanArgs := make([]interface{}, len(columns))
	for i := range values {
		scanArgs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(scanArgs...); err != nil {
			return nil, err
		}
		record := make(Record, len(columns))
		for i, col := range columns {
			if values[i].Valid {
				record[col] = stringPtr(values[i].String)
			} else {
				record[col] = nil
			}
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, models.Transient(fmt.Errorf("row iteration failed on system %s: %w", system.Code, err))
	}
	return records, nil
}

func (e *DatabaseExtractor) TestConnection(ctx context.Context, system *models.SourceSystem) error {
	conn := system.Connection.Database
	if conn == nil {
		return fmt.Errorf("system %s has no database connection", system.Code)
	}
	db, err := e.open(ctx, conn.Dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	return nil
}

func (e *DatabaseExtractor) open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid dsn: %w", err)
	}
	db.SetConnMaxLifetime(time.Minute)
	db.SetMaxOpenConns(2)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, models.Transient(fmt.Errorf("cannot reach database: %w", err))
	}
	return db, nil
}
