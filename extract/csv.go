package extract

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"bitbucket.org/mmdatafocus/recon_backend/models"
)

// CsvExtractor reads a delimited file from the local filesystem or a mounted
// share. Column names come from the header row when the connection declares
// one, otherwise they are generated as col_1..col_n.
type CsvExtractor struct{}

func (e *CsvExtractor) Extract(ctx context.Context, system *models.SourceSystem) ([]Record, error) {
	conn := system.Connection.FileCsv
	if conn == nil {
		return nil, fmt.Errorf("system %s has no file connection", system.Code)
	}

	file, err := os.Open(conn.Path)
	if err != nil {
		// mounted shares drop out and come back, worth a retry
		return nil, models.Transient(fmt.Errorf("failed to open file %s: %w", conn.Path, err))
	}
	defer file.Close()

	reader := csv.NewReader(file)
	if conn.Delimiter != "" {
		reader.Comma = rune(conn.Delimiter[0])
	}
	reader.TrimLeadingSpace = true

	var columns []string
	hasHeader := conn.HasHeader == nil || *conn.HasHeader
	if hasHeader {
		header, err := reader.Read()
		if err != nil {
			return nil, fmt.Errorf("failed to read header from %s: %w", conn.Path, err)
		}
		columns = header
	}

	var records []Record
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading record from %s: %w", conn.Path, err)
		}

		if columns == nil {
			columns = make([]string, len(row))
			for i := range row {
				columns[i] = fmt.Sprintf("col_%d", i+1)
			}
		}
		if len(row) != len(columns) {
			return nil, fmt.Errorf("row %d of %s has %d fields, want %d", len(records)+1, conn.Path, len(row), len(columns))
		}

		record := make(Record, len(columns))
		for i, col := range columns {
			record[col] = stringPtr(row[i])
		}
		records = append(records, record)
	}
	return records, nil
}

func (e *CsvExtractor) TestConnection(ctx context.Context, system *models.SourceSystem) error {
	conn := system.Connection.FileCsv
	if conn == nil {
		return fmt.Errorf("system %s has no file connection", system.Code)
	}
	info, err := os.Stat(conn.Path)
	if err != nil {
		return fmt.Errorf("cannot access %s: %w", conn.Path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory, not a file", conn.Path)
	}
	return nil
}
