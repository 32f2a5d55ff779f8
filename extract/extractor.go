// Package extract pulls raw records out of the external systems being
// reconciled. Each extractor returns rows as column name to nullable value
// maps; type conversion and comparison happen later in the matching engine.
package extract

import (
	"context"
	"fmt"

	"bitbucket.org/mmdatafocus/recon_backend/models"
)

// Record is one row from an external system. A nil value means the system
// reported the column as null or absent.
type Record = map[string]*string

type Extractor interface {
	Extract(ctx context.Context, system *models.SourceSystem) ([]Record, error)
	TestConnection(ctx context.Context, system *models.SourceSystem) error
}

// ForSystem picks the extractor matching the system's connection type.
func ForSystem(system *models.SourceSystem) (Extractor, error) {
	switch system.Type {
	case models.SystemTypeDatabase:
		return &DatabaseExtractor{}, nil
	case models.SystemTypeRestApi:
		return &RestApiExtractor{}, nil
	case models.SystemTypeFileCsv:
		return &CsvExtractor{}, nil
	default:
		return nil, fmt.Errorf("no extractor for system type %q", system.Type)
	}
}

func stringPtr(s string) *string {
	return &s
}
