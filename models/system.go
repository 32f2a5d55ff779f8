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

// SourceSystem is an external system records are extracted from.
// The connection descriptor is a tagged variant: exactly one of the
// per-type blocks must be present, matching Type.
type SourceSystem struct {
	ID          int              `gorm:"primary_key" json:"id"`
	Code        string           `gorm:"size:50;not null;unique" json:"code" binding:"required"`
	Name        string           `gorm:"size:255;not null" json:"name" binding:"required"`
	Description string           `gorm:"type:text" json:"description"`
	Type        SystemType       `gorm:"size:20;not null" json:"type" binding:"required"`
	Connection  ConnectionConfig `gorm:"serializer:json;type:text" json:"connection"`
	IsActive    *bool            `gorm:"not null;default:true" json:"is_active"`
	CreatedAt   time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt   gorm.DeletedAt   `gorm:"index" json:"-"`
}

type ConnectionConfig struct {
	Database *DatabaseConnection `json:"database,omitempty"`
	RestApi  *RestApiConnection  `json:"rest_api,omitempty"`
	FileCsv  *FileCsvConnection  `json:"file_csv,omitempty"`
}

type DatabaseConnection struct {
	Dsn   string `json:"dsn"`
	Query string `json:"query"`
}

type RestApiConnection struct {
	Url             string `json:"url"`
	AuthHeaderName  string `json:"auth_header_name,omitempty"`
	AuthHeaderValue string `json:"auth_header_value,omitempty"`
	// RecordsPath selects the array of records in the response body.
	// Empty means the body itself is the array.
	RecordsPath    string `json:"records_path,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

type FileCsvConnection struct {
	Path      string `json:"path"`
	Delimiter string `json:"delimiter,omitempty"`
	// HasHeader nil means the file carries a header row.
	HasHeader *bool `json:"has_header,omitempty"`
}

// Validate checks the variant block matches the declared system type.
func (s *SourceSystem) Validate() error {
	if !s.Type.IsValid() {
		return fmt.Errorf("invalid system type %q", s.Type)
	}
	set := 0
	if s.Connection.Database != nil {
		set++
	}
	if s.Connection.RestApi != nil {
		set++
	}
	if s.Connection.FileCsv != nil {
		set++
	}
	if set != 1 {
		return errors.New("exactly one connection block must be set")
	}
	switch s.Type {
	case SystemTypeDatabase:
		if s.Connection.Database == nil {
			return errors.New("DATABASE system requires the database connection block")
		}
		if s.Connection.Database.Dsn == "" || s.Connection.Database.Query == "" {
			return errors.New("database connection requires dsn and query")
		}
	case SystemTypeRestApi:
		if s.Connection.RestApi == nil {
			return errors.New("REST_API system requires the rest_api connection block")
		}
		if s.Connection.RestApi.Url == "" {
			return errors.New("rest_api connection requires url")
		}
	case SystemTypeFileCsv:
		if s.Connection.FileCsv == nil {
			return errors.New("FILE_CSV system requires the file_csv connection block")
		}
		if s.Connection.FileCsv.Path == "" {
			return errors.New("file_csv connection requires path")
		}
	}
	return nil
}

type NewSourceSystem struct {
	Code        string           `json:"code" binding:"required"`
	Name        string           `json:"name" binding:"required"`
	Description string           `json:"description"`
	Type        SystemType       `json:"type" binding:"required"`
	Connection  ConnectionConfig `json:"connection" binding:"required"`
	IsActive    *bool            `json:"is_active"`
}

/*
caches:
	SourceSystem:$id
	SourceSystemList
*/

func CreateSourceSystem(ctx context.Context, input *NewSourceSystem) (*SourceSystem, error) {
	db := config.GetDB()

	isActive := input.IsActive
	if isActive == nil {
		isActive = utils.NewTrue()
	}
	system := SourceSystem{
		Code:        input.Code,
		Name:        input.Name,
		Description: input.Description,
		Type:        input.Type,
		Connection:  input.Connection,
		IsActive:    isActive,
	}
	if err := system.Validate(); err != nil {
		return nil, err
	}

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&system).Error; err != nil {
			if IsDuplicateKeyErr(err) {
				return fmt.Errorf("system code %q already exists", input.Code)
			}
			return err
		}
		return SaveHistoryCreate(tx, system.ID, "SourceSystem", &system,
			fmt.Sprintf("Source system %s created.", system.Code))
	})
	if err != nil {
		return nil, err
	}

	if err := utils.RemoveRedisList[SourceSystem](); err != nil {
		return nil, err
	}
	return &system, nil
}

func GetSourceSystem(ctx context.Context, id int) (*SourceSystem, error) {
	// find in redis
	result, err := utils.RetrieveRedis[SourceSystem](id)
	if err != nil {
		return nil, err
	}
	if result == nil {
		result, err = utils.FetchModel[SourceSystem](ctx, id)
		if err != nil {
			return nil, err
		}
		if err := utils.StoreRedis[SourceSystem](result, id); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func GetSourceSystemByCode(ctx context.Context, code string) (*SourceSystem, error) {
	db := config.GetDB()
	var result SourceSystem
	if err := db.WithContext(ctx).Where("code = ?", code).First(&result).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &result, nil
}

func PaginateSourceSystems(ctx context.Context, req PageRequest, systemType *SystemType, active *bool) ([]*SourceSystem, *utils.PageInfo, error) {
	db := config.GetDB()
	query := db.WithContext(ctx).Model(&SourceSystem{})
	if systemType != nil && *systemType != "" {
		query = query.Where("type = ?", *systemType)
	}
	if active != nil {
		query = query.Where("is_active = ?", *active)
	}
	return FetchPage[SourceSystem](query, req, "code ASC")
}

func (input *SourceSystem) UpdateSourceSystem(ctx context.Context, id int) (*SourceSystem, error) {
	db := config.GetDB()

	old, err := utils.FetchModel[SourceSystem](ctx, id)
	if err != nil {
		return nil, err
	}
	if err := utils.ValidateUnique[SourceSystem](ctx, "code", input.Code, id); err != nil {
		return nil, err
	}
	input.ID = id
	if err := input.Validate(); err != nil {
		return nil, err
	}

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&SourceSystem{}).Where("id = ?", id).Updates(map[string]interface{}{
			"code":        input.Code,
			"name":        input.Name,
			"description": input.Description,
			"type":        input.Type,
			"connection":  input.Connection,
			"is_active":   input.IsActive,
		}).Error; err != nil {
			return err
		}
		return SaveHistoryUpdate(tx, id, "SourceSystem", old, input, fmt.Sprintf("Source system %s updated.", input.Code))
	})
	if err != nil {
		return nil, err
	}

	if err := utils.RemoveRedisItem[SourceSystem](id); err != nil {
		return nil, err
	}
	if err := utils.RemoveRedisList[SourceSystem](); err != nil {
		return nil, err
	}
	return utils.FetchModel[SourceSystem](ctx, id)
}

func DeleteSourceSystem(ctx context.Context, id int) (*SourceSystem, error) {
	db := config.GetDB()

	system, err := utils.FetchModel[SourceSystem](ctx, id)
	if err != nil {
		return nil, err
	}

	// a system referenced by a config cannot be removed
	var count int64
	if err := db.WithContext(ctx).Model(&ReconciliationConfig{}).
		Where("source_system_id = ? OR target_system_id = ?", id, id).
		Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, errors.New("system is referenced by reconciliation configs")
	}

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&SourceSystem{}, id).Error; err != nil {
			return err
		}
		return SaveHistoryDelete(tx, id, "SourceSystem", system, fmt.Sprintf("Source system %s deleted.", system.Code))
	})
	if err != nil {
		return nil, err
	}

	if err := utils.RemoveRedisItem[SourceSystem](id); err != nil {
		return nil, err
	}
	if err := utils.RemoveRedisList[SourceSystem](); err != nil {
		return nil, err
	}
	return system, nil
}
