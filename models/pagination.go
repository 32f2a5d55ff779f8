package models

import (
	"strconv"

	"bitbucket.org/mmdatafocus/recon_backend/utils"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 200
)

// PageRequest is a zero-based page/size pair parsed from query params.
type PageRequest struct {
	Page int
	Size int
}

func ParsePageRequest(c *gin.Context) PageRequest {
	page, err := strconv.Atoi(c.DefaultQuery("page", "0"))
	if err != nil || page < 0 {
		page = 0
	}
	size, err := strconv.Atoi(c.DefaultQuery("size", strconv.Itoa(DefaultPageSize)))
	if err != nil || size <= 0 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	return PageRequest{Page: page, Size: size}
}

// FetchPage counts and fetches one page of T from the prepared query.
// The query must already carry WHERE clauses; ordering is applied here.
func FetchPage[T any](query *gorm.DB, req PageRequest, order string) ([]*T, *utils.PageInfo, error) {
	var model T
	var total int64
	if err := query.Model(&model).Count(&total).Error; err != nil {
		return nil, nil, err
	}

	var results []*T
	if err := query.Order(order).
		Limit(req.Size).
		Offset(req.Page * req.Size).
		Find(&results).Error; err != nil {
		return nil, nil, err
	}

	return results, utils.NewPageInfo(req.Page, req.Size, total), nil
}
