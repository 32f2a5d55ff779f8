package utils

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// ApiResponse is the envelope every REST endpoint returns.
type ApiResponse struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestId string      `json:"requestId,omitempty"`
	PageInfo  *PageInfo   `json:"pageInfo,omitempty"`
}

type PageInfo struct {
	Page          int   `json:"page"`
	Size          int   `json:"size"`
	TotalElements int64 `json:"totalElements"`
	TotalPages    int   `json:"totalPages"`
	HasNext       bool  `json:"hasNext"`
	HasPrevious   bool  `json:"hasPrevious"`
}

func NewPageInfo(page, size int, totalElements int64) *PageInfo {
	if size <= 0 {
		size = 1
	}
	totalPages := int((totalElements + int64(size) - 1) / int64(size))
	return &PageInfo{
		Page:          page,
		Size:          size,
		TotalElements: totalElements,
		TotalPages:    totalPages,
		HasNext:       page+1 < totalPages,
		HasPrevious:   page > 0,
	}
}

func respond(c *gin.Context, status int, resp ApiResponse) {
	resp.Timestamp = time.Now().UTC()
	if cid, ok := GetCorrelationIdFromContext(c.Request.Context()); ok {
		resp.RequestId = cid
	}
	c.JSON(status, resp)
}

func RespondOK(c *gin.Context, message string, data interface{}) {
	respond(c, http.StatusOK, ApiResponse{Success: true, Message: message, Data: data})
}

func RespondCreated(c *gin.Context, message string, data interface{}) {
	respond(c, http.StatusCreated, ApiResponse{Success: true, Message: message, Data: data})
}

func RespondPage(c *gin.Context, message string, data interface{}, pageInfo *PageInfo) {
	respond(c, http.StatusOK, ApiResponse{Success: true, Message: message, Data: data, PageInfo: pageInfo})
}

func RespondError(c *gin.Context, status int, message string) {
	respond(c, status, ApiResponse{Success: false, Message: message})
}
