package main

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/recon_backend/models"
	"bitbucket.org/mmdatafocus/recon_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

// pathId parses the :id path param. Responds 400 and returns false on garbage.
func pathId(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		utils.RespondError(c, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func queryInt(c *gin.Context, name string) *int {
	v := c.Query(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil
	}
	return &n
}

func queryBool(c *gin.Context, name string) *bool {
	switch c.Query(name) {
	case "true", "1":
		return utils.NewTrue()
	case "false", "0":
		return utils.NewFalse()
	}
	return nil
}

// handleServiceError translates model-layer errors into HTTP statuses.
// Anything unrecognized is treated as an internal failure and logged via
// the gin error chain.
func handleServiceError(c *gin.Context, err error) {
	var guard *models.GuardViolationError
	switch {
	case errors.Is(err, utils.ErrorRecordNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		utils.RespondError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrRunAlreadyActive),
		errors.Is(err, models.ErrConcurrentModification):
		utils.RespondError(c, http.StatusConflict, err.Error())
	case errors.Is(err, models.ErrSegregationOfDuties):
		utils.RespondError(c, http.StatusForbidden, err.Error())
	case errors.As(err, &guard):
		utils.RespondError(c, http.StatusUnprocessableEntity, err.Error())
	default:
		// Model-layer validation errors carry a caller-fixable message.
		// Log through the gin error chain either way.
		_ = c.Error(err)
		utils.RespondError(c, http.StatusBadRequest, err.Error())
	}
}

func bindJSON(c *gin.Context, obj interface{}) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		var verr validator.ValidationErrors
		if errors.As(err, &verr) {
			respondValidationErrors(c, err)
			return false
		}
		utils.RespondError(c, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func respondValidationErrors(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, utils.ApiResponse{
		Success:   false,
		Message:   "validation failed",
		Data:      utils.ProcessValidationErrors(err),
		Timestamp: time.Now().UTC(),
	})
}
