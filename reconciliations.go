package main

import (
	"fmt"
	"net/http"

	"bitbucket.org/mmdatafocus/recon_backend/models"
	"bitbucket.org/mmdatafocus/recon_backend/models/reports"
	"bitbucket.org/mmdatafocus/recon_backend/utils"
	"bitbucket.org/mmdatafocus/recon_backend/workflow"
	"github.com/gin-gonic/gin"
)

func listConfigsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		req := models.ParsePageRequest(c)
		configs, pageInfo, err := models.PaginateReconciliationConfigs(c.Request.Context(), req, queryBool(c, "active"))
		if err != nil {
			handleServiceError(c, err)
			return
		}
		utils.RespondPage(c, "configs", configs, pageInfo)
	}
}

func createConfigHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewReconciliationConfig
		if !bindJSON(c, &input) {
			return
		}
		cfg, err := models.CreateReconciliationConfig(c.Request.Context(), &input)
		if err != nil {
			handleServiceError(c, err)
			return
		}
		utils.RespondCreated(c, "config created", cfg)
	}
}

func getConfigHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		cfg, err := models.GetReconciliationConfig(c.Request.Context(), id)
		if err != nil {
			handleServiceError(c, err)
			return
		}
		utils.RespondOK(c, "config", cfg)
	}
}

func updateConfigHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		var input models.NewReconciliationConfig
		if !bindJSON(c, &input) {
			return
		}
		cfg, err := models.UpdateReconciliationConfig(c.Request.Context(), id, &input)
		if err != nil {
			handleServiceError(c, err)
			return
		}
		utils.RespondOK(c, "config updated", cfg)
	}
}

func deleteConfigHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		cfg, err := models.DeleteReconciliationConfig(c.Request.Context(), id)
		if err != nil {
			handleServiceError(c, err)
			return
		}
		utils.RespondOK(c, "config deleted", cfg)
	}
}

type toggleConfigRequest struct {
	Active *bool `json:"active" binding:"required"`
}

func toggleConfigHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		var req toggleConfigRequest
		if !bindJSON(c, &req) {
			return
		}
		cfg, err := models.ToggleReconciliationConfig(c.Request.Context(), id, *req.Active)
		if err != nil {
			handleServiceError(c, err)
			return
		}
		utils.RespondOK(c, "config toggled", cfg)
	}
}

func triggerRunHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		triggeredBy, _ := utils.GetUsernameFromContext(c.Request.Context())
		run, err := workflow.TriggerRun(c.Request.Context(), id, models.TriggerTypeManual, triggeredBy)
		if err != nil {
			handleServiceError(c, err)
			return
		}
		// The dispatcher picks the run up asynchronously.
		utils.RespondCreated(c, "run accepted", run)
	}
}

func getScheduleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		schedule, err := models.GetSchedule(c.Request.Context(), id)
		if err != nil {
			handleServiceError(c, err)
			return
		}
		utils.RespondOK(c, "schedule", schedule)
	}
}

func listRunsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		req := models.ParsePageRequest(c)
		var status *models.RunStatus
		if v := c.Query("status"); v != "" {
			s := models.RunStatus(v)
			status = &s
		}
		runs, pageInfo, err := models.PaginateRuns(c.Request.Context(), req, queryInt(c, "config_id"), status)
		if err != nil {
			handleServiceError(c, err)
			return
		}
		utils.RespondPage(c, "runs", runs, pageInfo)
	}
}

func getRunHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		run, err := models.GetRun(c.Request.Context(), id)
		if err != nil {
			handleServiceError(c, err)
			return
		}
		utils.RespondOK(c, "run", run)
	}
}

func getRunLogsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		logs, err := models.GetRunLogs(c.Request.Context(), id)
		if err != nil {
			handleServiceError(c, err)
			return
		}
		utils.RespondOK(c, "run logs", logs)
	}
}

func listRunDiscrepanciesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		discrepancies, err := models.ListRunDiscrepancies(c.Request.Context(), id)
		if err != nil {
			handleServiceError(c, err)
			return
		}
		utils.RespondOK(c, "run discrepancies", discrepancies)
	}
}

func cancelRunHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		run, err := models.CancelRun(c.Request.Context(), id)
		if err != nil {
			handleServiceError(c, err)
			return
		}
		utils.RespondOK(c, "run cancelled", run)
	}
}

func exportRunHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		run, err := models.GetRun(c.Request.Context(), id)
		if err != nil {
			handleServiceError(c, err)
			return
		}
		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", run.RunId+"-discrepancies.xlsx"))
		if err := reports.ExportRunDiscrepanciesXlsx(c.Request.Context(), id, c.Writer); err != nil {
			// Headers are already out; the truncated body signals the failure.
			_ = c.Error(err)
			c.Status(http.StatusInternalServerError)
		}
	}
}
