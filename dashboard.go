package main

import (
	"strconv"

	"bitbucket.org/mmdatafocus/recon_backend/models"
	"bitbucket.org/mmdatafocus/recon_backend/models/reports"
	"bitbucket.org/mmdatafocus/recon_backend/utils"
	"github.com/gin-gonic/gin"
)

func queryDays(c *gin.Context, def int) int {
	days, err := strconv.Atoi(c.DefaultQuery("days", strconv.Itoa(def)))
	if err != nil || days <= 0 {
		return def
	}
	if days > 365 {
		days = 365
	}
	return days
}

func dashboardSummaryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		summary, err := reports.GetDashboardSummary(c.Request.Context())
		if err != nil {
			handleServiceError(c, err)
			return
		}
		utils.RespondOK(c, "dashboard summary", summary)
	}
}

func runTrendHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		trend, err := reports.GetRunTrend(c.Request.Context(), queryDays(c, 30), queryInt(c, "config_id"))
		if err != nil {
			handleServiceError(c, err)
			return
		}
		utils.RespondOK(c, "run trend", trend)
	}
}

func discrepancyBreakdownHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		breakdown, err := reports.GetDiscrepancyBreakdown(c.Request.Context(), queryDays(c, 30), queryInt(c, "config_id"))
		if err != nil {
			handleServiceError(c, err)
			return
		}
		utils.RespondOK(c, "discrepancy breakdown", breakdown)
	}
}

func incidentAgingHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		aging, err := reports.GetIncidentAging(c.Request.Context())
		if err != nil {
			handleServiceError(c, err)
			return
		}
		utils.RespondOK(c, "incident aging", aging)
	}
}

func listAuditHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var referenceType *string
		if v := c.Query("reference_type"); v != "" {
			referenceType = &v
		}
		histories, err := models.GetHistories(c.Request.Context(), queryInt(c, "reference_id"), referenceType, queryInt(c, "user_id"))
		if err != nil {
			handleServiceError(c, err)
			return
		}
		utils.RespondOK(c, "audit trail", histories)
	}
}
