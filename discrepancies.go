package main

import (
	"bitbucket.org/mmdatafocus/recon_backend/models"
	"bitbucket.org/mmdatafocus/recon_backend/utils"
	"github.com/gin-gonic/gin"
)

func discrepancyFilterFromQuery(c *gin.Context) models.DiscrepancyFilter {
	filter := models.DiscrepancyFilter{
		RunDbId:  queryInt(c, "run_id"),
		ConfigId: queryInt(c, "config_id"),
	}
	if v := c.Query("type"); v != "" {
		t := models.DiscrepancyType(v)
		filter.Type = &t
	}
	if v := c.Query("severity"); v != "" {
		s := models.Severity(v)
		filter.Severity = &s
	}
	if v := c.Query("status"); v != "" {
		s := models.DiscrepancyStatus(v)
		filter.Status = &s
	}
	return filter
}

func listDiscrepanciesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		req := models.ParsePageRequest(c)
		discrepancies, pageInfo, err := models.PaginateDiscrepancies(c.Request.Context(), req, discrepancyFilterFromQuery(c))
		if err != nil {
			handleServiceError(c, err)
			return
		}
		utils.RespondPage(c, "discrepancies", discrepancies, pageInfo)
	}
}

func getDiscrepancyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		discrepancy, err := models.GetDiscrepancy(c.Request.Context(), id)
		if err != nil {
			handleServiceError(c, err)
			return
		}
		utils.RespondOK(c, "discrepancy", discrepancy)
	}
}

type discrepancyNoteRequest struct {
	Note string `json:"note" binding:"required"`
}

func resolveDiscrepancyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		var req discrepancyNoteRequest
		if !bindJSON(c, &req) {
			return
		}
		discrepancy, err := models.ResolveDiscrepancy(c.Request.Context(), id, req.Note)
		if err != nil {
			handleServiceError(c, err)
			return
		}
		utils.RespondOK(c, "discrepancy resolved", discrepancy)
	}
}

func ignoreDiscrepancyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		var req discrepancyNoteRequest
		if !bindJSON(c, &req) {
			return
		}
		discrepancy, err := models.IgnoreDiscrepancy(c.Request.Context(), id, req.Note)
		if err != nil {
			handleServiceError(c, err)
			return
		}
		utils.RespondOK(c, "discrepancy ignored", discrepancy)
	}
}
