package main

import (
	"bitbucket.org/mmdatafocus/recon_backend/models"
	"bitbucket.org/mmdatafocus/recon_backend/utils"
	"github.com/gin-gonic/gin"
)

func incidentFilterFromQuery(c *gin.Context) models.IncidentFilter {
	filter := models.IncidentFilter{
		ConfigId: queryInt(c, "config_id"),
		Bucket:   c.Query("bucket"),
		Overdue:  c.Query("overdue") == "true",
	}
	if v := c.Query("status"); v != "" {
		s := models.IncidentStatus(v)
		filter.Status = &s
	}
	if v := c.Query("severity"); v != "" {
		s := models.Severity(v)
		filter.Severity = &s
	}
	if v := c.Query("assigned_to"); v != "" {
		filter.AssignedTo = &v
	}
	return filter
}

func listIncidentsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		req := models.ParsePageRequest(c)
		incidents, pageInfo, err := models.PaginateIncidents(c.Request.Context(), req, incidentFilterFromQuery(c))
		if err != nil {
			handleServiceError(c, err)
			return
		}
		utils.RespondPage(c, "incidents", incidents, pageInfo)
	}
}

func getIncidentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		incident, err := models.GetIncident(c.Request.Context(), id)
		if err != nil {
			handleServiceError(c, err)
			return
		}
		utils.RespondOK(c, "incident", incident)
	}
}

func getIncidentHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		histories, err := models.GetIncidentHistories(c.Request.Context(), id)
		if err != nil {
			handleServiceError(c, err)
			return
		}
		utils.RespondOK(c, "incident history", histories)
	}
}

// Every transition request carries the version the client last saw. The
// optimistic-lock check turns a stale version into 409.
type assignIncidentRequest struct {
	Assignee string `json:"assignee" binding:"required"`
	Version  *int   `json:"version" binding:"required"`
}

func assignIncidentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		var req assignIncidentRequest
		if !bindJSON(c, &req) {
			return
		}
		incident, err := models.AssignIncident(c.Request.Context(), id, req.Assignee, *req.Version)
		if err != nil {
			handleServiceError(c, err)
			return
		}
		utils.RespondOK(c, "incident assigned", incident)
	}
}

type incidentVersionRequest struct {
	Version *int `json:"version" binding:"required"`
}

func startInvestigationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		var req incidentVersionRequest
		if !bindJSON(c, &req) {
			return
		}
		incident, err := models.StartInvestigation(c.Request.Context(), id, *req.Version)
		if err != nil {
			handleServiceError(c, err)
			return
		}
		utils.RespondOK(c, "investigation started", incident)
	}
}

type submitResolutionRequest struct {
	Note    string `json:"note" binding:"required"`
	Version *int   `json:"version" binding:"required"`
}

func submitResolutionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		var req submitResolutionRequest
		if !bindJSON(c, &req) {
			return
		}
		incident, err := models.SubmitResolution(c.Request.Context(), id, req.Note, *req.Version)
		if err != nil {
			handleServiceError(c, err)
			return
		}
		utils.RespondOK(c, "resolution submitted for review", incident)
	}
}

type incidentCommentVersionRequest struct {
	Comment string `json:"comment"`
	Version *int   `json:"version" binding:"required"`
}

func approveIncidentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		var req incidentCommentVersionRequest
		if !bindJSON(c, &req) {
			return
		}
		incident, err := models.ApproveIncident(c.Request.Context(), id, req.Comment, *req.Version)
		if err != nil {
			handleServiceError(c, err)
			return
		}
		utils.RespondOK(c, "resolution approved", incident)
	}
}

func rejectIncidentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		var req incidentCommentVersionRequest
		if !bindJSON(c, &req) {
			return
		}
		incident, err := models.RejectIncident(c.Request.Context(), id, req.Comment, *req.Version)
		if err != nil {
			handleServiceError(c, err)
			return
		}
		utils.RespondOK(c, "resolution rejected", incident)
	}
}

func closeIncidentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		var req incidentCommentVersionRequest
		if !bindJSON(c, &req) {
			return
		}
		incident, err := models.CloseIncident(c.Request.Context(), id, req.Comment, *req.Version)
		if err != nil {
			handleServiceError(c, err)
			return
		}
		utils.RespondOK(c, "incident closed", incident)
	}
}

type escalateIncidentRequest struct {
	Reason  string `json:"reason" binding:"required"`
	Version *int   `json:"version" binding:"required"`
}

func escalateIncidentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		var req escalateIncidentRequest
		if !bindJSON(c, &req) {
			return
		}
		incident, err := models.EscalateIncident(c.Request.Context(), id, req.Reason, *req.Version)
		if err != nil {
			handleServiceError(c, err)
			return
		}
		utils.RespondOK(c, "incident escalated", incident)
	}
}

type incidentCommentRequest struct {
	Comment string `json:"comment" binding:"required"`
}

func addIncidentCommentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		var req incidentCommentRequest
		if !bindJSON(c, &req) {
			return
		}
		history, err := models.AddIncidentComment(c.Request.Context(), id, req.Comment)
		if err != nil {
			handleServiceError(c, err)
			return
		}
		utils.RespondCreated(c, "comment added", history)
	}
}
