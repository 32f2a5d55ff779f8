package main

import (
	"net/http"

	"bitbucket.org/mmdatafocus/recon_backend/extract"
	"bitbucket.org/mmdatafocus/recon_backend/models"
	"bitbucket.org/mmdatafocus/recon_backend/utils"
	"github.com/gin-gonic/gin"
)

func listSystemsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		req := models.ParsePageRequest(c)
		var systemType *models.SystemType
		if v := c.Query("type"); v != "" {
			t := models.SystemType(v)
			systemType = &t
		}
		systems, pageInfo, err := models.PaginateSourceSystems(c.Request.Context(), req, systemType, queryBool(c, "active"))
		if err != nil {
			handleServiceError(c, err)
			return
		}
		utils.RespondPage(c, "systems", systems, pageInfo)
	}
}

func createSystemHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewSourceSystem
		if !bindJSON(c, &input) {
			return
		}
		system, err := models.CreateSourceSystem(c.Request.Context(), &input)
		if err != nil {
			handleServiceError(c, err)
			return
		}
		utils.RespondCreated(c, "system created", system)
	}
}

func getSystemHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		system, err := models.GetSourceSystem(c.Request.Context(), id)
		if err != nil {
			handleServiceError(c, err)
			return
		}
		utils.RespondOK(c, "system", system)
	}
}

func updateSystemHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		var input models.SourceSystem
		if !bindJSON(c, &input) {
			return
		}
		system, err := input.UpdateSourceSystem(c.Request.Context(), id)
		if err != nil {
			handleServiceError(c, err)
			return
		}
		utils.RespondOK(c, "system updated", system)
	}
}

func deleteSystemHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		system, err := models.DeleteSourceSystem(c.Request.Context(), id)
		if err != nil {
			handleServiceError(c, err)
			return
		}
		utils.RespondOK(c, "system deleted", system)
	}
}

// testConnectionHandler probes the system's endpoint without extracting.
// Failures come back as 200 with reachable=false so the UI can render them.
func testConnectionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		system, err := models.GetSourceSystem(c.Request.Context(), id)
		if err != nil {
			handleServiceError(c, err)
			return
		}
		extractor, err := extract.ForSystem(system)
		if err != nil {
			utils.RespondError(c, http.StatusBadRequest, err.Error())
			return
		}
		if err := extractor.TestConnection(c.Request.Context(), system); err != nil {
			utils.RespondOK(c, "connection test failed", gin.H{
				"reachable": false,
				"error":     err.Error(),
			})
			return
		}
		utils.RespondOK(c, "connection test succeeded", gin.H{"reachable": true})
	}
}
