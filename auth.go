package main

import (
	"net/http"

	"bitbucket.org/mmdatafocus/recon_backend/models"
	"bitbucket.org/mmdatafocus/recon_backend/utils"
	"github.com/gin-gonic/gin"
)

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func loginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if !bindJSON(c, &req) {
			return
		}
		info, err := models.Login(c.Request.Context(), req.Username, req.Password)
		if err != nil {
			utils.RespondError(c, http.StatusUnauthorized, "invalid username or password")
			return
		}
		utils.RespondOK(c, "logged in", info)
	}
}

func logoutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := models.Logout(c.Request.Context()); err != nil {
			handleServiceError(c, err)
			return
		}
		utils.RespondOK(c, "logged out", nil)
	}
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required,min=8"`
}

func changePasswordHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req changePasswordRequest
		if !bindJSON(c, &req) {
			return
		}
		user, err := models.ChangePassword(c.Request.Context(), req.OldPassword, req.NewPassword)
		if err != nil {
			handleServiceError(c, err)
			return
		}
		utils.RespondOK(c, "password changed, all sessions revoked", user)
	}
}

func listUsersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		users, err := models.GetAllUsers(c.Request.Context())
		if err != nil {
			handleServiceError(c, err)
			return
		}
		utils.RespondOK(c, "users", users)
	}
}

func createUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewUser
		if !bindJSON(c, &input) {
			return
		}
		user, err := models.CreateUser(c.Request.Context(), &input)
		if err != nil {
			handleServiceError(c, err)
			return
		}
		utils.RespondCreated(c, "user created", user)
	}
}

func updateUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		var input models.User
		if !bindJSON(c, &input) {
			return
		}
		user, err := input.UpdateUser(id)
		if err != nil {
			handleServiceError(c, err)
			return
		}
		utils.RespondOK(c, "user updated", user)
	}
}

func deleteUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		var input models.User
		user, err := input.DeleteUser(id)
		if err != nil {
			handleServiceError(c, err)
			return
		}
		utils.RespondOK(c, "user deleted", user)
	}
}
