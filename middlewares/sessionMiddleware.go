package middlewares

import (
	"net/http"
	"strings"

	"bitbucket.org/mmdatafocus/recon_backend/config"
	"bitbucket.org/mmdatafocus/recon_backend/models"
	"bitbucket.org/mmdatafocus/recon_backend/utils"
	"github.com/gin-gonic/gin"
)

// SessionMiddleware resolves the session token into the acting user and
// stuffs the identity into the request context. Requests without a token
// pass through; route groups decide whether identity is mandatory.
// Bearer JWTs (issued at login as api_token) are accepted for stateless
// callers whose sessions never touch Redis.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Request.Header.Get("token")
		if token == "" {
			if auth := c.Request.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				jwtAuthenticate(c, strings.TrimPrefix(auth, "Bearer "))
				return
			}
			c.Next()
			return
		}
		username, exists, err := config.GetRedisValue("Token:" + token)
		if err != nil || !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		user, err := loadSessionUser(c, username)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		ctx := utils.SetTokenInContext(c.Request.Context(), token)
		ctx = utils.SetUsernameInContext(ctx, user.Username)
		ctx = utils.SetUserIdInContext(ctx, user.ID)
		ctx = utils.SetUserNameInContext(ctx, user.Name)
		ctx = utils.SetUserRoleInContext(ctx, string(user.Role))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireSession rejects requests that carry no resolved identity.
func RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := utils.GetUsernameFromContext(c.Request.Context()); !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireAdmin guards user management endpoints.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		role, ok := utils.GetUserRoleFromContext(c.Request.Context())
		if !ok || models.UserRole(role) != models.UserRoleAdmin {
			c.JSON(http.StatusForbidden, gin.H{"error": "admin role required"})
			c.Abort()
			return
		}
		c.Next()
	}
}

func jwtAuthenticate(c *gin.Context, raw string) {
	parsed, err := utils.JwtValidate(raw)
	if err != nil || !parsed.Valid {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		c.Abort()
		return
	}
	claims, ok := parsed.Claims.(*utils.JwtCustomClaim)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		c.Abort()
		return
	}

	user := models.User{}
	db := config.GetDB()
	if err := db.WithContext(c.Request.Context()).
		Where("id = ? AND is_active = 1", claims.ID).Take(&user).Error; err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		c.Abort()
		return
	}

	ctx := utils.SetUsernameInContext(c.Request.Context(), user.Username)
	ctx = utils.SetUserIdInContext(ctx, user.ID)
	ctx = utils.SetUserNameInContext(ctx, user.Name)
	ctx = utils.SetUserRoleInContext(ctx, string(user.Role))
	c.Request = c.Request.WithContext(ctx)
	c.Next()
}

func loadSessionUser(c *gin.Context, username string) (*models.User, error) {
	user := models.User{}
	exists, err := config.GetRedisObject("User:"+username, &user)
	if err != nil {
		return nil, err
	}
	if exists {
		return &user, nil
	}

	db := config.GetDB()
	if err := db.WithContext(c.Request.Context()).
		Where("username = ?", username).Take(&user).Error; err != nil {
		return nil, err
	}
	user.Password = ""
	if err := config.SetRedisObject("User:"+username, &user, utils.GetCacheLifespan()); err != nil {
		return nil, err
	}
	return &user, nil
}
