package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/monkbot/gateway/internal/models"
	"github.com/monkbot/gateway/internal/utils"
	"github.com/monkbot/gateway/pkg/response"
)

const (
	ContextUserID  = "user_id"
	ContextEmail   = "email"
	ContextRole    = "role"
	ContextActor   = "actor"
	ContextTokenID = "token_id"

	// SessionCookie carries the dashboard session token for browsers.
	SessionCookie = "session"
)

var (
	errUnauthorized = response.NewUnauthorized("Unauthorized")
	errForbidden    = response.NewForbidden("Forbidden")
)

// requestToken reads a bearer token, falling back to the session cookie.
func requestToken(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
		if !ok || !strings.EqualFold(scheme, "bearer") {
			return ""
		}
		return strings.TrimSpace(token)
	}
	if cookie, err := c.Cookie(SessionCookie); err == nil {
		return cookie
	}
	return ""
}

func setSession(c *gin.Context, claims *utils.Claims) {
	c.Set(ContextUserID, claims.UserID)
	c.Set(ContextEmail, claims.Email)
	c.Set(ContextRole, claims.Role)
	c.Set(ContextActor, claims.Email)
}

// AuthRequired accepts a dashboard session token.
func AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := requestToken(c)
		if token == "" {
			response.AbortError(c, errUnauthorized)
			return
		}

		claims, err := utils.ParseToken(token)
		if err != nil {
			response.AbortError(c, errUnauthorized)
			return
		}

		setSession(c, claims)
		c.Next()
	}
}

// AdminRequired accepts a service token carrying the admin scope, or the
// session of an admin account.
func AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := requestToken(c)
		if token == "" {
			response.AbortError(c, errUnauthorized)
			return
		}

		if svc, err := utils.ParseServiceToken(token); err == nil {
			if !svc.HasScope(utils.ScopeAdmin) {
				response.AbortError(c, errForbidden)
				return
			}
			c.Set(ContextActor, "service:"+svc.Subject)
			c.Set(ContextTokenID, svc.ID)
			c.Set(ContextRole, models.RoleAdmin)
			c.Next()
			return
		}

		claims, err := utils.ParseToken(token)
		if err != nil {
			response.AbortError(c, errUnauthorized)
			return
		}
		if claims.Role != models.RoleAdmin {
			response.AbortError(c, errForbidden)
			return
		}

		setSession(c, claims)
		c.Next()
	}
}

// GetUserID gets the current user ID from context
func GetUserID(c *gin.Context) uint {
	if id, exists := c.Get(ContextUserID); exists {
		return id.(uint)
	}
	return 0
}

func GetEmail(c *gin.Context) string {
	return c.GetString(ContextEmail)
}

// GetRole gets the current user role from context
func GetRole(c *gin.Context) string {
	return c.GetString(ContextRole)
}

// GetActor names whoever is calling: an account email or "service:<subject>".
func GetActor(c *gin.Context) string {
	return c.GetString(ContextActor)
}
