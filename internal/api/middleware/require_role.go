package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/yoockh/callpilot/internal/utils"
)

func RequireRole(allowed ...string) gin.HandlerFunc {
	allow := map[string]struct{}{}
	for _, a := range allowed {
		a = strings.TrimSpace(strings.ToLower(a))
		if a != "" {
			allow[a] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		v, ok := c.Get(CtxRole)
		role, _ := v.(string)
		role = strings.ToLower(strings.TrimSpace(role))

		if !ok || role == "" {
			abortForbidden(c)
			return
		}
		if _, ok := allow[role]; !ok {
			abortForbidden(c)
			return
		}

		c.Next()
	}
}

func RequireAdmin() gin.HandlerFunc { return RequireRole("admin") }

func abortForbidden(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusForbidden, apiError{
		Code:    utils.CodeForbidden,
		Message: "forbidden",
	})
}
