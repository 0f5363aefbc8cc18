package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/yoockh/callpilot/internal/api/middleware"
	"github.com/yoockh/callpilot/internal/utils"
)

type APIError struct {
	Code    utils.Code `json:"code"`
	Message string     `json:"message"`
}

func writeError(c *gin.Context, err error) {
	status := utils.HTTPStatus(err)
	_ = c.Error(err)

	var ae *utils.AppError
	if errors.As(err, &ae) {
		c.JSON(status, APIError{
			Code:    ae.Code,
			Message: ae.Message,
		})
		return
	}

	c.JSON(status, APIError{
		Code:    utils.CodeInternal,
		Message: http.StatusText(status),
	})
}

type identity struct {
	UserID    string
	CompanyID string
	Role      string
}

// requireIdentity reads what JWTAuth stored on the context.
func requireIdentity(c *gin.Context) (identity, bool) {
	id := identity{
		UserID:    c.GetString(middleware.CtxUserID),
		CompanyID: c.GetString(middleware.CtxCompanyID),
		Role:      c.GetString(middleware.CtxRole),
	}
	if id.UserID == "" || id.CompanyID == "" {
		writeError(c, utils.E(utils.CodeUnauthorized, "Auth", "unauthorized", nil))
		return identity{}, false
	}
	return id, true
}

func queryLimit(c *gin.Context, def, max int) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
