package middleware

import (
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/yoockh/callpilot/internal/utils"
)

// Context keys set by JWTAuth.
const (
	CtxUserID    = "user_id"
	CtxCompanyID = "company_id"
	CtxRole      = "role"
)

type apiError struct {
	Code    utils.Code `json:"code"`
	Message string     `json:"message"`
}

type JWTConfig struct {
	Secret   string
	Issuer   string // optional
	Audience string // optional
}

// identityClaims covers the session tokens of the hosted identity provider:
// the tenant comes from company_id or org_id, the app role from role or
// metadata.role.
type identityClaims struct {
	jwt.RegisteredClaims
	CompanyID string         `json:"company_id"`
	OrgID     string         `json:"org_id"`
	Role      string         `json:"role"`
	Metadata  map[string]any `json:"metadata"`
}

func (c *identityClaims) company() string {
	if c.CompanyID != "" {
		return c.CompanyID
	}
	return c.OrgID
}

func (c *identityClaims) appRole() string {
	if c.Metadata != nil {
		if v, ok := c.Metadata["role"].(string); ok && v != "" {
			return v
		}
	}
	if c.Role != "" {
		return c.Role
	}
	return "operator"
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, apiError{
		Code:    utils.CodeUnauthorized,
		Message: msg,
	})
}

var (
	ErrNoSecret        = errors.New("AUTH_JWT_SECRET is not set")
	ErrInvalidToken    = errors.New("invalid token")
	ErrInvalidAudience = errors.New("invalid token audience")
	ErrMissingSubject  = errors.New("missing subject")
	ErrMissingCompany  = errors.New("missing company")
)

// Identity is what a verified token says about the caller.
type Identity struct {
	UserID    string
	CompanyID string
	Role      string
}

// Verify parses a raw HS256 token and returns the caller identity. It is
// shared by the bearer middleware and the notification socket.
func (cfg JWTConfig) Verify(raw string) (Identity, error) {
	if cfg.Secret == "" {
		return Identity{}, ErrNoSecret
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	claims := &identityClaims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return []byte(cfg.Secret), nil
	}, opts...)
	if err != nil || tok == nil || !tok.Valid {
		return Identity{}, ErrInvalidToken
	}

	if cfg.Audience != "" && !slices.Contains(claims.Audience, cfg.Audience) {
		return Identity{}, ErrInvalidAudience
	}
	if claims.Subject == "" {
		return Identity{}, ErrMissingSubject
	}
	companyID := claims.company()
	if companyID == "" {
		return Identity{}, ErrMissingCompany
	}
	return Identity{UserID: claims.Subject, CompanyID: companyID, Role: claims.appRole()}, nil
}

func JWTAuth(cfg JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.Secret == "" {
			c.AbortWithStatusJSON(http.StatusInternalServerError, apiError{
				Code:    utils.CodeInternal,
				Message: ErrNoSecret.Error(),
			})
			return
		}

		auth := c.GetHeader("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			abortUnauthorized(c, "missing bearer token")
			return
		}
		raw := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
		if raw == "" {
			abortUnauthorized(c, "missing bearer token")
			return
		}

		id, err := cfg.Verify(raw)
		if err != nil {
			abortUnauthorized(c, err.Error())
			return
		}

		c.Set(CtxUserID, id.UserID)
		c.Set(CtxCompanyID, id.CompanyID)
		c.Set(CtxRole, id.Role)
		c.Next()
	}
}
