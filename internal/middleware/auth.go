package middleware

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"subscription-api/internal/response"
)

// Context keys set by the auth middleware.
const (
	ContextTenantID = "tenant_id"
	ContextIsOps    = "is_ops"

	HeaderOpsKey = "X-Ops-Key"
)

// TenantClaims is the JWT payload issued by the platform's auth service.
type TenantClaims struct {
	TenantID string `json:"tenant_id"`
	Email    string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Auth holds the secrets the auth middleware checks against.
type Auth struct {
	jwtSecret []byte
	opsKey    string
}

// NewAuth creates the auth middleware set.
func NewAuth(jwtSecret, opsKey string) *Auth {
	return &Auth{jwtSecret: []byte(jwtSecret), opsKey: opsKey}
}

// TenantAuthMiddleware requires a Bearer token and stores the tenant id in context.
func (a *Auth) TenantAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := a.parseBearer(c.GetHeader("Authorization"))
		if err != nil {
			response.ErrorJSON(c, http.StatusUnauthorized, "Invalid or missing token")
			c.Abort()
			return
		}
		c.Set(ContextTenantID, claims.TenantID)
		if claims.Email != "" {
			c.Set("email", claims.Email)
		}
		c.Set("request_time", time.Now())
		c.Next()
	}
}

// OpsAuthMiddleware requires the operations key header.
func (a *Auth) OpsAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.validOpsKey(c.GetHeader(HeaderOpsKey)) {
			response.ErrorJSON(c, http.StatusUnauthorized, "Invalid or missing ops key")
			c.Abort()
			return
		}
		c.Set(ContextIsOps, true)
		c.Next()
	}
}

// TenantOrOpsMiddleware accepts either credential. Ops callers name the tenant
// in the request body, so no tenant id is set for them.
func (a *Auth) TenantOrOpsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if key := c.GetHeader(HeaderOpsKey); key != "" {
			if !a.validOpsKey(key) {
				response.ErrorJSON(c, http.StatusUnauthorized, "Invalid ops key")
				c.Abort()
				return
			}
			c.Set(ContextIsOps, true)
			c.Next()
			return
		}
		claims, err := a.parseBearer(c.GetHeader("Authorization"))
		if err != nil {
			response.ErrorJSON(c, http.StatusUnauthorized, "Invalid or missing token")
			c.Abort()
			return
		}
		c.Set(ContextTenantID, claims.TenantID)
		if claims.Email != "" {
			c.Set("email", claims.Email)
		}
		c.Next()
	}
}

func (a *Auth) validOpsKey(key string) bool {
	if a.opsKey == "" || key == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(a.opsKey)) == 1
}

func (a *Auth) parseBearer(header string) (*TenantClaims, error) {
	if len(a.jwtSecret) == 0 {
		return nil, errors.New("jwt secret not configured")
	}
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		return nil, errors.New("missing bearer token")
	}

	claims := &TenantClaims{}
	token, err := jwt.ParseWithClaims(strings.TrimSpace(raw), claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.jwtSecret, nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.TenantID == "" {
		claims.TenantID = claims.Subject
	}
	if claims.TenantID == "" {
		return nil, errors.New("token has no tenant")
	}
	return claims, nil
}

// IssueToken signs a tenant token. Used by the CLI and tests.
func IssueToken(secret, tenantID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := TenantClaims{
		TenantID: tenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   tenantID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// TenantID returns the authenticated tenant, if any.
func TenantID(c *gin.Context) string {
	return c.GetString(ContextTenantID)
}

// IsOps reports whether the request carried a valid ops key.
func IsOps(c *gin.Context) bool {
	return c.GetBool(ContextIsOps)
}
