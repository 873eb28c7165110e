package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/joseph-ayodele/packet-parser/internal/common"
)

// ownerHeader names the owner when authentication is disabled (local development).
const ownerHeader = "X-Owner-ID"

const defaultLocalOwner = "local"

// Claims are the bearer token claims. Tokens are issued upstream; the owner is the tenant
// when present and the subject otherwise.
type Claims struct {
	Tenant string `json:"tenant,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) owner() string {
	if t := strings.TrimSpace(c.Tenant); t != "" {
		return t
	}
	return strings.TrimSpace(c.Subject)
}

// Auth validates the bearer token and scopes the request to its owner.
func Auth(cfg common.AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.Disabled {
			owner := strings.TrimSpace(c.GetHeader(ownerHeader))
			if owner == "" {
				owner = defaultLocalOwner
			}
			setOwner(c, owner)
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortUnauthorized(c, "authorization header required")
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			abortUnauthorized(c, "invalid authorization header format")
			return
		}

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(parts[1], claims, func(token *jwt.Token) (interface{}, error) {
			return []byte(cfg.JWTSecret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			abortUnauthorized(c, "invalid or expired token")
			return
		}
		owner := claims.owner()
		if owner == "" {
			abortUnauthorized(c, "token carries no subject")
			return
		}
		setOwner(c, owner)
		c.Next()
	}
}

func setOwner(c *gin.Context, owner string) {
	c.Set("owner_id", owner)
	c.Request = c.Request.WithContext(common.WithOwnerID(c.Request.Context(), owner))
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg, "request_id": GetRequestID(c)})
}

// GetOwnerID gets the authenticated owner from gin context
func GetOwnerID(c *gin.Context) string {
	if owner, exists := c.Get("owner_id"); exists {
		return owner.(string)
	}
	return ""
}
