package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	claimsKey        = "auth_claims"
	AdminTokenHeader = "X-Admin-Token"
)

// BearerToken extracts the token from an Authorization header.
func BearerToken(c *gin.Context) string {
	return strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
}

// RequireUser rejects requests without a valid session token and stores the
// claims on the context.
func RequireUser(s *Signer) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := BearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "token required"})
			return
		}
		claims, err := s.Parse(token)
		if err != nil {
			msg := "invalid token"
			switch {
			case errors.Is(err, ErrExpiredToken):
				msg = "token expired"
			case errors.Is(err, ErrRevokedToken):
				msg = "token revoked"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": msg})
			return
		}
		c.Set(claimsKey, claims)
		c.Writer.Header().Set("X-Token-Expires-At", strconv.FormatInt(claims.ExpiresAt.Unix(), 10))
		c.Next()
	}
}

// ClaimsFrom returns the claims stored by RequireUser.
func ClaimsFrom(c *gin.Context) (*Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*Claims)
	return claims, ok
}

// RequireAdmin guards operator routes with a shared token. An empty
// configured token rejects every request.
func RequireAdmin(token string) gin.HandlerFunc {
	want := []byte(token)
	return func(c *gin.Context) {
		got := []byte(c.GetHeader(AdminTokenHeader))
		if len(want) == 0 || subtle.ConstantTimeCompare(got, want) != 1 {
			log.Warn().Str("path", c.Request.URL.Path).Str("client_ip", c.ClientIP()).Msg("admin request rejected")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "unauthorized"})
			return
		}
		c.Next()
	}
}
