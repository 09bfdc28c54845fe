package auth

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const defaultSessionTTL = 12 * time.Hour

// RegisterSessionRoutes mounts logout and refresh for session tokens.
func RegisterSessionRoutes(r gin.IRouter, s *Signer) {
	g := r.Group("/auth", RequireUser(s))
	g.POST("/logout", logout(s))
	g.POST("/refresh", refresh(s))
}

func logout(s *Signer) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, _ := ClaimsFrom(c)
		s.Revoke(claims)
		log.Info().Str("user_id", claims.Subject).Msg("[AUTH] session closed")
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "session closed"})
	}
}

// refresh issues a token with the same lifetime as the current one and
// revokes the current one.
func refresh(s *Signer) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, _ := ClaimsFrom(c)
		ttl := defaultSessionTTL
		if claims.IssuedAt != nil && claims.ExpiresAt != nil {
			if d := claims.ExpiresAt.Sub(claims.IssuedAt.Time); d > 0 {
				ttl = d
			}
		}
		token, exp, err := s.Sign(claims.Subject, claims.Email, ttl)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "could not issue token"})
			return
		}
		s.Revoke(claims)
		c.JSON(http.StatusOK, gin.H{"success": true, "token": token, "expires_at": exp})
	}
}
