package server

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/headline-goat/callgoat/internal/errors"
)

const tokenCookieName = "cg_token"

// authMiddleware accepts the admin token as a bearer header, a token query
// param or the token cookie. A valid query param also sets the cookie so
// browsers can drop it from later URLs.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if bearer, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer "); ok {
			if s.validToken(bearer) {
				c.Next()
				return
			}
			apperrors.Unauthorized(c)
			return
		}

		if queryToken := c.Query("token"); queryToken != "" {
			if !s.validToken(queryToken) {
				apperrors.Unauthorized(c)
				return
			}
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(tokenCookieName, s.token, int(24*time.Hour/time.Second), "/", "", s.cfg.Cookies.Secure, true)
			c.Next()
			return
		}

		cookie, err := c.Cookie(tokenCookieName)
		if err != nil || !s.validToken(cookie) {
			apperrors.Unauthorized(c)
			return
		}
		c.Next()
	}
}

func (s *Server) validToken(candidate string) bool {
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(s.token)) == 1
}
