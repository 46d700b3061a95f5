package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apperrors "github.com/headline-goat/callgoat/internal/errors"
)

const (
	visitorCookie    = "visitor_id"
	experimentCookie = "experiment"
	variantCookie    = "variant"

	visitorTTL    = 365 * 24 * time.Hour
	experimentTTL = 30 * time.Minute
)

// visitorID returns the visitor cookie, minting it on first contact. An
// existing cookie is never replaced. fallback, if set, is adopted as the
// cookie value for callers that carry their own identifier.
func (s *Server) visitorID(c *gin.Context, fallback string) string {
	if id, err := c.Cookie(visitorCookie); err == nil && strings.TrimSpace(id) != "" {
		return id
	}
	id := strings.TrimSpace(fallback)
	if id == "" {
		id = uuid.NewString()
	}
	s.setCookie(c, visitorCookie, id, visitorTTL, false)
	// later reads in this request see the new cookie
	c.Request.AddCookie(&http.Cookie{Name: visitorCookie, Value: id})
	return id
}

// rememberExperiment refreshes the short-lived cookies that tie a later
// call-to-action click to the last experiment page the visitor saw.
func (s *Server) rememberExperiment(c *gin.Context, experiment, variant string) {
	s.setCookie(c, experimentCookie, experiment, experimentTTL, false)
	s.setCookie(c, variantCookie, variant, experimentTTL, false)
}

func (s *Server) setCookie(c *gin.Context, name, value string, ttl time.Duration, httpOnly bool) {
	// cross-site tracking calls only carry SameSite=None cookies, which
	// browsers accept over HTTPS only
	if s.cfg.Cookies.Secure {
		c.SetSameSite(http.SameSiteNoneMode)
	} else {
		c.SetSameSite(http.SameSiteLaxMode)
	}
	c.SetCookie(name, value, int(ttl/time.Second), "/", s.cfg.Cookies.Domain, s.cfg.Cookies.Secure, httpOnly)
}

func cookieOr(c *gin.Context, name, fallback string) string {
	if strings.TrimSpace(fallback) != "" {
		return fallback
	}
	v, err := c.Cookie(name)
	if err != nil {
		return ""
	}
	return v
}

// intentVariant picks the experiment and variant for a click intent as a
// pair. A body experiment wins, and its variant comes from the body, from
// the cookies when they name the same experiment, or from the visitor's
// stored assignment. Without a body experiment both come from the cookies.
// An unknown variant is left empty.
func (s *Server) intentVariant(c *gin.Context, visitorID, experiment, variant string) (string, string) {
	experiment = strings.TrimSpace(experiment)
	variant = strings.TrimSpace(variant)

	cookieExp, _ := c.Cookie(experimentCookie)
	cookieVar, _ := c.Cookie(variantCookie)

	if experiment == "" {
		experiment, variant = cookieExp, cookieVar
	} else if variant == "" && experiment == cookieExp {
		variant = cookieVar
	}

	if experiment == "" || variant != "" {
		return experiment, variant
	}
	return experiment, s.storedVariant(c.Request.Context(), experiment, visitorID)
}

func (s *Server) storedVariant(ctx context.Context, experiment, visitorID string) string {
	if strings.TrimSpace(visitorID) == "" {
		return ""
	}
	a, err := s.deps.Store.GetAssignment(ctx, experiment, visitorID)
	if err != nil {
		if !apperrors.IsNotFound(err) {
			s.log.WithError(err).WithField("experiment", experiment).Warn("call-track: assignment lookup failed")
		}
		return ""
	}
	return a.Variant
}
