package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	apperrors "github.com/headline-goat/callgoat/internal/errors"
	"github.com/headline-goat/callgoat/internal/store"
)

type HealthResponse struct {
	Status           string `json:"status"`
	ExperimentsCount int    `json:"experiments_count"`
	DBSizeBytes      int64  `json:"db_size_bytes"`
	UptimeSeconds    int64  `json:"uptime_seconds"`
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx := c.Request.Context()

	if err := s.deps.Store.Ping(ctx); err != nil {
		s.fail(c, apperrors.StoreUnavailable("ping", err))
		return
	}

	exps, err := s.deps.Registry.List(ctx)
	if err != nil {
		s.fail(c, err)
		return
	}

	// size is informational; a failure leaves it at zero
	size, _ := s.deps.Store.SizeBytes(ctx)

	c.JSON(http.StatusOK, HealthResponse{
		Status:           "ok",
		ExperimentsCount: len(exps),
		DBSizeBytes:      size,
		UptimeSeconds:    int64(time.Since(s.startTime).Seconds()),
	})
}

// TrackRequest is a browser tracking event.
type TrackRequest struct {
	Experiment string         `json:"experiment"`
	Event      string         `json:"event"`
	VisitorID  string         `json:"visitor_id"`
	Metadata   map[string]any `json:"metadata"`
}

type TrackResponse struct {
	Experiment string `json:"experiment"`
	Variant    string `json:"variant"`
	Event      string `json:"event"`
	Counted    bool   `json:"counted"`
}

func (s *Server) handleTrack(c *gin.Context) {
	var req TrackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.BadRequest(c, "invalid JSON body", err)
		return
	}

	visitorID := s.visitorID(c, req.VisitorID)
	res, err := s.deps.Recorder.Track(c.Request.Context(), req.Experiment, req.Event, visitorID, req.Metadata)
	if err != nil {
		s.fail(c, err)
		return
	}

	s.rememberExperiment(c, res.Experiment, res.Variant)
	c.JSON(http.StatusOK, TrackResponse{
		Experiment: res.Experiment,
		Variant:    res.Variant,
		Event:      res.EventType,
		Counted:    res.Counted,
	})
}

type VariantResponse struct {
	Experiment string `json:"experiment"`
	Variant    string `json:"variant"`
	IsNew      bool   `json:"is_new"`
}

func (s *Server) handleVariant(c *gin.Context) {
	experiment := c.Query("experiment")
	if strings.TrimSpace(experiment) == "" {
		s.fail(c, apperrors.Validation("experiment", "experiment query parameter is required"))
		return
	}

	visitorID := s.visitorID(c, c.Query("visitor_id"))
	a, err := s.deps.Assigner.GetVariant(c.Request.Context(), experiment, visitorID)
	if err != nil {
		s.fail(c, err)
		return
	}

	s.rememberExperiment(c, a.Experiment, a.Variant)
	c.JSON(http.StatusOK, VariantResponse{Experiment: a.Experiment, Variant: a.Variant, IsNew: a.IsNew})
}

// IntentRequest is sent when a visitor taps a call-to-action.
type IntentRequest struct {
	VisitorID   string `json:"visitor_id"`
	Phone       string `json:"phone"`
	Page        string `json:"page"`
	Experiment  string `json:"experiment"`
	Variant     string `json:"variant"`
	UTMSource   string `json:"utm_source"`
	UTMMedium   string `json:"utm_medium"`
	UTMCampaign string `json:"utm_campaign"`
}

// handleCallTrack always answers 200. The browser fires and forgets, so
// failures are logged rather than reported.
func (s *Server) handleCallTrack(c *gin.Context) {
	if action := c.Query("action"); action != "intent" {
		s.log.WithField("action", action).Debug("call-track: unsupported action")
		c.JSON(http.StatusOK, gin.H{"ok": false})
		return
	}

	var req IntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.log.WithError(err).Warn("call-track: invalid body")
		c.JSON(http.StatusOK, gin.H{"ok": false})
		return
	}

	visitorID := cookieOr(c, visitorCookie, req.VisitorID)
	experiment, variant := s.intentVariant(c, visitorID, req.Experiment, req.Variant)
	ci := &store.ClickIntent{
		VisitorID:   visitorID,
		Phone:       req.Phone,
		Page:        req.Page,
		Experiment:  experiment,
		Variant:     variant,
		UTMSource:   req.UTMSource,
		UTMMedium:   req.UTMMedium,
		UTMCampaign: req.UTMCampaign,
	}

	if err := s.deps.Attributor.RecordClickIntent(c.Request.Context(), ci); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"experiment": ci.Experiment,
			"visitor_id": ci.VisitorID,
		}).Warn("call-track: click intent not recorded")
		c.JSON(http.StatusOK, gin.H{"ok": false})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// fail writes err as a JSON error response, logging server-side failures.
func (s *Server) fail(c *gin.Context, err error) {
	status := apperrors.Respond(c, err)
	if status >= http.StatusInternalServerError {
		s.log.WithError(err).WithField("path", c.FullPath()).Error("request failed")
	}
}

// requestLogger logs one line per request through logrus.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := s.log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("request")
			return
		}
		entry.Debug("request")
	}
}
