package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/headline-goat/callgoat/internal/attribution"
	apperrors "github.com/headline-goat/callgoat/internal/errors"
)

// CallWebhook is the JSON form of a call lifecycle event.
type CallWebhook struct {
	CallSid      string `json:"call_sid"`
	CallerPhone  string `json:"caller_phone"`
	CalledNumber string `json:"called_number"`
	CallStatus   string `json:"call_status"`
	Duration     *int   `json:"duration"`
	LeadID       string `json:"lead_id"`
	RecordingURL string `json:"recording_url"`
}

// WebhookAck is the minimal acknowledgement returned to the provider.
type WebhookAck struct {
	CallSid           string  `json:"call_sid"`
	AttributionMethod string  `json:"attribution_method"`
	ABExperiment      *string `json:"ab_experiment"`
	ABVariant         *string `json:"ab_variant"`
	Source            string  `json:"source"`
	Duplicate         bool    `json:"duplicate"`
}

func (s *Server) handleCallWebhook(c *gin.Context) {
	ev, err := bindCallEvent(c)
	if err != nil {
		apperrors.BadRequest(c, "invalid webhook payload", err)
		return
	}

	res, err := s.deps.Attributor.Attribute(c.Request.Context(), ev)
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, WebhookAck{
		CallSid:           res.CallSid,
		AttributionMethod: res.Method,
		ABExperiment:      res.Experiment,
		ABVariant:         res.Variant,
		Source:            res.Source(),
		Duplicate:         res.Duplicate,
	})
}

// bindCallEvent accepts either our JSON shape or the provider's
// form-encoded field names.
func bindCallEvent(c *gin.Context) (attribution.CallEvent, error) {
	if strings.HasPrefix(c.ContentType(), "application/json") {
		var body CallWebhook
		if err := c.ShouldBindJSON(&body); err != nil {
			return attribution.CallEvent{}, err
		}
		return attribution.CallEvent{
			CallSid:      body.CallSid,
			CallerPhone:  body.CallerPhone,
			CalledNumber: body.CalledNumber,
			CallStatus:   body.CallStatus,
			Duration:     body.Duration,
			LeadID:       body.LeadID,
			RecordingURL: body.RecordingURL,
		}, nil
	}

	// PostForm swallows parse errors, so surface an oversized body here
	if err := c.Request.ParseForm(); err != nil {
		return attribution.CallEvent{}, err
	}
	ev := attribution.CallEvent{
		CallSid:      c.PostForm("CallSid"),
		CallerPhone:  c.PostForm("From"),
		CalledNumber: c.PostForm("To"),
		CallStatus:   c.PostForm("CallStatus"),
		LeadID:       c.PostForm("LeadId"),
		RecordingURL: c.PostForm("RecordingUrl"),
	}
	if raw := c.PostForm("CallDuration"); raw != "" {
		d, err := strconv.Atoi(raw)
		if err != nil {
			return attribution.CallEvent{}, apperrors.Validation("CallDuration", "must be an integer number of seconds")
		}
		ev.Duration = &d
	}
	return ev, nil
}
