package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/headline-goat/callgoat/internal/attribution"
	apperrors "github.com/headline-goat/callgoat/internal/errors"
	"github.com/headline-goat/callgoat/internal/store"
)

type ExperimentResponse struct {
	Name          string          `json:"name"`
	Status        string          `json:"status"`
	Variants      []store.Variant `json:"variants"`
	WinnerVariant *string         `json:"winner_variant"`
	CreatedAt     time.Time       `json:"created_at"`
	ResetAt       *time.Time      `json:"reset_at,omitempty"`
}

func toExperimentResponse(e *store.Experiment) ExperimentResponse {
	return ExperimentResponse{
		Name:          e.Name,
		Status:        string(e.Status),
		Variants:      e.Variants,
		WinnerVariant: e.WinnerVariant,
		CreatedAt:     e.CreatedAt,
		ResetAt:       e.ResetAt,
	}
}

func (s *Server) handleListExperiments(c *gin.Context) {
	exps, err := s.deps.Registry.List(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}

	out := make([]ExperimentResponse, 0, len(exps))
	for _, e := range exps {
		out = append(out, toExperimentResponse(e))
	}
	c.JSON(http.StatusOK, gin.H{"experiments": out})
}

type CreateExperimentRequest struct {
	Name     string          `json:"name"`
	Variants []store.Variant `json:"variants"`
}

func (s *Server) handleCreateExperiment(c *gin.Context) {
	var req CreateExperimentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.BadRequest(c, "invalid JSON body", err)
		return
	}

	exp, err := s.deps.Registry.Create(c.Request.Context(), req.Name, req.Variants)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, toExperimentResponse(exp))
}

func (s *Server) handleExperimentStats(c *gin.Context) {
	report, err := s.deps.Stats.GetStats(c.Request.Context(), c.Param("name"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleExperimentEvents(c *gin.Context) {
	ctx := c.Request.Context()
	exp, err := s.deps.Registry.Get(ctx, c.Param("name"))
	if err != nil {
		s.fail(c, err)
		return
	}

	events, err := s.deps.Store.GetEvents(ctx, exp.Name)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"experiment": exp.Name, "events": events})
}

type WinnerRequest struct {
	Variant string `json:"variant"`
}

func (s *Server) handleSetWinner(c *gin.Context) {
	var req WinnerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.BadRequest(c, "invalid JSON body", err)
		return
	}

	ctx := c.Request.Context()
	if err := s.deps.Registry.SetWinner(ctx, c.Param("name"), req.Variant); err != nil {
		s.fail(c, err)
		return
	}

	exp, err := s.deps.Registry.Get(ctx, c.Param("name"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toExperimentResponse(exp))
}

func (s *Server) handleReset(c *gin.Context) {
	ctx := c.Request.Context()
	if err := s.deps.Registry.Reset(ctx, c.Param("name")); err != nil {
		s.fail(c, err)
		return
	}

	exp, err := s.deps.Registry.Get(ctx, c.Param("name"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toExperimentResponse(exp))
}

type CallResponse struct {
	CallSid           string    `json:"call_sid"`
	CallerPhone       string    `json:"caller_phone"`
	CalledNumber      string    `json:"called_number"`
	CallStatus        string    `json:"call_status"`
	Duration          int       `json:"duration"`
	ABExperiment      *string   `json:"ab_experiment"`
	ABVariant         *string   `json:"ab_variant"`
	AttributionMethod *string   `json:"attribution_method"`
	Source            string    `json:"source"`
	LeadID            *string   `json:"lead_id"`
	RecordingURL      *string   `json:"recording_url"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func toCallResponse(rec *store.CallRecord) CallResponse {
	res := attribution.Result{Experiment: rec.ABExperiment, Variant: rec.ABVariant}
	return CallResponse{
		CallSid:           rec.CallSid,
		CallerPhone:       rec.CallerPhone,
		CalledNumber:      rec.CalledNumber,
		CallStatus:        rec.CallStatus,
		Duration:          rec.Duration,
		ABExperiment:      rec.ABExperiment,
		ABVariant:         rec.ABVariant,
		AttributionMethod: rec.AttributionMethod,
		Source:            res.Source(),
		LeadID:            rec.LeadID,
		RecordingURL:      rec.RecordingURL,
		CreatedAt:         rec.CreatedAt,
		UpdatedAt:         rec.UpdatedAt,
	}
}

func (s *Server) handleListCalls(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			s.fail(c, apperrors.Validation("limit", "limit must be between 1 and 1000"))
			return
		}
		limit = n
	}

	calls, err := s.deps.Store.ListCalls(c.Request.Context(), limit)
	if err != nil {
		s.fail(c, err)
		return
	}

	out := make([]CallResponse, 0, len(calls))
	for _, rec := range calls {
		out = append(out, toCallResponse(rec))
	}
	c.JSON(http.StatusOK, gin.H{"calls": out})
}

func (s *Server) handleGetCall(c *gin.Context) {
	rec, err := s.deps.Store.GetCall(c.Request.Context(), c.Param("sid"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toCallResponse(rec))
}
