package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/scholar/internal/core"
	"github.com/mohammad-safakhou/scholar/internal/federation"
	"github.com/mohammad-safakhou/scholar/internal/helpers"
	"github.com/mohammad-safakhou/scholar/internal/store"
)

type askRequest struct {
	Question   string            `json:"question"`
	EntityHint string            `json:"entity_hint,omitempty"`
	TopicHint  string            `json:"topic_hint,omitempty"`
	Inputs     map[string]string `json:"inputs,omitempty"`
}

type askResponse struct {
	*federation.Answer
	Error string `json:"error,omitempty"`
}

type runResponse struct {
	ID        string          `json:"id"`
	Query     string          `json:"query"`
	State     string          `json:"state"`
	Domains   []string        `json:"domains"`
	Report    json.RawMessage `json:"report,omitempty"`
	Narrative string          `json:"narrative,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func toRunResponse(rec store.RunRecord) runResponse {
	return runResponse{
		ID:        rec.ID,
		Query:     rec.Query,
		State:     rec.State,
		Domains:   rec.Domains,
		Report:    rec.Report,
		Narrative: rec.Narrative,
		Error:     rec.Error,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
}

func (s *Server) domains(c echo.Context) error {
	return c.JSON(http.StatusOK, s.deps.Answerer.Domains())
}

func (s *Server) ask(c echo.Context) error {
	var req askRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid json")
	}
	req.Question = helpers.CleanText(req.Question)
	if req.Question == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "question is required")
	}
	q := core.Query{
		ID:         uuid.NewString(),
		Text:       req.Question,
		EntityHint: helpers.CleanText(req.EntityHint),
		TopicHint:  helpers.CleanText(req.TopicHint),
		Inputs:     req.Inputs,
		ReceivedAt: time.Now().UTC(),
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), s.deps.RequestTimeout)
	defer cancel()
	ans, err := s.deps.Answerer.Answer(ctx, q)
	if err == nil {
		return c.JSON(http.StatusOK, askResponse{Answer: ans})
	}

	s.logger.Warn("ask failed", zap.String("run_id", q.ID), zap.Error(err))
	switch {
	case errors.Is(err, federation.ErrNoPlan) && ans != nil:
		return c.JSON(http.StatusUnprocessableEntity, askResponse{Answer: ans, Error: err.Error()})
	case errors.Is(err, federation.ErrSynthesisUnavailable) && ans != nil:
		return c.JSON(http.StatusBadGateway, askResponse{Answer: ans, Error: err.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		return echo.NewHTTPError(http.StatusGatewayTimeout, "question timed out")
	case errors.Is(err, context.Canceled):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "question cancelled")
	default:
		return err
	}
}

func (s *Server) listRuns(c echo.Context) error {
	if s.deps.Runs == nil {
		return echo.NewHTTPError(http.StatusNotFound, "run history disabled")
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	recs, err := s.deps.Runs.ListRuns(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	out := make([]runResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toRunResponse(rec))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) getRun(c echo.Context) error {
	if s.deps.Runs == nil {
		return echo.NewHTTPError(http.StatusNotFound, "run history disabled")
	}
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid run id")
	}
	rec, err := s.deps.Runs.GetRun(c.Request().Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toRunResponse(rec))
}

func (s *Server) runEvents(c echo.Context) error {
	if s.deps.Events == nil {
		return echo.NewHTTPError(http.StatusNotFound, "event stream disabled")
	}
	limit, _ := strconv.ParseInt(c.QueryParam("limit"), 10, 64)
	if limit <= 0 {
		limit = 1000
	}
	trs, err := s.deps.Events.Transitions(c.Request().Context(), c.Param("id"), limit)
	if err != nil {
		return err
	}
	if trs == nil {
		trs = []federation.Transition{}
	}
	return c.JSON(http.StatusOK, trs)
}
