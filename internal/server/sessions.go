package server

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/rcliao/agriplan/internal/collector"
	"github.com/rcliao/agriplan/internal/fuser"
	"github.com/rcliao/agriplan/internal/model"
	"github.com/rcliao/agriplan/internal/orchestrator"
	"github.com/rcliao/agriplan/internal/prompt"
	"github.com/rcliao/agriplan/internal/session"
)

func (s *Server) register(g *echo.Group) {
	g.POST("", s.createSession)
	g.GET("", s.listSessions)
	g.GET("/:id", s.getSession)
	g.DELETE("/:id", s.endSession)
	g.POST("/:id/plan", s.runStage(model.Part1))
	g.POST("/:id/schedule", s.runStage(model.Part2))
	g.POST("/:id/ask", s.runStage(model.Part3))
	g.POST("/:id/prompt/:stage", s.previewPrompt)
}

// stageRequest is the body of the stage endpoints. Date and Question are
// read only for Part3.
type stageRequest struct {
	collector.Input
	Date        string `json:"date,omitempty"`
	Question    string `json:"question,omitempty"`
	ImageBase64 string `json:"image_base64,omitempty"`
	Filename    string `json:"filename,omitempty"`
}

func (r stageRequest) input() (collector.Input, error) {
	in := r.Input
	if b64 := strings.TrimSpace(r.ImageBase64); b64 != "" {
		if i := strings.Index(b64, ","); strings.HasPrefix(b64, "data:") && i > 0 {
			b64 = b64[i+1:]
		}
		data, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return in, echo.NewHTTPError(http.StatusBadRequest, "image_base64: "+err.Error())
		}
		in.Image = &collector.Upload{Filename: r.Filename, Data: data}
	}
	return in, nil
}

func (r stageRequest) query() *model.Query {
	if strings.TrimSpace(r.Question) == "" {
		return nil
	}
	return &model.Query{Date: r.Date, Question: r.Question}
}

// stageResponse carries the model response plus the failure detail that
// ModelResponse keeps out of JSON.
type stageResponse struct {
	model.ModelResponse
	State       orchestrator.State `json:"state"`
	Error       string             `json:"error,omitempty"`
	Remediation []string           `json:"remediation,omitempty"`
}

type sessionView struct {
	orchestrator.Status
	Entries []model.MemoryEntry `json:"entries"`
}

func (s *Server) lookup(c echo.Context) (*session.Session, error) {
	sess, err := s.sessions.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, model.ErrSessionNotFound) {
			return nil, echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return nil, err
	}
	return sess, nil
}

func (s *Server) createSession(c echo.Context) error {
	sess := s.sessions.Create()
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"id":    sess.ID,
		"state": sess.Orch.State(),
	})
}

func (s *Server) listSessions(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{"sessions": s.sessions.List()})
}

func (s *Server) getSession(c echo.Context) error {
	sess, err := s.lookup(c)
	if err != nil {
		return err
	}
	entries, err := sess.Orch.Memory(c.Request().Context())
	if err != nil {
		return err
	}
	if entries == nil {
		entries = []model.MemoryEntry{}
	}
	return c.JSON(http.StatusOK, sessionView{Status: sess.Orch.Status(), Entries: entries})
}

func (s *Server) endSession(c echo.Context) error {
	id := c.Param("id")
	if err := s.sessions.End(c.Request().Context(), id); err != nil {
		if errors.Is(err, model.ErrSessionNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"id": id, "state": orchestrator.Complete})
}

func (s *Server) runStage(stage model.Stage) echo.HandlerFunc {
	return func(c echo.Context) error {
		sess, err := s.lookup(c)
		if err != nil {
			return err
		}
		var req stageRequest
		if err := c.Bind(&req); err != nil {
			return err
		}
		in, err := req.input()
		if err != nil {
			return err
		}
		var q *model.Query
		if stage == model.Part3 {
			q = req.query()
		}
		if wantsStream(c) {
			return s.streamStage(c, sess, stage, in, q)
		}

		resp, err := sess.Orch.Run(c.Request().Context(), stage, in, q)
		if err != nil {
			return precondition(err)
		}
		out := result(sess, resp)
		if resp.OK() {
			return c.JSON(http.StatusOK, out)
		}
		return c.JSON(failureStatus(resp.Err), out)
	}
}

func result(sess *session.Session, resp model.ModelResponse) stageResponse {
	out := stageResponse{ModelResponse: resp, State: sess.Orch.State()}
	if resp.OK() {
		return out
	}
	out.Error = resp.ErrText()
	var mce *fuser.MissingContextError
	if errors.As(resp.Err, &mce) {
		out.Remediation = mce.Remediation()
	}
	return out
}

func (s *Server) previewPrompt(c echo.Context) error {
	sess, err := s.lookup(c)
	if err != nil {
		return err
	}
	stage, err := model.ParseStage(c.Param("stage"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	var req stageRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	in, err := req.input()
	if err != nil {
		return err
	}
	p, err := sess.Orch.Preview(c.Request().Context(), stage, in, req.query())
	if err != nil {
		var mce *fuser.MissingContextError
		if errors.As(err, &mce) {
			return c.JSON(http.StatusUnprocessableEntity, map[string]interface{}{
				"error":       err.Error(),
				"remediation": mce.Remediation(),
			})
		}
		return precondition(err)
	}
	return c.JSON(http.StatusOK, p)
}

// precondition maps errors returned before a stage starts.
func precondition(err error) error {
	switch {
	case errors.Is(err, model.ErrStageNotReady), errors.Is(err, model.ErrStageLocked),
		errors.Is(err, model.ErrSessionComplete):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, prompt.ErrNoQuestion):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, model.ErrSessionNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return err
}

// failureStatus maps a failed stage response.
func failureStatus(err error) int {
	switch {
	case errors.Is(err, model.ErrMissingRequiredContext):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	case errors.Is(err, model.ErrModelInvocationFailed):
		return http.StatusBadGateway
	case errors.Is(err, fuser.ErrDuplicateVariant), errors.Is(err, fuser.ErrUnsupportedVariant):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
