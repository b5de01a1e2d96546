package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/rcliao/agriplan/internal/collector"
	"github.com/rcliao/agriplan/internal/model"
	"github.com/rcliao/agriplan/internal/session"
)

// wantsStream reports whether the client asked for server-sent events,
// by ?stream=true or an Accept header.
func wantsStream(c echo.Context) bool {
	if v := c.QueryParam("stream"); v == "true" || v == "1" {
		return true
	}
	return strings.Contains(c.Request().Header.Get(echo.HeaderAccept), "text/event-stream")
}

type deltaEvent struct {
	Text string `json:"text"`
}

// eventStream writes server-sent events. Headers go out with the first
// event, so a stage that fails before any token still answers with a
// plain JSON error and status code.
type eventStream struct {
	resp    *echo.Response
	flusher http.Flusher
	started bool
	err     error
}

func (w *eventStream) send(event string, v interface{}) error {
	if w.err != nil {
		return w.err
	}
	data, err := json.Marshal(v)
	if err != nil {
		w.err = err
		return err
	}
	if !w.started {
		w.started = true
		w.resp.Header().Set(echo.HeaderContentType, "text/event-stream")
		w.resp.Header().Set(echo.HeaderCacheControl, "no-cache")
		w.resp.Header().Set("Connection", "keep-alive")
		w.resp.WriteHeader(http.StatusOK)
	}
	if _, err := fmt.Fprintf(w.resp, "event: %s\ndata: %s\n\n", event, data); err != nil {
		w.err = err
		return err
	}
	w.flusher.Flush()
	return nil
}

// streamStage runs the stage with deltas sent as "delta" events, then a
// final "done" (or "error") event carrying the stage response.
func (s *Server) streamStage(c echo.Context, sess *session.Session, stage model.Stage, in collector.Input, q *model.Query) error {
	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "streaming unsupported")
	}
	w := &eventStream{resp: c.Response(), flusher: flusher}

	resp, err := sess.Orch.Stream(c.Request().Context(), stage, in, q, func(d string) {
		if err := w.send("delta", deltaEvent{Text: d}); err != nil {
			s.log.Debug("stream write failed", "session", sess.ID, "error", err)
		}
	})
	if err != nil {
		return precondition(err)
	}
	out := result(sess, resp)
	if !resp.OK() {
		if !w.started {
			return c.JSON(failureStatus(resp.Err), out)
		}
		return w.send("error", out)
	}
	return w.send("done", out)
}
