package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/xxfunc/internal/model"
	"github.com/seantiz/xxfunc/internal/store"
)

// listExecutionsResponse wraps the paginated list response.
type listExecutionsResponse struct {
	Executions []*model.Execution `json:"executions"`
	Total      int                `json:"total"`
	Limit      int                `json:"limit"`
	Offset     int                `json:"offset"`
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	executions, total, err := s.store.ListExecutions(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list executions", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list executions")
		return
	}

	s.writeJSON(w, http.StatusOK, listExecutionsResponse{
		Executions: executions,
		Total:      total,
		Limit:      limit,
		Offset:     offset,
	})
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	e, err := s.store.GetExecution(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "execution not found")
		return
	}
	if err != nil {
		s.logger.Error("get execution", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get execution")
		return
	}

	s.writeJSON(w, http.StatusOK, e)
}

// handleStreamExecution streams status changes of one execution as
// server-sent events, ending with a "done" event once it is terminal.
func (s *Server) handleStreamExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := s.store.GetExecution(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "execution not found")
			return
		}
		s.logger.Error("get execution for events", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get execution")
		return
	}

	// Subscribe before reading the current status so that a transition in
	// between is either in the snapshot or on the channel.
	ch, unsub := s.launcher.Broker().Subscribe(id)
	defer unsub()

	e, err := s.store.GetExecution(r.Context(), id)
	if err != nil {
		s.logger.Error("get execution for events", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get execution")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Disable write timeout for long-lived SSE connections.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Debug("set write deadline for SSE", "error", err)
	}

	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)
	flush := func() {
		if canFlush {
			flusher.Flush()
		}
	}

	if err := writeSSEJSON(w, "status", e); err != nil {
		return
	}
	if model.IsTerminal(e.Status) {
		_ = writeSSEEvent(w, "done", "stream complete")
		flush()
		return
	}
	flush()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				_ = writeSSEEvent(w, "done", "stream complete")
				flush()
				return
			}
			if err := writeSSEJSON(w, "status", ev); err != nil {
				return // Write failed (e.g. client gone).
			}
			flush()
		case <-r.Context().Done():
			return // Client disconnected.
		}
	}
}

// writeSSEJSON writes v as the JSON data of a named SSE event.
func writeSSEJSON(w http.ResponseWriter, eventType string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	return writeSSEData(w, string(data))
}

// writeSSEData writes data as an SSE data block. Multi-line strings are split
// so that each segment gets its own "data:" prefix.
func writeSSEData(w http.ResponseWriter, data string) error {
	for seg := range strings.SplitSeq(data, "\n") {
		if _, err := fmt.Fprintf(w, "data: %s\n", seg); err != nil {
			return err
		}
	}
	// Blank line terminates the event.
	_, err := fmt.Fprint(w, "\n")
	return err
}

// writeSSEEvent writes a named SSE event (event: <type>\ndata: <data>\n\n).
func writeSSEEvent(w http.ResponseWriter, eventType, data string) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return nil
}
