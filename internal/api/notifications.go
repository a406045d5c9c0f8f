package api

import (
	"encoding/json"
	"net/http"

	"github.com/seantiz/xxfunc/internal/model"
)

// notifyResponse is the JSON response for POST /v1/notifications.
type notifyResponse struct {
	NotificationID string             `json:"notification_id"`
	Executions     []*model.Execution `json:"executions"`
}

// handleNotify dispatches a notification to every started module. The
// executions run in the background; the response lists them as queued.
func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	var n model.Notification
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := n.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	executions, err := s.launcher.Dispatch(r.Context(), &n)
	if err != nil {
		s.logger.Error("dispatch notification", "kind", n.Kind, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to dispatch notification")
		return
	}

	s.writeJSON(w, http.StatusAccepted, notifyResponse{
		NotificationID: n.ID,
		Executions:     executions,
	})
}
