package api

import (
	"net/http"
)

// poolStats describes the worker pool at the time of the request.
type poolStats struct {
	Workers     int `json:"workers"`
	QueueDepth  int `json:"queue_depth"`
	IdleWorkers int `json:"idle_workers"`
}

// statsResponse is the JSON response for GET /v1/stats.
type statsResponse struct {
	Total         int            `json:"total"`
	ByStatus      map[string]int `json:"by_status"`
	AvgDurationMS float64        `json:"avg_duration_ms"`
	Pool          poolStats      `json:"pool"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetExecutionStats(r.Context())
	if err != nil {
		s.logger.Error("get execution stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	s.writeJSON(w, http.StatusOK, statsResponse{
		Total:         stats.Total,
		ByStatus:      stats.CountByStatus,
		AvgDurationMS: stats.AvgDurationMS,
		Pool: poolStats{
			Workers:     s.engine.Workers(),
			QueueDepth:  s.engine.QueueLen(),
			IdleWorkers: s.engine.IdleWorkers(),
		},
	})
}
