package dashboard

import (
	"net/http"
	"time"
)

// Health reports liveness plus the engine's current state, so a probe
// can tell "process up" apart from "up but disconnected from the
// exchange".
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	status := s.ledger.GetStatus()
	writeJSON(w, map[string]interface{}{
		"status":        "healthy",
		"mode":          s.mode,
		"uptimeSeconds": int64(time.Since(s.startedAt).Seconds()),
		"api":           status.MarketStatus.API,
		"ws":            status.MarketStatus.WS,
		"activeTraders": len(s.ledger.GetTraders()),
		"time":          time.Now().Format(time.RFC3339),
	})
}
