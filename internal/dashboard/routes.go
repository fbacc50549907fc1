package dashboard

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/predatortrading/perp-engine/internal/exchange"
	"github.com/predatortrading/perp-engine/internal/ledger"
)

// Server wires the dashboard's REST surface: /api/status, /api/traders,
// /api/traders/:id, /api/performance, /api/history, /api/top-gainers.
type Server struct {
	mode      string
	ledger    *ledger.Ledger
	adapter   exchange.Adapter
	hub       *Hub
	startedAt time.Time
}

// NewServer constructs the dashboard REST+websocket surface. mode is the
// engine's trading mode, echoed by the health endpoint.
func NewServer(mode string, led *ledger.Ledger, adapter exchange.Adapter, hub *Hub) *Server {
	return &Server{mode: mode, ledger: led, adapter: adapter, hub: hub, startedAt: time.Now()}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// Routes returns the http.ServeMux wiring every dashboard endpoint.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.Health)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws", s.hub.HandleWebSocket)

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, s.ledger.GetStatus())
	})
	mux.HandleFunc("/api/traders", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, s.ledger.GetTraders())
	})
	mux.HandleFunc("/api/traders/", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Path[len("/api/traders/"):]
		for _, t := range s.ledger.GetTraders() {
			if t.ID == id {
				writeJSON(w, t)
				return
			}
		}
		http.NotFound(w, r)
	})
	mux.HandleFunc("/api/performance", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, s.ledger.GetPerformance())
	})
	mux.HandleFunc("/api/history", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, s.ledger.EquitySeries())
	})
	mux.HandleFunc("/api/top-gainers", func(w http.ResponseWriter, r *http.Request) {
		tickers, err := s.adapter.Get24hTickers(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		writeJSON(w, tickers)
	})
	return mux
}
