package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"intradesk/internal/engine"
	"intradesk/internal/ledger"
	"intradesk/internal/workflow"
	"intradesk/pkg/types"
)

// Handlers holds the read-model dependencies: the session store and the
// trade ledger. Everything served here is a view over what the workflows
// already persisted; nothing mutates.
type Handlers struct {
	sessions *workflow.Store
	ledger   *ledger.Ledger
	logger   *slog.Logger
}

// NewHandlers creates the handler set.
func NewHandlers(sessions *workflow.Store, l *ledger.Ledger, logger *slog.Logger) *Handlers {
	return &Handlers{
		sessions: sessions,
		ledger:   l,
		logger:   logger.With("component", "api-handlers"),
	}
}

// HandleHealth returns a simple health check response.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.logger, map[string]string{"status": "ok"})
}

// HandleSession serves one workflow session: its state and run history.
// GET /sessions/{workflow}/{date}
func (h *Handlers) HandleSession(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("workflow")
	date := r.PathValue("date")
	if !knownWorkflow(name) {
		http.Error(w, "unknown workflow", http.StatusNotFound)
		return
	}
	rec, err := h.sessions.Load(name, date)
	if err != nil {
		h.logger.Error("load session", "workflow", name, "date", date, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if len(rec.Runs) == 0 && len(rec.State) == 0 {
		http.Error(w, "no session for date", http.StatusNotFound)
		return
	}
	writeJSON(w, h.logger, rec)
}

// HandleTrades serves the ledger for one date.
// GET /trades?date=YYYY-MM-DD
func (h *Handlers) HandleTrades(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		http.Error(w, "date query parameter required", http.StatusBadRequest)
		return
	}
	trades, err := h.ledger.Trades(date)
	if err != nil {
		h.logger.Error("load trades", "date", date, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if trades == nil {
		trades = []types.Trade{}
	}
	writeJSON(w, h.logger, trades)
}

// HandleDayReport serves the post-trade report for one date, 404 until the
// post-trade workflow has produced one.
// GET /day-report?date=YYYY-MM-DD
func (h *Handlers) HandleDayReport(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		http.Error(w, "date query parameter required", http.StatusBadRequest)
		return
	}
	rec, err := h.sessions.Load(engine.WorkflowPostTrade, date)
	if err != nil {
		h.logger.Error("load post-trade session", "date", date, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	raw, ok := rec.State["day_report"]
	if !ok {
		http.Error(w, "no day report for date", http.StatusNotFound)
		return
	}
	a, err := types.UnmarshalArtifact(raw)
	if err != nil {
		h.logger.Error("decode day report", "date", date, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, h.logger, a)
}

func knownWorkflow(name string) bool {
	switch name {
	case engine.WorkflowAnalysis, engine.WorkflowExecution, engine.WorkflowMonitoring,
		engine.WorkflowNews, engine.WorkflowPostTrade:
		return true
	}
	return false
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("encode response", "error", err)
	}
}
