package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/dissent/internal/correlation"
	"github.com/aristath/dissent/internal/domain"
	"github.com/aristath/dissent/internal/engine"
	"github.com/aristath/dissent/internal/events"
	"github.com/aristath/dissent/internal/risk"
	"github.com/aristath/dissent/internal/timing"
)

type handlers struct {
	monitor    *correlation.Monitor
	engine     *engine.Engine
	riskEngine *risk.Engine
	timing     *timing.Engine
	log        zerolog.Logger
}

func newHandlers(monitor *correlation.Monitor, eng *engine.Engine, riskEngine *risk.Engine, timingEngine *timing.Engine, log zerolog.Logger) *handlers {
	return &handlers{
		monitor:    monitor,
		engine:     eng,
		riskEngine: riskEngine,
		timing:     timingEngine,
		log:        log.With().Str("handler", "api").Logger(),
	}
}

// HandleRegisterAccounts rebuilds the monitored pair roster.
// POST /api/accounts/register
func (h *handlers) HandleRegisterAccounts(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountIDs []string `json:"account_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.AccountIDs) == 0 {
		writeError(w, http.StatusBadRequest, "account_ids is required")
		return
	}

	h.monitor.RegisterAccounts(req.AccountIDs)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"accounts": len(req.AccountIDs),
		"pairs":    len(req.AccountIDs) * (len(req.AccountIDs) - 1) / 2,
	})
}

// HandleRecordOutcome appends one closed trade's return.
// POST /api/outcomes
func (h *handlers) HandleRecordOutcome(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID string    `json:"account_id"`
		ReturnPct float64   `json:"return_pct"`
		Timestamp time.Time `json:"timestamp"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AccountID == "" {
		writeError(w, http.StatusBadRequest, "account_id is required")
		return
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now()
	}

	h.monitor.RecordOutcome(req.AccountID, req.ReturnPct, req.Timestamp)
	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

// HandleRefresh recomputes all pair correlations.
// POST /api/correlations/refresh
func (h *handlers) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.monitor.Refresh())
}

// HandleHighPairs filters the last refresh by threshold.
// GET /api/correlations/high?threshold=0.65
func (h *handlers) HandleHighPairs(w http.ResponseWriter, r *http.Request) {
	threshold := 0.65
	if param := r.URL.Query().Get("threshold"); param != "" {
		parsed, err := strconv.ParseFloat(param, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid threshold")
			return
		}
		threshold = parsed
	}
	writeJSON(w, http.StatusOK, h.monitor.HighCorrelationPairs(threshold))
}

// HandleStats returns correlation surface statistics.
// GET /api/correlations/stats
func (h *handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.monitor.Stats())
}

// HandleAlerts returns recent alerts.
// GET /api/correlations/alerts?limit=50
func (h *handlers) HandleAlerts(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if param := r.URL.Query().Get("limit"); param != "" {
		if parsed, err := strconv.Atoi(param); err == nil {
			limit = parsed
		}
	}
	writeJSON(w, http.StatusOK, h.monitor.Alerts(limit))
}

// HandleHistory returns correlation data points for a pair.
// GET /api/correlations/history?pair_id=A_B&limit=100
func (h *handlers) HandleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if param := r.URL.Query().Get("limit"); param != "" {
		if parsed, err := strconv.Atoi(param); err == nil {
			limit = parsed
		}
	}
	writeJSON(w, http.StatusOK, h.monitor.History(r.URL.Query().Get("pair_id"), limit))
}

// HandleEmergency runs the emergency protocol check.
// POST /api/emergency
func (h *handlers) HandleEmergency(w http.ResponseWriter, r *http.Request) {
	actions := h.monitor.TriggerEmergencyProtocols()
	if len(actions) > 0 {
		data := &events.EmergencyTriggeredData{Actions: actions}
		h.log.Warn().
			Str("event", string(data.EventType())).
			Interface("data", data).
			Msg("Emergency protocols triggered")
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"actions": actions,
		"halted":  len(actions) > 0,
	})
}

// HandleGenerateDisagreements runs the full per-signal pipeline.
// POST /api/disagreements
func (h *handlers) HandleGenerateDisagreements(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SignalID      string                               `json:"signal_id"`
		Signal        domain.OriginalSignal                `json:"signal"`
		Accounts      []domain.Account                     `json:"accounts"`
		Personalities map[string]domain.PersonalityProfile `json:"personalities"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SignalID == "" {
		req.SignalID = uuid.New().String()
	}
	if req.Signal.Timestamp.IsZero() {
		req.Signal.Timestamp = time.Now()
	}

	result, err := h.engine.GenerateDisagreements(req.Signal, req.Accounts, req.Personalities, req.SignalID)
	if err != nil {
		h.log.Warn().Err(err).Str("signal_id", req.SignalID).Msg("Rejected disagreement request")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleValidateRate reports the disagreement rate over recent signals.
// GET /api/disagreements/validate
func (h *handlers) HandleValidateRate(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.ValidateRecent())
}

// HandleAssignTimings re-disperses entry timings over a decision set.
// POST /api/timings
func (h *handlers) HandleAssignTimings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Decisions     []domain.AccountDecision             `json:"decisions"`
		Signal        domain.OriginalSignal                `json:"signal"`
		Personalities map[string]domain.PersonalityProfile `json:"personalities"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Signal.Timestamp.IsZero() {
		req.Signal.Timestamp = time.Now()
	}
	writeJSON(w, http.StatusOK, h.timing.AssignTimings(req.Decisions, req.Signal, req.Personalities))
}

// HandleMarketConditions updates the slowly-varying market-risk inputs.
// PUT /api/market-conditions
func (h *handlers) HandleMarketConditions(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Volatility  float64 `json:"volatility"`
		NewsRisk    float64 `json:"news_risk"`
		SessionRisk float64 `json:"session_risk"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	h.riskEngine.UpdateMarketConditions(req.Volatility, req.NewsRisk, req.SessionRisk)
	writeJSON(w, http.StatusOK, h.riskEngine.Conditions())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
