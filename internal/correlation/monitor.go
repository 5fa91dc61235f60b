package correlation

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"
)

// Monitor maintains bounded per-account trade-outcome history and pairwise
// correlation state. It is the source of truth for "how correlated is A and
// B right now".
//
// All state is guarded by a single RWMutex: RecordOutcome is the writer path
// fed asynchronously by trade closes, Refresh is the read/recompute path used
// by the orchestrator. Refresh holds the write lock for its full duration so
// the orchestrator always corrects against one consistent snapshot.
type Monitor struct {
	mu      sync.RWMutex
	cfg     Config
	log     zerolog.Logger
	buffers map[string]*ringBuffer
	pairs   []accountPair
	current map[string]float64
	history []DataPoint
	alerts  []Alert
	now     func() time.Time
}

// NewMonitor creates a correlation monitor. Zero config fields fall back to
// DefaultConfig values.
func NewMonitor(cfg Config, log zerolog.Logger) *Monitor {
	cfg.applyDefaults()
	return &Monitor{
		cfg:     cfg,
		log:     log.With().Str("component", "correlation_monitor").Logger(),
		buffers: make(map[string]*ringBuffer),
		current: make(map[string]float64),
		now:     time.Now,
	}
}

// RegisterAccounts rebuilds the full pair roster from the account list,
// replacing any prior roster. O(n^2) pairs are created up front.
func (m *Monitor) RegisterAccounts(ids []string) {
	pairs := buildRoster(ids)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.pairs = pairs
	m.current = make(map[string]float64)
	for _, id := range ids {
		if _, ok := m.buffers[id]; !ok {
			m.buffers[id] = newRingBuffer(m.cfg.Window)
		}
	}

	m.log.Info().
		Int("accounts", len(ids)).
		Int("pairs", len(pairs)).
		Msg("Registered account roster")
}

// RecordOutcome appends a closed trade's return to the account's ring buffer.
// Unknown accounts get a buffer on first write; this never fails.
func (m *Monitor) RecordOutcome(accountID string, returnPct float64, ts time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	buf, ok := m.buffers[accountID]
	if !ok {
		buf = newRingBuffer(m.cfg.Window)
		m.buffers[accountID] = buf
	}
	buf.append(Outcome{ReturnPct: returnPct, Timestamp: ts})
}

// Refresh recomputes the correlation of every registered pair and returns the
// result map. Pairs with insufficient data are silently absent. A numerical
// failure in one pair's computation drops that pair without aborting the rest.
func (m *Monitor) Refresh() map[string]float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	result := make(map[string]float64, len(m.pairs))

	for _, pair := range m.pairs {
		bufA, okA := m.buffers[pair.Account1ID]
		bufB, okB := m.buffers[pair.Account2ID]
		if !okA || !okB {
			continue
		}
		if bufA.len() < m.cfg.MinOutcomes || bufB.len() < m.cfg.MinOutcomes {
			continue
		}

		x, y := alignReturns(bufA.snapshot(), bufB.snapshot(), m.cfg.AlignmentWindow)
		if len(x) < m.cfg.MinAligned {
			continue
		}

		corr, err := m.computePair(pair.ID, x, y)
		if err != nil {
			m.log.Warn().Err(err).Str("pair", pair.ID).Msg("Dropping pair from refresh")
			continue
		}

		result[pair.ID] = corr
		m.history = append(m.history, DataPoint{
			Timestamp:     now,
			PairID:        pair.ID,
			Correlation:   corr,
			SignalCount:   len(x),
			AgreementRate: (corr + 1) / 2,
		})
		m.evaluateThresholds(pair.ID, corr, now)
	}

	m.current = result
	if len(m.history) > m.cfg.MaxHistory {
		m.history = append([]DataPoint(nil), m.history[len(m.history)-m.cfg.TrimTo:]...)
	}

	m.log.Debug().
		Int("pairs_computed", len(result)).
		Int("pairs_total", len(m.pairs)).
		Msg("Refreshed correlations")

	return result
}

// computePair runs the Pearson computation with a recover guard so one bad
// pair cannot abort the whole refresh. NaN is coerced to 0.0 (a constant
// series has no defined correlation; treated as uncorrelated).
func (m *Monitor) computePair(pairID string, x, y []float64) (corr float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("correlation computation failed for %s: %v", pairID, r)
		}
	}()

	corr = stat.Correlation(x, y, nil)
	if math.IsNaN(corr) || math.IsInf(corr, 0) {
		corr = 0.0
	}
	return corr, nil
}

// evaluateThresholds emits an alert when a snapshot crosses the severity
// ladder. Caller holds the write lock.
func (m *Monitor) evaluateThresholds(pairID string, corr float64, now time.Time) {
	var severity Severity
	var action string

	switch {
	case corr >= m.cfg.EmergencyThreshold:
		severity = SeverityEmergency
		action = "HALT_TRADING_PAIR_" + pairID
	case corr >= m.cfg.CriticalThreshold:
		severity = SeverityCritical
		action = "FORCE_DECISION_DIVERGENCE"
	case corr >= m.cfg.WarningThreshold:
		severity = SeverityWarning
		action = "INCREASE_DISAGREEMENT_RATE"
	default:
		return
	}

	m.alerts = append(m.alerts, Alert{
		PairID:            pairID,
		Correlation:       corr,
		Severity:          severity,
		RecommendedAction: action,
		Timestamp:         now,
	})

	m.log.Warn().
		Str("pair", pairID).
		Float64("correlation", corr).
		Str("severity", string(severity)).
		Msg("Correlation threshold breached")
}

// HighCorrelationPairs filters the last refresh's results by threshold,
// highest correlation first.
func (m *Monitor) HighCorrelationPairs(threshold float64) []PairCorrelation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.highPairsLocked(threshold)
}

func (m *Monitor) highPairsLocked(threshold float64) []PairCorrelation {
	out := make([]PairCorrelation, 0)
	for _, pair := range m.pairs {
		corr, ok := m.current[pair.ID]
		if !ok || corr < threshold {
			continue
		}
		out = append(out, PairCorrelation{
			PairID:      pair.ID,
			Account1ID:  pair.Account1ID,
			Account2ID:  pair.Account2ID,
			Correlation: corr,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Correlation != out[j].Correlation {
			return out[i].Correlation > out[j].Correlation
		}
		return out[i].PairID < out[j].PairID
	})
	return out
}

// TriggerEmergencyProtocols emits a halt-trading action for every pair at or
// above the emergency threshold and appends an emergency alert per pair. The
// returned action list is a pure function of the last refresh, so repeated
// calls with no new data return the same set.
func (m *Monitor) TriggerEmergencyProtocols() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	actions := make([]string, 0)
	for _, pc := range m.highPairsLocked(m.cfg.EmergencyThreshold) {
		action := "HALT_TRADING_PAIR_" + pc.PairID
		actions = append(actions, action)
		m.alerts = append(m.alerts, Alert{
			PairID:            pc.PairID,
			Correlation:       pc.Correlation,
			Severity:          SeverityEmergency,
			RecommendedAction: action,
			Timestamp:         now,
		})
		m.log.Error().
			Str("pair", pc.PairID).
			Float64("correlation", pc.Correlation).
			Msg("Emergency protocol triggered")
	}
	sort.Strings(actions)
	return actions
}

// Stats returns summary statistics over the current correlation surface.
func (m *Monitor) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Stats{Pairs: len(m.pairs), Computed: len(m.current)}
	if len(m.current) == 0 {
		return s
	}

	values := make([]float64, 0, len(m.current))
	s.Min = math.Inf(1)
	s.Max = math.Inf(-1)
	for _, corr := range m.current {
		values = append(values, corr)
		if corr < s.Min {
			s.Min = corr
		}
		if corr > s.Max {
			s.Max = corr
		}
		if corr >= m.cfg.WarningThreshold {
			s.AboveWarning++
		}
		if corr >= m.cfg.CriticalThreshold {
			s.AboveCritical++
		}
	}
	s.Mean = stat.Mean(values, nil)
	if len(values) > 1 {
		s.StdDev = stat.StdDev(values, nil)
	}
	return s
}

// Alerts returns the most recent alerts, newest last. limit <= 0 returns all.
func (m *Monitor) Alerts(limit int) []Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	start := 0
	if limit > 0 && len(m.alerts) > limit {
		start = len(m.alerts) - limit
	}
	return append([]Alert(nil), m.alerts[start:]...)
}

// DrainAlerts returns all accumulated alerts and clears the pending list.
// Used by the audit pipeline so each alert is shipped once.
func (m *Monitor) DrainAlerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := m.alerts
	m.alerts = nil
	return out
}

// History returns the most recent correlation data points for a pair.
// An empty pairID returns points for all pairs. limit <= 0 returns all.
func (m *Monitor) History(pairID string, limit int) []DataPoint {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]DataPoint, 0)
	for _, dp := range m.history {
		if pairID == "" || dp.PairID == pairID {
			out = append(out, dp)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Cleanup purges correlation history and alerts older than the cutoff.
func (m *Monitor) Cleanup(olderThan time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-olderThan)

	history := m.history[:0]
	for _, dp := range m.history {
		if dp.Timestamp.After(cutoff) {
			history = append(history, dp)
		}
	}
	removedHistory := len(m.history) - len(history)
	m.history = history

	alerts := m.alerts[:0]
	for _, a := range m.alerts {
		if a.Timestamp.After(cutoff) {
			alerts = append(alerts, a)
		}
	}
	removedAlerts := len(m.alerts) - len(alerts)
	m.alerts = alerts

	if removedHistory > 0 || removedAlerts > 0 {
		m.log.Debug().
			Int("history_removed", removedHistory).
			Int("alerts_removed", removedAlerts).
			Msg("Cleaned up correlation history")
	}
}

// Current returns a copy of the last refresh's correlation map.
func (m *Monitor) Current() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]float64, len(m.current))
	for k, v := range m.current {
		out[k] = v
	}
	return out
}

// SetClock overrides the monitor's time source. Tests only.
func (m *Monitor) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}
