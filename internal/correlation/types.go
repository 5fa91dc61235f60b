// Package correlation implements the correlation monitor: bounded per-account
// trade-outcome history, pairwise Pearson correlation state, and the alert
// ladder that drives the rest of the system's interventions.
package correlation

import (
	"sort"
	"time"
)

// Severity is the alert severity ladder. Per pair and per refresh the
// posture is monotonic: warning -> critical -> emergency.
type Severity string

const (
	SeverityWarning   Severity = "warning"
	SeverityCritical  Severity = "critical"
	SeverityEmergency Severity = "emergency"
)

// Config holds monitor tuning. Zero values are replaced by defaults.
type Config struct {
	Window             int           // per-account ring buffer capacity
	MinOutcomes        int           // outcomes required per side before a pair is computed
	MinAligned         int           // aligned observations required per pair
	AlignmentWindow    time.Duration // max timestamp distance for alignment
	WarningThreshold   float64
	CriticalThreshold  float64
	EmergencyThreshold float64
	MaxHistory         int // history points before trimming
	TrimTo             int // history points kept after trimming
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Window:             100,
		MinOutcomes:        10,
		MinAligned:         5,
		AlignmentWindow:    time.Hour,
		WarningThreshold:   0.60,
		CriticalThreshold:  0.70,
		EmergencyThreshold: 0.80,
		MaxHistory:         10000,
		TrimTo:             5000,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.Window <= 0 {
		c.Window = d.Window
	}
	if c.MinOutcomes <= 0 {
		c.MinOutcomes = d.MinOutcomes
	}
	if c.MinAligned <= 0 {
		c.MinAligned = d.MinAligned
	}
	if c.AlignmentWindow <= 0 {
		c.AlignmentWindow = d.AlignmentWindow
	}
	if c.WarningThreshold <= 0 {
		c.WarningThreshold = d.WarningThreshold
	}
	if c.CriticalThreshold <= 0 {
		c.CriticalThreshold = d.CriticalThreshold
	}
	if c.EmergencyThreshold <= 0 {
		c.EmergencyThreshold = d.EmergencyThreshold
	}
	if c.MaxHistory <= 0 {
		c.MaxHistory = d.MaxHistory
	}
	if c.TrimTo <= 0 {
		c.TrimTo = d.TrimTo
	}
}

// Outcome is one closed trade's return for one account.
type Outcome struct {
	ReturnPct float64   `json:"return_pct"`
	Timestamp time.Time `json:"timestamp"`
}

// PairCorrelation is one pair's current correlation estimate.
type PairCorrelation struct {
	PairID      string  `json:"pair_id"`
	Account1ID  string  `json:"account1_id"`
	Account2ID  string  `json:"account2_id"`
	Correlation float64 `json:"correlation"`
}

// DataPoint is one historical observation of a pair's correlation.
type DataPoint struct {
	Timestamp     time.Time `json:"timestamp"`
	PairID        string    `json:"pair_id"`
	Correlation   float64   `json:"correlation"`
	SignalCount   int       `json:"signal_count"`
	AgreementRate float64   `json:"agreement_rate"`
}

// Alert is a threshold breach event.
type Alert struct {
	PairID            string    `json:"pair_id"`
	Correlation       float64   `json:"correlation"`
	Severity          Severity  `json:"severity"`
	RecommendedAction string    `json:"recommended_action"`
	Timestamp         time.Time `json:"timestamp"`
}

// Stats summarizes the current correlation surface.
type Stats struct {
	Pairs         int     `json:"pairs"`
	Computed      int     `json:"computed"`
	Mean          float64 `json:"mean"`
	Max           float64 `json:"max"`
	Min           float64 `json:"min"`
	StdDev        float64 `json:"std_dev"`
	AboveWarning  int     `json:"above_warning"`
	AboveCritical int     `json:"above_critical"`
}

// accountPair is one unordered pair of accounts under surveillance.
// Immutable after registration.
type accountPair struct {
	ID         string
	Account1ID string
	Account2ID string
}

// PairID builds the deterministic key for two accounts: the canonical
// (lexicographically sorted) ids joined by an underscore.
func PairID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "_" + b
}

func newPair(a, b string) accountPair {
	if b < a {
		a, b = b, a
	}
	return accountPair{ID: a + "_" + b, Account1ID: a, Account2ID: b}
}

// buildRoster creates all C(n,2) pairs from the account roster.
func buildRoster(ids []string) []accountPair {
	sorted := make([]string, len(ids))
	copy(sorted, ids)
	sort.Strings(sorted)

	pairs := make([]accountPair, 0, len(sorted)*(len(sorted)-1)/2)
	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			pairs = append(pairs, newPair(sorted[i], sorted[j]))
		}
	}
	return pairs
}
