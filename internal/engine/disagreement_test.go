package engine

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/dissent/internal/correlation"
	"github.com/aristath/dissent/internal/decision"
	"github.com/aristath/dissent/internal/domain"
	"github.com/aristath/dissent/internal/risk"
	"github.com/aristath/dissent/internal/timing"
)

type captureAuditor struct {
	results []domain.SignalDisagreement
}

func (c *captureAuditor) RecordDisagreement(sd domain.SignalDisagreement) {
	c.results = append(c.results, sd)
}

func newTestEngine(seed int64, auditor Auditor) (*Engine, *correlation.Monitor) {
	log := zerolog.Nop()
	monitor := correlation.NewMonitor(correlation.Config{}, log)
	riskEngine := risk.NewEngine(log)
	riskEngine.UpdateMarketConditions(0.1, 0.0, 0.1)
	generator := decision.NewGenerator(riskEngine, rand.New(rand.NewSource(seed)), log)
	timingEngine := timing.NewEngine(log)
	e := New(monitor, generator, timingEngine, auditor, rand.New(rand.NewSource(seed+1)), log)
	return e, monitor
}

func testEngineSignal() domain.OriginalSignal {
	return domain.OriginalSignal{
		Symbol:     "EURUSD",
		Direction:  domain.DirectionBuy,
		Strength:   0.85,
		EntryPrice: 1.0850,
		StopLoss:   1.0800,
		TakeProfit: 1.0950,
		Size:       0.1,
		Timestamp:  time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC),
	}
}

func testRoster(n int) ([]domain.Account, map[string]domain.PersonalityProfile) {
	accounts := make([]domain.Account, n)
	personalities := make(map[string]domain.PersonalityProfile, n)
	for i := range accounts {
		id := fmt.Sprintf("acct-%02d", i)
		pid := "p-" + id
		accounts[i] = domain.Account{
			ID:            id,
			PersonalityID: pid,
			Balance:       10000,
			Equity:        10000,
		}
		personalities[pid] = domain.DefaultPersonality(pid)
	}
	return accounts, personalities
}

func TestGenerateDisagreementsInvalidSignal(t *testing.T) {
	e, _ := newTestEngine(1, nil)
	accounts, personalities := testRoster(5)

	sig := testEngineSignal()
	sig.EntryPrice = -1

	_, err := e.GenerateDisagreements(sig, accounts, personalities, "sig-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid signal")
}

func TestGenerateDisagreementsNoAccounts(t *testing.T) {
	e, _ := newTestEngine(1, nil)

	_, err := e.GenerateDisagreements(testEngineSignal(), nil, nil, "sig-1")
	require.Error(t, err)
}

func TestGenerateDisagreementsOneDecisionPerAccount(t *testing.T) {
	e, _ := newTestEngine(2, nil)
	accounts, personalities := testRoster(20)

	sd, err := e.GenerateDisagreements(testEngineSignal(), accounts, personalities, "sig-1")
	require.NoError(t, err)
	require.Len(t, sd.Decisions, 20)

	seen := make(map[string]bool)
	for _, d := range sd.Decisions {
		assert.False(t, seen[d.AccountID], "duplicate decision for %s", d.AccountID)
		seen[d.AccountID] = true
	}
}

func TestParticipationRateWithinBand(t *testing.T) {
	e, _ := newTestEngine(3, nil)

	sig := testEngineSignal()
	sig.Strength = 0.5 // no nudge
	for i := 0; i < 50; i++ {
		rate := e.participationRate(fmt.Sprintf("sig-%d", i), sig)
		assert.GreaterOrEqual(t, rate, 0.80)
		assert.LessOrEqual(t, rate, 0.85)
	}
}

func TestParticipationRateStrengthNudgeClamped(t *testing.T) {
	e, _ := newTestEngine(4, nil)

	strong := testEngineSignal()
	strong.Strength = 1.0
	weak := testEngineSignal()
	weak.Strength = 0.0

	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("sig-%d", i)
		up := e.participationRate(id, strong)
		down := e.participationRate(id, weak)
		assert.Greater(t, up, down)
		assert.GreaterOrEqual(t, down, 0.60)
		assert.LessOrEqual(t, up, 0.95)
	}
}

func TestSelectParticipantsDeterministic(t *testing.T) {
	accounts, _ := testRoster(20)

	a := selectParticipants(accounts, "sig-1", 0.8)
	b := selectParticipants(accounts, "sig-1", 0.8)
	assert.Equal(t, a, b)
	assert.Len(t, a, 16)
}

func TestSelectParticipantsVariesAcrossSignals(t *testing.T) {
	accounts, _ := testRoster(30)

	a := selectParticipants(accounts, "sig-1", 0.8)
	b := selectParticipants(accounts, "sig-2", 0.8)
	assert.NotEqual(t, a, b)
}

func TestGenerateDisagreementsSelectionMatchesRate(t *testing.T) {
	e, _ := newTestEngine(5, nil)
	accounts, personalities := testRoster(40)
	sig := testEngineSignal()

	sd, err := e.GenerateDisagreements(sig, accounts, personalities, "sig-1")
	require.NoError(t, err)

	selected := 0
	for _, d := range sd.Decisions {
		if d.Selected {
			selected++
		} else {
			assert.Equal(t, domain.DecisionSkip, d.Decision)
		}
	}
	want := int(0.5 + e.participationRate("sig-1", sig)*40)
	assert.Equal(t, want, selected)
}

// Correction: when a monitored pair sits above the pre-emptive threshold and
// both sides chose TAKE, exactly one side is overridden.
func TestCorrelationCorrection(t *testing.T) {
	e, monitor := newTestEngine(6, nil)

	monitor.RegisterAccounts([]string{"acct-00", "acct-01"})
	base := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	returns := []float64{0.5, -0.3, 1.2, 0.1, -0.8, 0.9, -0.2, 0.4, -1.1, 0.7, 0.3, -0.6}
	for i, r := range returns {
		ts := base.Add(time.Duration(i) * 2 * time.Hour)
		monitor.RecordOutcome("acct-00", r, ts)
		monitor.RecordOutcome("acct-01", r, ts)
	}
	monitor.Refresh()

	decisions := []domain.AccountDecision{
		{AccountID: "acct-00", Selected: true, Decision: domain.DecisionTake,
			Modifications: &domain.SignalModifications{TakeProfitMult: 1, StopLossMult: 1, SizeMult: 1}},
		{AccountID: "acct-01", Selected: true, Decision: domain.DecisionTake,
			Modifications: &domain.SignalModifications{TakeProfitMult: 1, StopLossMult: 1, SizeMult: 1}},
	}

	adjustments := e.correlationCorrection(decisions, "sig-1")
	require.Len(t, adjustments, 1)

	adj := adjustments[0]
	assert.Equal(t, "acct-00_acct-01", adj.PairID)
	assert.InDelta(t, 1.0, adj.BeforeCorrelation, 1e-9)
	assert.Equal(t, 0.60, adj.TargetCorrelation)
	assert.Contains(t, []string{"forced_skip", "forced_modify"}, adj.Action)

	takes := 0
	for i := range decisions {
		if decisions[i].Decision == domain.DecisionTake {
			takes++
		}
		if decisions[i].AccountID == adj.AdjustedAccountID && adj.Action == "forced_modify" {
			require.NotNil(t, decisions[i].Modifications)
			assert.GreaterOrEqual(t, decisions[i].Modifications.TakeProfitMult, 0.7)
			assert.LessOrEqual(t, decisions[i].Modifications.TakeProfitMult, 1.3)
		}
	}
	assert.Equal(t, 1, takes)
}

func TestCorrelationCorrectionAdjustsEachAccountOnce(t *testing.T) {
	e, monitor := newTestEngine(7, nil)

	ids := []string{"acct-00", "acct-01", "acct-02"}
	monitor.RegisterAccounts(ids)
	base := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	returns := []float64{0.5, -0.3, 1.2, 0.1, -0.8, 0.9, -0.2, 0.4, -1.1, 0.7, 0.3, -0.6}
	for i, r := range returns {
		ts := base.Add(time.Duration(i) * 2 * time.Hour)
		for _, id := range ids {
			monitor.RecordOutcome(id, r, ts)
		}
	}
	monitor.Refresh()

	decisions := make([]domain.AccountDecision, len(ids))
	for i, id := range ids {
		decisions[i] = domain.AccountDecision{
			AccountID: id, Selected: true, Decision: domain.DecisionTake,
			Modifications: &domain.SignalModifications{TakeProfitMult: 1, StopLossMult: 1, SizeMult: 1},
		}
	}

	adjustments := e.correlationCorrection(decisions, "sig-1")

	adjusted := make(map[string]int)
	for _, adj := range adjustments {
		adjusted[adj.AdjustedAccountID]++
	}
	for id, count := range adjusted {
		assert.Equal(t, 1, count, "account %s adjusted more than once", id)
	}
}

func TestCorrelationCorrectionNoHotPairs(t *testing.T) {
	e, _ := newTestEngine(8, nil)

	decisions := []domain.AccountDecision{
		{AccountID: "acct-00", Selected: true, Decision: domain.DecisionTake},
	}
	assert.Nil(t, e.correlationCorrection(decisions, "sig-1"))
}

func TestForecastImpactFlagsIdenticalSignatures(t *testing.T) {
	e, _ := newTestEngine(9, nil)
	sig := testEngineSignal()

	decisions := []domain.AccountDecision{
		{AccountID: "acct-00", Selected: true, Decision: domain.DecisionTake,
			Modifications: &domain.SignalModifications{TakeProfitMult: 1, StopLossMult: 1, SizeMult: 1}},
		{AccountID: "acct-01", Selected: true, Decision: domain.DecisionTake,
			Modifications: &domain.SignalModifications{TakeProfitMult: 1, StopLossMult: 1, SizeMult: 1}},
		{AccountID: "acct-02", Selected: true, Decision: domain.DecisionModify,
			Modifications: &domain.SignalModifications{TakeProfitMult: 1.2, StopLossMult: 1, SizeMult: 1}},
	}

	impact := e.forecastImpact(sig, decisions)
	assert.Equal(t, []string{"acct-00_acct-01"}, impact.FlaggedPairs)
	assert.InDelta(t, 0.02, impact.Projected["acct-00_acct-01"], 1e-9)
}

func TestForecastImpactCapped(t *testing.T) {
	e, monitor := newTestEngine(10, nil)

	monitor.RegisterAccounts([]string{"acct-00", "acct-01"})
	base := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	returns := []float64{0.5, -0.3, 1.2, 0.1, -0.8, 0.9, -0.2, 0.4, -1.1, 0.7, 0.3, -0.6}
	for i, r := range returns {
		ts := base.Add(time.Duration(i) * 2 * time.Hour)
		monitor.RecordOutcome("acct-00", r, ts)
		monitor.RecordOutcome("acct-01", r, ts)
	}
	monitor.Refresh()

	decisions := []domain.AccountDecision{
		{AccountID: "acct-00", Selected: true, Decision: domain.DecisionTake,
			Modifications: &domain.SignalModifications{TakeProfitMult: 1, StopLossMult: 1, SizeMult: 1}},
		{AccountID: "acct-01", Selected: true, Decision: domain.DecisionTake,
			Modifications: &domain.SignalModifications{TakeProfitMult: 1, StopLossMult: 1, SizeMult: 1}},
	}

	impact := e.forecastImpact(testEngineSignal(), decisions)
	assert.LessOrEqual(t, impact.Projected["acct-00_acct-01"], 0.95)
}

func TestValidateDisagreementRateManualWindow(t *testing.T) {
	window := []domain.SignalDisagreement{{
		Decisions: []domain.AccountDecision{
			{Selected: true, Decision: domain.DecisionTake},
			{Selected: true, Decision: domain.DecisionTake},
			{Selected: true, Decision: domain.DecisionTake},
			{Selected: true, Decision: domain.DecisionTake},
			{Selected: true, Decision: domain.DecisionSkip},
			{Selected: false, Decision: domain.DecisionSkip}, // not selected: excluded
		},
	}}

	stats := ValidateDisagreementRate(window)
	assert.Equal(t, 5, stats.Decisions)
	assert.Equal(t, 1, stats.Disagreements)
	assert.InDelta(t, 0.20, stats.Rate, 1e-9)
	assert.True(t, stats.InBand)
}

func TestValidateDisagreementRateEmpty(t *testing.T) {
	stats := ValidateDisagreementRate(nil)
	assert.Equal(t, 0.0, stats.Rate)
	assert.False(t, stats.InBand)
}

// Statistical property: across many signals with default personalities the
// aggregate disagreement rate among selected participants lands in the target
// band.
func TestDisagreementRateStatisticalBand(t *testing.T) {
	if testing.Short() {
		t.Skip("statistical test")
	}

	e, _ := newTestEngine(42, nil)
	accounts, personalities := testRoster(20)
	sig := testEngineSignal()

	window := make([]domain.SignalDisagreement, 0, 2500)
	for i := 0; i < 2500; i++ {
		sd, err := e.GenerateDisagreements(sig, accounts, personalities, fmt.Sprintf("sig-%d", i))
		require.NoError(t, err)
		window = append(window, sd)
	}

	stats := ValidateDisagreementRate(window)
	assert.True(t, stats.InBand, "rate %.4f outside [%.2f, %.2f]", stats.Rate, stats.TargetMin, stats.TargetMax)
}

func TestValidateRecentWindowBounded(t *testing.T) {
	e, _ := newTestEngine(11, nil)
	accounts, personalities := testRoster(5)
	sig := testEngineSignal()

	for i := 0; i < 210; i++ {
		_, err := e.GenerateDisagreements(sig, accounts, personalities, fmt.Sprintf("sig-%d", i))
		require.NoError(t, err)
	}

	e.mu.Lock()
	recent := len(e.recent)
	e.mu.Unlock()
	assert.Equal(t, 200, recent)

	stats := e.ValidateRecent()
	assert.Equal(t, 200, stats.Signals)
}

func TestAuditorReceivesEveryResult(t *testing.T) {
	auditor := &captureAuditor{}
	e, _ := newTestEngine(12, auditor)
	accounts, personalities := testRoster(5)

	for i := 0; i < 3; i++ {
		_, err := e.GenerateDisagreements(testEngineSignal(), accounts, personalities, fmt.Sprintf("sig-%d", i))
		require.NoError(t, err)
	}

	require.Len(t, auditor.results, 3)
	assert.Equal(t, "sig-0", auditor.results[0].SignalID)
}

func TestGenerateDisagreementsMetricsPopulated(t *testing.T) {
	e, _ := newTestEngine(13, nil)
	accounts, personalities := testRoster(20)

	sd, err := e.GenerateDisagreements(testEngineSignal(), accounts, personalities, "sig-1")
	require.NoError(t, err)

	assert.Greater(t, sd.Metrics.ParticipationRate, 0.0)
	assert.LessOrEqual(t, sd.Metrics.ParticipationRate, 1.0)
	assert.Greater(t, sd.Metrics.DirectionConsensus, 0.5)
	assert.GreaterOrEqual(t, sd.Metrics.TimingSpreadSec, 0.0)
	assert.False(t, sd.GeneratedAt.IsZero())
}
