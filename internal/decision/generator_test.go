package decision

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/dissent/internal/domain"
	"github.com/aristath/dissent/internal/risk"
)

func newTestGenerator(seed int64) *Generator {
	return NewGenerator(
		risk.NewEngine(zerolog.Nop()),
		rand.New(rand.NewSource(seed)),
		zerolog.Nop(),
	)
}

func strongSignal() domain.OriginalSignal {
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

func calmAccount(id string) domain.Account {
	return domain.Account{
		ID:            id,
		PersonalityID: "p-" + id,
		Balance:       10000,
		Equity:        10000,
	}
}

func TestGenerateDecisionDeterministicWithSeed(t *testing.T) {
	a := newTestGenerator(7)
	b := newTestGenerator(7)

	sig := strongSignal()
	acct := calmAccount("acct-1")
	p := domain.DefaultPersonality("p-acct-1")

	d1 := a.GenerateDecision(sig, acct, p)
	d2 := b.GenerateDecision(sig, acct, p)

	assert.Equal(t, d1.Decision, d2.Decision)
	assert.Equal(t, d1.Reasoning, d2.Reasoning)
	assert.Equal(t, d1.Modifications, d2.Modifications)
}

func TestGenerateDecisionHighRiskSkips(t *testing.T) {
	g := newTestGenerator(1)
	g.riskEngine.UpdateMarketConditions(1.0, 1.0, 1.0)

	sig := strongSignal()
	sig.Symbol = "BTCUSD"
	sig.Strength = 0.05

	acct := calmAccount("acct-1")
	acct.DrawdownPct = 9
	acct.TradesToday = 12

	p := domain.DefaultPersonality("p-acct-1")
	p.Biases.SignalSkepticism = 0.9
	p.Biases.RiskAversion = 0.9

	d := g.GenerateDecision(sig, acct, p)
	assert.Equal(t, domain.DecisionSkip, d.Decision)
	assert.True(t, d.RiskAssessment.RecommendSkip)
	assert.NotEmpty(t, d.Reasoning)
}

func TestGenerateDecisionMissingPersonality(t *testing.T) {
	g := newTestGenerator(2)

	d := g.GenerateDecision(strongSignal(), calmAccount("acct-1"), domain.PersonalityProfile{})
	assert.Equal(t, "p-acct-1", d.PersonalityID)
	assert.NotEmpty(t, d.Reasoning)
}

func TestGenerateDecisionResetsOutOfBandRate(t *testing.T) {
	g := newTestGenerator(3)

	p := domain.DefaultPersonality("p-1")
	p.BaseDisagreementRate = 0.9

	// The generator must not honor a 90% rate; over many decisions the
	// non-TAKE fraction stays near the corrected 17.5% channel plus the small
	// organic-modification contribution.
	nonTake := 0
	const n = 2000
	for i := 0; i < n; i++ {
		acct := calmAccount(fmt.Sprintf("acct-%d", i))
		d := g.GenerateDecision(strongSignal(), acct, p)
		if d.Decision != domain.DecisionTake {
			nonTake++
		}
	}
	rate := float64(nonTake) / float64(n)
	assert.Less(t, rate, 0.30)
}

// With default personalities and a calm market, the non-TAKE fraction should
// land near the forced-disagreement channel's base rate.
func TestGenerateDecisionStatisticalBand(t *testing.T) {
	g := newTestGenerator(42)
	g.riskEngine.UpdateMarketConditions(0.1, 0.0, 0.1)

	nonTake := 0
	const n = 5000
	for i := 0; i < n; i++ {
		acct := calmAccount(fmt.Sprintf("acct-%d", i))
		d := g.GenerateDecision(strongSignal(), acct, domain.DefaultPersonality(acct.PersonalityID))
		if d.Decision != domain.DecisionTake {
			nonTake++
		}
	}

	rate := float64(nonTake) / float64(n)
	assert.Greater(t, rate, 0.13)
	assert.Less(t, rate, 0.27)
}

func TestContrarianFlipsOnlyForNonConformists(t *testing.T) {
	g := newTestGenerator(11)

	conformist := domain.DefaultPersonality("p-1")
	conformist.Biases.CrowdFollowing = 0.8

	// The organic modification path never fades the signal for a conformist.
	// (The forced-disagreement channel may, which is why this exercises
	// personalityModifications directly.)
	for i := 0; i < 500; i++ {
		g.mu.Lock()
		mods, _ := g.personalityModifications(conformist)
		g.mu.Unlock()
		assert.False(t, mods.DirectionFlipped)
	}
}

func TestContrarianFlipsEventually(t *testing.T) {
	g := newTestGenerator(13)

	contrarian := domain.DefaultPersonality("p-1")
	contrarian.Biases.CrowdFollowing = 0.05

	flipped := false
	for i := 0; i < 500 && !flipped; i++ {
		d := g.GenerateDecision(strongSignal(), calmAccount(fmt.Sprintf("acct-%d", i)), contrarian)
		if d.Modifications != nil && d.Modifications.DirectionFlipped {
			flipped = true
			assert.Equal(t, domain.DecisionModify, d.Decision)
		}
	}
	assert.True(t, flipped, "a strong contrarian should fade the signal at least once in 500 draws")
}

func TestModificationMultipliersBounded(t *testing.T) {
	g := newTestGenerator(17)

	p := domain.DefaultPersonality("p-1")
	p.Biases.ProfitTaking = 0.0 // maximally greedy
	p.Biases.LossAvoidance = 1.0
	p.Biases.RiskAversion = 1.0

	for i := 0; i < 200; i++ {
		d := g.GenerateDecision(strongSignal(), calmAccount(fmt.Sprintf("acct-%d", i)), p)
		if d.Modifications == nil {
			continue
		}
		assert.GreaterOrEqual(t, d.Modifications.TakeProfitMult, 0.7)
		assert.LessOrEqual(t, d.Modifications.TakeProfitMult, 1.3)
		assert.GreaterOrEqual(t, d.Modifications.StopLossMult, 0.7)
		assert.LessOrEqual(t, d.Modifications.StopLossMult, 1.3)
		assert.GreaterOrEqual(t, d.Modifications.SizeMult, 0.6)
		assert.LessOrEqual(t, d.Modifications.SizeMult, 1.4)
		assert.GreaterOrEqual(t, d.Modifications.EntryDelaySec, 0.0)
		assert.LessOrEqual(t, d.Modifications.EntryDelaySec, 30.0)
	}
}

func TestClassifyMaterialThresholds(t *testing.T) {
	g := newTestGenerator(19)

	cases := []struct {
		name string
		mods domain.SignalModifications
		want domain.DecisionType
	}{
		{"cosmetic", domain.SignalModifications{TakeProfitMult: 1.05, StopLossMult: 0.95, SizeMult: 1.1}, domain.DecisionTake},
		{"tp material", domain.SignalModifications{TakeProfitMult: 1.15, StopLossMult: 1, SizeMult: 1}, domain.DecisionModify},
		{"sl material", domain.SignalModifications{TakeProfitMult: 1, StopLossMult: 0.85, SizeMult: 1}, domain.DecisionModify},
		{"size material", domain.SignalModifications{TakeProfitMult: 1, StopLossMult: 1, SizeMult: 1.2}, domain.DecisionModify},
		{"delay material", domain.SignalModifications{TakeProfitMult: 1, StopLossMult: 1, SizeMult: 1, EntryDelaySec: 8}, domain.DecisionModify},
		{"flip", domain.SignalModifications{TakeProfitMult: 1, StopLossMult: 1, SizeMult: 1, DirectionFlipped: true}, domain.DecisionModify},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, g.classify(tc.mods))
		})
	}
}

func TestGenerateSkipDecision(t *testing.T) {
	g := newTestGenerator(23)

	d := g.GenerateSkipDecision(strongSignal(), calmAccount("acct-1"), domain.DefaultPersonality("p-1"))
	require.Equal(t, domain.DecisionSkip, d.Decision)
	assert.True(t, d.RiskAssessment.RecommendSkip)
	assert.Nil(t, d.Modifications)
	assert.NotEmpty(t, d.Reasoning)
}

func TestForceDisagreementAlwaysMaterial(t *testing.T) {
	g := newTestGenerator(29)

	for i := 0; i < 200; i++ {
		d := domain.AccountDecision{
			AccountID: "acct-1",
			Decision:  domain.DecisionTake,
			Modifications: &domain.SignalModifications{
				TakeProfitMult: 1, StopLossMult: 1, SizeMult: 1,
			},
		}
		g.mu.Lock()
		g.forceDisagreement(&d)
		g.mu.Unlock()

		assert.NotEqual(t, domain.DecisionTake, d.Decision)
		if d.Decision == domain.DecisionModify {
			require.NotNil(t, d.Modifications)
			assert.NotEqual(t, domain.DecisionTake, g.classify(*d.Modifications))
		}
	}
}

func TestNormalizePersonalityKeepsValidProfile(t *testing.T) {
	p := domain.DefaultPersonality("p-1")
	p.BaseDisagreementRate = 0.18
	p.Biases.RiskAversion = 0.9

	out := normalizePersonality(p, calmAccount("acct-1"))
	assert.Equal(t, 0.18, out.BaseDisagreementRate)
	assert.Equal(t, 0.9, out.Biases.RiskAversion)
}
