// Package decision turns one account's risk assessment and personality into a
// single take/skip/modify decision with human-readable reasoning.
package decision

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/dissent/internal/domain"
	"github.com/aristath/dissent/internal/risk"
)

// Classification thresholds: a modification below all of these is cosmetic
// and the decision stays a plain TAKE.
const (
	materialTakeProfitDelta = 0.10
	materialStopLossDelta   = 0.10
	materialTimingDelaySec  = 5.0
	materialSizeDelta       = 0.15

	maxEntryDelaySec   = 30.0
	entryDelayProb     = 0.03
	contrarianCeiling  = 0.2  // crowd-following below this marks a strong contrarian
	contrarianFlipProb = 0.10 // chance a strong contrarian fades the signal
)

// Generator produces per-account decisions. Randomness comes from an
// injectable seedable source so statistical properties are testable.
type Generator struct {
	riskEngine *risk.Engine
	log        zerolog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewGenerator creates a decision generator. A nil rng gets a time-seeded one.
func NewGenerator(riskEngine *risk.Engine, rng *rand.Rand, log zerolog.Logger) *Generator {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Generator{
		riskEngine: riskEngine,
		rng:        rng,
		log:        log.With().Str("component", "decision_generator").Logger(),
	}
}

// GenerateDecision produces one account's decision for a signal.
//
// Two independent disagreement channels are layered: the risk-based skip and
// the personality-driven forced disagreement. The second channel is what
// keeps the aggregate disagreement rate inside the target band even when
// market conditions are calm and risk-based skipping is rare.
func (g *Generator) GenerateDecision(signal domain.OriginalSignal, account domain.Account, personality domain.PersonalityProfile) domain.AccountDecision {
	personality = normalizePersonality(personality, account)
	assessment := g.riskEngine.Assess(signal, account, personality)

	g.mu.Lock()
	defer g.mu.Unlock()

	if assessment.RecommendSkip {
		return domain.AccountDecision{
			AccountID:      account.ID,
			PersonalityID:  personality.PersonalityID,
			Decision:       domain.DecisionSkip,
			Reasoning:      skipReasons[g.rng.Intn(len(skipReasons))],
			RiskAssessment: assessment,
			PersonalityFactors: map[string]float64{
				"risk_aversion": personality.Biases.RiskAversion,
				"skepticism":    personality.Biases.SignalSkepticism,
			},
		}
	}

	mods, factors := g.personalityModifications(personality)
	decision := g.classify(mods)

	reasoning := takeReasons[g.rng.Intn(len(takeReasons))]
	if decision == domain.DecisionModify {
		if mods.DirectionFlipped {
			reasoning = contrarianReasons[g.rng.Intn(len(contrarianReasons))]
		} else {
			reasoning = modifyReasons[g.rng.Intn(len(modifyReasons))]
		}
	}

	result := domain.AccountDecision{
		AccountID:          account.ID,
		PersonalityID:      personality.PersonalityID,
		Decision:           decision,
		Reasoning:          reasoning,
		Modifications:      &mods,
		RiskAssessment:     assessment,
		PersonalityFactors: factors,
	}

	// Forced-disagreement channel, independent of risk.
	if g.rng.Float64() < personality.BaseDisagreementRate {
		g.forceDisagreement(&result)
	}

	return result
}

// personalityModifications derives the execution deltas from the bias vector.
// Caller holds g.mu.
func (g *Generator) personalityModifications(p domain.PersonalityProfile) (domain.SignalModifications, map[string]float64) {
	greed := 1 - p.Biases.ProfitTaking
	fear := p.Biases.LossAvoidance
	impatience := 1 - p.Biases.RiskAversion

	// Greedy personalities stretch the target, fearful ones tighten the stop.
	tpMult := clampMult(1+(greed-0.5)*0.4+(g.rng.Float64()-0.5)*0.1, 0.8, 1.2)
	slMult := clampMult(1-(fear-0.5)*0.4+(g.rng.Float64()-0.5)*0.1, 0.8, 1.2)
	sizeMult := clampMult(1-(p.Biases.RiskAversion-0.5)*0.4+(g.rng.Float64()-0.5)*0.1, 0.8, 1.2)

	// Entry delay is occasional: drawing one on every decision would push the
	// aggregate disagreement rate above the target band on its own.
	delay := 0.0
	if g.rng.Float64() < entryDelayProb {
		delay = g.rng.Float64() * maxEntryDelaySec * (1 - p.Biases.RiskAversion)
		if delay <= 1.0 {
			delay = 0
		}
	}

	flipped := false
	if p.Biases.CrowdFollowing < contrarianCeiling && g.rng.Float64() < contrarianFlipProb {
		flipped = true
	}

	mods := domain.SignalModifications{
		DirectionFlipped: flipped,
		TakeProfitMult:   tpMult,
		StopLossMult:     slMult,
		SizeMult:         sizeMult,
		EntryDelaySec:    delay,
	}
	factors := map[string]float64{
		"greed":      greed,
		"fear":       fear,
		"impatience": impatience,
		"conformity": p.Biases.CrowdFollowing,
	}
	return mods, factors
}

// classify decides whether the modifications are material. A direction flip
// alone is always decisive.
func (g *Generator) classify(mods domain.SignalModifications) domain.DecisionType {
	if mods.DirectionFlipped {
		return domain.DecisionModify
	}
	if math.Abs(mods.TakeProfitMult-1) > materialTakeProfitDelta ||
		math.Abs(mods.StopLossMult-1) > materialStopLossDelta ||
		mods.EntryDelaySec > materialTimingDelaySec ||
		math.Abs(mods.SizeMult-1) > materialSizeDelta {
		return domain.DecisionModify
	}
	return domain.DecisionTake
}

// forceDisagreement overwrites the prior classification with either a SKIP or
// a materially different MODIFY, drawn from wider ranges than the ordinary
// personality modifications. Caller holds g.mu.
func (g *Generator) forceDisagreement(d *domain.AccountDecision) {
	if g.rng.Float64() < 0.5 {
		d.Decision = domain.DecisionSkip
		d.Reasoning = skipReasons[g.rng.Intn(len(skipReasons))]
		d.Modifications = nil
		return
	}

	if d.Modifications == nil {
		d.Modifications = &domain.SignalModifications{TakeProfitMult: 1, StopLossMult: 1, SizeMult: 1}
	}

	switch g.rng.Intn(4) {
	case 0:
		d.Modifications.TakeProfitMult = clampMult(1+signed(g.rng)*(0.12+g.rng.Float64()*0.18), 0.7, 1.3)
	case 1:
		d.Modifications.StopLossMult = clampMult(1+signed(g.rng)*(0.12+g.rng.Float64()*0.18), 0.7, 1.3)
	case 2:
		d.Modifications.SizeMult = clampMult(1+signed(g.rng)*(0.17+g.rng.Float64()*0.18), 0.6, 1.4)
	case 3:
		d.Modifications.DirectionFlipped = true
	}

	d.Decision = domain.DecisionModify
	if d.Modifications.DirectionFlipped {
		d.Reasoning = contrarianReasons[g.rng.Intn(len(contrarianReasons))]
	} else {
		d.Reasoning = modifyReasons[g.rng.Intn(len(modifyReasons))]
	}
}

// GenerateSkipDecision produces the SKIP used for accounts not selected to
// participate. The attached assessment is deliberately conservative.
func (g *Generator) GenerateSkipDecision(signal domain.OriginalSignal, account domain.Account, personality domain.PersonalityProfile) domain.AccountDecision {
	personality = normalizePersonality(personality, account)

	g.mu.Lock()
	defer g.mu.Unlock()

	return domain.AccountDecision{
		AccountID:     account.ID,
		PersonalityID: personality.PersonalityID,
		Decision:      domain.DecisionSkip,
		Reasoning:     skipReasons[g.rng.Intn(len(skipReasons))],
		RiskAssessment: domain.RiskAssessment{
			PersonalRisk:  0.8,
			MarketRisk:    0.5,
			PortfolioRisk: 0.5,
			CombinedRisk:  0.8,
			RiskThreshold: 0.5,
			RecommendSkip: true,
		},
		PersonalityFactors: map[string]float64{
			"risk_aversion": personality.Biases.RiskAversion,
		},
	}
}

// normalizePersonality substitutes the documented default profile when the
// input is missing or unusable. Missing configuration is never fatal.
func normalizePersonality(p domain.PersonalityProfile, account domain.Account) domain.PersonalityProfile {
	if p.PersonalityID == "" {
		id := account.PersonalityID
		if id == "" {
			id = "default_" + account.ID
		}
		return domain.DefaultPersonality(id)
	}
	if p.BaseDisagreementRate < 0.15 || p.BaseDisagreementRate > 0.20 {
		p.BaseDisagreementRate = 0.175
	}
	return p
}

func clampMult(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func signed(rng *rand.Rand) float64 {
	if rng.Float64() < 0.5 {
		return -1
	}
	return 1
}
