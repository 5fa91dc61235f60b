// Package domain contains the core value types shared across the disagreement
// engine. The domain layer is pure: no infrastructure dependencies, no logging.
package domain

import (
	"fmt"
	"time"
)

// Direction is the trade direction of a signal or decision.
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

// Opposite returns the flipped direction.
func (d Direction) Opposite() Direction {
	if d == DirectionBuy {
		return DirectionSell
	}
	return DirectionBuy
}

// DecisionType classifies what an account does with a signal.
type DecisionType string

const (
	DecisionTake   DecisionType = "TAKE"
	DecisionSkip   DecisionType = "SKIP"
	DecisionModify DecisionType = "MODIFY"
	DecisionDelay  DecisionType = "DELAY"
)

// OriginalSignal is the upstream trading signal every account receives.
type OriginalSignal struct {
	Symbol     string    `json:"symbol"`
	Direction  Direction `json:"direction"`
	Strength   float64   `json:"strength"` // 0..1 confidence from the signal provider
	EntryPrice float64   `json:"entry_price"`
	StopLoss   float64   `json:"stop_loss"`
	TakeProfit float64   `json:"take_profit"`
	Size       float64   `json:"size"` // lots
	Timestamp  time.Time `json:"timestamp"`
}

// Validate rejects malformed signals at the data-model boundary so the
// pipeline never sees non-positive prices or an unknown direction.
func (s *OriginalSignal) Validate() error {
	if s.Symbol == "" {
		return fmt.Errorf("signal has no symbol")
	}
	if s.Direction != DirectionBuy && s.Direction != DirectionSell {
		return fmt.Errorf("invalid direction %q", s.Direction)
	}
	if s.EntryPrice <= 0 {
		return fmt.Errorf("non-positive entry price %.5f", s.EntryPrice)
	}
	if s.StopLoss <= 0 {
		return fmt.Errorf("non-positive stop loss %.5f", s.StopLoss)
	}
	if s.TakeProfit <= 0 {
		return fmt.Errorf("non-positive take profit %.5f", s.TakeProfit)
	}
	if s.Size <= 0 {
		return fmt.Errorf("non-positive size %.2f", s.Size)
	}
	if s.Strength < 0 || s.Strength > 1 {
		return fmt.Errorf("strength %.3f outside [0,1]", s.Strength)
	}
	return nil
}

// OpenPosition is one currently open position on an account.
type OpenPosition struct {
	Symbol string  `json:"symbol"`
	Size   float64 `json:"size"`
}

// Account is a snapshot of one trading account at decision time.
type Account struct {
	ID            string         `json:"id"`
	PersonalityID string         `json:"personality_id"`
	Balance       float64        `json:"balance"`
	Equity        float64        `json:"equity"`
	DrawdownPct   float64        `json:"drawdown_pct"` // percent, 0..100
	OpenPositions []OpenPosition `json:"open_positions,omitempty"`
	TradesToday   int            `json:"trades_today"`
}

// BiasVector is the bundle of behavioral biases that shapes one personality's
// simulated decision style. All components are in [0,1].
type BiasVector struct {
	RiskAversion     float64 `json:"risk_aversion"`
	SignalSkepticism float64 `json:"signal_skepticism"`
	CrowdFollowing   float64 `json:"crowd_following"`
	ProfitTaking     float64 `json:"profit_taking"`
	LossAvoidance    float64 `json:"loss_avoidance"`
}

// PersonalityProfile is a decision-making character, possibly shared by many
// accounts. Treated as an immutable input per decision; how profiles evolve
// over time is a separate subsystem.
type PersonalityProfile struct {
	PersonalityID        string          `json:"personality_id"`
	BaseDisagreementRate float64         `json:"base_disagreement_rate"` // 0.15..0.20
	Biases               BiasVector      `json:"biases"`
	HourlyTimingBias     map[int]float64 `json:"hourly_timing_bias,omitempty"` // optional seconds offset per UTC hour
}

// DefaultPersonality synthesizes the documented fallback profile used when a
// personality id cannot be resolved: moderate biases, 17.5% disagreement rate.
func DefaultPersonality(id string) PersonalityProfile {
	return PersonalityProfile{
		PersonalityID:        id,
		BaseDisagreementRate: 0.175,
		Biases: BiasVector{
			RiskAversion:     0.5,
			SignalSkepticism: 0.5,
			CrowdFollowing:   0.5,
			ProfitTaking:     0.5,
			LossAvoidance:    0.5,
		},
	}
}

// RiskAssessment is the risk scoring for one account/signal pair. Computed
// fresh per decision, never persisted by the core.
type RiskAssessment struct {
	PersonalRisk  float64 `json:"personal_risk"`
	MarketRisk    float64 `json:"market_risk"`
	PortfolioRisk float64 `json:"portfolio_risk"`
	CombinedRisk  float64 `json:"combined_risk"`
	RiskThreshold float64 `json:"risk_threshold"`
	RecommendSkip bool    `json:"recommend_skip"`
}

// SignalModifications describes how one account's execution deviates from the
// raw signal. Multipliers of 1.0 mean "unchanged".
type SignalModifications struct {
	DirectionFlipped bool    `json:"direction_flipped"`
	TakeProfitMult   float64 `json:"take_profit_mult"`
	StopLossMult     float64 `json:"stop_loss_mult"`
	SizeMult         float64 `json:"size_mult"`
	EntryDelaySec    float64 `json:"entry_delay_sec"`
}

// EffectiveDirection returns the direction the account actually trades.
func (m *SignalModifications) EffectiveDirection(base Direction) Direction {
	if m != nil && m.DirectionFlipped {
		return base.Opposite()
	}
	return base
}

// AccountDecision is the per-account outcome for one signal. It is created
// once per signal per account and may be mutated exactly once, by the
// correlation-correction step.
type AccountDecision struct {
	AccountID          string               `json:"account_id"`
	PersonalityID      string               `json:"personality_id"`
	Selected           bool                 `json:"selected"` // chosen to participate in this signal
	Decision           DecisionType         `json:"decision"`
	Reasoning          string               `json:"reasoning"`
	Modifications      *SignalModifications `json:"modifications,omitempty"`
	RiskAssessment     RiskAssessment       `json:"risk_assessment"`
	PersonalityFactors map[string]float64   `json:"personality_factors,omitempty"`
}

// Participates reports whether the decision results in a trade being placed.
func (d *AccountDecision) Participates() bool {
	return d.Decision == DecisionTake || d.Decision == DecisionModify
}

// TakeProfitMult returns the effective take-profit multiplier (1.0 when the
// decision carries no modifications).
func (d *AccountDecision) TakeProfitMult() float64 {
	if d.Modifications == nil || d.Modifications.TakeProfitMult == 0 {
		return 1.0
	}
	return d.Modifications.TakeProfitMult
}

// DisagreementMetrics are the population-level statistics for one signal.
type DisagreementMetrics struct {
	ParticipationRate  float64 `json:"participation_rate"`
	DirectionConsensus float64 `json:"direction_consensus"`
	TimingSpreadSec    float64 `json:"timing_spread_sec"`
	SizingVariation    float64 `json:"sizing_variation"`
	ProfitTargetSpread float64 `json:"profit_target_spread"`
}

// CorrelationAdjustment records one forced override applied by the
// correlation-correction step.
type CorrelationAdjustment struct {
	PairID            string  `json:"pair_id"`
	Account1ID        string  `json:"account1_id"`
	Account2ID        string  `json:"account2_id"`
	AdjustedAccountID string  `json:"adjusted_account_id"`
	Action            string  `json:"action"` // forced_skip or forced_modify
	BeforeCorrelation float64 `json:"before_correlation"`
	TargetCorrelation float64 `json:"target_correlation"`
}

// CorrelationImpact is a cheap forward-looking forecast of how this signal's
// decisions will move pairwise correlations. Not a simulation.
type CorrelationImpact struct {
	Projected    map[string]float64 `json:"projected"`
	FlaggedPairs []string           `json:"flagged_pairs,omitempty"`
}

// SignalDisagreement is the full result for one signal: the unit returned to
// callers and handed to the audit collaborator. Immutable once emitted.
type SignalDisagreement struct {
	SignalID       string                  `json:"signal_id"`
	OriginalSignal OriginalSignal          `json:"original_signal"`
	Decisions      []AccountDecision       `json:"decisions"`
	Metrics        DisagreementMetrics     `json:"metrics"`
	Impact         CorrelationImpact       `json:"impact"`
	Adjustments    []CorrelationAdjustment `json:"adjustments,omitempty"`
	GeneratedAt    time.Time               `json:"generated_at"`
}

// DisagreementRate is the fraction of selected participants' decisions that
// are not a plain TAKE. Non-selected accounts skip by construction (that is
// the participation-rate mechanism), so they are excluded here.
func (sd *SignalDisagreement) DisagreementRate() float64 {
	selected, disagree := 0, 0
	for i := range sd.Decisions {
		if !sd.Decisions[i].Selected {
			continue
		}
		selected++
		if sd.Decisions[i].Decision != DecisionTake {
			disagree++
		}
	}
	if selected == 0 {
		return 0
	}
	return float64(disagree) / float64(selected)
}

// RateStats is the aggregate disagreement-rate report over a window of
// recent signals.
type RateStats struct {
	Signals       int     `json:"signals"`
	Decisions     int     `json:"decisions"`
	Disagreements int     `json:"disagreements"`
	Rate          float64 `json:"rate"`
	TargetMin     float64 `json:"target_min"`
	TargetMax     float64 `json:"target_max"`
	InBand        bool    `json:"in_band"`
}
