// Package risk scores how risky a signal is for one account/personality
// combination. The engine is pure aside from slowly-varying market-condition
// inputs, and it never fails: all inputs are defaulted and clamped.
package risk

import (
	"math"
	"sync"

	"github.com/rs/zerolog"

	"github.com/aristath/dissent/internal/domain"
)

// Weights for combining the three risk components.
const (
	personalWeight  = 0.4
	marketWeight    = 0.3
	portfolioWeight = 0.3

	// Above this level the excess is amplified so high-risk situations look
	// riskier than a linear blend would suggest.
	amplifyAbove  = 0.7
	amplifyFactor = 1.5

	maxThreshold = 0.9
)

// instrumentRisk is a static per-instrument base risk lookup. Unknown
// instruments fall back to a moderate constant.
var instrumentRisk = map[string]float64{
	"EURUSD": 0.30,
	"GBPUSD": 0.35,
	"USDJPY": 0.30,
	"USDCHF": 0.32,
	"AUDUSD": 0.38,
	"USDCAD": 0.35,
	"NZDUSD": 0.40,
	"EURJPY": 0.42,
	"GBPJPY": 0.55,
	"XAUUSD": 0.60,
	"XAGUSD": 0.65,
	"BTCUSD": 0.80,
	"US30":   0.50,
	"NAS100": 0.55,
}

const defaultInstrumentRisk = 0.40

// MarketConditions are the slowly-changing market-risk inputs supplied by the
// external regime/calendar subsystem.
type MarketConditions struct {
	Volatility  float64 `json:"volatility"`
	NewsRisk    float64 `json:"news_risk"`
	SessionRisk float64 `json:"session_risk"`
}

// Engine computes RiskAssessments. Safe for concurrent use; market conditions
// are the only mutable state.
type Engine struct {
	mu         sync.RWMutex
	conditions MarketConditions
	log        zerolog.Logger
}

// NewEngine creates a risk engine with neutral market conditions.
func NewEngine(log zerolog.Logger) *Engine {
	return &Engine{
		conditions: MarketConditions{Volatility: 0.3, NewsRisk: 0.2, SessionRisk: 0.3},
		log:        log.With().Str("component", "risk_engine").Logger(),
	}
}

// UpdateMarketConditions replaces the market-risk inputs. Values are clamped
// to [0,1].
func (e *Engine) UpdateMarketConditions(volatility, newsRisk, sessionRisk float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.conditions = MarketConditions{
		Volatility:  clamp01(volatility),
		NewsRisk:    clamp01(newsRisk),
		SessionRisk: clamp01(sessionRisk),
	}
	e.log.Debug().
		Float64("volatility", e.conditions.Volatility).
		Float64("news_risk", e.conditions.NewsRisk).
		Float64("session_risk", e.conditions.SessionRisk).
		Msg("Updated market conditions")
}

// Conditions returns the current market-condition inputs.
func (e *Engine) Conditions() MarketConditions {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.conditions
}

// Assess scores one signal for one account and personality. The returned
// RecommendSkip is true when combined risk exceeds the personal threshold.
func (e *Engine) Assess(signal domain.OriginalSignal, account domain.Account, personality domain.PersonalityProfile) domain.RiskAssessment {
	personal := e.personalRisk(signal, personality.Biases)
	market := e.marketRisk(signal.Symbol)
	portfolio := e.portfolioRisk(signal, account)

	combined := personalWeight*personal + marketWeight*market + portfolioWeight*portfolio
	if combined > amplifyAbove {
		combined = amplifyAbove + (combined-amplifyAbove)*amplifyFactor
	}
	combined = clamp01(combined)

	threshold := 0.3 +
		0.5*personality.Biases.RiskAversion +
		0.2*personality.Biases.LossAvoidance +
		0.15*personality.Biases.SignalSkepticism
	if threshold > maxThreshold {
		threshold = maxThreshold
	}

	return domain.RiskAssessment{
		PersonalRisk:  personal,
		MarketRisk:    market,
		PortfolioRisk: portfolio,
		CombinedRisk:  combined,
		RiskThreshold: threshold,
		RecommendSkip: combined > threshold,
	}
}

// personalRisk grows with signal weakness, skepticism and risk aversion.
func (e *Engine) personalRisk(signal domain.OriginalSignal, biases domain.BiasVector) float64 {
	strength := clamp01(signal.Strength)
	r := (1 - strength) * (1 + biases.SignalSkepticism) * (1 + 0.5*biases.RiskAversion)
	return clamp01(r)
}

// marketRisk averages the slowly-varying condition inputs with the static
// per-instrument base risk.
func (e *Engine) marketRisk(symbol string) float64 {
	e.mu.RLock()
	cond := e.conditions
	e.mu.RUnlock()

	instRisk, ok := instrumentRisk[symbol]
	if !ok {
		instRisk = defaultInstrumentRisk
	}
	return clamp01((cond.Volatility + cond.NewsRisk + cond.SessionRisk + instRisk) / 4)
}

// portfolioRisk sums drawdown, same-symbol concentration, over-trading and
// position-size terms, each individually capped.
func (e *Engine) portfolioRisk(signal domain.OriginalSignal, account domain.Account) float64 {
	drawdown := math.Min(account.DrawdownPct/10, 1.0)
	if drawdown < 0 {
		drawdown = 0
	}

	sameSymbol := 0
	for _, p := range account.OpenPositions {
		if p.Symbol == signal.Symbol {
			sameSymbol++
		}
	}
	concentration := math.Min(0.2*float64(sameSymbol), 0.8)

	overTrading := 0.0
	if account.TradesToday > 5 {
		overTrading = math.Min(0.1*float64(account.TradesToday-5), 0.5)
	}

	sizeRisk := 0.0
	if account.Balance > 0 {
		// Rough notional exposure relative to balance; a standard lot is
		// treated as 100k units.
		sizeRisk = math.Min(signal.Size*100000/account.Balance*0.01, 0.3)
	}

	return clamp01(drawdown + concentration + overTrading + sizeRisk)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
