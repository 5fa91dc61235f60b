// Package engine orchestrates the per-signal pipeline: participant selection,
// per-account decision generation, correlation correction, population metrics
// and the correlation-impact forecast.
package engine

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/dissent/internal/correlation"
	"github.com/aristath/dissent/internal/decision"
	"github.com/aristath/dissent/internal/domain"
	"github.com/aristath/dissent/internal/timing"
)

const (
	// Participation band the hash-derived base rate lands in, and the hard
	// clamp after the strength nudge.
	participationBandLo = 0.80
	participationBandHi = 0.85
	participationMin    = 0.60
	participationMax    = 0.95

	// Correction kicks in a pre-emptive margin below the 0.7 ceiling and
	// steers the pair back toward the target.
	correctionThreshold = 0.65
	correctionTarget    = 0.60

	// Forward-looking impact bump for identically-behaving accounts.
	impactBump = 0.02
	impactCap  = 0.95

	// Disagreement-rate target band.
	rateBandLo = 0.15
	rateBandHi = 0.20

	recentWindowSize = 200
)

// Auditor receives engine output events. Implementations must not block;
// a slow audit sink can never be allowed to stall decision generation.
type Auditor interface {
	RecordDisagreement(sd domain.SignalDisagreement)
}

// Engine is the disagreement orchestrator.
type Engine struct {
	monitor   *correlation.Monitor
	generator *decision.Generator
	timing    *timing.Engine
	auditor   Auditor
	log       zerolog.Logger

	mu     sync.Mutex
	rng    *rand.Rand
	recent []domain.SignalDisagreement
	now    func() time.Time
}

// New creates the orchestrator. auditor may be nil; a nil rng gets a
// time-seeded one.
func New(monitor *correlation.Monitor, generator *decision.Generator, timingEngine *timing.Engine, auditor Auditor, rng *rand.Rand, log zerolog.Logger) *Engine {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Engine{
		monitor:   monitor,
		generator: generator,
		timing:    timingEngine,
		auditor:   auditor,
		rng:       rng,
		log:       log.With().Str("component", "disagreement_engine").Logger(),
		now:       time.Now,
	}
}

// GenerateDisagreements runs the full pipeline for one incoming signal and
// returns the aggregate result. The signal is validated at the boundary;
// nothing past this point can fail for a single account without the rest of
// the batch completing.
func (e *Engine) GenerateDisagreements(signal domain.OriginalSignal, accounts []domain.Account, personalities map[string]domain.PersonalityProfile, signalID string) (domain.SignalDisagreement, error) {
	if err := signal.Validate(); err != nil {
		return domain.SignalDisagreement{}, fmt.Errorf("invalid signal: %w", err)
	}
	if len(accounts) == 0 {
		return domain.SignalDisagreement{}, fmt.Errorf("no accounts supplied")
	}

	e.timing.OnSignalArrival()

	rate := e.participationRate(signalID, signal)
	selected := selectParticipants(accounts, signalID, rate)

	decisions := make([]domain.AccountDecision, 0, len(accounts))
	for _, account := range accounts {
		personality := personalities[account.PersonalityID]
		if _, ok := selected[account.ID]; ok {
			d := e.generator.GenerateDecision(signal, account, personality)
			d.Selected = true
			decisions = append(decisions, d)
		} else {
			decisions = append(decisions, e.generator.GenerateSkipDecision(signal, account, personality))
		}
	}

	adjustments := e.correlationCorrection(decisions, signalID)
	decisions = e.timing.AssignTimings(decisions, signal, personalities)

	sd := domain.SignalDisagreement{
		SignalID:       signalID,
		OriginalSignal: signal,
		Decisions:      decisions,
		Metrics:        computeMetrics(signal, decisions),
		Impact:         e.forecastImpact(signal, decisions),
		Adjustments:    adjustments,
		GeneratedAt:    e.now(),
	}

	e.remember(sd)
	if e.auditor != nil {
		e.auditor.RecordDisagreement(sd)
	}

	e.log.Info().
		Str("signal_id", signalID).
		Str("symbol", signal.Symbol).
		Int("accounts", len(accounts)).
		Float64("participation", sd.Metrics.ParticipationRate).
		Int("corrections", len(adjustments)).
		Msg("Generated signal disagreements")

	return sd, nil
}

// participationRate derives a reproducible rate for the signal: a hash of the
// signal id and hour maps into the target band, a strength nudge of up to
// ±5% is applied, and the result is clamped.
func (e *Engine) participationRate(signalID string, signal domain.OriginalSignal) float64 {
	h := hashRank(signalID, signal.Timestamp.UTC().Truncate(time.Hour).Format(time.RFC3339))
	rate := participationBandLo + float64(h%1000)/1000*(participationBandHi-participationBandLo)
	rate += (signal.Strength - 0.5) * 0.1

	if rate < participationMin {
		rate = participationMin
	}
	if rate > participationMax {
		rate = participationMax
	}
	return rate
}

// selectParticipants ranks accounts by a hash of the stable account id
// combined with the signal id and takes the top share. Deterministic for a
// given (signal, roster).
func selectParticipants(accounts []domain.Account, signalID string, rate float64) map[string]struct{} {
	ranked := make([]string, len(accounts))
	for i, a := range accounts {
		ranked[i] = a.ID
	}
	sort.Slice(ranked, func(i, j int) bool {
		return hashRank(ranked[i], signalID) < hashRank(ranked[j], signalID)
	})

	take := int(math.Round(rate * float64(len(accounts))))
	if take > len(accounts) {
		take = len(accounts)
	}

	selected := make(map[string]struct{}, take)
	for _, id := range ranked[:take] {
		selected[id] = struct{}{}
	}
	return selected
}

// correlationCorrection is the feedback-control step: for every monitored
// pair at or above the pre-emptive threshold where both sides independently
// chose TAKE, one side is deterministically overridden so the pair's returns
// diverge. Reads one monitor snapshot, so every correction in a batch is
// applied against the same correlations.
func (e *Engine) correlationCorrection(decisions []domain.AccountDecision, signalID string) []domain.CorrelationAdjustment {
	hot := e.monitor.HighCorrelationPairs(correctionThreshold)
	if len(hot) == 0 {
		return nil
	}

	byAccount := make(map[string]*domain.AccountDecision, len(decisions))
	for i := range decisions {
		byAccount[decisions[i].AccountID] = &decisions[i]
	}

	adjustments := make([]domain.CorrelationAdjustment, 0)
	adjusted := make(map[string]struct{})

	for _, pc := range hot {
		d1, ok1 := byAccount[pc.Account1ID]
		d2, ok2 := byAccount[pc.Account2ID]
		if !ok1 || !ok2 {
			continue
		}
		if d1.Decision != domain.DecisionTake || d2.Decision != domain.DecisionTake {
			continue
		}
		// A decision may be mutated exactly once.
		if _, done := adjusted[pc.Account1ID]; done {
			continue
		}
		if _, done := adjusted[pc.Account2ID]; done {
			continue
		}

		h := hashRank(pc.Account1ID+"_"+pc.Account2ID, signalID)
		target := d1
		other := d2
		if h%2 == 1 {
			target, other = d2, d1
		}

		adj := domain.CorrelationAdjustment{
			PairID:            pc.PairID,
			Account1ID:        pc.Account1ID,
			Account2ID:        pc.Account2ID,
			BeforeCorrelation: pc.Correlation,
			TargetCorrelation: correctionTarget,
		}

		if (h>>1)%2 == 0 {
			target.Decision = domain.DecisionSkip
			target.Reasoning = "Sitting this one out, my trades have been tracking another account too closely"
			target.Modifications = nil
			adj.AdjustedAccountID = target.AccountID
			adj.Action = "forced_skip"
		} else {
			e.mu.Lock()
			tp := 0.7 + e.rng.Float64()*0.6
			e.mu.Unlock()
			if other.Modifications == nil {
				other.Modifications = &domain.SignalModifications{TakeProfitMult: 1, StopLossMult: 1, SizeMult: 1}
			}
			other.Modifications.TakeProfitMult = tp
			other.Decision = domain.DecisionModify
			other.Reasoning = "Adjusting my target, been mirroring the same moves as someone else lately"
			adj.AdjustedAccountID = other.AccountID
			adj.Action = "forced_modify"
		}

		adjusted[adj.AdjustedAccountID] = struct{}{}
		adjustments = append(adjustments, adj)

		e.log.Debug().
			Str("pair", pc.PairID).
			Float64("correlation", pc.Correlation).
			Str("action", adj.Action).
			Str("account", adj.AdjustedAccountID).
			Msg("Applied correlation correction")
	}

	return adjustments
}

// forecastImpact snapshots current correlations and bumps the pair
// correlation of any two participants that ended up with an identical
// decision + take-profit signature. A cheap forward-looking warning, not a
// simulation.
func (e *Engine) forecastImpact(signal domain.OriginalSignal, decisions []domain.AccountDecision) domain.CorrelationImpact {
	projected := e.monitor.Current()
	flagged := make([]string, 0)

	type sig struct {
		id        string
		signature string
	}
	sigs := make([]sig, 0, len(decisions))
	for i := range decisions {
		d := &decisions[i]
		if !d.Participates() {
			continue
		}
		dir := signal.Direction
		if d.Modifications != nil {
			dir = d.Modifications.EffectiveDirection(signal.Direction)
		}
		sigs = append(sigs, sig{
			id:        d.AccountID,
			signature: fmt.Sprintf("%s_%s_%.2f", d.Decision, dir, d.TakeProfitMult()),
		})
	}

	for i := 0; i < len(sigs); i++ {
		for j := i + 1; j < len(sigs); j++ {
			if sigs[i].signature != sigs[j].signature {
				continue
			}
			pairID := correlation.PairID(sigs[i].id, sigs[j].id)
			projected[pairID] = math.Min(projected[pairID]+impactBump, impactCap)
			flagged = append(flagged, pairID)
		}
	}
	sort.Strings(flagged)

	return domain.CorrelationImpact{Projected: projected, FlaggedPairs: flagged}
}

// remember appends to the bounded in-memory window used by ValidateRecent.
func (e *Engine) remember(sd domain.SignalDisagreement) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.recent = append(e.recent, sd)
	if len(e.recent) > recentWindowSize {
		e.recent = e.recent[len(e.recent)-recentWindowSize:]
	}
}

// ValidateDisagreementRate aggregates the disagreement fraction across a
// window of results and reports whether it falls inside the target band.
// Only selected participants count: non-selected accounts skip by
// construction, and that share is governed by the participation band instead.
func ValidateDisagreementRate(window []domain.SignalDisagreement) domain.RateStats {
	stats := domain.RateStats{TargetMin: rateBandLo, TargetMax: rateBandHi}
	for i := range window {
		stats.Signals++
		for j := range window[i].Decisions {
			if !window[i].Decisions[j].Selected {
				continue
			}
			stats.Decisions++
			if window[i].Decisions[j].Decision != domain.DecisionTake {
				stats.Disagreements++
			}
		}
	}
	if stats.Decisions > 0 {
		stats.Rate = float64(stats.Disagreements) / float64(stats.Decisions)
	}
	stats.InBand = stats.Rate >= stats.TargetMin && stats.Rate <= stats.TargetMax
	return stats
}

// ValidateRecent runs ValidateDisagreementRate over the engine's own window
// of recently processed signals.
func (e *Engine) ValidateRecent() domain.RateStats {
	e.mu.Lock()
	window := make([]domain.SignalDisagreement, len(e.recent))
	copy(window, e.recent)
	e.mu.Unlock()
	return ValidateDisagreementRate(window)
}

// AssignTimings re-runs timing dispersion over an existing decision set.
// Exposed for callers that stage decisions before dispatch.
func (e *Engine) AssignTimings(decisions []domain.AccountDecision, signal domain.OriginalSignal, personalities map[string]domain.PersonalityProfile) []domain.AccountDecision {
	return e.timing.AssignTimings(decisions, signal, personalities)
}

// SetClock overrides the engine's time source. Tests only.
func (e *Engine) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
}

// hashRank maps (key, salt) to a deterministic 64-bit rank via sha256.
// Selection and correction must be deterministic functions of the signal id
// and a stable account id so repeated runs are reproducible for audit.
func hashRank(key, salt string) uint64 {
	h := sha256.Sum256([]byte(key + "|" + salt))
	return binary.BigEndian.Uint64(h[:8])
}
