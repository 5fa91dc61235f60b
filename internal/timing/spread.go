// Package timing assigns per-account entry-time offsets so that accounts
// receiving the same signal never execute simultaneously. Dispersion widens
// during bursts of signals.
package timing

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/aristath/dissent/internal/domain"
)

const (
	arrivalWindow       = 2 * time.Hour
	highSignalWindow    = time.Hour
	highSignalThreshold = 5

	baseSpreadSec    = 30.0
	maxSpreadFactor  = 3.0
	spreadCapSec     = 300.0
	riskAverseExtraS = 10.0
)

// shape is one of the four offset distribution shapes.
type shape string

const (
	shapeUniform   shape = "uniform"
	shapeStaggered shape = "staggered"
	shapeClustered shape = "clustered"
	shapeRandom    shape = "random"
)

// shapeWeight tables: the preference shifts toward irregular shapes when the
// system is in high-signal mode.
var normalShapeWeights = []struct {
	shape  shape
	weight int
}{
	{shapeUniform, 30},
	{shapeStaggered, 30},
	{shapeClustered, 20},
	{shapeRandom, 20},
}

var highShapeWeights = []struct {
	shape  shape
	weight int
}{
	{shapeUniform, 10},
	{shapeStaggered, 20},
	{shapeClustered, 35},
	{shapeRandom, 35},
}

// SpreadStats summarizes assigned timings.
type SpreadStats struct {
	Count           int     `json:"count"`
	MeanSec         float64 `json:"mean_sec"`
	SpreadSec       float64 `json:"spread_sec"` // max - min
	StdDevSec       float64 `json:"std_dev_sec"`
	MedianSec       float64 `json:"median_sec"`
	HighSignalMode  bool    `json:"high_signal_mode"`
	SignalsLastHour int     `json:"signals_last_hour"`
}

// Engine tracks signal arrival frequency and assigns entry-time offsets.
// The rolling arrival window is shared state guarded by a mutex.
type Engine struct {
	mu             sync.Mutex
	arrivals       []time.Time
	highSignalMode bool
	lastHourCount  int
	log            zerolog.Logger
	now            func() time.Time
}

// NewEngine creates a timing spread engine.
func NewEngine(log zerolog.Logger) *Engine {
	return &Engine{
		log: log.With().Str("component", "timing_spread").Logger(),
		now: time.Now,
	}
}

// OnSignalArrival records a signal arrival and recomputes high-signal mode
// (>= 5 arrivals in the trailing hour).
func (e *Engine) OnSignalArrival() {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	e.arrivals = append(e.arrivals, now)
	e.pruneLocked(now)

	wasHigh := e.highSignalMode
	e.highSignalMode = e.lastHourCount >= highSignalThreshold
	if e.highSignalMode && !wasHigh {
		e.log.Info().
			Int("signals_last_hour", e.lastHourCount).
			Msg("Entering high-signal mode")
	}
}

// pruneLocked drops arrivals beyond the 2h window and recounts the trailing
// hour. Caller holds the lock.
func (e *Engine) pruneLocked(now time.Time) {
	cutoff := now.Add(-arrivalWindow)
	kept := e.arrivals[:0]
	for _, t := range e.arrivals {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	e.arrivals = kept

	hourCutoff := now.Add(-highSignalWindow)
	count := 0
	for _, t := range e.arrivals {
		if t.After(hourCutoff) {
			count++
		}
	}
	e.lastHourCount = count
}

// AssignTimings spreads the participating (TAKE/MODIFY) decisions over a time
// window and returns the updated slice. Offsets are additive with any delay a
// decision already carries; skipped decisions are untouched.
func (e *Engine) AssignTimings(decisions []domain.AccountDecision, signal domain.OriginalSignal, personalities map[string]domain.PersonalityProfile) []domain.AccountDecision {
	e.mu.Lock()
	now := e.now()
	e.pruneLocked(now)
	e.highSignalMode = e.lastHourCount >= highSignalThreshold
	highMode := e.highSignalMode
	lastHour := e.lastHourCount
	e.mu.Unlock()

	out := make([]domain.AccountDecision, len(decisions))
	copy(out, decisions)

	participants := make([]int, 0, len(out))
	for i := range out {
		if out[i].Participates() {
			participants = append(participants, i)
		}
	}
	if len(participants) == 0 {
		return out
	}

	spread := baseSpreadSec
	if highMode {
		factor := 1.0 + 0.5*float64(lastHour-highSignalThreshold+1)
		if factor > maxSpreadFactor {
			factor = maxSpreadFactor
		}
		spread = baseSpreadSec * factor
		if spread > spreadCapSec {
			spread = spreadCapSec
		}
	}

	signalKey := signal.Symbol + "_" + signal.Timestamp.UTC().Format(time.RFC3339)
	chosen := e.chooseShape(now, highMode)
	offsets := generateOffsets(chosen, len(participants), spread, signalKey)

	// Decorrelate "who gets which delay" from account ordering: assign the
	// sorted offsets by hash rank rather than by position in the input.
	ranked := make([]int, len(participants))
	copy(ranked, participants)
	sort.Slice(ranked, func(a, b int) bool {
		return hashRank(out[ranked[a]].AccountID, signalKey) < hashRank(out[ranked[b]].AccountID, signalKey)
	})

	for pos, idx := range ranked {
		d := &out[idx]
		offset := offsets[pos]

		personality, ok := personalities[d.PersonalityID]
		if !ok {
			personality = domain.DefaultPersonality(d.PersonalityID)
		}
		offset += personalityAdjustment(personality, d.AccountID, signalKey)
		offset += sessionAdjustment(personality, now)

		if offset < 0 {
			offset = 0
		}

		if d.Modifications == nil {
			d.Modifications = &domain.SignalModifications{TakeProfitMult: 1, StopLossMult: 1, SizeMult: 1}
		} else {
			// Clone before mutating: the input slice shares these pointers.
			mods := *d.Modifications
			d.Modifications = &mods
		}
		d.Modifications.EntryDelaySec += offset
	}

	e.log.Debug().
		Int("participants", len(participants)).
		Str("shape", string(chosen)).
		Float64("spread_sec", spread).
		Bool("high_signal_mode", highMode).
		Msg("Assigned entry timings")

	return out
}

// chooseShape picks a distribution shape deterministically from the current
// hour/minute bucket and mode, using the per-mode weight tables.
func (e *Engine) chooseShape(now time.Time, highMode bool) shape {
	bucket := now.UTC().Hour()*6 + now.UTC().Minute()/10
	h := hashRank(fmt.Sprintf("shape_%d", bucket), fmt.Sprintf("%t", highMode))

	table := normalShapeWeights
	if highMode {
		table = highShapeWeights
	}
	total := 0
	for _, w := range table {
		total += w.weight
	}
	pick := int(h % uint64(total))
	for _, w := range table {
		pick -= w.weight
		if pick < 0 {
			return w.shape
		}
	}
	return shapeUniform
}

// generateOffsets produces n offsets in [0, spread] for the given shape. All
// randomness is drawn from a rand seeded off the signal key, so the offsets
// are a deterministic function of (signal, shape, n).
func generateOffsets(s shape, n int, spread float64, signalKey string) []float64 {
	offsets := make([]float64, n)
	if n == 0 {
		return offsets
	}
	rng := rand.New(rand.NewSource(int64(hashRank(string(s), signalKey))))

	switch s {
	case shapeUniform:
		step := 0.0
		if n > 1 {
			step = spread / float64(n-1)
		}
		for i := range offsets {
			offsets[i] = float64(i) * step
		}
	case shapeStaggered:
		step := 0.0
		if n > 1 {
			step = spread / float64(n-1)
		}
		jitter := spread / float64(4*n)
		for i := range offsets {
			offsets[i] = float64(i)*step + (rng.Float64()*2-1)*jitter
		}
	case shapeClustered:
		clusters := 2 + int(hashRank("clusters", signalKey)%2) // 2 or 3
		jitter := spread / float64(6*clusters)
		for i := range offsets {
			c := i % clusters
			center := (float64(c) + 0.5) * spread / float64(clusters)
			offsets[i] = center + (rng.Float64()*2-1)*jitter
		}
	case shapeRandom:
		for i := range offsets {
			offsets[i] = rng.Float64() * spread
		}
	}

	for i := range offsets {
		if offsets[i] < 0 {
			offsets[i] = 0
		}
	}
	sort.Float64s(offsets)

	// Rescale so the offsets span exactly [0, spread]: the max-min spread is
	// then a function of mode alone, not of which shape was drawn.
	if n > 1 {
		lo, hi := offsets[0], offsets[n-1]
		if hi > lo {
			for i := range offsets {
				offsets[i] = (offsets[i] - lo) / (hi - lo) * spread
			}
		}
	}
	return offsets
}

// personalityAdjustment layers risk-aversion and non-conformity onto the base
// offset. The non-conformist sign is deterministic per (account, signal).
func personalityAdjustment(p domain.PersonalityProfile, accountID, signalKey string) float64 {
	adj := 0.0

	if p.Biases.RiskAversion > 0.5 {
		adj += (p.Biases.RiskAversion - 0.5) * 2 * riskAverseExtraS
	}

	nonConformity := 1 - p.Biases.CrowdFollowing
	if nonConformity > 0 {
		h := hashRank("nonconform_"+accountID, signalKey)
		magnitude := (5 + 10*float64(h%1000)/1000) * nonConformity
		if h%2 == 0 {
			adj += magnitude
		} else {
			adj -= magnitude
		}
	}
	return adj
}

// sessionAdjustment applies the personality's explicit per-hour table when
// present, otherwise a default per trading-session band.
func sessionAdjustment(p domain.PersonalityProfile, now time.Time) float64 {
	hour := now.UTC().Hour()
	if p.HourlyTimingBias != nil {
		if bias, ok := p.HourlyTimingBias[hour]; ok {
			return bias
		}
	}
	switch {
	case hour < 7: // Asian session: thin, slower reactions
		return 5
	case hour < 12: // London
		return 0
	case hour < 16: // London/NY overlap: fastest
		return -2
	case hour < 21: // NY
		return 2
	default:
		return 5
	}
}

// Stats summarizes the timings currently present on the decisions.
func (e *Engine) Stats(decisions []domain.AccountDecision) SpreadStats {
	e.mu.Lock()
	e.pruneLocked(e.now())
	stats := SpreadStats{
		HighSignalMode:  e.lastHourCount >= highSignalThreshold,
		SignalsLastHour: e.lastHourCount,
	}
	e.mu.Unlock()

	delays := make([]float64, 0, len(decisions))
	for i := range decisions {
		if decisions[i].Participates() && decisions[i].Modifications != nil {
			delays = append(delays, decisions[i].Modifications.EntryDelaySec)
		}
	}
	stats.Count = len(delays)
	if len(delays) == 0 {
		return stats
	}

	sort.Float64s(delays)
	stats.MeanSec = stat.Mean(delays, nil)
	stats.SpreadSec = delays[len(delays)-1] - delays[0]
	stats.MedianSec = stat.Quantile(0.5, stat.Empirical, delays, nil)
	if len(delays) > 1 {
		stats.StdDevSec = stat.StdDev(delays, nil)
	}
	return stats
}

// SetClock overrides the engine's time source. Tests only.
func (e *Engine) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
}

// hashRank maps (key, salt) to a deterministic 64-bit rank via sha256, the
// same construction used for cache keys elsewhere in the codebase.
func hashRank(key, salt string) uint64 {
	h := sha256.Sum256([]byte(key + "|" + salt))
	return binary.BigEndian.Uint64(h[:8])
}
