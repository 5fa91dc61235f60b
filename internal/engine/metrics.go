package engine

import (
	"gonum.org/v1/gonum/stat"

	"github.com/aristath/dissent/internal/domain"
)

// computeMetrics derives the population-level statistics for one signal.
func computeMetrics(signal domain.OriginalSignal, decisions []domain.AccountDecision) domain.DisagreementMetrics {
	m := domain.DisagreementMetrics{}
	if len(decisions) == 0 {
		return m
	}

	participants := 0
	directionCounts := map[domain.Direction]int{}
	var delays, sizes, targets []float64

	for i := range decisions {
		d := &decisions[i]
		if !d.Participates() {
			continue
		}
		participants++

		dir := signal.Direction
		if d.Modifications != nil {
			dir = d.Modifications.EffectiveDirection(signal.Direction)
		}
		directionCounts[dir]++

		sizeMult, tpMult := 1.0, 1.0
		if d.Modifications != nil {
			delays = append(delays, d.Modifications.EntryDelaySec)
			if d.Modifications.SizeMult > 0 {
				sizeMult = d.Modifications.SizeMult
			}
			if d.Modifications.TakeProfitMult > 0 {
				tpMult = d.Modifications.TakeProfitMult
			}
		}
		sizes = append(sizes, signal.Size*sizeMult)
		targets = append(targets, signal.TakeProfit*tpMult)
	}

	m.ParticipationRate = float64(participants) / float64(len(decisions))
	if participants == 0 {
		return m
	}

	majority := 0
	for _, count := range directionCounts {
		if count > majority {
			majority = count
		}
	}
	m.DirectionConsensus = float64(majority) / float64(participants)

	if len(delays) > 0 {
		m.TimingSpreadSec = maxOf(delays) - minOf(delays)
	}
	if len(sizes) > 1 {
		mean := stat.Mean(sizes, nil)
		if mean > 0 {
			m.SizingVariation = stat.StdDev(sizes, nil) / mean
		}
	}
	if len(targets) > 0 {
		m.ProfitTargetSpread = maxOf(targets) - minOf(targets)
	}
	return m
}

func maxOf(v []float64) float64 {
	out := v[0]
	for _, x := range v[1:] {
		if x > out {
			out = x
		}
	}
	return out
}

func minOf(v []float64) float64 {
	out := v[0]
	for _, x := range v[1:] {
		if x < out {
			out = x
		}
	}
	return out
}
