// Package scoring computes per-run sub-scores, the gated final score,
// and the aggregated tournament ranking.
package scoring

import (
	"math"

	tournamentcfg "github.com/chainswarm/subnet2/config/tournament"
)

// Final score weights of the five sub-scores.
const (
	weightFeaturePerformance = 0.10
	weightSyntheticRecall    = 0.30
	weightPatternPrecision   = 0.25
	weightNoveltyDiscovery   = 0.25
	weightPatternPerformance = 0.10
)

// ReportedPattern is a validated pattern after flow verification.
type ReportedPattern struct {
	ID         string
	FlowsExist bool
}

// Counts partitions a run's reported patterns.
type Counts struct {
	Reported       int
	SyntheticFound int
	NoveltyValid   int
	Invalid        int
}

// Classify partitions reported patterns by flow verification and
// ground-truth identity. Ground-truth matching is a literal id match
// against the dataset's enumerated pattern instance ids.
func Classify(patterns []ReportedPattern, groundTruthIDs map[string]bool) Counts {
	c := Counts{Reported: len(patterns)}
	for _, p := range patterns {
		switch {
		case !p.FlowsExist:
			c.Invalid++
		case groundTruthIDs[p.ID]:
			c.SyntheticFound++
		default:
			c.NoveltyValid++
		}
	}
	return c
}

// Input is everything the scorer needs for one run.
type Input struct {
	FeaturesValid      bool
	Counts             Counts
	GroundTruthCount   int
	FeatureTimeSeconds float64
	PatternTimeSeconds float64
}

// SubScores are the five per-run sub-scores, each on [0,1].
type SubScores struct {
	FeaturePerformance float64
	SyntheticRecall    float64
	PatternPrecision   float64
	NoveltyDiscovery   float64
	PatternPerformance float64
}

// Result is the scored outcome of one run.
type Result struct {
	SubScores
	FinalScore float64
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// performanceScore maps a measured phase time against its baseline to
// [0,1]: r/(1+r) with r = baseline/measured, zero when the measured time
// reaches the hard cap.
func performanceScore(measured, baseline, cap float64) float64 {
	if cap <= 0 || measured >= cap {
		return 0
	}
	if measured <= 0 {
		return 1
	}
	r := baseline / measured
	return clamp01(r / (1 + r))
}

// Compute derives the five sub-scores and the gated final score for one
// run. Deterministic: identical inputs yield bit-identical outputs.
func Compute(in Input, cfg *tournamentcfg.Config) Result {
	sub := SubScores{
		FeaturePerformance: performanceScore(in.FeatureTimeSeconds, cfg.BaselineFeatureSeconds, cfg.FeatureTimeCapSeconds),
		PatternPerformance: performanceScore(in.PatternTimeSeconds, cfg.BaselinePatternSeconds, cfg.PatternTimeCapSeconds),
	}

	e := in.GroundTruthCount
	if e == 0 {
		sub.SyntheticRecall = 1
	} else {
		sub.SyntheticRecall = clamp01(float64(in.Counts.SyntheticFound) / float64(e))
	}

	if in.Counts.Reported > 0 {
		valid := in.Counts.SyntheticFound + in.Counts.NoveltyValid
		sub.PatternPrecision = clamp01(float64(valid) / float64(in.Counts.Reported))
	}

	noveltyCap := int(math.Floor(float64(e) * cfg.NoveltyCapRatio))
	if noveltyCap > 0 {
		counted := in.Counts.NoveltyValid
		if counted > noveltyCap {
			counted = noveltyCap
		}
		sub.NoveltyDiscovery = clamp01(float64(counted) / float64(noveltyCap))
	}

	// Three-gate cascade: invalid features zero the run; a run with no
	// valid patterns is scored on feature performance alone.
	var final float64
	switch {
	case !in.FeaturesValid:
		final = 0
	case in.Counts.SyntheticFound+in.Counts.NoveltyValid == 0:
		final = weightFeaturePerformance * sub.FeaturePerformance
	default:
		final = weightFeaturePerformance*sub.FeaturePerformance +
			weightSyntheticRecall*sub.SyntheticRecall +
			weightPatternPrecision*sub.PatternPrecision +
			weightNoveltyDiscovery*sub.NoveltyDiscovery +
			weightPatternPerformance*sub.PatternPerformance
	}

	return Result{SubScores: sub, FinalScore: clamp01(final)}
}
