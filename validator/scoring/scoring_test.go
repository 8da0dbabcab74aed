package scoring

import (
	"testing"

	tournamentcfg "github.com/chainswarm/subnet2/config/tournament"
	"github.com/chainswarm/subnet2/testing/assert"
	"github.com/chainswarm/subnet2/testing/require"
)

func testConfig() *tournamentcfg.Config {
	cfg := tournamentcfg.DefaultConfig()
	cfg.BaselineFeatureSeconds = 15.0
	cfg.BaselinePatternSeconds = 50.0
	cfg.FeatureTimeCapSeconds = 300
	cfg.PatternTimeCapSeconds = 600
	return cfg
}

func TestClassify(t *testing.T) {
	groundTruth := map[string]bool{"g1": true, "g2": true, "g3": true}
	patterns := []ReportedPattern{
		{ID: "g1", FlowsExist: true},
		{ID: "g2", FlowsExist: true},
		{ID: "g3", FlowsExist: false},
		{ID: "n1", FlowsExist: true},
		{ID: "n2", FlowsExist: false},
	}
	c := Classify(patterns, groundTruth)
	assert.Equal(t, 5, c.Reported)
	assert.Equal(t, 2, c.SyntheticFound)
	assert.Equal(t, 1, c.NoveltyValid)
	assert.Equal(t, 2, c.Invalid)
}

func TestCompute_SeedScenario(t *testing.T) {
	// E=150, found=142, novelty=25, invalid=13, R=180, feature 12.3s vs
	// baseline 15.0, pattern 45.2s vs baseline 50.0.
	res := Compute(Input{
		FeaturesValid: true,
		Counts: Counts{
			Reported:       180,
			SyntheticFound: 142,
			NoveltyValid:   25,
			Invalid:        13,
		},
		GroundTruthCount:   150,
		FeatureTimeSeconds: 12.3,
		PatternTimeSeconds: 45.2,
	}, testConfig())

	assert.ApproxEqual(t, 0.5495, res.FeaturePerformance, 0.001)
	assert.ApproxEqual(t, 0.9467, res.SyntheticRecall, 0.001)
	assert.ApproxEqual(t, 0.9278, res.PatternPrecision, 0.001)
	assert.ApproxEqual(t, 0.3333, res.NoveltyDiscovery, 0.001)
	assert.ApproxEqual(t, 0.5252, res.PatternPerformance, 0.001)
	assert.ApproxEqual(t, 0.707, res.FinalScore, 0.001)
}

func TestCompute_InvalidFeaturesZeroes(t *testing.T) {
	res := Compute(Input{
		FeaturesValid: false,
		Counts: Counts{
			Reported:       180,
			SyntheticFound: 142,
			NoveltyValid:   25,
		},
		GroundTruthCount:   150,
		FeatureTimeSeconds: 12.3,
		PatternTimeSeconds: 45.2,
	}, testConfig())
	assert.Equal(t, 0.0, res.FinalScore)
}

func TestCompute_NoValidPatterns(t *testing.T) {
	res := Compute(Input{
		FeaturesValid:      true,
		Counts:             Counts{Reported: 4, Invalid: 4},
		GroundTruthCount:   150,
		FeatureTimeSeconds: 12.3,
		PatternTimeSeconds: 45.2,
	}, testConfig())
	assert.Equal(t, 0.1*res.FeaturePerformance, res.FinalScore)
}

func TestCompute_Boundaries(t *testing.T) {
	cfg := testConfig()

	t.Run("nothing reported", func(t *testing.T) {
		res := Compute(Input{
			FeaturesValid:      true,
			GroundTruthCount:   150,
			FeatureTimeSeconds: 10,
			PatternTimeSeconds: 10,
		}, cfg)
		assert.Equal(t, 0.0, res.PatternPrecision)
		assert.Equal(t, 0.0, res.NoveltyDiscovery)
	})

	t.Run("empty ground truth", func(t *testing.T) {
		res := Compute(Input{
			FeaturesValid:      true,
			Counts:             Counts{Reported: 3, NoveltyValid: 3},
			GroundTruthCount:   0,
			FeatureTimeSeconds: 10,
			PatternTimeSeconds: 10,
		}, cfg)
		assert.Equal(t, 1.0, res.SyntheticRecall)
		assert.Equal(t, 0.0, res.NoveltyDiscovery)
	})

	t.Run("time at cap zeroes performance", func(t *testing.T) {
		res := Compute(Input{
			FeaturesValid:      true,
			GroundTruthCount:   10,
			FeatureTimeSeconds: cfg.FeatureTimeCapSeconds,
			PatternTimeSeconds: cfg.PatternTimeCapSeconds,
		}, cfg)
		assert.Equal(t, 0.0, res.FeaturePerformance)
		assert.Equal(t, 0.0, res.PatternPerformance)
	})

	t.Run("novelty capped at half of ground truth", func(t *testing.T) {
		res := Compute(Input{
			FeaturesValid:      true,
			Counts:             Counts{Reported: 200, NoveltyValid: 200},
			GroundTruthCount:   150,
			FeatureTimeSeconds: 10,
			PatternTimeSeconds: 10,
		}, cfg)
		assert.Equal(t, 1.0, res.NoveltyDiscovery)
	})
}

func TestCompute_Deterministic(t *testing.T) {
	in := Input{
		FeaturesValid: true,
		Counts: Counts{
			Reported:       180,
			SyntheticFound: 142,
			NoveltyValid:   25,
			Invalid:        13,
		},
		GroundTruthCount:   150,
		FeatureTimeSeconds: 12.3,
		PatternTimeSeconds: 45.2,
	}
	cfg := testConfig()
	first := Compute(in, cfg)
	for i := 0; i < 100; i++ {
		require.Equal(t, first, Compute(in, cfg))
	}
}

func TestCompute_ScoresInRange(t *testing.T) {
	cfg := testConfig()
	inputs := []Input{
		{FeaturesValid: true, GroundTruthCount: 1, FeatureTimeSeconds: 0.001, PatternTimeSeconds: 0.001,
			Counts: Counts{Reported: 1, SyntheticFound: 1}},
		{FeaturesValid: true, GroundTruthCount: 0, FeatureTimeSeconds: 1e9, PatternTimeSeconds: 1e9},
		{FeaturesValid: false},
	}
	for _, in := range inputs {
		res := Compute(in, cfg)
		for _, v := range []float64{
			res.FeaturePerformance, res.SyntheticRecall, res.PatternPrecision,
			res.NoveltyDiscovery, res.PatternPerformance, res.FinalScore,
		} {
			if v < 0 || v > 1 {
				t.Fatalf("score %v outside [0,1] for input %+v", v, in)
			}
		}
	}
}
