package scoring

import (
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	tournamentcfg "github.com/chainswarm/subnet2/config/tournament"
	"github.com/chainswarm/subnet2/validator/types"
)

// Aggregate folds a tournament's runs into one result per participant
// and ranks them. A participant is disqualified, with a zero final
// score, if its submission never validated or any of its runs failed,
// timed out, or produced invalid features.
func Aggregate(
	tournamentID uuid.UUID,
	submissions []*types.Submission,
	runs []*types.EvaluationRun,
	cfg *tournamentcfg.Config,
	now time.Time,
) []*types.TournamentResult {
	runsBySubmission := make(map[uuid.UUID][]*types.EvaluationRun)
	for _, r := range runs {
		runsBySubmission[r.SubmissionID] = append(runsBySubmission[r.SubmissionID], r)
	}

	results := make([]*types.TournamentResult, 0, len(submissions))
	submittedAt := make(map[string]time.Time, len(submissions))
	for _, sub := range submissions {
		submittedAt[sub.ParticipantID] = sub.SubmittedAt
		results = append(results, aggregateOne(tournamentID, sub, runsBySubmission[sub.ID], now))
	}

	// Rank by final score descending; ties broken by lowest mean
	// execution time, then by earliest submission time.
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.FinalScore != b.FinalScore {
			return a.FinalScore > b.FinalScore
		}
		if a.MeanDurationSeconds != b.MeanDurationSeconds {
			return a.MeanDurationSeconds < b.MeanDurationSeconds
		}
		return submittedAt[a.ParticipantID].Before(submittedAt[b.ParticipantID])
	})
	for i, r := range results {
		r.Rank = i + 1
		r.IsWinner = i == 0 && r.FinalScore > 0
		r.BeatBaseline = r.FinalScore > cfg.BaselineScore
	}
	return results
}

func aggregateOne(
	tournamentID uuid.UUID,
	sub *types.Submission,
	runs []*types.EvaluationRun,
	now time.Time,
) *types.TournamentResult {
	result := &types.TournamentResult{
		ID:            uuid.New(),
		TournamentID:  tournamentID,
		ParticipantID: sub.ParticipantID,
		TotalRuns:     len(runs),
		CalculatedAt:  now,
	}

	if sub.Status != types.SubmissionValidated && sub.Status != types.SubmissionDisqualified {
		result.Disqualified = true
		result.DisqualifyReason = "submission did not validate"
		if sub.Error != "" {
			result.DisqualifyReason = sub.Error
		}
		return result
	}
	if len(runs) == 0 {
		result.Disqualified = true
		result.DisqualifyReason = "no evaluation runs recorded"
		return result
	}

	var sums SubScores
	var finalSum, durationSum float64
	for _, r := range runs {
		result.TotalPatternsReported += r.PatternsReported
		result.TotalSyntheticFound += r.SyntheticFound
		result.TotalNoveltyValid += r.NoveltyValid
		result.TotalNoveltyInvalid += r.NoveltyInvalid
		durationSum += r.DurationSeconds

		if r.Status.Disqualifying() {
			result.Disqualified = true
			result.DisqualifyReason = "run at epoch " + strconv.FormatUint(r.EpochNumber, 10) + " " + string(r.Status)
		}
		if r.FeaturesValid != nil && !*r.FeaturesValid {
			result.Disqualified = true
			result.DisqualifyReason = "run at epoch " + strconv.FormatUint(r.EpochNumber, 10) + " produced invalid features"
		}

		sums.FeaturePerformance += r.FeaturePerformance
		sums.SyntheticRecall += r.SyntheticRecall
		sums.PatternPrecision += r.PatternPrecision
		sums.NoveltyDiscovery += r.NoveltyDiscovery
		sums.PatternPerformance += r.PatternPerformance
		finalSum += r.FinalScore
	}

	n := float64(len(runs))
	result.MeanDurationSeconds = durationSum / n
	result.FeaturePerformance = sums.FeaturePerformance / n
	result.SyntheticRecall = sums.SyntheticRecall / n
	result.PatternPrecision = sums.PatternPrecision / n
	result.NoveltyDiscovery = sums.NoveltyDiscovery / n
	result.PatternPerformance = sums.PatternPerformance / n
	result.FinalScore = finalSum / n

	if result.Disqualified {
		result.FinalScore = 0
	}
	return result
}
