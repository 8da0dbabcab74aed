package scoring

import (
	"testing"
	"time"

	"github.com/google/uuid"

	tournamentcfg "github.com/chainswarm/subnet2/config/tournament"
	"github.com/chainswarm/subnet2/testing/assert"
	"github.com/chainswarm/subnet2/testing/require"
	"github.com/chainswarm/subnet2/validator/types"
)

func validatedSubmission(tournamentID uuid.UUID, participant string, submittedAt time.Time) *types.Submission {
	return &types.Submission{
		ID:            uuid.New(),
		TournamentID:  tournamentID,
		ParticipantID: participant,
		Status:        types.SubmissionValidated,
		SubmittedAt:   submittedAt,
	}
}

func completedRun(sub *types.Submission, epoch uint64, score, duration float64) *types.EvaluationRun {
	valid := true
	return &types.EvaluationRun{
		ID:              uuid.New(),
		SubmissionID:    sub.ID,
		EpochNumber:     epoch,
		Status:          types.RunCompleted,
		FeaturesValid:   &valid,
		FinalScore:      score,
		DurationSeconds: duration,
	}
}

func TestAggregate_RanksByScore(t *testing.T) {
	tournamentID := uuid.New()
	cfg := tournamentcfg.DefaultConfig()
	now := time.Now().UTC()

	alice := validatedSubmission(tournamentID, "alice", now.Add(-2*time.Hour))
	bob := validatedSubmission(tournamentID, "bob", now.Add(-time.Hour))
	runs := []*types.EvaluationRun{
		completedRun(alice, 0, 0.8, 100),
		completedRun(alice, 1, 0.6, 100),
		completedRun(bob, 0, 0.4, 100),
		completedRun(bob, 1, 0.4, 100),
	}

	results := Aggregate(tournamentID, []*types.Submission{alice, bob}, runs, cfg, now)
	require.Equal(t, 2, len(results))
	assert.Equal(t, "alice", results[0].ParticipantID)
	assert.Equal(t, 1, results[0].Rank)
	assert.Equal(t, true, results[0].IsWinner)
	assert.ApproxEqual(t, 0.7, results[0].FinalScore, 1e-9)
	assert.Equal(t, true, results[0].BeatBaseline)
	assert.Equal(t, "bob", results[1].ParticipantID)
	assert.Equal(t, 2, results[1].Rank)
	assert.Equal(t, false, results[1].IsWinner)
	assert.Equal(t, false, results[1].BeatBaseline)
}

func TestAggregate_TieBreaks(t *testing.T) {
	tournamentID := uuid.New()
	cfg := tournamentcfg.DefaultConfig()
	now := time.Now().UTC()

	slow := validatedSubmission(tournamentID, "slow", now.Add(-3*time.Hour))
	fast := validatedSubmission(tournamentID, "fast", now.Add(-time.Hour))
	runs := []*types.EvaluationRun{
		completedRun(slow, 0, 0.5, 200),
		completedRun(fast, 0, 0.5, 50),
	}

	results := Aggregate(tournamentID, []*types.Submission{slow, fast}, runs, cfg, now)
	assert.Equal(t, "fast", results[0].ParticipantID, "Lower mean duration should win the tie")

	// Equal scores and durations fall back to earliest submission.
	early := validatedSubmission(tournamentID, "early", now.Add(-3*time.Hour))
	late := validatedSubmission(tournamentID, "late", now.Add(-time.Hour))
	runs = []*types.EvaluationRun{
		completedRun(early, 0, 0.5, 100),
		completedRun(late, 0, 0.5, 100),
	}
	results = Aggregate(tournamentID, []*types.Submission{late, early}, runs, cfg, now)
	assert.Equal(t, "early", results[0].ParticipantID)
}

func TestAggregate_DisqualifiesOnAnyBadRun(t *testing.T) {
	tournamentID := uuid.New()
	cfg := tournamentcfg.DefaultConfig()
	now := time.Now().UTC()

	sub := validatedSubmission(tournamentID, "alice", now)
	runs := []*types.EvaluationRun{
		completedRun(sub, 0, 0.9, 100),
		completedRun(sub, 1, 0.9, 100),
		completedRun(sub, 2, 0.9, 100),
		completedRun(sub, 3, 0.9, 100),
	}
	timedOut := completedRun(sub, 4, 0, 300)
	timedOut.Status = types.RunTimeout
	runs = append(runs, timedOut)

	results := Aggregate(tournamentID, []*types.Submission{sub}, runs, cfg, now)
	require.Equal(t, 1, len(results))
	assert.Equal(t, true, results[0].Disqualified)
	assert.Equal(t, 0.0, results[0].FinalScore)
	assert.Equal(t, false, results[0].IsWinner)
	assert.StringContains(t, "epoch 4", results[0].DisqualifyReason)
}

func TestAggregate_InvalidFeaturesDisqualifies(t *testing.T) {
	tournamentID := uuid.New()
	cfg := tournamentcfg.DefaultConfig()
	now := time.Now().UTC()

	sub := validatedSubmission(tournamentID, "alice", now)
	bad := completedRun(sub, 0, 0, 100)
	invalid := false
	bad.FeaturesValid = &invalid

	results := Aggregate(tournamentID, []*types.Submission{sub}, []*types.EvaluationRun{bad}, cfg, now)
	assert.Equal(t, true, results[0].Disqualified)
	assert.Equal(t, 0.0, results[0].FinalScore)
	assert.StringContains(t, "invalid features", results[0].DisqualifyReason)
}

func TestAggregate_FailedSubmission(t *testing.T) {
	tournamentID := uuid.New()
	cfg := tournamentcfg.DefaultConfig()
	now := time.Now().UTC()

	failed := validatedSubmission(tournamentID, "broken", now)
	failed.Status = types.SubmissionFailed
	failed.Error = "submission_build_failed: no Dockerfile"

	results := Aggregate(tournamentID, []*types.Submission{failed}, nil, cfg, now)
	require.Equal(t, 1, len(results))
	assert.Equal(t, true, results[0].Disqualified)
	assert.Equal(t, 0.0, results[0].FinalScore)
	assert.StringContains(t, "submission_build_failed", results[0].DisqualifyReason)
}

func TestAggregate_MeansSubScores(t *testing.T) {
	tournamentID := uuid.New()
	cfg := tournamentcfg.DefaultConfig()
	now := time.Now().UTC()

	sub := validatedSubmission(tournamentID, "alice", now)
	first := completedRun(sub, 0, 0.6, 100)
	first.SyntheticRecall = 0.8
	first.PatternsReported = 10
	second := completedRun(sub, 1, 0.4, 200)
	second.SyntheticRecall = 0.4
	second.PatternsReported = 20

	results := Aggregate(tournamentID, []*types.Submission{sub}, []*types.EvaluationRun{first, second}, cfg, now)
	require.Equal(t, 1, len(results))
	assert.ApproxEqual(t, 0.5, results[0].FinalScore, 1e-9)
	assert.ApproxEqual(t, 0.6, results[0].SyntheticRecall, 1e-9)
	assert.ApproxEqual(t, 150, results[0].MeanDurationSeconds, 1e-9)
	assert.Equal(t, 30, results[0].TotalPatternsReported)
	assert.Equal(t, 2, results[0].TotalRuns)
}
