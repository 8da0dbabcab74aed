// Package types defines the persistent entities of the tournament engine.
// Entities reference each other by opaque ids only; the store is the
// single source of truth and components operate on snapshots.
package types

import (
	"regexp"
	"time"

	"github.com/google/uuid"

	tournamentcfg "github.com/chainswarm/subnet2/config/tournament"
)

var commitHashRe = regexp.MustCompile(`^[0-9a-f]{40}$`)

// ValidCommitHash reports whether s is a 40 character lowercase hex commit.
func ValidCommitHash(s string) bool {
	return commitHashRe.MatchString(s)
}

// Tournament is one complete evaluation cycle. At most one tournament per
// process may be in a non-terminal status.
type Tournament struct {
	ID          uuid.UUID             `json:"id"`
	EpochNumber uint64                `json:"epoch_number"`
	Status      TournamentStatus      `json:"status"`
	StartedAt   time.Time             `json:"started_at"`
	CompletedAt *time.Time            `json:"completed_at,omitempty"`
	WeightsSetAt *time.Time           `json:"weights_set_at,omitempty"`
	Config      tournamentcfg.Config  `json:"config"`
	Networks    []string              `json:"networks"`

	TotalSubmissions int `json:"total_submissions"`
	TotalRuns        int `json:"total_runs"`
}

// Submission is a participant's (repository, commit) pair for one
// tournament, unique per (tournament_id, participant_id).
type Submission struct {
	ID            uuid.UUID        `json:"id"`
	TournamentID  uuid.UUID        `json:"tournament_id"`
	ParticipantID string           `json:"participant_id"`
	RepositoryURL string           `json:"repository_url"`
	CommitHash    string           `json:"commit_hash"`
	ImageTag      string           `json:"image_tag,omitempty"`
	Status        SubmissionStatus `json:"status"`
	Error         string           `json:"error,omitempty"`
	SubmittedAt   time.Time        `json:"submitted_at"`
	ValidatedAt   *time.Time       `json:"validated_at,omitempty"`
}

// EvaluationRun is one sandboxed execution of one submission on one
// dataset, unique per (submission_id, epoch_number).
type EvaluationRun struct {
	ID           uuid.UUID `json:"id"`
	SubmissionID uuid.UUID `json:"submission_id"`
	EpochNumber  uint64    `json:"epoch_number"`
	Network      string    `json:"network"`
	TestDate     time.Time `json:"test_date"`
	Status       RunStatus `json:"status"`

	ExitCode        *int    `json:"exit_code,omitempty"`
	DurationSeconds float64 `json:"duration_seconds"`

	FeaturesValid      *bool `json:"features_valid,omitempty"`
	PatternsReported   int   `json:"patterns_reported"`
	SyntheticFound     int   `json:"synthetic_found"`
	SyntheticExpected  int   `json:"synthetic_expected"`
	NoveltyValid       int   `json:"novelty_valid"`
	NoveltyInvalid     int   `json:"novelty_invalid"`

	FeatureTimeSeconds float64 `json:"feature_time_seconds"`
	PatternTimeSeconds float64 `json:"pattern_time_seconds"`

	FeaturePerformance float64 `json:"feature_performance"`
	SyntheticRecall    float64 `json:"synthetic_recall"`
	PatternPrecision   float64 `json:"pattern_precision"`
	NoveltyDiscovery   float64 `json:"novelty_discovery"`
	PatternPerformance float64 `json:"pattern_performance"`
	FinalScore         float64 `json:"final_score"`

	ErrorCode    ErrorCode `json:"error_code,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// TournamentResult is the aggregate standing of one participant in one
// tournament, unique per (tournament_id, participant_id).
type TournamentResult struct {
	ID            uuid.UUID `json:"id"`
	TournamentID  uuid.UUID `json:"tournament_id"`
	ParticipantID string    `json:"participant_id"`

	FeaturePerformance float64 `json:"feature_performance"`
	SyntheticRecall    float64 `json:"synthetic_recall"`
	PatternPrecision   float64 `json:"pattern_precision"`
	NoveltyDiscovery   float64 `json:"novelty_discovery"`
	PatternPerformance float64 `json:"pattern_performance"`
	FinalScore         float64 `json:"final_score"`

	MeanDurationSeconds float64 `json:"mean_duration_seconds"`

	TotalRuns             int `json:"total_runs"`
	TotalPatternsReported int `json:"total_patterns_reported"`
	TotalSyntheticFound   int `json:"total_synthetic_found"`
	TotalNoveltyValid     int `json:"total_novelty_valid"`
	TotalNoveltyInvalid   int `json:"total_novelty_invalid"`

	Rank             int    `json:"rank"`
	BeatBaseline     bool   `json:"beat_baseline"`
	IsWinner         bool   `json:"is_winner"`
	Disqualified     bool   `json:"disqualified"`
	DisqualifyReason string `json:"disqualify_reason,omitempty"`

	CalculatedAt time.Time `json:"calculated_at"`
}

// Job kinds consumed by the orchestrator's durable queue.
const (
	JobCollect      = "collect"
	JobBeginTesting = "begin-testing"
	JobRunEpoch     = "run-epoch"
	JobFinalize     = "finalize"
)

// Job is one durable work item. Delivery is at-least-once; job bodies
// must be idempotent (runs dedupe on (submission_id, epoch_number)).
type Job struct {
	ID           uuid.UUID `json:"id"`
	Kind         string    `json:"kind"`
	TournamentID uuid.UUID `json:"tournament_id"`
	Epoch        uint64    `json:"epoch"`
	NotBefore    time.Time `json:"not_before"`
	LeasedUntil  time.Time `json:"leased_until"`
	Attempts     int       `json:"attempts"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
}
