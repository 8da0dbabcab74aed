// Package iface defines the interface for the tournament database.
package iface

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/chainswarm/subnet2/monitoring/backup"
	"github.com/chainswarm/subnet2/validator/types"
)

// Database defines the necessary methods for the tournament state store.
// The store exclusively owns persistent entities; all invariants of the
// data model (epoch uniqueness, status transition graph, run and result
// uniqueness, all-or-nothing ranking writes) are enforced at this layer.
type Database interface {
	io.Closer
	backup.Exporter
	DatabasePath() string
	ClearDB() error

	// Tournament related methods.
	CreateTournament(ctx context.Context, t *types.Tournament) error
	Tournament(ctx context.Context, id uuid.UUID) (*types.Tournament, error)
	TournamentByEpoch(ctx context.Context, epoch uint64) (*types.Tournament, error)
	ActiveTournament(ctx context.Context) (*types.Tournament, error)
	HighestEpochNumber(ctx context.Context) (uint64, bool, error)
	AdvanceTournamentStatus(ctx context.Context, id uuid.UUID, next types.TournamentStatus) error
	MarkTournamentCompleted(ctx context.Context, id uuid.UUID, completedAt, weightsSetAt time.Time) error
	AddTournamentCounts(ctx context.Context, id uuid.UUID, submissions, runs int) error

	// Submission related methods.
	CreateSubmission(ctx context.Context, s *types.Submission) error
	Submission(ctx context.Context, id uuid.UUID) (*types.Submission, error)
	Submissions(ctx context.Context, tournamentID uuid.UUID) ([]*types.Submission, error)
	UpdateSubmission(ctx context.Context, s *types.Submission) error

	// Evaluation run related methods.
	CreateEvaluationRun(ctx context.Context, r *types.EvaluationRun) error
	EvaluationRun(ctx context.Context, submissionID uuid.UUID, epoch uint64) (*types.EvaluationRun, error)
	EvaluationRuns(ctx context.Context, tournamentID uuid.UUID) ([]*types.EvaluationRun, error)
	UpdateEvaluationRun(ctx context.Context, r *types.EvaluationRun) error

	// Aggregated result related methods.
	SaveTournamentResults(ctx context.Context, tournamentID uuid.UUID, results []*types.TournamentResult) error
	TournamentResults(ctx context.Context, tournamentID uuid.UUID) ([]*types.TournamentResult, error)
}

// Queue is the durable job queue driving the orchestrator's phase
// machine. Delivery is at-least-once: a dequeued job that is not acked
// before its lease expires becomes deliverable again.
type Queue interface {
	Enqueue(ctx context.Context, job *types.Job) error
	DequeueDue(ctx context.Context, now time.Time, lease time.Duration) (*types.Job, error)
	Ack(ctx context.Context, jobID uuid.UUID) error
	Requeue(ctx context.Context, jobID uuid.UUID, notBefore time.Time) error
	PendingJobs(ctx context.Context) ([]*types.Job, error)
}
