// Package orchestrator drives the tournament phase machine. Phases
// advance by durable queue jobs rather than in-process sleeps, so a
// restarted validator resumes mid-tournament from the last persisted
// state.
package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/chainswarm/subnet2/async"
	tournamentcfg "github.com/chainswarm/subnet2/config/tournament"
	"github.com/chainswarm/subnet2/validator/dataset"
	"github.com/chainswarm/subnet2/validator/db/iface"
	"github.com/chainswarm/subnet2/validator/db/kv"
	"github.com/chainswarm/subnet2/validator/runner"
	"github.com/chainswarm/subnet2/validator/types"
	"github.com/chainswarm/subnet2/validator/weights"
)

var log = logrus.WithField("prefix", "orchestrator")

const (
	pollInterval = 2 * time.Second
	jobLease     = 5 * time.Minute
	maxAttempts  = 5

	retryAttempts = 3
	retryBackoff  = 200 * time.Millisecond

	// finalizeBudget bounds the aggregation and weight emission phase.
	finalizeBudget = 10 * time.Minute
)

// submissionProcessor collects and builds participant submissions.
type submissionProcessor interface {
	Collect(ctx context.Context, t *types.Tournament) (int, error)
	RemoveImage(ctx context.Context, imageTag string) error
}

// sandbox executes one submission image under the isolation contract.
type sandbox interface {
	Run(ctx context.Context, imageTag, inputDir, outputDir string, limits runner.Limits) (*runner.RunResult, error)
}

// datasetProvider resolves and loads (network, date) datasets.
type datasetProvider interface {
	Dir(network string, date time.Time) string
	Transfers(network string, date time.Time) ([]dataset.Transfer, error)
	GroundTruthIDs(network string, date time.Time) (map[string]bool, error)
}

// Config holds the orchestrator's collaborators.
type Config struct {
	Tournament *tournamentcfg.Config
	DB         iface.Database
	Queue      iface.Queue
	Processor  submissionProcessor
	Sandbox    sandbox
	Datasets   datasetProvider
	Weights    weights.Setter
}

// Service is the single logical supervisor of the phase machine.
type Service struct {
	ctx    context.Context
	cancel context.CancelFunc
	cfg    *Config
	cron   *cron.Cron
	now    func() time.Time

	failStatus error
}

// New instantiates the orchestrator service.
func New(ctx context.Context, cfg *Config) (*Service, error) {
	if err := cfg.Tournament.Validate(); err != nil {
		return nil, errors.Wrap(err, string(types.ErrCodeConfigurationInvalid))
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Service{
		ctx:    ctx,
		cancel: cancel,
		cfg:    cfg,
		now:    time.Now,
	}, nil
}

// Start launches the queue poller and, in daily mode, the 00:00 UTC
// schedule.
func (s *Service) Start() {
	pending, err := s.cfg.Queue.PendingJobs(s.ctx)
	if err != nil {
		log.WithError(err).Error("Could not inspect pending jobs")
	} else if len(pending) > 0 {
		log.WithField("jobs", len(pending)).Info("Resuming tournament from durable queue")
	}

	go async.RunEvery(s.ctx, pollInterval, s.processNextJob)

	if s.cfg.Tournament.ScheduleMode == tournamentcfg.ScheduleDaily {
		s.cron = cron.New(cron.WithLocation(time.UTC))
		if _, err := s.cron.AddFunc("0 0 * * *", s.startDailyTournament); err != nil {
			log.WithError(err).Error("Could not register daily schedule")
			s.failStatus = err
			return
		}
		s.cron.Start()
		log.Info("Daily tournament schedule armed for 00:00 UTC")
	}
}

// Stop halts the poller and scheduler. In-flight jobs are re-delivered
// after their lease expires.
func (s *Service) Stop() error {
	s.cancel()
	if s.cron != nil {
		s.cron.Stop()
	}
	return nil
}

// Status reports a permanent service failure, if any.
func (s *Service) Status() error {
	return s.failStatus
}

// Trigger starts a tournament with the given epoch number: it creates
// the record, opens the submission window, and schedules the collection
// and testing-transition jobs. Collection itself runs off the caller,
// on the queue, within the submission window's budget.
func (s *Service) Trigger(ctx context.Context, epochNumber uint64) error {
	cfg := s.cfg.Tournament
	startedAt := s.now().UTC()
	tournament := &types.Tournament{
		ID:          uuid.New(),
		EpochNumber: epochNumber,
		Status:      types.TournamentPending,
		StartedAt:   startedAt,
		Config:      *cfg,
		Networks:    append([]string{}, cfg.Networks...),
	}
	if err := s.cfg.DB.CreateTournament(ctx, tournament); err != nil {
		return errors.Wrap(err, "could not create tournament")
	}
	tournamentsStartedTotal.Inc()
	log.WithFields(logrus.Fields{
		"tournament": tournament.ID,
		"epoch":      epochNumber,
	}).Info("Tournament created")

	if err := s.withRetry(ctx, func() error {
		return s.cfg.DB.AdvanceTournamentStatus(ctx, tournament.ID, types.TournamentCollecting)
	}); err != nil {
		s.failTournament(ctx, tournament.ID, types.ErrCodeStoreFailed, err)
		return err
	}

	if err := s.cfg.Queue.Enqueue(ctx, &types.Job{
		ID:           uuid.New(),
		Kind:         types.JobCollect,
		TournamentID: tournament.ID,
		NotBefore:    startedAt,
	}); err != nil {
		s.failTournament(ctx, tournament.ID, types.ErrCodeStoreFailed, err)
		return errors.Wrap(err, "could not schedule submission collection")
	}
	if err := s.cfg.Queue.Enqueue(ctx, &types.Job{
		ID:           uuid.New(),
		Kind:         types.JobBeginTesting,
		TournamentID: tournament.ID,
		NotBefore:    startedAt.Add(cfg.SubmissionDuration()),
	}); err != nil {
		s.failTournament(ctx, tournament.ID, types.ErrCodeStoreFailed, err)
		return errors.Wrap(err, "could not schedule testing phase")
	}
	return nil
}

func (s *Service) startDailyTournament() {
	epoch := uint64(0)
	highest, exists, err := s.cfg.DB.HighestEpochNumber(s.ctx)
	if err != nil {
		log.WithError(err).Error("Could not determine next epoch number")
		return
	}
	if exists {
		epoch = highest + 1
	}
	if err := s.Trigger(s.ctx, epoch); err != nil {
		log.WithError(err).WithField("epoch", epoch).Error("Could not start daily tournament")
	}
}

// processNextJob leases and handles at most one due job.
func (s *Service) processNextJob() {
	job, err := s.cfg.Queue.DequeueDue(s.ctx, s.now().UTC(), jobLease)
	if err != nil {
		if s.ctx.Err() == nil {
			log.WithError(err).Error("Could not dequeue job")
		}
		return
	}
	if job == nil {
		return
	}
	s.handleJob(job)
}

func (s *Service) handleJob(job *types.Job) {
	logFields := logrus.Fields{
		"kind":       job.Kind,
		"tournament": job.TournamentID,
		"epoch":      job.Epoch,
		"attempt":    job.Attempts,
	}
	err := s.dispatch(job)
	if err == nil {
		jobsProcessedTotal.WithLabelValues(job.Kind, "ok").Inc()
		if err := s.cfg.Queue.Ack(s.ctx, job.ID); err != nil {
			log.WithError(err).WithFields(logFields).Error("Could not ack job")
		}
		return
	}

	jobsProcessedTotal.WithLabelValues(job.Kind, "error").Inc()
	if job.Attempts >= maxAttempts {
		log.WithError(err).WithFields(logFields).Error("Job exhausted its attempts")
		s.failTournament(s.ctx, job.TournamentID, types.ErrCodeStoreFailed, err)
		if err := s.cfg.Queue.Ack(s.ctx, job.ID); err != nil {
			log.WithError(err).WithFields(logFields).Error("Could not ack exhausted job")
		}
		return
	}
	backoff := time.Duration(job.Attempts) * 30 * time.Second
	log.WithError(err).WithFields(logFields).Warn("Job failed, scheduling redelivery")
	if err := s.cfg.Queue.Requeue(s.ctx, job.ID, s.now().UTC().Add(backoff)); err != nil {
		log.WithError(err).WithFields(logFields).Error("Could not requeue job")
	}
}

func (s *Service) dispatch(job *types.Job) error {
	switch job.Kind {
	case types.JobCollect:
		return s.collectSubmissions(job)
	case types.JobBeginTesting:
		return s.beginTesting(job)
	case types.JobRunEpoch:
		return s.runEpoch(job)
	case types.JobFinalize:
		return s.finalize(job)
	default:
		log.WithField("kind", job.Kind).Error("Dropping job of unknown kind")
		return nil
	}
}

// withRetry runs fn with bounded backoff, for transient store failures.
func (s *Service) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryBackoff << uint(attempt)):
		}
	}
	return err
}

// failTournament transitions a tournament to failed. Best effort: the
// tournament may already be terminal.
func (s *Service) failTournament(ctx context.Context, id uuid.UUID, code types.ErrorCode, cause error) {
	log.WithError(cause).WithFields(logrus.Fields{
		"tournament": id,
		"code":       code,
	}).Error("Tournament failed")
	tournamentsFailedTotal.Inc()
	err := s.withRetry(ctx, func() error {
		err := s.cfg.DB.AdvanceTournamentStatus(ctx, id, types.TournamentFailed)
		if errors.Is(err, kv.ErrInvalidTransition) || errors.Is(err, kv.ErrNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		log.WithError(err).WithField("tournament", id).Error("Could not persist failed status")
	}
}
