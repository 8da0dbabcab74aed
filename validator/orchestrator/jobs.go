package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/chainswarm/subnet2/validator/scoring"
	"github.com/chainswarm/subnet2/validator/types"
	"github.com/chainswarm/subnet2/validator/weights"
)

// epochStart returns the wall-clock start of an epoch, derived from the
// persisted tournament record so redelivered jobs compute the same
// deadlines.
func epochStart(t *types.Tournament, epoch uint64) time.Time {
	return t.StartedAt.
		Add(t.Config.SubmissionDuration()).
		Add(time.Duration(epoch) * t.Config.EpochDuration())
}

// collectSubmissions runs the submission window's collection and build
// work on the queue, bounded by the window's duration. Redelivery is
// safe: the processor dedupes on (tournament, participant) and counts
// are only recorded once.
func (s *Service) collectSubmissions(job *types.Job) error {
	ctx, cancel := context.WithTimeout(s.ctx, finalizeBudget)
	defer cancel()

	tournament, err := s.cfg.DB.Tournament(ctx, job.TournamentID)
	if err != nil {
		return errors.Wrap(err, "could not load tournament")
	}
	if tournament.Status != types.TournamentCollecting {
		return nil
	}

	collectCtx, cancelCollect := context.WithTimeout(s.ctx, tournament.Config.SubmissionDuration())
	defer cancelCollect()
	validated, err := s.cfg.Processor.Collect(collectCtx, tournament)
	if err != nil {
		s.failTournament(ctx, tournament.ID, types.ErrCodeOrchestratorTimeout,
			errors.Wrap(err, "submission collection failed"))
		return nil
	}

	subs, err := s.cfg.DB.Submissions(ctx, tournament.ID)
	if err != nil {
		return errors.Wrap(err, "could not load submissions")
	}
	if tournament.TotalSubmissions == 0 && len(subs) > 0 {
		if err := s.withRetry(ctx, func() error {
			return s.cfg.DB.AddTournamentCounts(ctx, tournament.ID, len(subs), 0)
		}); err != nil {
			return errors.Wrap(err, "could not update submission counts")
		}
	}
	log.WithFields(logrus.Fields{
		"tournament": tournament.ID,
		"collected":  len(subs),
		"validated":  validated,
	}).Info("Submission window processed")
	return nil
}

// beginTesting closes the submission window and schedules the first
// evaluation epoch.
func (s *Service) beginTesting(job *types.Job) error {
	ctx := s.ctx
	tournament, err := s.cfg.DB.Tournament(ctx, job.TournamentID)
	if err != nil {
		return errors.Wrap(err, "could not load tournament")
	}
	if tournament.Status.Terminal() {
		return nil
	}
	if tournament.Status == types.TournamentCollecting {
		if err := s.cfg.DB.AdvanceTournamentStatus(ctx, tournament.ID, types.TournamentTesting); err != nil {
			return errors.Wrap(err, "could not enter testing phase")
		}
	}
	log.WithField("tournament", tournament.ID).Info("Submission window closed, testing begins")
	return s.cfg.Queue.Enqueue(ctx, &types.Job{
		ID:           uuid.New(),
		Kind:         types.JobRunEpoch,
		TournamentID: tournament.ID,
		Epoch:        0,
		NotBefore:    epochStart(tournament, 0),
	})
}

// runEpoch evaluates every validated submission against the epoch's
// dataset, then schedules the next epoch or finalization. Idempotent
// under redelivery: runs dedupe on (submission, epoch) in the store.
func (s *Service) runEpoch(job *types.Job) error {
	ctx := s.ctx
	tournament, err := s.cfg.DB.Tournament(ctx, job.TournamentID)
	if err != nil {
		return errors.Wrap(err, "could not load tournament")
	}
	if tournament.Status.Terminal() {
		return nil
	}

	deadline := epochStart(tournament, job.Epoch).Add(tournament.Config.EpochDuration())
	if !s.now().UTC().Before(deadline) {
		s.failTournament(ctx, tournament.ID, types.ErrCodeOrchestratorTimeout,
			errors.Errorf("epoch %d missed its deadline %s", job.Epoch, deadline.Format(time.RFC3339)))
		return nil
	}

	subs, err := s.cfg.DB.Submissions(ctx, tournament.ID)
	if err != nil {
		return errors.Wrap(err, "could not load submissions")
	}

	network := tournament.Config.NetworkForEpoch(int(job.Epoch))
	testDate := tournament.StartedAt.UTC().Truncate(24 * time.Hour).
		Add(time.Duration(job.Epoch) * 24 * time.Hour)
	created := 0
	for _, sub := range subs {
		if sub.Status != types.SubmissionValidated {
			continue
		}
		if s.now().UTC().After(deadline) {
			s.failTournament(ctx, tournament.ID, types.ErrCodeOrchestratorTimeout,
				errors.Errorf("epoch %d overran its budget", job.Epoch))
			return nil
		}
		isNew, err := s.evaluateRun(ctx, tournament, sub, job.Epoch, network, testDate)
		if err != nil {
			return errors.Wrapf(err, "could not evaluate %s at epoch %d", sub.ParticipantID, job.Epoch)
		}
		if isNew {
			created++
		}
	}
	if created > 0 {
		if err := s.withRetry(ctx, func() error {
			return s.cfg.DB.AddTournamentCounts(ctx, tournament.ID, 0, created)
		}); err != nil {
			return errors.Wrap(err, "could not update run counts")
		}
	}
	log.WithFields(logrus.Fields{
		"tournament": tournament.ID,
		"epoch":      job.Epoch,
		"network":    network,
		"runs":       created,
	}).Info("Epoch evaluated")

	next := &types.Job{
		ID:           uuid.New(),
		TournamentID: tournament.ID,
		NotBefore:    deadline,
	}
	if int(job.Epoch)+1 < tournament.Config.EpochCount {
		next.Kind = types.JobRunEpoch
		next.Epoch = job.Epoch + 1
	} else {
		next.Kind = types.JobFinalize
	}
	return s.cfg.Queue.Enqueue(ctx, next)
}

// finalize aggregates the tournament's runs, persists the ranking,
// emits weights, and completes the tournament. Weight emission failure
// fails the tournament: stale weights are never set.
func (s *Service) finalize(job *types.Job) error {
	ctx, cancel := context.WithTimeout(s.ctx, finalizeBudget)
	defer cancel()

	tournament, err := s.cfg.DB.Tournament(ctx, job.TournamentID)
	if err != nil {
		return errors.Wrap(err, "could not load tournament")
	}
	if tournament.Status.Terminal() {
		return nil
	}
	if tournament.Status == types.TournamentTesting {
		if err := s.cfg.DB.AdvanceTournamentStatus(ctx, tournament.ID, types.TournamentEvaluating); err != nil {
			return errors.Wrap(err, "could not enter evaluating phase")
		}
	}

	subs, err := s.cfg.DB.Submissions(ctx, tournament.ID)
	if err != nil {
		return errors.Wrap(err, "could not load submissions")
	}
	runs, err := s.cfg.DB.EvaluationRuns(ctx, tournament.ID)
	if err != nil {
		return errors.Wrap(err, "could not load evaluation runs")
	}

	results := scoring.Aggregate(tournament.ID, subs, runs, &tournament.Config, s.now().UTC())
	if err := s.withRetry(ctx, func() error {
		return s.cfg.DB.SaveTournamentResults(ctx, tournament.ID, results)
	}); err != nil {
		s.failTournament(ctx, tournament.ID, types.ErrCodeStoreFailed, err)
		return nil
	}

	if err := s.cfg.Weights.SetWeights(ctx, tournament.EpochNumber, weights.FromResults(results)); err != nil {
		s.failTournament(ctx, tournament.ID, types.ErrCodeStoreFailed,
			errors.Wrap(err, "could not emit weights"))
		return nil
	}

	completedAt := s.now().UTC()
	if err := s.withRetry(ctx, func() error {
		return s.cfg.DB.MarkTournamentCompleted(ctx, tournament.ID, completedAt, completedAt)
	}); err != nil {
		return errors.Wrap(err, "could not mark tournament completed")
	}
	tournamentsCompletedTotal.Inc()
	log.WithFields(logrus.Fields{
		"tournament":   tournament.ID,
		"participants": len(results),
	}).Info("Tournament completed, weights emitted")

	// Built images are no longer needed. Best effort; a leaked image is
	// reclaimed by the next docker prune.
	for _, sub := range subs {
		if sub.ImageTag == "" {
			continue
		}
		if err := s.cfg.Processor.RemoveImage(ctx, sub.ImageTag); err != nil {
			log.WithError(err).WithField("image", sub.ImageTag).Warn("Could not remove submission image")
		}
	}
	return nil
}
