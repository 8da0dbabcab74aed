package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/chainswarm/subnet2/validator/dataset"
	"github.com/chainswarm/subnet2/validator/db/kv"
	"github.com/chainswarm/subnet2/validator/flow"
	"github.com/chainswarm/subnet2/validator/outputs"
	"github.com/chainswarm/subnet2/validator/runner"
	"github.com/chainswarm/subnet2/validator/scoring"
	"github.com/chainswarm/subnet2/validator/types"
)

// evaluateRun executes one submission against one epoch's dataset and
// persists the scored run. Returns whether a new run record was
// created; an already finished run is skipped so redelivered epoch jobs
// never re-execute a payload.
func (s *Service) evaluateRun(
	ctx context.Context,
	tournament *types.Tournament,
	sub *types.Submission,
	epoch uint64,
	network string,
	testDate time.Time,
) (bool, error) {
	existing, err := s.cfg.DB.EvaluationRun(ctx, sub.ID, epoch)
	if err != nil && !errors.Is(err, kv.ErrNotFound) {
		return false, errors.Wrap(err, "could not check for existing run")
	}
	if existing != nil && existing.CompletedAt != nil {
		return false, nil
	}

	created := false
	run := existing
	if run == nil {
		run = &types.EvaluationRun{
			ID:           uuid.New(),
			SubmissionID: sub.ID,
			EpochNumber:  epoch,
			Network:      network,
			TestDate:     testDate,
			Status:       types.RunRunning,
			StartedAt:    s.now().UTC(),
		}
		if err := s.cfg.DB.CreateEvaluationRun(ctx, run); err != nil {
			return false, errors.Wrap(err, "could not create run")
		}
		created = true
	} else {
		run.Status = types.RunRunning
		run.StartedAt = s.now().UTC()
	}

	cfg := &tournament.Config
	inputDir := s.cfg.Datasets.Dir(network, testDate)
	outputDir := dataset.OutputDir(cfg.OutputDir, tournament.ID, epoch, sub.ParticipantID)
	if err := os.RemoveAll(outputDir); err != nil {
		return created, errors.Wrap(err, "could not clear output dir")
	}
	// The sandbox runs as an unprivileged user and must write here.
	if err := os.MkdirAll(outputDir, 0777); err != nil { // #nosec G301
		return created, errors.Wrap(err, "could not create output dir")
	}

	log.WithFields(logrus.Fields{
		"participant": sub.ParticipantID,
		"epoch":       epoch,
		"network":     network,
		"image":       sub.ImageTag,
	}).Info("Evaluating submission")

	res, err := s.cfg.Sandbox.Run(ctx, sub.ImageTag, inputDir, outputDir, runner.Limits{
		Timeout:      cfg.EvaluationTimeout(),
		MemoryBytes:  cfg.MemoryLimitBytes,
		CPUCores:     cfg.CPUCores,
		ProcessLimit: cfg.ProcessLimit,
	})
	if err != nil {
		if errors.Is(err, runner.ErrLaunch) {
			return created, s.finishRun(ctx, run, types.RunFailed, types.ErrCodeSandboxLaunchFailed, err.Error())
		}
		return created, errors.Wrap(err, "sandbox run failed")
	}

	run.DurationSeconds = res.WallSeconds
	exitCode := res.ExitCode
	run.ExitCode = &exitCode

	if res.TimedOut {
		return created, s.finishRun(ctx, run, types.RunTimeout, types.ErrCodeSandboxTimeout,
			fmt.Sprintf("killed after %.0fs", res.WallSeconds))
	}
	if res.ExitCode != 0 {
		return created, s.finishRun(ctx, run, types.RunFailed, types.ErrCodeSandboxNonZeroExit,
			fmt.Sprintf("exit code %d: %s", res.ExitCode, res.TailLog))
	}

	features := outputs.ValidateFeatures(filepath.Join(outputDir, outputs.FeaturesFile), outputs.DefaultFeatureSchema)
	if !features.Valid {
		featuresValid := false
		run.FeaturesValid = &featuresValid
		return created, s.finishRun(ctx, run, types.RunCompleted, types.ErrCodeOutputSchemaInvalid, features.Reason)
	}
	patterns := outputs.ValidatePatterns(filepath.Join(outputDir, outputs.PatternsFile), features.Addresses)
	if !patterns.Valid {
		featuresValid := false
		run.FeaturesValid = &featuresValid
		return created, s.finishRun(ctx, run, types.RunCompleted, types.ErrCodeOutputSchemaInvalid, patterns.Reason)
	}

	transfers, err := s.cfg.Datasets.Transfers(network, testDate)
	if err != nil {
		return created, errors.Wrap(err, "could not load transfers")
	}
	groundTruth, err := s.cfg.Datasets.GroundTruthIDs(network, testDate)
	if err != nil {
		return created, errors.Wrap(err, "could not load ground truth")
	}

	index := flow.NewTransferIndex(transfers)
	reported := make([]scoring.ReportedPattern, 0, len(patterns.Patterns))
	for _, p := range patterns.Patterns {
		reported = append(reported, scoring.ReportedPattern{
			ID:         p.ID,
			FlowsExist: index.Verify(p.AddressPath, p.HopTimestamps),
		})
	}
	counts := scoring.Classify(reported, groundTruth)

	featureTime, patternTime := phaseTimes(outputDir, run.StartedAt, res.WallSeconds)
	scored := scoring.Compute(scoring.Input{
		FeaturesValid:      true,
		Counts:             counts,
		GroundTruthCount:   len(groundTruth),
		FeatureTimeSeconds: featureTime,
		PatternTimeSeconds: patternTime,
	}, cfg)

	featuresValid := true
	run.FeaturesValid = &featuresValid
	run.PatternsReported = counts.Reported
	run.SyntheticFound = counts.SyntheticFound
	run.SyntheticExpected = len(groundTruth)
	run.NoveltyValid = counts.NoveltyValid
	run.NoveltyInvalid = counts.Invalid
	run.FeatureTimeSeconds = featureTime
	run.PatternTimeSeconds = patternTime
	run.FeaturePerformance = scored.FeaturePerformance
	run.SyntheticRecall = scored.SyntheticRecall
	run.PatternPrecision = scored.PatternPrecision
	run.NoveltyDiscovery = scored.NoveltyDiscovery
	run.PatternPerformance = scored.PatternPerformance
	run.FinalScore = scored.FinalScore
	return created, s.finishRun(ctx, run, types.RunCompleted, types.ErrCodeNone, "")
}

func (s *Service) finishRun(ctx context.Context, run *types.EvaluationRun, status types.RunStatus, code types.ErrorCode, message string) error {
	now := s.now().UTC()
	run.Status = status
	run.CompletedAt = &now
	run.ErrorCode = code
	run.ErrorMessage = message
	if err := s.withRetry(ctx, func() error {
		return s.cfg.DB.UpdateEvaluationRun(ctx, run)
	}); err != nil {
		return errors.Wrap(err, "could not persist run")
	}
	runsFinishedTotal.WithLabelValues(string(status)).Inc()
	if status != types.RunCompleted || code != types.ErrCodeNone {
		log.WithFields(logrus.Fields{
			"run":    run.ID,
			"status": status,
			"code":   code,
		}).Warn("Run finished abnormally")
	}
	return nil
}

// phaseTimes attributes the run's wall time to the feature and pattern
// phases from the artifact modification times. When the artifacts carry
// no usable timestamps the whole wall time is charged to both phases.
func phaseTimes(outputDir string, startedAt time.Time, wallSeconds float64) (float64, float64) {
	featInfo, err := os.Stat(filepath.Join(outputDir, outputs.FeaturesFile))
	if err != nil {
		return wallSeconds, wallSeconds
	}
	patInfo, err := os.Stat(filepath.Join(outputDir, outputs.PatternsFile))
	if err != nil {
		return wallSeconds, wallSeconds
	}
	featureTime := featInfo.ModTime().Sub(startedAt).Seconds()
	patternTime := patInfo.ModTime().Sub(featInfo.ModTime()).Seconds()
	if featureTime < 0 || featureTime > wallSeconds {
		featureTime = wallSeconds
	}
	if patternTime < 0 || patternTime > wallSeconds {
		patternTime = wallSeconds
	}
	return featureTime, patternTime
}
