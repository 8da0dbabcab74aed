// Package submissions collects participant (repository, commit) pairs
// and turns each into a scanned, addressable container image. The build
// step is the only component with network access; everything downstream
// runs offline.
package submissions

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	dockertypes "github.com/docker/docker/api/types"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/chainswarm/subnet2/validator/db/iface"
	"github.com/chainswarm/subnet2/validator/db/kv"
	"github.com/chainswarm/subnet2/validator/types"
)

var log = logrus.WithField("prefix", "submissions")

// imageBuilder is the slice of the docker client the processor needs.
type imageBuilder interface {
	ImageBuild(ctx context.Context, buildContext io.Reader, options dockertypes.ImageBuildOptions) (dockertypes.ImageBuildResponse, error)
	ImageRemove(ctx context.Context, imageID string, options dockertypes.ImageRemoveOptions) ([]dockertypes.ImageDeleteResponseItem, error)
}

// fetchFunc clones a repository at an exact commit into dst.
type fetchFunc func(ctx context.Context, repositoryURL, commitHash, dst string) error

// Processor implements submission collection and building.
type Processor struct {
	db       iface.Database
	builder  imageBuilder
	protocol Protocol
	workDir  string
	fetch    fetchFunc
	now      func() time.Time
}

// NewProcessor returns a processor backed by the given store, docker
// builder and submission protocol.
func NewProcessor(db iface.Database, builder imageBuilder, protocol Protocol, workDir string) *Processor {
	return &Processor{
		db:       db,
		builder:  builder,
		protocol: protocol,
		workDir:  workDir,
		fetch:    gitFetch,
		now:      time.Now,
	}
}

// Collect asks the submission protocol for announcements, records one
// submission per participant, and builds each in turn. Returns the
// number of submissions that reached validated.
func (p *Processor) Collect(ctx context.Context, tournament *types.Tournament) (int, error) {
	announcements, err := p.protocol.Collect(ctx, tournament.ID, tournament.EpochNumber)
	if err != nil {
		return 0, errors.Wrap(err, "could not collect announcements")
	}

	var subs []*types.Submission
	seen := make(map[string]bool)
	for _, a := range announcements {
		if a.ParticipantID == "" {
			continue
		}
		if seen[a.ParticipantID] {
			log.WithField("participant", a.ParticipantID).Warn("Duplicate announcement rejected")
			continue
		}
		seen[a.ParticipantID] = true

		sub := &types.Submission{
			ID:            uuid.New(),
			TournamentID:  tournament.ID,
			ParticipantID: a.ParticipantID,
			RepositoryURL: a.RepositoryURL,
			CommitHash:    strings.ToLower(a.CommitHash),
			Status:        types.SubmissionPending,
			SubmittedAt:   p.now().UTC(),
		}
		if !types.ValidCommitHash(sub.CommitHash) {
			sub.Status = types.SubmissionFailed
			sub.Error = fmt.Sprintf("%s: commit hash %q is not 40-char hex", types.ErrCodeSubmissionBuildFailed, a.CommitHash)
		}
		if err := p.db.CreateSubmission(ctx, sub); err != nil {
			if errors.Is(err, kv.ErrSubmissionExists) {
				continue
			}
			return 0, errors.Wrap(err, "could not persist submission")
		}
		subs = append(subs, sub)
	}

	validated := 0
	for _, sub := range subs {
		if sub.Status != types.SubmissionPending {
			continue
		}
		if err := ctx.Err(); err != nil {
			return validated, err
		}
		if err := p.Build(ctx, sub); err != nil {
			log.WithError(err).WithField("participant", sub.ParticipantID).Warn("Submission failed")
			continue
		}
		validated++
	}
	return validated, nil
}

// Build fetches the submission at its exact commit, checks the file
// layout, scans the sources and Dockerfile, builds the image, and marks
// the submission validated.
// Any failure marks it failed with a classified error and returns it.
func (p *Processor) Build(ctx context.Context, sub *types.Submission) error {
	sub.Status = types.SubmissionValidating
	if err := p.db.UpdateSubmission(ctx, sub); err != nil {
		return errors.Wrap(err, "could not mark submission validating")
	}

	workspace := filepath.Join(p.workDir, sub.ID.String())
	defer func() {
		if err := os.RemoveAll(workspace); err != nil {
			log.WithError(err).WithField("workspace", workspace).Error("Could not clean workspace")
		}
	}()

	if err := p.fetch(ctx, sub.RepositoryURL, sub.CommitHash, workspace); err != nil {
		return p.fail(ctx, sub, types.ErrCodeSubmissionBuildFailed, errors.Wrap(err, "could not fetch repository"))
	}

	fileViolations, err := ValidateFiles(workspace)
	if err != nil {
		return p.fail(ctx, sub, types.ErrCodeSubmissionScanReject, errors.Wrap(err, "could not validate file layout"))
	}
	if len(fileViolations) > 0 {
		return p.fail(ctx, sub, types.ErrCodeSubmissionScanReject, errors.Errorf("file policy: %s", fileViolations[0]))
	}

	violations, err := ScanSource(workspace)
	if err != nil {
		return p.fail(ctx, sub, types.ErrCodeSubmissionScanReject, errors.Wrap(err, "could not scan sources"))
	}
	if len(violations) > 0 {
		return p.fail(ctx, sub, types.ErrCodeSubmissionScanReject, errors.Errorf("scanner found %d violations, first: %s", len(violations), violations[0]))
	}

	dockerViolations, err := ValidateDockerfile(filepath.Join(workspace, "Dockerfile"))
	if err != nil {
		return p.fail(ctx, sub, types.ErrCodeSubmissionBuildFailed, err)
	}
	if len(dockerViolations) > 0 {
		return p.fail(ctx, sub, types.ErrCodeSubmissionScanReject, errors.Errorf("dockerfile policy: %s", dockerViolations[0]))
	}

	tag := ImageTag(sub.ParticipantID, sub.CommitHash)
	if err := p.buildImage(ctx, workspace, tag); err != nil {
		return p.fail(ctx, sub, types.ErrCodeSubmissionBuildFailed, err)
	}

	now := p.now().UTC()
	sub.ImageTag = tag
	sub.Status = types.SubmissionValidated
	sub.ValidatedAt = &now
	sub.Error = ""
	if err := p.db.UpdateSubmission(ctx, sub); err != nil {
		return errors.Wrap(err, "could not mark submission validated")
	}
	log.WithFields(logrus.Fields{
		"participant": sub.ParticipantID,
		"image":       tag,
	}).Info("Submission validated")
	return nil
}

// RemoveImage deletes a built submission image after the tournament no
// longer needs it.
func (p *Processor) RemoveImage(ctx context.Context, imageTag string) error {
	_, err := p.builder.ImageRemove(ctx, imageTag, dockertypes.ImageRemoveOptions{Force: true, PruneChildren: true})
	return err
}

func (p *Processor) fail(ctx context.Context, sub *types.Submission, code types.ErrorCode, cause error) error {
	sub.Status = types.SubmissionFailed
	sub.Error = fmt.Sprintf("%s: %v", code, cause)
	if err := p.db.UpdateSubmission(ctx, sub); err != nil {
		return errors.Wrap(err, "could not mark submission failed")
	}
	return cause
}

func (p *Processor) buildImage(ctx context.Context, workspace, tag string) error {
	buildCtx, err := archive.TarWithOptions(workspace, &archive.TarOptions{})
	if err != nil {
		return errors.Wrap(err, "could not tar build context")
	}
	defer func() {
		_ = buildCtx.Close()
	}()

	resp, err := p.builder.ImageBuild(ctx, buildCtx, dockertypes.ImageBuildOptions{
		Tags:       []string{tag},
		Dockerfile: "Dockerfile",
		Remove:     true,
	})
	if err != nil {
		return errors.Wrap(err, "could not build image")
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if err := jsonmessage.DisplayJSONMessagesStream(resp.Body, io.Discard, 0, false, nil); err != nil {
		return errors.Wrap(err, "image build failed")
	}
	return nil
}

var tagSanitizeRe = regexp.MustCompile(`[^a-z0-9-]+`)

// ImageTag derives the deterministic image tag for a submission from its
// participant id and commit hash.
func ImageTag(participantID, commitHash string) string {
	name := tagSanitizeRe.ReplaceAllString(strings.ToLower(participantID), "-")
	name = strings.Trim(name, "-")
	if name == "" {
		name = "participant"
	}
	return fmt.Sprintf("subnet2-eval-%s:%s", name, commitHash[:12])
}

// gitFetch clones a repository and checks out the exact commit.
func gitFetch(ctx context.Context, repositoryURL, commitHash, dst string) error {
	repo, err := git.PlainCloneContext(ctx, dst, false, &git.CloneOptions{
		URL:        repositoryURL,
		NoCheckout: true,
	})
	if err != nil {
		return errors.Wrapf(err, "could not clone %s", repositoryURL)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return errors.Wrap(err, "could not open worktree")
	}
	if err := wt.Checkout(&git.CheckoutOptions{Hash: plumbing.NewHash(commitHash)}); err != nil {
		return errors.Wrapf(err, "could not checkout %s", commitHash)
	}
	return nil
}
