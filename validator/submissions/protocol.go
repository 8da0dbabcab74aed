package submissions

import (
	"context"
	"os"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// Announcement is one participant's answer to a submission request.
type Announcement struct {
	ParticipantID string `yaml:"participant_id"`
	RepositoryURL string `yaml:"repository_url"`
	CommitHash    string `yaml:"commit_hash"`
}

// Protocol is the boundary to the peer-to-peer submission protocol. The
// transport is outside the engine; implementations ask each known peer
// for its (repository, commit) pair for the given tournament epoch.
type Protocol interface {
	Collect(ctx context.Context, tournamentID uuid.UUID, epoch uint64) ([]Announcement, error)
}

// FileProtocol reads announcements from a YAML file, for single-host
// deployments where a separate process maintains the peer list.
type FileProtocol struct {
	Path string
}

type announcementFile struct {
	Submissions []Announcement `yaml:"submissions"`
}

// Collect loads the announcement file fresh on each call.
func (p FileProtocol) Collect(_ context.Context, _ uuid.UUID, _ uint64) ([]Announcement, error) {
	raw, err := os.ReadFile(p.Path) // #nosec G304 -- operator-supplied path
	if err != nil {
		return nil, errors.Wrapf(err, "could not read submissions file %s", p.Path)
	}
	var parsed announcementFile
	if err := yaml.UnmarshalStrict(raw, &parsed); err != nil {
		return nil, errors.Wrapf(err, "could not parse submissions file %s", p.Path)
	}
	return parsed.Submissions, nil
}
