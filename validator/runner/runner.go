// Package runner executes a submission image in an isolated, network-
// denied, capability-stripped container. Wall time is measured by the
// host; nothing the payload reports is trusted.
package runner

import (
	"bytes"
	"context"
	"io"
	"time"

	dockertypes "github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/strslice"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/dustin/go-humanize"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("prefix", "runner")

// ErrLaunch marks failures to start a sandbox at all: a missing image or
// a rejected isolation policy. Distinct from a run that started and
// failed.
var ErrLaunch = errors.New("sandbox launch failed")

// TimeoutExitCode is the exit code sentinel recorded for killed runs.
const TimeoutExitCode = -1

// tailLogBytes bounds the captured stdout/stderr tail. Logs are
// diagnostics only, never scoring input.
const tailLogBytes = 16 << 10

// Limits bounds one sandboxed run.
type Limits struct {
	Timeout      time.Duration
	MemoryBytes  int64
	CPUCores     float64
	ProcessLimit int64
}

// RunResult reports one finished sandboxed execution.
type RunResult struct {
	ExitCode    int
	WallSeconds float64
	TimedOut    bool
	TailLog     string
}

// containerAPI is the slice of the docker client the sandbox needs.
type containerAPI interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig,
		networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options dockertypes.ContainerStartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerKill(ctx context.Context, containerID, signal string) error
	ContainerLogs(ctx context.Context, containerID string, options dockertypes.ContainerLogsOptions) (io.ReadCloser, error)
	ContainerRemove(ctx context.Context, containerID string, options dockertypes.ContainerRemoveOptions) error
}

// Sandbox runs submission images under the isolation contract.
type Sandbox struct {
	cli containerAPI
}

// New wraps a docker API client in a sandbox runner.
func New(cli containerAPI) *Sandbox {
	return &Sandbox{cli: cli}
}

// NewDocker connects to the local docker daemon.
func NewDocker() (*Sandbox, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, errors.Wrap(err, "could not connect to docker daemon")
	}
	return New(cli), nil
}

// Run executes an image with the dataset mounted read-only at /input and
// the artifact directory writable at /output. The run is killed when it
// outlives the wall-clock timeout.
func (s *Sandbox) Run(ctx context.Context, imageTag, inputDir, outputDir string, limits Limits) (*RunResult, error) {
	profile, err := SeccompProfile()
	if err != nil {
		// Inability to apply the syscall filter is a launch failure, not
		// a degraded run.
		return nil, errors.Wrap(ErrLaunch, err.Error())
	}

	hostCfg := &container.HostConfig{
		NetworkMode:    "none",
		ReadonlyRootfs: true,
		CapDrop:        strslice.StrSlice{"ALL"},
		SecurityOpt:    []string{"no-new-privileges", "seccomp=" + profile},
		Binds: []string{
			inputDir + ":/input:ro",
			outputDir + ":/output:rw",
		},
		Tmpfs: map[string]string{"/tmp": "rw,noexec,nosuid,size=256m"},
		Resources: container.Resources{
			Memory:    limits.MemoryBytes,
			NanoCPUs:  int64(limits.CPUCores * 1e9),
			PidsLimit: &limits.ProcessLimit,
		},
	}
	cfg := &container.Config{
		Image: imageTag,
		Env: []string{
			"INPUT_DIR=/input",
			"OUTPUT_DIR=/output",
		},
	}

	created, err := s.cli.ContainerCreate(ctx, cfg, hostCfg, &network.NetworkingConfig{}, nil, "")
	if err != nil {
		return nil, errors.Wrapf(ErrLaunch, "could not create container for %s: %v", imageTag, err)
	}
	defer func() {
		removeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.cli.ContainerRemove(removeCtx, created.ID, dockertypes.ContainerRemoveOptions{Force: true}); err != nil {
			log.WithError(err).WithField("container", created.ID).Error("Could not remove container")
		}
	}()

	waitCh, waitErrCh := s.cli.ContainerWait(ctx, created.ID, container.WaitConditionNextExit)

	started := time.Now()
	if err := s.cli.ContainerStart(ctx, created.ID, dockertypes.ContainerStartOptions{}); err != nil {
		return nil, errors.Wrapf(ErrLaunch, "could not start container for %s: %v", imageTag, err)
	}
	log.WithFields(logrus.Fields{
		"image":   imageTag,
		"memory":  humanize.IBytes(uint64(limits.MemoryBytes)),
		"timeout": limits.Timeout,
	}).Debug("Sandbox started")

	result := &RunResult{}
	watchdog := time.NewTimer(limits.Timeout)
	defer watchdog.Stop()

	select {
	case resp := <-waitCh:
		result.ExitCode = int(resp.StatusCode)
	case err := <-waitErrCh:
		return nil, errors.Wrap(err, "error awaiting container exit")
	case <-watchdog.C:
		result.TimedOut = true
		result.ExitCode = TimeoutExitCode
		s.kill(created.ID, waitCh)
	case <-ctx.Done():
		s.kill(created.ID, waitCh)
		return nil, ctx.Err()
	}
	result.WallSeconds = time.Since(started).Seconds()
	result.TailLog = s.tailLogs(created.ID)
	return result, nil
}

// kill force-terminates a container and reaps its exit.
func (s *Sandbox) kill(containerID string, waitCh <-chan container.WaitResponse) {
	killCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.cli.ContainerKill(killCtx, containerID, "KILL"); err != nil {
		log.WithError(err).WithField("container", containerID).Error("Could not kill container")
	}
	select {
	case <-waitCh:
	case <-killCtx.Done():
	}
}

func (s *Sandbox) tailLogs(containerID string) string {
	logsCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	rc, err := s.cli.ContainerLogs(logsCtx, containerID, dockertypes.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       "400",
	})
	if err != nil {
		log.WithError(err).WithField("container", containerID).Error("Could not fetch container logs")
		return ""
	}
	defer func() {
		_ = rc.Close()
	}()

	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, rc); err != nil {
		log.WithError(err).Debug("Could not demultiplex container logs")
	}
	raw := buf.Bytes()
	if len(raw) > tailLogBytes {
		raw = raw[len(raw)-tailLogBytes:]
	}
	return string(raw)
}
