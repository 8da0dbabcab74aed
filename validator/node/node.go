// Package node is the main process which handles the lifecycle of the
// runtime services in a tournament validator process, gracefully
// shutting everything down upon close.
package node

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	dockerclient "github.com/docker/docker/client"
	"github.com/docker/go-units"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	tournamentcfg "github.com/chainswarm/subnet2/config/tournament"
	"github.com/chainswarm/subnet2/monitoring/backup"
	"github.com/chainswarm/subnet2/monitoring/prometheus"
	"github.com/chainswarm/subnet2/runtime"
	"github.com/chainswarm/subnet2/validator/control"
	"github.com/chainswarm/subnet2/validator/dataset"
	"github.com/chainswarm/subnet2/validator/db/kv"
	"github.com/chainswarm/subnet2/validator/flags"
	"github.com/chainswarm/subnet2/validator/orchestrator"
	"github.com/chainswarm/subnet2/validator/runner"
	"github.com/chainswarm/subnet2/validator/submissions"
	"github.com/chainswarm/subnet2/validator/weights"
)

var log = logrus.WithField("prefix", "node")

// TournamentNode manages the full lifecycle of a tournament validator
// process.
type TournamentNode struct {
	cliCtx       *cli.Context
	ctx          context.Context
	cancel       context.CancelFunc
	services     *runtime.ServiceRegistry
	db           *kv.Store
	orchestrator *orchestrator.Service
	lock         sync.RWMutex
	stop         chan struct{} // Channel to wait for termination notifications.
}

// NewTournamentNode creates a fully wired tournament validator.
func NewTournamentNode(cliCtx *cli.Context) (*TournamentNode, error) {
	verbosity := cliCtx.String(flags.VerbosityFlag.Name)
	level, err := logrus.ParseLevel(verbosity)
	if err != nil {
		return nil, err
	}
	logrus.SetLevel(level)

	cfg, err := configFromFlags(cliCtx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	node := &TournamentNode{
		cliCtx:   cliCtx,
		ctx:      ctx,
		cancel:   cancel,
		services: runtime.NewServiceRegistry(),
		stop:     make(chan struct{}),
	}

	dataDir := cliCtx.String(flags.DataDirFlag.Name)
	if cliCtx.Bool(flags.ClearDBFlag.Name) {
		if err := clearDB(dataDir); err != nil {
			cancel()
			return nil, err
		}
	}
	log.WithField("databasePath", dataDir).Info("Checking DB")
	db, err := kv.NewKVStore(dataDir)
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "could not open database")
	}
	node.db = db

	if err := node.registerOrchestratorService(cfg); err != nil {
		cancel()
		return nil, err
	}
	if err := node.registerPrometheusService(cfg); err != nil {
		cancel()
		return nil, err
	}
	return node, nil
}

// configFromFlags assembles the tournament config: defaults, then the
// optional YAML file, then explicit CLI flags on top.
func configFromFlags(cliCtx *cli.Context) (*tournamentcfg.Config, error) {
	cfg := tournamentcfg.DefaultConfig()
	if cliCtx.IsSet(flags.ConfigFileFlag.Name) {
		if err := cfg.LoadFile(cliCtx.String(flags.ConfigFileFlag.Name)); err != nil {
			return nil, err
		}
	}

	apply := func(name string, set func()) {
		if cliCtx.IsSet(name) {
			set()
		}
	}
	apply(flags.SubmissionDurationFlag.Name, func() { cfg.SubmissionDurationSeconds = cliCtx.Int(flags.SubmissionDurationFlag.Name) })
	apply(flags.EpochCountFlag.Name, func() { cfg.EpochCount = cliCtx.Int(flags.EpochCountFlag.Name) })
	apply(flags.EpochDurationFlag.Name, func() { cfg.EpochDurationSeconds = cliCtx.Int(flags.EpochDurationFlag.Name) })
	apply(flags.NetworksFlag.Name, func() { cfg.Networks = cliCtx.StringSlice(flags.NetworksFlag.Name) })
	apply(flags.ScheduleModeFlag.Name, func() { cfg.ScheduleMode = cliCtx.String(flags.ScheduleModeFlag.Name) })
	apply(flags.EvaluationTimeoutFlag.Name, func() { cfg.EvaluationTimeoutSeconds = cliCtx.Int(flags.EvaluationTimeoutFlag.Name) })
	apply(flags.CPUCoresFlag.Name, func() { cfg.CPUCores = cliCtx.Float64(flags.CPUCoresFlag.Name) })
	apply(flags.ProcessLimitFlag.Name, func() { cfg.ProcessLimit = cliCtx.Int64(flags.ProcessLimitFlag.Name) })
	apply(flags.DatasetDirFlag.Name, func() { cfg.DatasetDir = cliCtx.String(flags.DatasetDirFlag.Name) })
	apply(flags.DatasetWindowFlag.Name, func() { cfg.DatasetWindow = cliCtx.String(flags.DatasetWindowFlag.Name) })
	apply(flags.OutputDirFlag.Name, func() { cfg.OutputDir = cliCtx.String(flags.OutputDirFlag.Name) })
	apply(flags.WorkDirFlag.Name, func() { cfg.WorkDir = cliCtx.String(flags.WorkDirFlag.Name) })

	if cliCtx.IsSet(flags.MemoryLimitFlag.Name) {
		mem, err := units.RAMInBytes(cliCtx.String(flags.MemoryLimitFlag.Name))
		if err != nil {
			return nil, errors.Wrap(err, "could not parse memory-limit")
		}
		cfg.MemoryLimitBytes = mem
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid tournament configuration")
	}
	return cfg, nil
}

func clearDB(dataDir string) error {
	d, err := kv.NewKVStore(dataDir)
	if err != nil {
		return errors.Wrap(err, "could not open database to clear it")
	}
	if err := d.Close(); err != nil {
		return err
	}
	log.Warning("Removing tournament database")
	return d.ClearDB()
}

func (n *TournamentNode) registerOrchestratorService(cfg *tournamentcfg.Config) error {
	dockerCli, err := dockerclient.NewClientWithOpts(dockerclient.FromEnv, dockerclient.WithAPIVersionNegotiation())
	if err != nil {
		return errors.Wrap(err, "could not connect to docker daemon")
	}

	protocol := submissions.FileProtocol{Path: n.cliCtx.String(flags.SubmissionsFileFlag.Name)}
	processor := submissions.NewProcessor(n.db, dockerCli, protocol, cfg.WorkDir)
	provider := dataset.NewProvider(dataset.Layout{Root: cfg.DatasetDir, Window: cfg.DatasetWindow})

	svc, err := orchestrator.New(n.ctx, &orchestrator.Config{
		Tournament: cfg,
		DB:         n.db,
		Queue:      n.db,
		Processor:  processor,
		Sandbox:    runner.New(dockerCli),
		Datasets:   provider,
		Weights:    weights.LogSetter{},
	})
	if err != nil {
		return errors.Wrap(err, "could not initialize orchestrator")
	}
	n.orchestrator = svc
	return n.services.RegisterService(svc)
}

func (n *TournamentNode) registerPrometheusService(cfg *tournamentcfg.Config) error {
	var handlers []prometheus.Handler
	if cfg.ScheduleMode == tournamentcfg.ScheduleManual {
		handlers = append(handlers, prometheus.Handler{
			Path:    "/tournament/trigger",
			Handler: control.Handler(n.orchestrator, n.db),
		})
	}
	if n.cliCtx.IsSet(flags.BackupWebhookOutputDir.Name) {
		handlers = append(handlers, prometheus.Handler{
			Path:    "/db/backup",
			Handler: backup.Handler(n.db, n.cliCtx.String(flags.BackupWebhookOutputDir.Name)),
		})
	}
	service := prometheus.NewService(
		fmt.Sprintf("%s:%d", n.cliCtx.String(flags.MonitoringHostFlag.Name), n.cliCtx.Int(flags.MonitoringPortFlag.Name)),
		n.services,
		handlers...,
	)
	logrus.AddHook(prometheus.NewLogrusCollector())
	return n.services.RegisterService(service)
}

// Start every service in the tournament validator.
func (n *TournamentNode) Start() {
	n.lock.Lock()

	log.Info("Starting tournament validator node")
	n.services.StartAll()

	stop := n.stop
	n.lock.Unlock()

	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigc)
		<-sigc
		log.Info("Got interrupt, shutting down...")
		go n.Close()
		for i := 10; i > 0; i-- {
			<-sigc
			if i > 1 {
				log.WithField("times", i-1).Info("Already shutting down, interrupt more to panic.")
			}
		}
		panic("Panic closing the tournament validator")
	}()

	// Wait for stop channel to be closed.
	<-stop
}

// Close handles graceful shutdown of the system.
func (n *TournamentNode) Close() {
	n.lock.Lock()
	defer n.lock.Unlock()

	n.services.StopAll()
	n.cancel()
	if err := n.db.Close(); err != nil {
		log.WithError(err).Error("Could not close the database")
	}
	log.Info("Stopping tournament validator")

	close(n.stop)
}
