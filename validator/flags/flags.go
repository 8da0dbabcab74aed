// Package flags contains all configuration runtime flags for the
// tournament validator.
package flags

import (
	"github.com/urfave/cli/v2"
)

var (
	// DataDirFlag defines a path on disk for the tournament database.
	DataDirFlag = &cli.StringFlag{
		Name:    "datadir",
		Usage:   "Data directory for the tournament database",
		Value:   "/data/subnet2",
		EnvVars: []string{"SUBNET2_DATADIR"},
	}
	// ConfigFileFlag points at an optional YAML file overlaying the
	// tournament options.
	ConfigFileFlag = &cli.StringFlag{
		Name:    "config-file",
		Usage:   "Path to a YAML tournament configuration file",
		EnvVars: []string{"SUBNET2_CONFIG_FILE"},
	}
	// VerbosityFlag defines the logrus configuration.
	VerbosityFlag = &cli.StringFlag{
		Name:    "verbosity",
		Usage:   "Logging verbosity (trace, debug, info, warn, error, fatal, panic)",
		Value:   "info",
		EnvVars: []string{"SUBNET2_VERBOSITY"},
	}
	// LogFormatFlag specifies the log output encoding.
	LogFormatFlag = &cli.StringFlag{
		Name:    "log-format",
		Usage:   "Specify log formatting. Supports: text, json, fluentd",
		Value:   "text",
		EnvVars: []string{"SUBNET2_LOG_FORMAT"},
	}
	// MonitoringHostFlag defines the host of the monitoring server.
	MonitoringHostFlag = &cli.StringFlag{
		Name:    "monitoring-host",
		Usage:   "Host used for the monitoring and admin endpoints",
		Value:   "127.0.0.1",
		EnvVars: []string{"SUBNET2_MONITORING_HOST"},
	}
	// MonitoringPortFlag defines the port of the monitoring server.
	MonitoringPortFlag = &cli.IntFlag{
		Name:    "monitoring-port",
		Usage:   "Port used for the monitoring and admin endpoints",
		Value:   8081,
		EnvVars: []string{"SUBNET2_MONITORING_PORT"},
	}
	// ClearDBFlag wipes the tournament database before starting.
	ClearDBFlag = &cli.BoolFlag{
		Name:  "clear-db",
		Usage: "Clears the tournament database before starting",
	}
	// BackupWebhookOutputDir defines where HTTP-initiated backups land.
	BackupWebhookOutputDir = &cli.StringFlag{
		Name:    "db-backup-output-dir",
		Usage:   "Output directory for database backups initiated over HTTP",
		EnvVars: []string{"SUBNET2_DB_BACKUP_OUTPUT_DIR"},
	}

	// SubmissionsFileFlag locates the file-based submission protocol
	// source.
	SubmissionsFileFlag = &cli.StringFlag{
		Name:    "submissions-file",
		Usage:   "YAML file announcing participant submissions for the current tournament",
		Value:   "/data/submissions.yaml",
		EnvVars: []string{"SUBNET2_SUBMISSIONS_FILE"},
	}

	// ScheduleModeFlag selects manual or daily tournament scheduling.
	ScheduleModeFlag = &cli.StringFlag{
		Name:    "schedule-mode",
		Usage:   "Tournament schedule: \"manual\" (HTTP trigger) or \"daily\" (00:00 UTC)",
		Value:   "manual",
		EnvVars: []string{"SUBNET2_SCHEDULE_MODE"},
	}
	// NetworksFlag lists the per-epoch dataset network labels.
	NetworksFlag = &cli.StringSliceFlag{
		Name:    "networks",
		Usage:   "Per-epoch dataset network labels; the last label repeats for extra epochs",
		Value:   cli.NewStringSlice("torus"),
		EnvVars: []string{"SUBNET2_NETWORKS"},
	}
	// EpochCountFlag sets the number of evaluation epochs per tournament.
	EpochCountFlag = &cli.IntFlag{
		Name:    "epoch-count",
		Usage:   "Number of evaluation epochs per tournament",
		Value:   3,
		EnvVars: []string{"SUBNET2_EPOCH_COUNT"},
	}
	// SubmissionDurationFlag sets the submission window length in seconds.
	SubmissionDurationFlag = &cli.IntFlag{
		Name:    "submission-duration",
		Usage:   "Length of the submission window in seconds",
		Value:   120,
		EnvVars: []string{"SUBNET2_SUBMISSION_DURATION"},
	}
	// EpochDurationFlag sets the per-epoch wall-clock budget in seconds.
	EpochDurationFlag = &cli.IntFlag{
		Name:    "epoch-duration",
		Usage:   "Wall-clock budget of one evaluation epoch in seconds",
		Value:   180,
		EnvVars: []string{"SUBNET2_EPOCH_DURATION"},
	}

	// DatasetDirFlag is the root of the immutable dataset tree.
	DatasetDirFlag = &cli.StringFlag{
		Name:    "dataset-dir",
		Usage:   "Root directory of the dataset tree ({root}/{network}/{date}/{window})",
		Value:   "/data/datasets",
		EnvVars: []string{"SUBNET2_DATASET_DIR"},
	}
	// DatasetWindowFlag selects the dataset window subdirectory.
	DatasetWindowFlag = &cli.StringFlag{
		Name:    "dataset-window",
		Usage:   "Dataset window subdirectory, e.g. 24h",
		Value:   "24h",
		EnvVars: []string{"SUBNET2_DATASET_WINDOW"},
	}
	// OutputDirFlag is where sandbox artifact directories are created.
	OutputDirFlag = &cli.StringFlag{
		Name:    "output-dir",
		Usage:   "Directory for per-run sandbox output artifacts",
		Value:   "/data/outputs",
		EnvVars: []string{"SUBNET2_OUTPUT_DIR"},
	}
	// WorkDirFlag holds transient clone and build workspaces.
	WorkDirFlag = &cli.StringFlag{
		Name:    "work-dir",
		Usage:   "Scratch directory for repository clones and image build contexts",
		Value:   "/tmp/subnet2",
		EnvVars: []string{"SUBNET2_WORK_DIR"},
	}

	// EvaluationTimeoutFlag bounds one sandboxed run in seconds.
	EvaluationTimeoutFlag = &cli.IntFlag{
		Name:    "evaluation-timeout",
		Usage:   "Wall-clock timeout of one sandboxed evaluation in seconds",
		Value:   300,
		EnvVars: []string{"SUBNET2_EVALUATION_TIMEOUT"},
	}
	// MemoryLimitFlag bounds a sandbox's memory, in human-readable units.
	MemoryLimitFlag = &cli.StringFlag{
		Name:    "memory-limit",
		Usage:   "Memory limit of one sandbox, e.g. 8GiB",
		Value:   "8GiB",
		EnvVars: []string{"SUBNET2_MEMORY_LIMIT"},
	}
	// CPUCoresFlag bounds a sandbox's CPU allotment.
	CPUCoresFlag = &cli.Float64Flag{
		Name:    "cpu-cores",
		Usage:   "CPU cores available to one sandbox",
		Value:   2,
		EnvVars: []string{"SUBNET2_CPU_CORES"},
	}
	// ProcessLimitFlag bounds a sandbox's pid count.
	ProcessLimitFlag = &cli.Int64Flag{
		Name:    "process-limit",
		Usage:   "Maximum process count inside one sandbox",
		Value:   256,
		EnvVars: []string{"SUBNET2_PROCESS_LIMIT"},
	}
)
