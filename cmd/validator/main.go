// Package main defines the tournament validator entrypoint. The
// validator collects participant submissions, evaluates them in
// sandboxed containers against daily datasets, and emits the resulting
// weight vector.
package main

import (
	"fmt"
	"os"
	"runtime"

	joonix "github.com/joonix/log"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"github.com/chainswarm/subnet2/validator/flags"
	"github.com/chainswarm/subnet2/validator/node"
)

var log = logrus.WithField("prefix", "main")

var appFlags = []cli.Flag{
	flags.DataDirFlag,
	flags.ConfigFileFlag,
	flags.VerbosityFlag,
	flags.LogFormatFlag,
	flags.MonitoringHostFlag,
	flags.MonitoringPortFlag,
	flags.ClearDBFlag,
	flags.BackupWebhookOutputDir,
	flags.SubmissionsFileFlag,
	flags.ScheduleModeFlag,
	flags.NetworksFlag,
	flags.EpochCountFlag,
	flags.SubmissionDurationFlag,
	flags.EpochDurationFlag,
	flags.DatasetDirFlag,
	flags.DatasetWindowFlag,
	flags.OutputDirFlag,
	flags.WorkDirFlag,
	flags.EvaluationTimeoutFlag,
	flags.MemoryLimitFlag,
	flags.CPUCoresFlag,
	flags.ProcessLimitFlag,
}

func startNode(cliCtx *cli.Context) error {
	validator, err := node.NewTournamentNode(cliCtx)
	if err != nil {
		return err
	}
	validator.Start()
	return nil
}

func main() {
	app := cli.App{}
	app.Name = "tournament-validator"
	app.Usage = "launches a tournament validator that evaluates analytics submissions and emits weights"
	app.Flags = appFlags
	app.Action = startNode
	app.Before = func(ctx *cli.Context) error {
		format := ctx.String(flags.LogFormatFlag.Name)
		switch format {
		case "text":
			formatter := new(prefixed.TextFormatter)
			formatter.TimestampFormat = "2006-01-02 15:04:05"
			formatter.FullTimestamp = true
			logrus.SetFormatter(formatter)
		case "fluentd":
			logrus.SetFormatter(joonix.NewFormatter())
		case "json":
			logrus.SetFormatter(&logrus.JSONFormatter{})
		default:
			return fmt.Errorf("unknown log format %s", format)
		}

		runtime.GOMAXPROCS(runtime.NumCPU())
		return nil
	}

	if err := app.Run(os.Args); err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
}
