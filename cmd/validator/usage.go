// This code was adapted from https://github.com/ethereum/go-ethereum/blob/master/cmd/geth/usage.go
package main

import (
	"io"
	"sort"

	"github.com/urfave/cli/v2"

	"github.com/chainswarm/subnet2/validator/flags"
)

var appHelpTemplate = `NAME:
   {{.App.Name}} - {{.App.Usage}}
USAGE:
   {{.App.HelpName}} [options]{{if .App.Commands}} command [command options]{{end}} {{if .App.ArgsUsage}}{{.App.ArgsUsage}}{{else}}[arguments...]{{end}}
   {{if .App.Version}}
AUTHOR:
   {{range .App.Authors}}{{ . }}{{end}}
   {{end}}{{if .App.Commands}}
GLOBAL OPTIONS:
   {{range .App.Commands}}{{join .Names ", "}}{{ "\t" }}{{.Usage}}
   {{end}}{{end}}{{if .FlagGroups}}
{{range .FlagGroups}}{{.Name}} OPTIONS:
   {{range .Flags}}{{.}}
   {{end}}
{{end}}{{end}}{{if .App.Copyright }}
COPYRIGHT:
   {{.App.Copyright}}
VERSION:
   {{.App.Version}}
   {{end}}
`

type flagGroup struct {
	Name  string
	Flags []cli.Flag
}

var appHelpFlagGroups = []flagGroup{
	{
		Name: "node",
		Flags: []cli.Flag{
			flags.DataDirFlag,
			flags.ConfigFileFlag,
			flags.VerbosityFlag,
			flags.LogFormatFlag,
			flags.MonitoringHostFlag,
			flags.MonitoringPortFlag,
			flags.ClearDBFlag,
			flags.BackupWebhookOutputDir,
		},
	},
	{
		Name: "tournament",
		Flags: []cli.Flag{
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
		},
	},
	{
		Name: "sandbox",
		Flags: []cli.Flag{
			flags.EvaluationTimeoutFlag,
			flags.MemoryLimitFlag,
			flags.CPUCoresFlag,
			flags.ProcessLimitFlag,
		},
	},
}

func init() {
	cli.AppHelpTemplate = appHelpTemplate

	type helpData struct {
		App        interface{}
		FlagGroups []flagGroup
	}

	originalHelpPrinter := cli.HelpPrinter
	cli.HelpPrinter = func(w io.Writer, tmpl string, data interface{}) {
		if tmpl == appHelpTemplate {
			for _, group := range appHelpFlagGroups {
				sort.Sort(cli.FlagsByName(group.Flags))
			}
			originalHelpPrinter(w, tmpl, helpData{data, appHelpFlagGroups})
		} else {
			originalHelpPrinter(w, tmpl, data)
		}
	}
}
