// Package cmd is the entrypoint to cli
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/eventual-inc/daft-launcher/pkg/cmd/dashboard"
	"github.com/eventual-inc/daft-launcher/pkg/cmd/down"
	"github.com/eventual-inc/daft-launcher/pkg/cmd/export"
	"github.com/eventual-inc/daft-launcher/pkg/cmd/initconfig"
	"github.com/eventual-inc/daft-launcher/pkg/cmd/ls"
	"github.com/eventual-inc/daft-launcher/pkg/cmd/sql"
	"github.com/eventual-inc/daft-launcher/pkg/cmd/submit"
	"github.com/eventual-inc/daft-launcher/pkg/cmd/up"
	"github.com/eventual-inc/daft-launcher/pkg/cmd/version"
	"github.com/eventual-inc/daft-launcher/pkg/config"
	"github.com/eventual-inc/daft-launcher/pkg/featureflag"
	"github.com/eventual-inc/daft-launcher/pkg/files"
	"github.com/eventual-inc/daft-launcher/pkg/logging"
	"github.com/eventual-inc/daft-launcher/pkg/store"
	"github.com/eventual-inc/daft-launcher/pkg/terminal"
)

var (
	verbose bool
	debug   bool
)

func NewDaftCommand() *cobra.Command {
	t := terminal.New()

	daftHome, err := files.GetDaftHomePath()
	if err == nil {
		_ = featureflag.LoadFeatureFlags(daftHome)
	}

	cloudStore := store.
		NewBasicStore(*config.GlobalConfig).
		WithFileSystem(files.AppFs).
		WithNoAuthHTTPClient(store.NewNoAuthHTTPClient("")).
		WithDefaultProviders()

	cmds := &cobra.Command{
		Use:           "daft",
		Short:         "Launch Ray clusters for Daft and run jobs on them",
		SilenceErrors: true,
		SilenceUsage:  true,
		Long: `
      daft launches Ray clusters in your cloud account, lists them,
      and submits work to them over SSH.

      Find more information at:
            https://github.com/Eventual-Inc/daft-launcher`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if debug {
				featureflag.SetDebug(true)
			}
			cloudStore.WithLogger(logging.New(t.ErrOut(), verbose))
		},
		Run: runHelp,
	}
	cmds.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log provider and ssh activity")
	cmds.PersistentFlags().BoolVar(&debug, "debug", false, "print full error traces")

	cmds.AddCommand(initconfig.NewCmdInitConfig(t, cloudStore))
	cmds.AddCommand(up.NewCmdUp(t, cloudStore))
	cmds.AddCommand(down.NewCmdDown(t, cloudStore))
	cmds.AddCommand(ls.NewCmdList(t, cloudStore))
	cmds.AddCommand(submit.NewCmdSubmit(t, cloudStore))
	cmds.AddCommand(dashboard.NewCmdDashboard(t, cloudStore))
	cmds.AddCommand(sql.NewCmdSQL(t, cloudStore))
	cmds.AddCommand(export.NewCmdExport(t, cloudStore))
	cmds.AddCommand(version.NewCmdVersion(t, cloudStore))

	return cmds
}

func runHelp(cmd *cobra.Command, _ []string) {
	_ = cmd.Help()
}
