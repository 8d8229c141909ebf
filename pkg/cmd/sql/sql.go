// Package sql runs a Daft SQL query on a cluster.
package sql

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/eventual-inc/daft-launcher/pkg/cmd/cmderrors"
	"github.com/eventual-inc/daft-launcher/pkg/cmd/util"
	dafterrors "github.com/eventual-inc/daft-launcher/pkg/errors"
	"github.com/eventual-inc/daft-launcher/pkg/job"
	"github.com/eventual-inc/daft-launcher/pkg/selection"
	"github.com/eventual-inc/daft-launcher/pkg/terminal"
)

var sqlExample = `
  daft sql -- "SELECT * FROM read_parquet('s3://bucket/*.parquet') LIMIT 10"
	`

func NewCmdSQL(t *terminal.Terminal, store util.JobStore) *cobra.Command {
	var configPath string
	var keyPath string

	cmd := &cobra.Command{
		Use:                   "sql [flags] -- <query>",
		DisableFlagsInUseLine: true,
		Short:                 "Run a SQL query on a cluster",
		Long:                  "Run a Daft SQL query on the cluster's head node and print the result",
		Example:               sqlExample,
		Args:                  cmderrors.TransformToValidationError(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := RunSQL(cmd.Context(), t, store, configPath, keyPath, strings.Join(args, " "), terminal.PromptSelector{})
			if err != nil {
				return dafterrors.WrapAndTrace(err)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the cluster config file (default .daft.toml)")
	cmd.Flags().StringVarP(&keyPath, "identity-file", "i", "", "private key for the cluster's key pair")
	return cmd
}

func RunSQL(ctx context.Context, t *terminal.Terminal, store util.JobStore, configPath string, keyPath string, query string, prompter selection.Prompter) (job.Result, error) {
	spec, err := util.LoadClusterSpec(t, store, configPath)
	if err != nil {
		return job.Result{}, err
	}
	jobSpec, err := job.SQLJob(query, spec.Name, spec.SSHUser, keyPath)
	if err != nil {
		return job.Result{}, err
	}
	return util.SubmitJob(ctx, t, store, spec, keyPath, jobSpec, prompter)
}
