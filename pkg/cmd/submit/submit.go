// Package submit ships a working directory to a cluster's head node and runs a command in it.
package submit

import (
	"context"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/eventual-inc/daft-launcher/pkg/cmd/cmderrors"
	"github.com/eventual-inc/daft-launcher/pkg/cmd/util"
	dafterrors "github.com/eventual-inc/daft-launcher/pkg/errors"
	"github.com/eventual-inc/daft-launcher/pkg/job"
	"github.com/eventual-inc/daft-launcher/pkg/selection"
	"github.com/eventual-inc/daft-launcher/pkg/terminal"
)

var (
	submitLong = `Package a working directory, copy it to the cluster's head node and run a command
inside the cluster's python environment. The command's exit code becomes daft's exit code.`
	submitExample = `
  daft submit -- python main.py
  daft submit -c clusters/analytics.toml -i ~/.ssh/analytics.pem -w ./jobs -- python etl.py --date 2024-01-01
  daft submit --exclude .git --exclude __pycache__ -- python main.py
	`
)

type SubmitStore interface {
	util.JobStore
	GetFs() afero.Fs
}

type Options struct {
	ConfigPath string
	KeyPath    string
	WorkingDir string
	Exclude    []string
	Prompter   selection.Prompter
}

func NewCmdSubmit(t *terminal.Terminal, store SubmitStore) *cobra.Command {
	opts := Options{Prompter: terminal.PromptSelector{}}

	cmd := &cobra.Command{
		Use:                   "submit [flags] -- <command...>",
		DisableFlagsInUseLine: true,
		Short:                 "Submit a job to a cluster",
		Long:                  submitLong,
		Example:               submitExample,
		Args:                  cmderrors.TransformToValidationError(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := RunSubmit(cmd.Context(), t, store, opts, args)
			if err != nil {
				return dafterrors.WrapAndTrace(err)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to the cluster config file (default .daft.toml)")
	cmd.Flags().StringVarP(&opts.KeyPath, "identity-file", "i", "", "private key for the cluster's key pair")
	cmd.Flags().StringVarP(&opts.WorkingDir, "working-dir", "w", ".", "directory to package and run the command in")
	cmd.Flags().StringSliceVar(&opts.Exclude, "exclude", nil, "file or directory name pattern to leave out of the upload (repeatable)")
	return cmd
}

func RunSubmit(ctx context.Context, t *terminal.Terminal, store SubmitStore, opts Options, command []string) (job.Result, error) {
	spec, err := util.LoadClusterSpec(t, store, opts.ConfigPath)
	if err != nil {
		return job.Result{}, err
	}
	dir := opts.WorkingDir
	if dir == "" {
		dir = "."
	}
	return util.SubmitJob(ctx, t, store, spec, opts.KeyPath, job.Spec{
		Name:    filepath.Base(filepath.Clean(dir)),
		Command: command,
		Fs:      store.GetFs(),
		Dir:     dir,
		Exclude: opts.Exclude,
	}, opts.Prompter)
}
