// Package initconfig writes a starter cluster config.
package initconfig

import (
	"github.com/spf13/cobra"

	"github.com/eventual-inc/daft-launcher/pkg/cmd/cmderrors"
	"github.com/eventual-inc/daft-launcher/pkg/cmd/util"
	dafterrors "github.com/eventual-inc/daft-launcher/pkg/errors"
	"github.com/eventual-inc/daft-launcher/pkg/terminal"
)

const defaultClusterName = "daft-cluster"

type InitConfigStore interface {
	WriteClusterTemplate(path string, name string) error
}

// NamePrompt asks for the cluster name when --interactive is set.
type NamePrompt func(defaultName string) (string, error)

func promptForName(defaultName string) (string, error) {
	return terminal.PromptGetInput(terminal.PromptContent{
		Label:    "Cluster name:",
		ErrorMsg: "a cluster name is required",
		Default:  defaultName,
	})
}

func NewCmdInitConfig(t *terminal.Terminal, store InitConfigStore) *cobra.Command {
	var name string
	var interactive bool

	cmd := &cobra.Command{
		Use:                   "init-config [path]",
		DisableFlagsInUseLine: true,
		Short:                 "Write a starter cluster config",
		Long:                  "Write a starter cluster config to path (default .daft.toml). An existing file is never overwritten",
		Example:               "  daft init-config\n  daft init-config clusters/analytics.toml --name analytics",
		Args:                  cmderrors.TransformToValidationError(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) > 0 {
				path = args[0]
			}
			var prompt NamePrompt
			if interactive {
				prompt = promptForName
			}
			err := RunInitConfig(t, store, path, name, prompt)
			if err != nil {
				return dafterrors.WrapAndTrace(err)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "cluster name to put in the config")
	cmd.Flags().BoolVarP(&interactive, "interactive", "I", false, "prompt for the cluster name")
	return cmd
}

func RunInitConfig(t *terminal.Terminal, store InitConfigStore, path string, name string, prompt NamePrompt) error {
	path = util.ConfigPath(path)
	if name == "" {
		name = defaultClusterName
		if prompt != nil {
			answer, err := prompt(name)
			if err != nil {
				return dafterrors.WrapAndTrace(err)
			}
			name = answer
		}
	}
	if err := store.WriteClusterTemplate(path, name); err != nil {
		return err
	}
	t.Vprintf("Wrote %s. Edit it, then run %s\n", t.Green(path), t.Yellow("daft up -c %s", path))
	return nil
}
