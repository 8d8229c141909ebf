// Package export writes the Ray autoscaler config a cluster would be launched with.
package export

import (
	"github.com/spf13/cobra"

	"github.com/eventual-inc/daft-launcher/pkg/autoscaler"
	"github.com/eventual-inc/daft-launcher/pkg/cmd/cmderrors"
	"github.com/eventual-inc/daft-launcher/pkg/cmd/util"
	dafterrors "github.com/eventual-inc/daft-launcher/pkg/errors"
	"github.com/eventual-inc/daft-launcher/pkg/terminal"
)

type ExportStore interface {
	util.ClusterSpecStore
	WriteFile(path string, data []byte) error
}

func NewCmdExport(t *terminal.Terminal, store ExportStore) *cobra.Command {
	var configPath string
	var output string

	cmd := &cobra.Command{
		Use:                   "export",
		DisableFlagsInUseLine: true,
		Short:                 "Export the Ray autoscaler config for a cluster",
		Long:                  "Print or write the Ray autoscaler YAML generated from a cluster config, for use with `ray up` directly",
		Example:               "  daft export -o ray.yaml",
		Args:                  cmderrors.TransformToValidationError(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := RunExport(t, store, configPath, output)
			if err != nil {
				return dafterrors.WrapAndTrace(err)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the cluster config file (default .daft.toml)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "file to write; stdout when empty")
	return cmd
}

func RunExport(t *terminal.Terminal, store ExportStore, configPath string, output string) error {
	spec, err := util.LoadClusterSpec(t, store, configPath)
	if err != nil {
		return err
	}
	data, err := autoscaler.Generate(spec).Marshal()
	if err != nil {
		return err
	}
	if output == "" {
		t.Vprintf("%s", data)
		return nil
	}
	if err := store.WriteFile(output, data); err != nil {
		return err
	}
	t.Eprint(t.Green("wrote %s", output))
	return nil
}
