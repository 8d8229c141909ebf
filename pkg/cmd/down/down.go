// Package down terminates a cluster's instances.
package down

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"
	"github.com/samber/mo"
	"github.com/spf13/cobra"

	"github.com/eventual-inc/daft-launcher/pkg/clusterspec"
	"github.com/eventual-inc/daft-launcher/pkg/cmd/cmderrors"
	"github.com/eventual-inc/daft-launcher/pkg/cmd/util"
	dafterrors "github.com/eventual-inc/daft-launcher/pkg/errors"
	"github.com/eventual-inc/daft-launcher/pkg/provider"
	"github.com/eventual-inc/daft-launcher/pkg/retry"
	"github.com/eventual-inc/daft-launcher/pkg/selection"
	"github.com/eventual-inc/daft-launcher/pkg/terminal"
)

var (
	downLong    = "Terminate every instance of a cluster. Without a config file, pick the cluster by name or interactively"
	downExample = `
  daft down
  daft down -c clusters/analytics.toml
  daft down --cluster analytics --region eu-west-1
	`
)

type DownStore interface {
	util.ClusterSpecStore
	util.ProviderStore
	FileExists(path string) (bool, error)
	GetDefaultRegion() string
	ForgetHosts(hosts ...string) error
}

type Options struct {
	ConfigPath string
	Cluster    string
	Region     string
	Prompter   selection.Prompter
	Sleep      retry.SleepFunc
}

func NewCmdDown(t *terminal.Terminal, store DownStore) *cobra.Command {
	opts := Options{Prompter: terminal.PromptSelector{}}

	cmd := &cobra.Command{
		Use:                   "down",
		DisableFlagsInUseLine: true,
		Short:                 "Spin down a cluster",
		Long:                  downLong,
		Example:               downExample,
		Args:                  cmderrors.TransformToValidationError(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := RunDown(cmd.Context(), t, store, opts)
			if err != nil {
				return dafterrors.WrapAndTrace(err)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to the cluster config file (default .daft.toml)")
	cmd.Flags().StringVar(&opts.Cluster, "cluster", "", "name of the cluster to terminate, instead of a config file")
	cmd.Flags().StringVarP(&opts.Region, "region", "r", "", "region to look for the cluster in, with --cluster")
	return cmd
}

func RunDown(ctx context.Context, t *terminal.Terminal, store DownStore, opts Options) error {
	target, err := resolveTarget(ctx, t, store, opts)
	if err != nil {
		return err
	}

	p, err := store.GetProvider(ctx, target.Provider, target.Region, t.Out())
	if err != nil {
		return err
	}
	instances, err := p.Describe(ctx, mo.Some(target.Name))
	if err != nil {
		return err
	}
	heads := lo.FilterMap(instances, func(i provider.Instance, _ int) (string, bool) {
		ip, ok := i.PublicIP.Get()
		return ip, ok && i.Role == provider.Head
	})

	var result provider.TerminateResult
	runner := retry.Runner{
		Policy:    retry.ProviderPolicy,
		Retryable: provider.IsTransient,
		Sleep:     opts.Sleep,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			t.Eprint(t.Yellow("terminate attempt %d failed (%s); retrying in %s", attempt, dafterrors.Root(err), wait))
		},
	}
	err = runner.Do(ctx, func(ctx context.Context, _ int) error {
		var termErr error
		result, termErr = p.Terminate(ctx, target.Name)
		return termErr
	})
	if err != nil {
		return err
	}

	if err := store.ForgetHosts(heads...); err != nil {
		t.Eprint(t.Yellow("could not update known_hosts: %s", err))
	}

	if len(result.Requested) == 0 {
		t.Vprintf("Cluster %s has no running instances\n", t.Green(target.Name))
		return nil
	}
	t.Vprintf("Terminating %d instances of %s. Run `daft list` to follow along\n", len(result.Requested), t.Green(target.Name))
	return nil
}

// resolveTarget prefers --cluster, then the config file, then a running cluster picked from the region.
func resolveTarget(ctx context.Context, t *terminal.Terminal, store DownStore, opts Options) (clusterspec.ClusterSpec, error) {
	region := lo.Ternary(opts.Region != "", opts.Region, store.GetDefaultRegion())
	byName := clusterspec.ClusterSpec{Name: opts.Cluster, Provider: clusterspec.ProviderAWS, Region: region}
	if opts.Cluster != "" {
		return byName, nil
	}

	if opts.ConfigPath == "" {
		exists, err := store.FileExists(util.ConfigPath(""))
		if err != nil {
			return clusterspec.ClusterSpec{}, err
		}
		if !exists {
			return pickRunning(ctx, t, store, byName, opts.Prompter)
		}
	}
	return util.LoadClusterSpec(t, store, opts.ConfigPath)
}

func pickRunning(ctx context.Context, t *terminal.Terminal, store DownStore, target clusterspec.ClusterSpec, prompter selection.Prompter) (clusterspec.ClusterSpec, error) {
	p, err := store.GetProvider(ctx, target.Provider, target.Region, t.Out())
	if err != nil {
		return clusterspec.ClusterSpec{}, err
	}
	names, err := util.RunningClusterNames(ctx, p)
	if err != nil {
		return clusterspec.ClusterSpec{}, err
	}
	idx, err := selection.Resolve(names, selection.Criteria{}, "Select a cluster to terminate", prompter, util.CanPrompt(t))
	switch {
	case dafterrors.Is(err, selection.ErrNoMatch):
		return clusterspec.ClusterSpec{}, dafterrors.NewValidationError(fmt.Sprintf("no config file and no running clusters in %s", target.Region))
	case dafterrors.Is(err, selection.ErrAmbiguous):
		return clusterspec.ClusterSpec{}, dafterrors.NewValidationError(fmt.Sprintf("%d clusters are running in %s; pass --cluster or -c", len(names), target.Region))
	case err != nil:
		return clusterspec.ClusterSpec{}, err
	}
	target.Name = names[idx]
	return target, nil
}
