// Package up launches a cluster from its config file.
package up

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alessio/shellescape"
	"github.com/spf13/cobra"

	"github.com/eventual-inc/daft-launcher/pkg/autoscaler"
	"github.com/eventual-inc/daft-launcher/pkg/clusterspec"
	"github.com/eventual-inc/daft-launcher/pkg/cmd/cmderrors"
	"github.com/eventual-inc/daft-launcher/pkg/cmd/util"
	dafterrors "github.com/eventual-inc/daft-launcher/pkg/errors"
	"github.com/eventual-inc/daft-launcher/pkg/job"
	"github.com/eventual-inc/daft-launcher/pkg/provider"
	"github.com/eventual-inc/daft-launcher/pkg/remote"
	"github.com/eventual-inc/daft-launcher/pkg/retry"
	"github.com/eventual-inc/daft-launcher/pkg/terminal"
)

var (
	upLong    = "Spin up the cluster described by a config file and run its setup commands on the head node"
	upExample = `
  daft up
  daft up -c clusters/analytics.toml -i ~/.ssh/analytics.pem
	`
)

type UpStore interface {
	util.ClusterSpecStore
	util.ProviderStore
	util.KeyStore
	GetConnector() (job.Connector, error)
}

// Options tune the launch wait. A zero PollInterval uses the default.
type Options struct {
	PollInterval time.Duration
	// Timeout bounds the wait for the head node; zero waits until interrupted.
	Timeout time.Duration
	Sleep   retry.SleepFunc
}

func NewCmdUp(t *terminal.Terminal, store UpStore) *cobra.Command {
	var configPath string
	var keyPath string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:                   "up",
		DisableFlagsInUseLine: true,
		Short:                 "Spin up a cluster",
		Long:                  upLong,
		Example:               upExample,
		Args:                  cmderrors.TransformToValidationError(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := RunUp(cmd.Context(), t, store, configPath, keyPath, Options{Timeout: timeout})
			if err != nil {
				return dafterrors.WrapAndTrace(err)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the cluster config file (default .daft.toml)")
	cmd.Flags().StringVarP(&keyPath, "identity-file", "i", "", "private key for the cluster's key pair")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "give up waiting for the head node after this long (default: wait until interrupted)")
	return cmd
}

func RunUp(ctx context.Context, t *terminal.Terminal, store UpStore, configPath string, keyPath string, opts Options) error {
	if opts.PollInterval == 0 {
		opts.PollInterval = 5 * time.Second
	}

	spec, err := util.LoadClusterSpec(t, store, configPath)
	if err != nil {
		return err
	}
	key, err := util.ResolvePrivateKey(t, store, util.KeyRequest{Explicit: keyPath, Configured: spec.SSHPrivateKeyPath}, terminal.PromptSelector{})
	if err != nil {
		return err
	}
	spec, err = spec.WithOverrides(clusterspec.Overrides{SSHPrivateKey: key})
	if err != nil {
		return err
	}

	p, err := store.GetProvider(ctx, spec.Provider, spec.Region, t.Out())
	if err != nil {
		return err
	}

	t.Vprintf("Launching %s: 1 head and %d workers in %s\n", t.Green(spec.Name), spec.WorkerCount, spec.Region)
	var handle provider.LaunchHandle
	runner := retry.Runner{
		Policy:    retry.ProviderPolicy,
		Retryable: provider.IsTransient,
		Sleep:     opts.Sleep,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			t.Eprint(t.Yellow("launch attempt %d failed (%s); retrying in %s", attempt, dafterrors.Root(err), wait))
		},
	}
	err = runner.Do(ctx, func(ctx context.Context, _ int) error {
		var launchErr error
		handle, launchErr = p.Launch(ctx, spec)
		return launchErr
	})
	if err != nil {
		return err
	}

	head, err := util.PollUntilHeadRunning(ctx, t.NewSpinner(), p, spec.Name, opts.PollInterval, opts.Timeout)
	if err != nil {
		return err
	}
	ip := head.PublicIP.OrEmpty()

	if handle.AlreadyRunning {
		t.Vprintf("Cluster %s is already running; nothing was launched\n", t.Green(spec.Name))
	} else if len(spec.SetupCommands) > 0 {
		err = runSetupCommands(ctx, t, store, spec, ip)
		if err != nil {
			return err
		}
	}

	t.Vprintf("\nCluster %s is up. Head node: %s\n", t.Green(spec.Name), t.Green(ip))
	t.Vprintf("%s", t.Yellow("Open the dashboard with `daft dashboard` or submit work with `daft submit -- <command>`\n"))
	return nil
}

func runSetupCommands(ctx context.Context, t *terminal.Terminal, store UpStore, spec clusterspec.ClusterSpec, host string) error {
	connector, err := store.GetConnector()
	if err != nil {
		return err
	}
	session, err := connector.Connect(ctx, remote.Target{Host: host, User: spec.SSHUser, KeyPath: spec.SSHPrivateKeyPath})
	if err != nil {
		return err
	}
	defer session.Close() //nolint:errcheck // best effort

	for _, command := range spec.SetupCommands {
		t.Vprintf("%s %s\n", t.Blue("$"), command)
		code, err := session.Run(ctx, SetupCommand(command), t.Out(), t.ErrOut())
		if err != nil {
			return dafterrors.WrapAndTrace(err, "running setup command")
		}
		if code != 0 {
			return dafterrors.NewValidationError(fmt.Sprintf("setup command %q exited with status %d on %s", command, code, host))
		}
	}
	return nil
}

// SetupCommand wraps a [run] setup command in a login shell with the cluster venv active.
func SetupCommand(command string) string {
	script := strings.Join([]string{"source " + autoscaler.VenvActivate, command}, " && ")
	return "bash -lc " + shellescape.Quote(script)
}
