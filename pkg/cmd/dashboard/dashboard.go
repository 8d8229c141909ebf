// Package dashboard forwards the Ray dashboard of a cluster's head node to localhost.
package dashboard

import (
	"context"
	"fmt"
	"strconv"

	"github.com/pkg/browser"
	"github.com/spf13/cobra"

	"github.com/eventual-inc/daft-launcher/pkg/cmd/cmderrors"
	"github.com/eventual-inc/daft-launcher/pkg/cmd/util"
	dafterrors "github.com/eventual-inc/daft-launcher/pkg/errors"
	"github.com/eventual-inc/daft-launcher/pkg/remote"
	"github.com/eventual-inc/daft-launcher/pkg/selection"
	"github.com/eventual-inc/daft-launcher/pkg/terminal"
)

const rayDashboardPort = 8265

var dashboardExample = `
  daft dashboard
  daft dashboard -i ~/.ssh/analytics.pem --port 9000 --no-browser
	`

type DashboardStore interface {
	util.ClusterSpecStore
	util.ProviderStore
	util.KeyStore
	GetSSHOptions() (remote.Options, error)
	GetDashboardPort() string
}

type Options struct {
	ConfigPath string
	KeyPath    string
	Port       int
	NoBrowser  bool
	Prompter   selection.Prompter
	// Open is called with the dashboard URL unless NoBrowser is set.
	Open func(url string) error
}

func NewCmdDashboard(t *terminal.Terminal, store DashboardStore) *cobra.Command {
	opts := Options{Prompter: terminal.PromptSelector{}, Open: browser.OpenURL}

	cmd := &cobra.Command{
		Use:                   "dashboard",
		DisableFlagsInUseLine: true,
		Short:                 "Open the Ray dashboard of a cluster",
		Long:                  "Forward the Ray dashboard of the cluster's head node to localhost until interrupted",
		Example:               dashboardExample,
		Args:                  cmderrors.TransformToValidationError(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("port") {
				port, err := strconv.Atoi(store.GetDashboardPort())
				if err == nil {
					opts.Port = port
				}
			}
			err := RunDashboard(cmd.Context(), t, store, opts)
			if err != nil {
				return dafterrors.WrapAndTrace(err)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to the cluster config file (default .daft.toml)")
	cmd.Flags().StringVarP(&opts.KeyPath, "identity-file", "i", "", "private key for the cluster's key pair")
	cmd.Flags().IntVarP(&opts.Port, "port", "p", rayDashboardPort, "local port to serve the dashboard on")
	cmd.Flags().BoolVar(&opts.NoBrowser, "no-browser", false, "print the dashboard URL without opening a browser")
	return cmd
}

func RunDashboard(ctx context.Context, t *terminal.Terminal, store DashboardStore, opts Options) error {
	if opts.Port < 0 || opts.Port > 65535 {
		return dafterrors.NewValidationError(fmt.Sprintf("--port %d is out of range", opts.Port))
	}
	spec, err := util.LoadClusterSpec(t, store, opts.ConfigPath)
	if err != nil {
		return err
	}
	p, err := store.GetProvider(ctx, spec.Provider, spec.Region, t.ErrOut())
	if err != nil {
		return err
	}
	head, err := util.GetHead(ctx, p, spec.Name)
	if err != nil {
		return err
	}
	host := head.PublicIP.OrEmpty()
	key, err := util.ResolvePrivateKey(t, store, util.KeyRequest{
		Explicit:   opts.KeyPath,
		Configured: spec.SSHPrivateKeyPath,
		Host:       host,
		KeyName:    head.KeyName,
	}, opts.Prompter)
	if err != nil {
		return err
	}

	sshOpts, err := store.GetSSHOptions()
	if err != nil {
		return err
	}
	session, err := remote.Connect(ctx, remote.Target{Host: host, User: spec.SSHUser, KeyPath: key}, sshOpts)
	if err != nil {
		return err
	}
	defer session.Close() //nolint:errcheck // best effort

	return session.WithTunnel(ctx, opts.Port, rayDashboardPort, func(ctx context.Context, tunnel *remote.Tunnel) error {
		url := DashboardURL(tunnel.LocalPort())
		t.Vprintf("Ray dashboard for %s is available at %s\n", t.Green(spec.Name), t.Green(url))
		t.Vprintf("%s", t.Yellow("Press Ctrl-C to close the tunnel\n"))
		if !opts.NoBrowser && opts.Open != nil {
			if err := opts.Open(url); err != nil {
				t.Eprint(t.Yellow("could not open a browser: %s", err))
			}
		}
		select {
		case <-ctx.Done():
		case <-tunnel.Done():
		}
		return nil
	})
}

func DashboardURL(port int) string {
	return fmt.Sprintf("http://localhost:%d", port)
}
