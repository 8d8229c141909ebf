// Package util holds the pieces shared by the cluster commands: config loading,
// provider lookup and head-node resolution.
package util

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/briandowns/spinner"
	"github.com/samber/lo"
	"github.com/samber/mo"

	"github.com/eventual-inc/daft-launcher/pkg/clusterspec"
	dafterrors "github.com/eventual-inc/daft-launcher/pkg/errors"
	"github.com/eventual-inc/daft-launcher/pkg/files"
	"github.com/eventual-inc/daft-launcher/pkg/provider"
	"github.com/eventual-inc/daft-launcher/pkg/reconciler"
	"github.com/eventual-inc/daft-launcher/pkg/terminal"
)

type ClusterSpecStore interface {
	LoadClusterSpec(path string) (*clusterspec.Loaded, error)
}

type ProviderStore interface {
	GetProvider(ctx context.Context, kind clusterspec.ProviderKind, region string, output io.Writer) (provider.Provider, error)
}

// ConfigPath returns path, or the default config file when path is empty.
func ConfigPath(path string) string {
	if path == "" {
		return files.DefaultClusterConfigFile
	}
	return path
}

// LoadClusterSpec loads the config at path and prints any warnings.
func LoadClusterSpec(t *terminal.Terminal, store ClusterSpecStore, path string) (clusterspec.ClusterSpec, error) {
	loaded, err := store.LoadClusterSpec(ConfigPath(path))
	if err != nil {
		return clusterspec.ClusterSpec{}, err
	}
	for _, w := range loaded.Warnings {
		t.Eprint(t.Yellow("warning: %s", w))
	}
	return loaded.Spec, nil
}

// GetHead returns the running head of the named cluster.
func GetHead(ctx context.Context, p provider.Provider, name string) (provider.Instance, error) {
	instances, err := provider.DescribeWithRetry(ctx, p, mo.Some(name), nil)
	if err != nil {
		return provider.Instance{}, err
	}
	view, ok := reconciler.Find(reconciler.Reconcile(instances), name)
	if !ok {
		return provider.Instance{}, dafterrors.NewValidationError(fmt.Sprintf("cluster %s was not found; run daft up first", name))
	}
	head, ok := reconciler.RunningHead(view)
	if !ok {
		return provider.Instance{}, dafterrors.NewValidationError(fmt.Sprintf("cluster %s has no running head node (state: %s)", name, view.State))
	}
	return head, nil
}

// RunningClusterNames lists the clusters with a running head.
func RunningClusterNames(ctx context.Context, p provider.Provider) ([]string, error) {
	instances, err := p.Describe(ctx, mo.None[string]())
	if err != nil {
		return nil, err
	}
	views := reconciler.Filter{RunningOnly: true}.Apply(reconciler.Reconcile(instances))
	return lo.Map(views, func(v reconciler.ClusterView, _ int) string { return v.Name }), nil
}

// PollUntilHeadRunning waits until the cluster's head is running with a public address.
// A timeout <= 0 waits until ctx is done.
func PollUntilHeadRunning(ctx context.Context, s *spinner.Spinner, p provider.Provider, name string, interval time.Duration, timeout time.Duration) (provider.Instance, error) {
	s.Suffix = fmt.Sprintf(" waiting for the head node of %s", name)
	s.Start()
	defer s.Stop()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	for {
		head, err := GetHead(ctx, p, name)
		if err == nil {
			return head, nil
		}
		var validation dafterrors.ValidationError
		if !dafterrors.As(err, &validation) {
			return provider.Instance{}, err
		}
		select {
		case <-ctx.Done():
			if dafterrors.Is(ctx.Err(), context.Canceled) {
				return provider.Instance{}, dafterrors.WrapAndTrace(ctx.Err())
			}
			return provider.Instance{}, dafterrors.WrapAndTrace(fmt.Errorf("timed out waiting for the head node of %s after %v", name, timeout))
		case <-time.After(interval):
		}
	}
}
