package util

import (
	"context"
	"io"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/eventual-inc/daft-launcher/pkg/clusterspec"
	"github.com/eventual-inc/daft-launcher/pkg/job"
	"github.com/eventual-inc/daft-launcher/pkg/selection"
	"github.com/eventual-inc/daft-launcher/pkg/terminal"
)

type JobStore interface {
	ClusterSpecStore
	ProviderStore
	KeyStore
	GetConnector() (job.Connector, error)
	GetLogger() *zap.Logger
}

// SubmitJob runs spec on the cluster described by cs. The key pair is resolved against
// the running head; with no running head the submitter reports NoHead before any transfer.
func SubmitJob(ctx context.Context, t *terminal.Terminal, store JobStore, cs clusterspec.ClusterSpec, explicitKey string, spec job.Spec, prompter selection.Prompter) (job.Result, error) {
	p, err := store.GetProvider(ctx, cs.Provider, cs.Region, t.ErrOut())
	if err != nil {
		return job.Result{}, err
	}

	req := KeyRequest{Explicit: explicitKey, Configured: cs.SSHPrivateKeyPath}
	keyPath := lo.Ternary(req.Explicit != "", req.Explicit, req.Configured)
	if head, headErr := GetHead(ctx, p, cs.Name); headErr == nil {
		req.Host = head.PublicIP.OrEmpty()
		req.KeyName = head.KeyName
		keyPath, err = ResolvePrivateKey(t, store, req, prompter)
		if err != nil {
			return job.Result{}, err
		}
	}

	connector, err := store.GetConnector()
	if err != nil {
		return job.Result{}, err
	}

	spec.Cluster = cs.Name
	spec.User = cs.SSHUser
	spec.KeyPath = keyPath
	submitter := job.Submitter{
		Provider:  p,
		Connector: connector,
		Stdout:    t.Out(),
		Stderr:    t.ErrOut(),
		Progress: func(size int64) io.Writer {
			return t.NewBytesBar(size, "uploading")
		},
		Logger: store.GetLogger(),
	}
	result, err := submitter.Submit(ctx, spec)
	if err != nil {
		return result, err
	}
	t.Vprintf("%s job %s finished on %s\n", t.Green("✓"), result.JobID, result.Host)
	return result, nil
}
