package store

import (
	"context"
	"io"

	"go.uber.org/zap"

	"github.com/eventual-inc/daft-launcher/pkg/clusterspec"
	"github.com/eventual-inc/daft-launcher/pkg/job"
	"github.com/eventual-inc/daft-launcher/pkg/provider"
	"github.com/eventual-inc/daft-launcher/pkg/provider/aws"
	"github.com/eventual-inc/daft-launcher/pkg/remote"
)

// CloudStore adds cloud provider and SSH access on top of the file and HTTP stores.
type CloudStore struct {
	NoAuthHTTPStore
	registry *provider.Registry
	logger   *zap.Logger
}

func (n *NoAuthHTTPStore) WithProviders(reg *provider.Registry) *CloudStore {
	return &CloudStore{*n, reg, zap.NewNop()}
}

// WithDefaultProviders registers every provider the launcher ships with.
func (n *NoAuthHTTPStore) WithDefaultProviders() *CloudStore {
	reg := provider.NewRegistry()
	aws.Register(reg, n.fs, n.config.GetRayBinary())
	return n.WithProviders(reg)
}

func (c *CloudStore) WithLogger(logger *zap.Logger) *CloudStore {
	c.logger = logger
	return c
}

func (c CloudStore) GetLogger() *zap.Logger {
	return c.logger
}

// GetProvider builds a provider client for kind in region. An empty region falls back to the default.
func (c CloudStore) GetProvider(ctx context.Context, kind clusterspec.ProviderKind, region string, output io.Writer) (provider.Provider, error) {
	if region == "" {
		region = c.config.GetDefaultRegion()
	}
	return c.registry.New(ctx, kind, provider.Options{
		Region:  region,
		Profile: c.config.GetAWSProfile(),
		Output:  output,
		Logger:  c.logger,
	})
}

// GetSSHOptions returns connection options bound to the launcher's known_hosts.
func (c CloudStore) GetSSHOptions() (remote.Options, error) {
	knownHosts, err := c.GetKnownHosts()
	if err != nil {
		return remote.Options{}, err
	}
	return remote.Options{
		Fs:         c.fs,
		KnownHosts: knownHosts,
		Logger:     c.logger,
	}, nil
}

// GetConnector returns the SSH connector used by job submission and setup commands.
func (c CloudStore) GetConnector() (job.Connector, error) {
	opts, err := c.GetSSHOptions()
	if err != nil {
		return nil, err
	}
	return job.SSHConnector{Options: opts}, nil
}
