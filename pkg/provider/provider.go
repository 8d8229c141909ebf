// Package provider is the cloud capability boundary: launching, terminating and
// describing the instances that make up a cluster.
package provider

import (
	"context"
	"fmt"
	"io"

	"github.com/samber/mo"
	"go.uber.org/zap"

	"github.com/eventual-inc/daft-launcher/pkg/clusterspec"
	dafterrors "github.com/eventual-inc/daft-launcher/pkg/errors"
	"github.com/eventual-inc/daft-launcher/pkg/retry"
)

type Role int

const (
	Head Role = iota
	Worker
)

func (r Role) String() string {
	if r == Head {
		return "head"
	}
	return "worker"
}

type LifecycleState int

const (
	Pending LifecycleState = iota
	Running
	ShuttingDown
	Terminated
)

func (s LifecycleState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case ShuttingDown:
		return "shutting-down"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Instance is one node as reported by the cloud.
type Instance struct {
	ClusterName string
	Provider    clusterspec.ProviderKind
	Region      string
	Role        Role
	InstanceID  string
	PublicIP    mo.Option[string]
	State       LifecycleState
	KeyName     string
}

type LaunchHandle struct {
	ClusterName string
	// ConfigPath is the generated autoscaler config; it is removed once Launch returns.
	ConfigPath string
	Head       int
	Workers    int
	// AlreadyRunning is set when a running head was found and nothing was launched.
	AlreadyRunning bool
}

// Requested is the total number of instances asked of the cloud.
func (h LaunchHandle) Requested() int {
	return h.Head + h.Workers
}

type TerminateResult struct {
	// Requested holds the instance ids a terminate request was issued for.
	Requested []string
}

type Provider interface {
	Launch(ctx context.Context, spec clusterspec.ClusterSpec) (LaunchHandle, error)
	Terminate(ctx context.Context, clusterName string) (TerminateResult, error)
	// Describe lists every launcher-managed instance, or only those of one cluster.
	Describe(ctx context.Context, clusterName mo.Option[string]) ([]Instance, error)
}

// Options are handed to a Factory.
type Options struct {
	Region  string
	Profile string
	// Output receives streamed autoscaler output.
	Output io.Writer
	Logger *zap.Logger
}

type Factory func(ctx context.Context, opts Options) (Provider, error)

// Registry maps provider kinds to constructors.
type Registry struct {
	factories map[clusterspec.ProviderKind]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: map[clusterspec.ProviderKind]Factory{}}
}

func (r *Registry) Register(kind clusterspec.ProviderKind, f Factory) {
	r.factories[kind] = f
}

func (r *Registry) New(ctx context.Context, kind clusterspec.ProviderKind, opts Options) (Provider, error) {
	f, ok := r.factories[kind]
	if !ok {
		return nil, dafterrors.NewValidationError(fmt.Sprintf("provider %q is not supported", kind))
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Output == nil {
		opts.Output = io.Discard
	}
	p, err := f(ctx, opts)
	if err != nil {
		return nil, dafterrors.WrapAndTrace(err)
	}
	return p, nil
}

// Describer is the read side of a Provider.
type Describer interface {
	Describe(ctx context.Context, clusterName mo.Option[string]) ([]Instance, error)
}

// DescribeWithRetry calls Describe under retry.ProviderPolicy, retrying Transient errors.
// A nil sleep waits in real time.
func DescribeWithRetry(ctx context.Context, d Describer, clusterName mo.Option[string], sleep retry.SleepFunc) ([]Instance, error) {
	var instances []Instance
	err := retry.Runner{Policy: retry.ProviderPolicy, Retryable: IsTransient, Sleep: sleep}.Do(ctx, func(ctx context.Context, _ int) error {
		var err error
		instances, err = d.Describe(ctx, clusterName)
		return err
	})
	if err != nil {
		return nil, err
	}
	return instances, nil
}
