// Package providertest is an in-memory provider for command tests.
package providertest

import (
	"context"
	"fmt"
	"sync"

	"github.com/samber/lo"
	"github.com/samber/mo"

	"github.com/eventual-inc/daft-launcher/pkg/clusterspec"
	"github.com/eventual-inc/daft-launcher/pkg/provider"
)

// Fake launches instances straight into Running with sequential addresses.
type Fake struct {
	Region string

	mu        sync.Mutex
	instances []provider.Instance
	// LaunchErrs are returned, in order, by the next Launch calls.
	LaunchErrs []error
	// DescribeErrs are returned, in order, by the next Describe calls before DescribeErr.
	DescribeErrs []error
	DescribeErr  error
	Describes    int
	Launched     []clusterspec.ClusterSpec
	Terminated   []string
	nextID       int
}

var _ provider.Provider = (*Fake)(nil)

// Seed adds instances as if they were already running in the account.
func (f *Fake) Seed(instances ...provider.Instance) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.instances = append(f.instances, instances...)
}

func (f *Fake) Launch(_ context.Context, spec clusterspec.ClusterSpec) (provider.LaunchHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.LaunchErrs) > 0 {
		err := f.LaunchErrs[0]
		f.LaunchErrs = f.LaunchErrs[1:]
		return provider.LaunchHandle{}, err
	}
	f.Launched = append(f.Launched, spec)

	if lo.ContainsBy(f.instances, func(i provider.Instance) bool {
		return i.ClusterName == spec.Name && i.Role == provider.Head && i.State == provider.Running
	}) {
		return provider.LaunchHandle{ClusterName: spec.Name, AlreadyRunning: true}, nil
	}
	for n := 0; n < spec.RequestedInstances(); n++ {
		role := provider.Worker
		if n == 0 {
			role = provider.Head
		}
		f.nextID++
		f.instances = append(f.instances, provider.Instance{
			ClusterName: spec.Name,
			Provider:    spec.Provider,
			Region:      spec.Region,
			Role:        role,
			InstanceID:  fmt.Sprintf("i-%04d", f.nextID),
			PublicIP:    mo.Some(fmt.Sprintf("203.0.113.%d", f.nextID)),
			State:       provider.Running,
			KeyName:     spec.KeyName(),
		})
	}
	return provider.LaunchHandle{ClusterName: spec.Name, Head: 1, Workers: spec.WorkerCount}, nil
}

func (f *Fake) Terminate(_ context.Context, clusterName string) (provider.TerminateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	result := provider.TerminateResult{Requested: []string{}}
	for i := range f.instances {
		inst := &f.instances[i]
		if inst.ClusterName != clusterName || inst.State == provider.ShuttingDown || inst.State == provider.Terminated {
			continue
		}
		inst.State = provider.ShuttingDown
		result.Requested = append(result.Requested, inst.InstanceID)
	}
	f.Terminated = append(f.Terminated, result.Requested...)
	return result, nil
}

func (f *Fake) Describe(_ context.Context, clusterName mo.Option[string]) ([]provider.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Describes++
	if len(f.DescribeErrs) > 0 {
		err := f.DescribeErrs[0]
		f.DescribeErrs = f.DescribeErrs[1:]
		return nil, err
	}
	if f.DescribeErr != nil {
		return nil, f.DescribeErr
	}
	name, filtered := clusterName.Get()
	return lo.Filter(f.instances, func(i provider.Instance, _ int) bool {
		return !filtered || i.ClusterName == name
	}), nil
}
