package down

import (
	"context"
	"io"
	"testing"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/eventual-inc/daft-launcher/pkg/clusterspec"
	dafterrors "github.com/eventual-inc/daft-launcher/pkg/errors"
	"github.com/eventual-inc/daft-launcher/pkg/provider"
	"github.com/eventual-inc/daft-launcher/pkg/provider/providertest"
	"github.com/eventual-inc/daft-launcher/pkg/reconciler"
	"github.com/eventual-inc/daft-launcher/pkg/terminal"
)

type MockDownStore struct {
	mock.Mock
	provider *providertest.Fake
}

func (m *MockDownStore) LoadClusterSpec(path string) (*clusterspec.Loaded, error) {
	args := m.Called(path)
	return args.Get(0).(*clusterspec.Loaded), args.Error(1)
}

func (m *MockDownStore) GetProvider(_ context.Context, kind clusterspec.ProviderKind, region string, _ io.Writer) (provider.Provider, error) {
	m.Called(kind, region)
	return m.provider, nil
}

func (m *MockDownStore) FileExists(path string) (bool, error) {
	args := m.Called(path)
	return args.Bool(0), args.Error(1)
}

func (m *MockDownStore) GetDefaultRegion() string {
	return "us-west-2"
}

func (m *MockDownStore) ForgetHosts(hosts ...string) error {
	args := m.Called(hosts)
	return args.Error(0)
}

type MockPrompter struct {
	mock.Mock
}

func (m *MockPrompter) Select(label string, items []string) (int, error) {
	args := m.Called(label, items)
	return args.Int(0), args.Error(1)
}

func cluster(name string, workers int, firstIP int) []provider.Instance {
	out := []provider.Instance{{
		ClusterName: name, Provider: clusterspec.ProviderAWS, Region: "us-west-2",
		Role: provider.Head, InstanceID: name + "-h", State: provider.Running,
		PublicIP: mo.Some("203.0.113." + string(rune('0'+firstIP))),
	}}
	for i := 0; i < workers; i++ {
		out = append(out, provider.Instance{
			ClusterName: name, Provider: clusterspec.ProviderAWS, Region: "us-west-2",
			Role: provider.Worker, InstanceID: name + "-w" + string(rune('0'+i)), State: provider.Running,
			PublicIP: mo.None[string](),
		})
	}
	return out
}

func newStore(instances ...provider.Instance) *MockDownStore {
	fake := &providertest.Fake{}
	fake.Seed(instances...)
	s := &MockDownStore{provider: fake}
	s.On("GetProvider", clusterspec.ProviderAWS, "us-west-2").Return()
	s.On("ForgetHosts", mock.Anything).Return(nil)
	return s
}

func TestRunDownFromConfig(t *testing.T) {
	term, _, verbose, _ := terminal.NewTestTerminal()
	store := newStore(cluster("analytics", 2, 1)...)
	store.On("LoadClusterSpec", "analytics.toml").Return(&clusterspec.Loaded{Spec: clusterspec.ClusterSpec{
		Name: "analytics", Provider: clusterspec.ProviderAWS, Region: "us-west-2",
	}}, nil)

	err := RunDown(context.Background(), term, store, Options{ConfigPath: "analytics.toml"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"analytics-h", "analytics-w0", "analytics-w1"}, store.provider.Terminated)
	store.AssertCalled(t, "ForgetHosts", []string{"203.0.113.1"})
	assert.Contains(t, verbose.String(), "Terminating 3 instances")

	instances, err := store.provider.Describe(context.Background(), mo.None[string]())
	require.NoError(t, err)
	views := reconciler.Reconcile(instances)
	require.Len(t, views, 1)
	assert.Equal(t, reconciler.ShuttingDown, views[0].State)
	for _, inst := range views[0].Instances {
		assert.Equal(t, provider.ShuttingDown, inst.State)
	}
}

func TestRunDownTwiceIsANoop(t *testing.T) {
	term, _, verbose, _ := terminal.NewTestTerminal()
	store := newStore(cluster("analytics", 1, 1)...)

	require.NoError(t, RunDown(context.Background(), term, store, Options{Cluster: "analytics"}))
	require.NoError(t, RunDown(context.Background(), term, store, Options{Cluster: "analytics"}))
	assert.Len(t, store.provider.Terminated, 2)
	assert.Contains(t, verbose.String(), "has no running instances")
}

func TestRunDownPicksOnlyRunningCluster(t *testing.T) {
	term, _, _, _ := terminal.NewTestTerminal()
	store := newStore(cluster("solo", 0, 1)...)
	store.On("FileExists", ".daft.toml").Return(false, nil)

	require.NoError(t, RunDown(context.Background(), term, store, Options{}))
	assert.Equal(t, []string{"solo-h"}, store.provider.Terminated)
}

func TestRunDownAmbiguousWithoutTerminal(t *testing.T) {
	term, _, _, _ := terminal.NewTestTerminal()
	store := newStore(append(cluster("a", 0, 1), cluster("b", 0, 2)...)...)
	store.On("FileExists", ".daft.toml").Return(false, nil)
	prompter := new(MockPrompter)

	err := RunDown(context.Background(), term, store, Options{Prompter: prompter})
	var validation dafterrors.ValidationError
	require.True(t, dafterrors.As(err, &validation))
	assert.Contains(t, err.Error(), "2 clusters are running")
	assert.Empty(t, store.provider.Terminated)
	prompter.AssertNotCalled(t, "Select", mock.Anything, mock.Anything)
}

func TestRunDownNothingRunning(t *testing.T) {
	term, _, _, _ := terminal.NewTestTerminal()
	store := newStore()
	store.On("FileExists", ".daft.toml").Return(false, nil)

	err := RunDown(context.Background(), term, store, Options{})
	var validation dafterrors.ValidationError
	assert.True(t, dafterrors.As(err, &validation))
}
