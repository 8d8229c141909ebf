package submit

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/samber/mo"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"github.com/eventual-inc/daft-launcher/pkg/clusterspec"
	"github.com/eventual-inc/daft-launcher/pkg/cmd/cmderrors"
	"github.com/eventual-inc/daft-launcher/pkg/job"
	"github.com/eventual-inc/daft-launcher/pkg/provider"
	"github.com/eventual-inc/daft-launcher/pkg/provider/providertest"
	"github.com/eventual-inc/daft-launcher/pkg/remote"
	"github.com/eventual-inc/daft-launcher/pkg/terminal"
)

type fakeStore struct {
	fs       afero.Fs
	spec     clusterspec.ClusterSpec
	provider *providertest.Fake
	session  *fakeSession
	identity map[string]string
	keys     []string
	targets  []remote.Target
}

func (f *fakeStore) LoadClusterSpec(string) (*clusterspec.Loaded, error) {
	return &clusterspec.Loaded{Spec: f.spec}, nil
}

func (f *fakeStore) GetProvider(context.Context, clusterspec.ProviderKind, string, io.Writer) (provider.Provider, error) {
	return f.provider, nil
}

func (f *fakeStore) GetIdentityFileForHost(host string) (string, error) {
	return f.identity[host], nil
}

func (f *fakeStore) ListPrivateKeys() ([]string, error) {
	return f.keys, nil
}

func (f *fakeStore) GetConnector() (job.Connector, error) {
	return f, nil
}

func (f *fakeStore) Connect(_ context.Context, target remote.Target) (job.RemoteSession, error) {
	f.targets = append(f.targets, target)
	return f.session, nil
}

func (f *fakeStore) GetLogger() *zap.Logger {
	return zap.NewNop()
}

func (f *fakeStore) GetFs() afero.Fs {
	return f.fs
}

type fakeSession struct {
	uploads  map[string]int
	commands []string
	exitCode int
}

func (s *fakeSession) Upload(_ context.Context, r io.Reader, path string) error {
	data, err := io.ReadAll(r)
	s.uploads[path] = len(data)
	return err
}

func (s *fakeSession) Run(_ context.Context, command string, stdout, _ io.Writer) (int, error) {
	s.commands = append(s.commands, command)
	if bytes.Contains([]byte(command), []byte("tar -xzf")) {
		return 0, nil
	}
	_, _ = io.WriteString(stdout, "rows: 3\n")
	return s.exitCode, nil
}

func (s *fakeSession) Close() error { return nil }

type SubmitSuite struct {
	suite.Suite
	store *fakeStore
}

func TestSubmitSuite(t *testing.T) {
	suite.Run(t, new(SubmitSuite))
}

func (s *SubmitSuite) SetupTest() {
	fs := afero.NewMemMapFs()
	s.Require().NoError(fs.MkdirAll("/work", 0o755))
	s.Require().NoError(afero.WriteFile(fs, "/work/main.py", []byte("print('hi')\n"), 0o644))

	fake := &providertest.Fake{}
	fake.Seed(provider.Instance{
		ClusterName: "analytics", Provider: clusterspec.ProviderAWS, Role: provider.Head,
		InstanceID: "i-h", State: provider.Running, PublicIP: mo.Some("203.0.113.7"), KeyName: "analytics",
	})
	s.store = &fakeStore{
		fs:       fs,
		spec:     clusterspec.ClusterSpec{Name: "analytics", Provider: clusterspec.ProviderAWS, Region: "us-west-2", SSHUser: "ec2-user"},
		provider: fake,
		session:  &fakeSession{uploads: map[string]int{}},
		keys:     []string{"/home/u/.ssh/other.pem", "/home/u/.ssh/analytics.pem"},
	}
}

func (s *SubmitSuite) TestRunsInCluster() {
	term, _, verbose, _ := terminal.NewTestTerminal()
	result, err := RunSubmit(context.Background(), term, s.store, Options{WorkingDir: "/work"}, []string{"python", "main.py"})
	s.Require().NoError(err)
	s.Equal(0, result.ExitCode)
	s.Equal([]remote.Target{{Host: "203.0.113.7", User: "ec2-user", KeyPath: "/home/u/.ssh/analytics.pem"}}, s.store.targets)
	s.Len(s.store.session.uploads, 1)
	s.Require().Len(s.store.session.commands, 2)
	s.Contains(s.store.session.commands[1], "main.py")
	s.Contains(verbose.String(), "rows: 3")
}

func (s *SubmitSuite) TestIdentityFileFromSSHConfig() {
	s.store.identity = map[string]string{"203.0.113.7": "/home/u/.ssh/lab.pem"}
	term, _, _, _ := terminal.NewTestTerminal()
	_, err := RunSubmit(context.Background(), term, s.store, Options{WorkingDir: "/work"}, []string{"python", "main.py"})
	s.Require().NoError(err)
	s.Equal("/home/u/.ssh/lab.pem", s.store.targets[0].KeyPath)
}

func (s *SubmitSuite) TestExitCodeMirrorsRemote() {
	s.store.session.exitCode = 3
	term, _, _, _ := terminal.NewTestTerminal()
	result, err := RunSubmit(context.Background(), term, s.store, Options{WorkingDir: "/work", KeyPath: "/k.pem"}, []string{"python", "main.py"})
	s.Require().Error(err)
	s.Equal(3, result.ExitCode)
	s.Equal(3, cmderrors.ExitCode(err))
}

func (s *SubmitSuite) TestNoHeadBeforeTransfer() {
	s.store.provider = &providertest.Fake{}
	term, _, _, _ := terminal.NewTestTerminal()
	_, err := RunSubmit(context.Background(), term, s.store, Options{WorkingDir: "/work"}, []string{"python", "main.py"})
	s.True(job.IsKind(err, job.NoHead))
	s.Empty(s.store.targets)
	s.Empty(s.store.session.uploads)
}

func TestNewCmdSubmitRequiresCommand(t *testing.T) {
	term, _, _, _ := terminal.NewTestTerminal()
	cmd := NewCmdSubmit(term, &fakeStore{})
	cmd.SetArgs([]string{})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, 1, cmderrors.ExitCode(err))
}
