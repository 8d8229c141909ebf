package autoscaler

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/eventual-inc/daft-launcher/pkg/clusterspec"
	dafterrors "github.com/eventual-inc/daft-launcher/pkg/errors"
)

func testSpec(workers int) clusterspec.ClusterSpec {
	return clusterspec.ClusterSpec{
		Name:              "analytics",
		Provider:          clusterspec.ProviderAWS,
		Region:            "us-west-2",
		Template:          clusterspec.TemplateLight,
		InstanceType:      "t2.nano",
		ImageID:           "ami-07c5ecd8498c59db5",
		WorkerCount:       workers,
		SSHUser:           "ec2-user",
		SSHPrivateKeyPath: "/home/me/.ssh/team-key.pem",
		Dependencies:      []string{"pandas>=2"},
	}
}

func TestGeneratePinsWorkers(t *testing.T) {
	for _, n := range []int{0, 1, 4} {
		cfg := Generate(testSpec(n))
		assert.Equal(t, n+1, cfg.RequestedInstances())
		assert.Equal(t, n, cfg.MaxWorkers)

		worker := cfg.AvailableNodeTypes[WorkerNodeType]
		require.NotNil(t, worker.MinWorkers)
		assert.Equal(t, n, *worker.MinWorkers)
		assert.Equal(t, n, *worker.MaxWorkers)
	}
}

func TestGenerateNodeConfig(t *testing.T) {
	spec := testSpec(2)
	cfg := Generate(spec)

	head := cfg.AvailableNodeTypes[HeadNodeType]
	assert.Nil(t, head.MinWorkers)
	assert.Equal(t, "team-key", head.NodeConfig.KeyName)
	assert.Equal(t, "t2.nano", head.NodeConfig.InstanceType)
	assert.Nil(t, head.NodeConfig.IamInstanceProfile)
	assert.Equal(t, HeadNodeType, cfg.HeadNodeType)
	assert.Equal(t, "aws", cfg.Provider.Type)
	assert.False(t, cfg.Provider.CacheStoppedNodes)

	spec.IAMProfile = "arn:aws:iam::1:instance-profile/ray"
	cfg = Generate(spec)
	require.NotNil(t, cfg.AvailableNodeTypes[WorkerNodeType].NodeConfig.IamInstanceProfile)
	assert.Equal(t, spec.IAMProfile, cfg.AvailableNodeTypes[WorkerNodeType].NodeConfig.IamInstanceProfile.Arn)
}

func TestBaseSetupCommandsInstallDependencies(t *testing.T) {
	cmds := BaseSetupCommands([]string{"pandas>=2"})
	require.NotEmpty(t, cmds)
	install := cmds[len(cmds)-1]
	assert.Contains(t, install, "uv pip install boto3 pip py-spy deltalake getdaft")
	assert.Contains(t, install, "'ray[default]'")
	assert.Contains(t, install, "'pandas>=2'")
	assert.Contains(t, cmds, "uv python install 3.12")
}

func TestMarshalKeys(t *testing.T) {
	out, err := Generate(testSpec(3)).Marshal()
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, yaml.Unmarshal(out, &doc))
	assert.Equal(t, "analytics", doc["cluster_name"])
	assert.Equal(t, 3, doc["max_workers"])

	nodeTypes, ok := doc["available_node_types"].(map[string]any)
	require.True(t, ok)
	worker, ok := nodeTypes[WorkerNodeType].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 3, worker["min_workers"])
	nodeConfig, ok := worker["node_config"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ami-07c5ecd8498c59db5", nodeConfig["ImageId"])
	assert.NotContains(t, nodeConfig, "IamInstanceProfile")
}

func TestWriteTempAndCleanup(t *testing.T) {
	fs := afero.NewMemMapFs()
	path, cleanup, err := WriteTemp(fs, Generate(testSpec(1)))
	require.NoError(t, err)

	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "cluster_name: analytics")

	cleanup()
	exists, err := afero.Exists(fs, path)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestTailBufferKeepsLastLines(t *testing.T) {
	tail := &tailBuffer{max: 2}
	tail.Add("a")
	tail.Add("b")
	tail.Add("c")
	assert.Equal(t, "b\nc", tail.String())
}

func fakeRay(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fake")
	}
	path := filepath.Join(t.TempDir(), "ray")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
	return path
}

func TestRayCLIUpStreamsOutput(t *testing.T) {
	stdout := &bytes.Buffer{}
	cli := RayCLI{Binary: fakeRay(t, "echo \"$@\"\n"), Stdout: stdout}

	require.NoError(t, cli.Up(context.Background(), "/tmp/c.yaml"))
	assert.Equal(t, "up -y --no-config-cache /tmp/c.yaml\n", stdout.String())
}

func TestRayCLIUpFailure(t *testing.T) {
	stderr := &bytes.Buffer{}
	cli := RayCLI{Binary: fakeRay(t, "echo starting\necho 'An error occurred (VcpuLimitExceeded)' >&2\nexit 3\n"), Stderr: stderr}

	err := cli.Up(context.Background(), "/tmp/c.yaml")
	var runErr *RunError
	require.True(t, dafterrors.As(err, &runErr))
	assert.Equal(t, 3, runErr.ExitCode)
	assert.Contains(t, runErr.Output, "VcpuLimitExceeded")
	assert.Contains(t, runErr.Error(), "status 3")
	assert.Contains(t, stderr.String(), "VcpuLimitExceeded")
}
