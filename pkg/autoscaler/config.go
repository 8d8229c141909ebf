// Package autoscaler renders a ClusterSpec into a Ray cluster launcher config and
// drives the ray CLI with it.
package autoscaler

import (
	"fmt"

	"github.com/alessio/shellescape"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/eventual-inc/daft-launcher/pkg/clusterspec"
	dafterrors "github.com/eventual-inc/daft-launcher/pkg/errors"
)

const (
	HeadNodeType   = "ray.head.default"
	WorkerNodeType = "ray.worker.default"

	// PythonVersion is installed with uv on every node.
	PythonVersion = "3.12"
	// VenvActivate is sourced before any remote command runs.
	VenvActivate = "$HOME/.venv/bin/activate"
)

var basePackages = []string{"boto3", "pip", "py-spy", "deltalake", "getdaft", "ray[default]"}

type Config struct {
	ClusterName        string              `yaml:"cluster_name"`
	MaxWorkers         int                 `yaml:"max_workers"`
	Provider           ProviderConfig      `yaml:"provider"`
	Auth               Auth                `yaml:"auth"`
	AvailableNodeTypes map[string]NodeType `yaml:"available_node_types"`
	HeadNodeType       string              `yaml:"head_node_type"`
	SetupCommands      []string            `yaml:"setup_commands"`
}

type ProviderConfig struct {
	Type              string `yaml:"type"`
	Region            string `yaml:"region"`
	CacheStoppedNodes bool   `yaml:"cache_stopped_nodes"`
}

type Auth struct {
	SSHUser       string `yaml:"ssh_user"`
	SSHPrivateKey string `yaml:"ssh_private_key,omitempty"`
}

type NodeType struct {
	NodeConfig NodeConfig `yaml:"node_config"`
	MinWorkers *int       `yaml:"min_workers,omitempty"`
	MaxWorkers *int       `yaml:"max_workers,omitempty"`
	Resources  Resources  `yaml:"resources"`
}

type NodeConfig struct {
	InstanceType       string              `yaml:"InstanceType"`
	ImageID            string              `yaml:"ImageId"`
	KeyName            string              `yaml:"KeyName,omitempty"`
	IamInstanceProfile *IamInstanceProfile `yaml:"IamInstanceProfile,omitempty"`
}

type IamInstanceProfile struct {
	Arn string `yaml:"Arn"`
}

type Resources struct {
	CPU int `yaml:"CPU"`
	GPU int `yaml:"GPU"`
}

// Generate builds the launcher config. Workers are pinned with min = max = worker count.
func Generate(spec clusterspec.ClusterSpec) Config {
	nodeConfig := NodeConfig{
		InstanceType: spec.InstanceType,
		ImageID:      spec.ImageID,
		KeyName:      spec.KeyName(),
	}
	if spec.IAMProfile != "" {
		nodeConfig.IamInstanceProfile = &IamInstanceProfile{Arn: spec.IAMProfile}
	}
	workers := spec.WorkerCount

	return Config{
		ClusterName: spec.Name,
		MaxWorkers:  workers,
		Provider: ProviderConfig{
			Type:              string(spec.Provider),
			Region:            spec.Region,
			CacheStoppedNodes: false,
		},
		Auth: Auth{
			SSHUser:       spec.SSHUser,
			SSHPrivateKey: spec.SSHPrivateKeyPath,
		},
		AvailableNodeTypes: map[string]NodeType{
			HeadNodeType: {
				NodeConfig: nodeConfig,
				Resources:  Resources{CPU: 0},
			},
			WorkerNodeType: {
				NodeConfig: nodeConfig,
				MinWorkers: &workers,
				MaxWorkers: &workers,
				Resources:  Resources{CPU: 1},
			},
		},
		HeadNodeType:  HeadNodeType,
		SetupCommands: BaseSetupCommands(spec.Dependencies),
	}
}

// BaseSetupCommands installs uv, python and the shared virtualenv on a node.
func BaseSetupCommands(dependencies []string) []string {
	packages := append(append([]string{}, basePackages...), dependencies...)
	return []string{
		"curl -LsSf https://astral.sh/uv/install.sh | sh",
		"uv python install " + PythonVersion,
		"uv python pin " + PythonVersion,
		"uv venv",
		fmt.Sprintf("echo 'source %s' >> ~/.bashrc", VenvActivate),
		"source ~/.bashrc",
		"uv pip install " + shellescape.QuoteCommand(packages),
	}
}

// RequestedInstances is the head plus the pinned worker count.
func (c Config) RequestedInstances() int {
	w, ok := c.AvailableNodeTypes[WorkerNodeType]
	if !ok || w.MinWorkers == nil {
		return 1
	}
	return 1 + *w.MinWorkers
}

func (c Config) Marshal() ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, dafterrors.WrapAndTrace(err)
	}
	return out, nil
}

// WriteTemp writes the config to a fresh temporary file. The returned cleanup removes it.
func WriteTemp(fs afero.Fs, c Config) (string, func(), error) {
	data, err := c.Marshal()
	if err != nil {
		return "", func() {}, err
	}
	f, err := afero.TempFile(fs, "", "daft-ray-*.yaml")
	if err != nil {
		return "", func() {}, dafterrors.WrapAndTrace(err)
	}
	path := f.Name()
	cleanup := func() { _ = fs.Remove(path) }
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		cleanup()
		return "", func() {}, dafterrors.WrapAndTrace(err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", func() {}, dafterrors.WrapAndTrace(err)
	}
	return path, cleanup, nil
}
