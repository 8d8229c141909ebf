// Package clusterspec is the typed cluster configuration read from a TOML file.
//
// A ClusterSpec is validated once by Load and is not mutated afterwards; command
// line overrides go through WithOverrides, which returns a copy.
package clusterspec

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/jinzhu/copier"

	dafterrors "github.com/eventual-inc/daft-launcher/pkg/errors"
)

type ProviderKind string

const (
	ProviderAWS ProviderKind = "aws"
)

var SupportedProviders = []ProviderKind{ProviderAWS}

type Template string

const (
	TemplateNormal Template = "normal"
	TemplateLight  Template = "light"
)

type machineShape struct {
	InstanceType string
	ImageID      string
}

var templateShapes = map[Template]machineShape{
	TemplateNormal: {InstanceType: "m7g.medium", ImageID: "ami-07dcfc8123b5479a8"},
	TemplateLight:  {InstanceType: "t2.nano", ImageID: "ami-07c5ecd8498c59db5"},
}

// Defaults for optional [setup] keys.
const (
	DefaultRegion      = "us-west-2"
	DefaultSSHUser     = "ec2-user"
	DefaultWorkerCount = 2
	DefaultTemplate    = TemplateNormal
)

var clusterNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

type ClusterSpec struct {
	Name     string
	Provider ProviderKind
	Region   string
	Template Template
	// InstanceType and ImageID default to the template's machine shape.
	InstanceType string
	ImageID      string
	WorkerCount  int
	SSHUser      string
	// SSHPrivateKeyPath is empty when the key pair is resolved at command time.
	SSHPrivateKeyPath string
	// IAMProfile is an instance profile ARN attached to every node, optional.
	IAMProfile string
	// Dependencies are extra python packages installed on every node.
	Dependencies []string
	// SetupCommands run on the head node over SSH once it is reachable.
	SetupCommands      []string
	VersionRequirement string
}

// KeyName is the cloud key pair name, which by convention is the private key file's stem.
func (c ClusterSpec) KeyName() string {
	if c.SSHPrivateKeyPath == "" {
		return ""
	}
	base := filepath.Base(c.SSHPrivateKeyPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// RequestedInstances is the head plus every worker.
func (c ClusterSpec) RequestedInstances() int {
	return 1 + c.WorkerCount
}

type Overrides struct {
	Region        string
	SSHPrivateKey string
	Workers       *int
}

// WithOverrides returns a deep copy of c with the non-empty overrides applied.
func (c ClusterSpec) WithOverrides(o Overrides) (ClusterSpec, error) {
	var out ClusterSpec
	if err := copier.CopyWithOption(&out, &c, copier.Option{DeepCopy: true}); err != nil {
		return ClusterSpec{}, dafterrors.WrapAndTrace(err)
	}
	if o.Region != "" {
		out.Region = o.Region
	}
	if o.SSHPrivateKey != "" {
		out.SSHPrivateKeyPath = o.SSHPrivateKey
	}
	if o.Workers != nil {
		out.WorkerCount = *o.Workers
	}
	if err := out.Validate(""); err != nil {
		return ClusterSpec{}, err
	}
	return out, nil
}
