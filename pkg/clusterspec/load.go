package clusterspec

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/go-multierror"
	goversion "github.com/hashicorp/go-version"
	"github.com/pelletier/go-toml/v2"
	"github.com/samber/lo"
	"github.com/spf13/afero"

	dafterrors "github.com/eventual-inc/daft-launcher/pkg/errors"
	"github.com/eventual-inc/daft-launcher/pkg/files"
)

type rawConfig struct {
	Setup *rawSetup `toml:"setup"`
	Run   *rawRun   `toml:"run"`
}

type rawSetup struct {
	Name                  *string  `toml:"name"`
	Provider              *string  `toml:"provider"`
	Version               *string  `toml:"version"`
	Region                *string  `toml:"region"`
	NumberOfWorkers       *int64   `toml:"number_of_workers"`
	Workers               *int64   `toml:"workers"`
	SSHUser               *string  `toml:"ssh_user"`
	SSHPrivateKey         *string  `toml:"ssh_private_key"`
	Template              *string  `toml:"template"`
	InstanceType          *string  `toml:"instance_type"`
	ImageID               *string  `toml:"image_id"`
	IAMInstanceProfileARN *string  `toml:"iam_instance_profile_arn"`
	Dependencies          []string `toml:"dependencies"`
}

type rawRun struct {
	SetupCommands []string `toml:"setup_commands"`
}

// LoadOptions carries the environment Load needs besides the file itself.
type LoadOptions struct {
	// HomeDir expands a leading ~ in ssh_private_key.
	HomeDir string
	// LauncherVersion is checked against [setup].version; empty or "dev" skips the check.
	LauncherVersion string
}

type Loaded struct {
	Spec ClusterSpec
	// Warnings lists keys that were present in the file but are not understood.
	Warnings []string
}

// Load reads and validates the cluster config at path.
func Load(fs afero.Fs, path string, opts LoadOptions) (*Loaded, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &ConfigError{Kind: Missing, Path: path, Message: "file does not exist", Err: err}
		}
		return nil, &ConfigError{Kind: Invalid, Path: path, Message: "cannot read file", Err: err}
	}
	return Parse(data, path, opts)
}

// Parse decodes TOML bytes; path is only used in error messages.
func Parse(data []byte, path string, opts LoadOptions) (*Loaded, error) {
	var raw rawConfig
	if err := toml.NewDecoder(bytes.NewReader(data)).Decode(&raw); err != nil {
		return nil, decodeError(path, err)
	}

	warnings := unknownKeys(data)

	spec, err := fromRaw(raw, path, opts)
	if err != nil {
		return nil, err
	}
	return &Loaded{Spec: spec, Warnings: warnings}, nil
}

func decodeError(path string, err error) error {
	var de *toml.DecodeError
	if dafterrors.As(err, &de) {
		row, col := de.Position()
		return &ConfigError{
			Kind:    Invalid,
			Path:    path,
			Field:   strings.Join(de.Key(), "."),
			Message: fmt.Sprintf("line %d column %d: %s", row, col, de.Error()),
			Err:     err,
		}
	}
	return &ConfigError{Kind: Invalid, Path: path, Message: err.Error(), Err: err}
}

// unknownKeys decodes a second time in strict mode and returns the offending keys.
func unknownKeys(data []byte) []string {
	var strict rawConfig
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	err := dec.Decode(&strict)
	var sme *toml.StrictMissingError
	if err == nil || !dafterrors.As(err, &sme) {
		return nil
	}
	keys := make([]string, 0, len(sme.Errors))
	for _, e := range sme.Errors {
		keys = append(keys, strings.Join(e.Key(), "."))
	}
	return keys
}

func fromRaw(raw rawConfig, path string, opts LoadOptions) (ClusterSpec, error) {
	if raw.Setup == nil {
		return ClusterSpec{}, invalid(path, "setup", "missing required [setup] section")
	}
	s := raw.Setup

	spec := ClusterSpec{
		Region:      DefaultRegion,
		SSHUser:     DefaultSSHUser,
		WorkerCount: DefaultWorkerCount,
		Template:    DefaultTemplate,
	}

	var result *multierror.Error
	if s.Name == nil || strings.TrimSpace(*s.Name) == "" {
		result = multierror.Append(result, invalid(path, "setup.name", "missing required key"))
	} else {
		spec.Name = strings.TrimSpace(*s.Name)
	}
	if s.Provider == nil || strings.TrimSpace(*s.Provider) == "" {
		result = multierror.Append(result, invalid(path, "setup.provider", "missing required key"))
	} else {
		spec.Provider = ProviderKind(strings.ToLower(strings.TrimSpace(*s.Provider)))
	}
	if s.Region != nil {
		spec.Region = *s.Region
	}
	if s.NumberOfWorkers != nil && s.Workers != nil {
		result = multierror.Append(result, invalid(path, "setup.workers", "set either number_of_workers or workers, not both"))
	}
	if s.NumberOfWorkers != nil {
		spec.WorkerCount = int(*s.NumberOfWorkers)
	} else if s.Workers != nil {
		spec.WorkerCount = int(*s.Workers)
	}
	if s.SSHUser != nil {
		spec.SSHUser = *s.SSHUser
	}
	if s.SSHPrivateKey != nil && *s.SSHPrivateKey != "" {
		spec.SSHPrivateKeyPath = files.ExpandHome(*s.SSHPrivateKey, opts.HomeDir)
	}
	if s.Template != nil {
		spec.Template = Template(strings.ToLower(*s.Template))
	}
	if shape, ok := templateShapes[spec.Template]; ok {
		spec.InstanceType = shape.InstanceType
		spec.ImageID = shape.ImageID
	}
	if s.InstanceType != nil {
		spec.InstanceType = *s.InstanceType
	}
	if s.ImageID != nil {
		spec.ImageID = *s.ImageID
	}
	if s.IAMInstanceProfileARN != nil {
		spec.IAMProfile = *s.IAMInstanceProfileARN
	}
	if s.Version != nil {
		spec.VersionRequirement = strings.TrimSpace(*s.Version)
	}
	spec.Dependencies = append([]string{}, s.Dependencies...)
	if raw.Run != nil {
		spec.SetupCommands = append([]string{}, raw.Run.SetupCommands...)
	} else {
		spec.SetupCommands = []string{}
	}

	if err := result.ErrorOrNil(); err != nil {
		return ClusterSpec{}, err
	}
	if err := spec.Validate(path); err != nil {
		return ClusterSpec{}, err
	}
	if err := checkVersion(spec.VersionRequirement, opts.LauncherVersion, path); err != nil {
		return ClusterSpec{}, err
	}
	return spec, nil
}

// Validate checks field values; every problem is reported, not only the first.
func (c ClusterSpec) Validate(path string) error {
	var result *multierror.Error
	if !clusterNamePattern.MatchString(c.Name) {
		result = multierror.Append(result, invalid(path, "setup.name", "%q must start with a letter or digit and contain only letters, digits, '-' or '_'", c.Name))
	}
	if !lo.Contains(SupportedProviders, c.Provider) {
		result = multierror.Append(result, invalid(path, "setup.provider", "unsupported provider %q (supported: %v)", c.Provider, SupportedProviders))
	}
	if _, ok := templateShapes[c.Template]; !ok {
		result = multierror.Append(result, invalid(path, "setup.template", "unknown template %q (light or normal)", c.Template))
	}
	if c.WorkerCount < 0 {
		result = multierror.Append(result, invalid(path, "setup.number_of_workers", "must be >= 0, got %d", c.WorkerCount))
	}
	if c.Region == "" {
		result = multierror.Append(result, invalid(path, "setup.region", "must not be empty"))
	}
	if c.SSHUser == "" {
		result = multierror.Append(result, invalid(path, "setup.ssh_user", "must not be empty"))
	}
	if c.InstanceType == "" {
		result = multierror.Append(result, invalid(path, "setup.instance_type", "must not be empty"))
	}
	if c.ImageID == "" {
		result = multierror.Append(result, invalid(path, "setup.image_id", "must not be empty"))
	}
	return result.ErrorOrNil()
}

func checkVersion(requirement string, launcherVersion string, path string) error {
	if requirement == "" {
		return nil
	}
	constraint, err := goversion.NewConstraint(requirement)
	if err != nil {
		return &ConfigError{Kind: Invalid, Path: path, Field: "setup.version", Message: fmt.Sprintf("%q is not a version constraint", requirement), Err: err}
	}
	if launcherVersion == "" || strings.HasPrefix(launcherVersion, "dev") {
		return nil
	}
	current, err := goversion.NewVersion(launcherVersion)
	if err != nil {
		return nil //nolint:nilerr // unversioned local builds are not checked
	}
	if !constraint.Check(current) {
		return invalid(path, "setup.version", "launcher version %s does not satisfy %q", current, requirement)
	}
	return nil
}
