package clusterspec

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	dafterrors "github.com/eventual-inc/daft-launcher/pkg/errors"
)

const initTemplate = `# Cluster configuration for daft.
# Required keys are name and provider; everything else shows its default.

[setup]
name = %q
provider = "aws"
# version = ">= %s"
region = "us-west-2"
number_of_workers = 2
ssh_user = "ec2-user"
# ssh_private_key = "~/.ssh/my-keypair.pem"
template = "normal"
# instance_type = "m7g.medium"
# image_id = "ami-07dcfc8123b5479a8"
# iam_instance_profile_arn = "arn:aws:iam::000000000000:instance-profile/ray-node"
dependencies = []

[run]
setup_commands = []
`

// RenderTemplate returns the starter config for a cluster called name.
func RenderTemplate(name string, launcherVersion string) []byte {
	if launcherVersion == "" {
		launcherVersion = "0.0.0"
	}
	return []byte(fmt.Sprintf(initTemplate, name, launcherVersion))
}

// WriteTemplate creates path with the starter config. An existing file is never overwritten.
func WriteTemplate(fs afero.Fs, path string, name string, launcherVersion string) error {
	exists, err := afero.Exists(fs, path)
	if err != nil {
		return dafterrors.WrapAndTrace(err)
	}
	if exists {
		return dafterrors.NewValidationError(fmt.Sprintf("%s already exists; remove it or choose another path", path))
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return dafterrors.WrapAndTrace(err)
		}
	}
	f, err := fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return dafterrors.WrapAndTrace(err)
	}
	defer f.Close() //nolint:errcheck // defer
	if _, err := f.Write(RenderTemplate(name, launcherVersion)); err != nil {
		return dafterrors.WrapAndTrace(err)
	}
	return nil
}
