package files

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/eventual-inc/daft-launcher/pkg/config"
)

const (
	daftDirectory         = ".daft"
	knownHostsFile        = "known_hosts"
	featureFlagConfigFile = "config.yaml"
	// DefaultClusterConfigFile is used when a command is not given -c.
	DefaultClusterConfigFile = ".daft.toml"
)

var AppFs = afero.NewOsFs()

func GetDaftDirectory() string {
	return daftDirectory
}

func GetKnownHostsFile() string {
	return knownHostsFile
}

func GetFeatureFlagConfigFile() string {
	return featureFlagConfigFile
}

func GetHomeDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err //nolint:wrapcheck // leaf helper
	}
	return home, nil
}

// GetDaftHomePath returns ~/.daft unless DAFT_LAUNCHER_HOME overrides it.
func GetDaftHomePath() (string, error) {
	if override := config.GlobalConfig.GetLauncherHome(); override != "" {
		return override, nil
	}
	home, err := GetHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, daftDirectory), nil
}

func GetKnownHostsPath() (string, error) {
	daftHome, err := GetDaftHomePath()
	if err != nil {
		return "", err
	}
	return filepath.Join(daftHome, knownHostsFile), nil
}

func GetUserSSHDir() (string, error) {
	home, err := GetHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".ssh"), nil
}

func GetUserSSHConfigPath() (string, error) {
	sshDir, err := GetUserSSHDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(sshDir, "config"), nil
}

// ExpandHome replaces a leading ~ with the given home directory.
func ExpandHome(path string, home string) string {
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
