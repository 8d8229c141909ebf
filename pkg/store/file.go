package store

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kevinburke/ssh_config"
	"github.com/spf13/afero"

	"github.com/eventual-inc/daft-launcher/pkg/clusterspec"
	"github.com/eventual-inc/daft-launcher/pkg/cmd/version"
	dafterrors "github.com/eventual-inc/daft-launcher/pkg/errors"
	"github.com/eventual-inc/daft-launcher/pkg/featureflag"
	"github.com/eventual-inc/daft-launcher/pkg/files"
	"github.com/eventual-inc/daft-launcher/pkg/remote"
)

type FileStore struct {
	BasicStore
	fs      afero.Fs
	homeDir func() (string, error)
}

func (b *BasicStore) WithFileSystem(fs afero.Fs) *FileStore {
	return &FileStore{*b, fs, files.GetHomeDir}
}

// WithHomeDir pins the home directory, for tests.
func (f *FileStore) WithHomeDir(home string) *FileStore {
	f.homeDir = func() (string, error) { return home, nil }
	return f
}

func (f FileStore) GetFs() afero.Fs {
	return f.fs
}

func (f FileStore) GetHomeDir() (string, error) {
	home, err := f.homeDir()
	if err != nil {
		return "", dafterrors.WrapAndTrace(err)
	}
	return home, nil
}

func (f FileStore) FileExists(path string) (bool, error) {
	exists, err := afero.Exists(f.fs, path)
	if err != nil {
		return false, dafterrors.WrapAndTrace(err)
	}
	return exists, nil
}

// LoadClusterSpec reads the TOML cluster config at path, expanding ~ against the user's home.
func (f FileStore) LoadClusterSpec(path string) (*clusterspec.Loaded, error) {
	home, err := f.GetHomeDir()
	if err != nil {
		return nil, err
	}
	opts := clusterspec.LoadOptions{HomeDir: home, LauncherVersion: version.Current()}
	if featureflag.SkipVersionCheck() {
		opts.LauncherVersion = ""
	}
	return clusterspec.Load(f.fs, path, opts)
}

func (f FileStore) WriteClusterTemplate(path string, name string) error {
	return clusterspec.WriteTemplate(f.fs, path, name, version.Version)
}

func (f FileStore) WriteFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := f.fs.MkdirAll(dir, 0o755); err != nil {
			return dafterrors.WrapAndTrace(err)
		}
	}
	if err := afero.WriteFile(f.fs, path, data, 0o644); err != nil {
		return dafterrors.WrapAndTrace(err)
	}
	return nil
}

// GetKnownHosts returns the launcher's known_hosts, ~/.daft/known_hosts by default.
func (f FileStore) GetKnownHosts() (*remote.KnownHosts, error) {
	path, err := files.GetKnownHostsPath()
	if err != nil {
		return nil, dafterrors.WrapAndTrace(err)
	}
	return remote.NewKnownHosts(path), nil
}

// ListPrivateKeys returns the .pem files in ~/.ssh, sorted.
func (f FileStore) ListPrivateKeys() ([]string, error) {
	home, err := f.GetHomeDir()
	if err != nil {
		return nil, err
	}
	sshDir := filepath.Join(home, ".ssh")
	entries, err := afero.ReadDir(f.fs, sshDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, dafterrors.WrapAndTrace(err)
	}
	keys := []string{}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".pem") {
			keys = append(keys, filepath.Join(sshDir, e.Name()))
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// GetIdentityFileForHost looks host up in ~/.ssh/config. Empty when no IdentityFile is configured.
func (f FileStore) GetIdentityFileForHost(host string) (string, error) {
	home, err := f.GetHomeDir()
	if err != nil {
		return "", err
	}
	file, err := f.fs.Open(filepath.Join(home, ".ssh", "config"))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", dafterrors.WrapAndTrace(err)
	}
	defer file.Close() //nolint:errcheck // read only

	cfg, err := ssh_config.Decode(file)
	if err != nil {
		return "", dafterrors.WrapAndTrace(err, "parsing ~/.ssh/config")
	}
	identity, err := cfg.Get(host, "IdentityFile")
	if err != nil {
		return "", dafterrors.WrapAndTrace(err)
	}
	// ssh_config reports its built-in default when nothing matches.
	if identity == "" || identity == ssh_config.Default("IdentityFile") {
		return "", nil
	}
	return files.ExpandHome(identity, home), nil
}

// ForgetHosts drops hosts from the launcher's known_hosts so a relaunched head can be trusted again.
func (f FileStore) ForgetHosts(hosts ...string) error {
	if len(hosts) == 0 {
		return nil
	}
	knownHosts, err := f.GetKnownHosts()
	if err != nil {
		return err
	}
	return knownHosts.Forget(hosts...)
}
