package remote

import (
	"bufio"
	"bytes"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	dafterrors "github.com/eventual-inc/daft-launcher/pkg/errors"
)

// KnownHosts is the launcher's own known_hosts file. Unknown hosts are trusted on
// first use; a changed key for a known host is refused.
type KnownHosts struct {
	Path string
	mu   sync.Mutex
}

func NewKnownHosts(path string) *KnownHosts {
	return &KnownHosts{Path: path}
}

func (k *KnownHosts) ensure() error {
	if err := os.MkdirAll(filepath.Dir(k.Path), 0o700); err != nil {
		return dafterrors.WrapAndTrace(err)
	}
	f, err := os.OpenFile(k.Path, os.O_CREATE|os.O_RDONLY, 0o600)
	if err != nil {
		return dafterrors.WrapAndTrace(err)
	}
	return f.Close() //nolint:wrapcheck // close of a freshly created file
}

// Callback returns a host key callback. mismatch is set when a known host presents a different key.
func (k *KnownHosts) Callback(mismatch *bool) (ssh.HostKeyCallback, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.ensure(); err != nil {
		return nil, err
	}
	check, err := knownhosts.New(k.Path)
	if err != nil {
		return nil, dafterrors.WrapAndTrace(err)
	}
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := check(hostname, remote, key)
		if err == nil {
			return nil
		}
		var keyErr *knownhosts.KeyError
		if !dafterrors.As(err, &keyErr) {
			return err //nolint:wrapcheck // surfaced through the handshake error
		}
		if len(keyErr.Want) > 0 {
			*mismatch = true
			return &SSHError{Kind: HostKeyMismatch, Host: hostname, Err: err}
		}
		return k.add(hostname, key)
	}, nil
}

func (k *KnownHosts) add(hostname string, key ssh.PublicKey) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	f, err := os.OpenFile(k.Path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o600)
	if err != nil {
		return dafterrors.WrapAndTrace(err)
	}
	defer f.Close() //nolint:errcheck // defer
	line := knownhosts.Line([]string{knownhosts.Normalize(hostname)}, key)
	if _, err := f.WriteString(line + "\n"); err != nil {
		return dafterrors.WrapAndTrace(err)
	}
	return nil
}

// Forget removes every entry for the given hosts (host or host:port).
func (k *KnownHosts) Forget(hosts ...string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	data, err := os.ReadFile(k.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return dafterrors.WrapAndTrace(err)
	}

	drop := map[string]bool{}
	for _, h := range hosts {
		drop[knownhosts.Normalize(h)] = true
	}

	var out bytes.Buffer
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.Fields(line)
		if len(fields) > 0 && matchesAny(fields[0], drop) {
			continue
		}
		out.WriteString(line)
		out.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return dafterrors.WrapAndTrace(err)
	}
	if err := os.WriteFile(k.Path, out.Bytes(), 0o600); err != nil {
		return dafterrors.WrapAndTrace(err)
	}
	return nil
}

func matchesAny(hostField string, drop map[string]bool) bool {
	for _, h := range strings.Split(hostField, ",") {
		if drop[h] {
			return true
		}
	}
	return false
}
