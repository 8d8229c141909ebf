package util

import (
	"fmt"
	"path/filepath"
	"regexp"

	dafterrors "github.com/eventual-inc/daft-launcher/pkg/errors"
	"github.com/eventual-inc/daft-launcher/pkg/featureflag"
	"github.com/eventual-inc/daft-launcher/pkg/selection"
	"github.com/eventual-inc/daft-launcher/pkg/terminal"
)

type KeyStore interface {
	GetIdentityFileForHost(host string) (string, error)
	ListPrivateKeys() ([]string, error)
}

// KeyRequest is what is known about the key pair when a command starts.
type KeyRequest struct {
	// Explicit is the -i flag.
	Explicit string
	// Configured is ssh_private_key from the cluster config.
	Configured string
	// Host is the head address, empty before launch.
	Host string
	// KeyName is the cloud key pair the head was launched with, if known.
	KeyName string
}

// ResolvePrivateKey picks the identity file in this order: -i, the config, ~/.ssh/config
// for the host, then ~/.ssh/*.pem (preferring <KeyName>.pem, prompting when ambiguous).
func ResolvePrivateKey(t *terminal.Terminal, store KeyStore, req KeyRequest, prompter selection.Prompter) (string, error) {
	if req.Explicit != "" {
		return req.Explicit, nil
	}
	if req.Configured != "" {
		return req.Configured, nil
	}
	if req.Host != "" {
		identity, err := store.GetIdentityFileForHost(req.Host)
		if err != nil {
			return "", err
		}
		if identity != "" {
			return identity, nil
		}
	}

	keys, err := store.ListPrivateKeys()
	if err != nil {
		return "", err
	}
	if len(keys) == 0 {
		return "", dafterrors.NewValidationError("no private key found in ~/.ssh; pass one with -i or set ssh_private_key")
	}

	criteria := selection.Criteria{}
	if req.KeyName != "" {
		named := selection.Criteria{Pattern: regexp.MustCompile(regexp.QuoteMeta(string(filepath.Separator)+req.KeyName+".pem") + "$")}
		if len(selection.Matches(keys, named)) > 0 {
			criteria = named
		}
	}
	idx, err := selection.Resolve(keys, criteria, "Select a private key", prompter, CanPrompt(t))
	if err != nil {
		if dafterrors.Is(err, selection.ErrAmbiguous) {
			return "", dafterrors.NewValidationError(fmt.Sprintf("found %d private keys in ~/.ssh; pass one with -i", len(keys)))
		}
		return "", dafterrors.WrapAndTrace(err)
	}
	t.Vprintf("using private key %s\n", t.Green(keys[idx]))
	return keys[idx], nil
}

// CanPrompt reports whether interactive selection is possible and allowed.
func CanPrompt(t *terminal.Terminal) bool {
	return featureflag.Interactive() && t.IsInteractive()
}
