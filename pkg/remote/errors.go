package remote

import (
	"fmt"

	dafterrors "github.com/eventual-inc/daft-launcher/pkg/errors"
)

type ErrorKind int

const (
	// Unreachable covers refused, reset and timed out connections. It is retried.
	Unreachable ErrorKind = iota
	AuthFailure
	HostKeyMismatch
)

func (k ErrorKind) String() string {
	switch k {
	case AuthFailure:
		return "authentication failed"
	case HostKeyMismatch:
		return "host key mismatch"
	default:
		return "unreachable"
	}
}

type SSHError struct {
	Kind ErrorKind
	Host string
	Err  error
}

func (e *SSHError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("ssh %s: %s", e.Host, e.Kind)
	}
	return fmt.Sprintf("ssh %s: %s: %v", e.Host, e.Kind, e.Err)
}

func (e *SSHError) Unwrap() error {
	return e.Err
}

func (e *SSHError) Directive() string {
	switch e.Kind {
	case AuthFailure:
		return "check the key pair passed with -i (or ssh_private_key); it must match the cluster's key and be chmod 600"
	case HostKeyMismatch:
		return "the head node's host key changed; if the cluster was recreated, run `daft down` or remove the entry from ~/.daft/known_hosts"
	default:
		return "the head node may still be booting; wait a minute and retry"
	}
}

func IsKind(err error, kind ErrorKind) bool {
	var se *SSHError
	return dafterrors.As(err, &se) && se.Kind == kind
}

func isRetryable(err error) bool {
	return IsKind(err, Unreachable)
}
