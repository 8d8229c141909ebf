package job

import (
	"fmt"

	dafterrors "github.com/eventual-inc/daft-launcher/pkg/errors"
)

type ErrorKind int

const (
	NoHead ErrorKind = iota
	ArchiveFailure
	TransferFailure
	UnpackFailure
	RemoteNonZeroExit
)

func (k ErrorKind) String() string {
	switch k {
	case NoHead:
		return "no running head node"
	case ArchiveFailure:
		return "packing working directory failed"
	case TransferFailure:
		return "transfer failed"
	case UnpackFailure:
		return "unpacking on the head node failed"
	case RemoteNonZeroExit:
		return "job exited with a non-zero status"
	default:
		return "unknown"
	}
}

type SubmitError struct {
	Kind    ErrorKind
	Cluster string
	Host    string
	Command string
	// Status is the remote exit status for RemoteNonZeroExit.
	Status int
	Err    error
}

func (e *SubmitError) Error() string {
	switch {
	case e.Kind == NoHead:
		return fmt.Sprintf("cluster %s: %s", e.Cluster, e.Kind)
	case e.Kind == RemoteNonZeroExit:
		return fmt.Sprintf("cluster %s: %q exited with status %d", e.Cluster, e.Command, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("cluster %s (%s): %s: %v", e.Cluster, e.Host, e.Kind, e.Err)
	default:
		return fmt.Sprintf("cluster %s (%s): %s", e.Cluster, e.Host, e.Kind)
	}
}

func (e *SubmitError) Unwrap() error {
	return e.Err
}

func (e *SubmitError) Directive() string {
	if e.Kind == NoHead {
		return "run `daft up` first, or check `daft list --running`"
	}
	return ""
}

// ExitCode lets the CLI mirror the remote status.
func (e *SubmitError) ExitCode() int {
	if e.Kind == RemoteNonZeroExit {
		return e.Status
	}
	return 1
}

func IsKind(err error, kind ErrorKind) bool {
	var se *SubmitError
	return dafterrors.As(err, &se) && se.Kind == kind
}
