package provider

import (
	"fmt"

	"github.com/eventual-inc/daft-launcher/pkg/clusterspec"
	dafterrors "github.com/eventual-inc/daft-launcher/pkg/errors"
)

type ErrorKind int

const (
	Failed ErrorKind = iota
	Quota
	Permission
	Transient
)

func (k ErrorKind) String() string {
	switch k {
	case Quota:
		return "quota exceeded"
	case Permission:
		return "permission denied"
	case Transient:
		return "transient failure"
	default:
		return "failed"
	}
}

type ProviderError struct {
	Kind     ErrorKind
	Op       string
	Provider clusterspec.ProviderKind
	Cluster  string
	Err      error
}

func (e *ProviderError) Error() string {
	target := string(e.Provider)
	if e.Cluster != "" {
		target += " cluster " + e.Cluster
	}
	return fmt.Sprintf("%s %s: %s: %v", target, e.Op, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func (e *ProviderError) Directive() string {
	switch e.Kind {
	case Quota:
		return "request a quota increase or lower number_of_workers"
	case Permission:
		return "check your cloud credentials (AWS_PROFILE, aws sso login) and IAM permissions"
	case Transient:
		return "the cloud API is unavailable right now; try again shortly"
	default:
		return ""
	}
}

func kindOf(err error) (ErrorKind, bool) {
	var pe *ProviderError
	if !dafterrors.As(err, &pe) {
		return Failed, false
	}
	return pe.Kind, true
}

func IsQuota(err error) bool {
	k, ok := kindOf(err)
	return ok && k == Quota
}

func IsPermission(err error) bool {
	k, ok := kindOf(err)
	return ok && k == Permission
}

// IsTransient is the retry predicate for provider calls.
func IsTransient(err error) bool {
	k, ok := kindOf(err)
	return ok && k == Transient
}
