package aws

import (
	"context"
	"net"
	"strings"

	"github.com/aws/smithy-go"
	"github.com/samber/lo"

	"github.com/eventual-inc/daft-launcher/pkg/clusterspec"
	dafterrors "github.com/eventual-inc/daft-launcher/pkg/errors"
	"github.com/eventual-inc/daft-launcher/pkg/provider"
	"github.com/eventual-inc/daft-launcher/pkg/retry"
)

var (
	quotaCodes = []string{
		"InstanceLimitExceeded",
		"VcpuLimitExceeded",
		"InsufficientInstanceCapacity",
		"MaxSpotInstanceCountExceeded",
		"AddressLimitExceeded",
	}
	permissionCodes = []string{
		"UnauthorizedOperation",
		"AuthFailure",
		"AccessDenied",
		"AccessDeniedException",
		"ExpiredToken",
		"ExpiredTokenException",
		"InvalidClientTokenId",
		"SignatureDoesNotMatch",
		"OptInRequired",
	}
	transientCodes = []string{
		"RequestLimitExceeded",
		"Throttling",
		"ThrottlingException",
		"ServiceUnavailable",
		"Unavailable",
		"InternalError",
		"RequestTimeout",
	}
)

func kindForCode(code string) (provider.ErrorKind, bool) {
	switch {
	case lo.Contains(quotaCodes, code):
		return provider.Quota, true
	case lo.Contains(permissionCodes, code):
		return provider.Permission, true
	case lo.Contains(transientCodes, code):
		return provider.Transient, true
	}
	return provider.Failed, false
}

// classify wraps err as a ProviderError. Errors that already carry a kind are returned as is.
func classify(op string, cluster string, err error) error {
	if err == nil {
		return nil
	}
	var pe *provider.ProviderError
	if dafterrors.As(err, &pe) {
		return err
	}
	wrapped := &provider.ProviderError{
		Kind:     provider.Failed,
		Op:       op,
		Provider: clusterspec.ProviderAWS,
		Cluster:  cluster,
		Err:      err,
	}

	var apiErr smithy.APIError
	if dafterrors.As(err, &apiErr) {
		if kind, ok := kindForCode(apiErr.ErrorCode()); ok {
			wrapped.Kind = kind
		}
		return wrapped
	}

	var netErr net.Error
	switch {
	case dafterrors.Is(err, context.DeadlineExceeded):
		wrapped.Kind = provider.Transient
	case dafterrors.As(err, &netErr) && netErr.Timeout():
		wrapped.Kind = provider.Transient
	case retry.IsTransientNetworkError(err):
		wrapped.Kind = provider.Transient
	default:
		wrapped.Kind = kindFromOutput(err.Error())
	}
	return wrapped
}

// kindFromOutput finds an AWS error code in free text, such as autoscaler output.
func kindFromOutput(output string) provider.ErrorKind {
	for _, group := range []struct {
		codes []string
		kind  provider.ErrorKind
	}{
		{quotaCodes, provider.Quota},
		{permissionCodes, provider.Permission},
		{transientCodes, provider.Transient},
	} {
		for _, code := range group.codes {
			if strings.Contains(output, code) {
				return group.kind
			}
		}
	}
	return provider.Failed
}
