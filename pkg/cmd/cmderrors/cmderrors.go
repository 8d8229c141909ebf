package cmderrors

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	dafterrors "github.com/eventual-inc/daft-launcher/pkg/errors"
	"github.com/eventual-inc/daft-launcher/pkg/featureflag"
	"github.com/eventual-inc/daft-launcher/pkg/terminal"
)

// ExitCoder is implemented by errors that carry their own process exit code.
type ExitCoder interface {
	ExitCode() int
}

// ExitCode maps err to the process exit code; 1 unless err carries one.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var coder ExitCoder
	if dafterrors.As(err, &coder) {
		if code := coder.ExitCode(); code != 0 {
			return code
		}
	}
	return 1
}

// determines if should print error stack trace and/or send to crash monitor
func DisplayAndHandleError(t *terminal.Terminal, err error) {
	if err == nil {
		return
	}
	cause := errors.Cause(err)
	prettyErr := ""
	var validationErr dafterrors.ValidationError
	var coder ExitCoder
	switch {
	case dafterrors.As(err, &validationErr):
		// do not report error
		prettyErr = t.Yellow(cause.Error())
	case dafterrors.As(err, &coder):
		// remote command failures are the user's output, not ours
		prettyErr = t.Yellow(cause.Error())
	default:
		er := dafterrors.GetDefaultErrorReporter()
		er.ReportMessage(err.Error())
		er.ReportError(err)
		prettyErr = t.Red(cause.Error())
	}
	if featureflag.Debug() {
		t.Eprintf("%+v\n", err)
	} else {
		t.Eprint(prettyErr)
	}
	if withDirective, ok := cause.(dafterrors.UserError); ok && withDirective.Directive() != "" {
		t.Eprint(t.Yellow(withDirective.Directive()))
	}
}

func TransformToValidationError(pArgs cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		err := pArgs(cmd, args)
		if err != nil {
			return dafterrors.NewValidationError(err.Error())
		}
		return nil
	}
}
