package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/pkg/errors"

	"github.com/eventual-inc/daft-launcher/pkg/cmd/version"
	"github.com/eventual-inc/daft-launcher/pkg/config"
	"github.com/eventual-inc/daft-launcher/pkg/featureflag"
)

type UserError interface {
	// Error returns a user-facing string explaining the error
	Error() string

	// Directive returns a user-facing string explaining how to overcome the error
	Directive() string
}

type ErrorReporter interface {
	Setup() func()
	Flush()
	ReportMessage(string) string
	ReportError(error) string
	AddTag(key string, value string)
}

// GetDefaultErrorReporter reports to sentry only when a DSN is configured.
func GetDefaultErrorReporter() ErrorReporter {
	if config.GlobalConfig.GetSentryDSN() == "" || featureflag.IsDev() {
		return NoopErrorReporter{}
	}
	return SentryErrorReporter{}
}

type SentryErrorReporter struct{}

var _ ErrorReporter = SentryErrorReporter{}

func (s SentryErrorReporter) Setup() func() {
	err := sentry.Init(sentry.ClientOptions{
		Dsn:     config.GlobalConfig.GetSentryDSN(),
		Release: version.Version,
	})
	if err != nil {
		fmt.Println(err)
	}
	return func() {
		err := recover()
		if err != nil {
			sentry.CurrentHub().Recover(err)
			sentry.Flush(time.Second * 5)
			panic(err)
		}
		sentry.Flush(2 * time.Second)
	}
}

func (s SentryErrorReporter) Flush() {
	sentry.Flush(time.Second * 2)
}

func (s SentryErrorReporter) ReportMessage(msg string) string {
	event := sentry.CaptureMessage(msg)
	if event != nil {
		return string(*event)
	}
	return ""
}

func (s SentryErrorReporter) ReportError(e error) string {
	event := sentry.CaptureException(e)
	if event != nil {
		return string(*event)
	}
	return ""
}

func (s SentryErrorReporter) AddTag(key string, value string) {
	scope := sentry.CurrentHub().Scope()
	scope.SetTag(key, value)
}

type NoopErrorReporter struct{}

var _ ErrorReporter = NoopErrorReporter{}

func (NoopErrorReporter) Setup() func()               { return func() {} }
func (NoopErrorReporter) Flush()                      {}
func (NoopErrorReporter) ReportMessage(string) string { return "" }
func (NoopErrorReporter) ReportError(error) string    { return "" }
func (NoopErrorReporter) AddTag(string, string)       {}

type ValidationError struct {
	Message string
}

func NewValidationError(message string) ValidationError {
	return ValidationError{Message: message}
}

var _ error = ValidationError{}

func (v ValidationError) Error() string {
	return v.Message
}

// WrapAndTrace annotates err with the caller's file and line. A nil err stays nil.
func WrapAndTrace(err error, messages ...string) error {
	message := ""
	for _, m := range messages {
		message += fmt.Sprintf(" %s", m)
	}
	return errors.Wrap(err, MakeErrorMessage(message))
}

func MakeErrorMessage(message string) string {
	_, fn, line, _ := runtime.Caller(2)
	return fmt.Sprintf("[error] %s:%d %s\n\t", fn, line, message)
}

var NetworkErrorMessage = "possible internet connection problem"

func New(message string) error {
	return stderrors.New(message)
}

func Errorf(format string, a ...any) error {
	return fmt.Errorf(format, a...)
}

func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

func As(err error, target any) bool {
	return stderrors.As(err, target)
}

func Unwrap(err error) error {
	return stderrors.Unwrap(err)
}

func Join(errs ...error) error {
	return stderrors.Join(errs...)
}

// Root follows single-error unwrapping to the innermost error.
func Root(err error) error {
	for {
		next := stderrors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}
