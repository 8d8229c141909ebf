package clusterspec

import (
	"fmt"

	dafterrors "github.com/eventual-inc/daft-launcher/pkg/errors"
)

type ErrorKind int

const (
	// Missing means the config file does not exist.
	Missing ErrorKind = iota
	// Invalid covers syntax errors, type mismatches and failed validation.
	Invalid
)

func (k ErrorKind) String() string {
	switch k {
	case Missing:
		return "missing"
	case Invalid:
		return "invalid"
	default:
		return "unknown"
	}
}

type ConfigError struct {
	Kind    ErrorKind
	Path    string
	Field   string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	where := e.Path
	if e.Field != "" {
		if where != "" {
			where += ": "
		}
		where += e.Field
	}
	if where == "" {
		return fmt.Sprintf("%s config: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s config %s: %s", e.Kind, where, e.Message)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func (e *ConfigError) Directive() string {
	if e.Kind == Missing {
		return "run `daft init-config` to create one, or pass -c <path>"
	}
	return "fix the field above and re-run the command"
}

func IsMissing(err error) bool {
	var ce *ConfigError
	return dafterrors.As(err, &ce) && ce.Kind == Missing
}

func IsInvalid(err error) bool {
	var ce *ConfigError
	return dafterrors.As(err, &ce) && ce.Kind == Invalid
}

func invalid(path, field, format string, a ...any) *ConfigError {
	return &ConfigError{Kind: Invalid, Path: path, Field: field, Message: fmt.Sprintf(format, a...)}
}
