package tool

import (
	"errors"
	"fmt"
	"strings"
)

// ParameterError reports malformed parameter data, missing required
// values or unknown parameter names.
type ParameterError struct {
	Msg        string
	Parameters []*Parameter
}

func (e *ParameterError) Error() string {
	if len(e.Parameters) == 0 {
		return e.Msg
	}
	parts := make([]string, len(e.Parameters))
	for i, p := range e.Parameters {
		parts[i] = fmt.Sprintf("%s: %v", p.Name, p.Value)
	}
	return e.Msg + ": " + strings.Join(parts, "; ")
}

func paramErrorf(format string, args ...any) *ParameterError {
	return &ParameterError{Msg: fmt.Sprintf(format, args...)}
}

// IsParameterError reports whether err is or wraps a *ParameterError.
func IsParameterError(err error) bool {
	var pe *ParameterError
	return errors.As(err, &pe)
}

// TokenTypeError is returned when a parameter is looked up with a token
// that is neither a position nor a name.
type TokenTypeError struct {
	Token any
}

func (e *TokenTypeError) Error() string {
	return fmt.Sprintf("token type invalid for parameter lookup: %T", e.Token)
}
