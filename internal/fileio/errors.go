package fileio

import (
	"errors"
	"fmt"
)

// ParseError is returned when a file name does not conform to its
// template, or the template itself cannot be used for parsing.
type ParseError struct {
	Template string
	Name     string
	Reason   string
}

func (e *ParseError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("template %q: %s", e.Template, e.Reason)
	}
	return fmt.Sprintf("template %q and name %q don't match: %s", e.Template, e.Name, e.Reason)
}

// IsParseError reports whether err is or wraps a *ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

var (
	ErrInvalidGroupingTag = errors.New("not a valid grouping tag")
	ErrUnmappedValue      = errors.New("tag value not in mapping keys")
	ErrExhausted          = errors.New("no groups left")
	ErrIndexOutOfRange    = errors.New("index out of bounds")
)
