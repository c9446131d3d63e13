package schedule

import (
	"errors"
	"fmt"
)

// FormatError reports an import payload that is not a valid serialized
// record set. The stored records are left untouched when it is returned.
type FormatError struct {
	Err error
}

func (e *FormatError) Error() string {
	return "invalid backup format: " + e.Err.Error()
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

func formatErrorf(format string, args ...any) error {
	return &FormatError{Err: fmt.Errorf(format, args...)}
}

// IsFormatError reports whether err is, or wraps, a *FormatError.
func IsFormatError(err error) bool {
	var fe *FormatError
	return errors.As(err, &fe)
}
