package checkpoint

import (
	"errors"
	"fmt"
)

// unsupportedCheckpointError means the file cannot be read or mapped onto the
// canonical RRDB layout.
type unsupportedCheckpointError struct {
	path   string
	reason string
}

func (e unsupportedCheckpointError) Error() string {
	return fmt.Sprintf("unsupported checkpoint format %s: %s", e.path, e.reason)
}

// ErrUnsupportedCheckpointFormat constructs an unsupportedCheckpointError.
func ErrUnsupportedCheckpointFormat(path, reason string) error {
	return unsupportedCheckpointError{path: path, reason: reason}
}

// IsUnsupportedCheckpointFormat reports whether err indicates an unreadable or
// unmappable checkpoint.
func IsUnsupportedCheckpointFormat(err error) bool {
	var e unsupportedCheckpointError
	return errors.As(err, &e)
}
