package wire

import (
	"errors"
	"fmt"
)

// ErrNeedMoreData signals that a buffer does not yet hold a complete frame.
// It is a buffering hint for the caller, not a protocol violation: read more
// bytes and decode again.
var ErrNeedMoreData = errors.New("wire: incomplete frame, need more data")

// EncodeError reports that a payload cannot be turned into a valid frame.
// Encoding failures close the affected session only.
type EncodeError struct {
	Reason string
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("wire: encode failed: %s", e.Reason)
}

// DecodeError reports a malformed frame: a declared length that is zero or
// exceeds the configured maximum. Unlike ErrNeedMoreData it is terminal for
// the connection that produced it.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("wire: decode failed: %s", e.Reason)
}

// IsDecodeError reports whether err is (or wraps) a DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}
