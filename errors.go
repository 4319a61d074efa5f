package rsock

import (
	"fmt"
	"io"

	"github.com/pkg/errors"
)

// isClosedError reports whether err is an ordinary end-of-life error
// rather than a failure worth surfacing.
func isClosedError(err error) bool {
	switch errors.Cause(err) {
	case nil:
		return true
	case ErrConnectionClosed{}:
		return true
	case io.ErrClosedPipe:
		return true
	case io.EOF:
		return true
	}
	return false
}

// ErrInvalidFrame is the error type for malformed wire data: bad length
// prefixes, short buffers, reserved bits set or required fields missing.
type ErrInvalidFrame struct{}

func (ErrInvalidFrame) Error() string { return "invalid frame" }

// ErrUnsupportedVersion is returned when a protocol version is not
// supported by this implementation.
type ErrUnsupportedVersion struct {
	Version ProtocolVersion
}

func (e ErrUnsupportedVersion) Error() string {
	return fmt.Sprintf("unsupported protocol version %v", e.Version)
}

// ErrConnectionClosed is returned for operations on a closed connection.
type ErrConnectionClosed struct{}

func (ErrConnectionClosed) Error() string { return "connection closed" }

// ErrStreamClosed is returned for operations on a terminated stream.
type ErrStreamClosed struct{}

func (ErrStreamClosed) Error() string { return "stream closed" }

// ErrStreamsExhausted is returned when the 31-bit stream id space wraps.
type ErrStreamsExhausted struct{}

func (ErrStreamsExhausted) Error() string { return "stream ids exhausted" }

// ErrNotResumable is returned when resumption is attempted on a
// session that was not negotiated resumable.
type ErrNotResumable struct{}

func (ErrNotResumable) Error() string { return "connection is not resumable" }

// ErrLeaseExhausted is returned when a request is attempted without an
// available lease permit.
type ErrLeaseExhausted struct{}

func (ErrLeaseExhausted) Error() string { return "no lease permit available" }

// ErrPositionUnavailable is returned when a resume position has been
// trimmed from the cache or never existed.
type ErrPositionUnavailable struct {
	Position int64
}

func (e ErrPositionUnavailable) Error() string {
	return fmt.Sprintf("position %d not available", e.Position)
}

// errFrameTooBig is returned when a frame exceeds FrameMaxSize.
type errFrameTooBig struct{}

func (errFrameTooBig) Error() string { return "frame exceeds maximum size" }

// RemoteError is an error received from the peer as an ERROR frame.
type RemoteError struct {
	Code    ErrorCode
	Message string
}

func (e RemoteError) Error() string {
	return fmt.Sprintf("%v: %s", e.Code, e.Message)
}

// errorFromFrame converts a received ErrorFrame into a RemoteError.
func errorFromFrame(f *ErrorFrame) error {
	return errors.WithStack(RemoteError{Code: f.Code, Message: f.Message})
}

