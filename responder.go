package rsock

import "github.com/pkg/errors"

// ResponderStream is the sink handed to responder handlers for the
// streamed interaction types. Send, Complete and SendError may be
// called from any goroutine.
type ResponderStream interface {
	ID() StreamID
	Send(p Payload) error
	Complete() error
	SendError(code ErrorCode, message string) error
	// Allowance returns the credits granted by the requester.
	Allowance() uint32
	// SetReceiver attaches a sink for inbound channel payloads. Call
	// it before returning from HandleRequestChannel or inbound
	// payloads will be dropped.
	SetReceiver(r StreamReceiver)
}

// Responder handles requests arriving on a connection. Handlers run on
// the connection's frame delivery goroutine; a handler that wants to
// emit payloads over time should hand its ResponderStream to another
// goroutine and return.
type Responder interface {
	// HandleFireAndForget observes a fire-and-forget request.
	HandleFireAndForget(p Payload) error
	// HandleRequestResponse produces the single response.
	HandleRequestResponse(p Payload) (Payload, error)
	// HandleRequestStream starts serving a response stream.
	HandleRequestStream(p Payload, stream ResponderStream) error
	// HandleRequestChannel starts serving a bidirectional stream.
	HandleRequestChannel(p Payload, stream ResponderStream) error
	// HandleMetadataPush observes pushed connection metadata.
	HandleMetadataPush(metadata []byte) error
}

// ErrNotImplemented is returned by NopResponder for request types the
// application did not override.
type ErrNotImplemented struct{}

func (ErrNotImplemented) Error() string { return "not implemented" }

// NopResponder rejects request/response, request/stream and
// request/channel requests, and discards fire-and-forget requests and
// pushed metadata. Embed it to implement only some of the Responder
// interface.
type NopResponder struct{}

// HandleFireAndForget discards the request.
func (NopResponder) HandleFireAndForget(p Payload) error { return nil }

// HandleRequestResponse rejects the request.
func (NopResponder) HandleRequestResponse(p Payload) (Payload, error) {
	return Payload{}, errors.WithStack(ErrNotImplemented{})
}

// HandleRequestStream rejects the request.
func (NopResponder) HandleRequestStream(p Payload, stream ResponderStream) error {
	return errors.WithStack(ErrNotImplemented{})
}

// HandleRequestChannel rejects the request.
func (NopResponder) HandleRequestChannel(p Payload, stream ResponderStream) error {
	return errors.WithStack(ErrNotImplemented{})
}

// HandleMetadataPush discards the metadata.
func (NopResponder) HandleMetadataPush(metadata []byte) error { return nil }
