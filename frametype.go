package rsock

import "fmt"

// StreamID identifies a stream multiplexed over a connection.
// Stream zero is reserved for connection-level frames.
type StreamID uint32

func (id StreamID) String() string {
	return fmt.Sprintf("[ID %08x]", uint32(id))
}

// FrameType enumerates the RSocket frame types.
type FrameType uint8

const (
	// FrameTypeReserved is not usable on the wire.
	FrameTypeReserved = FrameType(0x00)
	// FrameTypeSetup starts a connection as a client.
	FrameTypeSetup = FrameType(0x01)
	// FrameTypeLease grants the peer a budget of requests.
	FrameTypeLease = FrameType(0x02)
	// FrameTypeKeepalive probes or confirms connection liveness.
	FrameTypeKeepalive = FrameType(0x03)
	// FrameTypeRequestResponse starts a request expecting a single response.
	FrameTypeRequestResponse = FrameType(0x04)
	// FrameTypeRequestFNF starts a fire-and-forget request.
	FrameTypeRequestFNF = FrameType(0x05)
	// FrameTypeRequestStream starts a request expecting a stream of responses.
	FrameTypeRequestStream = FrameType(0x06)
	// FrameTypeRequestChannel starts a bidirectional stream.
	FrameTypeRequestChannel = FrameType(0x07)
	// FrameTypeRequestN grants the peer stream credits.
	FrameTypeRequestN = FrameType(0x08)
	// FrameTypeCancel cancels an outstanding request.
	FrameTypeCancel = FrameType(0x09)
	// FrameTypePayload carries request or response data.
	FrameTypePayload = FrameType(0x0A)
	// FrameTypeError reports a connection or stream error.
	FrameTypeError = FrameType(0x0B)
	// FrameTypeMetadataPush pushes connection-level metadata.
	FrameTypeMetadataPush = FrameType(0x0C)
	// FrameTypeResume requests resumption of a prior session.
	FrameTypeResume = FrameType(0x0D)
	// FrameTypeResumeOK confirms a resumption.
	FrameTypeResumeOK = FrameType(0x0E)
	// FrameTypeExt is reserved for protocol extensions.
	FrameTypeExt = FrameType(0x3F)
)

var frameTypeTexts = map[FrameType]string{
	FrameTypeReserved:        "RESERVED",
	FrameTypeSetup:           "SETUP",
	FrameTypeLease:           "LEASE",
	FrameTypeKeepalive:       "KEEPALIVE",
	FrameTypeRequestResponse: "REQUEST_RESPONSE",
	FrameTypeRequestFNF:      "REQUEST_FNF",
	FrameTypeRequestStream:   "REQUEST_STREAM",
	FrameTypeRequestChannel:  "REQUEST_CHANNEL",
	FrameTypeRequestN:        "REQUEST_N",
	FrameTypeCancel:          "CANCEL",
	FrameTypePayload:         "PAYLOAD",
	FrameTypeError:           "ERROR",
	FrameTypeMetadataPush:    "METADATA_PUSH",
	FrameTypeResume:          "RESUME",
	FrameTypeResumeOK:        "RESUME_OK",
	FrameTypeExt:             "EXT",
}

func (ft FrameType) String() string {
	if text, ok := frameTypeTexts[ft]; ok {
		return text
	}
	return fmt.Sprintf("FrameType(0x%02x)", uint8(ft))
}

// isNewStreamType returns true for the four frame types that may start
// a new stream.
func isNewStreamType(ft FrameType) bool {
	switch ft {
	case FrameTypeRequestResponse, FrameTypeRequestFNF, FrameTypeRequestStream, FrameTypeRequestChannel:
		return true
	}
	return false
}

// FrameFlags is the 10-bit flag field of a frame header. Flag meanings
// beyond METADATA and IGNORE depend on the frame type.
type FrameFlags uint16

const (
	// FlagIgnore means the frame may be ignored if not understood.
	FlagIgnore = FrameFlags(0x200)
	// FlagMetadata means the frame payload carries metadata.
	FlagMetadata = FrameFlags(0x100)
	// FlagResumeEnable on SETUP requests a resumable session.
	FlagResumeEnable = FrameFlags(0x80)
	// FlagLease on SETUP means the client honors LEASE frames.
	FlagLease = FrameFlags(0x40)
	// FlagRespond on KEEPALIVE requests an echo.
	FlagRespond = FrameFlags(0x80)
	// FlagFollows means more fragments of this frame follow.
	FlagFollows = FrameFlags(0x80)
	// FlagComplete on PAYLOAD or REQUEST_CHANNEL signals stream completion.
	FlagComplete = FrameFlags(0x40)
	// FlagNext on PAYLOAD means payload data is present.
	FlagNext = FrameFlags(0x20)
	// FrameFlagsMask covers all bits usable in the flag field.
	FrameFlagsMask = FrameFlags(0x3ff)
)

// Has returns true if all bits in flag are set.
func (ff FrameFlags) Has(flag FrameFlags) bool {
	return ff&flag == flag
}

// StreamType enumerates the four interaction patterns.
type StreamType uint8

const (
	// StreamTypeRequestResponse is a single request, single response stream.
	StreamTypeRequestResponse = StreamType(iota)
	// StreamTypeFNF is a fire-and-forget request.
	StreamTypeFNF
	// StreamTypeStream is a single request, streamed response.
	StreamTypeStream
	// StreamTypeChannel is a bidirectional stream.
	StreamTypeChannel
)

var streamTypeTexts = map[StreamType]string{
	StreamTypeRequestResponse: "REQUEST_RESPONSE",
	StreamTypeFNF:             "FNF",
	StreamTypeStream:          "STREAM",
	StreamTypeChannel:         "CHANNEL",
}

func (st StreamType) String() string {
	if text, ok := streamTypeTexts[st]; ok {
		return text
	}
	return fmt.Sprintf("StreamType(%d)", uint8(st))
}

// streamTypeForFrameType maps a new-stream frame type to its stream type.
// Only valid when isNewStreamType returns true.
func streamTypeForFrameType(ft FrameType) StreamType {
	switch ft {
	case FrameTypeRequestResponse:
		return StreamTypeRequestResponse
	case FrameTypeRequestFNF:
		return StreamTypeFNF
	case FrameTypeRequestStream:
		return StreamTypeStream
	case FrameTypeRequestChannel:
		return StreamTypeChannel
	}
	panic(fmt.Sprint("streamTypeForFrameType(): not a new-stream frame type ", ft))
}

// ErrorCode enumerates the RSocket ERROR frame codes.
type ErrorCode uint32

const (
	// ErrorCodeInvalidSetup means the SETUP frame was malformed.
	ErrorCodeInvalidSetup = ErrorCode(0x001)
	// ErrorCodeUnsupportedSetup means the SETUP requested an unsupported configuration.
	ErrorCodeUnsupportedSetup = ErrorCode(0x002)
	// ErrorCodeRejectedSetup means the server declined the SETUP.
	ErrorCodeRejectedSetup = ErrorCode(0x003)
	// ErrorCodeRejectedResume means the server could not honor a RESUME.
	ErrorCodeRejectedResume = ErrorCode(0x004)
	// ErrorCodeConnectionError is a fatal connection-level error.
	ErrorCodeConnectionError = ErrorCode(0x101)
	// ErrorCodeConnectionClose signals a graceful connection close.
	ErrorCodeConnectionClose = ErrorCode(0x102)
	// ErrorCodeApplicationError is a stream-level application failure.
	ErrorCodeApplicationError = ErrorCode(0x201)
	// ErrorCodeRejected means the responder declined the request.
	ErrorCodeRejected = ErrorCode(0x202)
	// ErrorCodeCanceled confirms a stream cancellation.
	ErrorCodeCanceled = ErrorCode(0x203)
	// ErrorCodeInvalid means the request was understood but invalid.
	ErrorCodeInvalid = ErrorCode(0x204)
)

var errorCodeTexts = map[ErrorCode]string{
	ErrorCodeInvalidSetup:     "INVALID_SETUP",
	ErrorCodeUnsupportedSetup: "UNSUPPORTED_SETUP",
	ErrorCodeRejectedSetup:    "REJECTED_SETUP",
	ErrorCodeRejectedResume:   "REJECTED_RESUME",
	ErrorCodeConnectionError:  "CONNECTION_ERROR",
	ErrorCodeConnectionClose:  "CONNECTION_CLOSE",
	ErrorCodeApplicationError: "APPLICATION_ERROR",
	ErrorCodeRejected:         "REJECTED",
	ErrorCodeCanceled:         "CANCELED",
	ErrorCodeInvalid:          "INVALID",
}

func (ec ErrorCode) String() string {
	if text, ok := errorCodeTexts[ec]; ok {
		return text
	}
	return fmt.Sprintf("ErrorCode(0x%03x)", uint32(ec))
}
