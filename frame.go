// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package rsock

import "fmt"

// Payload is the user-visible content of a frame: optional metadata and
// data. Metadata is present on the wire iff it is non-nil.
type Payload struct {
	Metadata []byte
	Data     []byte
}

// HasMetadata returns true if the payload carries metadata.
func (p Payload) HasMetadata() bool {
	return p.Metadata != nil
}

func (p Payload) String() string {
	return fmt.Sprintf("[Payload m=%d d=%d]", len(p.Metadata), len(p.Data))
}

// Frame is the tagged sum of all frame variants. A decoded Frame owns
// its byte slices; they do not alias the wire buffer.
type Frame interface {
	// Type returns the frame type tag.
	Type() FrameType
	// StreamID returns the stream the frame is addressed to,
	// zero for connection-level frames.
	StreamID() StreamID
	// Flags returns the frame flag field.
	Flags() FrameFlags
}

// ProtocolVersion is a protocol version pair.
type ProtocolVersion struct {
	Major uint16
	Minor uint16
}

// CurrentVersion is the protocol version this package implements.
var CurrentVersion = ProtocolVersion{1, 0}

func (v ProtocolVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// ResumeToken is an opaque byte string identifying a resumable session.
type ResumeToken []byte

func (t ResumeToken) String() string {
	return fmt.Sprintf("[ResumeToken %x]", []byte(t))
}

// SetupFrame starts a connection.
type SetupFrame struct {
	Flag             FrameFlags
	Version          ProtocolVersion
	KeepaliveTime    uint32 // milliseconds
	MaxLifetime      uint32 // milliseconds
	Token            ResumeToken
	MetadataMimeType string
	DataMimeType     string
	Payload          Payload
}

func (f *SetupFrame) Type() FrameType    { return FrameTypeSetup }
func (f *SetupFrame) StreamID() StreamID { return 0 }
func (f *SetupFrame) Flags() FrameFlags  { return f.Flag }

// Resumable returns true if the RESUME_ENABLE flag is set.
func (f *SetupFrame) Resumable() bool { return f.Flag.Has(FlagResumeEnable) }

// HonorsLease returns true if the LEASE flag is set.
func (f *SetupFrame) HonorsLease() bool { return f.Flag.Has(FlagLease) }

// LeaseFrame grants the peer a time-bounded budget of requests.
type LeaseFrame struct {
	Flag        FrameFlags
	TimeToLive  uint32 // milliseconds
	NumRequests uint32
	Metadata    []byte
}

func (f *LeaseFrame) Type() FrameType    { return FrameTypeLease }
func (f *LeaseFrame) StreamID() StreamID { return 0 }
func (f *LeaseFrame) Flags() FrameFlags  { return f.Flag }

// KeepaliveFrame probes or confirms liveness. Position is the sender's
// last received resumable position.
type KeepaliveFrame struct {
	Flag     FrameFlags
	Position int64
	Data     []byte
}

func (f *KeepaliveFrame) Type() FrameType    { return FrameTypeKeepalive }
func (f *KeepaliveFrame) StreamID() StreamID { return 0 }
func (f *KeepaliveFrame) Flags() FrameFlags  { return f.Flag }

// Respond returns true if the peer requests an echo.
func (f *KeepaliveFrame) Respond() bool { return f.Flag.Has(FlagRespond) }

// RequestResponseFrame starts a request expecting a single response.
type RequestResponseFrame struct {
	ID      StreamID
	Flag    FrameFlags
	Payload Payload
}

func (f *RequestResponseFrame) Type() FrameType    { return FrameTypeRequestResponse }
func (f *RequestResponseFrame) StreamID() StreamID { return f.ID }
func (f *RequestResponseFrame) Flags() FrameFlags  { return f.Flag }

// RequestFNFFrame starts a fire-and-forget request.
type RequestFNFFrame struct {
	ID      StreamID
	Flag    FrameFlags
	Payload Payload
}

func (f *RequestFNFFrame) Type() FrameType    { return FrameTypeRequestFNF }
func (f *RequestFNFFrame) StreamID() StreamID { return f.ID }
func (f *RequestFNFFrame) Flags() FrameFlags  { return f.Flag }

// RequestStreamFrame starts a request expecting a stream of responses.
type RequestStreamFrame struct {
	ID              StreamID
	Flag            FrameFlags
	InitialRequestN uint32
	Payload         Payload
}

func (f *RequestStreamFrame) Type() FrameType    { return FrameTypeRequestStream }
func (f *RequestStreamFrame) StreamID() StreamID { return f.ID }
func (f *RequestStreamFrame) Flags() FrameFlags  { return f.Flag }

// RequestChannelFrame starts a bidirectional stream.
type RequestChannelFrame struct {
	ID              StreamID
	Flag            FrameFlags
	InitialRequestN uint32
	Payload         Payload
}

func (f *RequestChannelFrame) Type() FrameType    { return FrameTypeRequestChannel }
func (f *RequestChannelFrame) StreamID() StreamID { return f.ID }
func (f *RequestChannelFrame) Flags() FrameFlags  { return f.Flag }

// RequestNFrame grants the peer N more stream credits.
type RequestNFrame struct {
	ID   StreamID
	Flag FrameFlags
	N    uint32
}

func (f *RequestNFrame) Type() FrameType    { return FrameTypeRequestN }
func (f *RequestNFrame) StreamID() StreamID { return f.ID }
func (f *RequestNFrame) Flags() FrameFlags  { return f.Flag }

// CancelFrame cancels an outstanding request.
type CancelFrame struct {
	ID   StreamID
	Flag FrameFlags
}

func (f *CancelFrame) Type() FrameType    { return FrameTypeCancel }
func (f *CancelFrame) StreamID() StreamID { return f.ID }
func (f *CancelFrame) Flags() FrameFlags  { return f.Flag }

// PayloadFrame carries stream data and completion signals.
type PayloadFrame struct {
	ID      StreamID
	Flag    FrameFlags
	Payload Payload
}

func (f *PayloadFrame) Type() FrameType    { return FrameTypePayload }
func (f *PayloadFrame) StreamID() StreamID { return f.ID }
func (f *PayloadFrame) Flags() FrameFlags  { return f.Flag }

// Next returns true if the frame carries payload data.
func (f *PayloadFrame) Next() bool { return f.Flag.Has(FlagNext) }

// Complete returns true if the frame completes the stream.
func (f *PayloadFrame) Complete() bool { return f.Flag.Has(FlagComplete) }

// Follows returns true if more fragments follow.
func (f *PayloadFrame) Follows() bool { return f.Flag.Has(FlagFollows) }

// ErrorFrame reports a connection error (stream zero) or stream error.
type ErrorFrame struct {
	ID      StreamID
	Flag    FrameFlags
	Code    ErrorCode
	Message string
}

func (f *ErrorFrame) Type() FrameType    { return FrameTypeError }
func (f *ErrorFrame) StreamID() StreamID { return f.ID }
func (f *ErrorFrame) Flags() FrameFlags  { return f.Flag }

func (f *ErrorFrame) String() string {
	return fmt.Sprintf("[ErrorFrame %v %v %q]", f.ID, f.Code, f.Message)
}

// NewConnectionError returns an ErrorFrame addressed to stream zero.
func NewConnectionError(code ErrorCode, message string) *ErrorFrame {
	return &ErrorFrame{Code: code, Message: message}
}

// NewStreamError returns an ErrorFrame for the given stream.
// The stream id must not be zero.
func NewStreamError(code ErrorCode, id StreamID, message string) *ErrorFrame {
	if id == 0 {
		panic("NewStreamError(): stream id is zero")
	}
	return &ErrorFrame{ID: id, Code: code, Message: message}
}

// MetadataPushFrame pushes connection-level metadata.
type MetadataPushFrame struct {
	Flag     FrameFlags
	Metadata []byte
}

func (f *MetadataPushFrame) Type() FrameType    { return FrameTypeMetadataPush }
func (f *MetadataPushFrame) StreamID() StreamID { return 0 }
func (f *MetadataPushFrame) Flags() FrameFlags  { return f.Flag }

// ResumeFrame requests resumption of a prior session.
type ResumeFrame struct {
	Flag                       FrameFlags
	Version                    ProtocolVersion
	Token                      ResumeToken
	LastReceivedServerPosition int64
	ClientPosition             int64
}

func (f *ResumeFrame) Type() FrameType    { return FrameTypeResume }
func (f *ResumeFrame) StreamID() StreamID { return 0 }
func (f *ResumeFrame) Flags() FrameFlags  { return f.Flag }

// ResumeOKFrame confirms a resumption. Position is the server's last
// received client position.
type ResumeOKFrame struct {
	Flag     FrameFlags
	Position int64
}

func (f *ResumeOKFrame) Type() FrameType    { return FrameTypeResumeOK }
func (f *ResumeOKFrame) StreamID() StreamID { return 0 }
func (f *ResumeOKFrame) Flags() FrameFlags  { return f.Flag }

// ExtFrame is a protocol extension frame.
type ExtFrame struct {
	ID           StreamID
	Flag         FrameFlags
	ExtendedType uint32
	Payload      Payload
}

func (f *ExtFrame) Type() FrameType    { return FrameTypeExt }
func (f *ExtFrame) StreamID() StreamID { return f.ID }
func (f *ExtFrame) Flags() FrameFlags  { return f.Flag }
