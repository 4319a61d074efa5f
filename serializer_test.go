package rsock

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSerializer(t *testing.T) *FrameSerializer {
	s, err := NewFrameSerializer(CurrentVersion)
	require.NoError(t, err)
	return s
}

func Test_Serializer_UnsupportedVersion(t *testing.T) {
	_, err := NewFrameSerializer(ProtocolVersion{0, 2})
	assert.Error(t, err)
}

// the expected bytes of a version 1.0 SETUP with keepalive 30000ms,
// lifetime 90000ms, no resume token and payload "hi"
func setupFixture() []byte {
	fixture := []byte{
		0x00, 0x00, 0x00, 0x00, // stream 0
		0x04, 0x00, // type SETUP, no flags
		0x00, 0x01, 0x00, 0x00, // version 1.0
		0x00, 0x00, 0x75, 0x30, // keepalive 30000ms
		0x00, 0x01, 0x5f, 0x90, // max lifetime 90000ms
	}
	mime := DefaultMetadataMimeType
	fixture = append(fixture, byte(len(mime)))
	fixture = append(fixture, mime...)
	fixture = append(fixture, byte(len(mime)))
	fixture = append(fixture, mime...)
	fixture = append(fixture, 'h', 'i')
	return fixture
}

func Test_Serializer_SetupFixture(t *testing.T) {
	s := newSerializer(t)
	fd, err := s.Encode(&SetupFrame{
		Version:          CurrentVersion,
		KeepaliveTime:    30000,
		MaxLifetime:      90000,
		MetadataMimeType: DefaultMetadataMimeType,
		DataMimeType:     DefaultDataMimeType,
		Payload:          Payload{Data: []byte("hi")},
	})
	require.NoError(t, err)
	assert.Equal(t, setupFixture(), []byte(fd))
	FrameDataFree(fd)
}

func roundTrip(t *testing.T, f Frame) Frame {
	s := newSerializer(t)
	fd, err := s.Encode(f)
	require.NoError(t, err)
	// serialize(deserialize(b)) == b
	decoded, err := s.Decode(fd)
	require.NoError(t, err)
	fd2, err := s.Encode(decoded)
	require.NoError(t, err)
	assert.Equal(t, []byte(fd), []byte(fd2))
	FrameDataFree(fd)
	FrameDataFree(fd2)
	// deserialize(serialize(f)) == f
	assert.Equal(t, f, decoded)
	return decoded
}

func Test_Serializer_RoundTrip_Setup(t *testing.T) {
	roundTrip(t, &SetupFrame{
		Flag:             FlagResumeEnable | FlagLease | FlagMetadata,
		Version:          CurrentVersion,
		KeepaliveTime:    500,
		MaxLifetime:      1500,
		Token:            ResumeToken("session-token"),
		MetadataMimeType: "text/plain",
		DataMimeType:     "application/json",
		Payload:          Payload{Metadata: []byte("m"), Data: []byte("d")},
	})
}

func Test_Serializer_RoundTrip_Lease(t *testing.T) {
	roundTrip(t, &LeaseFrame{Flag: FlagMetadata, TimeToLive: 30000, NumRequests: 5, Metadata: []byte("lm")})
	roundTrip(t, &LeaseFrame{TimeToLive: 1, NumRequests: 2})
}

func Test_Serializer_RoundTrip_Keepalive(t *testing.T) {
	roundTrip(t, &KeepaliveFrame{Flag: FlagRespond, Position: 1024, Data: []byte("ka")})
	roundTrip(t, &KeepaliveFrame{Position: 0, Data: []byte{}})
}

func Test_Serializer_RoundTrip_Requests(t *testing.T) {
	roundTrip(t, &RequestResponseFrame{ID: 3, Flag: FlagMetadata, Payload: Payload{Metadata: []byte("m"), Data: []byte("d")}})
	roundTrip(t, &RequestFNFFrame{ID: 1, Payload: Payload{Data: []byte("hi")}})
	roundTrip(t, &RequestStreamFrame{ID: 5, InitialRequestN: 100, Payload: Payload{Data: []byte("s")}})
	roundTrip(t, &RequestChannelFrame{ID: 7, Flag: FlagComplete, InitialRequestN: 1, Payload: Payload{Data: []byte("c")}})
}

func Test_Serializer_RoundTrip_StreamControl(t *testing.T) {
	roundTrip(t, &RequestNFrame{ID: 3, N: 10})
	roundTrip(t, &CancelFrame{ID: 3})
	roundTrip(t, &PayloadFrame{ID: 3, Flag: FlagNext | FlagComplete, Payload: Payload{Data: []byte("p")}})
	roundTrip(t, &ErrorFrame{ID: 3, Code: ErrorCodeApplicationError, Message: "boom"})
	roundTrip(t, &ErrorFrame{Code: ErrorCodeConnectionError, Message: "dead"})
}

func Test_Serializer_RoundTrip_Resume(t *testing.T) {
	roundTrip(t, &MetadataPushFrame{Flag: FlagMetadata, Metadata: []byte("push")})
	roundTrip(t, &ResumeFrame{Version: CurrentVersion, Token: ResumeToken("tok"), LastReceivedServerPosition: 512, ClientPosition: 800})
	roundTrip(t, &ResumeOKFrame{Position: 800})
	roundTrip(t, &ExtFrame{ID: 9, ExtendedType: 0xbeef, Payload: Payload{Data: []byte("x")}})
}

func Test_Serializer_DecodeErrors(t *testing.T) {
	s := newSerializer(t)

	// short buffer
	_, err := s.Decode(FrameData{0x00})
	assert.Error(t, err)

	// reserved stream id bit set
	fd := FrameDataAllocHeader(FrameTypeCancel, 3, 0)
	fd[0] |= 0x80
	_, err = s.Decode(fd)
	assert.Error(t, err)
	FrameDataFree(fd)

	// truncated REQUEST_STREAM (missing initialRequestN)
	fd = FrameDataAllocHeader(FrameTypeRequestStream, 3, 0)
	fd.WriteUint16(1)
	_, err = s.Decode(fd)
	assert.Error(t, err)
	FrameDataFree(fd)

	// metadata length prefix overruns the frame
	fd = FrameDataAllocHeader(FrameTypePayload, 3, FlagMetadata|FlagNext)
	fd.WriteUint24(1000)
	fd.WriteByte('x')
	_, err = s.Decode(fd)
	assert.Error(t, err)
	FrameDataFree(fd)
}

func Test_Serializer_DetectVersion(t *testing.T) {
	s := newSerializer(t)

	fd, err := s.Encode(&SetupFrame{
		Version:          CurrentVersion,
		KeepaliveTime:    1000,
		MaxLifetime:      3000,
		MetadataMimeType: DefaultMetadataMimeType,
		DataMimeType:     DefaultDataMimeType,
	})
	require.NoError(t, err)
	v, err := DetectVersion(fd)
	assert.NoError(t, err)
	assert.Equal(t, CurrentVersion, v)
	FrameDataFree(fd)

	fd, err = s.Encode(&ResumeFrame{Version: CurrentVersion, Token: ResumeToken("t")})
	require.NoError(t, err)
	v, err = DetectVersion(fd)
	assert.NoError(t, err)
	assert.Equal(t, CurrentVersion, v)
	FrameDataFree(fd)

	// detection only works on SETUP and RESUME
	fd, err = s.Encode(&CancelFrame{ID: 1})
	require.NoError(t, err)
	_, err = DetectVersion(fd)
	assert.Error(t, err)
	FrameDataFree(fd)
}
