package rsock

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func getHeader(t *testing.T) (fh FrameHeader) {
	fd := NewFrameData()
	fd.WriteHeader(FrameTypeReserved, 0, 0)
	assert.NotNil(t, fd)
	assert.Equal(t, FrameHeaderSize, len(fd))
	fh = fd.Header()
	assert.NotNil(t, fh)
	return
}

func Test_FrameHeader_IsBlank(t *testing.T) {
	fh := getHeader(t)
	assert.Equal(t, StreamID(0), fh.StreamID())
	assert.Equal(t, FrameTypeReserved, fh.Type())
	assert.Equal(t, FrameFlags(0), fh.Flags())
	assert.False(t, fh.HasMetadata())
	assert.False(t, fh.HasFollows())
	assert.True(t, fh.IsConnectionFrame())
}

func Test_FrameHeader_StreamIDRange(t *testing.T) {
	fh := getHeader(t)
	fh.SetStreamID(1)
	assert.Equal(t, StreamID(1), fh.StreamID())
	fh.SetStreamID(MaxStreamID)
	assert.Equal(t, MaxStreamID, fh.StreamID())
	assert.False(t, fh.IsConnectionFrame())
	assert.Panics(t, func() { fh.SetStreamID(MaxStreamID + 1) })
}

func Test_FrameHeader_TypeAndFlags(t *testing.T) {
	fh := getHeader(t)
	fh.SetTypeAndFlags(FrameTypePayload, FlagNext|FlagComplete)
	assert.Equal(t, FrameTypePayload, fh.Type())
	assert.Equal(t, FlagNext|FlagComplete, fh.Flags())
	fh.SetFlags(FlagFollows | FlagMetadata)
	assert.Equal(t, FrameTypePayload, fh.Type())
	assert.True(t, fh.HasFollows())
	assert.True(t, fh.HasMetadata())
	fh.SetTypeAndFlags(FrameTypeExt, FrameFlagsMask)
	assert.Equal(t, FrameTypeExt, fh.Type())
	assert.Equal(t, FrameFlagsMask, fh.Flags())
}

func Test_FrameHeader_Clear(t *testing.T) {
	fh := getHeader(t)
	fh.SetStreamID(0x1234)
	fh.SetTypeAndFlags(FrameTypeSetup, FlagLease)
	fh.Clear()
	assert.Equal(t, StreamID(0), fh.StreamID())
	assert.Equal(t, FrameTypeReserved, fh.Type())
	assert.Equal(t, FrameFlags(0), fh.Flags())
}

func Test_FrameHeader_String(t *testing.T) {
	fh := getHeader(t)
	fh.SetStreamID(1)
	fh.SetTypeAndFlags(FrameTypeKeepalive, FlagRespond)
	assert.Equal(t, "[FrameHeader [ID 00000001] KEEPALIVE 080 (6)]", fh.String())
}
