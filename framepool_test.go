package rsock

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_FramePool_AllocFree(t *testing.T) {
	fd := FrameDataAlloc()
	assert.NotNil(t, fd)
	assert.Equal(t, 0, len(fd))
	FrameDataFree(fd)
	fd2 := FrameDataAlloc()
	assert.NotNil(t, fd2)
	assert.Equal(t, 0, len(fd2))
	FrameDataFree(fd2)
}

func Test_FramePool_AllocHeader(t *testing.T) {
	fd := FrameDataAllocHeader(FrameTypeCancel, 9, 0)
	assert.Equal(t, FrameHeaderSize, len(fd))
	assert.Equal(t, FrameTypeCancel, fd.Header().Type())
	assert.Equal(t, StreamID(9), fd.Header().StreamID())
	FrameDataFree(fd)
}

func Test_FramePool_FreeNil(t *testing.T) {
	assert.NotPanics(t, func() { FrameDataFree(nil) })
}
