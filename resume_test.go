package rsock

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeResumableFrame(t *testing.T, id StreamID, data string) FrameData {
	s := newSerializer(t)
	fd, err := s.Encode(&RequestFNFFrame{ID: id, Payload: Payload{Data: []byte(data)}})
	require.NoError(t, err)
	return fd
}

func Test_Resume_TrackSentPositions(t *testing.T) {
	rm := NewResumeManager(0)
	assert.Equal(t, int64(0), rm.FirstSentPosition())
	assert.Equal(t, int64(0), rm.LastSentPosition())

	fd1 := makeResumableFrame(t, 1, "one")
	fd2 := makeResumableFrame(t, 3, "twotwo")
	len1, len2 := int64(len(fd1)), int64(len(fd2))
	rm.TrackSentFrame(fd1)
	rm.TrackSentFrame(fd2)
	FrameDataFree(fd1)
	FrameDataFree(fd2)

	assert.Equal(t, int64(0), rm.FirstSentPosition())
	assert.Equal(t, len1+len2, rm.LastSentPosition())
	assert.True(t, rm.IsPositionAvailable(0))
	assert.True(t, rm.IsPositionAvailable(len1))
	assert.True(t, rm.IsPositionAvailable(len1+len2))
	assert.False(t, rm.IsPositionAvailable(1))
	assert.False(t, rm.IsPositionAvailable(len1+len2+1))
}

func Test_Resume_ConnectionFramesNotTracked(t *testing.T) {
	s := newSerializer(t)
	rm := NewResumeManager(0)
	fd, err := s.Encode(&KeepaliveFrame{Flag: FlagRespond, Position: 0})
	require.NoError(t, err)
	rm.TrackSentFrame(fd)
	rm.TrackReceivedFrame(fd)
	FrameDataFree(fd)
	assert.Equal(t, int64(0), rm.LastSentPosition())
	assert.Equal(t, int64(0), rm.LastReceivedPosition())
}

func Test_Resume_TrackReceived(t *testing.T) {
	rm := NewResumeManager(0)
	fd := makeResumableFrame(t, 1, "data")
	rm.TrackReceivedFrame(fd)
	assert.Equal(t, int64(len(fd)), rm.LastReceivedPosition())
	FrameDataFree(fd)
}

// a frame sent at position P is replayed exactly once for any Q <= P
func Test_Resume_ReplayIncludesFrameOnce(t *testing.T) {
	rm := NewResumeManager(0)
	fd1 := makeResumableFrame(t, 1, "first")
	fd2 := makeResumableFrame(t, 3, "second")
	want1 := append([]byte(nil), fd1...)
	want2 := append([]byte(nil), fd2...)
	len1 := int64(len(fd1))
	rm.TrackSentFrame(fd1)
	rm.TrackSentFrame(fd2)
	FrameDataFree(fd1)
	FrameDataFree(fd2)

	var replayed [][]byte
	err := rm.FramesFromPosition(0, func(fd FrameData) error {
		replayed = append(replayed, append([]byte(nil), fd...))
		FrameDataFree(fd)
		return nil
	})
	assert.NoError(t, err)
	require.Equal(t, 2, len(replayed))
	assert.Equal(t, want1, replayed[0])
	assert.Equal(t, want2, replayed[1])

	replayed = nil
	err = rm.FramesFromPosition(len1, func(fd FrameData) error {
		replayed = append(replayed, append([]byte(nil), fd...))
		FrameDataFree(fd)
		return nil
	})
	assert.NoError(t, err)
	require.Equal(t, 1, len(replayed))
	assert.Equal(t, want2, replayed[0])

	// replay from the high-water mark is empty
	replayed = nil
	err = rm.FramesFromPosition(rm.LastSentPosition(), func(fd FrameData) error {
		replayed = append(replayed, fd)
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 0, len(replayed))
}

func Test_Resume_ReleaseFrames(t *testing.T) {
	rm := NewResumeManager(0)
	fd1 := makeResumableFrame(t, 1, "first")
	fd2 := makeResumableFrame(t, 3, "second")
	len1 := int64(len(fd1))
	rm.TrackSentFrame(fd1)
	rm.TrackSentFrame(fd2)
	FrameDataFree(fd1)
	FrameDataFree(fd2)

	assert.NoError(t, rm.ReleaseFramesUpTo(len1))
	assert.Equal(t, len1, rm.FirstSentPosition())
	assert.False(t, rm.IsPositionAvailable(0))
	assert.True(t, rm.IsPositionAvailable(len1))

	assert.Error(t, rm.ReleaseFramesUpTo(0))
	assert.Error(t, rm.ReleaseFramesUpTo(rm.LastSentPosition()+1))
}

func Test_Resume_CapacityEviction(t *testing.T) {
	fd := makeResumableFrame(t, 1, "0123456789")
	defer FrameDataFree(fd)
	rm := NewResumeManager(len(fd) * 2)

	for i := 0; i < 5; i++ {
		rm.TrackSentFrame(fd)
	}
	// only the last two frames fit
	assert.Equal(t, int64(len(fd)*3), rm.FirstSentPosition())
	assert.Equal(t, int64(len(fd)*5), rm.LastSentPosition())
	assert.False(t, rm.IsPositionAvailable(0))

	// replaying from an evicted position fails
	err := rm.FramesFromPosition(0, func(fd FrameData) error {
		FrameDataFree(fd)
		return nil
	})
	assert.Error(t, err)
}
