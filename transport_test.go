package rsock

import (
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingStats struct {
	written int64
	read    int64
}

func (cs *countingStats) AddBytesWritten(n int64) { atomic.AddInt64(&cs.written, n) }
func (cs *countingStats) AddBytesRead(n int64)    { atomic.AddInt64(&cs.read, n) }

func Test_TCPTransport_FrameRoundTrip(t *testing.T) {
	a, b := net.Pipe()
	ta := NewTCPTransport(a)
	tb := NewTCPTransport(b)
	stats := &countingStats{}
	ta.StatsCollector = stats

	s := newSerializer(t)
	fd, err := s.Encode(&RequestFNFFrame{ID: 1, Payload: Payload{Data: []byte("over tcp")}})
	require.NoError(t, err)
	want := append([]byte(nil), fd...)
	wireLen := int64(LengthPrefixSize + len(fd))

	go func() {
		_ = ta.Send(fd)
	}()
	got, err := tb.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, want, []byte(got))
	FrameDataFree(got)
	waitFor(t, time.Second, func() bool { return atomic.LoadInt64(&stats.written) == wireLen })

	_ = ta.Close(nil)
	_ = tb.Close(nil)
}

func Test_TCPTransport_ReceiverDelivery(t *testing.T) {
	a, b := net.Pipe()
	ta := NewTCPTransport(a)
	tb := NewTCPTransport(b)

	frames := make(chan FrameData, 4)
	terminal := make(chan error, 1)
	tb.SetReceiver(&chanReceiver{frames: frames, terminal: terminal})

	s := newSerializer(t)
	for _, text := range []string{"one", "two"} {
		fd, err := s.Encode(&RequestFNFFrame{ID: 1, Payload: Payload{Data: []byte(text)}})
		require.NoError(t, err)
		require.NoError(t, ta.Send(fd))
	}
	for _, text := range []string{"one", "two"} {
		select {
		case fd := <-frames:
			f, err := s.Decode(fd)
			FrameDataFree(fd)
			require.NoError(t, err)
			assert.Equal(t, []byte(text), f.(*RequestFNFFrame).Payload.Data)
		case <-time.After(time.Second):
			t.Fatal("frame not delivered")
		}
	}

	// closing the far end terminates the receiver exactly once
	_ = ta.Close(nil)
	select {
	case err := <-terminal:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("terminal not delivered")
	}
	_ = tb.Close(nil)
}

type chanReceiver struct {
	frames   chan FrameData
	terminal chan error
	once     sync.Once
}

func (cr *chanReceiver) ProcessFrame(fd FrameData) {
	cr.frames <- fd
}

func (cr *chanReceiver) OnTerminal(err error) {
	cr.once.Do(func() { cr.terminal <- err })
}

func Test_TCPTransport_RejectsShortLengthPrefix(t *testing.T) {
	a, b := net.Pipe()
	tb := NewTCPTransport(b)
	go func() {
		// length prefix below the header size
		a.Write([]byte{0x00, 0x00, 0x01, 0xff})
		a.Close()
	}()
	_, err := tb.ReadFrame()
	assert.Error(t, err)
	_ = tb.Close(nil)
}

func Test_TCPTransport_SendAfterClose(t *testing.T) {
	a, _ := net.Pipe()
	ta := NewTCPTransport(a)
	require.NoError(t, ta.Close(nil))
	fd := FrameDataAllocHeader(FrameTypeCancel, 1, 0)
	assert.Error(t, ta.Send(fd))
}
