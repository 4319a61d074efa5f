package rsock

import (
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// WSTransport carries frames as binary WebSocket messages. Message
// transports need no length prefix; one message is one frame.
type WSTransport struct {
	StatsCollector // where to report statistics (optional)

	ws       *websocket.Conn
	mu       sync.Mutex // guards writes and closing
	closed   bool
	closeErr error
	termOnce sync.Once
	receiver FrameReceiver
}

// NewWSTransport returns a transport over an established WebSocket.
func NewWSTransport(ws *websocket.Conn) *WSTransport {
	return &WSTransport{ws: ws}
}

// DialWebsocket connects to a WebSocket URL and returns a transport.
func DialWebsocket(url string) (*WSTransport, error) {
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return NewWSTransport(ws), nil
}

// ReadFrame reads one frame message synchronously. It is used to
// consume the first frame of a connection before a receiver is
// attached; once SetReceiver has been called it must not be used.
func (t *WSTransport) ReadFrame() (fd FrameData, err error) {
	for {
		var mt int
		var msg []byte
		if mt, msg, err = t.ws.ReadMessage(); err != nil {
			return nil, errors.WithStack(err)
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		if len(msg) < FrameHeaderSize {
			return nil, errors.Wrap(ErrInvalidFrame{}, "message below header size")
		}
		fd = FrameDataAlloc()
		fd = append(fd, msg...)
		if t.StatsCollector != nil {
			t.AddBytesRead(int64(len(msg)))
		}
		return fd, nil
	}
}

// SetReceiver attaches the receiver and starts the read loop.
func (t *WSTransport) SetReceiver(r FrameReceiver) {
	t.receiver = r
	go t.readLoop()
}

func (t *WSTransport) readLoop() {
	for {
		fd, err := t.ReadFrame()
		if err != nil {
			t.terminate(err)
			return
		}
		t.receiver.ProcessFrame(fd)
	}
}

func (t *WSTransport) terminate(err error) {
	t.mu.Lock()
	if t.closed && t.closeErr != nil {
		err = t.closeErr
	}
	t.mu.Unlock()
	t.termOnce.Do(func() {
		if t.receiver != nil {
			t.receiver.OnTerminal(err)
		}
	})
}

// Send writes one frame as a binary message. Ownership of the buffer
// passes to the transport.
func (t *WSTransport) Send(fd FrameData) (err error) {
	defer FrameDataFree(fd)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errors.WithStack(ErrConnectionClosed{})
	}
	if err = t.ws.WriteMessage(websocket.BinaryMessage, fd); err != nil {
		return errors.WithStack(err)
	}
	if t.StatsCollector != nil {
		t.AddBytesWritten(int64(len(fd)))
	}
	return
}

// Close closes the underlying WebSocket.
func (t *WSTransport) Close(cause error) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.closeErr = cause
	t.mu.Unlock()
	err := t.ws.Close()
	if t.receiver == nil {
		t.terminate(cause)
	}
	return err
}
