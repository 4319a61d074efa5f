// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package rsock

import (
	"bufio"
	"io"
	"net"
	"sync"

	"github.com/pkg/errors"
)

// TCPTransport frames a stream connection with the 3-byte big-endian
// length prefix the protocol specifies for stream transports. It works
// over any io.ReadWriteCloser, not just TCP sockets.
type TCPTransport struct {
	StatsCollector // where to report statistics (optional)

	rwc      io.ReadWriteCloser
	br       *bufio.Reader
	mu       sync.Mutex // guards bw and closing
	bw       *bufio.Writer
	closed   bool
	closeErr error
	termOnce sync.Once
	receiver FrameReceiver
}

// NewTCPTransport returns a transport framing the given connection.
func NewTCPTransport(rwc io.ReadWriteCloser) *TCPTransport {
	return &TCPTransport{
		rwc: rwc,
		br:  bufio.NewReaderSize(rwc, 64*1024),
		bw:  bufio.NewWriterSize(rwc, 64*1024),
	}
}

// Dial connects to a TCP address and returns a transport over it.
func Dial(addr string) (*TCPTransport, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return NewTCPTransport(conn), nil
}

// ReadFrame reads one length-prefixed frame synchronously. It is used
// to consume the first frame of a connection before a receiver is
// attached; once SetReceiver has been called it must not be used.
func (t *TCPTransport) ReadFrame() (fd FrameData, err error) {
	var prefix [LengthPrefixSize]byte
	if _, err = io.ReadFull(t.br, prefix[:]); err != nil {
		return nil, errors.WithStack(err)
	}
	n := int(prefix[0])<<16 | int(prefix[1])<<8 | int(prefix[2])
	if n < FrameHeaderSize {
		return nil, errors.Wrap(ErrInvalidFrame{}, "length prefix below header size")
	}
	fd = FrameDataAlloc()
	fd = append(fd, make([]byte, n)...)
	if _, err = io.ReadFull(t.br, fd); err != nil {
		FrameDataFree(fd)
		return nil, errors.WithStack(err)
	}
	if t.StatsCollector != nil {
		t.AddBytesRead(int64(LengthPrefixSize + n))
	}
	return fd, nil
}

// SetReceiver attaches the receiver and starts the read loop.
func (t *TCPTransport) SetReceiver(r FrameReceiver) {
	t.receiver = r
	go t.readLoop()
}

func (t *TCPTransport) readLoop() {
	for {
		fd, err := t.ReadFrame()
		if err != nil {
			t.terminate(err)
			return
		}
		t.receiver.ProcessFrame(fd)
	}
}

func (t *TCPTransport) terminate(err error) {
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

// Send writes one length-prefixed frame and flushes it. Ownership of
// the buffer passes to the transport.
func (t *TCPTransport) Send(fd FrameData) (err error) {
	defer FrameDataFree(fd)
	if len(fd) > FrameMaxSize {
		return errors.WithStack(errFrameTooBig{})
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errors.WithStack(ErrConnectionClosed{})
	}
	n := len(fd)
	prefix := [LengthPrefixSize]byte{byte(n >> 16), byte(n >> 8), byte(n)}
	if _, err = t.bw.Write(prefix[:]); err == nil {
		if _, err = t.bw.Write(fd); err == nil {
			err = t.bw.Flush()
		}
	}
	if err == nil {
		if t.StatsCollector != nil {
			t.AddBytesWritten(int64(LengthPrefixSize + n))
		}
	} else {
		err = errors.WithStack(err)
	}
	return
}

// Close closes the underlying connection. The cause is reported to the
// receiver by the read loop when it observes the closure.
func (t *TCPTransport) Close(cause error) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.closeErr = cause
	t.mu.Unlock()
	err := t.rwc.Close()
	if t.receiver == nil {
		// no read loop to observe the closure
		t.terminate(cause)
	}
	return err
}
