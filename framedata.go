// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package rsock

import (
	"encoding/hex"
	"fmt"
)

// FrameData is a byte buffer holding one complete frame, starting with
// the frame header. The transport length prefix is not part of it.
type FrameData []byte

// NewFrameData allocates a new FrameData.
func NewFrameData() FrameData {
	return FrameData(make([]byte, 0, 4096))
}

// NewFrameDataHeader allocates a new FrameData with the header written.
func NewFrameDataHeader(ft FrameType, id StreamID, ff FrameFlags) FrameData {
	fd := NewFrameData()
	fd.WriteHeader(ft, id, ff)
	return fd
}

// Clear removes everything in a frame.
func (fd *FrameData) Clear() {
	*fd = (*fd)[:0]
}

func (fd FrameData) String() string {
	var contents string
	if len(fd) > 32 {
		contents = hex.EncodeToString(fd[FrameHeaderSize:32]) + "..."
	} else if len(fd) > FrameHeaderSize {
		contents = hex.EncodeToString(fd[FrameHeaderSize:])
	}
	return fmt.Sprintf("[FrameData %v %v]", fd.Header(), contents)
}

// Header returns the FrameHeader part of a FrameData.
func (fd FrameData) Header() FrameHeader {
	return FrameHeader(fd)
}

// Payload returns the bytes following the frame header.
func (fd FrameData) Payload() []byte {
	return fd[FrameHeaderSize:]
}

// Available returns the number of free bytes in the FrameData.
func (fd FrameData) Available() int {
	return FrameMaxSize - len(fd)
}

// Buffered returns the number of bytes written, including the header.
func (fd FrameData) Buffered() int {
	return len(fd)
}

// WriteHeader initializes the frame header.
func (fd *FrameData) WriteHeader(ft FrameType, id StreamID, ff FrameFlags) {
	if len(*fd) < FrameHeaderSize {
		*fd = (*fd)[:0]
		*fd = append(*fd, make([]byte, FrameHeaderSize)...)
	} else {
		*fd = (*fd)[:FrameHeaderSize]
	}
	fd.Header().SetStreamID(id)
	fd.Header().SetTypeAndFlags(ft, ff)
}

// WriteByte writes a single byte.
func (fd *FrameData) WriteByte(c byte) error {
	*fd = append(*fd, c)
	return nil
}

// Write implements io.Writer for FrameData.
func (fd *FrameData) Write(p []byte) (n int, err error) {
	*fd = append(*fd, p...)
	return len(p), nil
}

// WriteUint16 writes an uint16 in big-endian byte order.
func (fd *FrameData) WriteUint16(x uint16) {
	*fd = append(*fd, byte(x>>8), byte(x))
}

// WriteUint24 writes the low 24 bits of x in big-endian byte order.
func (fd *FrameData) WriteUint24(x uint32) {
	*fd = append(*fd, byte(x>>16), byte(x>>8), byte(x))
}

// WriteUint32 writes an uint32 in big-endian byte order.
func (fd *FrameData) WriteUint32(x uint32) {
	*fd = append(*fd, byte(x>>24), byte(x>>16), byte(x>>8), byte(x))
}

// WriteUint64 writes an uint64 in big-endian byte order.
func (fd *FrameData) WriteUint64(x uint64) {
	fd.WriteUint32(uint32(x >> 32))
	fd.WriteUint32(uint32(x))
}

// WriteInt64 writes an int64 in big-endian byte order.
func (fd *FrameData) WriteInt64(x int64) {
	fd.WriteUint64(uint64(x))
}

// WriteMimeType writes a MIME type string with its one-byte length prefix.
func (fd *FrameData) WriteMimeType(s string) error {
	if len(s) > 0xff {
		return errFrameTooBig{}
	}
	*fd = append(*fd, byte(len(s)))
	*fd = append(*fd, s...)
	return nil
}

// WritePayload writes a frame payload: the metadata with its 24-bit
// length prefix when present, followed by the data occupying the frame
// remainder. The METADATA flag in the header must agree with p.
func (fd *FrameData) WritePayload(p Payload) {
	if p.Metadata != nil {
		fd.WriteUint24(uint32(len(p.Metadata)))
		*fd = append(*fd, p.Metadata...)
	}
	*fd = append(*fd, p.Data...)
}
