package rsock

import (
	"encoding/hex"
	"fmt"

	"github.com/pkg/errors"
)

// FrameParser reads frame payload fields from a byte slice. The first
// read past the end of the buffer sets a sticky error and all further
// reads return zero values.
type FrameParser struct {
	buf []byte
	err error
}

// NewFrameParser returns a FrameParser over the payload of a FrameData.
func NewFrameParser(fd FrameData) *FrameParser {
	return &FrameParser{buf: fd.Payload()}
}

func (fp *FrameParser) String() string {
	switch {
	case len(fp.buf) < 1:
		return "[FrameParser 0]"
	case len(fp.buf) < 32:
		return fmt.Sprintf("[FrameParser %v %v]", len(fp.buf), hex.EncodeToString(fp.buf))
	default:
		return fmt.Sprintf("[FrameParser %v %v...]", len(fp.buf), hex.EncodeToString(fp.buf[:32]))
	}
}

// Err returns the sticky error, if any.
func (fp *FrameParser) Err() error {
	return fp.err
}

// Remaining returns the number of unread bytes.
func (fp *FrameParser) Remaining() int {
	return len(fp.buf)
}

func (fp *FrameParser) take(n int) (b []byte) {
	if fp.err == nil {
		if n < 0 || n > len(fp.buf) {
			fp.err = errors.WithStack(ErrInvalidFrame{})
			return
		}
		b = fp.buf[:n]
		fp.buf = fp.buf[n:]
	}
	return
}

// ReadByte reads a single byte.
func (fp *FrameParser) ReadByte() (c byte) {
	if b := fp.take(1); b != nil {
		c = b[0]
	}
	return
}

// ReadUint16 reads a big-endian uint16.
func (fp *FrameParser) ReadUint16() (x uint16) {
	if b := fp.take(2); b != nil {
		x = uint16(b[0])<<8 | uint16(b[1])
	}
	return
}

// ReadUint24 reads a big-endian 24-bit value.
func (fp *FrameParser) ReadUint24() (x uint32) {
	if b := fp.take(3); b != nil {
		x = uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
	}
	return
}

// ReadUint32 reads a big-endian uint32.
func (fp *FrameParser) ReadUint32() (x uint32) {
	if b := fp.take(4); b != nil {
		x = uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	}
	return
}

// ReadUint64 reads a big-endian uint64.
func (fp *FrameParser) ReadUint64() (x uint64) {
	x = uint64(fp.ReadUint32()) << 32
	x |= uint64(fp.ReadUint32())
	return
}

// ReadInt64 reads a big-endian int64.
func (fp *FrameParser) ReadInt64() int64 {
	return int64(fp.ReadUint64())
}

// ReadBytes reads n bytes as a copy. The copy is non-nil even when
// n is zero, so presence round-trips exactly.
func (fp *FrameParser) ReadBytes(n int) (b []byte) {
	if taken := fp.take(n); taken != nil || (n == 0 && fp.err == nil) {
		b = make([]byte, n)
		copy(b, taken)
	}
	return
}

// ReadMimeType reads a MIME type string with its one-byte length prefix.
func (fp *FrameParser) ReadMimeType() string {
	n := int(fp.ReadByte())
	return string(fp.take(n))
}

// ReadRest reads all remaining bytes as a copy.
func (fp *FrameParser) ReadRest() []byte {
	return fp.ReadBytes(len(fp.buf))
}

// ReadPayload reads a frame payload: metadata with its 24-bit length
// prefix when hasMetadata is true, then data occupying the remainder.
func (fp *FrameParser) ReadPayload(hasMetadata bool) (p Payload) {
	if hasMetadata {
		n := int(fp.ReadUint24())
		if p.Metadata = fp.ReadBytes(n); p.Metadata == nil {
			p.Metadata = []byte{}
		}
	}
	p.Data = fp.ReadRest()
	return
}
