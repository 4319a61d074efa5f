// frameheader.go

// A frame header consists of six bytes. The first four bytes are the
// stream identifier, big-endian, with the high bit reserved and zero.
// The last two bytes hold the 6-bit frame type in the high bits and the
// 10-bit flag field in the low bits.

package rsock

import "fmt"

// FrameHeader is a view over the first six bytes of a frame buffer.
type FrameHeader []byte

// StreamID returns the stream identifier of the frame.
func (fh FrameHeader) StreamID() StreamID {
	return StreamID(uint32(fh[0])<<24 | uint32(fh[1])<<16 | uint32(fh[2])<<8 | uint32(fh[3]))
}

// SetStreamID sets the stream identifier.
func (fh FrameHeader) SetStreamID(id StreamID) {
	if id > MaxStreamID {
		panic("SetStreamID(): id > MaxStreamID")
	}
	fh[0] = byte(id >> 24)
	fh[1] = byte(id >> 16)
	fh[2] = byte(id >> 8)
	fh[3] = byte(id)
}

// typeAndFlags returns the raw 16-bit type-and-flags field.
func (fh FrameHeader) typeAndFlags() uint16 {
	return uint16(fh[4])<<8 | uint16(fh[5])
}

// setTypeAndFlags sets the raw 16-bit type-and-flags field.
func (fh FrameHeader) setTypeAndFlags(n uint16) {
	fh[4] = byte(n >> 8)
	fh[5] = byte(n)
}

// Type returns the frame type.
func (fh FrameHeader) Type() FrameType {
	return FrameType(fh.typeAndFlags() >> 10)
}

// Flags returns the frame flag field.
func (fh FrameHeader) Flags() FrameFlags {
	return FrameFlags(fh.typeAndFlags()) & FrameFlagsMask
}

// SetTypeAndFlags sets the frame type and flag field.
func (fh FrameHeader) SetTypeAndFlags(ft FrameType, ff FrameFlags) {
	fh.setTypeAndFlags(uint16(ft)<<10 | uint16(ff&FrameFlagsMask))
}

// SetFlags replaces the flag field, leaving the type unchanged.
func (fh FrameHeader) SetFlags(ff FrameFlags) {
	fh.SetTypeAndFlags(fh.Type(), ff)
}

// HasMetadata returns true if the METADATA flag is set.
func (fh FrameHeader) HasMetadata() bool {
	return fh.Flags().Has(FlagMetadata)
}

// HasFollows returns true if the FOLLOWS flag is set.
func (fh FrameHeader) HasFollows() bool {
	return fh.Flags().Has(FlagFollows)
}

// IsConnectionFrame returns true if the frame is addressed to stream zero.
func (fh FrameHeader) IsConnectionFrame() bool {
	return fh.StreamID() == 0
}

// Clear zeroes out the frame header bytes.
func (fh FrameHeader) Clear() {
	for i := 0; i < FrameHeaderSize; i++ {
		fh[i] = 0
	}
}

func (fh FrameHeader) String() string {
	return fmt.Sprintf("[FrameHeader %v %v %03x (%d)]", fh.StreamID(), fh.Type(), uint16(fh.Flags()), len(fh))
}
