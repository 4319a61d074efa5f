package rsock

// Provides a buffer of allocated but unused FrameData.
var frameDataPool chan FrameData

func init() {
	frameDataPool = make(chan FrameData, 0x1000)
}

// FrameDataAlloc allocates an empty FrameData, without a FrameHeader.
func FrameDataAlloc() FrameData {
	select {
	case fd := <-frameDataPool:
		fd.Clear()
		return fd
	default:
		return NewFrameData()
	}
}

// FrameDataAllocHeader allocates a FrameData with the header written.
func FrameDataAllocHeader(ft FrameType, id StreamID, ff FrameFlags) FrameData {
	fd := FrameDataAlloc()
	fd.WriteHeader(ft, id, ff)
	return fd
}

// FrameDataFree releases a FrameData.
func FrameDataFree(fd FrameData) {
	if fd != nil {
		select {
		case frameDataPool <- fd:
		default:
		}
	}
}
