package rsock

import (
	"fmt"

	"github.com/pkg/errors"
)

// streamFragmentAccumulator assembles a fragmented initial request:
// the REQUEST frame that opened the stream carried FOLLOWS, and its
// remaining payload arrives as PAYLOAD frames until FOLLOWS clears.
type streamFragmentAccumulator struct {
	id              StreamID
	frameType       FrameType
	flags           FrameFlags
	initialRequestN uint32
	metadata        []byte
	data            []byte
	size            int
}

// ErrFragmentTooLarge is returned when reassembly exceeds FragmentSizeLimit.
type ErrFragmentTooLarge struct {
	ID StreamID
}

func (e ErrFragmentTooLarge) Error() string {
	return fmt.Sprintf("fragmented request on %v exceeds limit", e.ID)
}

// newFragmentAccumulator starts assembly from the initial request
// frame, which must carry FOLLOWS.
func newFragmentAccumulator(f Frame) (acc *streamFragmentAccumulator, err error) {
	acc = &streamFragmentAccumulator{
		id:        f.StreamID(),
		frameType: f.Type(),
		flags:     f.Flags() &^ FlagFollows,
	}
	var p Payload
	switch f := f.(type) {
	case *RequestResponseFrame:
		p = f.Payload
	case *RequestFNFFrame:
		p = f.Payload
	case *RequestStreamFrame:
		p = f.Payload
		acc.initialRequestN = f.InitialRequestN
	case *RequestChannelFrame:
		p = f.Payload
		acc.initialRequestN = f.InitialRequestN
	default:
		return nil, errors.Wrapf(ErrInvalidFrame{}, "cannot fragment %v", f.Type())
	}
	if err = acc.add(p); err != nil {
		acc = nil
	}
	return
}

func (acc *streamFragmentAccumulator) add(p Payload) error {
	if acc.size += len(p.Metadata) + len(p.Data); acc.size > FragmentSizeLimit {
		return errors.WithStack(ErrFragmentTooLarge{ID: acc.id})
	}
	if p.Metadata != nil {
		if acc.metadata == nil {
			acc.metadata = []byte{}
		}
		acc.metadata = append(acc.metadata, p.Metadata...)
	}
	if acc.data == nil {
		acc.data = []byte{}
	}
	acc.data = append(acc.data, p.Data...)
	return nil
}

// append adds a continuation fragment. done is true when pf clears
// FOLLOWS, at which point finalize yields the complete request.
func (acc *streamFragmentAccumulator) append(pf *PayloadFrame) (done bool, err error) {
	if err = acc.add(pf.Payload); err == nil {
		done = !pf.Follows()
	}
	return
}

// finalize synthesizes the complete request frame as if it had arrived
// unfragmented.
func (acc *streamFragmentAccumulator) finalize() Frame {
	p := Payload{Metadata: acc.metadata, Data: acc.data}
	switch acc.frameType {
	case FrameTypeRequestResponse:
		return &RequestResponseFrame{ID: acc.id, Flag: payloadFlags(acc.flags, p), Payload: p}
	case FrameTypeRequestFNF:
		return &RequestFNFFrame{ID: acc.id, Flag: payloadFlags(acc.flags, p), Payload: p}
	case FrameTypeRequestStream:
		return &RequestStreamFrame{ID: acc.id, Flag: payloadFlags(acc.flags, p), InitialRequestN: acc.initialRequestN, Payload: p}
	case FrameTypeRequestChannel:
		return &RequestChannelFrame{ID: acc.id, Flag: payloadFlags(acc.flags, p), InitialRequestN: acc.initialRequestN, Payload: p}
	}
	panic(fmt.Sprint("finalize(): unexpected frame type ", acc.frameType))
}
