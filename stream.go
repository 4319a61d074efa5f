// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package rsock

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
)

// StreamSignal is the terminal signal delivered to a stream.
type StreamSignal int8

const (
	// SignalComplete is normal stream completion.
	SignalComplete = StreamSignal(iota)
	// SignalApplicationError is a responder application failure.
	SignalApplicationError
	// SignalCancel is a peer or local cancellation.
	SignalCancel
	// SignalConnectionError means the owning connection died.
	SignalConnectionError
	// SignalStreamError is a stream-level protocol failure.
	SignalStreamError
	// SignalInvalid means the request was invalid.
	SignalInvalid
)

var streamSignalTexts = map[StreamSignal]string{
	SignalComplete:         "COMPLETE",
	SignalApplicationError: "APPLICATION_ERROR",
	SignalCancel:           "CANCEL",
	SignalConnectionError:  "CONNECTION_ERROR",
	SignalStreamError:      "STREAM_ERROR",
	SignalInvalid:          "INVALID",
}

func (sig StreamSignal) String() string {
	if text, ok := streamSignalTexts[sig]; ok {
		return text
	}
	return fmt.Sprintf("StreamSignal(%d)", int8(sig))
}

// asError maps a terminal signal to the error delivered to receivers,
// nil for normal completion.
func (sig StreamSignal) asError() error {
	switch sig {
	case SignalComplete:
		return nil
	case SignalCancel:
		return RemoteError{Code: ErrorCodeCanceled, Message: "canceled"}
	case SignalConnectionError:
		return ErrConnectionClosed{}
	case SignalApplicationError:
		return RemoteError{Code: ErrorCodeApplicationError, Message: "application error"}
	case SignalInvalid:
		return RemoteError{Code: ErrorCodeInvalid, Message: "invalid"}
	}
	return RemoteError{Code: ErrorCodeRejected, Message: sig.String()}
}

// StreamsWriter is the capability a stream state machine uses to emit
// frames and report its own termination to the multiplexer.
type StreamsWriter interface {
	WriteFrame(f Frame) error
	OnStreamClosed(id StreamID)
}

// StreamReceiver is the caller-facing sink for payloads arriving on a
// stream. Callbacks are invoked in delivery order, never concurrently,
// and never after OnComplete or OnError.
type StreamReceiver interface {
	OnNext(p Payload)
	OnComplete()
	OnError(err error)
}

type streamSide int8

const (
	sideRequester = streamSide(0)
	sideResponder = streamSide(1)
)

// StreamStateMachine is the per-stream sink and source of frames for
// one of the four interaction types. The multiplexer routes inbound
// frames to OnFrame; outbound frames leave through the writer.
type StreamStateMachine struct {
	id     StreamID
	kind   StreamType
	side   streamSide
	writer StreamsWriter

	mu         sync.Mutex
	receiver   StreamReceiver
	allowance  uint32
	localDone  bool
	remoteDone bool
	notified   bool
	closed     bool
}

func newStreamStateMachine(id StreamID, kind StreamType, side streamSide, writer StreamsWriter, receiver StreamReceiver) *StreamStateMachine {
	return &StreamStateMachine{
		id:       id,
		kind:     kind,
		side:     side,
		writer:   writer,
		receiver: receiver,
	}
}

// ID returns the stream identifier.
func (sm *StreamStateMachine) ID() StreamID { return sm.id }

// Kind returns the interaction type.
func (sm *StreamStateMachine) Kind() StreamType { return sm.kind }

func (sm *StreamStateMachine) String() string {
	return fmt.Sprintf("[Stream %v %v]", sm.id, sm.kind)
}

// SetReceiver attaches the sink for inbound payloads. Used by channel
// responders before any inbound payload can arrive.
func (sm *StreamStateMachine) SetReceiver(r StreamReceiver) {
	sm.mu.Lock()
	sm.receiver = r
	sm.mu.Unlock()
}

// Allowance returns the credits granted by the peer and not yet spent.
// Stream machines track credits but leave enforcement to the caller.
func (sm *StreamStateMachine) Allowance() uint32 {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.allowance
}

// terminalLocked reports whether the stream has reached its end state.
func (sm *StreamStateMachine) terminalLocked() bool {
	switch sm.kind {
	case StreamTypeChannel:
		return sm.localDone && sm.remoteDone
	}
	if sm.side == sideRequester {
		return sm.remoteDone
	}
	return sm.localDone
}

// OnFrame receives a frame routed to this stream by the multiplexer.
func (sm *StreamStateMachine) OnFrame(f Frame) {
	var notify []func()
	var terminal bool

	sm.mu.Lock()
	if sm.closed {
		sm.mu.Unlock()
		return
	}
	receiver := sm.receiver
	switch f := f.(type) {
	case *PayloadFrame:
		if f.Next() && receiver != nil {
			p := f.Payload
			notify = append(notify, func() { receiver.OnNext(p) })
		}
		if f.Complete() && !sm.remoteDone {
			sm.remoteDone = true
			if receiver != nil && !sm.notified {
				sm.notified = true
				notify = append(notify, receiver.OnComplete)
			}
		}
		if terminal = sm.terminalLocked(); terminal {
			sm.closed = true
		}
	case *ErrorFrame:
		sm.localDone = true
		sm.remoteDone = true
		sm.closed = true
		terminal = true
		if receiver != nil && !sm.notified {
			sm.notified = true
			err := errorFromFrame(f)
			notify = append(notify, func() { receiver.OnError(err) })
		}
	case *CancelFrame:
		sm.localDone = true
		sm.remoteDone = true
		sm.closed = true
		terminal = true
		if receiver != nil && !sm.notified {
			sm.notified = true
			err := errors.WithStack(SignalCancel.asError())
			notify = append(notify, func() { receiver.OnError(err) })
		}
	case *RequestNFrame:
		sm.allowance += f.N
	default:
		// late duplicate of the initial request or an unknown type
	}
	sm.mu.Unlock()

	for _, fn := range notify {
		fn()
	}
	if terminal {
		sm.writer.OnStreamClosed(sm.id)
	}
}

// Close terminates the stream with the given signal without emitting
// any frames. It is idempotent.
func (sm *StreamStateMachine) Close(sig StreamSignal) {
	sm.mu.Lock()
	if sm.closed {
		sm.mu.Unlock()
		return
	}
	sm.closed = true
	sm.localDone = true
	sm.remoteDone = true
	receiver := sm.receiver
	if sm.notified {
		receiver = nil
	}
	sm.notified = true
	sm.mu.Unlock()

	if receiver != nil {
		if err := sig.asError(); err != nil {
			receiver.OnError(errors.WithStack(err))
		} else {
			receiver.OnComplete()
		}
	}
	sm.writer.OnStreamClosed(sm.id)
}

// Cancel sends a CANCEL frame and terminates the stream locally.
// The receiver is not notified; the canceller already knows.
func (sm *StreamStateMachine) Cancel() (err error) {
	sm.mu.Lock()
	if sm.closed {
		sm.mu.Unlock()
		return errors.WithStack(ErrStreamClosed{})
	}
	sm.closed = true
	sm.localDone = true
	sm.remoteDone = true
	sm.mu.Unlock()

	err = sm.writer.WriteFrame(&CancelFrame{ID: sm.id})
	sm.writer.OnStreamClosed(sm.id)
	return
}

// RequestN grants the peer n more credits.
func (sm *StreamStateMachine) RequestN(n uint32) error {
	sm.mu.Lock()
	if sm.closed {
		sm.mu.Unlock()
		return errors.WithStack(ErrStreamClosed{})
	}
	sm.mu.Unlock()
	return sm.writer.WriteFrame(&RequestNFrame{ID: sm.id, N: n})
}

// Send emits a payload on the stream. Valid for channel requesters and
// stream or channel responders.
func (sm *StreamStateMachine) Send(p Payload) error {
	sm.mu.Lock()
	if sm.closed || sm.localDone {
		sm.mu.Unlock()
		return errors.WithStack(ErrStreamClosed{})
	}
	if sm.allowance > 0 {
		sm.allowance--
	}
	sm.mu.Unlock()
	return sm.writer.WriteFrame(&PayloadFrame{ID: sm.id, Flag: FlagNext, Payload: p})
}

// Complete signals that the local side will send no more payloads.
func (sm *StreamStateMachine) Complete() error {
	var terminal bool
	sm.mu.Lock()
	if sm.closed || sm.localDone {
		sm.mu.Unlock()
		return errors.WithStack(ErrStreamClosed{})
	}
	sm.localDone = true
	if terminal = sm.terminalLocked(); terminal {
		sm.closed = true
	}
	sm.mu.Unlock()

	err := sm.writer.WriteFrame(&PayloadFrame{ID: sm.id, Flag: FlagComplete})
	if terminal {
		sm.writer.OnStreamClosed(sm.id)
	}
	return err
}

// SendError reports a stream-level error to the peer and terminates.
func (sm *StreamStateMachine) SendError(code ErrorCode, message string) error {
	sm.mu.Lock()
	if sm.closed {
		sm.mu.Unlock()
		return errors.WithStack(ErrStreamClosed{})
	}
	sm.closed = true
	sm.localDone = true
	sm.remoteDone = true
	sm.mu.Unlock()

	err := sm.writer.WriteFrame(NewStreamError(code, sm.id, message))
	sm.writer.OnStreamClosed(sm.id)
	return err
}

// sendResponse emits the single response of a request/response stream
// and terminates it.
func (sm *StreamStateMachine) sendResponse(p Payload) error {
	sm.mu.Lock()
	if sm.closed {
		sm.mu.Unlock()
		return errors.WithStack(ErrStreamClosed{})
	}
	sm.closed = true
	sm.localDone = true
	sm.mu.Unlock()

	err := sm.writer.WriteFrame(&PayloadFrame{ID: sm.id, Flag: FlagNext | FlagComplete, Payload: p})
	sm.writer.OnStreamClosed(sm.id)
	return err
}

// sendInitialFrame emits the request frame that opens the stream on
// the requester side.
func (sm *StreamStateMachine) sendInitialFrame(p Payload, initialRequestN uint32) error {
	switch sm.kind {
	case StreamTypeRequestResponse:
		return sm.writer.WriteFrame(&RequestResponseFrame{ID: sm.id, Payload: p})
	case StreamTypeStream:
		return sm.writer.WriteFrame(&RequestStreamFrame{ID: sm.id, InitialRequestN: initialRequestN, Payload: p})
	case StreamTypeChannel:
		return sm.writer.WriteFrame(&RequestChannelFrame{ID: sm.id, InitialRequestN: initialRequestN, Payload: p})
	}
	return errors.Wrapf(ErrInvalidFrame{}, "no initial frame for %v", sm.kind)
}
