package rsock

import (
	"sync"

	"github.com/pkg/errors"
)

// Role is the side of the connection this peer plays. It is fixed at
// construction and decides stream id parity.
type Role int8

const (
	// RoleClient allocates odd stream ids.
	RoleClient = Role(0)
	// RoleServer allocates even stream ids.
	RoleServer = Role(1)
)

func (r Role) String() string {
	if r == RoleClient {
		return "CLIENT"
	}
	return "SERVER"
}

// StreamsFactory allocates stream ids with the parity of its role and
// constructs stream state machines for outbound requests.
type StreamsFactory struct {
	mu     sync.Mutex
	role   Role
	nextID StreamID
}

// NewStreamsFactory returns a factory for the given role. Clients
// start at stream 1, servers at stream 2.
func NewStreamsFactory(role Role) *StreamsFactory {
	sf := &StreamsFactory{role: role, nextID: 1}
	if role == RoleServer {
		sf.nextID = 2
	}
	return sf
}

// Role returns the factory's role.
func (sf *StreamsFactory) Role() Role {
	return sf.role
}

// NextStreamID allocates the next stream id, monotonically increasing
// with the role's parity. Wraparound of the 31-bit id space is an
// error; ids are never reused.
func (sf *StreamsFactory) NextStreamID() (id StreamID, err error) {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	if sf.nextID > MaxStreamID {
		return 0, errors.WithStack(ErrStreamsExhausted{})
	}
	id = sf.nextID
	sf.nextID += 2
	return
}

// ValidPeerStreamID reports whether id has the parity of the remote
// role. Stream zero is never valid.
func (sf *StreamsFactory) ValidPeerStreamID(id StreamID) bool {
	if id == 0 {
		return false
	}
	if sf.role == RoleClient {
		return id%2 == 0 // servers allocate even ids
	}
	return id%2 == 1
}

// CreateRequester builds the stream state machine for an outbound
// request of the given type.
func (sf *StreamsFactory) CreateRequester(id StreamID, kind StreamType, writer StreamsWriter, receiver StreamReceiver) *StreamStateMachine {
	return newStreamStateMachine(id, kind, sideRequester, writer, receiver)
}

// CreateResponder builds the stream state machine for an inbound
// request of the given type.
func (sf *StreamsFactory) CreateResponder(id StreamID, kind StreamType, writer StreamsWriter) *StreamStateMachine {
	return newStreamStateMachine(id, kind, sideResponder, writer, nil)
}
