// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package rsock

import (
	"bytes"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// ConnectionState is the lifecycle state of a Connection.
type ConnectionState int32

const (
	// StateDisconnected means no transport is bound. Streams and
	// caches are retained when the connection is resumable.
	StateDisconnected = ConnectionState(0)
	// StateConnecting means a transport is being attached.
	StateConnecting = ConnectionState(1)
	// StateConnected means the handshake has been exchanged.
	StateConnected = ConnectionState(2)
	// StateResuming means a transport is bound but the peer has not
	// yet acknowledged the resume position.
	StateResuming = ConnectionState(3)
	// StateClosed is terminal.
	StateClosed = ConnectionState(4)
)

var connectionStateTexts = map[ConnectionState]string{
	StateDisconnected: "DISCONNECTED",
	StateConnecting:   "CONNECTING",
	StateConnected:    "CONNECTED",
	StateResuming:     "RESUMING",
	StateClosed:       "CLOSED",
}

func (cs ConnectionState) String() string {
	if text, ok := connectionStateTexts[cs]; ok {
		return text
	}
	return fmt.Sprintf("ConnectionState(%d)", int32(cs))
}

// SetupParams configures the SETUP handshake.
type SetupParams struct {
	Version           ProtocolVersion // zero value means CurrentVersion
	KeepaliveInterval time.Duration
	MaxLifetime       time.Duration
	Token             ResumeToken // non-nil requests a resumable session
	Lease             bool
	MetadataMimeType  string
	DataMimeType      string
	Payload           Payload
}

func (p *SetupParams) setDefaults() {
	if (p.Version == ProtocolVersion{}) {
		p.Version = CurrentVersion
	}
	if p.KeepaliveInterval <= 0 {
		p.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if p.MaxLifetime <= 0 {
		p.MaxLifetime = DefaultMaxLifetime
	}
	if p.MetadataMimeType == "" {
		p.MetadataMimeType = DefaultMetadataMimeType
	}
	if p.DataMimeType == "" {
		p.DataMimeType = DefaultDataMimeType
	}
}

// SetupParamsFromFrame extracts the parameters of a received SETUP.
func SetupParamsFromFrame(f *SetupFrame) SetupParams {
	return SetupParams{
		Version:           f.Version,
		KeepaliveInterval: time.Duration(f.KeepaliveTime) * time.Millisecond,
		MaxLifetime:       time.Duration(f.MaxLifetime) * time.Millisecond,
		Token:             f.Token,
		Lease:             f.HonorsLease(),
		MetadataMimeType:  f.MetadataMimeType,
		DataMimeType:      f.DataMimeType,
		Payload:           f.Payload,
	}
}

// ResumeParams are the parameters of a received RESUME.
type ResumeParams struct {
	Version ProtocolVersion
	Token   ResumeToken
	// ServerPosition is the client's last received server position;
	// the server must replay from here.
	ServerPosition int64
	// ClientPosition is the first position the client still retains.
	ClientPosition int64
}

// ResumeParamsFromFrame extracts the parameters of a received RESUME.
func ResumeParamsFromFrame(f *ResumeFrame) ResumeParams {
	return ResumeParams{
		Version:        f.Version,
		Token:          f.Token,
		ServerPosition: f.LastReceivedServerPosition,
		ClientPosition: f.ClientPosition,
	}
}

// ClientResumeCallback is armed by ResumeClient and fired when the
// server answers the RESUME.
type ClientResumeCallback interface {
	OnResumeOK()
	OnResumeError(err error)
}

// ConnectionEvents receives lifecycle notifications. All methods are
// optional; embed NopConnectionEvents to implement a subset.
type ConnectionEvents interface {
	OnConnected()
	OnDisconnected(err error)
	OnClosed(err error)
	OnStreamOpened(id StreamID)
	OnStreamClosed(id StreamID)
}

// NopConnectionEvents ignores all notifications.
type NopConnectionEvents struct{}

func (NopConnectionEvents) OnConnected()               {}
func (NopConnectionEvents) OnDisconnected(err error)   {}
func (NopConnectionEvents) OnClosed(err error)         {}
func (NopConnectionEvents) OnStreamOpened(id StreamID) {}
func (NopConnectionEvents) OnStreamClosed(id StreamID) {}

// Connection is the connection state machine and stream multiplexer.
// It owns one transport at a time, demultiplexes inbound frames into
// per-stream state machines and implements the connection-level
// contract: handshake, keepalive, fragment reassembly, error closure
// and warm resume.
type Connection struct {
	Events ConnectionEvents // lifecycle notifications (optional)
	Resume ResumeManager    // resume cache; built on demand if nil when resumable

	role      Role
	responder Responder
	factory   *StreamsFactory
	serial    uint32

	mu                  sync.Mutex // guards the below
	state               int32      // atomic ConnectionState, transitions under mu
	resumable           bool
	resumeToken         ResumeToken
	resumeCallback      ClientResumeCallback
	streams             map[StreamID]*StreamStateMachine
	fragments           map[StreamID]*streamFragmentAccumulator
	largestPeerStreamID StreamID
	keepalive           *KeepaliveTimer
	keepaliveInterval   time.Duration
	maxLifetime         time.Duration
	honorsLease         bool
	leasePermits        uint32
	leaseExpiry         time.Time
	closeErr            error
	onClose             func(*Connection)

	wmu         sync.Mutex // guards the write path below
	serializer  *FrameSerializer
	transport   FrameTransport
	pending     []FrameData // frames buffered while queueing
	queueing    bool
	writeClosed bool

	netLog bool
}

var connNextSerialNumber uint32

// NewConnection returns a disconnected Connection for the given role.
// A nil responder is replaced by NopResponder.
func NewConnection(role Role, responder Responder) *Connection {
	if responder == nil {
		responder = NopResponder{}
	}
	return &Connection{
		Events:    NopConnectionEvents{},
		role:      role,
		responder: responder,
		factory:   NewStreamsFactory(role),
		streams:   make(map[StreamID]*StreamStateMachine),
		fragments: make(map[StreamID]*streamFragmentAccumulator),
		queueing:  true,
		serial:    atomic.AddUint32(&connNextSerialNumber, 1),
	}
}

func (c *Connection) String() string {
	return fmt.Sprintf("[Connection %x %v %v]", c.serial, c.role, c.State())
}

// Role returns the side this connection plays.
func (c *Connection) Role() Role { return c.role }

// StreamsFactory returns the connection's stream factory.
func (c *Connection) StreamsFactory() *StreamsFactory { return c.factory }

// State returns the current lifecycle state.
func (c *Connection) State() ConnectionState {
	return ConnectionState(atomic.LoadInt32(&c.state))
}

func (c *Connection) setStateLocked(cs ConnectionState) {
	if c.netLog {
		log.Print("STAT ", c, " -> ", cs)
	}
	atomic.StoreInt32(&c.state, int32(cs))
}

// NetLog enables or disables logging of frames and state changes.
func (c *Connection) NetLog(state bool) {
	c.netLog = state
}

// OnClose sets the callback invoked once when the connection closes.
// Used by owners tracking a set of connections; the callback must not
// call back into the set while holding its own locks.
func (c *Connection) OnClose(fn func(*Connection)) {
	c.mu.Lock()
	c.onClose = fn
	c.mu.Unlock()
}

// IsResumable returns true if the session was negotiated resumable.
func (c *Connection) IsResumable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resumable
}

// Token returns the session's resume token, nil if not resumable.
func (c *Connection) Token() ResumeToken {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resumeToken
}

func (c *Connection) lastReceivedPosition() int64 {
	if rm := c.Resume; rm != nil {
		return rm.LastReceivedPosition()
	}
	return 0
}

// ensureResumeManagerLocked builds the default cache when resumable
// and none was supplied.
func (c *Connection) ensureResumeManagerLocked() {
	if c.resumable && c.Resume == nil {
		c.Resume = NewResumeManager(0)
	}
}

// attachTransportLocked binds t to the write path; wmu must be held.
func (c *Connection) attachTransportLocked(t FrameTransport) {
	c.transport = t
}

// setSerializer fixes the frame serializer. Used by servers after
// version auto-detection; a no-op once set.
func (c *Connection) setSerializer(s *FrameSerializer) {
	c.wmu.Lock()
	if c.serializer == nil {
		c.serializer = s
	}
	c.wmu.Unlock()
}

func (c *Connection) ensureSerializerLocked() *FrameSerializer {
	if c.serializer == nil {
		c.serializer, _ = NewFrameSerializer(CurrentVersion)
	}
	return c.serializer
}

// ConnectClient attaches a transport and sends the SETUP frame,
// transitioning Disconnected -> Connecting -> Connected.
func (c *Connection) ConnectClient(t FrameTransport, params SetupParams) (err error) {
	params.setDefaults()

	c.mu.Lock()
	if cs := c.State(); cs != StateDisconnected {
		c.mu.Unlock()
		return errors.Wrapf(ErrConnectionClosed{}, "cannot connect in state %v", cs)
	}
	c.setStateLocked(StateConnecting)
	c.resumable = params.Token != nil
	c.resumeToken = params.Token
	c.honorsLease = params.Lease
	c.keepaliveInterval = params.KeepaliveInterval
	c.maxLifetime = params.MaxLifetime
	c.ensureResumeManagerLocked()
	c.mu.Unlock()

	var serializer *FrameSerializer
	if serializer, err = NewFrameSerializer(params.Version); err != nil {
		return
	}

	setup := &SetupFrame{
		Version:          params.Version,
		KeepaliveTime:    uint32(params.KeepaliveInterval / time.Millisecond),
		MaxLifetime:      uint32(params.MaxLifetime / time.Millisecond),
		Token:            params.Token,
		MetadataMimeType: params.MetadataMimeType,
		DataMimeType:     params.DataMimeType,
		Payload:          params.Payload,
	}
	if params.Lease {
		setup.Flag |= FlagLease
	}

	c.wmu.Lock()
	c.serializer = serializer
	c.attachTransportLocked(t)
	err = c.sendDirectLocked(setup)
	if err == nil {
		c.queueing = false
		err = c.sendPendingLocked()
	}
	c.wmu.Unlock()

	if err != nil {
		c.close(err, SignalConnectionError)
		return
	}

	t.SetReceiver(transportReceiver{c: c, t: t})

	c.mu.Lock()
	c.setStateLocked(StateConnected)
	c.startKeepaliveLocked(true)
	c.mu.Unlock()
	c.Events.OnConnected()
	return
}

// ConnectServer applies the parameters of an already-received SETUP
// and transitions to Connected.
func (c *Connection) ConnectServer(t FrameTransport, params SetupParams) (err error) {
	params.setDefaults()
	if params.Version != CurrentVersion {
		c.wmu.Lock()
		c.ensureSerializerLocked()
		c.attachTransportLocked(t)
		_ = c.sendDirectLocked(NewConnectionError(ErrorCodeUnsupportedSetup, fmt.Sprintf("unsupported version %v", params.Version)))
		c.wmu.Unlock()
		err = errors.WithStack(ErrUnsupportedVersion{Version: params.Version})
		c.close(err, SignalConnectionError)
		return
	}

	c.mu.Lock()
	if cs := c.State(); cs != StateDisconnected {
		c.mu.Unlock()
		return errors.Wrapf(ErrConnectionClosed{}, "cannot connect in state %v", cs)
	}
	c.resumable = params.Token != nil
	c.resumeToken = params.Token
	c.honorsLease = false // the client declared it honors leases, not us
	c.keepaliveInterval = params.KeepaliveInterval
	c.maxLifetime = params.MaxLifetime
	c.ensureResumeManagerLocked()
	c.mu.Unlock()

	c.wmu.Lock()
	c.ensureSerializerLocked()
	c.attachTransportLocked(t)
	c.queueing = false
	err = c.sendPendingLocked()
	c.wmu.Unlock()
	if err != nil {
		c.close(err, SignalConnectionError)
		return
	}

	t.SetReceiver(transportReceiver{c: c, t: t})

	c.mu.Lock()
	c.setStateLocked(StateConnected)
	c.startKeepaliveLocked(false)
	c.mu.Unlock()
	c.Events.OnConnected()
	return
}

// startKeepaliveLocked arms the keepalive timer; mu must be held.
func (c *Connection) startKeepaliveLocked(sendProbes bool) {
	if c.keepalive == nil {
		c.keepalive = NewKeepaliveTimer(c.keepaliveInterval, c.maxLifetime, sendProbes)
	}
	c.keepalive.Start(c)
}

// ResumeClient attaches a fresh transport and sends a RESUME frame,
// transitioning to Resuming. The callback fires on RESUME_OK or ERROR.
func (c *Connection) ResumeClient(token ResumeToken, t FrameTransport, cb ClientResumeCallback, version ProtocolVersion) (err error) {
	if (version == ProtocolVersion{}) {
		version = CurrentVersion
	}
	var serializer *FrameSerializer
	if serializer, err = NewFrameSerializer(version); err != nil {
		return
	}

	c.mu.Lock()
	if cs := c.State(); cs != StateDisconnected {
		c.mu.Unlock()
		return errors.Wrapf(ErrConnectionClosed{}, "cannot resume in state %v", cs)
	}
	if !c.resumable {
		c.mu.Unlock()
		return errors.WithStack(ErrNotResumable{})
	}
	c.setStateLocked(StateResuming)
	c.resumeCallback = cb
	rm := c.Resume
	c.mu.Unlock()

	resume := &ResumeFrame{
		Version:                    version,
		Token:                      token,
		LastReceivedServerPosition: rm.LastReceivedPosition(),
		ClientPosition:             rm.FirstSentPosition(),
	}

	c.wmu.Lock()
	c.serializer = serializer
	c.attachTransportLocked(t)
	err = c.sendDirectLocked(resume)
	c.wmu.Unlock()
	if err != nil {
		c.close(err, SignalConnectionError)
		return
	}
	t.SetReceiver(transportReceiver{c: c, t: t})
	return
}

// ResumeServer evaluates a RESUME received on a fresh transport. On
// success it replaces the connection's transport atomically, replays
// the requested frames after a RESUME_OK and returns true; otherwise
// it emits ERROR(REJECTED_RESUME) on the new transport and closes.
func (c *Connection) ResumeServer(t FrameTransport, params ResumeParams) (ok bool, err error) {
	c.mu.Lock()
	cs := c.State()
	if cs == StateClosed {
		c.mu.Unlock()
		return false, errors.WithStack(ErrConnectionClosed{})
	}
	if !c.resumable || !bytes.Equal(c.resumeToken, params.Token) {
		c.mu.Unlock()
		c.rejectResume(t, "unknown resume token")
		return false, errors.Wrap(ErrPositionUnavailable{Position: params.ServerPosition}, "unknown resume token")
	}
	rm := c.Resume
	c.mu.Unlock()

	if !rm.IsPositionAvailable(params.ServerPosition) || params.ClientPosition > rm.LastReceivedPosition() {
		c.rejectResume(t, "position no longer retained")
		return false, errors.WithStack(ErrPositionUnavailable{Position: params.ServerPosition})
	}

	// replace the transport atomically; a prior transport may still
	// be attached if its termination has not been observed yet
	c.wmu.Lock()
	old := c.transport
	c.attachTransportLocked(t)
	err = c.sendDirectLocked(&ResumeOKFrame{Position: rm.LastReceivedPosition()})
	if err == nil {
		_ = rm.ReleaseFramesUpTo(params.ServerPosition)
		err = rm.FramesFromPosition(params.ServerPosition, func(fd FrameData) error {
			return c.transport.Send(fd)
		})
	}
	if err == nil {
		c.queueing = false
		err = c.sendPendingLocked()
	}
	c.wmu.Unlock()

	if old != nil && old != t {
		_ = old.Close(errors.WithStack(RemoteError{Code: ErrorCodeConnectionError, Message: "transport replaced by resume"}))
	}
	if err != nil {
		c.close(err, SignalConnectionError)
		return false, err
	}

	t.SetReceiver(transportReceiver{c: c, t: t})

	c.mu.Lock()
	c.setStateLocked(StateConnected)
	c.startKeepaliveLocked(false)
	c.mu.Unlock()
	c.Events.OnConnected()
	return true, nil
}

// rejectResume reports REJECTED_RESUME on t and closes the connection.
func (c *Connection) rejectResume(t FrameTransport, message string) {
	c.wmu.Lock()
	c.ensureSerializerLocked()
	c.attachTransportLocked(t)
	_ = c.sendDirectLocked(NewConnectionError(ErrorCodeRejectedResume, message))
	c.wmu.Unlock()
	c.close(errors.WithStack(RemoteError{Code: ErrorCodeRejectedResume, Message: message}), SignalConnectionError)
}

// Disconnect detaches the transport but retains streams and caches
// when resumable; otherwise it is equivalent to Close.
func (c *Connection) Disconnect(cause error) {
	c.mu.Lock()
	if !c.resumable {
		c.mu.Unlock()
		c.close(cause, SignalConnectionError)
		return
	}
	switch cs := c.State(); cs {
	case StateConnected, StateResuming:
	default:
		c.mu.Unlock()
		return
	}
	c.setStateLocked(StateDisconnected)
	kt := c.keepalive
	cb := c.resumeCallback
	c.resumeCallback = nil
	c.mu.Unlock()

	if kt != nil {
		kt.Stop()
	}

	c.wmu.Lock()
	t := c.transport
	c.transport = nil
	c.queueing = true
	c.wmu.Unlock()

	if t != nil {
		_ = t.Close(cause)
	}
	if cb != nil {
		cb.OnResumeError(cause)
	}
	c.Events.OnDisconnected(cause)
}

// CloseWithError emits an ERROR frame at stream zero, signals all
// streams with a connection error, releases the transport and closes.
func (c *Connection) CloseWithError(ef *ErrorFrame) {
	if c.State() == StateClosed {
		return
	}
	if c.netLog {
		log.Print("CERR ", c, " ", ef)
	}
	c.wmu.Lock()
	if !c.writeClosed && c.transport != nil {
		c.ensureSerializerLocked()
		_ = c.sendDirectLocked(ef)
	}
	c.wmu.Unlock()
	c.close(errors.WithStack(RemoteError{Code: ef.Code, Message: ef.Message}), SignalConnectionError)
}

// DisconnectOrCloseWithError disconnects a resumable connection or
// closes a non-resumable one with the given error frame.
func (c *Connection) DisconnectOrCloseWithError(ef *ErrorFrame) {
	if c.IsResumable() {
		c.Disconnect(errors.WithStack(RemoteError{Code: ef.Code, Message: ef.Message}))
		return
	}
	c.CloseWithError(ef)
}

// Close terminates the connection and all of its streams without
// emitting an ERROR frame. It is idempotent.
func (c *Connection) Close(cause error) {
	c.close(cause, SignalConnectionError)
}

func (c *Connection) close(cause error, sig StreamSignal) {
	c.mu.Lock()
	if c.State() == StateClosed {
		c.mu.Unlock()
		return
	}
	c.setStateLocked(StateClosed)
	c.closeErr = cause
	kt := c.keepalive
	c.keepalive = nil
	cb := c.resumeCallback
	c.resumeCallback = nil
	streams := c.streams
	c.streams = make(map[StreamID]*StreamStateMachine)
	c.fragments = make(map[StreamID]*streamFragmentAccumulator)
	onClose := c.onClose
	c.onClose = nil
	c.mu.Unlock()

	if kt != nil {
		kt.Stop()
	}

	c.wmu.Lock()
	c.writeClosed = true
	t := c.transport
	c.transport = nil
	for _, fd := range c.pending {
		FrameDataFree(fd)
	}
	c.pending = nil
	c.wmu.Unlock()

	for _, sm := range streams {
		sm.Close(sig)
	}
	if t != nil {
		_ = t.Close(cause)
	}
	if cb != nil {
		cb.OnResumeError(cause)
	}
	c.Events.OnClosed(cause)
	if onClose != nil {
		onClose(c)
	}
}

// AddStream registers a stream state machine. The id must not be zero
// and must not collide with a live stream or accumulator. No frames
// are emitted by this call itself.
func (c *Connection) AddStream(id StreamID, sm *StreamStateMachine) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.State() == StateClosed {
		return errors.WithStack(ErrConnectionClosed{})
	}
	if id == 0 {
		return errors.Wrap(ErrInvalidFrame{}, "stream id zero is reserved")
	}
	if _, exists := c.streams[id]; exists {
		return errors.Wrapf(ErrInvalidFrame{}, "stream %v already registered", id)
	}
	if _, exists := c.fragments[id]; exists {
		return errors.Wrapf(ErrInvalidFrame{}, "stream %v is being reassembled", id)
	}
	c.streams[id] = sm
	return nil
}

// endStreamInternal removes a stream entry without propagating any
// closure signal. Idempotent; returns false iff the id was absent.
func (c *Connection) endStreamInternal(id StreamID, sig StreamSignal) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.streams[id]; !ok {
		return false
	}
	if c.netLog {
		log.Print("ENDS ", c, " ", id, " ", sig)
	}
	delete(c.streams, id)
	return true
}

// OnStreamClosed implements StreamsWriter; stream machines call it on
// their terminal transition.
func (c *Connection) OnStreamClosed(id StreamID) {
	if c.endStreamInternal(id, SignalComplete) {
		c.Events.OnStreamClosed(id)
	}
}

// streamCount returns the number of live stream entries.
func (c *Connection) streamCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.streams)
}

// useLease consumes a lease permit when leases are in effect.
func (c *Connection) useLease() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.honorsLease {
		return nil
	}
	if c.leasePermits == 0 || time.Now().After(c.leaseExpiry) {
		return errors.WithStack(ErrLeaseExhausted{})
	}
	c.leasePermits--
	return nil
}

// FireAndForget sends a REQUEST_FNF on a freshly allocated stream id.
// No stream entry is created; fire-and-forget has no responses.
func (c *Connection) FireAndForget(p Payload) error {
	if err := c.useLease(); err != nil {
		return err
	}
	id, err := c.factory.NextStreamID()
	if err != nil {
		return err
	}
	return c.WriteFrame(&RequestFNFFrame{ID: id, Payload: p})
}

// MetadataPush sends a METADATA_PUSH frame.
func (c *Connection) MetadataPush(metadata []byte) error {
	return c.WriteFrame(&MetadataPushFrame{Metadata: metadata})
}

// RequestResponse starts a request/response stream. The receiver gets
// one OnNext followed by OnComplete, or OnError.
func (c *Connection) RequestResponse(p Payload, receiver StreamReceiver) (*StreamStateMachine, error) {
	return c.request(StreamTypeRequestResponse, p, 0, receiver)
}

// RequestStream starts a request/stream interaction granting the
// responder initialRequestN credits.
func (c *Connection) RequestStream(p Payload, initialRequestN uint32, receiver StreamReceiver) (*StreamStateMachine, error) {
	return c.request(StreamTypeStream, p, initialRequestN, receiver)
}

// RequestChannel starts a bidirectional stream. Use the returned
// machine to Send and Complete the outbound half.
func (c *Connection) RequestChannel(p Payload, initialRequestN uint32, receiver StreamReceiver) (*StreamStateMachine, error) {
	return c.request(StreamTypeChannel, p, initialRequestN, receiver)
}

func (c *Connection) request(kind StreamType, p Payload, initialRequestN uint32, receiver StreamReceiver) (sm *StreamStateMachine, err error) {
	if err = c.useLease(); err != nil {
		return
	}
	var id StreamID
	if id, err = c.factory.NextStreamID(); err != nil {
		return
	}
	sm = c.factory.CreateRequester(id, kind, c, receiver)
	if err = c.AddStream(id, sm); err != nil {
		return nil, err
	}
	c.Events.OnStreamOpened(id)
	if err = sm.sendInitialFrame(p, initialRequestN); err != nil {
		c.endStreamInternal(id, SignalConnectionError)
		return nil, err
	}
	return
}

// SendKeepalive emits a KEEPALIVE frame with the RESPOND flag set.
// It implements FrameSink for the keepalive timer.
func (c *Connection) SendKeepalive(data []byte) {
	_ = c.WriteFrame(&KeepaliveFrame{Flag: FlagRespond, Position: c.lastReceivedPosition(), Data: data})
}

// WriteFrame serializes and sends a frame, implementing StreamsWriter.
// While the connection is Disconnected or Resuming the frame is
// buffered and drained in FIFO order upon reconnection.
func (c *Connection) WriteFrame(f Frame) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.writeClosed {
		return errors.WithStack(ErrConnectionClosed{})
	}
	fd, err := c.ensureSerializerLocked().Encode(f)
	if err != nil {
		return err
	}
	if c.queueing {
		c.pending = append(c.pending, fd)
		return nil
	}
	return c.sendLocked(fd)
}

// sendLocked tracks and sends a serialized frame; wmu must be held.
func (c *Connection) sendLocked(fd FrameData) error {
	if c.transport == nil {
		FrameDataFree(fd)
		return errors.WithStack(ErrConnectionClosed{})
	}
	if c.Resume != nil {
		c.Resume.TrackSentFrame(fd)
	}
	if c.netLog {
		log.Print("WRIT ", c, " ", fd)
	}
	return c.transport.Send(fd)
}

// sendDirectLocked serializes and sends a control frame, bypassing the
// pending queue and the resume cache; wmu must be held.
func (c *Connection) sendDirectLocked(f Frame) error {
	fd, err := c.ensureSerializerLocked().Encode(f)
	if err != nil {
		return err
	}
	if c.transport == nil {
		FrameDataFree(fd)
		return errors.WithStack(ErrConnectionClosed{})
	}
	if c.netLog {
		log.Print("WRIT ", c, " ", fd)
	}
	return c.transport.Send(fd)
}

// sendPendingLocked drains the pending queue in FIFO order; wmu must
// be held and queueing must be false.
func (c *Connection) sendPendingLocked() error {
	for len(c.pending) > 0 {
		fd := c.pending[0]
		c.pending = c.pending[1:]
		if err := c.sendLocked(fd); err != nil {
			return err
		}
	}
	c.pending = nil
	return nil
}

// transportReceiver binds frame delivery to the transport it came
// from, so a replaced transport's late deliveries drop silently.
type transportReceiver struct {
	c *Connection
	t FrameTransport
}

func (tr transportReceiver) ProcessFrame(fd FrameData) {
	tr.c.processFrame(tr.t, fd)
}

func (tr transportReceiver) OnTerminal(cause error) {
	tr.c.onTerminal(tr.t, cause)
}

func (c *Connection) currentTransport() FrameTransport {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.transport
}

// onTerminal handles the transport's end of life.
func (c *Connection) onTerminal(t FrameTransport, cause error) {
	if t != c.currentTransport() {
		return
	}
	if c.State() == StateClosed {
		return
	}
	if c.IsResumable() {
		c.Disconnect(cause)
		return
	}
	c.close(cause, SignalConnectionError)
}

// processFrame is the inbound frame dispatch.
func (c *Connection) processFrame(t FrameTransport, fd FrameData) {
	defer FrameDataFree(fd)
	if t != c.currentTransport() || c.State() == StateClosed {
		return
	}

	c.wmu.Lock()
	serializer := c.serializer
	c.wmu.Unlock()
	if serializer == nil {
		// first inbound frame fixes the protocol version
		v, err := DetectVersion(fd)
		if err == nil {
			serializer, err = NewFrameSerializer(v)
		}
		if err != nil {
			c.CloseWithError(NewConnectionError(ErrorCodeInvalidSetup, "cannot detect protocol version"))
			return
		}
		c.setSerializer(serializer)
	}

	fh, err := PeekHeader(fd)
	if err != nil {
		c.CloseWithError(NewConnectionError(ErrorCodeConnectionError, "Invalid frame"))
		return
	}

	c.mu.Lock()
	kt := c.keepalive
	c.mu.Unlock()
	if kt != nil {
		kt.Activity()
	}
	if c.IsResumable() && c.Resume != nil {
		c.Resume.TrackReceivedFrame(fd)
	}

	f, err := serializer.Decode(fd)
	if err != nil {
		c.CloseWithError(NewConnectionError(ErrorCodeConnectionError, "Invalid frame"))
		return
	}
	if c.netLog {
		log.Print("READ ", c, " ", fd)
	}

	if fh.IsConnectionFrame() {
		c.handleConnectionFrame(f)
		return
	}
	c.handleStreamFrame(f)
}

// handleConnectionFrame dispatches frames addressed to stream zero.
func (c *Connection) handleConnectionFrame(f Frame) {
	switch f := f.(type) {
	case *KeepaliveFrame:
		if f.Respond() {
			_ = c.WriteFrame(&KeepaliveFrame{Flag: f.Flag &^ FlagRespond, Position: c.lastReceivedPosition(), Data: f.Data})
		}
	case *ErrorFrame:
		c.handleConnectionError(f)
	case *MetadataPushFrame:
		_ = c.responder.HandleMetadataPush(f.Metadata)
	case *LeaseFrame:
		c.mu.Lock()
		c.leasePermits = f.NumRequests
		c.leaseExpiry = time.Now().Add(time.Duration(f.TimeToLive) * time.Millisecond)
		c.mu.Unlock()
	case *ResumeOKFrame:
		c.handleResumeOK(f)
	case *ExtFrame:
		// no extensions registered
	case *SetupFrame:
		c.CloseWithError(NewConnectionError(ErrorCodeConnectionError, "SETUP on established connection"))
	case *ResumeFrame:
		c.CloseWithError(NewConnectionError(ErrorCodeConnectionError, "RESUME on established connection"))
	default:
		c.CloseWithError(NewConnectionError(ErrorCodeConnectionError, fmt.Sprintf("unexpected %v at stream zero", f.Type())))
	}
}

// handleConnectionError treats a stream zero ERROR as fatal.
func (c *Connection) handleConnectionError(f *ErrorFrame) {
	c.mu.Lock()
	cb := c.resumeCallback
	c.resumeCallback = nil
	c.mu.Unlock()
	err := errorFromFrame(f)
	if cb != nil {
		cb.OnResumeError(err)
	}
	c.close(err, SignalConnectionError)
}

// handleResumeOK completes a client-side resumption.
func (c *Connection) handleResumeOK(f *ResumeOKFrame) {
	c.mu.Lock()
	if c.State() != StateResuming {
		c.mu.Unlock()
		c.CloseWithError(NewConnectionError(ErrorCodeConnectionError, "RESUME_OK while not resuming"))
		return
	}
	rm := c.Resume
	cb := c.resumeCallback
	c.resumeCallback = nil
	c.mu.Unlock()

	if f.Position < rm.FirstSentPosition() || f.Position > rm.LastSentPosition() {
		err := errors.WithStack(ErrPositionUnavailable{Position: f.Position})
		if cb != nil {
			cb.OnResumeError(err)
		}
		c.CloseWithError(NewConnectionError(ErrorCodeConnectionError, "RESUME_OK position not available"))
		return
	}

	c.wmu.Lock()
	_ = rm.ReleaseFramesUpTo(f.Position)
	err := rm.FramesFromPosition(f.Position, func(fd FrameData) error {
		if c.transport == nil {
			FrameDataFree(fd)
			return errors.WithStack(ErrConnectionClosed{})
		}
		return c.transport.Send(fd)
	})
	if err == nil {
		c.queueing = false
		err = c.sendPendingLocked()
	}
	c.wmu.Unlock()
	if err != nil {
		if cb != nil {
			cb.OnResumeError(err)
		}
		c.close(err, SignalConnectionError)
		return
	}

	c.mu.Lock()
	c.setStateLocked(StateConnected)
	c.startKeepaliveLocked(true)
	c.mu.Unlock()
	if cb != nil {
		cb.OnResumeOK()
	}
	c.Events.OnConnected()
}

// handleStreamFrame routes a frame with a nonzero stream id.
func (c *Connection) handleStreamFrame(f Frame) {
	id := f.StreamID()

	c.mu.Lock()
	if sm, ok := c.streams[id]; ok {
		c.mu.Unlock()
		if isNewStreamType(f.Type()) {
			c.CloseWithError(NewConnectionError(ErrorCodeConnectionError, "stream id collision"))
			return
		}
		sm.OnFrame(f)
		return
	}
	if acc, ok := c.fragments[id]; ok {
		c.continueFragmentLocked(acc, f)
		return
	}
	c.mu.Unlock()
	c.handleUnknownStream(f)
}

// continueFragmentLocked advances reassembly of a fragmented initial
// request; mu must be held and is released before any dispatch.
func (c *Connection) continueFragmentLocked(acc *streamFragmentAccumulator, f Frame) {
	id := f.StreamID()
	pf, isPayload := f.(*PayloadFrame)
	if !isPayload {
		delete(c.fragments, id)
		c.mu.Unlock()
		switch f.(type) {
		case *CancelFrame, *ErrorFrame:
			// requester gave up before reassembly finished
		default:
			c.CloseWithError(NewConnectionError(ErrorCodeConnectionError, "unexpected frame during reassembly"))
		}
		return
	}
	done, err := acc.append(pf)
	if err != nil {
		delete(c.fragments, id)
		c.mu.Unlock()
		_ = c.WriteFrame(NewStreamError(ErrorCodeRejected, id, "fragmented request too large"))
		return
	}
	if !done {
		c.mu.Unlock()
		return
	}
	delete(c.fragments, id)
	c.mu.Unlock()
	// proceed as if the complete request had just arrived; parity and
	// monotonicity were checked when the accumulator was created
	c.setupStream(acc.finalize())
}

// handleUnknownStream handles a frame for an id with no entry.
func (c *Connection) handleUnknownStream(f Frame) {
	id := f.StreamID()
	ft := f.Type()
	if !isNewStreamType(ft) {
		switch ft {
		case FrameTypeCancel, FrameTypeError, FrameTypeRequestN, FrameTypePayload:
			// stream already terminated; discard silently
			return
		}
		c.CloseWithError(NewConnectionError(ErrorCodeConnectionError, fmt.Sprintf("%v for unknown stream", ft)))
		return
	}
	if !c.factory.ValidPeerStreamID(id) {
		c.CloseWithError(NewConnectionError(ErrorCodeConnectionError, "stream id parity mismatch"))
		return
	}

	c.mu.Lock()
	if id <= c.largestPeerStreamID {
		c.mu.Unlock()
		c.CloseWithError(NewConnectionError(ErrorCodeConnectionError, "stream id reused"))
		return
	}
	c.largestPeerStreamID = id
	if f.Flags().Has(FlagFollows) {
		acc, err := newFragmentAccumulator(f)
		if err != nil {
			c.mu.Unlock()
			_ = c.WriteFrame(NewStreamError(ErrorCodeRejected, id, "fragmented request too large"))
			return
		}
		c.fragments[id] = acc
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.setupStream(f)
}

// setupStream creates the responder side of a new remote stream and
// invokes the application responder.
func (c *Connection) setupStream(f Frame) {
	switch f := f.(type) {
	case *RequestFNFFrame:
		// fire-and-forget has no responses and needs no stream entry
		if err := c.responder.HandleFireAndForget(f.Payload); err != nil && c.netLog {
			log.Print("FNFE ", c, " ", err)
		}
	case *RequestResponseFrame:
		sm := c.factory.CreateResponder(f.ID, StreamTypeRequestResponse, c)
		if c.AddStream(f.ID, sm) != nil {
			return
		}
		c.Events.OnStreamOpened(f.ID)
		if p, err := c.responder.HandleRequestResponse(f.Payload); err != nil {
			_ = sm.SendError(ErrorCodeApplicationError, err.Error())
		} else {
			_ = sm.sendResponse(p)
		}
	case *RequestStreamFrame:
		sm := c.factory.CreateResponder(f.ID, StreamTypeStream, c)
		sm.allowance = f.InitialRequestN
		if c.AddStream(f.ID, sm) != nil {
			return
		}
		c.Events.OnStreamOpened(f.ID)
		if err := c.responder.HandleRequestStream(f.Payload, sm); err != nil {
			_ = sm.SendError(ErrorCodeApplicationError, err.Error())
		}
	case *RequestChannelFrame:
		sm := c.factory.CreateResponder(f.ID, StreamTypeChannel, c)
		sm.allowance = f.InitialRequestN
		if f.Flag.Has(FlagComplete) {
			sm.remoteDone = true
		}
		if c.AddStream(f.ID, sm) != nil {
			return
		}
		c.Events.OnStreamOpened(f.ID)
		if err := c.responder.HandleRequestChannel(f.Payload, sm); err != nil {
			_ = sm.SendError(ErrorCodeApplicationError, err.Error())
		}
	}
}
