// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package rsock

import (
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Server listens for incoming network connections and builds server
// Connections for them. Resumable sessions are tracked by token so a
// reconnecting client can resume.
type Server struct {
	Addr           string        // TCP address to listen on, ":7878" if empty
	Responder      Responder     // handles requests from clients
	MaxConnections int           // maximum concurrent connections to allow
	MaxLifetime    time.Duration // inbound silence tolerated per connection

	mu          sync.Mutex
	listeners   map[net.Listener]struct{}
	doneChan    chan struct{}
	connLimiter chan struct{}
	active      map[*Connection]struct{}
	sessions    map[string]*Connection // resume token -> connection
	netLog      bool
}

// tcpKeepAliveListener sets TCP keep-alive timeouts on accepted
// network connections so dead peers eventually go away even when the
// protocol keepalive is disabled.
type tcpKeepAliveListener struct {
	*net.TCPListener
}

func (ln tcpKeepAliveListener) Accept() (c net.Conn, err error) {
	tc, err := ln.AcceptTCP()
	if err != nil {
		return
	}
	tc.SetKeepAlive(true)
	tc.SetKeepAlivePeriod(3 * time.Minute)
	return tc, nil
}

// DefaultListenAddr returns the default address:port to listen on.
func (srv *Server) DefaultListenAddr() string {
	return ":7878"
}

func (srv *Server) getListenAddr(addr string) string {
	if addr == "" {
		return srv.DefaultListenAddr()
	}
	return addr
}

// Listen announces on the local network address.
func (srv *Server) Listen(address string) (net.Listener, error) {
	ln, err := net.Listen("tcp", srv.getListenAddr(address))
	if err == nil {
		srv.Addr = ln.Addr().String()
		ln = tcpKeepAliveListener{ln.(*net.TCPListener)}
	}
	return ln, err
}

// NetLog enables or disables logging of network data for new connections.
func (srv *Server) NetLog(state bool) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.netLog = state
}

// ListenAndServe listens on the TCP network address srv.Addr and then
// calls Serve to handle incoming network connections.
func (srv *Server) ListenAndServe() (err error) {
	listener, err := srv.Listen(srv.Addr)
	if err == nil {
		err = srv.Serve(listener)
	}
	return
}

func (srv *Server) init() {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.doneChan == nil {
		srv.doneChan = make(chan struct{})
		srv.listeners = make(map[net.Listener]struct{})
		srv.active = make(map[*Connection]struct{})
		srv.sessions = make(map[string]*Connection)
		maxConns := srv.MaxConnections
		if maxConns < 1 {
			maxConns = 1024
		}
		srv.connLimiter = make(chan struct{}, maxConns)
	}
}

func (srv *Server) isClosed() bool {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.doneChan == nil {
		return false
	}
	select {
	case <-srv.doneChan:
		return true
	default:
		return false
	}
}

// Serve accepts connections on the listener, building a Connection
// per network connection. It blocks until the listener fails or the
// server is closed.
func (srv *Server) Serve(listener net.Listener) (err error) {
	srv.init()
	srv.mu.Lock()
	srv.listeners[listener] = struct{}{}
	doneChan := srv.doneChan
	srv.mu.Unlock()
	defer func() {
		srv.mu.Lock()
		delete(srv.listeners, listener)
		srv.mu.Unlock()
		listener.Close()
	}()

	for {
		select {
		case srv.connLimiter <- struct{}{}:
		case <-doneChan:
			return nil
		}
		nc, acceptErr := listener.Accept()
		if acceptErr != nil {
			<-srv.connLimiter
			if srv.isClosed() || isClosedError(acceptErr) {
				return nil
			}
			return errors.WithStack(acceptErr)
		}
		go srv.serveConn(nc)
	}
}

// serveConn performs the first-frame handshake for one network
// connection: version auto-detection, then SETUP or RESUME dispatch.
func (srv *Server) serveConn(nc net.Conn) {
	release := func() { <-srv.connLimiter }
	t := NewTCPTransport(nc)

	fd, err := t.ReadFrame()
	if err != nil {
		_ = t.Close(err)
		release()
		return
	}

	v, err := DetectVersion(fd)
	if err != nil {
		FrameDataFree(fd)
		sendErrorAndClose(t, ErrorCodeInvalidSetup, "cannot detect protocol version")
		release()
		return
	}
	serializer, err := NewFrameSerializer(v)
	if err != nil {
		FrameDataFree(fd)
		sendErrorAndClose(t, ErrorCodeUnsupportedSetup, err.Error())
		release()
		return
	}
	f, err := serializer.Decode(fd)
	FrameDataFree(fd)
	if err != nil {
		sendErrorAndClose(t, ErrorCodeInvalidSetup, "malformed first frame")
		release()
		return
	}

	switch f := f.(type) {
	case *SetupFrame:
		srv.acceptSetup(t, serializer, SetupParamsFromFrame(f), release)
	case *ResumeFrame:
		srv.acceptResume(t, ResumeParamsFromFrame(f), release)
	default:
		sendErrorAndClose(t, ErrorCodeInvalidSetup, "expected SETUP or RESUME")
		release()
	}
}

func (srv *Server) acceptSetup(t *TCPTransport, serializer *FrameSerializer, params SetupParams, release func()) {
	if srv.MaxLifetime > 0 && params.MaxLifetime > srv.MaxLifetime {
		params.MaxLifetime = srv.MaxLifetime
	}
	conn := NewConnection(RoleServer, srv.Responder)
	conn.setSerializer(serializer)

	srv.mu.Lock()
	conn.NetLog(srv.netLog)
	srv.active[conn] = struct{}{}
	var sessionKey string
	if params.Token != nil {
		sessionKey = string(params.Token)
		srv.sessions[sessionKey] = conn
	}
	srv.mu.Unlock()

	conn.OnClose(func(closed *Connection) {
		srv.mu.Lock()
		delete(srv.active, closed)
		if sessionKey != "" && srv.sessions[sessionKey] == closed {
			delete(srv.sessions, sessionKey)
		}
		srv.mu.Unlock()
		release()
	})

	if err := conn.ConnectServer(t, params); err != nil {
		// OnClose has already released the limiter slot
		return
	}
}

func (srv *Server) acceptResume(t *TCPTransport, params ResumeParams, release func()) {
	// resuming re-attaches to the session's existing limiter slot
	defer release()

	srv.mu.Lock()
	conn := srv.sessions[string(params.Token)]
	srv.mu.Unlock()
	if conn == nil {
		sendErrorAndClose(t, ErrorCodeRejectedResume, "unknown resume token")
		return
	}
	_, _ = conn.ResumeServer(t, params)
}

// sendErrorAndClose reports an error on a transport that has no
// Connection yet, then closes it.
func sendErrorAndClose(t FrameTransport, code ErrorCode, message string) {
	serializer, _ := NewFrameSerializer(CurrentVersion)
	if fd, err := serializer.Encode(NewConnectionError(code, message)); err == nil {
		_ = t.Send(fd)
	}
	_ = t.Close(errors.WithStack(RemoteError{Code: code, Message: message}))
}

// ActiveConnections returns the number of live connections.
func (srv *Server) ActiveConnections() int {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return len(srv.active)
}

// Session returns the live connection for a resume token, or nil.
func (srv *Server) Session(token ResumeToken) *Connection {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.sessions[string(token)]
}

func (srv *Server) closeDoneChan() bool {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.doneChan == nil {
		srv.doneChan = make(chan struct{})
	}
	select {
	case <-srv.doneChan:
		return false
	default:
		close(srv.doneChan)
		return true
	}
}

// Close closes all listeners and connections immediately.
func (srv *Server) Close() (err error) {
	if srv.closeDoneChan() {
		srv.mu.Lock()
		for ln := range srv.listeners {
			if lnerr := ln.Close(); err == nil {
				err = lnerr
			}
		}
		conns := make([]*Connection, 0, len(srv.active))
		for conn := range srv.active {
			conns = append(conns, conn)
		}
		srv.mu.Unlock()
		for _, conn := range conns {
			conn.Close(errors.WithStack(ErrConnectionClosed{}))
		}
	}
	return
}

// Shutdown closes the listeners, waits for active connections to
// finish their streams, then closes the remainder.
func (srv *Server) Shutdown(timeout time.Duration) error {
	if srv.closeDoneChan() {
		srv.mu.Lock()
		for ln := range srv.listeners {
			ln.Close()
		}
		srv.mu.Unlock()
	}
	deadline := time.Now().Add(timeout)
	for {
		idle := true
		srv.mu.Lock()
		for conn := range srv.active {
			if conn.streamCount() > 0 {
				idle = false
				break
			}
		}
		srv.mu.Unlock()
		if idle {
			break
		}
		if time.Now().After(deadline) {
			srv.Close()
			return errors.WithStack(ErrConnectionClosed{})
		}
		time.Sleep(time.Millisecond * 10)
	}
	return srv.Close()
}
