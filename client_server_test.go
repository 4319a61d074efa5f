// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package rsock

import (
	"io"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, responder Responder) (*Server, func()) {
	t.Helper()
	srv := &Server{Responder: responder}
	ln, err := srv.Listen(":0")
	require.NoError(t, err)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ln)
	}()
	return srv, func() {
		_ = srv.Close()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Error("server did not stop")
		}
	}
}

func Test_ClientServer_RequestResponse(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()
	er := &echoResponder{}
	srv, stop := startServer(t, er)
	defer stop()

	client := NewClient(srv.Addr)
	require.NoError(t, client.Connect())
	defer client.Close()

	r := &recordingReceiver{}
	_, err := client.Connection().RequestResponse(Payload{Data: []byte("ping")}, r)
	require.NoError(t, err)
	waitFor(t, 2*time.Second, func() bool {
		_, completed, _ := r.snapshot()
		return completed
	})
	r.mu.Lock()
	assert.Equal(t, []byte("ping"), r.payloads[0].Data)
	r.mu.Unlock()
}

func Test_ClientServer_FireAndForget(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()
	er := &echoResponder{}
	srv, stop := startServer(t, er)
	defer stop()

	client := NewClient(srv.Addr)
	require.NoError(t, client.Connect())
	require.NoError(t, client.Connection().FireAndForget(Payload{Data: []byte("hi")}))
	waitFor(t, 2*time.Second, func() bool { return er.fnfCount() == 1 })
	client.Close()
}

func Test_ClientServer_RequestStream(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()
	responder := &funcResponder{
		requestStream: func(p Payload, stream ResponderStream) error {
			go func() {
				for i := 0; i < 3; i++ {
					if stream.Send(Payload{Data: []byte{byte('a' + i)}}) != nil {
						return
					}
				}
				_ = stream.Complete()
			}()
			return nil
		},
	}
	srv, stop := startServer(t, responder)
	defer stop()

	client := NewClient(srv.Addr)
	require.NoError(t, client.Connect())
	defer client.Close()

	r := &recordingReceiver{}
	_, err := client.Connection().RequestStream(Payload{Data: []byte("go")}, 16, r)
	require.NoError(t, err)
	waitFor(t, 2*time.Second, func() bool {
		_, completed, _ := r.snapshot()
		return completed
	})
	r.mu.Lock()
	require.Equal(t, 3, len(r.payloads))
	assert.Equal(t, []byte("a"), r.payloads[0].Data)
	assert.Equal(t, []byte("c"), r.payloads[2].Data)
	r.mu.Unlock()
}

func Test_ClientServer_Resume(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()
	er := &echoResponder{}
	srv, stop := startServer(t, er)
	defer stop()

	client := NewClient(srv.Addr)
	client.ResumeToken = ResumeToken("session-42")
	require.NoError(t, client.Connect())
	defer client.Close()
	conn := client.Connection()

	require.NoError(t, conn.FireAndForget(Payload{Data: []byte("before")}))
	waitFor(t, 2*time.Second, func() bool { return er.fnfCount() == 1 })

	// the transport drops; both sides keep the session
	conn.Disconnect(errors.WithStack(io.EOF))
	assert.Equal(t, StateDisconnected, conn.State())
	waitFor(t, 2*time.Second, func() bool {
		sconn := srv.Session(client.ResumeToken)
		return sconn != nil && sconn.State() == StateDisconnected
	})

	cb := newRecordingResumeCallback()
	require.NoError(t, client.Resume(cb))
	select {
	case <-cb.okCh:
	case err := <-cb.errCh:
		t.Fatal("resume failed: ", err)
	case <-time.After(2 * time.Second):
		t.Fatal("resume timed out")
	}
	assert.Equal(t, StateConnected, conn.State())

	// the resumed session keeps working
	require.NoError(t, conn.FireAndForget(Payload{Data: []byte("after")}))
	waitFor(t, 2*time.Second, func() bool { return er.fnfCount() == 2 })
}

func Test_ClientServer_ResumeUnknownTokenRejected(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()
	srv, stop := startServer(t, nil)
	defer stop()

	// a raw RESUME for a token the server has never seen
	tr, err := Dial(srv.Addr)
	require.NoError(t, err)
	s, err := NewFrameSerializer(CurrentVersion)
	require.NoError(t, err)
	fd, err := s.Encode(&ResumeFrame{Version: CurrentVersion, Token: ResumeToken("nobody")})
	require.NoError(t, err)
	require.NoError(t, tr.Send(fd))

	fd, err = tr.ReadFrame()
	require.NoError(t, err)
	f, err := s.Decode(fd)
	FrameDataFree(fd)
	require.NoError(t, err)
	ef, ok := f.(*ErrorFrame)
	require.True(t, ok)
	assert.Equal(t, ErrorCodeRejectedResume, ef.Code)
	_ = tr.Close(nil)
}

func Test_ClientServer_ShutdownWaitsForStreams(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()
	release := make(chan struct{})
	responder := &funcResponder{
		requestStream: func(p Payload, stream ResponderStream) error {
			go func() {
				<-release
				_ = stream.Complete()
			}()
			return nil
		},
	}
	srv, stop := startServer(t, responder)
	defer stop()

	client := NewClient(srv.Addr)
	require.NoError(t, client.Connect())
	defer client.Close()

	r := &recordingReceiver{}
	_, err := client.Connection().RequestStream(Payload{Data: []byte("x")}, 1, r)
	require.NoError(t, err)
	waitFor(t, 2*time.Second, func() bool { return srv.ActiveConnections() == 1 })

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(release)
	}()
	assert.NoError(t, srv.Shutdown(2*time.Second))
}
