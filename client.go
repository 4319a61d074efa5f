// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package rsock

import (
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Client dials a server and maintains one client Connection. Resume
// redials and resumes a resumable session; the Client does not
// reconnect by itself.
type Client struct {
	Addr              string        // the address to dial
	DialTimeout       time.Duration // dialing timeout
	KeepaliveInterval time.Duration // KEEPALIVE probe interval
	MaxLifetime       time.Duration // inbound silence tolerated
	MetadataMimeType  string        // SETUP metadata MIME type
	DataMimeType      string        // SETUP data MIME type
	ResumeToken       ResumeToken   // non-nil requests a resumable session
	SetupPayload      Payload       // payload carried in the SETUP frame
	Responder         Responder     // handles requests from the server
	Events            ConnectionEvents

	mu           sync.Mutex // protects those below
	conn         *Connection
	lastError    error
	lastAttempt  time.Time
	firstAttempt time.Time
	netLog       bool
}

// NewClient returns a Client for the given address. No network
// connection is made until Connect is called.
func NewClient(addr string) *Client {
	return &Client{
		Addr:        addr,
		DialTimeout: DefaultDialTimeout,
	}
}

// NetLog enables or disables logging of network data.
func (c *Client) NetLog(state bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.netLog = state
	if c.conn != nil {
		c.conn.NetLog(state)
	}
}

func (c *Client) dial() (*TCPTransport, error) {
	nc, err := net.DialTimeout("tcp", c.Addr, c.DialTimeout)
	if err != nil {
		c.mu.Lock()
		c.lastError = err
		c.lastAttempt = time.Now()
		if c.firstAttempt.IsZero() {
			c.firstAttempt = c.lastAttempt
		}
		c.mu.Unlock()
		return nil, errors.WithStack(err)
	}
	c.mu.Lock()
	c.lastError = nil
	c.lastAttempt = time.Time{}
	c.firstAttempt = time.Time{}
	c.mu.Unlock()
	return NewTCPTransport(nc), nil
}

// Connect dials the server and performs the SETUP handshake.
func (c *Client) Connect() (err error) {
	var t *TCPTransport
	if t, err = c.dial(); err != nil {
		return
	}
	conn := NewConnection(RoleClient, c.Responder)
	if c.Events != nil {
		conn.Events = c.Events
	}
	c.mu.Lock()
	conn.NetLog(c.netLog)
	c.conn = conn
	c.mu.Unlock()
	err = conn.ConnectClient(t, SetupParams{
		KeepaliveInterval: c.KeepaliveInterval,
		MaxLifetime:       c.MaxLifetime,
		Token:             c.ResumeToken,
		MetadataMimeType:  c.MetadataMimeType,
		DataMimeType:      c.DataMimeType,
		Payload:           c.SetupPayload,
	})
	return
}

// Resume dials the server again and resumes the session. Only valid
// after a resumable Connection has disconnected.
func (c *Client) Resume(cb ClientResumeCallback) (err error) {
	conn := c.Connection()
	if conn == nil {
		return errors.WithStack(ErrNotResumable{})
	}
	var t *TCPTransport
	if t, err = c.dial(); err != nil {
		return
	}
	return conn.ResumeClient(c.ResumeToken, t, cb, CurrentVersion)
}

// Connection returns the current Connection, nil before Connect.
func (c *Client) Connection() *Connection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// Close closes the Connection.
func (c *Client) Close() error {
	if conn := c.Connection(); conn != nil {
		conn.Close(nil)
	}
	return nil
}
