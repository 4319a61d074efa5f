// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

/*
Package rsock implements the RSocket wire protocol connection engine.

An rsock Connection owns a single transport and multiplexes any number of logically independent streams over it, demultiplexing inbound frames into per-stream state machines. Four interaction patterns are supported: fire-and-forget, request/response, request/stream and request/channel.

The connection-level contract is implemented in full: the SETUP handshake, KEEPALIVE liveness with a maximum lifetime, reassembly of fragmented initial requests, ERROR and CANCEL propagation, and warm resumption of a session across transports using a RESUME token and a cache of sent frames.

A FrameTransport is any ordered reliable duplex channel of complete frame buffers. TCPTransport frames a stream connection with the protocol's 3-byte length prefix; WSTransport carries one frame per binary WebSocket message. Connections may also be driven directly by custom transports.

Applications handle inbound requests by implementing Responder and issue outbound requests through the Connection's requester operations. Client and Server wrap dialing, listening and the first-frame handshake.
*/
package rsock
