// Package rsock implements the RSocket wire protocol connection engine.
package rsock

import "time"

const (
	// FrameHeaderSize is the number of bytes in a frame header.
	FrameHeaderSize = 6
	// LengthPrefixSize is the number of bytes in the length prefix used
	// by stream-oriented transports.
	LengthPrefixSize = 3
	// FrameMaxSize is the largest frame allowed on the wire, bounded by
	// the 24-bit length prefix.
	FrameMaxSize = 1<<24 - 1
	// MetadataLengthSize is the number of bytes in a metadata length prefix.
	MetadataLengthSize = 3
	// MaxStreamID is the highest usable stream identifier (31 bits).
	MaxStreamID = StreamID(1<<31 - 1)
	// MaxResumeTokenSize is the largest allowed resume token, in bytes.
	MaxResumeTokenSize = 0xffff
	// DefaultKeepaliveInterval is the default KEEPALIVE send interval.
	DefaultKeepaliveInterval = time.Second * 30
	// DefaultMaxLifetime is the default time without inbound activity
	// before a connection is declared dead.
	DefaultMaxLifetime = time.Second * 90
	// DefaultDialTimeout is how long a Client waits when dialing.
	DefaultDialTimeout = time.Second * 60
	// DefaultMetadataMimeType is the SETUP metadata MIME type used when
	// none is configured.
	DefaultMetadataMimeType = "application/octet-stream"
	// DefaultDataMimeType is the SETUP data MIME type used when none is
	// configured.
	DefaultDataMimeType = "application/octet-stream"
)

var (
	// FragmentSizeLimit bounds the total bytes buffered while
	// reassembling a fragmented initial request (configurable).
	FragmentSizeLimit = 1 << 22
	// ResumeCacheSize bounds the total frame bytes retained for
	// resumption in each direction (configurable).
	ResumeCacheSize = 1 << 22
)
