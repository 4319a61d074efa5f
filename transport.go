package rsock

// StatsCollector is the interface required to collect transport statistics.
type StatsCollector interface {
	AddBytesWritten(int64)
	AddBytesRead(int64)
}

// FrameReceiver is the upward half of a FrameTransport: it is handed
// one complete frame buffer per call, in delivery order, and exactly
// one terminal notification at end of life.
type FrameReceiver interface {
	// ProcessFrame is called once per complete inbound frame.
	// Ownership of the buffer passes to the receiver.
	ProcessFrame(fd FrameData)
	// OnTerminal is called exactly once when the transport dies,
	// with the cause.
	OnTerminal(cause error)
}

// FrameTransport is an ordered, reliable, byte-framed duplex channel.
// Send accepts one complete frame buffer per call and takes ownership
// of it; there are no partial writes. SetReceiver starts inbound
// delivery and may be called at most once.
type FrameTransport interface {
	Send(fd FrameData) error
	SetReceiver(r FrameReceiver)
	Close(cause error) error
}
