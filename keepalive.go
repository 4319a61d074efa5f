package rsock

import (
	"sync"
	"time"
)

// FrameSink is the capability the keepalive timer needs: sending a
// KEEPALIVE probe and terminating the connection it watches.
type FrameSink interface {
	// SendKeepalive emits a KEEPALIVE frame with the RESPOND flag set.
	SendKeepalive(data []byte)
	// DisconnectOrCloseWithError disconnects a resumable connection
	// or closes a non-resumable one with the given error frame.
	DisconnectOrCloseWithError(ef *ErrorFrame)
}

// KeepaliveTimer periodically probes the peer and declares the
// connection dead when inbound activity ceases for maxLifetime.
// Servers enforce the lifetime without sending probes.
type KeepaliveTimer struct {
	mu           sync.Mutex
	sink         FrameSink
	interval     time.Duration
	maxLifetime  time.Duration
	sendProbes   bool
	timer        *time.Timer
	lastActivity time.Time
	running      bool
}

// NewKeepaliveTimer returns a stopped timer. When sendProbes is false
// the timer only enforces the lifetime.
func NewKeepaliveTimer(interval, maxLifetime time.Duration, sendProbes bool) *KeepaliveTimer {
	if interval <= 0 {
		interval = DefaultKeepaliveInterval
	}
	if maxLifetime <= 0 {
		maxLifetime = DefaultMaxLifetime
	}
	return &KeepaliveTimer{
		interval:    interval,
		maxLifetime: maxLifetime,
		sendProbes:  sendProbes,
	}
}

// Interval returns the probe interval.
func (kt *KeepaliveTimer) Interval() time.Duration {
	return kt.interval
}

// MaxLifetime returns the allowed time without inbound activity.
func (kt *KeepaliveTimer) MaxLifetime() time.Duration {
	return kt.maxLifetime
}

// Start arms the timer against the given sink. Restarting an already
// running timer resets the activity clock.
func (kt *KeepaliveTimer) Start(sink FrameSink) {
	kt.mu.Lock()
	defer kt.mu.Unlock()
	kt.sink = sink
	kt.lastActivity = time.Now()
	if kt.timer != nil {
		kt.timer.Stop()
	}
	kt.running = true
	kt.timer = time.AfterFunc(kt.interval, kt.tick)
}

// Stop disarms the timer. It is idempotent.
func (kt *KeepaliveTimer) Stop() {
	kt.mu.Lock()
	defer kt.mu.Unlock()
	kt.running = false
	if kt.timer != nil {
		kt.timer.Stop()
		kt.timer = nil
	}
}

// Activity records inbound activity, deferring the lifetime deadline.
func (kt *KeepaliveTimer) Activity() {
	kt.mu.Lock()
	defer kt.mu.Unlock()
	kt.lastActivity = time.Now()
}

func (kt *KeepaliveTimer) tick() {
	kt.mu.Lock()
	if !kt.running {
		kt.mu.Unlock()
		return
	}
	sink := kt.sink
	expired := time.Since(kt.lastActivity) > kt.maxLifetime
	if expired {
		kt.running = false
		kt.timer = nil
	} else {
		kt.timer = time.AfterFunc(kt.interval, kt.tick)
	}
	sendProbe := kt.sendProbes && !expired
	kt.mu.Unlock()

	// the sink takes its own locks
	if expired {
		sink.DisconnectOrCloseWithError(NewConnectionError(ErrorCodeConnectionError, "keepalive timeout"))
	} else if sendProbe {
		sink.SendKeepalive(nil)
	}
}
