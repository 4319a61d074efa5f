// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package rsock

import (
	"sync"

	"github.com/pkg/errors"
)

// ResumeManager retains the outbound frames needed to resume a session
// and tracks the inbound position. Positions are absolute byte counts
// of resumable frames in one direction; a frame is resumable iff it is
// addressed to a nonzero stream.
type ResumeManager interface {
	// TrackSentFrame appends an outbound resumable frame to the cache.
	TrackSentFrame(fd FrameData)
	// TrackReceivedFrame advances the inbound position.
	TrackReceivedFrame(fd FrameData)
	// IsPositionAvailable reports whether replay can start at p.
	IsPositionAvailable(p int64) bool
	// FirstSentPosition is the lowest retained outbound position.
	FirstSentPosition() int64
	// LastSentPosition is the position after the last outbound frame.
	LastSentPosition() int64
	// LastReceivedPosition is the position after the last inbound frame.
	LastReceivedPosition() int64
	// ReleaseFramesUpTo drops cached frames wholly below p.
	ReleaseFramesUpTo(p int64) error
	// FramesFromPosition replays retained frames starting at p, in
	// order, as copies.
	FramesFromPosition(p int64, send func(fd FrameData) error) error
}

// isResumableFrame reports whether a frame buffer counts toward resume
// positions.
func isResumableFrame(fd FrameData) bool {
	return len(fd) >= FrameHeaderSize && !fd.Header().IsConnectionFrame()
}

type resumeEntry struct {
	position int64
	frame    []byte
}

// InMemoryResumeManager keeps the resume cache in process memory,
// evicting the oldest frames when its capacity is exceeded.
type InMemoryResumeManager struct {
	mu           sync.Mutex
	capacity     int
	retained     int
	entries      []resumeEntry
	firstSent    int64
	lastSent     int64
	lastReceived int64
}

// NewResumeManager returns an InMemoryResumeManager retaining at most
// capacity bytes of outbound frames. A capacity of zero or less uses
// ResumeCacheSize.
func NewResumeManager(capacity int) *InMemoryResumeManager {
	if capacity <= 0 {
		capacity = ResumeCacheSize
	}
	return &InMemoryResumeManager{capacity: capacity}
}

// TrackSentFrame appends a copy of fd to the cache and advances the
// outbound position by its length.
func (rm *InMemoryResumeManager) TrackSentFrame(fd FrameData) {
	if !isResumableFrame(fd) {
		return
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	frame := make([]byte, len(fd))
	copy(frame, fd)
	rm.entries = append(rm.entries, resumeEntry{position: rm.lastSent, frame: frame})
	rm.retained += len(frame)
	rm.lastSent += int64(len(frame))
	for rm.retained > rm.capacity && len(rm.entries) > 0 {
		rm.evictHeadLocked()
	}
}

func (rm *InMemoryResumeManager) evictHeadLocked() {
	head := rm.entries[0]
	rm.entries = rm.entries[1:]
	rm.retained -= len(head.frame)
	rm.firstSent = head.position + int64(len(head.frame))
}

// TrackReceivedFrame advances the inbound position by the frame length.
func (rm *InMemoryResumeManager) TrackReceivedFrame(fd FrameData) {
	if !isResumableFrame(fd) {
		return
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.lastReceived += int64(len(fd))
}

// IsPositionAvailable reports whether p is a retained frame boundary.
func (rm *InMemoryResumeManager) IsPositionAvailable(p int64) bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if p == rm.lastSent {
		return true
	}
	if p < rm.firstSent || p > rm.lastSent {
		return false
	}
	for _, e := range rm.entries {
		if e.position == p {
			return true
		}
	}
	return false
}

// FirstSentPosition is the lowest retained outbound position.
func (rm *InMemoryResumeManager) FirstSentPosition() int64 {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.firstSent
}

// LastSentPosition is the position after the last outbound frame.
func (rm *InMemoryResumeManager) LastSentPosition() int64 {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.lastSent
}

// LastReceivedPosition is the position after the last inbound frame.
func (rm *InMemoryResumeManager) LastReceivedPosition() int64 {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.lastReceived
}

// ReleaseFramesUpTo drops cached frames wholly below p, raising the
// low-water mark. It fails if p lies outside the retained range.
func (rm *InMemoryResumeManager) ReleaseFramesUpTo(p int64) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if p < rm.firstSent || p > rm.lastSent {
		return errors.WithStack(ErrPositionUnavailable{Position: p})
	}
	for len(rm.entries) > 0 {
		head := rm.entries[0]
		if head.position+int64(len(head.frame)) > p {
			break
		}
		rm.evictHeadLocked()
	}
	if rm.firstSent < p {
		rm.firstSent = p
	}
	return nil
}

// FramesFromPosition replays retained frames with position >= p, in
// order, handing a pooled copy of each to send.
func (rm *InMemoryResumeManager) FramesFromPosition(p int64, send func(fd FrameData) error) error {
	rm.mu.Lock()
	if p != rm.lastSent && !rm.isPositionAvailableLocked(p) {
		rm.mu.Unlock()
		return errors.WithStack(ErrPositionUnavailable{Position: p})
	}
	var frames [][]byte
	for _, e := range rm.entries {
		if e.position >= p {
			frames = append(frames, e.frame)
		}
	}
	rm.mu.Unlock()
	for _, frame := range frames {
		fd := FrameDataAlloc()
		fd = append(fd, frame...)
		if err := send(fd); err != nil {
			return err
		}
	}
	return nil
}

func (rm *InMemoryResumeManager) isPositionAvailableLocked(p int64) bool {
	if p < rm.firstSent || p > rm.lastSent {
		return false
	}
	for _, e := range rm.entries {
		if e.position == p {
			return true
		}
	}
	return p == rm.firstSent && len(rm.entries) == 0
}
