package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

const publishTimeout = 100 * time.Millisecond

// DefaultHeartbeatInterval is how long the stream stays silent before a
// heartbeat is injected.
const DefaultHeartbeatInterval = 30 * time.Second

// Stream is a bounded pull-model event channel for one conversation.
// The transport consumes as produced; a full buffer drops after a short
// grace period rather than blocking the agent loop indefinitely.
type Stream struct {
	ch       chan Event
	closed   bool
	dropped  atomic.Uint64
	lastEmit atomic.Int64 // unix nanos of the last real event
	stopHB   chan struct{}
	mu       sync.RWMutex
}

// NewStream builds a stream with the given buffer size. A heartbeat
// goroutine starts when interval > 0.
func NewStream(bufferSize int, heartbeatInterval time.Duration) *Stream {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	s := &Stream{
		ch:     make(chan Event, bufferSize),
		stopHB: make(chan struct{}),
	}
	s.lastEmit.Store(time.Now().UnixNano())
	if heartbeatInterval > 0 {
		go s.heartbeatLoop(heartbeatInterval)
	}
	return s
}

// Publish enqueues an event, waiting briefly when the consumer lags.
// Drops are counted, never blocked on.
func (s *Stream) Publish(ev Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	s.lastEmit.Store(time.Now().UnixNano())

	select {
	case s.ch <- ev:
	default:
		timer := time.NewTimer(publishTimeout)
		defer timer.Stop()
		select {
		case s.ch <- ev:
		case <-timer.C:
			s.dropped.Add(1)
		}
	}
}

// Consume returns the next event, blocking until one is available, the
// stream closes, or ctx is done.
func (s *Stream) Consume(ctx context.Context) (Event, bool) {
	select {
	case ev, ok := <-s.ch:
		return ev, ok
	case <-ctx.Done():
		return Event{}, false
	}
}

// Dropped reports how many events were discarded under backpressure.
func (s *Stream) Dropped() uint64 {
	return s.dropped.Load()
}

// Close stops the heartbeat loop and closes the channel. Further
// publishes are no-ops.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.stopHB)
	close(s.ch)
}

func (s *Stream) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopHB:
			return
		case <-ticker.C:
			idle := time.Since(time.Unix(0, s.lastEmit.Load()))
			if idle < interval {
				continue
			}
			s.mu.RLock()
			if !s.closed {
				select {
				case s.ch <- newEvent(KindHeartbeat, nil):
				default:
					// consumer is not keeping up; skip this beat
				}
			}
			s.mu.RUnlock()
		}
	}
}
