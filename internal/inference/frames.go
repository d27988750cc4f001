package inference

import (
	"sync"

	"visionedge/internal/mjpeg"
)

// frameSlot hands the next decoded frame to every batch waiting for one.
// No frame is retained between deliveries, so a frame decoded before a batch
// registers can never be attached to it.
type frameSlot struct {
	mu      sync.Mutex
	waiters []chan mjpeg.Frame
}

// await registers interest in the next decoded frame. Registering is the
// cache clear: the batch only ever sees frames delivered after this call.
func (s *frameSlot) await() chan mjpeg.Frame {
	ch := make(chan mjpeg.Frame, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waiters = append(s.waiters, ch)
	return ch
}

func (s *frameSlot) deliver(f mjpeg.Frame) {
	s.mu.Lock()
	waiters := s.waiters
	s.waiters = nil
	s.mu.Unlock()
	for _, ch := range waiters {
		ch <- f
	}
}

func (s *frameSlot) cancel(ch chan mjpeg.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, w := range s.waiters {
		if w == ch {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			return
		}
	}
}

func (s *frameSlot) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.waiters)
}
