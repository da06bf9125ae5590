package etc

import (
	"sync"
	"time"
)

// Timer is a single-slot one-shot timer. Arming cancels any pending
// predecessor. The callback runs with the slot locked, so once Cancel or Arm
// returns a superseded callback can no longer run; the callback must not
// call back into the same Timer.
type Timer struct {
	mu  sync.Mutex
	gen uint64
	t   *time.Timer
}

func (s *Timer) Arm(d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	gen := s.gen
	s.t = time.AfterFunc(d, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.gen != gen || s.t == nil {
			return
		}
		s.t = nil
		s.gen++
		fn()
	})
}

// Cancel disarms the slot and reports whether a callback was pending.
func (s *Timer) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	armed := s.t != nil
	s.stopLocked()
	return armed
}

func (s *Timer) Armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t != nil
}

func (s *Timer) stopLocked() {
	if s.t != nil {
		s.t.Stop()
		s.t = nil
	}
	s.gen++
}
