package live

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"node.town/murmur/stt"
)

const DefaultKeepAlive = 10 * time.Second

// Heartbeat keeps an idle session alive. It is a single slot: Arm disarms
// any running heartbeat first, and Disarm returns only after the ticking
// goroutine has exited. A keepalive in flight holds Disarm for at most the
// session's keepalive write deadline.
type Heartbeat struct {
	interval time.Duration
	logger   *log.Logger

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func NewHeartbeat(interval time.Duration, logger *log.Logger) *Heartbeat {
	if interval <= 0 {
		interval = DefaultKeepAlive
	}
	return &Heartbeat{interval: interval, logger: logger}
}

// Arm sends a keepalive now and then once per interval.
func (h *Heartbeat) Arm(s stt.Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disarmLocked()
	h.stop = make(chan struct{})
	h.done = make(chan struct{})
	go h.loop(s, h.stop, h.done)
	h.logger.Debug("heartbeat armed", "interval", h.interval)
}

func (h *Heartbeat) Disarm() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.disarmLocked() {
		h.logger.Debug("heartbeat disarmed")
	}
}

func (h *Heartbeat) disarmLocked() bool {
	if h.stop == nil {
		return false
	}
	close(h.stop)
	<-h.done
	h.stop, h.done = nil, nil
	return true
}

func (h *Heartbeat) Armed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stop != nil
}

func (h *Heartbeat) loop(s stt.Session, stop, done chan struct{}) {
	defer close(done)

	s.KeepAlive()
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.KeepAlive()
		case <-stop:
			return
		}
	}
}
