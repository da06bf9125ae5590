// Package caption routes transcripts to the caption display and the
// completion dispatcher, and expires captions after an utterance ends.
package caption

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"node.town/murmur/etc"
	"node.town/murmur/stt"
)

const DefaultExpiry = 3 * time.Second

type Display interface {
	SetCaption(text string)
	ClearCaption()
}

type Dispatcher interface {
	Dispatch(text string)
}

// Router is attached to at most one session at a time. While attached every
// non-empty transcript becomes the caption and is dispatched; a final,
// speech-final transcript re-arms the single expiry timer.
type Router struct {
	display    Display
	dispatcher Dispatcher
	expiry     time.Duration
	logger     *log.Logger

	mu     sync.Mutex
	gen    uint64
	remove func()
	timer  etc.Timer
}

func NewRouter(
	display Display,
	dispatcher Dispatcher,
	expiry time.Duration,
	logger *log.Logger,
) *Router {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	return &Router{
		display:    display,
		dispatcher: dispatcher,
		expiry:     expiry,
		logger:     logger,
	}
}

// Attach subscribes to the session's transcripts. It reports false when
// already attached.
func (r *Router) Attach(s stt.Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.remove != nil {
		return false
	}
	r.gen++
	gen := r.gen
	r.remove = s.Subscribe(func(t stt.Transcript) {
		r.handle(gen, t)
	})
	r.logger.Debug("attached")
	return true
}

// Detach unsubscribes and cancels a pending caption expiry. After Detach
// returns no transcript from the previous session is acted on.
func (r *Router) Detach() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.remove == nil {
		return
	}
	r.remove()
	r.remove = nil
	r.gen++
	if r.timer.Cancel() {
		r.logger.Debug("expiry canceled")
	}
	r.logger.Debug("detached")
}

func (r *Router) Attached() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remove != nil
}

// ExpiryArmed reports whether a caption clear is pending.
func (r *Router) ExpiryArmed() bool {
	return r.timer.Armed()
}

func (r *Router) handle(gen uint64, t stt.Transcript) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.gen || r.remove == nil {
		return
	}

	if t.Text != "" {
		r.display.SetCaption(t.Text)
		r.dispatcher.Dispatch(t.Text)
	}
	if t.IsFinal && t.SpeechFinal {
		r.timer.Arm(r.expiry, r.display.ClearCaption)
	}
}
