// Package ui holds the caption/answer display state and renders it in the
// terminal.
package ui

import (
	"sync"

	"node.town/murmur/mic"
	"node.town/murmur/stt"
)

const InitialCaption = "Powered by Deepgram and Groq"

// Snapshot is a copy of everything on screen.
type Snapshot struct {
	Caption    string
	HasCaption bool
	Answer     string
	Capture    mic.State
	Session    stt.State
	Status     string
}

// Board is the single display state. Every change publishes a snapshot on
// Updates; a slow reader only ever sees the latest one.
type Board struct {
	mu      sync.Mutex
	snap    Snapshot
	updates chan Snapshot
}

func NewBoard(initialCaption string) *Board {
	b := &Board{updates: make(chan Snapshot, 1)}
	b.snap.Capture = mic.NotSetup
	if initialCaption != "" {
		b.snap.Caption = initialCaption
		b.snap.HasCaption = true
	}
	return b
}

func (b *Board) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snap
}

func (b *Board) Updates() <-chan Snapshot {
	return b.updates
}

func (b *Board) SetCaption(text string) {
	b.update(func(s *Snapshot) {
		s.Caption = text
		s.HasCaption = true
	})
}

func (b *Board) ClearCaption() {
	b.update(func(s *Snapshot) {
		s.Caption = ""
		s.HasCaption = false
	})
}

func (b *Board) SetAnswer(text string) {
	b.update(func(s *Snapshot) { s.Answer = text })
}

// ReportError shows a failure in the status line. The answer is kept.
func (b *Board) ReportError(err error) {
	b.update(func(s *Snapshot) { s.Status = err.Error() })
}

func (b *Board) SetStatus(status string) {
	b.update(func(s *Snapshot) { s.Status = status })
}

func (b *Board) SetCaptureState(state mic.State) {
	b.update(func(s *Snapshot) { s.Capture = state })
}

func (b *Board) SetSessionState(state stt.State) {
	b.update(func(s *Snapshot) { s.Session = state })
}

func (b *Board) update(fn func(*Snapshot)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(&b.snap)
	select {
	case <-b.updates:
	default:
	}
	b.updates <- b.snap
}
