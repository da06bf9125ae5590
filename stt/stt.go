// Package stt streams audio to a speech-to-text provider and reports
// transcripts and connection state.
package stt

import (
	"context"
	"errors"

	"node.town/murmur/audio"
)

var (
	ErrConnection   = errors.New("transcription connection error")
	ErrSendOnClosed = errors.New("send on closed transcription connection")
)

type State string

const (
	Connecting State = "connecting"
	Open       State = "open"
	Closed     State = "closed"
	Error      State = "error"
)

func (s State) Terminal() bool {
	return s == Closed || s == Error
}

type StateChange struct {
	From State
	To   State
	Err  error
}

// Transcript is one provider result. Interim results may precede the final
// result of an utterance; SpeechFinal marks the end of the utterance.
type Transcript struct {
	Text        string
	IsFinal     bool
	SpeechFinal bool
}

type Options struct {
	Model          string
	Language       string
	InterimResults bool
	SmartFormat    bool
	FillerWords    bool
	Punctuate      bool
	Endpointing    int // ms of silence; 0 leaves the provider default
	UtteranceEndMs int
	Format         audio.Format
}

func DefaultOptions() Options {
	return Options{
		Model:          "nova-2",
		Language:       "en-US",
		InterimResults: true,
		SmartFormat:    true,
		FillerWords:    true,
		UtteranceEndMs: 3000,
		Format:         audio.Linear16,
	}
}

// Provider opens streaming sessions. Connect returns at once with a session
// in Connecting; the outcome of the dial arrives as a state change.
type Provider interface {
	Connect(ctx context.Context, opts Options) (Session, error)
}

// Session is one streaming connection. Send and KeepAlive do nothing unless
// the session is Open. Sessions never reconnect.
type Session interface {
	State() State
	Send(chunk audio.Chunk)
	KeepAlive()
	Subscribe(fn func(Transcript)) (remove func())
	OnStateChange(fn func(StateChange)) (remove func())
	Close() error
}
