// Package live sequences the microphone, the transcription session and the
// caption router for one local listening session.
package live

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"

	"node.town/murmur/caption"
	"node.town/murmur/etc"
	"node.town/murmur/mic"
	"node.town/murmur/stt"
)

// StatusDisplay receives the state shown next to the caption.
type StatusDisplay interface {
	SetCaptureState(mic.State)
	SetSessionState(stt.State)
	SetStatus(string)
}

type Config struct {
	DeviceID  string
	Session   stt.Options
	Heartbeat *Heartbeat
}

type event interface{}

type micEvent struct {
	tr mic.Transition
}

type sessionEvent struct {
	session stt.Session
	change  stt.StateChange
}

type command int

const (
	toggle command = iota
	reconnect
)

// Orchestrator owns the ordering between the components: the device must be
// ready before a session is opened, and the session must be open before the
// router is attached and capture starts. All sequencing happens on the Run
// goroutine; component callbacks only enqueue events.
type Orchestrator struct {
	mic       *mic.Controller
	provider  stt.Provider
	router    *caption.Router
	display   StatusDisplay
	heartbeat *Heartbeat
	cfg       Config
	logger    *log.Logger

	qmu   sync.Mutex
	queue []event
	wake  chan struct{}

	// owned by the Run goroutine
	ctx           context.Context
	session       stt.Session
	sessionID     string
	sessionState  stt.State
	removeSession func()
	forward       func()
}

func New(
	capture *mic.Controller,
	provider stt.Provider,
	router *caption.Router,
	display StatusDisplay,
	cfg Config,
	logger *log.Logger,
) *Orchestrator {
	hb := cfg.Heartbeat
	if hb == nil {
		hb = NewHeartbeat(DefaultKeepAlive, logger)
	}
	return &Orchestrator{
		mic:       capture,
		provider:  provider,
		router:    router,
		display:   display,
		heartbeat: hb,
		cfg:       cfg,
		logger:    logger,
		wake:      make(chan struct{}, 1),
	}
}

// Run acquires the microphone and drives the session until ctx is done.
// A failed first setup is returned; later failures are shown as status.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.ctx = ctx
	removeMic := o.mic.OnStateChange(func(tr mic.Transition) {
		o.post(micEvent{tr: tr})
	})
	defer removeMic()
	defer o.teardown()

	if err := o.mic.Setup(ctx, o.cfg.DeviceID); err != nil {
		return fmt.Errorf("setup microphone: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-o.wake:
			for _, ev := range o.drain() {
				o.handle(ev)
			}
		}
	}
}

// Toggle starts capture when stopped and stops it when capturing.
func (o *Orchestrator) Toggle() {
	o.post(toggle)
}

// Reconnect opens a new session after the previous one ended.
func (o *Orchestrator) Reconnect() {
	o.post(reconnect)
}

func (o *Orchestrator) post(ev event) {
	o.qmu.Lock()
	o.queue = append(o.queue, ev)
	o.qmu.Unlock()
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *Orchestrator) drain() []event {
	o.qmu.Lock()
	defer o.qmu.Unlock()
	evs := o.queue
	o.queue = nil
	return evs
}

func (o *Orchestrator) handle(ev event) {
	switch ev := ev.(type) {
	case micEvent:
		o.onCapture(ev.tr)
	case sessionEvent:
		o.onSession(ev)
	case command:
		o.onCommand(ev)
	}
	o.reconcileHeartbeat()
}

func (o *Orchestrator) onCapture(tr mic.Transition) {
	o.display.SetCaptureState(tr.To)

	switch tr.To {
	case mic.Ready:
		if o.session == nil {
			o.connect()
		} else {
			o.startCapture()
		}
	case mic.Error:
		o.detachCapture()
		if tr.Err != nil {
			o.display.SetStatus(tr.Err.Error())
		}
	case mic.NotSetup:
		o.detachCapture()
	}
}

func (o *Orchestrator) onSession(ev sessionEvent) {
	if ev.session != o.session || ev.change.To == o.sessionState {
		return
	}
	o.sessionState = ev.change.To
	o.display.SetSessionState(ev.change.To)
	o.logger.Info("session", "id", o.sessionID, "state", ev.change.To)

	switch ev.change.To {
	case stt.Open:
		o.display.SetStatus("")
		o.startCapture()
	case stt.Closed, stt.Error:
		o.endSession(ev.change.Err)
	}
}

func (o *Orchestrator) onCommand(c command) {
	switch c {
	case toggle:
		switch o.mic.State() {
		case mic.Open:
			o.mic.Stop()
		case mic.Ready, mic.Paused:
			o.startCapture()
		case mic.NotSetup, mic.Error:
			o.setup()
		}
	case reconnect:
		if o.session != nil {
			return
		}
		if o.mic.HasDevice() {
			o.connect()
		} else {
			o.setup()
		}
	}
}

// setup acquires the device off the Run goroutine; the resulting Ready
// transition continues the sequence.
func (o *Orchestrator) setup() {
	ctx := o.ctx
	go func() {
		if err := o.mic.Setup(ctx, o.cfg.DeviceID); err != nil {
			o.logger.Error("setup", "error", err)
		}
	}()
}

func (o *Orchestrator) connect() {
	s, err := o.provider.Connect(o.ctx, o.cfg.Session)
	if err != nil {
		o.logger.Error("connect", "error", err)
		o.sessionState = stt.Error
		o.display.SetSessionState(stt.Error)
		o.display.SetStatus(err.Error())
		return
	}

	o.session = s
	o.sessionID = etc.NewFreshID()
	o.sessionState = stt.Connecting
	o.logger.Info("connect", "id", o.sessionID)
	o.display.SetSessionState(stt.Connecting)
	o.removeSession = s.OnStateChange(func(ch stt.StateChange) {
		o.post(sessionEvent{session: s, change: ch})
	})
	if st := s.State(); st != stt.Connecting {
		o.post(sessionEvent{
			session: s,
			change:  stt.StateChange{From: stt.Connecting, To: st},
		})
	}
}

// startCapture attaches the router and the chunk forwarder and starts the
// microphone. It requires an open session and a held device.
func (o *Orchestrator) startCapture() {
	if o.session == nil || o.sessionState != stt.Open || !o.mic.HasDevice() {
		return
	}
	o.router.Attach(o.session)
	if o.forward == nil {
		o.forward = o.mic.Subscribe(o.session.Send)
	}
	o.mic.Start()
}

func (o *Orchestrator) detachCapture() {
	o.router.Detach()
	if o.forward != nil {
		o.forward()
		o.forward = nil
	}
}

// endSession handles a terminal session: nothing reconnects on its own, the
// microphone is released and the user may reconnect.
func (o *Orchestrator) endSession(err error) {
	o.detachCapture()
	o.heartbeat.Disarm()
	if o.removeSession != nil {
		o.removeSession()
		o.removeSession = nil
	}
	o.session = nil
	o.mic.Stop()

	if err != nil {
		o.display.SetStatus(err.Error())
	} else {
		o.display.SetStatus("session closed")
	}
}

func (o *Orchestrator) reconcileHeartbeat() {
	want := o.session != nil &&
		o.sessionState == stt.Open &&
		o.mic.State() != mic.Open
	switch {
	case want && !o.heartbeat.Armed():
		o.heartbeat.Arm(o.session)
	case !want && o.heartbeat.Armed():
		o.heartbeat.Disarm()
	}
}

func (o *Orchestrator) teardown() {
	o.detachCapture()
	o.heartbeat.Disarm()
	o.mic.Stop()
	if o.removeSession != nil {
		o.removeSession()
		o.removeSession = nil
	}
	if o.session != nil {
		if err := o.session.Close(); err != nil {
			o.logger.Warn("close session", "error", err)
		}
		o.session = nil
	}
	o.logger.Info("stopped")
}
