package mic

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"node.town/murmur/audio"
	"node.town/murmur/etc"
)

type Options struct {
	Format           audio.Format
	Timeslice        time.Duration
	NoiseSuppression bool
	EchoCancellation bool
}

func DefaultOptions() Options {
	return Options{
		Format:           audio.Linear16,
		Timeslice:        250 * time.Millisecond,
		NoiseSuppression: true,
		EchoCancellation: true,
	}
}

// Controller is the single owner of the microphone. It holds at most one
// recorder and attaches exactly one data listener to it while capturing.
type Controller struct {
	device Device
	opts   Options
	logger *log.Logger

	mu        sync.Mutex
	state     State
	rec       Recorder
	detach    func()
	stopWatch chan struct{}

	chunks    etc.Listeners[audio.Chunk]
	observers etc.Listeners[Transition]
}

func NewController(
	device Device,
	opts Options,
	logger *log.Logger,
) *Controller {
	if opts.Timeslice <= 0 {
		opts.Timeslice = DefaultOptions().Timeslice
	}
	return &Controller{
		device: device,
		opts:   opts,
		logger: logger,
		state:  NotSetup,
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// HasDevice reports whether a recorder is currently held.
func (c *Controller) HasDevice() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rec != nil
}

// Subscribe registers a chunk consumer. Chunks are delivered in capture
// order from the recorder's goroutine.
func (c *Controller) Subscribe(fn func(audio.Chunk)) (unsubscribe func()) {
	return c.chunks.Add(fn)
}

func (c *Controller) OnStateChange(fn func(Transition)) (remove func()) {
	return c.observers.Add(fn)
}

func (c *Controller) Devices(ctx context.Context) ([]DeviceInfo, error) {
	return c.device.Devices(ctx)
}

// Setup acquires the input device and moves to Ready. Errors wrap
// ErrPermissionDenied or ErrDeviceUnavailable and leave the controller in
// Error; the caller may call Setup again.
func (c *Controller) Setup(ctx context.Context, deviceID string) error {
	c.mu.Lock()
	if c.rec != nil || c.state == SettingUp {
		c.mu.Unlock()
		return nil
	}
	tr := c.setLocked(SettingUp, nil)
	c.mu.Unlock()
	c.notify(tr)

	c.logger.Info("setup", "device", deviceID)
	rec, err := c.device.Open(ctx, Constraints{
		DeviceID:         deviceID,
		NoiseSuppression: c.opts.NoiseSuppression,
		EchoCancellation: c.opts.EchoCancellation,
		Format:           c.opts.Format,
	})

	c.mu.Lock()
	if err != nil {
		if !errors.Is(err, ErrPermissionDenied) &&
			!errors.Is(err, ErrDeviceUnavailable) {
			err = fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
		}
		if c.state != SettingUp {
			// stopped or superseded while waiting on the device
			c.mu.Unlock()
			c.logger.Warn("late setup failure", "error", err)
			return err
		}
		tr := c.setLocked(Error, err)
		c.mu.Unlock()
		c.logger.Error("setup failed", "error", err)
		c.notify(tr)
		return err
	}
	if c.state != SettingUp {
		// stopped while waiting on the device
		c.mu.Unlock()
		if err := rec.Stop(); err != nil {
			c.logger.Warn("release", "error", err)
		}
		return nil
	}
	c.rec = rec
	c.stopWatch = make(chan struct{})
	go c.watch(rec, c.stopWatch)
	tr = c.setLocked(Ready, nil)
	c.mu.Unlock()

	c.notify(tr)
	return nil
}

// Start begins or resumes chunk production. It does nothing when no device
// is held or capture is already running.
func (c *Controller) Start() {
	c.mu.Lock()
	if c.rec == nil || (c.state != Ready && c.state != Paused) {
		c.mu.Unlock()
		return
	}
	resume := c.state == Paused
	trs := []Transition{c.setLocked(Opening, nil)}

	c.detach = c.rec.OnData(c.chunks.Emit)
	var err error
	if resume {
		err = c.rec.Resume()
	} else {
		err = c.rec.Start(c.opts.Timeslice)
	}
	if err != nil {
		c.detachLocked()
		c.failLocked()
		err = fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
		trs = append(trs, c.setLocked(Error, err))
	} else {
		trs = append(trs, c.setLocked(Open, nil))
	}
	c.mu.Unlock()

	if err != nil {
		c.logger.Error("start failed", "error", err)
	} else {
		c.logger.Info("capturing", "resume", resume)
	}
	c.notify(trs...)
}

// Pause suspends chunk production but keeps the device. A recorder that
// fails to pause is released.
func (c *Controller) Pause() {
	c.mu.Lock()
	if c.rec == nil || c.state != Open {
		c.mu.Unlock()
		return
	}
	trs := []Transition{c.setLocked(Pausing, nil)}
	c.detachLocked()
	if err := c.rec.Pause(); err != nil {
		c.failLocked()
		err = fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
		trs = append(trs, c.setLocked(Error, err))
	} else {
		trs = append(trs, c.setLocked(Paused, nil))
	}
	c.mu.Unlock()

	c.notify(trs...)
}

// Stop detaches the chunk listener, releases the device and returns to
// NotSetup. Calling Stop when already stopped has no effect.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.state == NotSetup && c.rec == nil {
		c.mu.Unlock()
		return
	}
	trs := []Transition{c.setLocked(Pausing, nil)}
	c.detachLocked()
	var err error
	if c.rec != nil {
		err = c.releaseLocked()
	}
	trs = append(trs, c.setLocked(NotSetup, nil))
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn("release", "error", err)
	}
	c.logger.Info("stopped")
	c.notify(trs...)
}

func (c *Controller) watch(rec Recorder, done <-chan struct{}) {
	select {
	case cause, ok := <-rec.Lost():
		if !ok {
			cause = nil
		}
		c.lost(rec, cause)
	case <-done:
	}
}

func (c *Controller) lost(rec Recorder, cause error) {
	c.mu.Lock()
	if c.rec != rec {
		c.mu.Unlock()
		return
	}
	c.detachLocked()
	if err := c.releaseLocked(); err != nil {
		c.logger.Debug("release after loss", "error", err)
	}
	err := ErrDeviceLost
	if cause != nil {
		err = fmt.Errorf("%w: %v", ErrDeviceLost, cause)
	}
	tr := c.setLocked(Error, err)
	c.mu.Unlock()

	c.logger.Error("device lost", "error", err)
	c.notify(tr)
}

func (c *Controller) detachLocked() {
	if c.detach != nil {
		c.detach()
		c.detach = nil
	}
}

func (c *Controller) releaseLocked() error {
	if c.stopWatch != nil {
		close(c.stopWatch)
		c.stopWatch = nil
	}
	err := c.rec.Stop()
	c.rec = nil
	return err
}

// failLocked releases a recorder that refused to start or pause, so a later
// Setup acquires a fresh one.
func (c *Controller) failLocked() {
	if err := c.releaseLocked(); err != nil {
		c.logger.Debug("release after failure", "error", err)
	}
}

func (c *Controller) setLocked(to State, err error) Transition {
	tr := Transition{From: c.state, To: to, Err: err}
	c.state = to
	return tr
}

func (c *Controller) notify(trs ...Transition) {
	for _, tr := range trs {
		c.logger.Debug("state", "from", tr.From, "to", tr.To)
		c.observers.Emit(tr)
	}
}
