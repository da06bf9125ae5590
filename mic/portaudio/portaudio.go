// Package portaudio adapts PortAudio input streams to mic.Device.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	pa "github.com/gordonklaus/portaudio"

	"node.town/murmur/audio"
	"node.town/murmur/etc"
	"node.town/murmur/mic"
)

const framesPerBuffer = 512

type Device struct {
	logger *log.Logger
}

func NewDevice(logger *log.Logger) *Device {
	return &Device{logger: logger}
}

// Devices lists input-capable devices. DeviceID is the PortAudio device
// index.
func (d *Device) Devices(ctx context.Context) ([]mic.DeviceInfo, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	defer pa.Terminate()

	all, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	def, _ := pa.DefaultInputDevice()

	var infos []mic.DeviceInfo
	for i, dev := range all {
		if dev.MaxInputChannels <= 0 {
			continue
		}
		infos = append(infos, mic.DeviceInfo{
			DeviceID: strconv.Itoa(i),
			Kind:     "audioinput",
			Label:    dev.Name,
			Default:  def != nil && dev.Name == def.Name,
		})
	}
	return infos, nil
}

// Open acquires the input device and opens a blocking stream on it. PortAudio
// has no noise suppression or echo cancellation controls; those constraints
// are logged and otherwise left to the host audio stack.
func (d *Device) Open(
	ctx context.Context,
	c mic.Constraints,
) (mic.Recorder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := pa.Initialize(); err != nil {
		return nil, classify(err)
	}

	dev, err := findDevice(c.DeviceID)
	if err != nil {
		pa.Terminate()
		return nil, err
	}

	format := c.Format
	if format.SampleRate == 0 {
		format = audio.Linear16
	}
	params := pa.LowLatencyParameters(dev, nil)
	params.Input.Channels = format.Channels
	params.SampleRate = float64(format.SampleRate)
	params.FramesPerBuffer = framesPerBuffer

	buf := make([]int16, framesPerBuffer*format.Channels)
	stream, err := pa.OpenStream(params, buf)
	if err != nil {
		pa.Terminate()
		return nil, classify(err)
	}

	d.logger.Info(
		"opened",
		"device", dev.Name,
		"rate", format.SampleRate,
		"channels", format.Channels,
	)
	d.logger.Debug(
		"host constraints",
		"noise_suppression", c.NoiseSuppression,
		"echo_cancellation", c.EchoCancellation,
	)

	return &recorder{
		stream: stream,
		buf:    buf,
		logger: d.logger,
		lost:   make(chan error, 1),
	}, nil
}

func findDevice(id string) (*pa.DeviceInfo, error) {
	if id == "" {
		dev, err := pa.DefaultInputDevice()
		if err != nil {
			return nil, classify(err)
		}
		return dev, nil
	}

	all, err := pa.Devices()
	if err != nil {
		return nil, classify(err)
	}
	if idx, err := strconv.Atoi(id); err == nil {
		if idx < 0 || idx >= len(all) || all[idx].MaxInputChannels <= 0 {
			return nil, fmt.Errorf(
				"%w: no input device at index %d",
				mic.ErrDeviceUnavailable,
				idx,
			)
		}
		return all[idx], nil
	}
	for _, dev := range all {
		if dev.MaxInputChannels > 0 && dev.Name == id {
			return dev, nil
		}
	}
	return nil, fmt.Errorf("%w: no input device %q", mic.ErrDeviceUnavailable, id)
}

func classify(err error) error {
	if strings.Contains(strings.ToLower(err.Error()), "permission") {
		return fmt.Errorf("%w: %v", mic.ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %v", mic.ErrDeviceUnavailable, err)
}

type recorder struct {
	stream *pa.Stream
	buf    []int16
	logger *log.Logger

	listeners etc.Listeners[audio.Chunk]
	lost      chan error

	mu        sync.Mutex
	timeslice time.Duration
	quit      chan struct{}
	done      chan struct{}
	seq       uint64
	closed    bool
}

func (r *recorder) Start(timeslice time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timeslice = timeslice
	return r.runLocked()
}

func (r *recorder) Resume() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runLocked()
}

func (r *recorder) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.haltLocked()
}

func (r *recorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	err := r.haltLocked()
	if cerr := r.stream.Close(); cerr != nil && err == nil {
		err = cerr
	}
	pa.Terminate()
	return err
}

func (r *recorder) OnData(fn func(audio.Chunk)) func() {
	return r.listeners.Add(fn)
}

func (r *recorder) Lost() <-chan error {
	return r.lost
}

func (r *recorder) runLocked() error {
	if r.closed {
		return errors.New("recorder closed")
	}
	if r.quit != nil {
		return nil
	}
	if err := r.stream.Start(); err != nil {
		return err
	}
	r.quit = make(chan struct{})
	r.done = make(chan struct{})
	go r.loop(r.timeslice, r.quit, r.done)
	return nil
}

func (r *recorder) haltLocked() error {
	if r.quit == nil {
		return nil
	}
	close(r.quit)
	<-r.done
	r.quit, r.done = nil, nil
	return r.stream.Stop()
}

// loop reads fixed-size buffers and emits one chunk per timeslice. A read
// failure other than an input overflow is reported on lost and ends the loop.
func (r *recorder) loop(timeslice time.Duration, quit, done chan struct{}) {
	defer close(done)

	var pending []byte
	deadline := time.Now().Add(timeslice)
	for {
		select {
		case <-quit:
			return
		default:
		}

		if err := r.stream.Read(); err != nil {
			if errors.Is(err, pa.InputOverflowed) {
				r.logger.Debug("input overflowed")
				continue
			}
			select {
			case r.lost <- err:
			default:
			}
			return
		}

		pending = audio.AppendPCM16(pending, r.buf)
		if now := time.Now(); !now.Before(deadline) {
			r.seq++
			r.listeners.Emit(audio.NewChunk(r.seq, now, pending))
			pending = pending[:0]
			deadline = now.Add(timeslice)
		}
	}
}
