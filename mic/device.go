// Package mic owns the microphone lifecycle: permission and setup, chunked
// capture, pause and release.
package mic

import (
	"context"
	"errors"
	"time"

	"node.town/murmur/audio"
)

var (
	ErrPermissionDenied  = errors.New("microphone permission denied")
	ErrDeviceUnavailable = errors.New("microphone unavailable")
	ErrDeviceLost        = errors.New("microphone lost")
)

// DeviceInfo describes one input device as reported by enumeration.
type DeviceInfo struct {
	DeviceID string
	Kind     string
	Label    string
	Default  bool
}

// Constraints are the capture request parameters. An empty DeviceID selects
// the platform default input.
type Constraints struct {
	DeviceID         string
	NoiseSuppression bool
	EchoCancellation bool
	Format           audio.Format
}

// Device is the platform boundary: enumeration and access to a recorder.
type Device interface {
	Devices(ctx context.Context) ([]DeviceInfo, error)
	Open(ctx context.Context, c Constraints) (Recorder, error)
}

// Recorder produces chunks from an acquired input stream at a fixed
// timeslice. Lost delivers at most one error when the device ends on its own.
type Recorder interface {
	Start(timeslice time.Duration) error
	Pause() error
	Resume() error
	Stop() error
	OnData(fn func(audio.Chunk)) (remove func())
	Lost() <-chan error
}
