package mic

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"node.town/murmur/audio"
	"node.town/murmur/etc"
)

type fakeRecorder struct {
	mu        sync.Mutex
	listeners etc.Listeners[audio.Chunk]
	attached  int
	detached  int
	started   int
	resumed   int
	paused    int
	stopped   int
	timeslice time.Duration
	startErr  error
	pauseErr  error
	lost      chan error
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{lost: make(chan error, 1)}
}

func (r *fakeRecorder) Start(timeslice time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started++
	r.timeslice = timeslice
	return r.startErr
}

func (r *fakeRecorder) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused++
	return r.pauseErr
}

func (r *fakeRecorder) Resume() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resumed++
	return nil
}

func (r *fakeRecorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped++
	return nil
}

func (r *fakeRecorder) OnData(fn func(audio.Chunk)) func() {
	r.mu.Lock()
	r.attached++
	r.mu.Unlock()
	remove := r.listeners.Add(fn)
	return func() {
		r.mu.Lock()
		r.detached++
		r.mu.Unlock()
		remove()
	}
}

func (r *fakeRecorder) Lost() <-chan error {
	return r.lost
}

func (r *fakeRecorder) emit(seq uint64) {
	r.listeners.Emit(audio.NewChunk(seq, time.Now(), []byte{byte(seq)}))
}

func (r *fakeRecorder) counts() (attached, detached int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attached, r.detached
}

type fakeDevice struct {
	mu      sync.Mutex
	opened  []Constraints
	openErr error
	recs    []*fakeRecorder
}

func (d *fakeDevice) Devices(context.Context) ([]DeviceInfo, error) {
	return []DeviceInfo{{DeviceID: "0", Kind: "audioinput", Label: "Built-in"}}, nil
}

func (d *fakeDevice) Open(_ context.Context, c Constraints) (Recorder, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opened = append(d.opened, c)
	if d.openErr != nil {
		return nil, d.openErr
	}
	rec := newFakeRecorder()
	d.recs = append(d.recs, rec)
	return rec, nil
}

func (d *fakeDevice) last() *fakeRecorder {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.recs[len(d.recs)-1]
}

func newTestController(d Device) *Controller {
	return NewController(d, DefaultOptions(), log.New(io.Discard))
}

func recordStates(c *Controller) func() []State {
	var mu sync.Mutex
	var states []State
	c.OnStateChange(func(tr Transition) {
		mu.Lock()
		states = append(states, tr.To)
		mu.Unlock()
	})
	return func() []State {
		mu.Lock()
		defer mu.Unlock()
		return append([]State(nil), states...)
	}
}

func equalStates(a, b []State) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSetupStartStop(t *testing.T) {
	t.Parallel()

	dev := &fakeDevice{}
	c := newTestController(dev)
	states := recordStates(c)

	if err := c.Setup(context.Background(), "mic-1"); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	if c.State() != Ready {
		t.Fatalf("state after setup = %s, want %s", c.State(), Ready)
	}
	opened := dev.opened[0]
	if opened.DeviceID != "mic-1" || !opened.NoiseSuppression || !opened.EchoCancellation {
		t.Errorf("unexpected constraints %+v", opened)
	}

	c.Start()
	if c.State() != Open {
		t.Fatalf("state after start = %s, want %s", c.State(), Open)
	}
	if rec := dev.last(); rec.timeslice != 250*time.Millisecond {
		t.Errorf("timeslice = %s, want 250ms", rec.timeslice)
	}

	c.Stop()
	want := []State{SettingUp, Ready, Opening, Open, Pausing, NotSetup}
	if got := states(); !equalStates(got, want) {
		t.Errorf("transitions = %v, want %v", got, want)
	}
	if dev.last().stopped != 1 {
		t.Errorf("recorder stopped %d times, want 1", dev.last().stopped)
	}
	if c.HasDevice() {
		t.Error("device still held after stop")
	}
}

func TestSetupFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		openErr error
		want    error
	}{
		{"permission", ErrPermissionDenied, ErrPermissionDenied},
		{"unavailable", ErrDeviceUnavailable, ErrDeviceUnavailable},
		{"other", errors.New("no such host api"), ErrDeviceUnavailable},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := newTestController(&fakeDevice{openErr: tt.openErr})

			err := c.Setup(context.Background(), "")
			if !errors.Is(err, tt.want) {
				t.Fatalf("Setup() error = %v, want %v", err, tt.want)
			}
			if c.State() != Error {
				t.Errorf("state = %s, want %s", c.State(), Error)
			}
		})
	}
}

func TestStartWithoutDeviceIsNoop(t *testing.T) {
	t.Parallel()

	c := newTestController(&fakeDevice{})
	states := recordStates(c)

	c.Start()

	if c.State() != NotSetup {
		t.Errorf("state = %s, want %s", c.State(), NotSetup)
	}
	if got := states(); len(got) != 0 {
		t.Errorf("unexpected transitions %v", got)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	t.Parallel()

	dev := &fakeDevice{}
	c := newTestController(dev)
	if err := c.Setup(context.Background(), ""); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	c.Start()
	c.Stop()
	states := recordStates(c)

	c.Stop()
	c.Stop()

	if got := states(); len(got) != 0 {
		t.Errorf("second stop produced transitions %v", got)
	}
	if dev.last().stopped != 1 {
		t.Errorf("recorder stopped %d times, want 1", dev.last().stopped)
	}
}

func TestListenerSymmetryAcrossCycles(t *testing.T) {
	t.Parallel()

	dev := &fakeDevice{}
	c := newTestController(dev)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := c.Setup(ctx, ""); err != nil {
			t.Fatalf("setup %d failed: %v", i, err)
		}
		c.Start()
		c.Start()
		c.Pause()
		c.Start()
		c.Stop()
	}

	for i, rec := range dev.recs {
		attached, detached := rec.counts()
		if attached != detached {
			t.Errorf("recorder %d: %d attaches, %d detaches", i, attached, detached)
		}
		if attached != 2 {
			t.Errorf("recorder %d: %d attaches, want 2", i, attached)
		}
		if rec.resumed != 1 {
			t.Errorf("recorder %d resumed %d times, want 1", i, rec.resumed)
		}
	}
}

func TestChunksDeliveredOnlyWhileOpen(t *testing.T) {
	t.Parallel()

	dev := &fakeDevice{}
	c := newTestController(dev)
	var got []uint64
	c.Subscribe(func(ch audio.Chunk) { got = append(got, ch.Seq) })

	if err := c.Setup(context.Background(), ""); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	rec := dev.last()
	rec.emit(0)
	c.Start()
	rec.emit(1)
	rec.emit(2)
	c.Pause()
	rec.emit(3)
	c.Start()
	rec.emit(4)
	c.Stop()
	rec.emit(5)

	want := []uint64{1, 2, 4}
	if len(got) != len(want) {
		t.Fatalf("delivered %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("delivered %v, want %v", got, want)
		}
	}
}

func TestStartFailureDetaches(t *testing.T) {
	t.Parallel()

	dev := &fakeDevice{}
	c := newTestController(dev)
	if err := c.Setup(context.Background(), ""); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	rec := dev.last()
	rec.startErr = errors.New("stream busy")

	c.Start()

	if c.State() != Error {
		t.Errorf("state = %s, want %s", c.State(), Error)
	}
	attached, detached := rec.counts()
	if attached != detached {
		t.Errorf("%d attaches, %d detaches", attached, detached)
	}
}

func TestSetupAfterStartFailure(t *testing.T) {
	t.Parallel()

	dev := &fakeDevice{}
	c := newTestController(dev)
	if err := c.Setup(context.Background(), ""); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	broken := dev.last()
	broken.startErr = errors.New("stream busy")

	c.Start()
	if c.State() != Error {
		t.Fatalf("state = %s, want %s", c.State(), Error)
	}
	if c.HasDevice() {
		t.Error("failed recorder still held")
	}
	if broken.stopped != 1 {
		t.Errorf("failed recorder stopped %d times, want 1", broken.stopped)
	}

	if err := c.Setup(context.Background(), ""); err != nil {
		t.Fatalf("second setup failed: %v", err)
	}
	if c.State() != Ready {
		t.Fatalf("state after setup = %s, want %s", c.State(), Ready)
	}
	if dev.last() == broken {
		t.Fatal("setup reused the failed recorder")
	}
	c.Start()
	if c.State() != Open {
		t.Errorf("state = %s, want %s", c.State(), Open)
	}
}

func TestSetupAfterPauseFailure(t *testing.T) {
	t.Parallel()

	dev := &fakeDevice{}
	c := newTestController(dev)
	if err := c.Setup(context.Background(), ""); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	c.Start()
	broken := dev.last()
	broken.pauseErr = errors.New("stream gone")

	c.Pause()
	if c.State() != Error {
		t.Fatalf("state = %s, want %s", c.State(), Error)
	}
	if c.HasDevice() {
		t.Error("failed recorder still held")
	}
	attached, detached := broken.counts()
	if attached != detached {
		t.Errorf("%d attaches, %d detaches", attached, detached)
	}

	if err := c.Setup(context.Background(), ""); err != nil {
		t.Fatalf("second setup failed: %v", err)
	}
	c.Start()
	if c.State() != Open {
		t.Errorf("state = %s, want %s", c.State(), Open)
	}
}

func TestSetupFailureAfterStop(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	dev := &blockingDevice{
		gate:       gate,
		fakeDevice: &fakeDevice{openErr: ErrPermissionDenied},
	}
	c := newTestController(dev)
	states := recordStates(c)

	done := make(chan error)
	go func() { done <- c.Setup(context.Background(), "") }()

	for c.State() != SettingUp {
		time.Sleep(time.Millisecond)
	}
	c.Stop()
	close(gate)

	if err := <-done; !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("Setup() error = %v, want ErrPermissionDenied", err)
	}
	if c.State() != NotSetup {
		t.Errorf("state = %s, want %s", c.State(), NotSetup)
	}
	want := []State{SettingUp, Pausing, NotSetup}
	if got := states(); !equalStates(got, want) {
		t.Errorf("transitions = %v, want %v", got, want)
	}
}

func TestDeviceLossMovesToError(t *testing.T) {
	t.Parallel()

	dev := &fakeDevice{}
	c := newTestController(dev)
	errs := make(chan error, 4)
	c.OnStateChange(func(tr Transition) {
		if tr.To == Error {
			errs <- tr.Err
		}
	})
	if err := c.Setup(context.Background(), ""); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	c.Start()
	rec := dev.last()

	rec.lost <- errors.New("unplugged")

	select {
	case err := <-errs:
		if !errors.Is(err, ErrDeviceLost) {
			t.Errorf("error = %v, want ErrDeviceLost", err)
		}
	case <-time.After(time.Second):
		t.Fatal("no Error transition after device loss")
	}
	if c.HasDevice() {
		t.Error("device still held after loss")
	}
	attached, detached := rec.counts()
	if attached != detached {
		t.Errorf("%d attaches, %d detaches", attached, detached)
	}

	c.Stop()
	if c.State() != NotSetup {
		t.Errorf("state after stop = %s, want %s", c.State(), NotSetup)
	}
}

func TestStopDuringSetupReleasesRecorder(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	dev := &blockingDevice{gate: gate, fakeDevice: &fakeDevice{}}
	c := newTestController(dev)

	done := make(chan error)
	go func() { done <- c.Setup(context.Background(), "") }()

	for c.State() != SettingUp {
		time.Sleep(time.Millisecond)
	}
	c.Stop()
	close(gate)

	if err := <-done; err != nil {
		t.Fatalf("setup returned %v", err)
	}
	if c.HasDevice() {
		t.Error("device held after stop during setup")
	}
	if dev.last().stopped != 1 {
		t.Errorf("late recorder stopped %d times, want 1", dev.last().stopped)
	}
}

type blockingDevice struct {
	*fakeDevice
	gate chan struct{}
}

func (d *blockingDevice) Open(ctx context.Context, c Constraints) (Recorder, error) {
	<-d.gate
	return d.fakeDevice.Open(ctx, c)
}
