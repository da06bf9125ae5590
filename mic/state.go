package mic

type State string

const (
	NotSetup  State = "not-setup"
	SettingUp State = "setting-up"
	Ready     State = "ready"
	Opening   State = "opening"
	Open      State = "open"
	Pausing   State = "pausing"
	Paused    State = "paused"
	Error     State = "error"
)

// Busy reports whether the state is a transient step during which user
// start/stop controls are disabled.
func (s State) Busy() bool {
	return s == SettingUp || s == Opening || s == Pausing
}

// Transition is delivered to state observers.
type Transition struct {
	From State
	To   State
	Err  error
}
