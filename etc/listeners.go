package etc

import "sync"

// Listeners is a registry of callbacks. The zero value is ready to use.
// Emit calls listeners in registration order, outside the registry lock, so
// a listener may add or remove listeners.
type Listeners[T any] struct {
	mu      sync.Mutex
	next    int
	entries []listener[T]
}

type listener[T any] struct {
	id int
	fn func(T)
}

// Add registers fn and returns its removal function. Calling the removal
// function more than once has no effect.
func (l *Listeners[T]) Add(fn func(T)) (remove func()) {
	l.mu.Lock()
	l.next++
	id := l.next
	l.entries = append(l.entries, listener[T]{id: id, fn: fn})
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { l.remove(id) })
	}
}

func (l *Listeners[T]) remove(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, e := range l.entries {
		if e.id == id {
			l.entries = append(l.entries[:i:i], l.entries[i+1:]...)
			return
		}
	}
}

func (l *Listeners[T]) Emit(v T) {
	l.mu.Lock()
	snapshot := make([]listener[T], len(l.entries))
	copy(snapshot, l.entries)
	l.mu.Unlock()

	for _, e := range snapshot {
		e.fn(v)
	}
}

func (l *Listeners[T]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
