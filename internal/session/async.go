package session

// Result delivers an async flow outcome.
type Result[T any] struct {
	Value T
	Err   error
}

// Go runs fn on its own goroutine and returns a buffered channel with the
// outcome. Flows never block the caller: UI-facing code fires a flow and
// observes the channel. There is no cancellation beyond the context passed
// into the flow itself; a completion arriving after the caller moved on is
// handled by the coordinator's staleness guard, not by the dispatcher.
func Go[T any](fn func() (T, error)) <-chan Result[T] {
	ch := make(chan Result[T], 1)
	go func() {
		value, err := fn()
		ch <- Result[T]{Value: value, Err: err}
	}()
	return ch
}

// Do is Go for flows that only report an error.
func Do(fn func() error) <-chan error {
	ch := make(chan error, 1)
	go func() {
		ch <- fn()
	}()
	return ch
}
