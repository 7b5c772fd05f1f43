package lifecycle

import (
	"context"
	"fmt"
	"runtime/debug"
)

// Registration is the pending result of one asynchronous plugin
// registration (custom question types, brand modules). The machine
// awaits every registration before it enters Initializing.
type Registration struct {
	name string
	done chan struct{}
	err  error
}

// Register starts fn on its own goroutine and returns its future.
func Register(ctx context.Context, name string, fn func(context.Context) error) *Registration {
	r := &Registration{name: name, done: make(chan struct{})}
	go func() {
		defer close(r.done)
		defer func() {
			if p := recover(); p != nil {
				r.err = &PanicError{Value: p, Stack: string(debug.Stack())}
			}
		}()
		r.err = fn(ctx)
	}()
	return r
}

func (r *Registration) Name() string { return r.name }

// Done is closed once the registration has finished.
func (r *Registration) Done() <-chan struct{} { return r.done }

// Wait blocks until the registration finishes or ctx ends.
func (r *Registration) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		if r.err != nil {
			return fmt.Errorf("plugin %s: %w", r.name, r.err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("plugin %s: %w", r.name, ctx.Err())
	}
}

// PanicError wraps a recovered panic together with its stack.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

func (e *PanicError) StackTrace() string { return e.Stack }
