package task

import (
	"context"
	"fmt"
	"runtime/debug"
)

// PanicError is returned by Invoke when the action panicked.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// Invoke runs action and converts a panic into a *PanicError so one bad
// loader cannot take down the runner or scheduler goroutine.
func Invoke(ctx context.Context, action Action) (err error) {
	if action == nil {
		return ErrNilAction
	}
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: string(debug.Stack())}
		}
	}()
	return action(ctx)
}
