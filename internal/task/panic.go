package task

import (
	"bytes"
	"fmt"
	"runtime"
)

// panicError wraps an error recovered from an unhandled panic inside a task body.
type panicError struct {
	Recovered error
	Stack     []byte
}

func (p panicError) Error() string {
	if len(p.Stack) > 0 {
		return fmt.Sprintf("recovered from task: %v\n%s", p.Recovered, p.Stack)
	}
	return fmt.Sprintf("recovered from task: %v", p.Recovered)
}

func (p panicError) Unwrap() error { return p.Recovered }

// panicValue wraps a non-error value recovered from an unhandled panic inside a task body.
type panicValue struct {
	Recovered interface{}
	Stack     []byte
}

func (p panicValue) String() string {
	if len(p.Stack) > 0 {
		return fmt.Sprintf("recovered from task: %v\n%s", p.Recovered, p.Stack)
	}
	return fmt.Sprintf("recovered from task: %v", p.Recovered)
}

// addStack returns a panicError or panicValue that wraps v with a stack trace of the panicking goroutine.
func addStack(v interface{}) interface{} {
	// Taken from https://go-review.googlesource.com/c/sync/+/416555
	stack := make([]byte, 2<<10)
	n := runtime.Stack(stack, false)
	for n == len(stack) {
		stack = make([]byte, len(stack)*2)
		n = runtime.Stack(stack, false)
	}
	stack = stack[:n]

	// The first line is "goroutine N [status]:" but by the time the panic
	// reaches the caller the goroutine will no longer exist. Trim it.
	if bytes.HasPrefix(stack, []byte("goroutine ")) {
		if line := bytes.IndexByte(stack, '\n'); line >= 0 {
			stack = stack[line+1:]
		}
	}

	if err, ok := v.(error); ok {
		return panicError{Recovered: err, Stack: stack}
	}
	return panicValue{Recovered: v, Stack: stack}
}
