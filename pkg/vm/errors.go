// Package vm - error handling with stack traces
package vm

import (
	"fmt"
	"strings"
)

// StackFrame captures one call frame's position at the moment a runtime
// error was raised, innermost frame first, mirroring how the VM's own
// call-frame stack is laid out.
type StackFrame struct {
	Name       string // function name, or "" for the top-level script
	SourceLine int
}

// RuntimeError is a Lox-level runtime failure: a message plus the call
// stack active when it was raised. Error() renders it exactly the way a
// Lox program's stderr output is expected to read, one frame per line,
// innermost first, so callers can write it straight to stderr unmodified.
type RuntimeError struct {
	Message    string
	StackTrace []StackFrame
}

func (e *RuntimeError) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	b.WriteByte('\n')
	for _, frame := range e.StackTrace {
		if frame.Name == "" {
			fmt.Fprintf(&b, "[line %d] in script\n", frame.SourceLine)
		} else {
			fmt.Fprintf(&b, "[line %d] in %s()\n", frame.SourceLine, frame.Name)
		}
	}
	return b.String()
}

func newRuntimeError(message string, stack []StackFrame) *RuntimeError {
	return &RuntimeError{Message: message, StackTrace: stack}
}
