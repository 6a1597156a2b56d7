// Package vm - runtime error reporting with stack traces
package vm

import (
	"fmt"
	"strings"
)

// StackFrame captures one live call at the moment a runtime error fired.
// Function is empty for the top-level script.
type StackFrame struct {
	Line     int
	Function string
}

// RuntimeError is a runtime failure together with the call stack at the
// time of the error, innermost frame first.
type RuntimeError struct {
	Message    string
	StackTrace []StackFrame
}

// Error implements the error interface in the interpreter's diagnostic
// format: the message, then one "[line N] in <name>" line per frame.
func (e *RuntimeError) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	for _, frame := range e.StackTrace {
		if frame.Function == "" {
			fmt.Fprintf(&b, "\n[line %d] in script", frame.Line)
		} else {
			fmt.Fprintf(&b, "\n[line %d] in %s()", frame.Line, frame.Function)
		}
	}
	return b.String()
}

// runtimeError reports a runtime failure: it snapshots the live frames
// into a RuntimeError, writes it to the error stream, and resets the
// stack. Lox has no way to recover inside the program.
func (vm *VM) runtimeError(format string, args ...interface{}) {
	err := &RuntimeError{Message: fmt.Sprintf(format, args...)}

	for i := vm.frameCount - 1; i >= 0; i-- {
		frame := &vm.frames[i]
		function := frame.closure.Function
		// ip already advanced past the faulting instruction
		instruction := frame.ip - 1
		sf := StackFrame{Line: function.Chunk.Lines[instruction]}
		if function.Name != nil {
			sf.Function = function.Name.Chars
		}
		err.StackTrace = append(err.StackTrace, sf)
	}

	fmt.Fprintf(vm.ferr, "%s\n", err.Error())
	vm.resetStack()
}
