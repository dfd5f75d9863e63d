// Package vm - execution tracing
package vm

import (
	"bytes"
	"fmt"
	"os"
)

// traceInstruction prints the current value stack followed by the
// disassembly of the instruction about to execute, the same shape as
// the reference implementation's DEBUG_TRACE_EXECUTION build flag.
// Enabled via --trace; never used for a program's own stdout, only for
// this diagnostic stream on stderr.
func (vm *VM) traceInstruction(f *CallFrame) {
	fmt.Fprint(os.Stderr, "          ")
	for i := 0; i < vm.stackTop; i++ {
		fmt.Fprintf(os.Stderr, "[ %s ]", vm.stack[i].String())
	}
	fmt.Fprintln(os.Stderr)

	var buf bytes.Buffer
	f.closure.Function.Chunk.DisassembleInstruction(&buf, f.ip)
	fmt.Fprint(os.Stderr, buf.String())
}
