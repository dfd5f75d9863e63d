package main

import (
	"fmt"
	"io"
	"os"

	"github.com/chzyer/readline"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"

	"github.com/kristofer/loxvm/pkg/compiler"
	"github.com/kristofer/loxvm/pkg/heap"
	"github.com/kristofer/loxvm/pkg/vm"
)

// runREPL starts an interactive session. Each line recompiles as its own
// independent zero-arity script function, but the heap, globals, and VM
// all persist across inputs, so `var x = 1;` on one line is visible to
// `print x;` on the next.
func runREPL(log *logrus.Logger, trace bool) error {
	rl, err := readline.New("> ")
	if err != nil {
		return err
	}
	defer rl.Close()

	h := heap.New(log)
	machine := vm.New(h, log)
	machine.SetTrace(trace)

	fmt.Println("loxvm " + version + " -- type ctrl-d to exit")
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if line == "" {
			continue
		}
		if line == ".globals" {
			printGlobals(machine)
			continue
		}

		fn, err := compiler.New(line, h, log).Compile()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			continue
		}
		if err := machine.Interpret(fn); err != nil {
			fmt.Fprint(os.Stderr, err)
		}
	}
}

// printGlobals lists every global binding defined so far, sorted by
// name. A REPL-only diagnostic, handy for remembering what an earlier
// line already defined.
func printGlobals(machine *vm.VM) {
	keys := machine.Globals().Keys()
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = k.Chars
	}
	slices.Sort(names)
	for _, name := range names {
		fmt.Println(name)
	}
}
