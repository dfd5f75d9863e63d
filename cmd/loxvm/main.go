// Command loxvm is the command-line entry point for the interpreter:
// running scripts, a REPL, ahead-of-time compilation to .loxc bytecode
// files, and disassembly.
package main

import (
	"fmt"
	"os"

	heredoc "github.com/MakeNowJust/heredoc/v2"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	easy "github.com/t-tomalak/logrus-easy-formatter"

	"github.com/kristofer/loxvm/pkg/compiler"
	"github.com/kristofer/loxvm/pkg/heap"
	"github.com/kristofer/loxvm/pkg/object"
	"github.com/kristofer/loxvm/pkg/vm"
)

const version = "0.1.0"

// exit codes match the reference implementation's convention, used by
// the test suite to distinguish compile-time from runtime failures.
const (
	exitOK       = 0
	exitDataErr  = 65 // compile-time error
	exitSoftware = 70 // runtime error
)

func newLogger(verbose bool) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&easy.Formatter{
		LogFormat: "%lvl%: %msg%\n",
	})
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.WarnLevel)
	}
	return log
}

func main() {
	var verbose bool
	var trace bool

	root := &cobra.Command{
		Use:     "loxvm",
		Short:   "A bytecode interpreter for Lox",
		Long: heredoc.Doc(`
			loxvm compiles and runs Lox programs.

			Run with no arguments to start an interactive REPL, or pass a
			subcommand to run a file, compile it to bytecode ahead of time,
			or disassemble a previously compiled bytecode file.
		`),
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runREPL(newLogger(verbose), trace)
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().BoolVar(&trace, "trace", false, "trace every instruction executed to stderr")

	root.AddCommand(
		newRunCmd(&verbose, &trace),
		newReplCmd(&verbose, &trace),
		newCompileCmd(&verbose),
		newDisassembleCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitSoftware)
	}
}

func newRunCmd(verbose, trace *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "run <file>",
		Short: "Run a .lox source file or a .loxc bytecode file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			os.Exit(runFile(args[0], newLogger(*verbose), *trace))
			return nil
		},
	}
}

func newReplCmd(verbose, trace *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Start an interactive read-eval-print loop",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runREPL(newLogger(*verbose), *trace)
		},
	}
}

func newCompileCmd(verbose *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "compile <input.lox> [output.loxc]",
		Short: "Compile a .lox source file to a .loxc bytecode file",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := args[0] + "c"
			if len(args) == 2 {
				out = args[1]
			}
			os.Exit(compileFile(args[0], out, newLogger(*verbose)))
			return nil
		},
	}
}

func newDisassembleCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "disassemble <file.loxc>",
		Aliases: []string{"disasm"},
		Short:   "Print a human-readable listing of a compiled bytecode file",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			os.Exit(disassembleFile(args[0]))
			return nil
		},
	}
}

func compileSource(source string, h *heap.Heap, log *logrus.Logger) (*object.ObjFunction, error) {
	return compiler.New(source, h, log).Compile()
}

// runFile dispatches on extension: .loxc files are pre-compiled bytecode
// loaded directly, anything else is treated as Lox source and compiled
// first. Returns the process exit code.
func runFile(filename string, log *logrus.Logger, trace bool) int {
	h := heap.New(log)
	machine := vm.New(h, log)
	machine.SetTrace(trace)

	var fn *object.ObjFunction
	if hasSuffix(filename, ".loxc") {
		f, err := os.Open(filename)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error reading file: %v\n", err)
			return exitDataErr
		}
		defer f.Close()
		decoded, err := object.Decode(f, h.InternString)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return exitDataErr
		}
		fn = decoded
	} else {
		data, err := os.ReadFile(filename)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error reading file: %v\n", err)
			return exitDataErr
		}
		compiled, err := compileSource(string(data), h, log)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return exitDataErr
		}
		fn = compiled
	}

	if err := machine.Interpret(fn); err != nil {
		fmt.Fprint(os.Stderr, err)
		return exitSoftware
	}
	return exitOK
}

func compileFile(in, out string, log *logrus.Logger) int {
	data, err := os.ReadFile(in)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error reading file: %v\n", err)
		return exitDataErr
	}

	h := heap.New(log)
	fn, err := compiler.New(string(data), h, log).Compile()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitDataErr
	}

	f, err := os.Create(out)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating file: %v\n", err)
		return exitSoftware
	}
	defer f.Close()

	if err := object.Encode(fn, f); err != nil {
		fmt.Fprintf(os.Stderr, "error writing bytecode: %v\n", err)
		return exitSoftware
	}
	return exitOK
}

func disassembleFile(filename string) int {
	f, err := os.Open(filename)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error reading file: %v\n", err)
		return exitDataErr
	}
	defer f.Close()

	fn, err := object.Decode(f, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitDataErr
	}

	name := fn.Name
	if name == "" {
		name = "script"
	}
	fn.Chunk.Disassemble(os.Stdout, name)
	return exitOK
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}
