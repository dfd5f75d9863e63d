// Package test provides end-to-end integration tests for loxvm: source
// in, stdout/runtime-error out, exercising the compiler and VM together
// the way a script invocation of the `loxvm run` subcommand would.
package test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/kristofer/loxvm/pkg/compiler"
	"github.com/kristofer/loxvm/pkg/heap"
	"github.com/kristofer/loxvm/pkg/vm"
)

func runScript(t *testing.T, source string) (string, error) {
	t.Helper()
	log := logrus.New()
	log.SetOutput(bytes.NewBuffer(nil))
	h := heap.New(log)
	fn, err := compiler.New(source, h, log).Compile()
	if err != nil {
		return "", err
	}
	var out bytes.Buffer
	machine := vm.New(h, log)
	machine.SetOutput(&out)
	err = machine.Interpret(fn)
	return out.String(), err
}

func TestFibonacci(t *testing.T) {
	out, err := runScript(t, `
		fun fib(n) {
			if (n < 2) return n;
			return fib(n - 1) + fib(n - 2);
		}
		print fib(10);
	`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "55\n" {
		t.Errorf("got %q, want %q", out, "55\n")
	}
}

func TestListLiteralIsCompileError(t *testing.T) {
	out, err := runScript(t, `
		fun makeAdders() {
			var adders = [];
			var i = 0;
			fun make(n) {
				fun adder(x) { return x + n; }
				return adder;
			}
			return make;
		}
		var make = makeAdders();
		var addFive = make(5);
		var addTen = make(10);
		print addFive(1);
		print addTen(1);
	`)
	// loxvm has no list literals; this script is intentionally invalid to
	// check that the unsupported `[]` syntax is rejected at compile time
	// rather than silently miscompiled.
	if err == nil {
		t.Fatalf("expected a compile error for unsupported list syntax, got output %q", out)
	}
}

func TestNestedClosuresCaptureIndependently(t *testing.T) {
	out, err := runScript(t, `
		fun make(n) {
			fun adder(x) { return x + n; }
			return adder;
		}
		var addFive = make(5);
		var addTen = make(10);
		print addFive(1);
		print addTen(1);
	`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "6\n11\n" {
		t.Errorf("got %q, want %q", out, "6\n11\n")
	}
}

func TestClassInheritanceAndSuper(t *testing.T) {
	out, err := runScript(t, `
		class Shape {
			area() { return 0; }
			describe() { print "area is " + this.area(); }
		}
		class Square < Shape {
			init(side) { this.side = side; }
			area() { return this.side * this.side; }
		}
		Square(4).describe();
	`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "area is 16\n" {
		t.Errorf("got %q, want %q", out, "area is 16\n")
	}
}

func TestFunctionExpressionIsCompileError(t *testing.T) {
	out, err := runScript(t, `
		class Box {
			value() { return "method"; }
		}
		var b = Box();
		b.value = fun() { return "field"; };
	`)
	// loxvm, like the language it implements, has no function-expression
	// syntax; assigning a callable field happens via a named function.
	if err == nil {
		t.Fatalf("expected a compile error for unsupported function-expression syntax, got output %q", out)
	}
}

func TestInstanceFieldShadowsMethodInInvoke(t *testing.T) {
	out, err := runScript(t, `
		class Box {
			value() { return "method"; }
		}
		fun field() { return "field"; }
		var b = Box();
		b.value = field;
		print b.value();
	`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "field\n" {
		t.Errorf("got %q, want %q", out, "field\n")
	}
}

func TestUndefinedVariableProducesTracebackFormat(t *testing.T) {
	_, err := runScript(t, "print missing;")
	if err == nil {
		t.Fatal("expected a runtime error")
	}
	got := err.Error()
	if !strings.HasPrefix(got, "undefined variable 'missing'\n[line 1] in script\n") {
		t.Errorf("unexpected traceback:\n%s", got)
	}
}

func TestRuntimeErrorTracebackNamesEveryFrame(t *testing.T) {
	_, err := runScript(t, `
		fun c() { return 1 / nil; }
		fun b() { return c(); }
		fun a() { return b(); }
		a();
	`)
	if err == nil {
		t.Fatal("expected a runtime error")
	}
	got := err.Error()
	for _, want := range []string{"in c()", "in b()", "in a()", "in script"} {
		if !strings.Contains(got, want) {
			t.Errorf("traceback missing %q:\n%s", want, got)
		}
	}
	// Innermost frame (c) must appear before the outer frames.
	if strings.Index(got, "in c()") > strings.Index(got, "in a()") {
		t.Errorf("traceback frames out of order:\n%s", got)
	}
}

func TestVarInitializerCannotReferenceItself(t *testing.T) {
	_, err := runScript(t, `
		{
			var a = "outer";
			{
				var a = a;
			}
		}
	`)
	if err == nil {
		t.Fatal("expected a compile error")
	}
	if !strings.Contains(err.Error(), "cannot read local variable in its own initializer") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestReturnValueFromInitializerIsError(t *testing.T) {
	_, err := runScript(t, `
		class Foo {
			init() { return 1; }
		}
	`)
	if err == nil {
		t.Fatal("expected a compile error")
	}
	if !strings.Contains(err.Error(), "can't return a value from an initializer") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestThisOutsideClassIsError(t *testing.T) {
	_, err := runScript(t, "print this;")
	if err == nil {
		t.Fatal("expected a compile error")
	}
	if !strings.Contains(err.Error(), "can't use 'this' outside of a class") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestInitReturningBareIsAllowedAndReturnsInstance(t *testing.T) {
	out, err := runScript(t, `
		class Foo {
			init() {
				this.done = true;
				return;
			}
		}
		print Foo().done;
	`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "true\n" {
		t.Errorf("got %q, want %q", out, "true\n")
	}
}

func TestStackOverflowOnUnboundedRecursion(t *testing.T) {
	_, err := runScript(t, `
		fun recurse() { return recurse(); }
		recurse();
	`)
	if err == nil {
		t.Fatal("expected a stack overflow runtime error")
	}
	if !strings.Contains(err.Error(), "stack overflow") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestTooManyConstantsInOneChunk(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 300; i++ {
		b.WriteString("\"s\"; ")
	}
	_, err := runScript(t, b.String())
	if err == nil {
		t.Fatal("expected a compile error for exceeding the 256-constant limit")
	}
	if !strings.Contains(err.Error(), "too many constants in one chunk") {
		t.Errorf("unexpected error: %v", err)
	}
}
