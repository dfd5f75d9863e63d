package vm

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/kristofer/loxvm/pkg/compiler"
	"github.com/kristofer/loxvm/pkg/heap"
)

func run(t *testing.T, source string) string {
	t.Helper()
	return runWith(t, source, false)
}

// runWith is run with an option to force a collection before every single
// allocation, for tests checking that the collector doesn't free anything
// still live.
func runWith(t *testing.T, source string, stress bool) string {
	t.Helper()
	log := logrus.New()
	log.SetOutput(bytes.NewBuffer(nil))
	h := heap.New(log)
	h.SetStressGC(stress)
	fn, err := compiler.New(source, h, log).Compile()
	require.NoError(t, err)

	var out bytes.Buffer
	machine := New(h, log)
	machine.SetOutput(&out)
	err = machine.Interpret(fn)
	require.NoError(t, err)
	return out.String()
}

func TestArithmetic(t *testing.T) {
	out := run(t, `print 1 + 2 * 3;`)
	require.Equal(t, "7\n", out)
}

func TestStringConcatenation(t *testing.T) {
	out := run(t, `print "foo" + "bar";`)
	require.Equal(t, "foobar\n", out)
}

func TestGlobalsPersistAcrossAssignment(t *testing.T) {
	out := run(t, `
		var a = 1;
		a = a + 1;
		print a;
	`)
	require.Equal(t, "2\n", out)
}

func TestClosureCapturesUpvalue(t *testing.T) {
	out := run(t, `
		fun makeCounter() {
			var count = 0;
			fun increment() {
				count = count + 1;
				return count;
			}
			return increment;
		}
		var counter = makeCounter();
		print counter();
		print counter();
		print counter();
	`)
	require.Equal(t, "1\n2\n3\n", out)
}

func TestClassesAndMethods(t *testing.T) {
	out := run(t, `
		class Greeter {
			init(name) {
				this.name = name;
			}
			greet() {
				print "hello " + this.name;
			}
		}
		Greeter("world").greet();
	`)
	require.Equal(t, "hello world\n", out)
}

func TestInheritanceAndSuper(t *testing.T) {
	out := run(t, `
		class Animal {
			speak() {
				print "...";
			}
		}
		class Dog < Animal {
			speak() {
				super.speak();
				print "woof";
			}
		}
		Dog().speak();
	`)
	require.Equal(t, "...\nwoof\n", out)
}

func TestTernary(t *testing.T) {
	out := run(t, `print true ? "yes" : "no";`)
	require.Equal(t, "yes\n", out)
}

func TestBreakAndContinue(t *testing.T) {
	out := run(t, `
		var i = 0;
		while (i < 5) {
			i = i + 1;
			if (i == 2) continue;
			if (i == 4) break;
			print i;
		}
	`)
	require.Equal(t, "1\n3\n", out)
}

func TestRuntimeErrorUndefinedVariable(t *testing.T) {
	log := logrus.New()
	log.SetOutput(bytes.NewBuffer(nil))
	h := heap.New(log)
	fn, err := compiler.New(`print missing;`, h, log).Compile()
	require.NoError(t, err)

	machine := New(h, log)
	machine.SetOutput(bytes.NewBuffer(nil))
	err = machine.Interpret(fn)
	require.Error(t, err)

	rerr, ok := err.(*RuntimeError)
	require.True(t, ok)
	require.True(t, strings.HasPrefix(rerr.Error(), "undefined variable 'missing'\n"))
	require.Contains(t, rerr.Error(), "[line 1] in script\n")
}

func TestCallArityMismatch(t *testing.T) {
	log := logrus.New()
	log.SetOutput(bytes.NewBuffer(nil))
	h := heap.New(log)
	fn, err := compiler.New(`
		fun f(a, b) { return a + b; }
		f(1);
	`, h, log).Compile()
	require.NoError(t, err)

	machine := New(h, log)
	machine.SetOutput(bytes.NewBuffer(nil))
	err = machine.Interpret(fn)
	require.Error(t, err)
	require.Contains(t, err.Error(), "expected 2 arguments but got 1")
}

func TestClockNativeReturnsNumber(t *testing.T) {
	out := run(t, `print clock() >= 0;`)
	require.Equal(t, "true\n", out)
}

// TestStressGCProducesSameOutput exercises strings, closures, classes, and
// inheritance under stress mode (a collection attempted before every
// allocation) and checks the output matches an ordinary run, the GC
// soundness property: nothing reachable is ever freed out from under a
// still-running program.
func TestStressGCProducesSameOutput(t *testing.T) {
	source := `
		class Animal {
			init(name) {
				this.name = name;
			}
			speak() {
				print this.name + " makes a sound";
			}
		}
		class Dog < Animal {
			speak() {
				super.speak();
				print this.name + " barks";
			}
		}

		fun makeCounter() {
			var count = 0;
			fun increment() {
				count = count + 1;
				return count;
			}
			return increment;
		}

		var counter = makeCounter();
		for (var i = 0; i < 5; i = i + 1) {
			print counter();
		}

		Dog("Rex").speak();
		print "fib(" + "10) = " + "unused";
	`
	normal := runWith(t, source, false)
	stressed := runWith(t, source, true)
	require.Equal(t, normal, stressed)
}

// TestClassConstructorSurvivesGCDuringRegistration regresses a bug where
// the interned "init" string was never marked as a GC root: a collection
// during the script's first allocations swept it, so a later `init` method
// re-interned to a different *ObjString and the constructor's implicit
// initializer call silently stopped firing under stress GC.
func TestClassConstructorSurvivesGCDuringRegistration(t *testing.T) {
	out := runWith(t, `
		class Point {
			init(x, y) {
				this.x = x;
				this.y = y;
			}
			sum() {
				return this.x + this.y;
			}
		}
		print Point(3, 4).sum();
	`, true)
	require.Equal(t, "7\n", out)
}

// TestNativeSurvivesGCDuringRegistration regresses a bug where the native
// name and wrapper weren't kept reachable across the allocations that
// produce them, so a stress collection mid-registration could free the
// name before it reached vm.globals, leaving `clock` undefined.
func TestNativeSurvivesGCDuringRegistration(t *testing.T) {
	out := runWith(t, `print clock() >= 0;`, true)
	require.Equal(t, "true\n", out)
}
