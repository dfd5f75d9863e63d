package compiler

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/kristofer/loxvm/pkg/heap"
)

func compile(t *testing.T, source string) (*bytes.Buffer, error) {
	t.Helper()
	log := logrus.New()
	log.SetOutput(bytes.NewBuffer(nil))
	h := heap.New(log)
	fn, err := New(source, h, log).Compile()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	fn.Chunk.Disassemble(&buf, "test")
	return &buf, nil
}

func TestCompileNumberLiteral(t *testing.T) {
	out, err := compile(t, "1;")
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	if !strings.Contains(out.String(), "OP_CONSTANT") {
		t.Errorf("expected OP_CONSTANT in disassembly, got:\n%s", out.String())
	}
}

func TestCompileGlobalVariable(t *testing.T) {
	out, err := compile(t, "var a = 1;")
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	if !strings.Contains(out.String(), "OP_DEFINE_GLOBAL") {
		t.Errorf("expected OP_DEFINE_GLOBAL, got:\n%s", out.String())
	}
}

func TestCompileErrorReportsLineAndLexeme(t *testing.T) {
	_, err := compile(t, "1 +;")
	if err == nil {
		t.Fatal("expected a compile error")
	}
	if !strings.Contains(err.Error(), "[line 1] error at ';'") {
		t.Errorf("unexpected error format: %v", err)
	}
}

func TestCompileUnexpectedEOFReportsEnd(t *testing.T) {
	_, err := compile(t, "1 +")
	if err == nil {
		t.Fatal("expected a compile error")
	}
	if !strings.Contains(err.Error(), "error at end") {
		t.Errorf("unexpected error format: %v", err)
	}
}

func TestCompileClassWithMethodEmitsClosureAndMethod(t *testing.T) {
	out, err := compile(t, `
		class Foo {
			bar() { return 1; }
		}
	`)
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	s := out.String()
	if !strings.Contains(s, "OP_CLASS") || !strings.Contains(s, "OP_METHOD") {
		t.Errorf("expected class/method opcodes, got:\n%s", s)
	}
}

func TestBreakOutsideLoopIsError(t *testing.T) {
	_, err := compile(t, "break;")
	if err == nil {
		t.Fatal("expected an error for break outside a loop")
	}
	if !strings.Contains(err.Error(), "can't use 'break' outside of a loop") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestReturnAtTopLevelIsError(t *testing.T) {
	_, err := compile(t, "return 1;")
	if err == nil {
		t.Fatal("expected an error for top-level return")
	}
	if !strings.Contains(err.Error(), "can't return from top-level code") {
		t.Errorf("unexpected error: %v", err)
	}
}
