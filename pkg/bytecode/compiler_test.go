package bytecode

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func compileSource(t *testing.T, src string) (Handle, *Heap, error) {
	t.Helper()
	heap := NewHeap()
	fn, err := Compile(heap, src)
	return fn, heap, err
}

// expectCompileError asserts compilation fails and some diagnostic
// contains the given fragment.
func expectCompileError(t *testing.T, src, fragment string) {
	t.Helper()
	_, _, err := compileSource(t, src)
	var ce *CompileError
	if !errors.As(err, &ce) {
		t.Fatalf("expected compile error, got %v", err)
	}
	for _, d := range ce.Diagnostics {
		if strings.Contains(d, fragment) {
			return
		}
	}
	t.Errorf("no diagnostic contains %q:\n%s", fragment, strings.Join(ce.Diagnostics, "\n"))
}

func TestCompileEmptyScript(t *testing.T) {
	fn, heap, err := compileSource(t, "")
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	script := heap.Function(fn)
	if script.Arity != 0 {
		t.Errorf("script arity should be 0, got %d", script.Arity)
	}
	if script.Name != NilHandle {
		t.Error("script should be unnamed")
	}
	// The implicit return is always appended.
	code := script.Chunk.Code
	if len(code) != 2 || Opcode(code[0]) != OpNil || Opcode(code[1]) != OpReturn {
		t.Errorf("expected [OP_NIL OP_RETURN], got %v", code)
	}
}

func TestCompileExpressionBytecode(t *testing.T) {
	fn, heap, err := compileSource(t, "1 + 2;")
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	code := heap.Function(fn).Chunk.Code
	want := []Opcode{OpConstant, OpConstant, OpAdd, OpPop, OpNil, OpReturn}
	var got []Opcode
	for offset := 0; offset < len(code); offset += InstructionWidth(heap, heap.Function(fn).Chunk, offset) {
		got = append(got, Opcode(code[offset]))
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d instructions, got %d (%v)", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("instruction %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestLineNumbersTrackSource(t *testing.T) {
	fn, heap, err := compileSource(t, "1;\n2;")
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	chunk := heap.Function(fn).Chunk
	if len(chunk.Lines) != len(chunk.Code) {
		t.Fatalf("line table length %d does not match code length %d", len(chunk.Lines), len(chunk.Code))
	}
	if chunk.Lines[0] != 1 {
		t.Errorf("first instruction should be on line 1, got %d", chunk.Lines[0])
	}
	if chunk.Lines[len(chunk.Lines)-1] != 2 {
		t.Errorf("last instruction should be on line 2, got %d", chunk.Lines[len(chunk.Lines)-1])
	}
}

func TestCompileErrorFormat(t *testing.T) {
	_, _, err := compileSource(t, "print ;")
	var ce *CompileError
	if !errors.As(err, &ce) {
		t.Fatalf("expected compile error, got %v", err)
	}
	if len(ce.Diagnostics) != 1 {
		t.Fatalf("expected 1 diagnostic, got %d", len(ce.Diagnostics))
	}
	want := "[line 1] Error at ';': Expect expression."
	if ce.Diagnostics[0] != want {
		t.Errorf("expected %q, got %q", want, ce.Diagnostics[0])
	}
}

func TestCompileErrorAtEnd(t *testing.T) {
	_, _, err := compileSource(t, "print 1")
	var ce *CompileError
	if !errors.As(err, &ce) {
		t.Fatalf("expected compile error, got %v", err)
	}
	want := "[line 1] Error at end: Expect ';' after value."
	if ce.Diagnostics[0] != want {
		t.Errorf("expected %q, got %q", want, ce.Diagnostics[0])
	}
}

func TestPanicModeOneErrorPerStatement(t *testing.T) {
	// Each bad statement yields exactly one diagnostic; the cascade inside
	// a statement is suppressed.
	_, _, err := compileSource(t, "print ;\nprint ;")
	var ce *CompileError
	if !errors.As(err, &ce) {
		t.Fatalf("expected compile error, got %v", err)
	}
	if len(ce.Diagnostics) != 2 {
		t.Errorf("expected 2 diagnostics, got %d:\n%s", len(ce.Diagnostics), strings.Join(ce.Diagnostics, "\n"))
	}
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name     string
		src      string
		fragment string
	}{
		{"read local in own initializer", "{ var a = a; }", "Can't read local variable in its own initializer."},
		{"duplicate local", "{ var a = 1; var a = 2; }", "Already a variable with this name in this scope."},
		{"top-level return", "return 1;", "Can't return from top-level code."},
		{"this outside class", "print this;", "Can't use 'this' outside of a class."},
		{"super outside class", "print super.m;", "Can't use 'super' outside of a class."},
		{"super without superclass", "class C { m() { super.m(); } }", "Can't use 'super' in a class with no superclass."},
		{"return value from initializer", "class C { init() { return 1; } }", "Can't return a value from an initializer."},
		{"self inheritance", "class C < C {}", "A class can't inherit from itself."},
		{"invalid assignment target", "1 + 2 = 3;", "Invalid assignment target."},
		{"unterminated string", `print "abc`, "Unterminated string."},
		{"unexpected character", "print @;", "Unexpected character."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectCompileError(t, tt.src, tt.fragment)
		})
	}
}

func paramList(n int) string {
	params := make([]string, n)
	for i := range params {
		params[i] = fmt.Sprintf("p%d", i)
	}
	return strings.Join(params, ", ")
}

func TestParameterLimit(t *testing.T) {
	ok := fmt.Sprintf("fun f(%s) {}", paramList(255))
	if _, _, err := compileSource(t, ok); err != nil {
		t.Fatalf("255 parameters should compile: %v", err)
	}

	tooMany := fmt.Sprintf("fun f(%s) {}", paramList(256))
	expectCompileError(t, tooMany, "Can't have more than 255 parameters.")
}

func TestArgumentLimit(t *testing.T) {
	// nil arguments compile to OpNil and use no constant slots, so the
	// constant-pool limit cannot fire before the argument limit does.
	args := make([]string, 256)
	for i := range args {
		args[i] = "nil"
	}
	src := fmt.Sprintf("fun f() {} f(%s);", strings.Join(args, ", "))
	expectCompileError(t, src, "Can't have more than 255 arguments.")
}

func TestConstantLimit(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 256; i++ {
		fmt.Fprintf(&b, "print %d;\n", i)
	}
	if _, _, err := compileSource(t, b.String()); err != nil {
		t.Fatalf("256 constants should compile: %v", err)
	}

	fmt.Fprintf(&b, "print 256;\n")
	expectCompileError(t, b.String(), "Too many constants in one chunk.")
}

func TestLocalLimit(t *testing.T) {
	var b strings.Builder
	b.WriteString("{\n")
	for i := 0; i < 255; i++ {
		fmt.Fprintf(&b, "var l%d;\n", i)
	}
	b.WriteString("}\n")
	if _, _, err := compileSource(t, b.String()); err != nil {
		t.Fatalf("255 locals should compile: %v", err)
	}

	var c strings.Builder
	c.WriteString("{\n")
	for i := 0; i < 256; i++ {
		fmt.Fprintf(&c, "var l%d;\n", i)
	}
	c.WriteString("}\n")
	expectCompileError(t, c.String(), "Too many local variables in function.")
}

func TestJumpLimit(t *testing.T) {
	// Each `print !false;` emits three operand-free bytes, so 22000 of
	// them overflow the sixteen-bit jump of the surrounding if.
	body := strings.Repeat("print !false;", 22000)
	expectCompileError(t, "if (true) {"+body+"}", "Too much code to jump over.")
}

func TestUpvalueResolution(t *testing.T) {
	fn, heap, err := compileSource(t, `
		fun outer() {
			var x = 1;
			fun inner() { x = x + 1; return x; }
			return inner;
		}
	`)
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}

	// script constants -> outer -> constants -> inner
	var outer *FunctionObject
	for _, c := range heap.Function(fn).Chunk.Constants {
		if c.IsObject() {
			if f, ok := heap.Get(c.Obj).(*FunctionObject); ok {
				outer = f
			}
		}
	}
	if outer == nil {
		t.Fatal("outer function not found in script constants")
	}

	var inner *FunctionObject
	for _, c := range outer.Chunk.Constants {
		if c.IsObject() {
			if f, ok := heap.Get(c.Obj).(*FunctionObject); ok {
				inner = f
			}
		}
	}
	if inner == nil {
		t.Fatal("inner function not found in outer constants")
	}
	if inner.UpvalueCount != 1 {
		t.Errorf("inner should capture one upvalue, got %d", inner.UpvalueCount)
	}
	if outer.UpvalueCount != 0 {
		t.Errorf("outer should capture nothing, got %d", outer.UpvalueCount)
	}
}

func TestChainedUpvalueResolution(t *testing.T) {
	fn, heap, err := compileSource(t, `
		fun a() {
			var v = 1;
			fun b() {
				fun c() { return v; }
				return c;
			}
			return b;
		}
	`)
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}

	// Walk down the function constants: script -> a -> b -> c.
	next := func(f *FunctionObject) *FunctionObject {
		var found *FunctionObject
		for _, c := range f.Chunk.Constants {
			if c.IsObject() {
				if nested, ok := heap.Get(c.Obj).(*FunctionObject); ok {
					found = nested
				}
			}
		}
		return found
	}

	fa := next(heap.Function(fn))
	fb := next(fa)
	fc := next(fb)
	if fb.UpvalueCount != 1 {
		t.Errorf("middle function should thread one upvalue, got %d", fb.UpvalueCount)
	}
	if fc.UpvalueCount != 1 {
		t.Errorf("innermost function should capture one upvalue, got %d", fc.UpvalueCount)
	}
}
