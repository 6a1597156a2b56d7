package vm

import (
	"bytes"
	"strings"
	"testing"
)

// interpret runs a program on a fresh VM and captures both streams.
func interpret(t *testing.T, source string) (string, string, InterpretResult) {
	t.Helper()
	var out, errOut bytes.Buffer
	vm := New(&out, &errOut)
	result := vm.Interpret(source)
	return out.String(), errOut.String(), result
}

// expectOutput asserts a clean run with exactly the given stdout lines.
func expectOutput(t *testing.T, source string, lines ...string) {
	t.Helper()
	out, errOut, result := interpret(t, source)
	if result != InterpretOK {
		t.Fatalf("program failed (%v):\n%s\nstderr:\n%s", result, source, errOut)
	}
	if errOut != "" {
		t.Errorf("expected empty stderr, got:\n%s", errOut)
	}
	want := strings.Join(lines, "\n") + "\n"
	if len(lines) == 0 {
		want = ""
	}
	if out != want {
		t.Errorf("program:\n%s\ngot output:\n%q\nwant:\n%q", source, out, want)
	}
}

// expectRuntimeError asserts the run fails at runtime with a message.
func expectRuntimeError(t *testing.T, source, message string) {
	t.Helper()
	_, errOut, result := interpret(t, source)
	if result != InterpretRuntimeError {
		t.Fatalf("expected runtime error for:\n%s\ngot %v", source, result)
	}
	if !strings.Contains(errOut, message) {
		t.Errorf("stderr %q should contain %q", errOut, message)
	}
}

func TestArithmetic(t *testing.T) {
	tests := []struct {
		source string
		output string
	}{
		{"print 1 + 2 * 3;", "7"},
		{"print (1 + 2) * 3;", "9"},
		{"print 10 - 3 - 2;", "5"},
		{"print 12 / 4;", "3"},
		{"print -5 + 3;", "-2"},
		{"print 0.1 + 0.2 == 0.3;", "false"},
		{"print 2.5 * 2;", "5"},
		{"print 1 / 0;", "+Inf"},
	}
	for _, tt := range tests {
		expectOutput(t, tt.source, tt.output)
	}
}

func TestComparisonAndEquality(t *testing.T) {
	tests := []struct {
		source string
		output string
	}{
		{"print 1 < 2;", "true"},
		{"print 2 <= 2;", "true"},
		{"print 3 > 4;", "false"},
		{"print 4 >= 4;", "true"},
		{"print 1 == 1;", "true"},
		{"print 1 != 2;", "true"},
		{"print nil == nil;", "true"},
		{"print nil == false;", "false"},
		{"print \"a\" == \"a\";", "true"},
		{"print \"a\" == \"b\";", "false"},
		{"print 1 == \"1\";", "false"},
	}
	for _, tt := range tests {
		expectOutput(t, tt.source, tt.output)
	}
}

func TestStringConcatenation(t *testing.T) {
	expectOutput(t, `var a = "a"; var b = "b"; print a + b;`, "ab")
	expectOutput(t, `print "a" + "b" == "ab";`, "true")
	expectOutput(t, `print "" + "x";`, "x")
}

func TestStringInterning(t *testing.T) {
	var out, errOut bytes.Buffer
	vm := New(&out, &errOut)

	if result := vm.Interpret(`var ab = "ab";`); result != InterpretOK {
		t.Fatalf("setup failed: %s", errOut.String())
	}
	before := vm.Heap().StringCount()

	// Concatenating to an already-interned content must not grow the set.
	if result := vm.Interpret(`var c = "a" + "b"; print c == "ab";`); result != InterpretOK {
		t.Fatalf("run failed: %s", errOut.String())
	}
	if !strings.Contains(out.String(), "true") {
		t.Errorf("concatenated string should be the interned instance")
	}

	after := vm.Heap().StringCount()
	// "a", "b", "c" are new; "ab" must not be re-added.
	if after != before+3 {
		t.Errorf("intern count grew by %d, expected 3 (a, b, and the variable name)", after-before)
	}
}

func TestGlobals(t *testing.T) {
	expectOutput(t, "var a = 1; a = a + 1; print a;", "2")
	expectOutput(t, "var a; print a;", "nil")
	expectRuntimeError(t, "print missing;", "Undefined variable 'missing'.")
	expectRuntimeError(t, "missing = 1;", "Undefined variable 'missing'.")
}

func TestLocalsAndScoping(t *testing.T) {
	expectOutput(t, `
var a = "global";
{
  var a = "local";
  print a;
}
print a;`, "local", "global")

	expectOutput(t, `
{
  var a = 1;
  {
    var b = a + 1;
    print b;
  }
}`, "2")
}

func TestIfElse(t *testing.T) {
	expectOutput(t, "if (true) print 1; else print 2;", "1")
	expectOutput(t, "if (false) print 1; else print 2;", "2")
	expectOutput(t, "if (false) print 1;")
}

func TestTruthiness(t *testing.T) {
	// Only nil and false are falsy.
	expectOutput(t, "if (0) print \"t\"; else print \"f\";", "t")
	expectOutput(t, "if (\"\") print \"t\"; else print \"f\";", "t")
	expectOutput(t, "if ([]) print \"t\"; else print \"f\";", "t")
	expectOutput(t, "if (nil) print \"t\"; else print \"f\";", "f")
	expectOutput(t, "if (false) print \"t\"; else print \"f\";", "f")
	expectOutput(t, "print !0;", "false")
	expectOutput(t, "print !nil;", "true")
	expectOutput(t, "print !false;", "true")
}

func TestLogicalOperators(t *testing.T) {
	// and/or return the operand that decided the result.
	expectOutput(t, "print 1 and 2;", "2")
	expectOutput(t, "print nil and 2;", "nil")
	expectOutput(t, "print false or 3;", "3")
	expectOutput(t, "print 1 or 2;", "1")

	// Short circuit: the right side must not run.
	expectOutput(t, `
var called = false;
fun touch() { called = true; return true; }
print false and touch();
print called;`, "false", "false")

	expectOutput(t, `
var called = false;
fun touch() { called = true; return true; }
print true or touch();
print called;`, "true", "false")
}

func TestWhileLoop(t *testing.T) {
	expectOutput(t, `
var i = 0;
var sum = 0;
while (i < 5) {
  sum = sum + i;
  i = i + 1;
}
print sum;`, "10")
}

func TestForLoop(t *testing.T) {
	expectOutput(t, `
for (var i = 0; i < 3; i = i + 1) print i;`, "0", "1", "2")

	// The initializer variable is scoped to the loop.
	expectOutput(t, `
var i = "shadowed";
for (var i = 0; i < 1; i = i + 1) {}
print i;`, "shadowed")
}

func TestFunctions(t *testing.T) {
	expectOutput(t, `
fun add(a, b) { return a + b; }
print add(1, 2);`, "3")

	expectOutput(t, `
fun noReturn() {}
print noReturn();`, "nil")

	expectOutput(t, `
fun fib(n) { if (n < 2) return n; return fib(n - 1) + fib(n - 2); }
print fib(10);`, "55")

	expectOutput(t, `fun f() {} print f;`, "<fn f>")
}

func TestFunctionArityErrors(t *testing.T) {
	expectRuntimeError(t, "fun f(a) {} f();", "Expected 1 arguments but got 0.")
	expectRuntimeError(t, "fun f() {} f(1);", "Expected 0 arguments but got 1.")
	expectRuntimeError(t, "var x = 1; x();", "Can only call functions and classes.")
}

func TestStackOverflow(t *testing.T) {
	expectRuntimeError(t, "fun loop() { loop(); } loop();", "Stack overflow.")
}

func TestClosures(t *testing.T) {
	expectOutput(t, `
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
print counter();`, "1", "2", "3")

	// A closure sees mutations made after capture, before scope end.
	expectOutput(t, `
var f;
{
  var a = 1;
  fun g() { print a; }
  f = g;
  a = 2;
}
f();`, "2")
}

func TestUpvalueSharing(t *testing.T) {
	// Two closures over the same slot share one upvalue.
	expectOutput(t, `
var get;
var set;
fun main() {
  var x = 1;
  fun g() { return x; }
  fun s() { x = 2; }
  get = g;
  set = s;
}
main();
set();
print get();`, "2")
}

func TestClosureOverLoopVariable(t *testing.T) {
	expectOutput(t, `
var closures = [];
for (var i = 0; i < 3; i = i + 1) {
  var j = i;
  fun f() { return j; }
  closures.push(f);
}
print closures[0]();
print closures[1]();
print closures[2]();`, "0", "1", "2")
}

func TestClasses(t *testing.T) {
	expectOutput(t, `
class Point {}
var p = Point();
p.x = 1;
p.y = 2;
print p.x + p.y;`, "3")

	expectOutput(t, `class Point {} print Point;`, "Point")
	expectOutput(t, `class Point {} print Point();`, "Point instance")
}

func TestMethodsAndThis(t *testing.T) {
	expectOutput(t, `
class Greeter {
  greet() { print "hi"; }
}
Greeter().greet();`, "hi")

	expectOutput(t, `
class Box {
  put(v) { this.value = v; return this; }
  get() { return this.value; }
}
print Box().put(42).get();`, "42")
}

func TestInitializer(t *testing.T) {
	expectOutput(t, `
class Point {
  init(x, y) { this.x = x; this.y = y; }
}
var p = Point(3, 4);
print p.x;
print p.y;`, "3", "4")

	// init implicitly returns the instance.
	expectOutput(t, `
class A { init() {} }
print A() == nil;`, "false")

	expectRuntimeError(t, "class A {} A(1);", "Expected 0 arguments but got 1.")
	expectRuntimeError(t, "class A { init(x) {} } A();", "Expected 1 arguments but got 0.")
}

func TestBoundMethods(t *testing.T) {
	expectOutput(t, `
class Speaker {
  init(word) { this.word = word; }
  say() { print this.word; }
}
var method = Speaker("bound").say;
method();`, "bound")
}

func TestFieldsShadowMethods(t *testing.T) {
	expectOutput(t, `
class C {
  m() { return "method"; }
}
var c = C();
print c.m();
c.m = "field";
print c.m;`, "method", "field")

	// A callable field is invoked through the fused path too.
	expectOutput(t, `
class C {
  m() { return "method"; }
}
fun replacement() { return "field fn"; }
var c = C();
c.m = replacement;
print c.m();`, "field fn")
}

func TestInheritance(t *testing.T) {
	expectOutput(t, `
class A { greet() { print "hi"; } }
class B < A {}
B().greet();`, "hi")

	// Subclass overrides.
	expectOutput(t, `
class A { m() { print "A"; } }
class B < A { m() { print "B"; } }
B().m();`, "B")

	// super resolves on the lexical superclass regardless of receiver.
	expectOutput(t, `
class A { m() { print "A"; } }
class B < A { m() { super.m(); print "B"; } }
class C < B {}
C().m();`, "A", "B")

	expectRuntimeError(t, "var NotAClass = 1; class Sub < NotAClass {}", "Superclass must be a class.")
}

func TestSuperInvokeAndGetSuper(t *testing.T) {
	expectOutput(t, `
class A {
  method() { return "A.method"; }
}
class B < A {
  method() { return "B.method"; }
  test() {
    var m = super.method;
    return m();
  }
}
print B().test();`, "A.method")
}

func TestPropertyErrors(t *testing.T) {
	expectRuntimeError(t, "var x = 1; print x.field;", "Only instances have properties.")
	expectRuntimeError(t, "var x = 1; x.field = 2;", "Only instances have properties.")
	expectRuntimeError(t, "class A {} print A().missing;", "Undefined property 'missing'.")
	expectRuntimeError(t, "class A {} A().missing();", "Undefined property 'missing'.")
	expectRuntimeError(t, "var x = 1; x.m();", "Only lists, maps, and instances have methods.")
}

func TestLists(t *testing.T) {
	expectOutput(t, `
var l = [1, 2, 3];
l.push(4);
print l.size();
print l[3];`, "4", "4")

	expectOutput(t, `
var l = [];
print l.size();
l.push("x");
print l[0];`, "0", "x")

	expectOutput(t, `
var l = [10, 20, 30];
print l.pop();
print l.size();`, "30", "2")

	expectOutput(t, `
var l = [1, 3];
l.insert(1, 2);
print l[0]; print l[1]; print l[2];`, "1", "2", "3")

	expectOutput(t, `
var l = [1, 2, 3];
print l.remove(1);
print l.size();
print l[1];`, "2", "2", "3")

	expectOutput(t, `
var l = [1, 2];
l[0] = 9;
print l[0];`, "9")

	expectOutput(t, `print [1, 2, 3];`, "[1, 2, 3]")
	expectOutput(t, `print [nil][0];`, "nil")
}

func TestListErrors(t *testing.T) {
	expectRuntimeError(t, "var l = [1, 2]; print l[2];", "List index (2) out of bounds (2)")
	expectRuntimeError(t, "var l = [1, 2]; print l[-1];", "List index (-1) out of bounds (2)")
	expectRuntimeError(t, "var l = [1, 2]; print l[0.5];", "List index (0.5) must be a whole number.")
	expectRuntimeError(t, "var l = [1, 2]; print l[\"x\"];", "List index must be a number.")
	expectRuntimeError(t, "var l = []; l.pop();", "Can't pop from empty list.")
	expectRuntimeError(t, "print 1[0];", "Can only index lists or maps.")
	expectRuntimeError(t, "var x = 1; x[0] = 2;", "Can only set index of lists or maps.")
}

func TestMaps(t *testing.T) {
	expectOutput(t, `
var m = {};
m["k"] = "v";
print m.has("k");
print m["k"];`, "true", "v")

	expectOutput(t, `
var m = {"a": 1, "b": 2};
print m.count();
print m["a"] + m["b"];`, "2", "3")

	expectOutput(t, `
var m = {"a": 1};
print m.remove("a");
print m.remove("a");
print m.count();`, "true", "false", "0")

	expectOutput(t, `
var m = {"k": 1};
m["k"] = 2;
print m["k"];
print m.count();`, "2", "1")

	expectOutput(t, `print {"k": "v"};`, "{k: v}")
}

func TestMapErrors(t *testing.T) {
	expectRuntimeError(t, `var m = {}; print m["missing"];`, "Undefined key 'missing'.")
	expectRuntimeError(t, `var m = {}; print m[1];`, "Maps can only be indexed by string.")
	expectRuntimeError(t, `var m = {}; m[1] = 2;`, "Maps can only be indexed by string.")
	expectRuntimeError(t, `var m = {}; m.has(1);`, "Maps can only be indexed by string.")
}

func TestOperandTypeErrors(t *testing.T) {
	expectRuntimeError(t, "print 1 + \"a\";", "Operands must be two numbers or two strings.")
	expectRuntimeError(t, "print \"a\" - \"b\";", "Operands must be numbers.")
	expectRuntimeError(t, "print 1 < \"a\";", "Operands must be numbers.")
	expectRuntimeError(t, "print -\"a\";", "Operand must be a number.")
}

func TestStackTrace(t *testing.T) {
	_, errOut, result := interpret(t, `fun inner() { oops(); }
fun outer() { inner(); }
outer();`)
	if result != InterpretRuntimeError {
		t.Fatalf("expected runtime error, got %v", result)
	}
	lines := strings.Split(strings.TrimSpace(errOut), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected message plus 3 trace lines, got:\n%s", errOut)
	}
	if lines[0] != "Undefined variable 'oops'." {
		t.Errorf("message line: %q", lines[0])
	}
	if lines[1] != "[line 1] in inner()" {
		t.Errorf("innermost frame: %q", lines[1])
	}
	if lines[2] != "[line 2] in outer()" {
		t.Errorf("middle frame: %q", lines[2])
	}
	if lines[3] != "[line 3] in script" {
		t.Errorf("script frame: %q", lines[3])
	}
}

func TestRuntimeErrorFormatting(t *testing.T) {
	err := &RuntimeError{
		Message: "Undefined variable 'oops'.",
		StackTrace: []StackFrame{
			{Line: 1, Function: "inner"},
			{Line: 2, Function: "outer"},
			{Line: 3},
		},
	}
	want := "Undefined variable 'oops'.\n[line 1] in inner()\n[line 2] in outer()\n[line 3] in script"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	bare := &RuntimeError{Message: "Stack overflow."}
	if bare.Error() != "Stack overflow." {
		t.Errorf("frameless error should be just the message, got %q", bare.Error())
	}
}

func TestNatives(t *testing.T) {
	expectOutput(t, `printf("a", 1, nil);`, "a1nil")

	out, _, result := interpret(t, "print clock() > 0;")
	if result != InterpretOK || !strings.Contains(out, "true") {
		t.Errorf("clock should yield a positive number")
	}

	out, _, result = interpret(t, "print wallClock() >= 0;")
	if result != InterpretOK || !strings.Contains(out, "true") {
		t.Errorf("wallClock should be non-negative")
	}

	_, errOut, result := interpret(t, `error("boom");`)
	if result != InterpretOK {
		t.Fatalf("error native should not fail the program")
	}
	if !strings.Contains(errOut, "boom") {
		t.Errorf("error output should reach stderr, got %q", errOut)
	}
}

func TestEvaluateExpression(t *testing.T) {
	var out, errOut bytes.Buffer
	vm := New(&out, &errOut)
	if result := vm.Evaluate("1 + 2 * 3"); result != InterpretOK {
		t.Fatalf("evaluate failed: %s", errOut.String())
	}
	if out.String() != "7\n" {
		t.Errorf("evaluate printed %q", out.String())
	}
}

func TestCompileErrorResult(t *testing.T) {
	_, errOut, result := interpret(t, "print ;")
	if result != InterpretCompileError {
		t.Fatalf("expected compile error, got %v", result)
	}
	if !strings.Contains(errOut, "Error") {
		t.Errorf("compile diagnostics missing: %q", errOut)
	}
}

func TestVMStatePersistsAcrossRuns(t *testing.T) {
	var out, errOut bytes.Buffer
	vm := New(&out, &errOut)

	if result := vm.Interpret("var x = 40;"); result != InterpretOK {
		t.Fatalf("first run failed: %s", errOut.String())
	}
	if result := vm.Interpret("print x + 2;"); result != InterpretOK {
		t.Fatalf("second run failed: %s", errOut.String())
	}
	if out.String() != "42\n" {
		t.Errorf("globals should persist, got %q", out.String())
	}
}
