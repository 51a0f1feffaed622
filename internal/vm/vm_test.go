package vm

import (
	"bytes"
	"strings"
	"testing"
)

// interpret runs source on a fresh VM and returns stdout, stderr and the
// interpreter result.
func interpret(t *testing.T, source string) (string, string, InterpretResult) {
	t.Helper()
	var out, errOut bytes.Buffer
	machine := New()
	machine.SetOutput(&out)
	machine.SetErrorOutput(&errOut)
	result := machine.Interpret(source)
	return out.String(), errOut.String(), result
}

// expectOutput asserts a clean run with exactly the given stdout.
func expectOutput(t *testing.T, source, want string) {
	t.Helper()
	out, errOut, result := interpret(t, source)
	if result != InterpretOK {
		t.Fatalf("interpret failed (%d); stderr:\n%s", result, errOut)
	}
	if out != want {
		t.Errorf("wrong output.\nsource:\n%s\ngot:\n%q\nwant:\n%q", source, out, want)
	}
}

// expectRuntimeError asserts the run fails at runtime with the given
// message at the head of stderr.
func expectRuntimeError(t *testing.T, source, message string) {
	t.Helper()
	_, errOut, result := interpret(t, source)
	if result != InterpretRuntimeError {
		t.Fatalf("expected runtime error, got result %d; stderr:\n%s", result, errOut)
	}
	if !strings.HasPrefix(errOut, message+"\n") {
		t.Errorf("wrong error.\ngot:\n%q\nwant prefix:\n%q", errOut, message)
	}
}

func TestLiteralsAndArithmetic(t *testing.T) {
	tests := []struct {
		source string
		want   string
	}{
		{"print 1;", "1\n"},
		{"print 1 + 2;", "3\n"},
		{"print 7 - 10;", "-3\n"},
		{"print 2 * 3 + 4;", "10\n"},
		{"print 2 + 3 * 4;", "14\n"},
		{"print (2 + 3) * 4;", "20\n"},
		{"print 10 / 4;", "2.5\n"},
		{"print 5 % 3;", "2\n"},
		{"print -5 + 3;", "-2\n"},
		{"print 1.5 + 2.25;", "3.75\n"},
		{"print nil;", "nil\n"},
		{"print true;", "true\n"},
		{"print false;", "false\n"},
		{"print !true;", "false\n"},
		{"print !nil;", "true\n"},
		{"print !0;", "false\n"},
	}
	for _, tt := range tests {
		expectOutput(t, tt.source, tt.want)
	}
}

func TestComparisonAndEquality(t *testing.T) {
	tests := []struct {
		source string
		want   string
	}{
		{"print 1 < 2;", "true\n"},
		{"print 2 <= 2;", "true\n"},
		{"print 3 > 4;", "false\n"},
		{"print 4 >= 4;", "true\n"},
		{"print 1 == 1;", "true\n"},
		{"print 1 != 2;", "true\n"},
		{"print nil == nil;", "true\n"},
		{"print nil == false;", "false\n"},
		{"print \"a\" == \"a\";", "true\n"},
		{"print \"a\" == \"b\";", "false\n"},
		{"print 1 == \"1\";", "false\n"},
		{"print true and false;", "false\n"},
		{"print true or false;", "true\n"},
		{"print nil or \"fallback\";", "fallback\n"},
		{"print false and 1;", "false\n"},
	}
	for _, tt := range tests {
		expectOutput(t, tt.source, tt.want)
	}
}

func TestStringConcatenation(t *testing.T) {
	tests := []struct {
		source string
		want   string
	}{
		{`print "foo" + "bar";`, "foobar\n"},
		{`print "Answer: " + 42;`, "Answer: 42\n"},
		{`print 42 + " is the answer";`, "42 is the answer\n"},
		{`print "v=" + true;`, "v=true\n"},
		{`print "v=" + nil;`, "v=nil\n"},
		{`print "pi=" + 3.5;`, "pi=3.5\n"},
	}
	for _, tt := range tests {
		expectOutput(t, tt.source, tt.want)
	}
}

func TestNumberPrintingRoundTrips(t *testing.T) {
	// Whole numbers survive a print/number round trip. 2^53 is the edge
	// of exact float64 integers.
	tests := []struct {
		source string
		want   string
	}{
		{"print 9007199254740992;", "9007199254740992\n"},
		{"print 0 - 9007199254740992;", "-9007199254740992\n"},
		{"print 123456789;", "123456789\n"},
		{"print number(\"9007199254740992\");", "9007199254740992\n"},
		{"print number(\"123\") + 1;", "124\n"},
	}
	for _, tt := range tests {
		expectOutput(t, tt.source, tt.want)
	}
}

func TestGlobalsAndLocals(t *testing.T) {
	tests := []struct {
		source string
		want   string
	}{
		{"var a = 1; print a;", "1\n"},
		{"var a = 1; a = 2; print a;", "2\n"},
		{"var a; print a;", "nil\n"},
		{"var a = 1; { var a = 2; print a; } print a;", "2\n1\n"},
		{"var a = 1; { var b = a + 1; print b; }", "2\n"},
		{"const c = 10; print c;", "10\n"},
		{"{ const c = 3; print c + 1; }", "4\n"},
	}
	for _, tt := range tests {
		expectOutput(t, tt.source, tt.want)
	}
}

func TestControlFlow(t *testing.T) {
	tests := []struct {
		source string
		want   string
	}{
		{"if (true) print \"yes\"; else print \"no\";", "yes\n"},
		{"if (false) print \"yes\"; else print \"no\";", "no\n"},
		{"if (0) print \"zero is truthy\";", "zero is truthy\n"},
		{"var i = 0; while (i < 3) { print i; i = i + 1; }", "0\n1\n2\n"},
		{"for (var i = 0; i < 3; i = i + 1) print i;", "0\n1\n2\n"},
		{"for (var i = 0; i < 10; i = i + 1) { if (i == 2) break; print i; }", "0\n1\n"},
	}
	for _, tt := range tests {
		expectOutput(t, tt.source, tt.want)
	}
}

func TestBreakInsideNestedLoops(t *testing.T) {
	source := `
for (var i = 0; i < 5; i = i + 1) { if (i == 3) break; print i; } print "end";
`
	expectOutput(t, source, "0\n1\n2\nend\n")
}

func TestBreakOnlyExitsInnerLoop(t *testing.T) {
	source := `
for (var i = 0; i < 2; i = i + 1) {
    for (var j = 0; j < 5; j = j + 1) {
        if (j == 1) break;
        print i + "," + j;
    }
}
print "done";
`
	expectOutput(t, source, "0,0\n1,0\ndone\n")
}

func TestBreakInsideWhile(t *testing.T) {
	source := `
var i = 0;
while (true) {
    if (i == 2) break;
    print i;
    i = i + 1;
}
print "after";
`
	expectOutput(t, source, "0\n1\nafter\n")
}

func TestFunctions(t *testing.T) {
	tests := []struct {
		source string
		want   string
	}{
		{"fun f() { return 1; } print f();", "1\n"},
		{"fun f(a, b) { return a + b; } print f(1, 2);", "3\n"},
		{"fun f() {} print f();", "nil\n"},
		{"fun f() { return; } print f();", "nil\n"},
		{"fun fib(n) { if (n < 2) return n; return fib(n - 1) + fib(n - 2); } print fib(10);", "55\n"},
		{"fun f() { return 1; } print f;", "<fn f>\n"},
		{"var double = fun(x) { return x * 2; }; print double(21);", "42\n"},
	}
	for _, tt := range tests {
		expectOutput(t, tt.source, tt.want)
	}
}

func TestClosuresAndUpvalues(t *testing.T) {
	source := `
fun outer() { var x = "outer"; fun inner() { print x; } return inner; }
outer()();
`
	expectOutput(t, source, "outer\n")
}

func TestClosuresShareUpvalues(t *testing.T) {
	source := `
fun makeCounter() {
    var count = 0;
    fun inc() { count = count + 1; return count; }
    fun get() { return count; }
    var pair = [inc, get];
    return pair;
}
var pair = makeCounter();
pair[0]();
pair[0]();
print pair[1]();
`
	expectOutput(t, source, "2\n")
}

func TestUpvaluesCloseAtScopeExit(t *testing.T) {
	source := `
var fns = [];
for (var i = 0; i < 3; i = i + 1) {
    var j = i;
    fns.add(fun() { return j; });
}
print fns[0]() + fns[1]() + fns[2]();
`
	expectOutput(t, source, "3\n")
}

func TestNoOpenUpvaluesAfterRun(t *testing.T) {
	var out bytes.Buffer
	machine := New()
	machine.SetOutput(&out)
	result := machine.Interpret(`
fun outer() { var x = 1; fun inner() { return x; } return inner; }
var f = outer();
print f();
`)
	if result != InterpretOK {
		t.Fatalf("interpret failed")
	}
	if machine.openUpvalues != nil {
		t.Errorf("open upvalues survived past their frames")
	}
}

func TestClasses(t *testing.T) {
	tests := []struct {
		source string
		want   string
	}{
		{"class A {} print A;", "A\n"},
		{"class A {} print A();", "A instance\n"},
		{"class A { hi() { print \"hi\"; } } A().hi();", "hi\n"},
		{"class A { init(v) { this.v = v; } get() { return this.v; } } print A(7).get();", "7\n"},
		{"class A {} var a = A(); a.field = 9; print a.field;", "9\n"},
		{"class A { m() { return 1; } } var a = A(); a.m = fun() { return 2; }; print a.m();", "2\n"},
	}
	for _, tt := range tests {
		expectOutput(t, tt.source, tt.want)
	}
}

func TestInheritanceAndSuper(t *testing.T) {
	source := `
class Animal {
    speak() { return "..."; }
    describe() { return "an animal says " + this.speak(); }
}
class Dog < Animal {
    speak() { return "woof"; }
    describe() { return super.describe() + "!"; }
}
print Dog().describe();
`
	expectOutput(t, source, "an animal says woof!\n")
}

func TestMethodsBindThis(t *testing.T) {
	source := `
class Counter {
    init() { this.n = 0; }
    bump() { this.n = this.n + 1; return this.n; }
}
var c = Counter();
var bound = c.bump;
bound();
bound();
print c.n;
`
	expectOutput(t, source, "2\n")
}

func TestLists(t *testing.T) {
	tests := []struct {
		source string
		want   string
	}{
		{"print [1, 2, 3];", "[1, 2, 3]\n"},
		{"print [];", "[]\n"},
		{"var l = [1, 2, 3]; print l[0] + l[2];", "4\n"},
		{"var l = [1, 2, 3]; l[1] = 9; print l;", "[1, 9, 3]\n"},
		{"var l = [1]; l.add(2); print l;", "[1, 2]\n"},
		{"print [1, 2, 3].length();", "3\n"},
		{"print [[1, 2], [3]][0][1];", "2\n"},
		{"print [1, \"two\", nil, true];", "[1, two, nil, true]\n"},
	}
	for _, tt := range tests {
		expectOutput(t, tt.source, tt.want)
	}
}

func TestMapOperations(t *testing.T) {
	source := `var m = {"a": 1, "b": 2}; m["c"] = 3; print m.has("b"); print m["z"];`
	expectOutput(t, source, "true\nnil\n")
}

func TestMapLiteralsAndAccess(t *testing.T) {
	tests := []struct {
		source string
		want   string
	}{
		{`var m = {"k": 41}; print m["k"] + 1;`, "42\n"},
		{`var m = {k: 41}; print m["k"] + 1;`, "42\n"},
		{`var m = {}; m["x"] = 1; m["x"] = 2; print m["x"];`, "2\n"},
		{`var m = {"a": 1}; print m.length();`, "1\n"},
		{`var m = {"a": 1}; m.remove("a"); print m.has("a");`, "false\n"},
	}
	for _, tt := range tests {
		expectOutput(t, tt.source, tt.want)
	}
}

func TestMapLaws(t *testing.T) {
	source := `
var m = {"a": 1, "b": 2};
print m.has("a") == m.keys().contains("a");
print m.has("zzz") == m.keys().contains("zzz");
print m.values().length() == m.length();
`
	expectOutput(t, source, "true\ntrue\ntrue\n")
}

func TestListLaws(t *testing.T) {
	source := `
var l = [1, 2, 3, 4];
var back = l.reverse().reverse();
var same = true;
for (var i = 0; i < l.length(); i = i + 1) {
    if (l[i] != back[i]) same = false;
}
print same;
`
	expectOutput(t, source, "true\n")
}

func TestStackTraceFormat(t *testing.T) {
	source := `fun c() { return c(1); }
fun b() { c(); }
fun a() { b(); }
a();`
	_, errOut, result := interpret(t, source)
	if result != InterpretRuntimeError {
		t.Fatalf("expected runtime error, got %d", result)
	}
	want := "Expected 0 arguments but got 1.\n" +
		"[line 1] in c\n" +
		"[line 2] in b\n" +
		"[line 3] in a\n" +
		"[line 4] in script\n"
	if errOut != want {
		t.Errorf("wrong trace.\ngot:\n%q\nwant:\n%q", errOut, want)
	}
}

func TestRuntimeErrors(t *testing.T) {
	tests := []struct {
		source  string
		message string
	}{
		{"print x;", "Undefined variable 'x'."},
		{"x = 1;", "Undefined variable 'x'"},
		{"print 1 + nil;", "Operands must be two numbers or two strings."},
		{"print -\"s\";", "Operand must be a number."},
		{"print nil < 1;", "Operands must be numbers."},
		{"nil();", "Can only call functions and classes."},
		{"fun f(a) {} f();", "Expected 1 arguments but got 0."},
		{"class A {} A(1);", "Expected 0 arguments but got 1."},
		{"print true.foo;", "Only instances have properties"},
		{"true.foo = 1;", "Only instances have fields"},
		{"class A {} print A().missing;", "Undefined property 'missing'."},
		{"var l = [1]; print l[3];", "Index out of range."},
		{"var l = [1]; print l[\"a\"];", "Index value must be a number."},
		{"print 1[0];", "Can only index into lists and maps."},
		{"var m = {}; var k = 1; m[k] = 2;", "Map key must be a string."},
		{"class B {} class C < B {} var x = 1; class D < x {}", "Superclass must be a class."},
		{"export var v = 1;", "Cannot export outside of a module."},
		{"fun f() { f(); } f();", "Stack overflow."},
	}
	for _, tt := range tests {
		expectRuntimeError(t, tt.source, tt.message)
	}
}

func TestDivisionByZeroFollowsIEEE(t *testing.T) {
	tests := []struct {
		source string
		want   string
	}{
		{"print 1 / 0;", "+Inf\n"},
		{"print -1 / 0;", "-Inf\n"},
		{"print (1 / 0) > 0;", "true\n"},
	}
	for _, tt := range tests {
		expectOutput(t, tt.source, tt.want)
	}
}

func TestComparisonNegationSemantics(t *testing.T) {
	// <= is compiled as !(a > b) and >= as !(a < b), so NaN compares
	// "equal-or-less" both ways.
	source := `
var nan = 0 / 0;
print nan <= 1;
print nan >= 1;
print nan < 1;
print nan == nan;
`
	expectOutput(t, source, "true\ntrue\nfalse\nfalse\n")
}

func TestStringInterning(t *testing.T) {
	var out bytes.Buffer
	machine := New()
	machine.SetOutput(&out)
	result := machine.Interpret(`var a = "he" + "llo"; var b = "hel" + "lo"; print a == b;`)
	if result != InterpretOK {
		t.Fatalf("interpret failed")
	}
	if out.String() != "true\n" {
		t.Errorf("content-equal strings are not identity-equal: %q", out.String())
	}
}

func TestConstantLongForm(t *testing.T) {
	// More than 256 distinct literals in one chunk forces the 24-bit
	// constant form.
	var b strings.Builder
	for i := 0; i < 300; i++ {
		b.WriteString("print \"s")
		for j := 0; j < i%7+1; j++ {
			b.WriteByte(byte('a' + i%26))
		}
		b.WriteString("\" + 1 + 0.5;\n")
	}
	out, errOut, result := interpret(t, b.String())
	if result != InterpretOK {
		t.Fatalf("interpret failed; stderr:\n%s", errOut)
	}
	if len(strings.Split(strings.TrimRight(out, "\n"), "\n")) != 300 {
		t.Errorf("expected 300 output lines")
	}
}

func TestREPLStyleReuse(t *testing.T) {
	// Globals persist across Interpret calls on one VM.
	var out bytes.Buffer
	machine := New()
	machine.SetOutput(&out)
	machine.SetErrorOutput(&out)
	if machine.Interpret("var x = 1;") != InterpretOK {
		t.Fatalf("first line failed")
	}
	if machine.Interpret("x = x + 1;") != InterpretOK {
		t.Fatalf("second line failed")
	}
	out.Reset()
	if machine.Interpret("print x;") != InterpretOK {
		t.Fatalf("third line failed")
	}
	if out.String() != "2\n" {
		t.Errorf("got %q, want %q", out.String(), "2\n")
	}
}
