package vm

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeModule drops a .cmel file into dir.
func writeModule(t *testing.T, dir, name, source string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name+".cmel"), []byte(source), 0644); err != nil {
		t.Fatal(err)
	}
}

// interpretIn runs source with imports resolving against dir.
func interpretIn(t *testing.T, dir, source string) (string, string, InterpretResult) {
	t.Helper()
	var out, errOut bytes.Buffer
	machine := New()
	machine.SetOutput(&out)
	machine.SetErrorOutput(&errOut)
	machine.SetBaseDir(dir)
	result := machine.Interpret(source)
	return out.String(), errOut.String(), result
}

func TestImportFrom(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "lib", `
export var V = 1;
fun hidden() { return V; }
`)

	out, errOut, result := interpretIn(t, dir, `import V from "lib"; print V;`)
	if result != InterpretOK {
		t.Fatalf("interpret failed; stderr:\n%s", errOut)
	}
	if out != "1\n" {
		t.Errorf("got %q, want %q", out, "1\n")
	}
}

func TestModuleIsolationHidesUnexported(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "lib", `
export var V = 1;
fun hidden() { return V; }
`)

	_, errOut, result := interpretIn(t, dir, `import V from "lib"; hidden();`)
	if result != InterpretRuntimeError {
		t.Fatalf("unexported function should not be callable from the importer")
	}
	if !strings.HasPrefix(errOut, "Undefined variable 'hidden'.") {
		t.Errorf("wrong error: %q", errOut)
	}
}

func TestImportAllExports(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "shapes", `
export fun area(w, h) { return w * h; }
export const UNIT = 1;
var internal = 99;
`)

	out, errOut, result := interpretIn(t, dir, `
import "shapes";
print area(3, 4);
print UNIT;
`)
	if result != InterpretOK {
		t.Fatalf("interpret failed; stderr:\n%s", errOut)
	}
	if out != "12\n1\n" {
		t.Errorf("got %q", out)
	}

	_, _, result = interpretIn(t, dir, `import "shapes"; print internal;`)
	if result != InterpretRuntimeError {
		t.Errorf("unexported variable leaked into the importer")
	}
}

func TestModuleBodyRunsOnce(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "noisy", `
print "loading";
export var X = 1;
`)

	out, errOut, result := interpretIn(t, dir, `
import "noisy";
import "noisy";
import X from "noisy";
print X;
`)
	if result != InterpretOK {
		t.Fatalf("interpret failed; stderr:\n%s", errOut)
	}
	if out != "loading\n1\n" {
		t.Errorf("module body ran more than once: %q", out)
	}
}

func TestModuleFunctionsReadModuleGlobals(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "counter", `
var count = 0;
export fun bump() { count = count + 1; return count; }
`)

	out, errOut, result := interpretIn(t, dir, `
import bump from "counter";
bump();
bump();
print bump();
`)
	if result != InterpretOK {
		t.Fatalf("interpret failed; stderr:\n%s", errOut)
	}
	if out != "3\n" {
		t.Errorf("module state not shared across calls: %q", out)
	}
}

func TestModuleGlobalsDoNotLeakIntoScript(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "leaky", `
var secret = 42;
export var visible = 1;
`)

	_, _, result := interpretIn(t, dir, `import "leaky"; print secret;`)
	if result != InterpretRuntimeError {
		t.Errorf("module-internal global visible in the importer")
	}
}

func TestImportFromMissingName(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "lib", `export var V = 1;`)

	_, errOut, result := interpretIn(t, dir, `import W from "lib";`)
	if result != InterpretRuntimeError {
		t.Fatalf("expected runtime error")
	}
	if !strings.HasPrefix(errOut, "Module 'lib' has no exported name 'W'.") {
		t.Errorf("wrong error: %q", errOut)
	}
}

func TestMissingModule(t *testing.T) {
	dir := t.TempDir()
	_, errOut, result := interpretIn(t, dir, `import "nowhere";`)
	if result != InterpretRuntimeError {
		t.Fatalf("expected runtime error")
	}
	if !strings.HasPrefix(errOut, "Could not find module 'nowhere'.") {
		t.Errorf("wrong error: %q", errOut)
	}
}

func TestCircularImport(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "a", `import "b"; export var A = 1;`)
	writeModule(t, dir, "b", `import "a"; export var B = 2;`)

	_, errOut, result := interpretIn(t, dir, `import "a";`)
	if result != InterpretRuntimeError {
		t.Fatalf("expected runtime error")
	}
	if !strings.Contains(errOut, "Circular import of module 'a'.") {
		t.Errorf("wrong error: %q", errOut)
	}
}

func TestModuleCompileErrorPropagates(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "broken", `var = ;`)

	_, errOut, result := interpretIn(t, dir, `import "broken";`)
	if result != InterpretRuntimeError {
		t.Fatalf("expected runtime error")
	}
	if !strings.Contains(errOut, "Could not compile module 'broken'.") {
		t.Errorf("wrong error: %q", errOut)
	}
}

func TestExportReflectsValueAtExportTime(t *testing.T) {
	dir := t.TempDir()
	// The export runs after the binding, reading the global by name: a
	// later mutation does not change what was exported... but a mutation
	// *between* binding and export would. Exports snapshot at their own
	// execution point.
	writeModule(t, dir, "snap", `
export var V = 1;
V = 2;
`)

	out, errOut, result := interpretIn(t, dir, `import V from "snap"; print V;`)
	if result != InterpretOK {
		t.Fatalf("interpret failed; stderr:\n%s", errOut)
	}
	if out != "1\n" {
		t.Errorf("got %q, want %q", out, "1\n")
	}
}

func TestExportedValueMatchesModuleGlobalAtExport(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "inv", `export var V = [1, 2];`)

	var out bytes.Buffer
	machine := New()
	machine.SetOutput(&out)
	machine.SetErrorOutput(&out)
	machine.SetBaseDir(dir)
	if machine.Interpret(`import "inv";`) != InterpretOK {
		t.Fatalf("interpret failed: %s", out.String())
	}

	cached, ok := machine.modules.Get(machine.internString("inv"))
	if !ok {
		t.Fatalf("module not cached")
	}
	module := cached.AsObj().(*ObjModule)
	name := machine.internString("V")
	exported, _ := module.Exports.Get(name)
	global, _ := module.Globals.Get(name)
	if !exported.IsObj() || exported.AsObj() != global.AsObj() {
		t.Errorf("export is not identical to the module global")
	}
}

func TestNestedImports(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "inner", `export var BASE = 10;`)
	writeModule(t, dir, "outer", `
import BASE from "inner";
export fun scaled(n) { return BASE * n; }
`)

	out, errOut, result := interpretIn(t, dir, `
import scaled from "outer";
print scaled(4);
`)
	if result != InterpretOK {
		t.Fatalf("interpret failed; stderr:\n%s", errOut)
	}
	if out != "40\n" {
		t.Errorf("got %q", out)
	}
}

func TestEmbeddedStdlibMath(t *testing.T) {
	out, errOut, result := interpret(t, `
import abs, max, min from "stdlib/math";
print abs(0 - 3);
print max(2, 7);
print min(2, 7);
`)
	if result != InterpretOK {
		t.Fatalf("interpret failed; stderr:\n%s", errOut)
	}
	if out != "3\n7\n2\n" {
		t.Errorf("got %q", out)
	}
}

func TestFilesystemShadowsEmbeddedStdlib(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "stdlib"), 0755); err != nil {
		t.Fatal(err)
	}
	writeModule(t, dir, filepath.Join("stdlib", "math"), `export fun abs(n) { return 999; }`)

	out, errOut, result := interpretIn(t, dir, `
import abs from "stdlib/math";
print abs(1);
`)
	if result != InterpretOK {
		t.Fatalf("interpret failed; stderr:\n%s", errOut)
	}
	if out != "999\n" {
		t.Errorf("filesystem module did not take precedence: %q", out)
	}
}

func TestModulePathsSearchOrder(t *testing.T) {
	base := t.TempDir()
	extra := t.TempDir()
	writeModule(t, extra, "vendored", `export var WHERE = "extra";`)

	var out, errOut bytes.Buffer
	machine := New()
	machine.SetOutput(&out)
	machine.SetErrorOutput(&errOut)
	machine.SetBaseDir(base)
	machine.SetModulePaths([]string{extra})
	if machine.Interpret(`import WHERE from "vendored"; print WHERE;`) != InterpretOK {
		t.Fatalf("interpret failed; stderr:\n%s", errOut.String())
	}
	if out.String() != "extra\n" {
		t.Errorf("got %q", out.String())
	}
}
