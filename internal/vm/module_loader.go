package vm

import (
	"os"
	"path/filepath"

	"github.com/cmel-lang/cmel/internal/config"
	"github.com/cmel-lang/cmel/internal/stdlib"
)

// Module loading. A module executes exactly once, in its own globals
// namespace preloaded with the natives; its export declarations promote
// values into the exports table that importers copy from. Loaded modules
// are cached for the life of the VM.

// loadModule resolves, compiles and runs the module named by path,
// returning the cached module on repeat imports. Reports a runtime error
// and returns false on any failure.
func (vm *VM) loadModule(path *ObjString) (*ObjModule, bool) {
	if cached, ok := vm.modules.Get(path); ok {
		module, _ := cached.AsObj().(*ObjModule)
		return module, true
	}

	if vm.loading[path.Chars] {
		vm.RuntimeError("Circular import of module '%s'.", path.Chars)
		return nil, false
	}
	vm.loading[path.Chars] = true
	defer delete(vm.loading, path.Chars)

	source, found := vm.resolveModuleSource(path.Chars)
	if !found {
		vm.RuntimeError("Could not find module '%s'.", path.Chars)
		return nil, false
	}

	function := Compile(vm, source)
	if function == nil {
		vm.RuntimeError("Could not compile module '%s'.", path.Chars)
		return nil, false
	}

	vm.push(ObjValue(function))
	module := vm.newModule(path)
	vm.push(ObjValue(module))

	// The module body runs against the module's own globals; the previous
	// namespace and current module come back whatever happens inside.
	prevGlobals := vm.globals
	prevModule := vm.currentModule
	vm.globals = &module.Globals
	vm.currentModule = module
	vm.defineNatives(&module.Globals)

	closure := vm.newClosure(function)
	vm.pop() // module (still reachable through currentModule and closure)
	vm.pop() // function
	vm.push(ObjValue(closure))

	floor := vm.frameCount
	if !vm.call(closure, 0) {
		vm.globals = prevGlobals
		vm.currentModule = prevModule
		return nil, false
	}
	result := vm.run(floor)

	vm.globals = prevGlobals
	vm.currentModule = prevModule

	if result != InterpretOK {
		return nil, false
	}
	vm.pop() // the module body's return value

	vm.modules.Set(path, ObjValue(module))
	return module, true
}

// resolveModuleSource finds a module's source text: the filesystem first
// (script directory, then configured module paths), then the embedded
// standard library.
func (vm *VM) resolveModuleSource(name string) (string, bool) {
	fileName := name + config.SourceFileExt

	var candidates []string
	if vm.baseDir != "" {
		candidates = append(candidates, filepath.Join(vm.baseDir, fileName))
	} else {
		candidates = append(candidates, fileName)
	}
	for _, dir := range vm.modulePaths {
		candidates = append(candidates, filepath.Join(dir, fileName))
	}

	for _, candidate := range candidates {
		if data, err := os.ReadFile(candidate); err == nil {
			return string(data), true
		}
	}

	if source, ok := stdlib.Lookup(name); ok {
		return source, true
	}
	return "", false
}
