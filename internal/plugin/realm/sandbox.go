package realm

import (
	"strings"

	"github.com/dop251/goja"
	"github.com/hashicorp/go-hclog"
)

// removedGlobals are deleted from every realm.
var removedGlobals = []string{
	"eval",     // Evaluate string as code
	"Function", // Construct function from string
}

// blockConstructors replaces the constructor reachable from every kind of
// function value, so (function () {}).constructor("...") cannot recover
// Function after it is deleted.
var blockConstructors = goja.MustCompile("runnit:sandbox", `(function (blocked) {
  var sources = [
    "return function () {}",
    "return function* () {}",
    "return async function () {}",
    "return async function* () {}",
  ];
  for (var i = 0; i < sources.length; i++) {
    var proto;
    try {
      proto = Object.getPrototypeOf(Function(sources[i])());
    } catch (e) {
      continue;
    }
    Object.defineProperty(proto, "constructor", {
      value: blocked, writable: true, enumerable: false, configurable: true,
    });
  }
})`, true)

// installSandbox removes the ways to evaluate strings as code and routes
// console output to logger. It keeps plugins from doing so by accident; it
// is not a security boundary.
func installSandbox(vm *goja.Runtime, logger hclog.Logger) {
	blocked := vm.ToValue(func(goja.FunctionCall) goja.Value {
		panic(vm.NewTypeError(ErrCodeGeneration.Error()))
	})
	if fn, err := vm.RunProgram(blockConstructors); err == nil {
		if seal, ok := goja.AssertFunction(fn); ok {
			if _, err := seal(goja.Undefined(), blocked); err != nil {
				logger.Warn("sandbox: blocking function constructors failed", "error", err)
			}
		}
	}

	global := vm.GlobalObject()
	for _, name := range removedGlobals {
		_ = global.Delete(name)
	}
	installConsole(vm, logger)
}

// installConsole routes console.* to logger.
func installConsole(vm *goja.Runtime, logger hclog.Logger) {
	console := vm.NewObject()

	emit := func(level hclog.Level) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, arg := range call.Arguments {
				parts[i] = formatValue(arg)
			}
			logger.Log(level, strings.Join(parts, " "))
			return goja.Undefined()
		}
	}

	_ = console.Set("log", emit(hclog.Info))
	_ = console.Set("info", emit(hclog.Info))
	_ = console.Set("debug", emit(hclog.Debug))
	_ = console.Set("trace", emit(hclog.Trace))
	_ = console.Set("warn", emit(hclog.Warn))
	_ = console.Set("error", emit(hclog.Error))
	_ = vm.Set("console", console)
}

// formatValue renders a value for console output. Plain objects are shown
// as JSON when they serialize.
func formatValue(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if goja.IsNull(v) {
		return "null"
	}
	if obj, ok := v.(*goja.Object); ok && obj.ClassName() == "Object" {
		if b, err := obj.MarshalJSON(); err == nil {
			return string(b)
		}
	}
	return v.String()
}
