// Package realm provides the JavaScript runtime integration for plugins.
//
// This package wraps the goja library to provide:
//   - One sandboxed runtime (realm) per loaded artifact
//   - The capability bridge: application base class, UI framework binding
//     and markup runtime
//   - A structural adapter exposing plugin objects as app.Application
//   - Execution timeouts and call stack limits
//
// # Realm
//
// A Realm serializes access to its runtime:
//
//	r := realm.New(
//	    realm.WithExecutionTimeout(5 * time.Second),
//	    realm.WithLogger(logger),
//	)
//	defer r.Close()
//
//	err := r.Do(ctx, func(vm *goja.Runtime) error {
//	    _, err := vm.RunString("1 + 1")
//	    return err
//	})
//
// # Loader
//
// The Loader imports a compiled artifact into a fresh realm:
//
//	mod, err := loader.Import(ctx, artifact)
//	if err != nil {
//	    return err // *pluginerr.RuntimeInstantiationError
//	}
//	application, err := mod.Instantiate(ctx)
//
// The artifact is published in the ResourceTable only for the duration of
// the import. The bundled code is evaluated as the body of a function whose
// last parameter is the artifact's bridge key, so the bridge is reachable
// from plugin code only through the virtual modules.
//
// # Sandbox
//
// The sandbox removes eval and the global Function constructor and routes
// console output to the plugin logger. It is a containment aid, not a
// security boundary: plugins run with the privileges of the host process.
package realm
