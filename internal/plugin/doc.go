// Package plugin compiles TypeScript/JSX applications at runtime and runs
// them inside the host without a restart.
//
// The Engine is the single entry point. Each gesture (run, save, startup
// discovery, a file watch event) goes through the same pipeline:
//
//	store.ReadText -> compiler.Compile -> realm.Loader.Import -> registry
//
// # Quick Start
//
//	eng, err := plugin.New(store.NewMemory(files), plugin.DefaultConfig(),
//	    plugin.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	defer eng.Shutdown(context.Background())
//
//	report, err := eng.Discover(ctx)
//	...
//	inst, err := eng.Run(ctx, "/apps/counter.tsx")
//	view, err := eng.View(ctx, inst.ID)
//
// # Plugin Source
//
// A plugin is one file whose default export is a class. Instances need a
// metadata property ({name, icon}) and may define header() and body(),
// returning markup. Three module names are provided by the host and never
// touch the network:
//
//	runnit/OSApp       OSApp base class and defineApp
//	react              createElement, Fragment and hooks
//	react/jsx-runtime  jsx, jsxs, Fragment
//
// Any other bare import fails to resolve. http(s) URLs are fetched when
// remote imports are enabled.
//
// # Error Containment
//
// Failures never escape as panics and never leave a window half-swapped:
//
//   - LoadPlugin reports the failure and registers nothing.
//   - HotSwap keeps the window's identity and installs an error stand-in
//     that shows the translated diagnostic.
//   - View renders a throwing header() or body() as an inline error.
//
// Diagnostics refer to the author's file, line and column: stacks are
// rewritten through the source map of the latest successful compile.
//
// # Identity
//
// Each window has a registry.StableID that survives hot swaps. Swaps for one
// identity are ordered by request; when two overlap the newest request wins.
package plugin
