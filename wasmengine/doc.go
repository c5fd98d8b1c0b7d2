// Package wasmengine is the process-wide Wasm engine registry (spec.md §4.1,
// C1). It wraps the teacher engine package's wazero integration with the
// worker-runtime-specific pieces spec.md asks for: a named singleton
// registry, a MODULE_VERSION tag, and AOT filename conventions so cached
// artifacts are invalidated whenever the engine changes.
package wasmengine
