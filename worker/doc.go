// Package worker implements the worker template and pool (spec.md §4.6,
// §4.7, C6/C7): a Template pre-compiles one guest component's host linkage
// once, Pool.Acquire shares that work across concurrent callers requesting
// the same (path, aotEnabled) key.
//
// Grounded on original_source/lib/wasm-host/src/worker.rs (Worker::from_binary
// /from_aot/compile_aot/new) for Template, and the pool.rs referenced from
// it for the key/build-coalescing shape of Pool — realized here with
// golang.org/x/sync/singleflight instead of the original's hand-rolled
// in-progress-set, and the teacher's runtime.Module/Instance instead of
// wasmtime's Linker/InstancePre.
package worker
