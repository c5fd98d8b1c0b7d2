// Package hostctx wires the per-request bodystore/taskio/fetchpool state
// (C2-C4) into the teacher's runtime.Host registration surface (C5). Context
// is the single owner of a request's Store and Coordinator — handles are
// plain uint32 values, never pointers, so there is no cyclic ownership
// between Context, BodyStore and the async coordinator (spec.md §9).
//
// Grounded on original_source/lib/wasm-host/src/hostcall/context.rs and
// mod.rs, which register the same four surfaces (body, asyncio, fetch,
// crypto) against wasmtime's Linker; here each surface is a small struct
// implementing runtime.Host, registered against a runtime.HostRegistry.
package hostctx
