// Package taskio implements the per-request async-io coordinator (spec.md
// §3 AsyncTask, §4.3, C3): a small task table the guest uses to park on
// background work (timers, fire-and-forget callbacks) between the point it
// returns a streaming response and the point the host considers the request
// fully drained.
//
// Grounded on original_source/lib/wasm-host/src/hostcall/asyncio.rs's
// Context/Inner (a task map plus a single-waiter Notify), extended with the
// separate status/timing pair spec.md §3 requires — the original tracks only
// one completion flag per task, spec.md additionally distinguishes "no timer
// involved" from "timer still running" from "timer fired", which the
// original's sleep() folds into the single flag.
package taskio
