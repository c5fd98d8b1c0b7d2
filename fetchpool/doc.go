// Package fetchpool provides the three process-wide HTTP clients the guest
// fetch ABI dispatches through, one per redirect policy (spec.md §3
// RedirectPolicy, §4.4, C4).
//
// Grounded on original_source/crates/wasm-host/src/hostcall/client.rs: three
// reqwest::Client values built once behind a sync.Once, keyed by
// redirect::Policy. Go's net/http has no first-class redirect-policy enum,
// so the three variants are realized as three http.Client values sharing one
// http.Transport and differing only in CheckRedirect.
package fetchpool
