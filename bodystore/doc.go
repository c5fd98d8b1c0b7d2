// Package bodystore implements the per-request HTTP body table (spec.md
// §3 BodyHandle, §4.2, C2). A Store holds every body object a single guest
// request touches: bodies installed whole (Owned), bodies read
// incrementally off the wire or off a guest write-stream (Streaming), and
// bodies a guest is actively writing to while the host simultaneously reads
// them (Sender).
//
// Grounded on original_source/lib/wasm-host/src/hostcall/context.rs's
// BodyContext: the same five maps (body, residual buffer, stream, sender,
// sender-closed), translated from axum::body::Body/BodyDataStream to Go's
// io.Reader, and from a tokio mpsc channel to a buffered Go channel.
package bodystore
