package errors

// Typed errors returned across the guest ABI boundary (spec.md §6, §7).
// These mirror the BodyError and crypto Error variants of the original
// land_sdk (original_source/crates/sdk/src/crypto/mod.rs,
// original_source/lib/wasm-host/src/hostcall/context.rs) instead of the
// generic component-model errors above: a guest decodes these by Kind, not
// by Detail string.

// InvalidHandle creates a body-ABI "handle does not exist" error.
func InvalidHandle(handle uint32) *Error {
	return &Error{
		Phase:  PhaseBody,
		Kind:   KindInvalidHandle,
		Detail: "invalid body handle",
		Value:  handle,
	}
}

// ReadFailed wraps an underlying stream read failure for the guest.
func ReadFailed(cause error) *Error {
	return &Error{
		Phase:  PhaseBody,
		Kind:   KindReadFailed,
		Detail: cause.Error(),
		Cause:  cause,
	}
}

// ReadOnly reports a write attempted against a non-Sender body.
func ReadOnly(handle uint32) *Error {
	return &Error{
		Phase:  PhaseBody,
		Kind:   KindReadOnly,
		Detail: "handle is not writable",
		Value:  handle,
	}
}

// WriteClosed reports a write to a handle whose sender already finished.
func WriteClosed(handle uint32) *Error {
	return &Error{
		Phase:  PhaseBody,
		Kind:   KindWriteClosed,
		Detail: "sender is closed",
		Value:  handle,
	}
}

// WriteFailed reports back-pressure or channel failure ("channel full",
// "channel closed"), per spec.md §4.2.
func WriteFailed(reason string) *Error {
	return &Error{
		Phase:  PhaseBody,
		Kind:   KindWriteFailed,
		Detail: reason,
	}
}

// InvalidAlgorithm reports an unsupported sha/hmac algorithm name.
func InvalidAlgorithm(alg string) *Error {
	return &Error{
		Phase:  PhaseCrypto,
		Kind:   KindInvalidAlgorithm,
		Detail: alg,
	}
}

// InvalidKey reports an hmac key that does not suit the chosen algorithm.
func InvalidKey() *Error {
	return &Error{
		Phase:  PhaseCrypto,
		Kind:   KindInvalidKey,
		Detail: "invalid key",
	}
}

// InvalidHash reports a hash name unsupported for the requested operation.
func InvalidHash(hash string) *Error {
	return &Error{
		Phase:  PhaseCrypto,
		Kind:   KindInvalidHash,
		Detail: hash,
	}
}

// Timeout reports a blocking async-io wait that exceeded its deadline.
func Timeout(op string, cause error) *Error {
	return &Error{
		Phase:  PhaseAsync,
		Kind:   KindTimeout,
		Detail: op,
		Cause:  cause,
	}
}
