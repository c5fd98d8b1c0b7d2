package wasmengine

import (
	"strings"
)

// AOTPath returns the filename spec.md §6 mandates for the AOT blob of a
// source component: "<dir>/<artifact_path>.wasm.<MODULE_VERSION>.aot".
func AOTPath(wasmPath string) string {
	return wasmPath + "." + ModuleVersion + ".aot"
}

// ParseAOTVersion extracts the MODULE_VERSION tag embedded in an AOT
// filename produced by AOTPath, or ("", false) if the name doesn't match
// the "<source>.wasm.<version>.aot" convention. The pool uses this to
// reject AOT files produced by a different engine version without opening
// them (spec.md §4.1: "a file whose version tag does not match is ignored
// and recompiled").
func ParseAOTVersion(aotPath string) (version string, ok bool) {
	const suffix = ".aot"
	if !strings.HasSuffix(aotPath, suffix) {
		return "", false
	}
	trimmed := strings.TrimSuffix(aotPath, suffix)
	idx := strings.LastIndex(trimmed, ".wasm.")
	if idx < 0 {
		return "", false
	}
	version = trimmed[idx+len(".wasm."):]
	if version == "" {
		return "", false
	}
	return version, true
}

// IsCurrentAOT reports whether aotPath was produced by this process's
// engine version.
func IsCurrentAOT(aotPath string) bool {
	v, ok := ParseAOTVersion(aotPath)
	return ok && v == ModuleVersion
}
