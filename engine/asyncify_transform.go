package engine

import "github.com/fuxiaohei/lol-serverless/asyncify"

// IsAsyncified checks if a WASM module has been asyncified.
var IsAsyncified = asyncify.IsAsyncified
