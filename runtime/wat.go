package runtime

import (
	"context"

	"github.com/fuxiaohei/lol-serverless/errors"
	"github.com/fuxiaohei/lol-serverless/wat"
)

func (r *Runtime) LoadWAT(ctx context.Context, watText, witTypes string) (*Module, error) {
	wasm, err := wat.Compile(watText)
	if err != nil {
		return nil, errors.ParseFailed("WAT", err)
	}

	return r.LoadWASM(ctx, wasm, witTypes)
}
