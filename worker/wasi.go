package worker

import (
	"github.com/fuxiaohei/lol-serverless/errors"
	"github.com/fuxiaohei/lol-serverless/runtime"
	"github.com/fuxiaohei/lol-serverless/wasi/preview2"
	"github.com/fuxiaohei/lol-serverless/wasi/preview2/cli"
	"github.com/fuxiaohei/lol-serverless/wasi/preview2/clocks"
	"github.com/fuxiaohei/lol-serverless/wasi/preview2/io"
	"github.com/fuxiaohei/lol-serverless/wasi/preview2/random"
)

// registerStdioWASI links the subset of WASI preview2 a worker guest needs
// to run: io/clocks/random (dependencies of the stream and poll types) and
// cli's environment/exit/stdio. It deliberately omits
// wasi:filesystem/wasi:sockets/wasi:http — SPEC_FULL.md §6.6 scopes worker
// guests to "no guest-visible filesystem access beyond inherited standard
// streams", and outbound networking goes through this runtime's own
// http.fetch ABI (hostctx.FetchHost), not wasi:http. Grounded on
// runtime.RegisterWASI's own registration order, minus the filesystem,
// sockets, and http sections, mirroring
// original_source/lib/wasm-host/src/worker.rs's
// wasmtime_wasi::add_to_linker_async (stdio preview2 only, no
// preopened dirs).
func registerStdioWASI(rt *runtime.Runtime, wasi *preview2.WASI) error {
	resources := wasi.Resources()

	register := func(h runtime.Host, namespace string) error {
		if err := rt.RegisterHost(h); err != nil {
			return errors.Registration(errors.PhaseHost, namespace, "host", err)
		}
		return nil
	}

	ioHost := io.NewHost(resources)
	if err := register(ioHost.Error, "wasi:io/error"); err != nil {
		return err
	}
	if err := register(ioHost.Poll, "wasi:io/poll"); err != nil {
		return err
	}
	if err := register(ioHost.Streams, "wasi:io/streams"); err != nil {
		return err
	}
	if err := register(clocks.NewMonotonicClockHost(resources), "wasi:clocks/monotonic-clock"); err != nil {
		return err
	}
	if err := register(clocks.NewWallClockHost(), "wasi:clocks/wall-clock"); err != nil {
		return err
	}
	if err := register(random.NewSecureRandomHost(), "wasi:random/random"); err != nil {
		return err
	}
	if err := register(random.NewInsecureRandomHost(), "wasi:random/insecure"); err != nil {
		return err
	}
	if err := register(random.NewInsecureSeedHost(), "wasi:random/insecure-seed"); err != nil {
		return err
	}
	if err := register(cli.NewEnvironmentHost(wasi.Env(), wasi.Args(), wasi.Cwd()), "wasi:cli/environment"); err != nil {
		return err
	}
	if err := register(cli.NewExitHost(), "wasi:cli/exit"); err != nil {
		return err
	}
	if err := register(cli.NewStdioHost(resources, wasi.Stdin(), wasi.StdoutResource(), wasi.StderrResource()), "wasi:cli/stdin"); err != nil {
		return err
	}
	if err := register(cli.NewStdoutHost(resources, wasi.StdoutResource()), "wasi:cli/stdout"); err != nil {
		return err
	}
	if err := register(cli.NewStderrHost(resources, wasi.StderrResource()), "wasi:cli/stderr"); err != nil {
		return err
	}
	if err := register(cli.NewTerminalStdinHost(), "wasi:cli/terminal-stdin"); err != nil {
		return err
	}
	if err := register(cli.NewTerminalStdoutHost(), "wasi:cli/terminal-stdout"); err != nil {
		return err
	}
	if err := register(cli.NewTerminalStderrHost(), "wasi:cli/terminal-stderr"); err != nil {
		return err
	}

	return nil
}
