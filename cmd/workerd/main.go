// Command workerd is the HTTP entrypoint for the worker runtime: it wires
// wasmengine, worker.Pool and pipeline.Handler together behind net/http,
// the Go equivalent of original_source/crates/worker-server's binary.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fuxiaohei/lol-serverless/config"
	"github.com/fuxiaohei/lol-serverless/fetchpool"
	"github.com/fuxiaohei/lol-serverless/pipeline"
	"github.com/fuxiaohei/lol-serverless/wasmengine"
	"github.com/fuxiaohei/lol-serverless/worker"
)

func main() {
	wasmPath := flag.String("wasm", "", "Path to the wasm artifact to serve, relative to -file-dir")
	userProject := flag.String("user-project", "", "user-project identifier for envs.json lookup (e.g. acme-demo)")
	devLogging := flag.Bool("dev", false, "Use zap's development (console) logging instead of JSON")
	cfgFlags := config.RegisterFlags(flag.CommandLine)
	flag.Parse()
	cfg := cfgFlags.Resolve()

	if *wasmPath == "" {
		fmt.Fprintln(os.Stderr, "Usage: workerd -wasm <path> [-user-project user-project] [flags]")
		os.Exit(1)
	}

	log, err := newLogger(*devLogging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := wasmengine.Init(ctx, "workerd", wasmengine.Config{CacheDir: cfg.FileDir + "/.cache"})
	if err != nil {
		log.Fatal("init engine", zap.Error(err))
	}

	pool := worker.NewPool(eng, cfg.FileDir, log)
	fetch := fetchpool.New(nil)

	router := pipeline.NewStaticRouter(pipeline.RoutingInfo{
		WasmPath:    *wasmPath,
		UserProject: *userProject,
		AOTEnabled:  cfg.EnableAOT,
	})

	handler := pipeline.NewHandler(router, pool, fetch, pipeline.Config{
		EndpointName:   cfg.EndpointName,
		RequestTimeout: cfg.RequestTimeout,
	}, log)

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: handler,
	}

	log.Info("starting",
		zap.String("addr", cfg.ListenAddr),
		zap.String("wasm", *wasmPath),
		zap.Bool("aot", cfg.EnableAOT),
		zap.String("endpoint_name", cfg.EndpointName),
	)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Fatal("listen", zap.Error(err))
		}
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("shutdown", zap.Error(err))
		}
	}
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
