package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
)

// Set via -ldflags at build time:
//
//	go build -ldflags "-X main.version=0.1.0 -X main.commit=$(git rev-parse --short HEAD)" -o hypermind ./cmd/hypermind
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	configFlag := flag.String("config", "", "path to optional YAML override file")
	versionFlag := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *versionFlag {
		printVersion()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())

	rt, err := newNodeRuntime(*configFlag)
	if err != nil {
		cancel()
		fatal("hypermind: failed to initialize: %v", err)
	}

	if err := rt.Start(ctx); err != nil {
		cancel()
		fatal("hypermind: failed to start: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("hypermind: received signal, shutting down", "signal", sig)
	case <-ctx.Done():
	}

	rt.Shutdown(cancel)
	osExit(0)
}

func printVersion() {
	fmt.Printf("hypermind %s (%s)\n", version, commit)
	fmt.Printf("Go %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
