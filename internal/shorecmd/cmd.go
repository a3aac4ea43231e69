// Package shorecmd is the CLI entry point for the shore peer.
package shorecmd

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/Polqt/shipproxy/internal/config"
	"github.com/Polqt/shipproxy/internal/obs"
	"github.com/Polqt/shipproxy/internal/shore"
)

// Run parses args and starts the shore peer. Subcommands: run (default),
// inspect, version.
func Run(args []string) error {
	if len(args) == 0 {
		return runShore(nil)
	}
	switch args[0] {
	case "run":
		return runShore(args[1:])
	case "inspect":
		return runInspect(args[1:])
	case "version":
		fmt.Println("shipproxy-shore v0.1.0")
		return nil
	default:
		return fmt.Errorf("unknown command %q — try: run, inspect, version", args[0])
	}
}

func runShore(args []string) error {
	fs := flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	configPath := fs.String("config", "shore.yaml", "path to the YAML config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.LoadShore(*configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log := obs.NewLogger("shore")
	metrics := obs.NewMetrics("shore")

	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.ListenAddr, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dispatcher := shore.NewDispatcher(cfg, log, metrics)
	sl := shore.NewListener(dispatcher, log, metrics)

	go func() {
		if err := obs.ServeAdmin(ctx, cfg.AdminAddr, metrics, log); err != nil {
			log.Error("admin server failed", "error", err)
		}
	}()

	log.Info("shore listening", "addr", cfg.ListenAddr)

	serveErr := make(chan error, 1)
	go func() { serveErr <- sl.Serve(ctx, listener) }()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	log.Info("shutdown signal received")
	listener.Close()
	return nil
}

// runInspect does not fetch metrics itself; it only prints the URL of the
// admin HTTP server's /metrics endpoint.
func runInspect(args []string) error {
	fs := flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	configPath := fs.String("config", "shore.yaml", "path to the YAML config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.LoadShore(*configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	fmt.Printf("inspect is deprecated — curl http://%s/metrics instead\n", cfg.AdminAddr)
	return nil
}
